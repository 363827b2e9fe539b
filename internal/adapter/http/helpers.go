package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/revclaw/revclaw/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, domain.CodeInvalidRequest, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// bearerToken extracts the Authorization bearer credential.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	tok := strings.TrimPrefix(h, "Bearer ")
	if tok == h {
		return ""
	}
	return tok
}

// errorResponse is the wire shape of every error body. Bots branch on
// Code; Error is for humans.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeCoded maps service and domain errors onto the wire taxonomy.
// Internal errors are logged server-side and returned generic.
func writeCoded(w http.ResponseWriter, err error) {
	coded := domain.AsCoded(err)
	if coded.Status >= http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, coded.Status, coded.Code, coded.Message)
}
