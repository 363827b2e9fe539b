package http

import (
	"net/http"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/auth/login and returns the session JWT.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[loginRequest](w, r)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "email and password are required")
		return
	}

	token, u, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// Deliberately uniform: no hint whether the email exists.
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": u})
}

// GetCurrentUser handles GET /api/v1/auth/me.
func (h *Handlers) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}
	writeJSON(w, http.StatusOK, claims)
}
