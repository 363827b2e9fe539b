package http

import (
	"net/http"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/middleware"
)

// CreateIntent handles POST /api/v1/intents. Bot-authenticated; the
// payload hash is locked at creation and checked again at execution.
func (h *Handlers) CreateIntent(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AgentFromContext(r.Context())
	if ac == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
		return
	}

	req, ok := readJSON[intent.CreateRequest](w, r)
	if !ok {
		return
	}

	i, err := h.Intents.Create(r.Context(), ac, &req)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, i)
}

// ListIntents handles GET /api/v1/intents for the session user, with an
// optional ?status= filter.
func (h *Handlers) ListIntents(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	status := intent.Status(r.URL.Query().Get("status"))
	intents, err := h.Intents.ListForUser(r.Context(), claims.UserID, status)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intents": intents})
}

// GetIntent handles GET /api/v1/intents/{id}.
func (h *Handlers) GetIntent(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	i, err := h.Intents.GetForUser(r.Context(), urlParam(r, "id"), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, i)
}

// ApproveIntent handles POST /api/v1/intents/{id}/approve. Approval
// locks the payload hash so post-approval mutation voids the decision.
func (h *Handlers) ApproveIntent(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	i, err := h.Intents.Approve(r.Context(), urlParam(r, "id"), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, i)
}

type denyIntentRequest struct {
	Reason string `json:"reason,omitempty"`
}

// DenyIntent handles POST /api/v1/intents/{id}/deny.
func (h *Handlers) DenyIntent(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	var req denyIntentRequest
	if r.ContentLength > 0 {
		var ok bool
		if req, ok = readJSON[denyIntentRequest](w, r); !ok {
			return
		}
	}

	i, err := h.Intents.Deny(r.Context(), urlParam(r, "id"), claims.UserID, req.Reason)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, i)
}
