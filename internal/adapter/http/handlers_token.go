package http

import (
	"net/http"
	"strconv"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/middleware"
)

type exchangeRequest struct {
	ExchangeCode string `json:"exchange_code"`
}

// ExchangeToken handles POST /api/v1/tokens. Consumes a PENDING exchange
// code and returns the access/refresh pair, plaintexts exactly once.
func (h *Handlers) ExchangeToken(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[exchangeRequest](w, r)
	if !ok {
		return
	}
	if req.ExchangeCode == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "exchange_code is required")
		return
	}

	pair, err := h.Tokens.Exchange(r.Context(), req.ExchangeCode)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken handles POST /api/v1/tokens/refresh. The old refresh
// token is consumed atomically with issuing the replacement pair.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[refreshRequest](w, r)
	if !ok {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "refresh_token is required")
		return
	}

	pair, err := h.Tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// ListInstallations handles GET /api/v1/installations for the session user.
func (h *Handlers) ListInstallations(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	installs, err := h.Tokens.ListInstallations(r.Context(), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"installations": installs})
}

// GetInstallation handles GET /api/v1/installations/{id}.
func (h *Handlers) GetInstallation(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	inst, err := h.Tokens.GetInstallationForUser(r.Context(), urlParam(r, "id"), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

type revokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RevokeInstallation handles POST /api/v1/installations/{id}/revoke.
// The cascade (tokens, pending codes) runs in one transaction; repeating
// the call on an already-revoked installation is a no-op success.
func (h *Handlers) RevokeInstallation(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	var req revokeRequest
	if r.ContentLength > 0 {
		var ok bool
		if req, ok = readJSON[revokeRequest](w, r); !ok {
			return
		}
	}

	if err := h.Tokens.RevokeInstallation(r.Context(), urlParam(r, "id"), claims.UserID, req.Reason); err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type policyRequest struct {
	RequireApprovalForPublish *bool `json:"require_approval_for_publish"`
	RequireApprovalForApply   *bool `json:"require_approval_for_apply"`
}

// UpdateInstallationPolicy handles PATCH /api/v1/installations/{id}/policy.
// Both flags must be present; policy changes are explicit, not partial.
func (h *Handlers) UpdateInstallationPolicy(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	req, ok := readJSON[policyRequest](w, r)
	if !ok {
		return
	}
	if req.RequireApprovalForPublish == nil || req.RequireApprovalForApply == nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest,
			"require_approval_for_publish and require_approval_for_apply are required")
		return
	}

	inst, err := h.Tokens.UpdatePolicy(r.Context(), urlParam(r, "id"), claims.UserID,
		*req.RequireApprovalForPublish, *req.RequireApprovalForApply)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// ListInstallationEvents handles GET /api/v1/installations/{id}/events
// with cursor pagination, newest first.
func (h *Handlers) ListInstallationEvents(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	id := urlParam(r, "id")
	if _, err := h.Tokens.GetInstallationForUser(r.Context(), id, claims.UserID); err != nil {
		writeCoded(w, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	page, err := h.Events.ListByInstallation(r.Context(), id, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
