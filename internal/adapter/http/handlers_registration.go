package http

import (
	"net/http"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/middleware"
)

// RegisterAgent handles POST /api/v1/agents/register. Unauthenticated
// and rate-limited; the plaintext agent secret in the response is the
// only time it is ever exposed.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.RegisterRequest](w, r)
	if !ok {
		return
	}

	resp, err := h.Registrations.Register(r.Context(), &req)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ClaimStatus handles GET /api/v1/agents/{id}/claim-status. The bot
// authenticates with its agent secret as bearer; on CLAIMED the response
// carries the one-time exchange code.
func (h *Handlers) ClaimStatus(w http.ResponseWriter, r *http.Request) {
	secret := bearerToken(r)
	if secret == "" {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "agent secret required")
		return
	}

	resp, err := h.Registrations.ClaimStatus(r.Context(), urlParam(r, "id"), secret)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type approveClaimRequest struct {
	Scopes []string `json:"scopes,omitempty"`
}

// ApproveClaim handles POST /api/v1/claims/{claimID}/approve. Session
// authenticated; an empty scope list grants exactly what was requested.
func (h *Handlers) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	var req approveClaimRequest
	if r.ContentLength > 0 {
		var ok bool
		if req, ok = readJSON[approveClaimRequest](w, r); !ok {
			return
		}
	}

	inst, err := h.Registrations.Approve(r.Context(), urlParam(r, "claimID"), claims.UserID, req.Scopes)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// DenyClaim handles POST /api/v1/claims/{claimID}/deny.
func (h *Handlers) DenyClaim(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	if err := h.Registrations.Deny(r.Context(), urlParam(r, "claimID"), claims.UserID); err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "denied"})
}
