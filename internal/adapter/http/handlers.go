package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/revclaw/revclaw/internal/adapter/telegram"
	"github.com/revclaw/revclaw/internal/adapter/ws"
	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/middleware"
	"github.com/revclaw/revclaw/internal/port/eventstore"
	"github.com/revclaw/revclaw/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Registrations *service.RegistrationService
	Tokens        *service.TokenService
	Intents       *service.IntentService
	Plans         *service.PlanService
	Projects      *service.ProjectService
	Auth          *service.AuthService
	Events        eventstore.Store
	Hub           *ws.Hub
	Telegram      *telegram.Notifier
	Version       string
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireIntent enforces the per-installation approval policy for a
// gated mutation about to act on payload. It returns the verified intent
// id (empty when the policy does not demand one) and whether the request
// may proceed. On refusal the error response has already been written.
func (h *Handlers) requireIntent(w http.ResponseWriter, r *http.Request, kind intent.Kind, payload json.RawMessage) (string, bool) {
	ac := middleware.AgentFromContext(r.Context())
	if ac == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
		return "", false
	}

	intentID := middleware.IntentIDFromRequest(r)
	if intentID == "" {
		if intent.RequiresApproval(ac.Installation, kind) {
			writeError(w, http.StatusForbidden, intent.CodeIntentRequired,
				fmt.Sprintf("%s requires an approved intent", kind))
			return "", false
		}
		return "", true
	}

	verdict := h.Intents.VerifyForExecution(r.Context(), intentID, ac.Installation.ID, kind, payload)
	if !verdict.Valid {
		writeError(w, verdictStatus(verdict.Code), verdict.Code, verdict.Err.Error())
		return "", false
	}
	return intentID, true
}

// verdictStatus maps an intent verification failure code to its HTTP
// status: unknown records are 404, wrong-state transitions 409, expiry
// 410, and everything authorization-shaped 403.
func verdictStatus(code string) int {
	switch code {
	case intent.CodeIntentNotFound:
		return http.StatusNotFound
	case intent.CodeInvalidStatus:
		return http.StatusConflict
	case intent.CodeExpired:
		return http.StatusGone
	default:
		return http.StatusForbidden
	}
}

// consumeIntent flips the verified intent to EXECUTED after the gated
// mutation succeeded, making the approval single-use. A conflict means a
// concurrent request consumed it first.
func (h *Handlers) consumeIntent(w http.ResponseWriter, r *http.Request, intentID string, result any) bool {
	if intentID == "" {
		return true
	}
	raw, err := json.Marshal(result)
	if err != nil {
		raw = nil
	}
	if err := h.Intents.MarkExecuted(r.Context(), intentID, raw); err != nil {
		writeError(w, http.StatusConflict, intent.CodeAlreadyExecuted,
			"intent was consumed by a concurrent request")
		return false
	}
	return true
}
