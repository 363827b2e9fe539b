package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/revclaw/revclaw/internal/adapter/telegram"
	"github.com/revclaw/revclaw/internal/domain"
)

// headerTelegramSecret is set by Telegram on every webhook delivery when
// the webhook was registered with a secret_token.
const headerTelegramSecret = "X-Telegram-Bot-Api-Secret-Token"

// TelegramWebhook handles POST /api/v1/webhooks/telegram. Button presses
// on approval prompts land here; the secret token authenticates Telegram,
// possession of the configured chat authenticates the owner.
func (h *Handlers) TelegramWebhook(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" ||
			subtle.ConstantTimeCompare([]byte(r.Header.Get(headerTelegramSecret)), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid webhook token")
			return
		}

		update, ok := readJSON[telegram.Update](w, r)
		if !ok {
			return
		}
		if update.CallbackQuery == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		cb := update.CallbackQuery
		decision, kind, id, err := telegram.ParseCallbackData(cb.Data)
		if err != nil {
			h.answerCallback(r, cb.ID, "Unrecognized action.")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		approve := decision == "approve"
		var decideErr error
		switch kind {
		case "intent":
			_, decideErr = h.Intents.Decide(r.Context(), id, approve)
		case "plan":
			_, decideErr = h.Plans.Decide(r.Context(), id, approve)
		case "claim":
			// Claiming binds an installation to a specific user account,
			// which a chat button cannot identify. Send the owner to the
			// dashboard instead of guessing.
			h.answerCallback(r, cb.ID, "Approve agent claims from your dashboard.")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		default:
			h.answerCallback(r, cb.ID, "Unrecognized action.")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		if decideErr != nil {
			slog.Warn("telegram decision failed", "kind", kind, "id", id, "decision", decision, "error", decideErr)
			h.answerCallback(r, cb.ID, "Could not apply the decision; it may already be settled.")
			writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
			return
		}

		if approve {
			h.answerCallback(r, cb.ID, "Approved.")
		} else {
			h.answerCallback(r, cb.ID, "Denied.")
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handlers) answerCallback(r *http.Request, callbackID, text string) {
	if h.Telegram == nil {
		return
	}
	if err := h.Telegram.AnswerCallback(r.Context(), callbackID, text); err != nil {
		slog.Warn("telegram callback answer failed", "error", err)
	}
}
