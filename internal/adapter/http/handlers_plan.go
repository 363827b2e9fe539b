package http

import (
	"net/http"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/plan"
	"github.com/revclaw/revclaw/internal/middleware"
	"github.com/revclaw/revclaw/internal/service"
)

// CreatePlan handles POST /api/v1/plans. Bot-authenticated; identical
// DRAFT content for the same installation dedupes to the existing plan.
// The approval link goes to the owner's channels, never to the bot.
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AgentFromContext(r.Context())
	if ac == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
		return
	}

	req, ok := readJSON[plan.CreateRequest](w, r)
	if !ok {
		return
	}

	p, err := h.Plans.Create(r.Context(), ac, &req)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPlans handles GET /api/v1/plans for the session user.
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	plans, err := h.Plans.ListForUser(r.Context(), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

// GetPlan handles GET /api/v1/plans/{id}.
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	p, err := h.Plans.GetForUser(r.Context(), urlParam(r, "id"), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ApprovePlan handles POST /api/v1/plans/{id}/approve from a dashboard
// session. Approval materializes the pre-approved PLAN_EXECUTE intent.
func (h *Handlers) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	p, err := h.Plans.ApproveByOwner(r.Context(), urlParam(r, "id"), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DenyPlan handles POST /api/v1/plans/{id}/deny.
func (h *Handlers) DenyPlan(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	p, err := h.Plans.DenyByOwner(r.Context(), urlParam(r, "id"), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PreviewPlanByToken handles GET /api/v1/plans/approve?token=. The magic
// link opens here; the token itself is the credential and is not
// consumed by the preview.
func (h *Handlers) PreviewPlanByToken(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "token is required")
		return
	}

	p, err := h.Plans.PreviewByToken(r.Context(), tok)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type decidePlanRequest struct {
	Token    string `json:"token"`
	Decision string `json:"decision"` // "approve" or "deny"
}

// DecidePlanByToken handles POST /api/v1/plans/approve. The single-use
// token is consumed by the decision, approve or deny alike.
func (h *Handlers) DecidePlanByToken(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decidePlanRequest](w, r)
	if !ok {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "token is required")
		return
	}

	var (
		p   *plan.Plan
		err error
	)
	switch req.Decision {
	case "approve":
		p, err = h.Plans.ApproveByToken(r.Context(), req.Token)
	case "deny":
		p, err = h.Plans.DenyByToken(r.Context(), req.Token)
	default:
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, `decision must be "approve" or "deny"`)
		return
	}
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ExecutePlan handles POST /api/v1/plans/{id}/execute. Agent bearer
// auth; goes through the same intent gate as every other gated mutation,
// against the PLAN_EXECUTE intent minted at approval.
func (h *Handlers) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AgentFromContext(r.Context())
	if ac == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
		return
	}

	planID := urlParam(r, "id")
	p, err := h.Plans.GetForUser(r.Context(), planID, ac.Installation.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}

	// PLAN_EXECUTE is always policy-gated, so requireIntent never lets
	// an execution through without the intent minted at approval.
	payload := service.ExecutePayload(p.ID, p.ContentHash)
	intentID, ok := h.requireIntent(w, r, intent.KindPlanExecute, payload)
	if !ok {
		return
	}

	executed, err := h.Plans.Execute(r.Context(), ac, planID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	if !h.consumeIntent(w, r, intentID, map[string]string{"plan_id": planID, "status": string(executed.Status)}) {
		return
	}
	writeJSON(w, http.StatusOK, executed)
}
