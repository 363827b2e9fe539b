package http

import (
	"net/http"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/project"
	"github.com/revclaw/revclaw/internal/middleware"
	"github.com/revclaw/revclaw/internal/service"
)

// CreateProject handles POST /api/v1/projects for the session user.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	req, ok := readJSON[project.CreateRequest](w, r)
	if !ok {
		return
	}

	p, err := h.Projects.Create(r.Context(), claims.UserID, &req)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListProjects handles GET /api/v1/projects for the session user.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "session required")
		return
	}

	projects, err := h.Projects.ListByOwner(r.Context(), claims.UserID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// GetProject handles GET /api/v1/projects/{id}.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Projects.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PublishProject handles POST /api/v1/projects/{id}/publish. Agent
// bearer auth with scope projects:publish; gated by the installation's
// publish policy through the intent check.
func (h *Handlers) PublishProject(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AgentFromContext(r.Context())
	if ac == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
		return
	}

	projectID := urlParam(r, "id")
	intentID, ok := h.requireIntent(w, r, intent.KindProjectPublish, service.PublishPayload(projectID))
	if !ok {
		return
	}

	p, err := h.Projects.Publish(r.Context(), ac, projectID, intentID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	if !h.consumeIntent(w, r, intentID, map[string]string{"project_id": projectID, "visibility": string(p.Visibility)}) {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ApplyToProject handles POST /api/v1/projects/{id}/apply. Gated by the
// installation's apply policy, kind APPLICATION_SUBMIT.
func (h *Handlers) ApplyToProject(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AgentFromContext(r.Context())
	if ac == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
		return
	}

	req, ok := readJSON[project.ApplyRequest](w, r)
	if !ok {
		return
	}

	projectID := urlParam(r, "id")
	intentID, ok := h.requireIntent(w, r, intent.KindApplicationSubmit, service.ApplyPayload(projectID, req.Pitch))
	if !ok {
		return
	}

	app, err := h.Projects.Apply(r.Context(), ac, projectID, &req, intentID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	if !h.consumeIntent(w, r, intentID, map[string]string{"application_id": app.ID}) {
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// ClaimCoupon handles POST /api/v1/projects/{id}/coupons/claim. Scope
// coupons:claim; ungated unless the installation's apply policy demands
// approval.
func (h *Handlers) ClaimCoupon(w http.ResponseWriter, r *http.Request) {
	ac := middleware.AgentFromContext(r.Context())
	if ac == nil {
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
		return
	}

	projectID := urlParam(r, "id")
	claim, err := h.Projects.ClaimCoupon(r.Context(), ac, projectID)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}
