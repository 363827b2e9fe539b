package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/domain/project"
	"github.com/revclaw/revclaw/internal/port/database"
	"github.com/revclaw/revclaw/internal/token"
)

// ProjectService implements the gated marketplace mutations that agents
// act on through the intent enforcement wrapper.
type ProjectService struct {
	store   database.Store
	emitter *Emitter
}

// NewProjectService creates a project service.
func NewProjectService(store database.Store, emitter *Emitter) *ProjectService {
	return &ProjectService{store: store, emitter: emitter}
}

// PublishPayload is the canonical intent payload for publishing a
// project. Gated endpoints rebuild it to check the hash gate, so intents
// must be filed with exactly this shape.
func PublishPayload(projectID string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"project_id": projectID})
	return raw
}

// ApplyPayload is the canonical intent payload for a marketer
// application.
func ApplyPayload(projectID, pitch string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"project_id": projectID,
		"pitch":      pitch,
	})
	return raw
}

// Create stores a PRIVATE project for the owner (dashboard session).
func (s *ProjectService) Create(ctx context.Context, ownerUserID string, req *project.CreateRequest) (*project.Project, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	p := &project.Project{
		ID:                generateID(),
		OwnerUserID:       ownerUserID,
		Name:              req.Name,
		Description:       req.Description,
		Visibility:        project.VisibilityPrivate,
		CommissionPercent: req.CommissionPercent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// Get returns a project by id.
func (s *ProjectService) Get(ctx context.Context, id string) (*project.Project, error) {
	return s.store.GetProject(ctx, id)
}

// ListByOwner returns the owner's projects.
func (s *ProjectService) ListByOwner(ctx context.Context, ownerUserID string) ([]project.Project, error) {
	return s.store.ListProjectsByOwner(ctx, ownerUserID)
}

// Publish flips a project to PUBLIC on behalf of the installation's
// owner. intentID is the approval that authorized the call, if any.
func (s *ProjectService) Publish(ctx context.Context, ac *AgentContext, projectID, intentID string) (*project.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.OwnerUserID != ac.Installation.UserID {
		return nil, domain.NewCoded(domain.CodeForbidden, http.StatusForbidden, "project belongs to another user")
	}
	if err := p.CanPublish(); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.store.PublishProject(ctx, projectID, now); err != nil {
		return nil, fmt.Errorf("publish project: %w", err)
	}
	p.Visibility = project.VisibilityPublic
	p.PublishedAt = &now

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeProjectPublished,
		ActorUserID: ac.Installation.UserID,
		ProjectID:   projectID,
		SubjectType: "project",
		SubjectID:   projectID,
		Data:        map[string]any{"name": p.Name},
		Revclaw:     s.revclawCtx(ac, intentID),
	})
	return p, nil
}

// Apply submits a marketer application for the installation's owner.
func (s *ProjectService) Apply(ctx context.Context, ac *AgentContext, projectID string, req *project.ApplyRequest, intentID string) (*project.Application, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	now := time.Now()
	app := &project.Application{
		ID:             generateID(),
		ProjectID:      projectID,
		MarketerUserID: ac.Installation.UserID,
		Pitch:          req.Pitch,
		Status:         project.ApplicationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeApplicationCreated,
		ActorUserID: ac.Installation.UserID,
		ProjectID:   projectID,
		SubjectType: "application",
		SubjectID:   app.ID,
		Revclaw:     s.revclawCtx(ac, intentID),
	})
	return app, nil
}

// ClaimCoupon mints a promo code for the installation's owner. Ungated by
// default; still scope-checked by the handler.
func (s *ProjectService) ClaimCoupon(ctx context.Context, ac *AgentContext, projectID string) (*project.CouponClaim, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	code, err := token.GenerateOpaque(6)
	if err != nil {
		return nil, fmt.Errorf("generate coupon code: %w", err)
	}

	claim := &project.CouponClaim{
		ID:        generateID(),
		ProjectID: projectID,
		UserID:    ac.Installation.UserID,
		Code:      "RVC-" + strings.ToUpper(code),
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateCouponClaim(ctx, claim); err != nil {
		return nil, fmt.Errorf("create coupon claim: %w", err)
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeCouponClaimed,
		ActorUserID: ac.Installation.UserID,
		ProjectID:   projectID,
		SubjectType: "coupon_claim",
		SubjectID:   claim.ID,
		Revclaw:     s.revclawCtx(ac, ""),
	})
	return claim, nil
}

func (s *ProjectService) revclawCtx(ac *AgentContext, intentID string) event.Context {
	return event.Context{
		AgentID:        ac.Agent.ID,
		AgentName:      ac.Agent.Name,
		InstallationID: ac.Installation.ID,
		IntentID:       intentID,
		InitiatedBy:    event.InitiatedByAgent,
	}
}
