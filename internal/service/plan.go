package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/plan"
	"github.com/revclaw/revclaw/internal/port/database"
	"github.com/revclaw/revclaw/internal/port/notifier"
	"github.com/revclaw/revclaw/internal/token"
)

// PlanService drives the batched-proposal flow: an agent drafts a plan,
// a human approves it once (magic link or dashboard), and approval
// materializes a single pre-approved PLAN_EXECUTE intent.
type PlanService struct {
	store     database.Store
	cfg       *config.Auth
	baseURL   string
	emitter   *Emitter
	announcer *Announcer
}

// NewPlanService creates a plan service.
func NewPlanService(store database.Store, cfg *config.Auth, baseURL string, emitter *Emitter, announcer *Announcer) *PlanService {
	return &PlanService{
		store:     store,
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		emitter:   emitter,
		announcer: announcer,
	}
}

// ExecutePayload is the canonical payload bound to a plan's PLAN_EXECUTE
// intent. The execute endpoint rebuilds it to check the hash gate.
func ExecutePayload(planID, contentHash string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"plan_id":      planID,
		"content_hash": contentHash,
	})
	return raw
}

// Create drafts a plan. Identical DRAFT content for the same installation
// dedupes to the existing plan; the approval-link plaintext is never
// returned to the bot, only delivered through the owner's channels.
func (s *PlanService) Create(ctx context.Context, ac *AgentContext, req *plan.CreateRequest) (*plan.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	contentHash, err := token.HashPayload(req.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: hash content: %v", domain.ErrValidation, err)
	}

	existing, err := s.store.GetDraftPlanByContentHash(ctx, ac.Installation.ID, contentHash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}

	approvalToken, err := token.GenerateOpaque(32)
	if err != nil {
		return nil, fmt.Errorf("generate approval token: %w", err)
	}

	now := time.Now()
	p := &plan.Plan{
		ID:             generateID(),
		InstallationID: ac.Installation.ID,
		AgentID:        ac.Agent.ID,
		UserID:         ac.Installation.UserID,
		Title:          req.Title,
		Content:        req.Content,
		ContentHash:    contentHash,
		IdempotencyKey: req.IdempotencyKey,
		Status:         plan.StatusDraft,

		ApprovalTokenHash:   token.HashToken(approvalToken),
		ApprovalTokenExpiry: now.Add(s.cfg.PlanTokenExpiry),

		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypePlanCreated,
		SubjectType: "plan",
		SubjectID:   p.ID,
		Data:        map[string]any{"title": p.Title, "content_hash": p.ContentHash},
		Revclaw: event.Context{
			AgentID:        ac.Agent.ID,
			AgentName:      ac.Agent.Name,
			InstallationID: ac.Installation.ID,
			InitiatedBy:    event.InitiatedByAgent,
		},
	})

	approvalURL := s.baseURL + "/plans/approve?token=" + approvalToken
	s.announcer.PendingApproval(ctx, "plan.pending",
		notifier.Approval{Kind: "plan", ID: p.ID},
		"Plan approval: "+p.Title,
		fmt.Sprintf("Agent %q drafted plan %q. Approve: %s", ac.Agent.Name, p.Title, approvalURL),
		map[string]any{
			"plan_id":    p.ID,
			"title":      p.Title,
			"agent_name": ac.Agent.Name,
			"expires_at": p.ApprovalTokenExpiry,
		})

	return p, nil
}

// GetForUser returns a plan owned by the given user.
func (s *PlanService) GetForUser(ctx context.Context, id, userID string) (*plan.Plan, error) {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, domain.NewCoded(domain.CodeForbidden, http.StatusForbidden, "plan belongs to another user")
	}
	return p, nil
}

// ListForUser returns the user's plans.
func (s *PlanService) ListForUser(ctx context.Context, userID string) ([]plan.Plan, error) {
	return s.store.ListPlansByUser(ctx, userID)
}

// PreviewByToken returns the plan behind a live approval token without
// consuming it, so the approval page can show what is being decided.
func (s *PlanService) PreviewByToken(ctx context.Context, approvalToken string) (*plan.Plan, error) {
	p, err := s.store.GetPlanByTokenHash(ctx, token.HashToken(approvalToken))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewCoded(domain.CodeUnauthorized, http.StatusUnauthorized, "invalid approval token")
		}
		return nil, err
	}
	if !p.TokenUsable(time.Now()) {
		return nil, domain.NewCoded(domain.CodeGone, http.StatusGone, "approval token expired or already used")
	}
	return p, nil
}

// Decide approves or cancels on behalf of the plan's owner. Used by
// decision channels (Telegram callbacks) where possession of the
// configured chat stands in for a dashboard session.
func (s *PlanService) Decide(ctx context.Context, planID string, approve bool) (*plan.Plan, error) {
	p, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if approve {
		return s.ApproveByOwner(ctx, planID, p.UserID)
	}
	return s.DenyByOwner(ctx, planID, p.UserID)
}

// ApproveByToken approves via the single-use magic link.
func (s *PlanService) ApproveByToken(ctx context.Context, approvalToken string) (*plan.Plan, error) {
	p, err := s.store.GetPlanByTokenHash(ctx, token.HashToken(approvalToken))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewCoded(domain.CodeUnauthorized, http.StatusUnauthorized, "invalid approval token")
		}
		return nil, err
	}
	if !p.TokenUsable(time.Now()) {
		return nil, domain.NewCoded(domain.CodeGone, http.StatusGone, "approval token expired or already used")
	}
	return s.approve(ctx, p, p.UserID)
}

// ApproveByOwner approves via an authenticated dashboard session.
func (s *PlanService) ApproveByOwner(ctx context.Context, planID, userID string) (*plan.Plan, error) {
	p, err := s.GetForUser(ctx, planID, userID)
	if err != nil {
		return nil, err
	}
	if err := p.CanDecide(); err != nil {
		return nil, err
	}
	return s.approve(ctx, p, userID)
}

// approve flips DRAFT to APPROVED and materializes the pre-approved
// PLAN_EXECUTE intent in the same transaction.
func (s *PlanService) approve(ctx context.Context, p *plan.Plan, approvedBy string) (*plan.Plan, error) {
	now := time.Now()

	payload := ExecutePayload(p.ID, p.ContentHash)
	payloadHash, err := token.HashPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("hash execute payload: %w", err)
	}

	execIntent := &intent.Intent{
		ID:                  generateID(),
		InstallationID:      p.InstallationID,
		AgentID:             p.AgentID,
		UserID:              p.UserID,
		Kind:                intent.KindPlanExecute,
		Payload:             payload,
		PayloadHash:         payloadHash,
		Status:              intent.StatusApproved,
		ApprovedAt:          &now,
		ApprovedPayloadHash: payloadHash,
		ExpiresAt:           now.Add(s.cfg.IntentExpiry),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.store.ApprovePlan(ctx, p.ID, approvedBy, now, execIntent); err != nil {
		return nil, fmt.Errorf("approve plan: %w", err)
	}
	p.Status = plan.StatusApproved
	p.ApprovedAt = &now
	p.ApprovedBy = approvedBy
	p.ApprovalTokenUsedAt = &now
	p.ExecuteIntentID = execIntent.ID

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypePlanApproved,
		ActorUserID: approvedBy,
		SubjectType: "plan",
		SubjectID:   p.ID,
		Data:        map[string]any{"title": p.Title, "execute_intent_id": execIntent.ID},
		Revclaw: event.Context{
			AgentID:        p.AgentID,
			InstallationID: p.InstallationID,
			IntentID:       execIntent.ID,
			InitiatedBy:    event.InitiatedByUser,
		},
	})
	return p, nil
}

// DenyByToken cancels a DRAFT plan via the magic link.
func (s *PlanService) DenyByToken(ctx context.Context, approvalToken string) (*plan.Plan, error) {
	p, err := s.store.GetPlanByTokenHash(ctx, token.HashToken(approvalToken))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewCoded(domain.CodeUnauthorized, http.StatusUnauthorized, "invalid approval token")
		}
		return nil, err
	}
	if !p.TokenUsable(time.Now()) {
		return nil, domain.NewCoded(domain.CodeGone, http.StatusGone, "approval token expired or already used")
	}
	return s.deny(ctx, p, p.UserID)
}

// DenyByOwner cancels a DRAFT plan via an authenticated session.
func (s *PlanService) DenyByOwner(ctx context.Context, planID, userID string) (*plan.Plan, error) {
	p, err := s.GetForUser(ctx, planID, userID)
	if err != nil {
		return nil, err
	}
	if err := p.CanDecide(); err != nil {
		return nil, err
	}
	return s.deny(ctx, p, userID)
}

func (s *PlanService) deny(ctx context.Context, p *plan.Plan, decidedBy string) (*plan.Plan, error) {
	now := time.Now()
	if err := s.store.CancelPlan(ctx, p.ID, decidedBy, now); err != nil {
		return nil, fmt.Errorf("cancel plan: %w", err)
	}
	p.Status = plan.StatusCanceled
	p.ApprovalTokenUsedAt = &now

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypePlanCanceled,
		ActorUserID: decidedBy,
		SubjectType: "plan",
		SubjectID:   p.ID,
		Data:        map[string]any{"title": p.Title},
		Revclaw: event.Context{
			AgentID:        p.AgentID,
			InstallationID: p.InstallationID,
			InitiatedBy:    event.InitiatedByUser,
		},
	})
	return p, nil
}

// Execute marks an APPROVED plan EXECUTED. Intent verification happens in
// the HTTP enforcement wrapper before this runs; the wrapper also marks
// the PLAN_EXECUTE intent EXECUTED afterwards, making execution single-use.
func (s *PlanService) Execute(ctx context.Context, ac *AgentContext, planID string) (*plan.Plan, error) {
	p, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if p.InstallationID != ac.Installation.ID {
		return nil, domain.NewCoded(domain.CodeForbidden, http.StatusForbidden, "plan belongs to another installation")
	}
	if p.Status != plan.StatusApproved {
		return nil, fmt.Errorf("plan %s is %s: %w", p.ID, p.Status, domain.ErrConflict)
	}

	if err := s.store.UpdatePlanStatus(ctx, p.ID, plan.StatusExecuted); err != nil {
		return nil, fmt.Errorf("update plan status: %w", err)
	}
	p.Status = plan.StatusExecuted
	return p, nil
}
