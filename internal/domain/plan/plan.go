// Package plan defines the batched-proposal state machine: a workflow an
// agent drafts and a human approves exactly once, materializing a single
// pre-approved PLAN_EXECUTE intent.
package plan

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
)

// Status represents the state of a plan.
// DRAFT -> APPROVED -> EXECUTING -> EXECUTED, or DRAFT -> CANCELED.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusApproved  Status = "APPROVED"
	StatusExecuting Status = "EXECUTING"
	StatusExecuted  Status = "EXECUTED"
	StatusCanceled  Status = "CANCELED"
)

// Plan is a batch proposal. ApprovalTokenHash backs the single-use
// magic-link; the plaintext token is returned once at creation and never
// stored.
type Plan struct {
	ID             string          `json:"id"`
	InstallationID string          `json:"installation_id"`
	AgentID        string          `json:"agent_id"`
	UserID         string          `json:"user_id"`
	Title          string          `json:"title"`
	Content        json.RawMessage `json:"content"`
	ContentHash    string          `json:"content_hash"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Status         Status          `json:"status"`

	ApprovalTokenHash   string     `json:"-"`
	ApprovalTokenExpiry time.Time  `json:"approval_token_expiry"`
	ApprovalTokenUsedAt *time.Time `json:"approval_token_used_at,omitempty"`

	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ExecuteIntentID string     `json:"execute_intent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenUsable reports whether the approval token can still authorize a
// decision: the plan is DRAFT and the token is unused and unexpired.
func (p *Plan) TokenUsable(now time.Time) bool {
	return p.Status == StatusDraft &&
		p.ApprovalTokenUsedAt == nil &&
		now.Before(p.ApprovalTokenExpiry)
}

// CanDecide enforces that approval and denial only happen on DRAFT plans.
func (p *Plan) CanDecide() error {
	if p.Status != StatusDraft {
		return fmt.Errorf("plan %s is %s: %w", p.ID, p.Status, domain.ErrConflict)
	}
	return nil
}

// CreateRequest is the bot-facing payload for drafting a plan.
type CreateRequest struct {
	Title          string          `json:"title"`
	Content        json.RawMessage `json:"content"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Validate checks the create request.
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if len(r.Content) == 0 {
		return fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	if !json.Valid(r.Content) {
		return fmt.Errorf("%w: content is not valid JSON", domain.ErrValidation)
	}
	return nil
}
