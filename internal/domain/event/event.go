// Package event defines the append-only audit record emitted for every
// RevClaw-driven mutation, and the redaction pass applied before any
// event data is persisted.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of audit event.
type Type string

const (
	TypeAgentRegistered     Type = "revclaw.agent.registered"
	TypeClaimApproved       Type = "revclaw.claim.approved"
	TypeClaimDenied         Type = "revclaw.claim.denied"
	TypeClaimExpired        Type = "revclaw.claim.expired"
	TypeTokenIssued         Type = "revclaw.token.issued"
	TypeInstallationRevoked Type = "revclaw.installation.revoked"
	TypePolicyUpdated       Type = "revclaw.installation.policy_updated"
	TypeIntentCreated       Type = "revclaw.intent.created"
	TypeIntentApproved      Type = "revclaw.intent.approved"
	TypeIntentDenied        Type = "revclaw.intent.denied"
	TypeIntentExecuted      Type = "revclaw.intent.executed"
	TypeIntentExpired       Type = "revclaw.intent.expired"
	TypePlanCreated         Type = "revclaw.plan.created"
	TypePlanApproved        Type = "revclaw.plan.approved"
	TypePlanCanceled        Type = "revclaw.plan.canceled"
	TypeProjectPublished    Type = "revclaw.project.published"
	TypeApplicationCreated  Type = "revclaw.application.created"
	TypeCouponClaimed       Type = "revclaw.coupon.claimed"
)

// Initiator records whether the action was taken by the bot itself or by
// a human on the dashboard.
type Initiator string

const (
	InitiatedByAgent Initiator = "agent"
	InitiatedByUser  Initiator = "user"
)

// Context is the attribution block nested under "revclaw" in every
// event's data, so consumers can render "via bot X" without re-deriving
// it from raw actor ids.
type Context struct {
	AgentID        string    `json:"agent_id,omitempty"`
	AgentName      string    `json:"agent_name,omitempty"`
	InstallationID string    `json:"installation_id,omitempty"`
	IntentID       string    `json:"intent_id,omitempty"`
	InitiatedBy    Initiator `json:"initiated_by"`
}

// Event is a single immutable audit record. Data is stored already
// redacted; Events are never mutated or deleted, and reference other
// entities by id only so audit history survives entity changes.
type Event struct {
	ID          string          `json:"id"`
	Type        Type            `json:"type"`
	ActorUserID string          `json:"actor_user_id,omitempty"`
	ProjectID   string          `json:"project_id,omitempty"`
	SubjectType string          `json:"subject_type,omitempty"`
	SubjectID   string          `json:"subject_id,omitempty"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
}
