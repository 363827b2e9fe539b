// Package intent defines the human-approval state machine at the core of
// RevClaw: a proposed sensitive action that must be approved with its
// exact payload before an agent may execute it, exactly once.
package intent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/installation"
)

// Kind is the closed enum of gateable actions.
type Kind string

const (
	KindProjectPublish    Kind = "PROJECT_PUBLISH"
	KindProjectUpdate     Kind = "PROJECT_UPDATE"
	KindApplicationSubmit Kind = "APPLICATION_SUBMIT"
	KindCouponClaim       Kind = "COUPON_CLAIM"
	KindPlanExecute       Kind = "PLAN_EXECUTE"
)

// ValidKinds is the set of accepted intent kinds.
var ValidKinds = map[Kind]bool{
	KindProjectPublish:    true,
	KindProjectUpdate:     true,
	KindApplicationSubmit: true,
	KindCouponClaim:       true,
	KindPlanExecute:       true,
}

// Status represents the state of an intent.
// PENDING_APPROVAL -> {APPROVED -> EXECUTED} | DENIED | EXPIRED.
// EXECUTED, DENIED and EXPIRED are terminal.
type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusDenied          Status = "DENIED"
	StatusExecuted        Status = "EXECUTED"
	StatusExpired         Status = "EXPIRED"
)

// Intent is a single proposed sensitive action.
type Intent struct {
	ID             string          `json:"id"`
	InstallationID string          `json:"installation_id"`
	AgentID        string          `json:"agent_id"`
	UserID         string          `json:"user_id"`
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	PayloadHash    string          `json:"payload_hash"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Status         Status          `json:"status"`

	ApprovedAt          *time.Time      `json:"approved_at,omitempty"`
	ApprovedPayloadHash string          `json:"approved_payload_hash,omitempty"`
	DeniedAt            *time.Time      `json:"denied_at,omitempty"`
	DenyReason          string          `json:"deny_reason,omitempty"`
	ExecutedAt          *time.Time      `json:"executed_at,omitempty"`
	ExecutionResult     json.RawMessage `json:"execution_result,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExpireIfStale flips a PENDING_APPROVAL or APPROVED intent past its
// expiry to EXPIRED. Idempotent; returns true when the status changed
// and needs persisting.
func (i *Intent) ExpireIfStale(now time.Time) bool {
	if i.Status != StatusPendingApproval && i.Status != StatusApproved {
		return false
	}
	if now.Before(i.ExpiresAt) {
		return false
	}
	i.Status = StatusExpired
	return true
}

// Verification verdict codes surfaced to callers as the machine-readable
// `code` field.
const (
	CodeIntentNotFound      = "intent_not_found"
	CodeForbidden           = "forbidden"
	CodeInvalidKind         = "intent_invalid_kind"
	CodeInvalidStatus       = "intent_invalid_status"
	CodeExpired             = "intent_expired"
	CodePayloadMismatch     = "payload_mismatch"
	CodeIntentRequired      = "intent_required"
	CodeAlreadyExecuted     = "intent_already_executed"
)

// Verdict is the result of verifying an intent before execution.
type Verdict struct {
	Valid bool
	Code  string
	Err   error
}

func invalid(code, format string, args ...any) Verdict {
	return Verdict{Valid: false, Code: code, Err: fmt.Errorf(format, args...)}
}

// VerifyHashes is the pure three-way payload-hash gate: the intent's
// current hash, the hash locked at approval time, and the hash of the
// payload the endpoint is about to act on must all agree. Any divergence
// means the approval no longer covers the content and is void.
func VerifyHashes(currentHash, approvedHash, expectedHash string) Verdict {
	if approvedHash == "" {
		return invalid(CodeInvalidStatus, "intent has no approved payload hash")
	}
	if currentHash != approvedHash || expectedHash != approvedHash {
		return invalid(CodePayloadMismatch,
			"payload hash mismatch: current=%s approved=%s expected=%s",
			currentHash, approvedHash, expectedHash)
	}
	return Verdict{Valid: true}
}

// Verify runs the full ordered pre-execution check against an intent that
// has already been loaded (nil means not found). now is injected so the
// lazy-expiry decision is testable.
func Verify(i *Intent, installationID string, expectedKind Kind, expectedPayloadHash string, now time.Time) Verdict {
	if i == nil {
		return invalid(CodeIntentNotFound, "intent not found")
	}
	if i.InstallationID != installationID {
		return invalid(CodeForbidden, "intent belongs to a different installation")
	}
	if i.Kind != expectedKind {
		return invalid(CodeInvalidKind, "intent kind %s does not match expected %s", i.Kind, expectedKind)
	}
	if i.Status != StatusApproved {
		if i.Status == StatusExpired {
			return invalid(CodeExpired, "intent has expired")
		}
		return invalid(CodeInvalidStatus, "intent status is %s, want APPROVED", i.Status)
	}
	if hv := VerifyHashes(i.PayloadHash, i.ApprovedPayloadHash, expectedPayloadHash); !hv.Valid {
		return hv
	}
	if !now.Before(i.ExpiresAt) {
		return invalid(CodeExpired, "intent has expired")
	}
	return Verdict{Valid: true}
}

// RequiresApproval reports whether the installation's policy demands a
// human-approved intent for the given kind. PLAN_EXECUTE always requires
// one: plan execution is only ever authorized through the intent a plan
// approval creates.
func RequiresApproval(inst *installation.Installation, kind Kind) bool {
	switch kind {
	case KindProjectPublish, KindProjectUpdate:
		return inst.RequireApprovalForPublish
	case KindApplicationSubmit, KindCouponClaim:
		return inst.RequireApprovalForApply
	case KindPlanExecute:
		return true
	default:
		return true
	}
}

// CreateRequest is the bot-facing payload for creating an intent.
type CreateRequest struct {
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// Validate checks the create request.
func (r *CreateRequest) Validate() error {
	if !ValidKinds[r.Kind] {
		return fmt.Errorf("%w: unknown intent kind %q", domain.ErrValidation, r.Kind)
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", domain.ErrValidation)
	}
	if !json.Valid(r.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", domain.ErrValidation)
	}
	return nil
}
