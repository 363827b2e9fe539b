package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/port/database"
	"github.com/revclaw/revclaw/internal/port/notifier"
	"github.com/revclaw/revclaw/internal/token"
)

// IntentService drives the intent approval state machine.
type IntentService struct {
	store     database.Store
	cfg       *config.Auth
	emitter   *Emitter
	announcer *Announcer
}

// NewIntentService creates an intent service.
func NewIntentService(store database.Store, cfg *config.Auth, emitter *Emitter, announcer *Announcer) *IntentService {
	return &IntentService{store: store, cfg: cfg, emitter: emitter, announcer: announcer}
}

// Create stores a PENDING_APPROVAL intent for the bot's installation,
// binding the payload by canonical hash. A repeated idempotency key
// returns the original intent instead of creating a duplicate.
func (s *IntentService) Create(ctx context.Context, ac *AgentContext, req *intent.CreateRequest) (*intent.Intent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetIntentByIdempotencyKey(ctx, ac.Installation.ID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	payloadHash, err := token.HashPayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: hash payload: %v", domain.ErrValidation, err)
	}

	now := time.Now()
	i := &intent.Intent{
		ID:             generateID(),
		InstallationID: ac.Installation.ID,
		AgentID:        ac.Agent.ID,
		UserID:         ac.Installation.UserID,
		Kind:           req.Kind,
		Payload:        req.Payload,
		PayloadHash:    payloadHash,
		IdempotencyKey: req.IdempotencyKey,
		Status:         intent.StatusPendingApproval,
		ExpiresAt:      now.Add(s.cfg.IntentExpiry),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateIntent(ctx, i); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeIntentCreated,
		SubjectType: "intent",
		SubjectID:   i.ID,
		Data:        map[string]any{"kind": i.Kind, "payload_hash": i.PayloadHash},
		Revclaw:     s.revclawCtx(ac, i.ID, event.InitiatedByAgent),
	})

	s.announcer.PendingApproval(ctx, "intent.pending",
		notifier.Approval{Kind: "intent", ID: i.ID},
		fmt.Sprintf("Approval needed: %s", i.Kind),
		fmt.Sprintf("Agent %q requests %s. Expires %s.", ac.Agent.Name, i.Kind, i.ExpiresAt.Format(time.RFC3339)),
		map[string]any{
			"intent_id":  i.ID,
			"kind":       i.Kind,
			"agent_name": ac.Agent.Name,
			"expires_at": i.ExpiresAt,
		})

	return i, nil
}

func (s *IntentService) revclawCtx(ac *AgentContext, intentID string, by event.Initiator) event.Context {
	return event.Context{
		AgentID:        ac.Agent.ID,
		AgentName:      ac.Agent.Name,
		InstallationID: ac.Installation.ID,
		IntentID:       intentID,
		InitiatedBy:    by,
	}
}

// get loads an intent and lazily persists an expiry flip.
func (s *IntentService) get(ctx context.Context, id string) (*intent.Intent, error) {
	i, err := s.store.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if i.ExpireIfStale(time.Now()) {
		if err := s.store.ExpireIntent(ctx, i.ID); err != nil {
			return nil, fmt.Errorf("expire intent: %w", err)
		}
		s.emitter.Emit(ctx, Entry{
			Type:        event.TypeIntentExpired,
			SubjectType: "intent",
			SubjectID:   i.ID,
			Revclaw: event.Context{
				AgentID:        i.AgentID,
				InstallationID: i.InstallationID,
				IntentID:       i.ID,
				InitiatedBy:    event.InitiatedByAgent,
			},
		})
	}
	return i, nil
}

// GetForUser returns an intent owned by the given user.
func (s *IntentService) GetForUser(ctx context.Context, id, userID string) (*intent.Intent, error) {
	i, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if i.UserID != userID {
		return nil, domain.NewCoded(domain.CodeForbidden, http.StatusForbidden, "intent belongs to another user")
	}
	return i, nil
}

// ListForUser returns the user's intents, optionally filtered by status.
func (s *IntentService) ListForUser(ctx context.Context, userID string, status intent.Status) ([]intent.Intent, error) {
	return s.store.ListIntentsByUser(ctx, userID, status)
}

// Approve locks the approved payload hash to the intent's current hash.
// Expired intents return 410 after the lazy flip is persisted.
func (s *IntentService) Approve(ctx context.Context, id, userID string) (*intent.Intent, error) {
	i, err := s.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if i.Status == intent.StatusExpired {
		return nil, domain.NewCoded(domain.CodeGone, http.StatusGone, "intent has expired")
	}
	if i.Status != intent.StatusPendingApproval {
		return nil, fmt.Errorf("intent %s is %s: %w", i.ID, i.Status, domain.ErrConflict)
	}

	now := time.Now()
	if err := s.store.ApproveIntent(ctx, i.ID, i.PayloadHash, now); err != nil {
		return nil, fmt.Errorf("approve intent: %w", err)
	}
	i.Status = intent.StatusApproved
	i.ApprovedAt = &now
	i.ApprovedPayloadHash = i.PayloadHash

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeIntentApproved,
		ActorUserID: userID,
		SubjectType: "intent",
		SubjectID:   i.ID,
		Data: map[string]any{
			"kind":                  i.Kind,
			"approved_payload_hash": i.ApprovedPayloadHash,
			"pending_seconds":       now.Sub(i.CreatedAt).Seconds(),
		},
		Revclaw: event.Context{
			AgentID:        i.AgentID,
			InstallationID: i.InstallationID,
			IntentID:       i.ID,
			InitiatedBy:    event.InitiatedByUser,
		},
	})
	return i, nil
}

// Deny moves a PENDING_APPROVAL intent to terminal DENIED.
func (s *IntentService) Deny(ctx context.Context, id, userID, reason string) (*intent.Intent, error) {
	i, err := s.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if i.Status == intent.StatusExpired {
		return nil, domain.NewCoded(domain.CodeGone, http.StatusGone, "intent has expired")
	}
	if i.Status != intent.StatusPendingApproval {
		return nil, fmt.Errorf("intent %s is %s: %w", i.ID, i.Status, domain.ErrConflict)
	}

	now := time.Now()
	if err := s.store.DenyIntent(ctx, i.ID, reason, now); err != nil {
		return nil, fmt.Errorf("deny intent: %w", err)
	}
	i.Status = intent.StatusDenied
	i.DeniedAt = &now
	i.DenyReason = reason

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeIntentDenied,
		ActorUserID: userID,
		SubjectType: "intent",
		SubjectID:   i.ID,
		Data: map[string]any{
			"kind":            i.Kind,
			"reason":          reason,
			"pending_seconds": now.Sub(i.CreatedAt).Seconds(),
		},
		Revclaw: event.Context{
			AgentID:        i.AgentID,
			InstallationID: i.InstallationID,
			IntentID:       i.ID,
			InitiatedBy:    event.InitiatedByUser,
		},
	})
	return i, nil
}

// Decide approves or denies on behalf of the intent's owner. Used by
// decision channels (Telegram callbacks) where possession of the
// configured chat stands in for a dashboard session.
func (s *IntentService) Decide(ctx context.Context, id string, approve bool) (*intent.Intent, error) {
	i, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if approve {
		return s.Approve(ctx, id, i.UserID)
	}
	return s.Deny(ctx, id, i.UserID, "denied via notification channel")
}

// VerifyForExecution runs the full ordered pre-execution check for an
// endpoint about to act on expectedPayload.
func (s *IntentService) VerifyForExecution(ctx context.Context, intentID, installationID string, kind intent.Kind, expectedPayload json.RawMessage) intent.Verdict {
	expectedHash, err := token.HashPayload(expectedPayload)
	if err != nil {
		return intent.Verdict{Code: intent.CodePayloadMismatch, Err: fmt.Errorf("hash payload: %w", err)}
	}

	i, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return intent.Verify(nil, installationID, kind, expectedHash, time.Now())
		}
		return intent.Verdict{Code: intent.CodeIntentNotFound, Err: err}
	}

	now := time.Now()
	if i.ExpireIfStale(now) {
		if err := s.store.ExpireIntent(ctx, i.ID); err != nil {
			return intent.Verdict{Code: intent.CodeExpired, Err: err}
		}
	}
	return intent.Verify(i, installationID, kind, expectedHash, now)
}

// MarkExecuted flips an APPROVED intent to terminal EXECUTED exactly
// once, recording the execution result.
func (s *IntentService) MarkExecuted(ctx context.Context, intentID string, result json.RawMessage) error {
	now := time.Now()
	if err := s.store.MarkIntentExecuted(ctx, intentID, result, now); err != nil {
		return fmt.Errorf("mark intent executed: %w", err)
	}

	i, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		return nil
	}
	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeIntentExecuted,
		SubjectType: "intent",
		SubjectID:   intentID,
		Data:        map[string]any{"kind": i.Kind},
		Revclaw: event.Context{
			AgentID:        i.AgentID,
			InstallationID: i.InstallationID,
			IntentID:       intentID,
			InitiatedBy:    event.InitiatedByAgent,
		},
	})
	return nil
}
