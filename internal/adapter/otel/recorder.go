package otel

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/port/messagequeue"
)

// ObserveEvents subscribes to the audit fan-out subjects and turns each
// event into the matching metric increment. Returns the subscription
// cancel function.
func (m *Metrics) ObserveEvents(ctx context.Context, q messagequeue.Queue) (func(), error) {
	return q.Subscribe(ctx, messagequeue.SubjectEventPrefix+">", m.handleEvent)
}

func (m *Metrics) handleEvent(ctx context.Context, subject string, data []byte) error {
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("metrics: unparseable event", "subject", subject, "error", err)
		return nil
	}

	switch ev.Type {
	case event.TypeAgentRegistered:
		m.Registrations.Add(ctx, 1)
	case event.TypeClaimApproved:
		m.ClaimsApproved.Add(ctx, 1)
	case event.TypeClaimDenied:
		m.ClaimsDenied.Add(ctx, 1)
	case event.TypeTokenIssued:
		m.TokensIssued.Add(ctx, 1)
	case event.TypeIntentCreated:
		m.IntentsCreated.Add(ctx, 1)
	case event.TypeIntentApproved:
		m.IntentsApproved.Add(ctx, 1)
		m.recordLatency(ctx, ev.Data)
	case event.TypeIntentDenied:
		m.IntentsDenied.Add(ctx, 1)
		m.recordLatency(ctx, ev.Data)
	case event.TypeIntentExecuted:
		m.IntentsExecuted.Add(ctx, 1)
	case event.TypePlanCreated:
		m.PlansCreated.Add(ctx, 1)
	case event.TypePlanApproved:
		m.PlansApproved.Add(ctx, 1)
	}
	return nil
}

// recordLatency reads the pending_seconds figure decision events carry.
func (m *Metrics) recordLatency(ctx context.Context, raw json.RawMessage) {
	var data struct {
		PendingSeconds float64 `json:"pending_seconds"`
	}
	if err := json.Unmarshal(raw, &data); err != nil || data.PendingSeconds <= 0 {
		return
	}
	m.ApprovalLatency.Record(ctx, data.PendingSeconds)
}
