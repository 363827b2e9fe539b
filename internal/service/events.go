package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/port/eventstore"
	"github.com/revclaw/revclaw/internal/port/messagequeue"
)

// Emitter writes redacted audit events and fans them out to NATS.
// Emission is best-effort: Emit never returns an error, so a failing
// audit path cannot break the mutation it records.
type Emitter struct {
	store eventstore.Store
	queue messagequeue.Queue // nil disables fan-out
}

// NewEmitter creates an audit event emitter. queue may be nil.
func NewEmitter(store eventstore.Store, queue messagequeue.Queue) *Emitter {
	return &Emitter{store: store, queue: queue}
}

// Entry describes one audit event before redaction.
type Entry struct {
	Type        event.Type
	ActorUserID string
	ProjectID   string
	SubjectType string
	SubjectID   string
	Data        map[string]any
	Revclaw     event.Context
}

// Emit records an audit event. The free-form data is deep-redacted and
// annotated with the revclaw attribution block before persisting.
// Failures are logged and swallowed.
func (e *Emitter) Emit(ctx context.Context, entry Entry) {
	if e == nil || e.store == nil {
		return
	}

	data := entry.Data
	if data == nil {
		data = map[string]any{}
	}
	data["revclaw"] = entry.Revclaw

	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("audit event marshal failed", "type", entry.Type, "error", err)
		return
	}

	ev := &event.Event{
		ID:          generateID(),
		Type:        entry.Type,
		ActorUserID: entry.ActorUserID,
		ProjectID:   entry.ProjectID,
		SubjectType: entry.SubjectType,
		SubjectID:   entry.SubjectID,
		Data:        event.Redact(raw),
		CreatedAt:   time.Now(),
	}

	if err := e.store.Append(ctx, ev); err != nil {
		slog.Error("audit event append failed", "type", ev.Type, "subject_id", ev.SubjectID, "error", err)
		return
	}

	if e.queue != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			subject := messagequeue.SubjectEventPrefix + string(ev.Type)
			if err := e.queue.Publish(ctx, subject, payload); err != nil {
				slog.Warn("audit event publish failed", "subject", subject, "error", err)
			}
		}
	}
}
