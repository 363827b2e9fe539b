package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/port/eventstore"
)

type failingEventStore struct{}

func (failingEventStore) Append(context.Context, *event.Event) error {
	return errors.New("disk on fire")
}

func (failingEventStore) ListByInstallation(context.Context, string, string, int) (*eventstore.Page, error) {
	return nil, errors.New("disk on fire")
}

func TestEmitRedactsAndAnnotates(t *testing.T) {
	store := &mockEventStore{}
	emitter := NewEmitter(store, nil)

	emitter.Emit(context.Background(), Entry{
		Type:        event.TypeIntentCreated,
		SubjectType: "intent",
		SubjectID:   "i1",
		Data: map[string]any{
			"Authorization": "Bearer abc",
			"nested":        map[string]any{"refresh_token": "rt", "ok": "keep"},
		},
		Revclaw: event.Context{
			AgentID:        "a1",
			InstallationID: "inst1",
			IntentID:       "i1",
			InitiatedBy:    event.InitiatedByAgent,
		},
	})

	evs := store.byType(event.TypeIntentCreated)
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}

	var data map[string]any
	if err := json.Unmarshal(evs[0].Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization = %v, want [REDACTED]", data["Authorization"])
	}
	nested := data["nested"].(map[string]any)
	if nested["refresh_token"] != "[REDACTED]" {
		t.Errorf("nested.refresh_token = %v, want [REDACTED]", nested["refresh_token"])
	}
	if nested["ok"] != "keep" {
		t.Errorf("nested.ok = %v, want untouched", nested["ok"])
	}

	rc, ok := data["revclaw"].(map[string]any)
	if !ok {
		t.Fatal("revclaw attribution block missing")
	}
	if rc["initiated_by"] != "agent" {
		t.Errorf("initiated_by = %v, want agent", rc["initiated_by"])
	}
	if rc["agent_id"] != "a1" || rc["installation_id"] != "inst1" || rc["intent_id"] != "i1" {
		t.Errorf("attribution = %v", rc)
	}
}

func TestEmitNeverPropagatesFailure(t *testing.T) {
	emitter := NewEmitter(failingEventStore{}, nil)

	// Must not panic or surface the store failure.
	emitter.Emit(context.Background(), Entry{Type: event.TypeIntentCreated})

	var nilEmitter *Emitter
	nilEmitter.Emit(context.Background(), Entry{Type: event.TypeIntentCreated})
}
