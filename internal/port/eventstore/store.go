// Package eventstore defines the port interface for the append-only audit log.
package eventstore

import (
	"context"

	"github.com/revclaw/revclaw/internal/domain/event"
)

// Page is a cursor-paginated page of events, newest first.
type Page struct {
	Events  []event.Event `json:"events"`
	Cursor  string        `json:"cursor"`
	HasMore bool          `json:"has_more"`
}

// Store is the port interface for appending and reading audit events.
// Events are immutable once appended.
type Store interface {
	// Append persists a new event.
	Append(ctx context.Context, ev *event.Event) error

	// ListByInstallation returns a page of events whose subject or data
	// references the installation, newest first. An empty cursor starts
	// from the most recent event.
	ListByInstallation(ctx context.Context, installationID, cursor string, limit int) (*Page, error)
}
