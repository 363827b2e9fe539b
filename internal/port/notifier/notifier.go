// Package notifier defines the notification port (interface).
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Approval identifies the pending decision a notification is about, so
// rich notifiers can attach inline approve/deny actions.
type Approval struct {
	Kind string `json:"kind"` // "claim", "intent" or "plan"
	ID   string `json:"id"`
}

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Level    string    `json:"level"` // "info", "success", "warning", "error"
	Approval *Approval `json:"approval,omitempty"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "telegram").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
