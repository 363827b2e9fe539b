package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/revclaw/revclaw/internal/port/broadcast"
	"github.com/revclaw/revclaw/internal/port/messagequeue"
	"github.com/revclaw/revclaw/internal/port/notifier"
)

// Announcer pushes pending-approval prompts to every configured channel:
// Telegram (or any registered notifier), the dashboard WebSocket feed and
// the NATS approvals subject. All delivery is best-effort.
type Announcer struct {
	notifiers   []notifier.Notifier
	broadcaster broadcast.Broadcaster
	queue       messagequeue.Queue
}

// NewAnnouncer creates an announcer. Any argument may be nil.
func NewAnnouncer(notifiers []notifier.Notifier, b broadcast.Broadcaster, q messagequeue.Queue) *Announcer {
	return &Announcer{notifiers: notifiers, broadcaster: b, queue: q}
}

// PendingApproval announces that a claim, intent or plan awaits a human
// decision. eventType names the WebSocket event (e.g. "claim.pending").
func (a *Announcer) PendingApproval(ctx context.Context, eventType string, approval notifier.Approval, title, message string, payload any) {
	if a == nil {
		return
	}

	for _, n := range a.notifiers {
		if err := n.Send(ctx, notifier.Notification{
			Title:    title,
			Message:  message,
			Level:    "info",
			Approval: &approval,
		}); err != nil {
			slog.Warn("approval notification failed", "notifier", n.Name(), "kind", approval.Kind, "id", approval.ID, "error", err)
		}
	}

	if a.broadcaster != nil {
		a.broadcaster.BroadcastEvent(ctx, eventType, payload)
	}

	if a.queue != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			if err := a.queue.Publish(ctx, messagequeue.SubjectApprovalPending, data); err != nil {
				slog.Warn("approval publish failed", "kind", approval.Kind, "id", approval.ID, "error", err)
			}
		}
	}
}
