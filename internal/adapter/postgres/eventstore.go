package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event. Events are never updated or deleted.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO revclaw_events (id, event_type, actor_user_id, project_id, subject_type, subject_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, string(ev.Type), nullIfEmpty(ev.ActorUserID), nullIfEmpty(ev.ProjectID),
		ev.SubjectType, ev.SubjectID, []byte(ev.Data), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

const eventColumns = `id, event_type, COALESCE(actor_user_id::text, ''), COALESCE(project_id::text, ''), subject_type, subject_id, data, created_at`

func scanEvent(row scannable) (event.Event, error) {
	var ev event.Event
	err := row.Scan(&ev.ID, &ev.Type, &ev.ActorUserID, &ev.ProjectID,
		&ev.SubjectType, &ev.SubjectID, &ev.Data, &ev.CreatedAt)
	return ev, err
}

// ListByInstallation returns a cursor-paginated page of events tagged
// with the installation in their attribution block, newest first. The
// cursor is the id of the last event on the previous page.
func (s *EventStore) ListByInstallation(ctx context.Context, installationID, cursor string, limit int) (*eventstore.Page, error) {
	if limit <= 0 {
		limit = 50
	}

	args := []any{installationID}
	query := fmt.Sprintf(`SELECT %s FROM revclaw_events WHERE data->'revclaw'->>'installation_id' = $1`, eventColumns)
	if cursor != "" {
		query += ` AND (created_at, id) < (SELECT created_at, id FROM revclaw_events WHERE id = $2)`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		nextCursor = events[len(events)-1].ID
	}

	return &eventstore.Page{
		Events:  events,
		Cursor:  nextCursor,
		HasMore: hasMore,
	}, nil
}
