package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/intent"
)

const intentColumns = `id, installation_id, agent_id, user_id, kind, payload, payload_hash, idempotency_key, status, approved_at, approved_payload_hash, denied_at, deny_reason, executed_at, execution_result, expires_at, created_at, updated_at`

func scanIntent(row scannable) (intent.Intent, error) {
	var i intent.Intent
	err := row.Scan(&i.ID, &i.InstallationID, &i.AgentID, &i.UserID, &i.Kind,
		&i.Payload, &i.PayloadHash, &i.IdempotencyKey, &i.Status,
		&i.ApprovedAt, &i.ApprovedPayloadHash, &i.DeniedAt, &i.DenyReason,
		&i.ExecutedAt, &i.ExecutionResult, &i.ExpiresAt, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func (s *Store) CreateIntent(ctx context.Context, i *intent.Intent) error {
	now := time.Now().UTC()
	i.CreatedAt = now
	i.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO intents (id, installation_id, agent_id, user_id, kind, payload, payload_hash, idempotency_key, status, approved_at, approved_payload_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		i.ID, i.InstallationID, i.AgentID, i.UserID, i.Kind, []byte(i.Payload),
		i.PayloadHash, i.IdempotencyKey, i.Status, i.ApprovedAt, i.ApprovedPayloadHash,
		i.ExpiresAt, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create intent: %w", err)
	}
	return nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*intent.Intent, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM intents WHERE id = $1`, intentColumns), id)

	i, err := scanIntent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get intent %s", id)
	}
	return &i, nil
}

func (s *Store) GetIntentByIdempotencyKey(ctx context.Context, installationID, key string) (*intent.Intent, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM intents WHERE installation_id = $1 AND idempotency_key = $2`, intentColumns),
		installationID, key)

	i, err := scanIntent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get intent by idempotency key")
	}
	return &i, nil
}

func (s *Store) ListIntentsByUser(ctx context.Context, userID string, status intent.Status) ([]intent.Intent, error) {
	query := fmt.Sprintf(`SELECT %s FROM intents WHERE user_id = $1`, intentColumns)
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()

	var intents []intent.Intent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		intents = append(intents, i)
	}
	return intents, rows.Err()
}

func (s *Store) ApproveIntent(ctx context.Context, id, approvedPayloadHash string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE intents SET status = 'APPROVED', approved_at = $2, approved_payload_hash = $3, updated_at = now()
		WHERE id = $1 AND status = 'PENDING_APPROVAL'`, id, now, approvedPayloadHash)
	if err != nil {
		return fmt.Errorf("approve intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approve intent %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) DenyIntent(ctx context.Context, id, reason string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE intents SET status = 'DENIED', denied_at = $2, deny_reason = $3, updated_at = now()
		WHERE id = $1 AND status = 'PENDING_APPROVAL'`, id, now, reason)
	if err != nil {
		return fmt.Errorf("deny intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deny intent %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) ExpireIntent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE intents SET status = 'EXPIRED', updated_at = now()
		WHERE id = $1 AND status IN ('PENDING_APPROVAL', 'APPROVED')`, id)
	if err != nil {
		return fmt.Errorf("expire intent %s: %w", id, err)
	}
	return nil
}

// MarkIntentExecuted flips APPROVED to EXECUTED. The status guard in the
// WHERE clause makes the flip single-use even under concurrent execution
// attempts.
func (s *Store) MarkIntentExecuted(ctx context.Context, id string, result json.RawMessage, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE intents SET status = 'EXECUTED', executed_at = $2, execution_result = $3, updated_at = now()
		WHERE id = $1 AND status = 'APPROVED'`, id, now, []byte(result))
	if err != nil {
		return fmt.Errorf("mark intent %s executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark intent %s executed: %w", id, domain.ErrConflict)
	}
	return nil
}
