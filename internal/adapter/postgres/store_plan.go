package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/plan"
)

const planColumns = `id, installation_id, agent_id, user_id, title, content, content_hash, idempotency_key, status, approval_token_hash, approval_token_expiry, approval_token_used_at, approved_at, approved_by, COALESCE(execute_intent_id::text, ''), created_at, updated_at`

func scanPlan(row scannable) (plan.Plan, error) {
	var p plan.Plan
	err := row.Scan(&p.ID, &p.InstallationID, &p.AgentID, &p.UserID, &p.Title,
		&p.Content, &p.ContentHash, &p.IdempotencyKey, &p.Status,
		&p.ApprovalTokenHash, &p.ApprovalTokenExpiry, &p.ApprovalTokenUsedAt,
		&p.ApprovedAt, &p.ApprovedBy, &p.ExecuteIntentID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO plans (id, installation_id, agent_id, user_id, title, content, content_hash, idempotency_key, status, approval_token_hash, approval_token_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.InstallationID, p.AgentID, p.UserID, p.Title, []byte(p.Content),
		p.ContentHash, p.IdempotencyKey, p.Status, p.ApprovalTokenHash,
		p.ApprovalTokenExpiry, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM plans WHERE id = $1`, planColumns), id)

	p, err := scanPlan(row)
	if err != nil {
		return nil, notFoundWrap(err, "get plan %s", id)
	}
	return &p, nil
}

func (s *Store) GetDraftPlanByContentHash(ctx context.Context, installationID, contentHash string) (*plan.Plan, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM plans WHERE installation_id = $1 AND content_hash = $2 AND status = 'DRAFT' ORDER BY created_at DESC LIMIT 1`, planColumns),
		installationID, contentHash)

	p, err := scanPlan(row)
	if err != nil {
		return nil, notFoundWrap(err, "get draft plan by content hash")
	}
	return &p, nil
}

func (s *Store) GetPlanByTokenHash(ctx context.Context, tokenHash string) (*plan.Plan, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM plans WHERE approval_token_hash = $1`, planColumns), tokenHash)

	p, err := scanPlan(row)
	if err != nil {
		return nil, notFoundWrap(err, "get plan by token hash")
	}
	return &p, nil
}

func (s *Store) ListPlansByUser(ctx context.Context, userID string) ([]plan.Plan, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM plans WHERE user_id = $1 ORDER BY created_at DESC`, planColumns), userID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// ApprovePlan atomically marks the approval token used, flips the plan
// to APPROVED and inserts the pre-approved PLAN_EXECUTE intent. The row
// lock prevents two deciders racing on the same draft.
func (s *Store) ApprovePlan(ctx context.Context, planID, approvedBy string, now time.Time, execIntent *intent.Intent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM plans WHERE id = $1 FOR UPDATE`, planID).Scan(&status)
	if err != nil {
		return notFoundWrap(err, "approve plan %s", planID)
	}
	if status != string(plan.StatusDraft) {
		return fmt.Errorf("plan %s is %s: %w", planID, status, domain.ErrConflict)
	}

	execIntent.CreatedAt = now
	execIntent.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
		INSERT INTO intents (id, installation_id, agent_id, user_id, kind, payload, payload_hash, idempotency_key, status, approved_at, approved_payload_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		execIntent.ID, execIntent.InstallationID, execIntent.AgentID, execIntent.UserID,
		execIntent.Kind, []byte(execIntent.Payload), execIntent.PayloadHash,
		execIntent.IdempotencyKey, execIntent.Status, execIntent.ApprovedAt,
		execIntent.ApprovedPayloadHash, execIntent.ExpiresAt,
		execIntent.CreatedAt, execIntent.UpdatedAt); err != nil {
		return fmt.Errorf("insert execute intent: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE plans SET status = 'APPROVED', approval_token_used_at = $2, approved_at = $2,
			approved_by = $3, execute_intent_id = $4, updated_at = now()
		WHERE id = $1`, planID, now, approvedBy, execIntent.ID)
	if err := execExpectOne(tag, err, "approve plan %s", planID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit plan approval: %w", err)
	}
	return nil
}

func (s *Store) CancelPlan(ctx context.Context, planID, decidedBy string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE plans SET status = 'CANCELED', approval_token_used_at = $2, approved_by = $3, updated_at = now()
		WHERE id = $1 AND status = 'DRAFT'`, planID, now, decidedBy)
	if err != nil {
		return fmt.Errorf("cancel plan %s: %w", planID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cancel plan %s: %w", planID, domain.ErrConflict)
	}
	return nil
}

func (s *Store) UpdatePlanStatus(ctx context.Context, planID string, status plan.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET status = $2, updated_at = now() WHERE id = $1`, planID, status)
	return execExpectOne(tag, err, "update plan %s status", planID)
}
