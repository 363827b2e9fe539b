package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/installation"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Agents ---

const agentColumns = `id, name, description, manifest_markdown, manifest_url, manifest_hash, secret_hash, identity_proof_url, metadata, status, created_at, updated_at`

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	var metadata []byte
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.ManifestMarkdown, &a.ManifestURL,
		&a.ManifestHash, &a.SecretHash, &a.IdentityProofURL, &metadata, &a.Status,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return agent.Agent{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return agent.Agent{}, fmt.Errorf("unmarshal agent metadata: %w", err)
		}
	}
	return a, nil
}

func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal agent metadata: %w", err)
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, description, manifest_markdown, manifest_url, manifest_hash, secret_hash, identity_proof_url, metadata, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.Name, a.Description, a.ManifestMarkdown, a.ManifestURL, a.ManifestHash,
		a.SecretHash, a.IdentityProofURL, metadata, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1`, agentColumns), id)

	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return execExpectOne(tag, err, "update agent %s status", id)
}

// --- Registrations ---

const registrationColumns = `claim_id, agent_id, requested_scopes, status, COALESCE(claimed_by_user_id::text, ''), expires_at, created_at, updated_at`

func scanRegistration(row scannable) (agent.Registration, error) {
	var r agent.Registration
	err := row.Scan(&r.ClaimID, &r.AgentID, &r.RequestedScopes, &r.Status,
		&r.ClaimedByUserID, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) CreateRegistration(ctx context.Context, r *agent.Registration) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO registrations (claim_id, agent_id, requested_scopes, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ClaimID, r.AgentID, pgTextArray(r.RequestedScopes), r.Status, r.ExpiresAt,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

func (s *Store) GetRegistration(ctx context.Context, claimID string) (*agent.Registration, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM registrations WHERE claim_id = $1`, registrationColumns), claimID)

	r, err := scanRegistration(row)
	if err != nil {
		return nil, notFoundWrap(err, "get registration %s", claimID)
	}
	return &r, nil
}

func (s *Store) GetRegistrationByAgent(ctx context.Context, agentID string) (*agent.Registration, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM registrations WHERE agent_id = $1 ORDER BY created_at DESC LIMIT 1`, registrationColumns), agentID)

	r, err := scanRegistration(row)
	if err != nil {
		return nil, notFoundWrap(err, "get registration for agent %s", agentID)
	}
	return &r, nil
}

func (s *Store) ExpireRegistration(ctx context.Context, claimID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE registrations SET status = 'EXPIRED', updated_at = now()
		WHERE claim_id = $1 AND status = 'PENDING'`, claimID)
	if err != nil {
		return fmt.Errorf("expire registration %s: %w", claimID, err)
	}
	// Zero rows means someone else already moved it out of PENDING,
	// which is fine for a lazy-expiry write.
	_ = tag
	return nil
}

func (s *Store) DenyRegistration(ctx context.Context, claimID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE registrations SET status = 'REVOKED', claimed_by_user_id = $2, updated_at = now()
		WHERE claim_id = $1 AND status = 'PENDING'`, claimID, userID)
	return execExpectOne(tag, err, "deny registration %s", claimID)
}

// ClaimRegistration flips a PENDING registration to CLAIMED and inserts
// the installation in a single transaction. The row lock prevents two
// concurrent approvals of the same claim.
func (s *Store) ClaimRegistration(ctx context.Context, claimID string, inst *installation.Installation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM registrations WHERE claim_id = $1 FOR UPDATE`, claimID).Scan(&status)
	if err != nil {
		return notFoundWrap(err, "claim registration %s", claimID)
	}
	if status != string(agent.RegistrationPending) {
		return fmt.Errorf("registration %s is %s: %w", claimID, status, domain.ErrConflict)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE registrations SET status = 'CLAIMED', claimed_by_user_id = $2, updated_at = now()
		WHERE claim_id = $1`, claimID, inst.UserID)
	if err := execExpectOne(tag, err, "claim registration %s", claimID); err != nil {
		return err
	}

	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO installations (id, agent_id, user_id, granted_scopes, status, require_approval_for_publish, require_approval_for_apply, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inst.ID, inst.AgentID, inst.UserID, pgTextArray(inst.GrantedScopes), inst.Status,
		inst.RequireApprovalForPublish, inst.RequireApprovalForApply, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create installation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}
