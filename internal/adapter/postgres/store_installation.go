package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/installation"
)

const installationColumns = `id, agent_id, user_id, granted_scopes, status, require_approval_for_publish, require_approval_for_apply, revoked_at, revoke_reason, last_token_issued_at, created_at, updated_at`

func scanInstallation(row scannable) (installation.Installation, error) {
	var inst installation.Installation
	err := row.Scan(&inst.ID, &inst.AgentID, &inst.UserID, &inst.GrantedScopes, &inst.Status,
		&inst.RequireApprovalForPublish, &inst.RequireApprovalForApply,
		&inst.RevokedAt, &inst.RevokeReason, &inst.LastTokenIssuedAt,
		&inst.CreatedAt, &inst.UpdatedAt)
	return inst, err
}

func (s *Store) GetInstallation(ctx context.Context, id string) (*installation.Installation, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM installations WHERE id = $1`, installationColumns), id)

	inst, err := scanInstallation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get installation %s", id)
	}
	return &inst, nil
}

func (s *Store) GetInstallationByAgentAndUser(ctx context.Context, agentID, userID string) (*installation.Installation, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM installations WHERE agent_id = $1 AND user_id = $2`, installationColumns),
		agentID, userID)

	inst, err := scanInstallation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get installation for agent %s", agentID)
	}
	return &inst, nil
}

func (s *Store) ListInstallationsByUser(ctx context.Context, userID string) ([]installation.Installation, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM installations WHERE user_id = $1 ORDER BY created_at DESC`, installationColumns),
		userID)
	if err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	defer rows.Close()

	var installations []installation.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installation: %w", err)
		}
		installations = append(installations, inst)
	}
	return installations, rows.Err()
}

func (s *Store) UpdateInstallationPolicy(ctx context.Context, id string, requirePublish, requireApply bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE installations
		SET require_approval_for_publish = $2, require_approval_for_apply = $3, updated_at = now()
		WHERE id = $1`, id, requirePublish, requireApply)
	return execExpectOne(tag, err, "update installation %s policy", id)
}

// RevokeInstallation cascades in one transaction: the installation goes
// REVOKED, every live access and refresh token is killed, and pending
// exchange codes are voided. Returns the revoked access token hashes so
// the auth cache can be invalidated.
func (s *Store) RevokeInstallation(ctx context.Context, id, reason string, now time.Time) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE installations SET status = 'REVOKED', revoked_at = $2, revoke_reason = $3, updated_at = now()
		WHERE id = $1 AND status <> 'REVOKED'`, id, now, reason)
	if err := execExpectOne(tag, err, "revoke installation %s", id); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		UPDATE access_tokens SET revoked_at = $2
		WHERE installation_id = $1 AND revoked_at IS NULL
		RETURNING token_hash`, id, now)
	if err != nil {
		return nil, fmt.Errorf("revoke access tokens: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan revoked token hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE installation_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete refresh tokens: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE exchange_codes SET status = 'REVOKED'
		WHERE installation_id = $1 AND status = 'PENDING'`, id); err != nil {
		return nil, fmt.Errorf("revoke exchange codes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit revocation: %w", err)
	}
	return hashes, nil
}

// --- Exchange codes ---

const exchangeCodeColumns = `id, installation_id, code_hash, scopes, status, expires_at, created_at`

func scanExchangeCode(row scannable) (installation.ExchangeCode, error) {
	var c installation.ExchangeCode
	err := row.Scan(&c.ID, &c.InstallationID, &c.CodeHash, &c.Scopes, &c.Status,
		&c.ExpiresAt, &c.CreatedAt)
	return c, err
}

func (s *Store) CreateExchangeCode(ctx context.Context, c *installation.ExchangeCode) error {
	c.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exchange_codes (id, installation_id, code_hash, scopes, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.InstallationID, c.CodeHash, pgTextArray(c.Scopes), c.Status, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create exchange code: %w", err)
	}
	return nil
}

func (s *Store) GetPendingExchangeCode(ctx context.Context, installationID string) (*installation.ExchangeCode, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM exchange_codes WHERE installation_id = $1 AND status = 'PENDING'
			ORDER BY created_at DESC LIMIT 1`, exchangeCodeColumns),
		installationID)

	c, err := scanExchangeCode(row)
	if err != nil {
		return nil, notFoundWrap(err, "get pending exchange code")
	}
	return &c, nil
}

func (s *Store) ExpireExchangeCode(ctx context.Context, codeID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE exchange_codes SET status = 'EXPIRED' WHERE id = $1 AND status = 'PENDING'`,
		codeID)
	if err != nil {
		return fmt.Errorf("expire exchange code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ConsumeExchangeCode atomically consumes a PENDING code and mints the
// first token pair. The row lock prevents double-spending a code that
// two requests present at once. The tokens' installation and scope
// snapshot come from the code row inside the same transaction.
func (s *Store) ConsumeExchangeCode(ctx context.Context, codeHash string, now time.Time, access *installation.AccessToken, refresh *installation.RefreshToken) (*installation.ExchangeCode, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM exchange_codes WHERE code_hash = $1 FOR UPDATE`, exchangeCodeColumns),
		codeHash)
	c, err := scanExchangeCode(row)
	if err != nil {
		return nil, notFoundWrap(err, "consume exchange code")
	}
	if !c.Usable(now) {
		return nil, fmt.Errorf("exchange code is %s: %w", c.Status, domain.ErrGone)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exchange_codes SET status = 'CONSUMED' WHERE id = $1`, c.ID); err != nil {
		return nil, fmt.Errorf("mark exchange code consumed: %w", err)
	}

	access.InstallationID = c.InstallationID
	access.Scopes = c.Scopes
	refresh.InstallationID = c.InstallationID

	if err := insertTokenPair(ctx, tx, access, refresh, now); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE installations SET last_token_issued_at = $2, updated_at = now()
		WHERE id = $1`, c.InstallationID, now); err != nil {
		return nil, fmt.Errorf("stamp token issuance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit exchange: %w", err)
	}
	c.Status = installation.CodeConsumed
	return &c, nil
}

// --- Tokens ---

func insertTokenPair(ctx context.Context, tx pgx.Tx, access *installation.AccessToken, refresh *installation.RefreshToken, now time.Time) error {
	access.CreatedAt = now
	refresh.CreatedAt = now

	if _, err := tx.Exec(ctx, `
		INSERT INTO access_tokens (id, installation_id, token_hash, scopes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		access.ID, access.InstallationID, access.TokenHash, pgTextArray(access.Scopes),
		access.ExpiresAt, access.CreatedAt); err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, installation_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		refresh.ID, refresh.InstallationID, refresh.TokenHash,
		refresh.ExpiresAt, refresh.CreatedAt); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (s *Store) GetAccessTokenByHash(ctx context.Context, tokenHash string) (*installation.AccessToken, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, installation_id, token_hash, scopes, expires_at, revoked_at, created_at
		FROM access_tokens WHERE token_hash = $1`, tokenHash)

	var t installation.AccessToken
	err := row.Scan(&t.ID, &t.InstallationID, &t.TokenHash, &t.Scopes,
		&t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get access token")
	}
	return &t, nil
}

// RotateRefreshToken atomically locks the old refresh token, deletes it,
// and inserts the replacement pair. The SELECT ... FOR UPDATE prevents
// concurrent rotation of the same token (refresh token replay
// protection). The new access token's scopes are re-read from the
// installation's granted snapshot so a policy change takes effect at the
// next rotation.
func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, now time.Time, access *installation.AccessToken, refresh *installation.RefreshToken) (*installation.RefreshToken, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id, installation_id, token_hash, expires_at, created_at
		FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE`, oldHash)

	var old installation.RefreshToken
	err = row.Scan(&old.ID, &old.InstallationID, &old.TokenHash, &old.ExpiresAt, &old.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "rotate refresh token")
	}
	if !now.Before(old.ExpiresAt) {
		return nil, fmt.Errorf("refresh token expired: %w", domain.ErrGone)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE id = $1`, old.ID); err != nil {
		return nil, fmt.Errorf("delete old refresh token: %w", err)
	}

	var scopes []string
	err = tx.QueryRow(ctx,
		`SELECT granted_scopes FROM installations WHERE id = $1`, old.InstallationID).Scan(&scopes)
	if err != nil {
		return nil, fmt.Errorf("read granted scopes: %w", err)
	}

	access.InstallationID = old.InstallationID
	access.Scopes = scopes
	refresh.InstallationID = old.InstallationID

	if err := insertTokenPair(ctx, tx, access, refresh, now); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE installations SET last_token_issued_at = $2, updated_at = now()
		WHERE id = $1`, old.InstallationID, now); err != nil {
		return nil, fmt.Errorf("stamp token issuance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rotation: %w", err)
	}
	return &old, nil
}
