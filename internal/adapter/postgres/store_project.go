package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/project"
)

const projectColumns = `id, owner_user_id, name, description, visibility, commission_percent, published_at, created_at, updated_at`

func scanProject(row scannable) (project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.OwnerUserID, &p.Name, &p.Description, &p.Visibility,
		&p.CommissionPercent, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO projects (id, owner_user_id, name, description, visibility, commission_percent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.OwnerUserID, p.Name, p.Description, p.Visibility, p.CommissionPercent,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE id = $1`, projectColumns), id)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) ListProjectsByOwner(ctx context.Context, ownerUserID string) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM projects WHERE owner_user_id = $1 ORDER BY created_at DESC`, projectColumns),
		ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) PublishProject(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects SET visibility = 'PUBLIC', published_at = $2, updated_at = now()
		WHERE id = $1 AND visibility = 'PRIVATE'`, id, now)
	if err != nil {
		return fmt.Errorf("publish project %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("publish project %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) CreateApplication(ctx context.Context, a *project.Application) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO applications (id, project_id, marketer_user_id, pitch, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ProjectID, a.MarketerUserID, a.Pitch, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

func (s *Store) CreateCouponClaim(ctx context.Context, c *project.CouponClaim) error {
	c.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coupon_claims (id, project_id, user_id, code, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.ProjectID, c.UserID, c.Code, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create coupon claim: %w", err)
	}
	return nil
}
