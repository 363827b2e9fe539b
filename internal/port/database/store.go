// Package database defines the database store port (interface).
package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/installation"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/plan"
	"github.com/revclaw/revclaw/internal/domain/project"
	"github.com/revclaw/revclaw/internal/domain/user"
)

// Store is the port interface for database operations. Methods that
// update multiple rows under one invariant (claim approval, token
// exchange, refresh rotation, revocation cascade, plan approval) run as
// a single transaction inside the adapter.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, a *agent.Agent) error
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status agent.Status) error

	// Registrations
	CreateRegistration(ctx context.Context, r *agent.Registration) error
	GetRegistration(ctx context.Context, claimID string) (*agent.Registration, error)
	GetRegistrationByAgent(ctx context.Context, agentID string) (*agent.Registration, error)
	ExpireRegistration(ctx context.Context, claimID string) error
	DenyRegistration(ctx context.Context, claimID, userID string) error
	// ClaimRegistration flips a PENDING registration to CLAIMED and
	// inserts the installation atomically.
	ClaimRegistration(ctx context.Context, claimID string, inst *installation.Installation) error

	// Exchange codes
	CreateExchangeCode(ctx context.Context, c *installation.ExchangeCode) error
	GetPendingExchangeCode(ctx context.Context, installationID string) (*installation.ExchangeCode, error)
	// ExpireExchangeCode flips a stale PENDING code to EXPIRED so the
	// single-PENDING-code invariant holds before a replacement is minted.
	ExpireExchangeCode(ctx context.Context, codeID string) error
	// ConsumeExchangeCode marks the code CONSUMED and inserts the access
	// and refresh tokens in one transaction, filling their InstallationID
	// and scope snapshot from the code row. Returns ErrNotFound for an
	// unknown hash, ErrGone for an expired or already-consumed code.
	ConsumeExchangeCode(ctx context.Context, codeHash string, now time.Time, access *installation.AccessToken, refresh *installation.RefreshToken) (*installation.ExchangeCode, error)

	// Tokens
	GetAccessTokenByHash(ctx context.Context, tokenHash string) (*installation.AccessToken, error)
	// RotateRefreshToken consumes the old refresh token and inserts the
	// replacement pair atomically, filling their InstallationID and the
	// access token's scopes from the installation's granted snapshot.
	// Returns ErrGone when the old token is expired or already rotated.
	RotateRefreshToken(ctx context.Context, oldHash string, now time.Time, access *installation.AccessToken, refresh *installation.RefreshToken) (*installation.RefreshToken, error)

	// Installations
	GetInstallation(ctx context.Context, id string) (*installation.Installation, error)
	GetInstallationByAgentAndUser(ctx context.Context, agentID, userID string) (*installation.Installation, error)
	ListInstallationsByUser(ctx context.Context, userID string) ([]installation.Installation, error)
	UpdateInstallationPolicy(ctx context.Context, id string, requirePublish, requireApply bool) error
	// RevokeInstallation cascades: installation REVOKED, all live access
	// and refresh tokens revoked, pending exchange codes revoked. Returns
	// the hashes of the access tokens it revoked so auth caches can be
	// invalidated.
	RevokeInstallation(ctx context.Context, id, reason string, now time.Time) ([]string, error)

	// Intents
	CreateIntent(ctx context.Context, i *intent.Intent) error
	GetIntent(ctx context.Context, id string) (*intent.Intent, error)
	GetIntentByIdempotencyKey(ctx context.Context, installationID, key string) (*intent.Intent, error)
	ListIntentsByUser(ctx context.Context, userID string, status intent.Status) ([]intent.Intent, error)
	// ApproveIntent locks the approved payload hash; only valid from
	// PENDING_APPROVAL.
	ApproveIntent(ctx context.Context, id, approvedPayloadHash string, now time.Time) error
	DenyIntent(ctx context.Context, id, reason string, now time.Time) error
	ExpireIntent(ctx context.Context, id string) error
	// MarkIntentExecuted flips APPROVED to EXECUTED exactly once;
	// ErrConflict when the intent is not APPROVED.
	MarkIntentExecuted(ctx context.Context, id string, result json.RawMessage, now time.Time) error

	// Plans
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
	GetDraftPlanByContentHash(ctx context.Context, installationID, contentHash string) (*plan.Plan, error)
	GetPlanByTokenHash(ctx context.Context, tokenHash string) (*plan.Plan, error)
	ListPlansByUser(ctx context.Context, userID string) ([]plan.Plan, error)
	// ApprovePlan marks the approval token used, flips DRAFT to APPROVED
	// and inserts the pre-approved PLAN_EXECUTE intent atomically.
	ApprovePlan(ctx context.Context, planID, approvedBy string, now time.Time, execIntent *intent.Intent) error
	CancelPlan(ctx context.Context, planID, decidedBy string, now time.Time) error
	UpdatePlanStatus(ctx context.Context, planID string, status plan.Status) error

	// Projects
	CreateProject(ctx context.Context, p *project.Project) error
	GetProject(ctx context.Context, id string) (*project.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerUserID string) ([]project.Project, error)
	PublishProject(ctx context.Context, id string, now time.Time) error
	CreateApplication(ctx context.Context, a *project.Application) error
	CreateCouponClaim(ctx context.Context, c *project.CouponClaim) error

	// Users
	CreateUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
}
