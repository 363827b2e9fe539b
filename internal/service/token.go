package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/domain/installation"
	"github.com/revclaw/revclaw/internal/port/cache"
	"github.com/revclaw/revclaw/internal/port/database"
	"github.com/revclaw/revclaw/internal/token"
)

const authCachePrefix = "auth:"

// TokenService issues, refreshes and revokes installation credentials,
// and authenticates bearer and bot-header requests.
type TokenService struct {
	store   database.Store
	cfg     *config.Auth
	cache   cache.Cache // nil disables the auth context cache
	emitter *Emitter
}

// NewTokenService creates a token service. c may be nil.
func NewTokenService(store database.Store, cfg *config.Auth, c cache.Cache, emitter *Emitter) *TokenService {
	return &TokenService{store: store, cfg: cfg, cache: c, emitter: emitter}
}

// TokenPair is the response to a successful exchange or refresh. Both
// plaintexts are returned exactly once.
type TokenPair struct {
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	TokenType      string    `json:"token_type"`
	ExpiresIn      int       `json:"expires_in"`
	Scopes         []string  `json:"scopes"`
	InstallationID string    `json:"installation_id"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (s *TokenService) newTokenSkeletons(now time.Time) (accessPlain, refreshPlain string, access *installation.AccessToken, refresh *installation.RefreshToken, err error) {
	accessPlain, err = token.GenerateOpaque(32)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("generate access token: %w", err)
	}
	refreshPlain, err = token.GenerateOpaque(32)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("generate refresh token: %w", err)
	}

	access = &installation.AccessToken{
		ID:        generateID(),
		TokenHash: token.HashToken(accessPlain),
		ExpiresAt: now.Add(s.cfg.AccessTokenExpiry),
		CreatedAt: now,
	}
	refresh = &installation.RefreshToken{
		ID:        generateID(),
		TokenHash: token.HashToken(refreshPlain),
		ExpiresAt: now.Add(s.cfg.RefreshTokenExpiry),
		CreatedAt: now,
	}
	return accessPlain, refreshPlain, access, refresh, nil
}

// Exchange trades a PENDING, unexpired exchange code for an access token
// and rotating refresh token. The code is consumed atomically with token
// issuance; the installation and scope snapshot come from the code row.
func (s *TokenService) Exchange(ctx context.Context, code string) (*TokenPair, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: exchange_code is required", domain.ErrValidation)
	}

	now := time.Now()
	accessPlain, refreshPlain, access, refresh, err := s.newTokenSkeletons(now)
	if err != nil {
		return nil, err
	}

	consumed, err := s.store.ConsumeExchangeCode(ctx, token.HashToken(code), now, access, refresh)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil, domain.NewCoded(domain.CodeUnauthorized, http.StatusUnauthorized, "invalid exchange code")
		case errors.Is(err, domain.ErrGone):
			return nil, domain.NewCoded(domain.CodeGone, http.StatusGone, "exchange code expired or already used")
		default:
			return nil, fmt.Errorf("consume exchange code: %w", err)
		}
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeTokenIssued,
		SubjectType: "installation",
		SubjectID:   consumed.InstallationID,
		Data:        map[string]any{"scopes": consumed.Scopes, "grant": "exchange_code"},
		Revclaw: event.Context{
			InstallationID: consumed.InstallationID,
			InitiatedBy:    event.InitiatedByAgent,
		},
	})

	return &TokenPair{
		AccessToken:    accessPlain,
		RefreshToken:   refreshPlain,
		TokenType:      "Bearer",
		ExpiresIn:      int(s.cfg.AccessTokenExpiry.Seconds()),
		Scopes:         consumed.Scopes,
		InstallationID: consumed.InstallationID,
		ExpiresAt:      access.ExpiresAt,
	}, nil
}

// Refresh rotates a refresh token, consuming the old one and issuing a
// new access/refresh pair in one transaction.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", domain.ErrValidation)
	}

	now := time.Now()
	accessPlain, refreshPlain, access, refresh, err := s.newTokenSkeletons(now)
	if err != nil {
		return nil, err
	}

	old, err := s.store.RotateRefreshToken(ctx, token.HashToken(refreshToken), now, access, refresh)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil, domain.NewCoded(domain.CodeUnauthorized, http.StatusUnauthorized, "invalid refresh token")
		case errors.Is(err, domain.ErrGone):
			return nil, domain.NewCoded(domain.CodeGone, http.StatusGone, "refresh token expired or rotated")
		default:
			return nil, fmt.Errorf("rotate refresh token: %w", err)
		}
	}

	return &TokenPair{
		AccessToken:    accessPlain,
		RefreshToken:   refreshPlain,
		TokenType:      "Bearer",
		ExpiresIn:      int(s.cfg.AccessTokenExpiry.Seconds()),
		Scopes:         access.Scopes,
		InstallationID: old.InstallationID,
		ExpiresAt:      access.ExpiresAt,
	}, nil
}

// RevokeInstallation cascades revocation across the installation, its
// live tokens and pending exchange codes, and drops cached auth contexts
// for the revoked tokens. Re-revoking is idempotent.
func (s *TokenService) RevokeInstallation(ctx context.Context, installationID, actorUserID, reason string) error {
	inst, err := s.store.GetInstallation(ctx, installationID)
	if err != nil {
		return err
	}
	if inst.UserID != actorUserID {
		return domain.NewCoded(domain.CodeForbidden, http.StatusForbidden, "installation belongs to another user")
	}
	if inst.Status == installation.StatusRevoked {
		return nil
	}

	hashes, err := s.store.RevokeInstallation(ctx, installationID, reason, time.Now())
	if err != nil {
		return fmt.Errorf("revoke installation: %w", err)
	}

	if s.cache != nil {
		for _, h := range hashes {
			if err := s.cache.Delete(ctx, authCachePrefix+h); err != nil {
				slog.Warn("auth cache invalidation failed", "error", err)
			}
		}
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeInstallationRevoked,
		ActorUserID: actorUserID,
		SubjectType: "installation",
		SubjectID:   installationID,
		Data:        map[string]any{"reason": reason, "tokens_revoked": len(hashes)},
		Revclaw: event.Context{
			AgentID:        inst.AgentID,
			InstallationID: installationID,
			InitiatedBy:    event.InitiatedByUser,
		},
	})
	return nil
}

// UpdatePolicy changes the per-installation approval requirements.
func (s *TokenService) UpdatePolicy(ctx context.Context, installationID, actorUserID string, requirePublish, requireApply bool) (*installation.Installation, error) {
	inst, err := s.store.GetInstallation(ctx, installationID)
	if err != nil {
		return nil, err
	}
	if inst.UserID != actorUserID {
		return nil, domain.NewCoded(domain.CodeForbidden, http.StatusForbidden, "installation belongs to another user")
	}

	if err := s.store.UpdateInstallationPolicy(ctx, installationID, requirePublish, requireApply); err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}
	inst.RequireApprovalForPublish = requirePublish
	inst.RequireApprovalForApply = requireApply

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypePolicyUpdated,
		ActorUserID: actorUserID,
		SubjectType: "installation",
		SubjectID:   installationID,
		Data: map[string]any{
			"require_approval_for_publish": requirePublish,
			"require_approval_for_apply":   requireApply,
		},
		Revclaw: event.Context{
			AgentID:        inst.AgentID,
			InstallationID: installationID,
			InitiatedBy:    event.InitiatedByUser,
		},
	})
	return inst, nil
}

// ListInstallations returns the user's installations.
func (s *TokenService) ListInstallations(ctx context.Context, userID string) ([]installation.Installation, error) {
	return s.store.ListInstallationsByUser(ctx, userID)
}

// GetInstallationForUser returns an installation owned by the given user.
func (s *TokenService) GetInstallationForUser(ctx context.Context, id, userID string) (*installation.Installation, error) {
	inst, err := s.store.GetInstallation(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.UserID != userID {
		return nil, domain.NewCoded(domain.CodeForbidden, http.StatusForbidden, "installation belongs to another user")
	}
	return inst, nil
}

// AgentContext is the resolved identity of an authenticated agent request.
type AgentContext struct {
	Agent        *agent.Agent               `json:"agent"`
	Installation *installation.Installation `json:"installation"`
	Scopes       []string                   `json:"scopes"`
	TokenHash    string                     `json:"-"`
}

// HasScope checks flat exact membership in the granted-scope snapshot.
func (c *AgentContext) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuthResult is the tagged outcome of an authentication attempt: either
// OK with a context, or a status + machine-readable code.
type AuthResult struct {
	OK      bool
	Context *AgentContext
	Status  int
	Code    string
	Message string
}

func authFail(status int, code, message string) AuthResult {
	return AuthResult{Status: status, Code: code, Message: message}
}

// Authenticate resolves an installation bearer access token. Contexts are
// cached by token hash with a short TTL; revocation drops the entry.
func (s *TokenService) Authenticate(ctx context.Context, bearer string) AuthResult {
	if bearer == "" {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
	}

	tokenHash := token.HashToken(bearer)
	cacheKey := authCachePrefix + tokenHash

	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
			var ac AgentContext
			if json.Unmarshal(raw, &ac) == nil {
				ac.TokenHash = tokenHash
				return AuthResult{OK: true, Context: &ac}
			}
		}
	}

	now := time.Now()
	tok, err := s.store.GetAccessTokenByHash(ctx, tokenHash)
	if err != nil {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "invalid access token")
	}
	if !tok.Valid(now) {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "access token expired or revoked")
	}

	inst, err := s.store.GetInstallation(ctx, tok.InstallationID)
	if err != nil {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "installation not found")
	}
	if inst.Status != installation.StatusActive {
		return authFail(http.StatusForbidden, domain.CodeForbidden, "installation is not active")
	}

	a, err := s.store.GetAgent(ctx, inst.AgentID)
	if err != nil {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "agent not found")
	}
	if err := a.Usable(); err != nil {
		return authFail(http.StatusForbidden, domain.CodeForbidden, err.Error())
	}

	ac := &AgentContext{Agent: a, Installation: inst, Scopes: tok.Scopes, TokenHash: tokenHash}

	if s.cache != nil {
		ttl := s.cfg.AuthCacheTTL
		if until := time.Until(tok.ExpiresAt); until < ttl {
			ttl = until
		}
		if ttl > 0 {
			if raw, err := json.Marshal(ac); err == nil {
				_ = s.cache.Set(ctx, cacheKey, raw, ttl)
			}
		}
	}
	return AuthResult{OK: true, Context: ac}
}

// AuthenticateBot resolves header-based bot auth: the agent secret (which
// embeds the agent id) plus the explicit acting-on-behalf-of user id. The
// user must hold an ACTIVE installation of the agent.
func (s *TokenService) AuthenticateBot(ctx context.Context, secret, userID string) AuthResult {
	if secret == "" {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "authorization required")
	}
	if userID == "" {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "X-RevClaw-User-Id header is required")
	}

	rest, ok := strings.CutPrefix(secret, agentSecretPrefix)
	if !ok {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "invalid agent secret")
	}
	agentID, _, ok := strings.Cut(rest, "_")
	if !ok {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "invalid agent secret")
	}

	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "invalid agent secret")
	}
	if !token.VerifySecret(secret, a.SecretHash) {
		return authFail(http.StatusUnauthorized, domain.CodeUnauthorized, "invalid agent secret")
	}
	if err := a.Usable(); err != nil {
		return authFail(http.StatusForbidden, domain.CodeForbidden, err.Error())
	}

	inst, err := s.store.GetInstallationByAgentAndUser(ctx, agentID, userID)
	if err != nil {
		return authFail(http.StatusForbidden, domain.CodeForbidden, "no installation for this user")
	}
	if inst.Status != installation.StatusActive {
		return authFail(http.StatusForbidden, domain.CodeForbidden, "installation is not active")
	}

	return AuthResult{OK: true, Context: &AgentContext{
		Agent:        a,
		Installation: inst,
		Scopes:       inst.GrantedScopes,
	}}
}

// RequireScope returns a typed authorization error when the scope is
// absent from the context's granted-scope snapshot.
func RequireScope(ac *AgentContext, scope string) error {
	if !ac.HasScope(scope) {
		return domain.NewCoded(domain.CodeScopeMissing, http.StatusForbidden,
			fmt.Sprintf("scope %q not granted", scope))
	}
	return nil
}
