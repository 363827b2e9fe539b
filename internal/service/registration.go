package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/domain/installation"
	"github.com/revclaw/revclaw/internal/port/database"
	"github.com/revclaw/revclaw/internal/port/notifier"
	"github.com/revclaw/revclaw/internal/token"
)

// agentSecretPrefix starts every plaintext agent secret. The agent id is
// embedded so header-based bot auth can resolve the agent from the
// credential alone: rvcs_<agent_id>_<random>.
const agentSecretPrefix = "rvcs_"

// RegistrationService drives agent registration and the human claim flow.
type RegistrationService struct {
	store     database.Store
	cfg       *config.Auth
	baseURL   string
	emitter   *Emitter
	announcer *Announcer
	client    *http.Client
}

// NewRegistrationService creates a registration service.
func NewRegistrationService(store database.Store, cfg *config.Auth, baseURL string, emitter *Emitter, announcer *Announcer) *RegistrationService {
	return &RegistrationService{
		store:     store,
		cfg:       cfg,
		baseURL:   strings.TrimRight(baseURL, "/"),
		emitter:   emitter,
		announcer: announcer,
		client:    &http.Client{Timeout: cfg.ManifestTimeout},
	}
}

// RegisterResponse is returned once at registration. AgentSecret is the
// only time the plaintext secret is ever exposed.
type RegisterResponse struct {
	AgentID         string    `json:"agent_id"`
	ClaimID         string    `json:"claim_id"`
	AgentSecret     string    `json:"agent_secret"`
	ClaimURL        string    `json:"claim_url"`
	RequestedScopes []string  `json:"requested_scopes"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Register validates the request, resolves the manifest, stores the agent
// with a bcrypt-hashed secret and opens a PENDING claim.
func (s *RegistrationService) Register(ctx context.Context, req *agent.RegisterRequest) (*RegisterResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	manifest := req.ManifestMarkdown
	if req.ManifestURL != "" {
		fetched, err := s.fetchManifest(ctx, req.ManifestURL)
		if err != nil {
			return nil, err
		}
		manifest = fetched
	}
	manifest = strings.TrimSpace(manifest)
	if err := agent.ValidateManifest(manifest); err != nil {
		return nil, err
	}

	agentID := generateID()
	opaque, err := token.GenerateOpaque(32)
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := agentSecretPrefix + agentID + "_" + opaque

	secretHash, err := token.HashSecret(secret, s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	a := &agent.Agent{
		ID:               agentID,
		Name:             req.Name,
		Description:      req.Description,
		ManifestMarkdown: manifest,
		ManifestURL:      req.ManifestURL,
		ManifestHash:     token.SHA256Hex([]byte(manifest)),
		SecretHash:       secretHash,
		IdentityProofURL: req.IdentityProofURL,
		Metadata:         req.Metadata,
		Status:           agent.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	reg := &agent.Registration{
		ClaimID:         generateID(),
		AgentID:         agentID,
		RequestedScopes: req.RequestedScopes,
		Status:          agent.RegistrationPending,
		ExpiresAt:       now.Add(s.cfg.RegistrationExpiry),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeAgentRegistered,
		SubjectType: "agent",
		SubjectID:   agentID,
		Data: map[string]any{
			"name":             req.Name,
			"requested_scopes": req.RequestedScopes,
			"manifest_hash":    a.ManifestHash,
		},
		Revclaw: event.Context{AgentID: agentID, AgentName: req.Name, InitiatedBy: event.InitiatedByAgent},
	})

	claimURL := s.baseURL + "/claims/" + reg.ClaimID
	s.announcer.PendingApproval(ctx, "claim.pending",
		notifier.Approval{Kind: "claim", ID: reg.ClaimID},
		"Agent registration: "+req.Name,
		fmt.Sprintf("Agent %q requests scopes %s. Claim: %s", req.Name, strings.Join(req.RequestedScopes, ", "), claimURL),
		map[string]any{
			"claim_id":         reg.ClaimID,
			"agent_id":         agentID,
			"agent_name":       req.Name,
			"requested_scopes": req.RequestedScopes,
			"expires_at":       reg.ExpiresAt,
		})

	return &RegisterResponse{
		AgentID:         agentID,
		ClaimID:         reg.ClaimID,
		AgentSecret:     secret,
		ClaimURL:        claimURL,
		RequestedScopes: req.RequestedScopes,
		ExpiresAt:       reg.ExpiresAt,
	}, nil
}

func (s *RegistrationService) fetchManifest(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: bad manifest_url: %v", domain.ErrValidation, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch manifest: %v", domain.ErrValidation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: manifest_url returned %d", domain.ErrValidation, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, agent.ManifestMaxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read manifest: %v", domain.ErrValidation, err)
	}
	if len(body) > agent.ManifestMaxBytes {
		return "", fmt.Errorf("%w: manifest exceeds %d bytes", domain.ErrValidation, agent.ManifestMaxBytes)
	}
	return string(body), nil
}

// ClaimStatusResponse is the claim-status poll result. ExchangeCode is
// set only on the poll that minted it.
type ClaimStatusResponse struct {
	Status         agent.RegistrationStatus `json:"status"`
	InstallationID string                   `json:"installation_id,omitempty"`
	GrantedScopes  []string                 `json:"granted_scopes,omitempty"`
	ExchangeCode   string                   `json:"exchange_code,omitempty"`
	ExpiresAt      *time.Time               `json:"code_expires_at,omitempty"`
}

// ClaimStatus authenticates the agent by its secret and reports the claim
// state. Stale PENDING registrations flip to EXPIRED on read. On CLAIMED,
// at most one PENDING exchange code exists; a new one is minted only when
// none is live, and its plaintext is returned exactly once.
func (s *RegistrationService) ClaimStatus(ctx context.Context, agentID, secret string) (*ClaimStatusResponse, error) {
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !token.VerifySecret(secret, a.SecretHash) {
		return nil, domain.NewCoded(domain.CodeUnauthorized, http.StatusUnauthorized, "invalid agent secret")
	}

	reg, err := s.store.GetRegistrationByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if reg.ExpireIfStale(now) {
		if err := s.store.ExpireRegistration(ctx, reg.ClaimID); err != nil {
			return nil, fmt.Errorf("expire registration: %w", err)
		}
		s.emitter.Emit(ctx, Entry{
			Type:        event.TypeClaimExpired,
			SubjectType: "registration",
			SubjectID:   reg.ClaimID,
			Revclaw:     event.Context{AgentID: agentID, AgentName: a.Name, InitiatedBy: event.InitiatedByAgent},
		})
	}

	if reg.Status != agent.RegistrationClaimed {
		return &ClaimStatusResponse{Status: reg.Status}, nil
	}

	inst, err := s.store.GetInstallationByAgentAndUser(ctx, agentID, reg.ClaimedByUserID)
	if err != nil {
		return nil, fmt.Errorf("get installation: %w", err)
	}

	resp := &ClaimStatusResponse{
		Status:         reg.Status,
		InstallationID: inst.ID,
		GrantedScopes:  inst.GrantedScopes,
	}

	existing, err := s.store.GetPendingExchangeCode(ctx, inst.ID)
	switch {
	case err == nil && existing.Usable(now):
		// A live code was already handed out; its plaintext is gone.
		exp := existing.ExpiresAt
		resp.ExpiresAt = &exp
		return resp, nil
	case err == nil:
		// Stale PENDING code: flip it to EXPIRED before minting a
		// replacement so at most one PENDING code exists.
		if err := s.store.ExpireExchangeCode(ctx, existing.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("expire exchange code: %w", err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("get exchange code: %w", err)
	}

	plaintext, err := token.GenerateOpaque(32)
	if err != nil {
		return nil, fmt.Errorf("generate exchange code: %w", err)
	}
	code := &installation.ExchangeCode{
		ID:             generateID(),
		InstallationID: inst.ID,
		CodeHash:       token.HashToken(plaintext),
		Scopes:         inst.GrantedScopes,
		Status:         installation.CodePending,
		ExpiresAt:      now.Add(s.cfg.ExchangeCodeExpiry),
		CreatedAt:      now,
	}
	if err := s.store.CreateExchangeCode(ctx, code); err != nil {
		return nil, fmt.Errorf("create exchange code: %w", err)
	}

	resp.ExchangeCode = plaintext
	resp.ExpiresAt = &code.ExpiresAt
	return resp, nil
}

// Approve claims a PENDING registration for the given user, snapshotting
// granted scopes into a new ACTIVE installation. An empty scopes slice
// grants exactly what was requested.
func (s *RegistrationService) Approve(ctx context.Context, claimID, userID string, scopes []string) (*installation.Installation, error) {
	reg, err := s.store.GetRegistration(ctx, claimID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if reg.ExpireIfStale(now) {
		if err := s.store.ExpireRegistration(ctx, reg.ClaimID); err != nil {
			return nil, fmt.Errorf("expire registration: %w", err)
		}
	}
	if err := reg.CanTransitionTo(agent.RegistrationClaimed); err != nil {
		return nil, err
	}

	if len(scopes) == 0 {
		scopes = reg.RequestedScopes
	}

	a, err := s.store.GetAgent(ctx, reg.AgentID)
	if err != nil {
		return nil, err
	}

	inst := &installation.Installation{
		ID:            generateID(),
		AgentID:       reg.AgentID,
		UserID:        userID,
		GrantedScopes: scopes,
		Status:        installation.StatusActive,

		RequireApprovalForPublish: true,
		RequireApprovalForApply:   true,

		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.ClaimRegistration(ctx, claimID, inst); err != nil {
		return nil, fmt.Errorf("claim registration: %w", err)
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeClaimApproved,
		ActorUserID: userID,
		SubjectType: "installation",
		SubjectID:   inst.ID,
		Data: map[string]any{
			"claim_id":       claimID,
			"granted_scopes": scopes,
		},
		Revclaw: event.Context{
			AgentID:        reg.AgentID,
			AgentName:      a.Name,
			InstallationID: inst.ID,
			InitiatedBy:    event.InitiatedByUser,
		},
	})
	return inst, nil
}

// Deny rejects a PENDING registration.
func (s *RegistrationService) Deny(ctx context.Context, claimID, userID string) error {
	reg, err := s.store.GetRegistration(ctx, claimID)
	if err != nil {
		return err
	}

	if reg.ExpireIfStale(time.Now()) {
		if err := s.store.ExpireRegistration(ctx, reg.ClaimID); err != nil {
			return fmt.Errorf("expire registration: %w", err)
		}
	}
	if err := reg.CanTransitionTo(agent.RegistrationRevoked); err != nil {
		return err
	}

	if err := s.store.DenyRegistration(ctx, claimID, userID); err != nil {
		return fmt.Errorf("deny registration: %w", err)
	}

	s.emitter.Emit(ctx, Entry{
		Type:        event.TypeClaimDenied,
		ActorUserID: userID,
		SubjectType: "registration",
		SubjectID:   claimID,
		Revclaw:     event.Context{AgentID: reg.AgentID, InitiatedBy: event.InitiatedByUser},
	})
	return nil
}
