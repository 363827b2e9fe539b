// Package agent defines the Agent and Registration domain entities and
// the claim state machine that gates agent onboarding behind a human.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
)

// Status represents the lifecycle state of a registered agent.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

// Agent represents a registered autonomous actor. SecretHash is write-once:
// the plaintext secret is returned exactly once at registration and never
// re-exposed afterwards.
type Agent struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	ManifestMarkdown string         `json:"manifest_markdown,omitempty"`
	ManifestURL      string         `json:"manifest_url,omitempty"`
	ManifestHash     string         `json:"manifest_hash"`
	SecretHash       string         `json:"-"`
	IdentityProofURL string         `json:"identity_proof_url,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Status           Status         `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// RegistrationStatus represents the state of a claim.
type RegistrationStatus string

const (
	RegistrationPending RegistrationStatus = "PENDING"
	RegistrationClaimed RegistrationStatus = "CLAIMED"
	RegistrationExpired RegistrationStatus = "EXPIRED"
	RegistrationRevoked RegistrationStatus = "REVOKED"
)

// Registration is a single claim attempt: the short-lived, human-approvable
// link between an agent and the user who will own its installation.
type Registration struct {
	ClaimID         string             `json:"claim_id"`
	AgentID         string             `json:"agent_id"`
	RequestedScopes []string           `json:"requested_scopes"`
	Status          RegistrationStatus `json:"status"`
	ClaimedByUserID string             `json:"claimed_by_user_id,omitempty"`
	ExpiresAt       time.Time          `json:"expires_at"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Terminal reports whether the registration can take no further transitions.
func (r *Registration) Terminal() bool {
	return r.Status != RegistrationPending
}

// ExpireIfStale flips a PENDING registration past its expiry to EXPIRED.
// It is idempotent: calling it on an already-terminal registration is a
// no-op. Returns true when the status changed and needs persisting.
func (r *Registration) ExpireIfStale(now time.Time) bool {
	if r.Status != RegistrationPending {
		return false
	}
	if now.Before(r.ExpiresAt) {
		return false
	}
	r.Status = RegistrationExpired
	return true
}

// CanTransitionTo enforces the claim state machine: PENDING is the only
// non-terminal state, and PENDING itself is never a transition target.
func (r *Registration) CanTransitionTo(next RegistrationStatus) error {
	if r.Status != RegistrationPending {
		return fmt.Errorf("registration %s is %s: %w", r.ClaimID, r.Status, domain.ErrConflict)
	}
	if next == RegistrationPending {
		return fmt.Errorf("cannot transition back to PENDING: %w", domain.ErrConflict)
	}
	return nil
}

// ManifestMaxBytes is the hard cap on manifest content after fetch/trim.
const ManifestMaxBytes = 64 * 1024

// RegisterRequest is the payload for POST /agents/register.
type RegisterRequest struct {
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	ManifestMarkdown string         `json:"manifest_markdown,omitempty"`
	ManifestURL      string         `json:"manifest_url,omitempty"`
	IdentityProofURL string         `json:"identity_proof_url,omitempty"`
	RequestedScopes  []string       `json:"requested_scopes,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Validate checks structural requirements. Manifest content validation
// happens after URL resolution, in ValidateManifest.
func (r *RegisterRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	hasMarkdown := r.ManifestMarkdown != ""
	hasURL := r.ManifestURL != ""
	if hasMarkdown == hasURL {
		return fmt.Errorf("%w: exactly one of manifest_markdown or manifest_url is required", domain.ErrValidation)
	}
	return nil
}

// ValidateManifest checks the resolved manifest content.
func ValidateManifest(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("%w: manifest is empty", domain.ErrValidation)
	}
	if len(content) > ManifestMaxBytes {
		return fmt.Errorf("%w: manifest exceeds %d bytes", domain.ErrValidation, ManifestMaxBytes)
	}
	return nil
}

// ErrSuspended is returned when a suspended agent authenticates.
var ErrSuspended = errors.New("agent is suspended")

// Usable returns ErrSuspended unless the agent is ACTIVE. Every
// authentication path checks it so a suspension cuts off both bearer and
// header-based access.
func (a *Agent) Usable() error {
	if a.Status != StatusActive {
		return ErrSuspended
	}
	return nil
}
