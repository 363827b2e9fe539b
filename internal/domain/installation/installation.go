// Package installation defines the durable (agent, user) authorization
// binding plus the credentials minted under it: exchange codes and
// short-lived bearer access tokens.
package installation

import (
	"time"
)

// Status represents the lifecycle state of an installation.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusRevoked   Status = "REVOKED"
)

// Installation binds an agent to a user with a snapshot of the scopes
// granted at claim time. One installation per (agent, user) pair.
type Installation struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	UserID        string    `json:"user_id"`
	GrantedScopes []string  `json:"granted_scopes"`
	Status        Status    `json:"status"`

	// Approval-requirement policy. Defaults are fail-safe: sensitive
	// kinds require a human-approved intent unless the owner opts out.
	RequireApprovalForPublish bool `json:"require_approval_for_publish"`
	RequireApprovalForApply   bool `json:"require_approval_for_apply"`

	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	RevokeReason      string     `json:"revoke_reason,omitempty"`
	LastTokenIssuedAt *time.Time `json:"last_token_issued_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasScope reports whether scope is in the granted set. Scopes are flat
// strings checked by exact membership; no hierarchy or wildcards.
func (i *Installation) HasScope(scope string) bool {
	for _, s := range i.GrantedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CodeStatus represents the state of an exchange code.
type CodeStatus string

const (
	CodePending  CodeStatus = "PENDING"
	CodeConsumed CodeStatus = "CONSUMED"
	CodeRevoked  CodeStatus = "REVOKED"
	CodeExpired  CodeStatus = "EXPIRED"
)

// ExchangeCode is a single-use, short-lived credential minted to an
// authenticated bot polling a claimed registration, traded for an access
// token. Only the hash is ever stored. At most one PENDING code exists
// per installation.
type ExchangeCode struct {
	ID             string     `json:"id"`
	InstallationID string     `json:"installation_id"`
	CodeHash       string     `json:"-"`
	Scopes         []string   `json:"scopes"`
	Status         CodeStatus `json:"status"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Usable reports whether the code can still be exchanged at the given time.
func (c *ExchangeCode) Usable(now time.Time) bool {
	return c.Status == CodePending && now.Before(c.ExpiresAt)
}

// AccessToken is a short-lived bearer credential bound to an installation
// and the scope snapshot at issuance. Revoked tokens are rejected
// immediately regardless of expiry.
type AccessToken struct {
	ID             string     `json:"id"`
	InstallationID string     `json:"installation_id"`
	TokenHash      string     `json:"-"`
	Scopes         []string   `json:"scopes"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Valid reports whether the token is usable at the given time.
func (t *AccessToken) Valid(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// RefreshToken rotates alongside access tokens on /tokens/refresh.
type RefreshToken struct {
	ID             string    `json:"id"`
	InstallationID string    `json:"installation_id"`
	TokenHash      string    `json:"-"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}
