// Package user defines marketplace accounts and the session claims
// embedded in dashboard JWTs.
package user

import (
	"fmt"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
)

// Role of a marketplace account.
type Role string

const (
	RoleMerchant Role = "merchant"
	RoleMarketer Role = "marketer"
	RoleAdmin    Role = "admin"
)

// User is a marketplace account. PasswordHash is a bcrypt digest and
// never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TokenClaims is the session JWT payload for dashboard requests.
type TokenClaims struct {
	UserID    string `json:"sub"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

// Expired reports whether the claims are past their expiry.
func (c *TokenClaims) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// CreateRequest is the admin-facing payload for creating a user.
type CreateRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	Password    string `json:"password"`
}

// Validate checks the create request.
func (r *CreateRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	}
	if r.Password == "" {
		return fmt.Errorf("%w: password is required", domain.ErrValidation)
	}
	if len(r.Password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", domain.ErrValidation)
	}
	switch r.Role {
	case RoleMerchant, RoleMarketer, RoleAdmin:
	default:
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, r.Role)
	}
	return nil
}
