// Package project holds the marketplace resources that RevClaw-gated
// operations act on: projects, marketer applications and coupon claims.
package project

import (
	"fmt"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
)

// Visibility of a project listing.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

// Project is a merchant listing. Publishing flips Visibility to PUBLIC
// and is one of the approval-gated actions.
type Project struct {
	ID                string     `json:"id"`
	OwnerUserID       string     `json:"owner_user_id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Visibility        Visibility `json:"visibility"`
	CommissionPercent float64    `json:"commission_percent"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ApplicationStatus tracks a marketer application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationAccepted ApplicationStatus = "ACCEPTED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// Application is a marketer's request to promote a project.
type Application struct {
	ID              string            `json:"id"`
	ProjectID       string            `json:"project_id"`
	MarketerUserID  string            `json:"marketer_user_id"`
	Pitch           string            `json:"pitch"`
	Status          ApplicationStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// CouponClaim records a claimed promo code for a project.
type CouponClaim struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest is the owner-facing payload for creating a project.
type CreateRequest struct {
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	CommissionPercent float64 `json:"commission_percent"`
}

// Validate checks the create request.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if r.CommissionPercent < 0 || r.CommissionPercent > 100 {
		return fmt.Errorf("%w: commission_percent must be between 0 and 100", domain.ErrValidation)
	}
	return nil
}

// ApplyRequest is the payload for submitting a marketer application.
type ApplyRequest struct {
	Pitch string `json:"pitch"`
}

// Validate checks the apply request.
func (r *ApplyRequest) Validate() error {
	if r.Pitch == "" {
		return fmt.Errorf("%w: pitch is required", domain.ErrValidation)
	}
	if len(r.Pitch) > 4000 {
		return fmt.Errorf("%w: pitch exceeds 4000 characters", domain.ErrValidation)
	}
	return nil
}

// CanPublish reports whether the project can transition to PUBLIC.
func (p *Project) CanPublish() error {
	if p.Visibility == VisibilityPublic {
		return fmt.Errorf("project %s is already public: %w", p.ID, domain.ErrConflict)
	}
	return nil
}
