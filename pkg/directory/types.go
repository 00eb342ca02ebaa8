// Package directory holds organizations, users, and teams, and implements
// identity resolution and just-in-time provisioning for SSO logins.
package directory

import (
	"errors"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/rbac"
)

var (
	// ErrOrganizationNotFound is returned when no organization matches the
	// requested identifier
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrUserNotFound is returned when no user matches the requested
	// identifier
	ErrUserNotFound = errors.New("user not found")

	// ErrDomainNotAuthorized is returned when a login email's domain is not
	// on the organization's whitelist
	ErrDomainNotAuthorized = errors.New("email domain not authorized for organization")

	// ErrUserNotActive is returned when an inactive or suspended user
	// attempts to authenticate
	ErrUserNotActive = errors.New("user is not active")
)

// PlanTier describes an organization's subscription level
type PlanTier string

const (
	TierIndividual PlanTier = "individual"
	TierTeam       PlanTier = "team"
	TierEnterprise PlanTier = "enterprise"
)

// DefaultAutoApprovalLimitCents is the auto-approval limit given to
// organizations created implicitly during login.
const DefaultAutoApprovalLimitCents int64 = 50000

// Organization is a tenant. DomainWhitelist restricts which email domains
// may join; an empty whitelist admits any domain.
type Organization struct {
	ID                     int64     `json:"id"`
	Name                   string    `json:"name"`
	PlanTier               PlanTier  `json:"plan_tier"`
	DomainWhitelist        []string  `json:"domain_whitelist"`
	SSOProvider            string    `json:"sso_provider,omitempty"`
	AutoApprovalLimitCents int64     `json:"auto_approval_limit_cents"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// AdmitsDomain reports whether the organization's whitelist allows the
// given email domain. Matching is case-insensitive; an empty whitelist
// admits everything.
func (o *Organization) AdmitsDomain(domain string) bool {
	if len(o.DomainWhitelist) == 0 {
		return true
	}
	domain = strings.ToLower(domain)
	for _, d := range o.DomainWhitelist {
		if strings.ToLower(d) == domain {
			return true
		}
	}
	return false
}

// UserStatus tracks whether a user may authenticate
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// User is a member of exactly one organization
type User struct {
	ID                 int64      `json:"id"`
	OrganizationID     int64      `json:"organization_id"`
	Email              string     `json:"email"`
	DisplayName        string     `json:"display_name"`
	ExternalID         string     `json:"external_id,omitempty"`
	Role               rbac.Role  `json:"role"`
	ApprovalLimitCents int64      `json:"approval_limit_cents"`
	Status             UserStatus `json:"status"`
	EmailVerified      bool       `json:"email_verified"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Team is a grouping of users within an organization
type Team struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// EmailDomain extracts the lowercase domain part of an email address.
// Returns empty string when the address has no domain.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
