package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/rbac"
)

// UserStore is the persistence surface the provisioner needs
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	TouchLogin(ctx context.Context, userID int64, displayName string) error
}

// Provisioner creates or refreshes user records during SSO logins
type Provisioner struct {
	store  UserStore
	logger *observability.Logger
}

// NewProvisioner creates a user provisioner
func NewProvisioner(store UserStore, logger *observability.Logger) *Provisioner {
	return &Provisioner{store: store, logger: logger}
}

// Provision returns the user record for an authenticated identity within
// an organization, creating it on first login. Existing users get their
// display name and last-login time refreshed; role and limit are never
// touched here. Inactive and suspended users are refused. The bool result
// is true when a new user was created.
func (p *Provisioner) Provision(ctx context.Context, identity Identity, org *Organization) (*User, bool, error) {
	existing, err := p.store.GetUserByEmail(ctx, identity.Email)
	if err == nil {
		if existing.Status != UserStatusActive {
			return nil, false, fmt.Errorf("%w: %s", ErrUserNotActive, existing.Status)
		}
		name := identity.DisplayName
		if name == "" {
			name = existing.DisplayName
		}
		if err := p.store.TouchLogin(ctx, existing.ID, name); err != nil {
			return nil, false, fmt.Errorf("failed to refresh user on login: %w", err)
		}
		existing.DisplayName = name
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	// New user. Shared organizations only admit whitelisted domains;
	// individual workspaces belong to whoever created them.
	if org.PlanTier != TierIndividual && !org.AdmitsDomain(EmailDomain(identity.Email)) {
		return nil, false, fmt.Errorf("%w: %s", ErrDomainNotAuthorized, EmailDomain(identity.Email))
	}

	now := time.Now().UTC()
	user := &User{
		OrganizationID:     org.ID,
		Email:              identity.Email,
		DisplayName:        identity.DisplayName,
		ExternalID:         identity.ExternalID,
		Role:               rbac.RoleAnalyst,
		ApprovalLimitCents: rbac.DefaultApprovalLimit(rbac.RoleAnalyst),
		Status:             UserStatusActive,
		EmailVerified:      true, // the IdP already verified the address
		LastLoginAt:        &now,
	}
	if err := p.store.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("failed to provision user: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"org_id":  org.ID,
		"role":    string(user.Role),
	}).Info("provisioned new user")
	return user, true, nil
}
