package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/pkg/observability"
)

// Identity is the normalized result of an external login, independent of
// which provider produced it.
type Identity struct {
	Email       string
	DisplayName string
	ExternalID  string
	Provider    string
}

// OrganizationStore is the persistence surface the resolver needs
type OrganizationStore interface {
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	FindOrganizationByDomain(ctx context.Context, domain string) (*Organization, error)
	CreateOrganization(ctx context.Context, org *Organization) error
}

// Resolver maps an authenticated identity to its home organization
type Resolver struct {
	store  OrganizationStore
	logger *observability.Logger
}

// NewResolver creates an organization resolver
func NewResolver(store OrganizationStore, logger *observability.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve finds the organization an identity belongs to. Resolution order:
// an explicit hint whose whitelist admits the email domain, then a domain
// whitelist search, then a freshly created individual workspace. orgHint of
// zero means no hint.
func (r *Resolver) Resolve(ctx context.Context, identity Identity, orgHint int64) (*Organization, error) {
	domain := EmailDomain(identity.Email)
	if domain == "" {
		return nil, fmt.Errorf("identity email %q has no domain", identity.Email)
	}

	if orgHint != 0 {
		org, err := r.store.GetOrganization(ctx, orgHint)
		switch {
		case err == nil && org.AdmitsDomain(domain):
			return org, nil
		case err == nil:
			// Hinted organization rejects the domain; fall through to search
			r.logger.WithFields(map[string]interface{}{
				"org_id": orgHint,
				"domain": domain,
			}).Warn("organization hint rejected by domain whitelist")
		case errors.Is(err, ErrOrganizationNotFound):
			r.logger.WithField("org_id", orgHint).Warn("organization hint not found")
		default:
			return nil, err
		}
	}

	org, err := r.store.FindOrganizationByDomain(ctx, domain)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, ErrOrganizationNotFound) {
		return nil, err
	}

	return r.createIndividualWorkspace(ctx, identity)
}

// createIndividualWorkspace provisions a single-user organization for an
// identity whose domain matches nothing.
func (r *Resolver) createIndividualWorkspace(ctx context.Context, identity Identity) (*Organization, error) {
	name := identity.DisplayName
	if name == "" {
		name = identity.Email
		if at := strings.Index(name, "@"); at > 0 {
			name = name[:at]
		}
	}

	org := &Organization{
		Name:                   name + "'s Workspace",
		PlanTier:               TierIndividual,
		DomainWhitelist:        []string{},
		SSOProvider:            identity.Provider,
		AutoApprovalLimitCents: DefaultAutoApprovalLimitCents,
	}
	if err := r.store.CreateOrganization(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to create individual workspace: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"org_id": org.ID,
		"tier":   string(org.PlanTier),
	}).Info("created individual workspace")
	return org, nil
}
