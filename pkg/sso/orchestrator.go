package sso

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/directory"
	"github.com/wardenhq/warden/pkg/gate"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/session"
)

// Post-login redirect targets by organization plan tier
const (
	RedirectEnterprise = "/admin"
	RedirectTeam       = "/team"
	RedirectIndividual = "/welcome"
)

// IdentityResolver maps a normalized identity to its home organization
type IdentityResolver interface {
	Resolve(ctx context.Context, identity directory.Identity, orgHint int64) (*directory.Organization, error)
}

// UserProvisioner creates or refreshes the user record behind a login
type UserProvisioner interface {
	Provision(ctx context.Context, identity directory.Identity, org *directory.Organization) (*directory.User, bool, error)
}

// SessionIssuer mints sessions for authenticated users
type SessionIssuer interface {
	Issue(ctx context.Context, user *directory.User, opts session.IssueOptions) (*session.Session, string, error)
}

// NetworkChecker gates logins on their network origin
type NetworkChecker interface {
	CheckIPWhitelist(ctx context.Context, ip string, orgID, userID int64) gate.Decision
}

// DeviceChecker scores the device behind a login
type DeviceChecker interface {
	AnalyzeDevice(ctx context.Context, meta gate.Metadata, userID, orgID int64) gate.Analysis
}

// LoginResult is the outcome of a completed SSO login
type LoginResult struct {
	User                 *directory.User         `json:"user"`
	Organization         *directory.Organization `json:"organization"`
	Session              *session.Session        `json:"session"`
	SessionToken         string                  `json:"-"`
	RedirectTarget       string                  `json:"redirect_target"`
	NewUser              bool                    `json:"new_user"`
	DeviceTrust          gate.Analysis           `json:"device_trust"`
	RequiresVerification bool                    `json:"requires_verification"`
}

// Orchestrator drives the steps behind an SSO callback: resolve the
// organization, provision the user, run the network and device gates,
// then issue a session.
type Orchestrator struct {
	resolver    IdentityResolver
	provisioner UserProvisioner
	sessions    SessionIssuer
	network     NetworkChecker
	devices     DeviceChecker
	recorder    audit.Recorder
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewOrchestrator wires the login pipeline together
func NewOrchestrator(resolver IdentityResolver, provisioner UserProvisioner, sessions SessionIssuer,
	network NetworkChecker, devices DeviceChecker, recorder audit.Recorder,
	metrics *observability.Metrics, logger *observability.Logger) *Orchestrator {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Orchestrator{
		resolver:    resolver,
		provisioner: provisioner,
		sessions:    sessions,
		network:     network,
		devices:     devices,
		recorder:    recorder,
		metrics:     metrics,
		logger:      logger,
	}
}

// CompleteLogin runs the full pipeline for a normalized profile. The
// network gate runs after provisioning so the emergency bypass path has a
// subject to check; provisioning only writes a directory record, never a
// session. orgHint of zero means no hint.
func (o *Orchestrator) CompleteLogin(ctx context.Context, profile *Profile, meta gate.Metadata, orgHint int64) (*LoginResult, error) {
	identity := directory.Identity{
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		ExternalID:  profile.ExternalID,
		Provider:    string(profile.Provider),
	}

	org, err := o.resolver.Resolve(ctx, identity, orgHint)
	if err != nil {
		o.recordFailure(ctx, profile, meta.IP, 0, 0, "resolution_failed", err)
		return nil, fmt.Errorf("failed to resolve organization: %w", err)
	}

	user, created, err := o.provisioner.Provision(ctx, identity, org)
	if err != nil {
		reason := "provisioning_failed"
		if errors.Is(err, directory.ErrDomainNotAuthorized) {
			reason = "domain_not_authorized"
		}
		o.recordFailure(ctx, profile, meta.IP, org.ID, 0, reason, err)
		return nil, err
	}

	decision := o.network.CheckIPWhitelist(ctx, meta.IP, org.ID, user.ID)
	if !decision.Allowed {
		o.recordFailure(ctx, profile, meta.IP, org.ID, user.ID, decision.Reason, ErrNetworkDenied)
		return nil, fmt.Errorf("%w: %s", ErrNetworkDenied, decision.Reason)
	}

	analysis := o.devices.AnalyzeDevice(ctx, meta, user.ID, org.ID)

	sess, token, err := o.sessions.Issue(ctx, user, session.IssueOptions{
		Provider:          string(profile.Provider),
		DeviceFingerprint: analysis.Fingerprint,
		NetworkOrigin:     meta.IP,
	})
	if err != nil {
		o.recordFailure(ctx, profile, meta.IP, org.ID, user.ID, "session_issue_failed", err)
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	event := audit.NewEvent(audit.ActionSSOLogin, audit.SeverityInfo).
		WithOrg(org.ID).
		WithActor(user.ID).
		WithResource(audit.ResourceUser, strconv.FormatInt(user.ID, 10)).
		WithOrigin(meta.IP).
		WithDetail("provider", string(profile.Provider)).
		WithDetail("new_user", created).
		WithDetail("device_tier", string(analysis.Tier)).
		WithDetail("device_trust_score", analysis.TrustScore)
	if decision.Bypassed {
		event = event.WithDetail("network_bypass", true)
	}
	if err := o.recorder.Record(ctx, event); err != nil {
		o.logger.WithError(err).Error("failed to record sso login")
	}

	if o.metrics != nil {
		o.metrics.LoginsTotal.WithLabelValues(string(profile.Provider), "success").Inc()
	}
	o.logger.WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"org_id":   org.ID,
		"provider": string(profile.Provider),
		"new_user": created,
	}).Info("sso login completed")

	return &LoginResult{
		User:                 user,
		Organization:         org,
		Session:              sess,
		SessionToken:         token,
		RedirectTarget:       RedirectTargetFor(org.PlanTier),
		NewUser:              created,
		DeviceTrust:          analysis,
		RequiresVerification: analysis.RequiresVerification,
	}, nil
}

// RedirectTargetFor maps a plan tier to its post-login landing page
func RedirectTargetFor(tier directory.PlanTier) string {
	switch tier {
	case directory.TierEnterprise:
		return RedirectEnterprise
	case directory.TierTeam:
		return RedirectTeam
	default:
		return RedirectIndividual
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, profile *Profile, ip string, orgID, userID int64, reason string, cause error) {
	event := audit.NewEvent(audit.ActionSSOLoginFailed, audit.SeverityMedium).
		WithOrigin(ip).
		WithDetail("provider", string(profile.Provider)).
		WithDetail("email", profile.Email).
		WithDetail("reason", reason)
	if orgID != 0 {
		event = event.WithOrg(orgID)
	}
	if userID != 0 {
		event = event.WithActor(userID)
	}
	if err := o.recorder.Record(ctx, event); err != nil {
		o.logger.WithError(err).Error("failed to record sso login failure")
	}

	if o.metrics != nil {
		o.metrics.LoginsTotal.WithLabelValues(string(profile.Provider), "failure").Inc()
	}
	o.logger.WithError(cause).WithFields(map[string]interface{}{
		"provider": string(profile.Provider),
		"reason":   reason,
	}).Warn("sso login failed")
}
