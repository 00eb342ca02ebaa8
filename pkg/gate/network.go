// Package gate enforces network origin restrictions and device trust
// scoring ahead of authentication. Every check fails closed: errors deny.
package gate

import (
	"context"
	"net"
	"strconv"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/rbac"
	"github.com/wardenhq/warden/pkg/trustpolicy"
)

// Denial reasons reported in Decision.Reason
const (
	ReasonNoPolicy       = "no_policy"
	ReasonIPWhitelisted  = "ip_whitelisted"
	ReasonCIDRMatch      = "cidr_match"
	ReasonGeoAllowed     = "geo_allowed"
	ReasonGeoDenied      = "geo_denied"
	ReasonUnknownBlocked = "unknown_origin_blocked"
	ReasonUnrestricted   = "unrestricted"
	ReasonCheckError     = "check_error"
	ReasonInvalidIP      = "invalid_ip"
)

// Risk scores attached to network decisions
const (
	riskNone       = 0
	riskUnlisted   = 40
	riskCheckError = 60
	riskUnknownIP  = 70
	riskGeoDenied  = 80
)

// Decision is the outcome of a network origin check
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	RiskScore int    `json:"risk_score"`
	Bypassed  bool   `json:"bypassed,omitempty"`
}

// SubjectSource provides the role lookup needed for emergency bypass
type SubjectSource interface {
	Subject(ctx context.Context, userID int64) (*rbac.Subject, error)
}

// NetworkGate evaluates client origins against an organization's trust
// policy
type NetworkGate struct {
	policies trustpolicy.Provider
	subjects SubjectSource
	geo      GeoResolver
	recorder audit.Recorder
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewNetworkGate creates a network gate
func NewNetworkGate(policies trustpolicy.Provider, subjects SubjectSource, geo GeoResolver,
	recorder audit.Recorder, metrics *observability.Metrics, logger *observability.Logger) *NetworkGate {
	if geo == nil {
		geo = NopGeoResolver{}
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &NetworkGate{
		policies: policies,
		subjects: subjects,
		geo:      geo,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
}

// CheckIPWhitelist decides whether a client IP may proceed for the given
// organization. userID of zero means the caller is not yet authenticated;
// a known user id enables the emergency bypass path for owners and admins.
func (g *NetworkGate) CheckIPWhitelist(ctx context.Context, ip string, orgID, userID int64) Decision {
	decision := g.evaluate(ctx, ip, orgID)

	if !decision.Allowed {
		if bypassed := g.tryBypass(ctx, ip, orgID, userID, decision); bypassed != nil {
			decision = *bypassed
		} else {
			g.recordDenial(ctx, ip, orgID, userID, decision)
		}
	}

	if g.metrics != nil {
		outcome := "deny"
		if decision.Allowed {
			outcome = "allow"
		}
		g.metrics.GateDecisionsTotal.WithLabelValues("network", outcome).Inc()
	}
	return decision
}

func (g *NetworkGate) evaluate(ctx context.Context, ip string, orgID int64) Decision {
	policy, err := g.policies.GetByOrganization(ctx, orgID)
	if err != nil {
		return g.checkError(ctx, ip, orgID, err)
	}
	if !policy.HasNetworkRestrictions() {
		return Decision{Allowed: true, Reason: ReasonNoPolicy, RiskScore: riskNone}
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Decision{Allowed: false, Reason: ReasonInvalidIP, RiskScore: riskCheckError}
	}

	for _, allowed := range policy.AllowedIPs {
		if candidate := net.ParseIP(allowed); candidate != nil && candidate.Equal(parsed) {
			return Decision{Allowed: true, Reason: ReasonIPWhitelisted, RiskScore: riskNone}
		}
	}

	for _, cidr := range policy.AllowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			g.logger.WithField("cidr", cidr).WithError(err).Warn("skipping malformed CIDR in trust policy")
			continue
		}
		if network.Contains(parsed) {
			return Decision{Allowed: true, Reason: ReasonCIDRMatch, RiskScore: riskNone}
		}
	}

	country, err := g.geo.Country(ctx, ip)
	if err != nil {
		return g.checkError(ctx, ip, orgID, err)
	}
	if country != "" {
		for _, denied := range policy.DeniedGeos {
			if denied == country {
				return Decision{Allowed: false, Reason: ReasonGeoDenied, RiskScore: riskGeoDenied}
			}
		}
		for _, allowed := range policy.AllowedGeos {
			if allowed == country {
				return Decision{Allowed: true, Reason: ReasonGeoAllowed, RiskScore: riskNone}
			}
		}
	}

	if policy.BlockUnknownIPs {
		return Decision{Allowed: false, Reason: ReasonUnknownBlocked, RiskScore: riskUnknownIP}
	}
	return Decision{Allowed: true, Reason: ReasonUnrestricted, RiskScore: riskUnlisted}
}

// tryBypass lets owners and admins through a denial when the policy
// enables emergency bypass. Returns nil when no bypass applies.
func (g *NetworkGate) tryBypass(ctx context.Context, ip string, orgID, userID int64, denied Decision) *Decision {
	if userID == 0 || g.subjects == nil || denied.Reason == ReasonCheckError {
		return nil
	}
	policy, err := g.policies.GetByOrganization(ctx, orgID)
	if err != nil || policy == nil || !policy.EmergencyBypassEnabled {
		return nil
	}
	subject, err := g.subjects.Subject(ctx, userID)
	if err != nil {
		return nil
	}
	if subject.Role != rbac.RoleOwner && subject.Role != rbac.RoleAdmin {
		return nil
	}

	event := audit.NewEvent(audit.ActionNetworkBypass, audit.SeverityMedium).
		WithOrg(orgID).
		WithActor(userID).
		WithOrigin(ip).
		WithDetail("denied_reason", denied.Reason).
		WithDetail("risk_score", denied.RiskScore).
		WithDetail("role", string(subject.Role))
	if err := g.recorder.Record(ctx, event); err != nil {
		g.logger.WithError(err).Error("failed to record emergency bypass")
	}

	return &Decision{Allowed: true, Reason: denied.Reason, RiskScore: denied.RiskScore, Bypassed: true}
}

func (g *NetworkGate) checkError(ctx context.Context, ip string, orgID int64, cause error) Decision {
	g.logger.WithError(cause).WithField("org_id", orgID).Error("network check failed, denying")

	event := audit.NewEvent(audit.ActionNetworkError, audit.SeverityHigh).
		WithOrg(orgID).
		WithOrigin(ip).
		WithDetail("error", cause.Error())
	if err := g.recorder.Record(ctx, event); err != nil {
		g.logger.WithError(err).Error("failed to record network check error")
	}
	return Decision{Allowed: false, Reason: ReasonCheckError, RiskScore: riskCheckError}
}

func (g *NetworkGate) recordDenial(ctx context.Context, ip string, orgID, userID int64, d Decision) {
	if d.Reason == ReasonCheckError {
		return // already recorded
	}
	event := audit.NewEvent(audit.ActionNetworkDenied, audit.SeverityMedium).
		WithOrg(orgID).
		WithOrigin(ip).
		WithDetail("reason", d.Reason).
		WithDetail("risk_score", d.RiskScore)
	if userID != 0 {
		event = event.WithActor(userID).WithResource(audit.ResourceUser, strconv.FormatInt(userID, 10))
	}
	if err := g.recorder.Record(ctx, event); err != nil {
		g.logger.WithError(err).Error("failed to record network denial")
	}
}
