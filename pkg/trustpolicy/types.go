// Package trustpolicy stores per-organization network and session trust
// policies and serves them through a short-lived cache.
package trustpolicy

import (
	"errors"
	"time"
)

// ErrPolicyUnavailable is returned when a policy cannot be loaded. Callers
// on enforcement paths must treat this as a denial.
var ErrPolicyUnavailable = errors.New("trust policy unavailable")

// Policy is an organization's network and session trust configuration.
// A nil policy for an organization means no restrictions are configured.
type Policy struct {
	ID             int64 `json:"id"`
	OrganizationID int64 `json:"organization_id"`

	// Network restrictions
	AllowedIPs      []string `json:"allowed_ips"`
	AllowedCIDRs    []string `json:"allowed_cidrs"`
	AllowedGeos     []string `json:"allowed_geos"`
	DeniedGeos      []string `json:"denied_geos"`
	BlockUnknownIPs bool     `json:"block_unknown_ips"`

	// EmergencyBypassEnabled lets owners and admins through a network
	// denial. Every use is audited.
	EmergencyBypassEnabled bool `json:"emergency_bypass_enabled"`

	// Session controls
	SessionTimeoutHours int `json:"session_timeout_hours"`
	MaxSessionHours     int `json:"max_session_hours"`

	// Provisioning defaults
	DefaultRole            string `json:"default_role,omitempty"`
	AutoApprovalLimitCents int64  `json:"auto_approval_limit_cents"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasNetworkRestrictions reports whether the policy restricts network
// origins at all.
func (p *Policy) HasNetworkRestrictions() bool {
	if p == nil {
		return false
	}
	return len(p.AllowedIPs) > 0 || len(p.AllowedCIDRs) > 0 ||
		len(p.AllowedGeos) > 0 || len(p.DeniedGeos) > 0 || p.BlockUnknownIPs
}

// SessionLimits returns the policy's session timeout and hard cap in
// hours, substituting the given defaults for unset values.
func (p *Policy) SessionLimits(defaultTimeout, defaultMax int) (timeout, max int) {
	timeout, max = defaultTimeout, defaultMax
	if p == nil {
		return timeout, max
	}
	if p.SessionTimeoutHours > 0 {
		timeout = p.SessionTimeoutHours
	}
	if p.MaxSessionHours > 0 {
		max = p.MaxSessionHours
	}
	return timeout, max
}
