// Package audit provides the append-only security audit log. Every other
// component writes to it; the only read path is the admin review listing.
package audit

import (
	"time"
)

// Action tags the kind of security-relevant event being recorded
type Action string

const (
	// Authentication events
	ActionSSOLogin       Action = "auth.sso_login"
	ActionSSOLoginFailed Action = "auth.sso_login_failed"
	ActionLogout         Action = "auth.logout"

	// Authorization events
	ActionRoleChange   Action = "authz.role_change"
	ActionRoleAssigned Action = "authz.role_assigned"
	ActionAccessDenied Action = "authz.access_denied"

	// Network gate events
	ActionNetworkDenied Action = "network.denied"
	ActionNetworkBypass Action = "network.bypass"
	ActionNetworkError  Action = "network.check_error"

	// Device gate events
	ActionNewDevice   Action = "device.new_device"
	ActionThreatMatch Action = "device.threat_match"
)

// Severity classifies how urgently an event should be reviewed
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ResourceType identifies the entity an event refers to
type ResourceType string

const (
	ResourceUser         ResourceType = "user"
	ResourceOrganization ResourceType = "organization"
	ResourceSession      ResourceType = "session"
	ResourceDevice       ResourceType = "device"
	ResourcePolicy       ResourceType = "policy"
)

// Event is a single immutable audit log entry. There is no update or
// delete path; entries are written once and kept.
type Event struct {
	ID             int64                  `json:"id"`
	OrganizationID *int64                 `json:"organization_id,omitempty"`
	ActorUserID    *int64                 `json:"actor_user_id,omitempty"` // nil for system actions
	Action         Action                 `json:"action"`
	Severity       Severity               `json:"severity"`
	ResourceType   ResourceType           `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	NetworkOrigin  string                 `json:"network_origin,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time
func NewEvent(action Action, severity Severity) *Event {
	return &Event{
		Action:    action,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Details:   make(map[string]interface{}),
	}
}

// WithOrg sets the owning organization
func (e *Event) WithOrg(orgID int64) *Event {
	e.OrganizationID = &orgID
	return e
}

// WithActor sets the acting user
func (e *Event) WithActor(userID int64) *Event {
	e.ActorUserID = &userID
	return e
}

// WithResource sets the resource the event refers to
func (e *Event) WithResource(rt ResourceType, id string) *Event {
	e.ResourceType = rt
	e.ResourceID = id
	return e
}

// WithOrigin sets the network origin
func (e *Event) WithOrigin(origin string) *Event {
	e.NetworkOrigin = origin
	return e
}

// WithDetail adds a detail field
func (e *Event) WithDetail(key string, value interface{}) *Event {
	e.Details[key] = value
	return e
}
