// Package rbac implements role-based access control with fixed role
// definitions, per-role spending limits, and contextual permission subsets
// for team leadership and resource ownership.
package rbac

// Role is one of the five fixed organization roles
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// Permission names a single action a subject may perform
type Permission string

const (
	// Organization administration
	PermOrgManage  Permission = "org.manage"
	PermOrgBilling Permission = "org.billing"

	// User administration
	PermUsersManage Permission = "users.manage"
	PermUsersInvite Permission = "users.invite"
	PermUsersView   Permission = "users.view"

	// Team administration (all teams in the organization)
	PermTeamsManage Permission = "teams.manage"
	PermTeamsView   Permission = "teams.view"

	// Security surface
	PermPoliciesManage Permission = "policies.manage"
	PermAuditView      Permission = "audit.view"
	PermAuditExport    Permission = "audit.export"
	PermSessionsRevoke Permission = "sessions.revoke"

	// Analyses
	PermAnalysesCreate      Permission = "analyses.create"
	PermAnalysesViewOwn     Permission = "analyses.view_own"
	PermAnalysesEditOwn     Permission = "analyses.edit_own"
	PermAnalysesDeleteOwn   Permission = "analyses.delete_own"
	PermAnalysesViewTeam    Permission = "analyses.view_team"
	PermAnalysesApproveTeam Permission = "analyses.approve_team"
	PermAnalysesViewAll     Permission = "analyses.view_all"
	PermAnalysesApproveAll  Permission = "analyses.approve_all"

	// Team-scoped management, granted contextually to team leads
	PermTeamManage Permission = "team.manage"
)

// UnlimitedApproval is the sentinel approval limit meaning no cap applies.
const UnlimitedApproval int64 = 0

// roleDefinition pairs a role's explicit permission set with its default
// approval limit in cents. Sets are explicit rather than inherited; no role
// is defined as a superset of another.
type roleDefinition struct {
	permissions   map[Permission]bool
	approvalLimit int64
}

var roleTable = map[Role]roleDefinition{
	RoleOwner: {
		permissions: permSet(
			PermOrgManage, PermOrgBilling,
			PermUsersManage, PermUsersInvite, PermUsersView,
			PermTeamsManage, PermTeamsView,
			PermPoliciesManage, PermAuditView, PermSessionsRevoke,
			PermAnalysesCreate, PermAnalysesViewAll, PermAnalysesApproveAll,
			PermAnalysesViewOwn, PermAnalysesEditOwn, PermAnalysesDeleteOwn,
		),
		approvalLimit: UnlimitedApproval,
	},
	RoleAdmin: {
		permissions: permSet(
			PermUsersManage, PermUsersInvite, PermUsersView,
			PermTeamsManage, PermTeamsView,
			PermPoliciesManage, PermAuditView, PermAuditExport, PermSessionsRevoke,
			PermAnalysesCreate, PermAnalysesViewAll, PermAnalysesApproveAll,
		),
		approvalLimit: 250000,
	},
	RoleManager: {
		permissions: permSet(
			PermUsersInvite, PermUsersView, PermTeamsView,
			PermAnalysesCreate, PermAnalysesViewTeam, PermAnalysesApproveTeam,
		),
		approvalLimit: 100000,
	},
	RoleAnalyst: {
		permissions: permSet(
			PermAnalysesCreate, PermAnalysesViewOwn, PermAnalysesEditOwn,
		),
		approvalLimit: 50000,
	},
	RoleViewer: {
		permissions:   permSet(PermAnalysesViewOwn),
		approvalLimit: UnlimitedApproval,
	},
}

// teamLeadPermissions is the contextual subset granted to a user who leads
// the team a resource belongs to, regardless of organization role.
var teamLeadPermissions = permSet(
	PermTeamManage, PermAnalysesViewTeam, PermAnalysesApproveTeam,
)

// ownerPermissions is the contextual subset granted to the user who owns
// the resource being acted on.
var ownerPermissions = permSet(
	PermAnalysesViewOwn, PermAnalysesEditOwn, PermAnalysesDeleteOwn,
)

func permSet(perms ...Permission) map[Permission]bool {
	s := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		s[p] = true
	}
	return s
}

// ValidRole reports whether r names one of the five fixed roles
func ValidRole(r Role) bool {
	_, ok := roleTable[r]
	return ok
}

// DefaultApprovalLimit returns the approval limit a role carries when
// freshly assigned, in cents. Zero means unlimited.
func DefaultApprovalLimit(r Role) int64 {
	return roleTable[r].approvalLimit
}

// RoleHasPermission reports whether the role's explicit permission set
// contains the permission. Unknown roles have no permissions.
func RoleHasPermission(r Role, p Permission) bool {
	def, ok := roleTable[r]
	if !ok {
		return false
	}
	return def.permissions[p]
}

// RolePermissions returns a copy of the role's explicit permission set
func RolePermissions(r Role) []Permission {
	def, ok := roleTable[r]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(def.permissions))
	for p := range def.permissions {
		out = append(out, p)
	}
	return out
}

// AllRoles lists the five fixed roles
func AllRoles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleManager, RoleAnalyst, RoleViewer}
}
