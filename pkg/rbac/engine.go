package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wardenhq/warden/pkg/audit"
)

var (
	// ErrInsufficientPermission is returned when the acting user lacks the
	// permission required for an operation
	ErrInsufficientPermission = errors.New("insufficient permission")

	// ErrUnknownRole is returned when a role name is not one of the five
	// fixed roles
	ErrUnknownRole = errors.New("unknown role")
)

// TeamRoleLead marks a team membership as the team's lead
const TeamRoleLead = "lead"

// Subject is the access-control view of a user: just enough to evaluate
// permissions and spending limits.
type Subject struct {
	ID                 int64
	OrganizationID     int64
	Role               Role
	ApprovalLimitCents int64
}

// Directory is the user lookup surface the engine evaluates against
type Directory interface {
	// Subject returns the access-control view of a user
	Subject(ctx context.Context, userID int64) (*Subject, error)
	// TeamRole returns the membership role of a user within a team, or
	// empty string when the user is not a member
	TeamRole(ctx context.Context, teamID, userID int64) (string, error)
	// SetRole updates a user's role and approval limit atomically
	SetRole(ctx context.Context, userID int64, role Role, limitCents int64) error
}

// ResourceContext carries the ownership and team attribution of the
// resource a permission check applies to. Nil means no resource context.
type ResourceContext struct {
	OwnerUserID int64
	TeamID      int64
}

// Engine evaluates permissions and manages role assignment
type Engine struct {
	dir      Directory
	recorder audit.Recorder
}

// NewEngine creates a permission engine backed by the given directory
func NewEngine(dir Directory, recorder audit.Recorder) *Engine {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Engine{dir: dir, recorder: recorder}
}

// CheckPermission reports whether the user may perform the permission,
// optionally against a specific resource. Evaluation order: role set,
// then team-lead subset, then ownership subset. Any lookup error denies.
func (e *Engine) CheckPermission(ctx context.Context, userID int64, perm Permission, rctx *ResourceContext) bool {
	subject, err := e.dir.Subject(ctx, userID)
	if err != nil || subject == nil {
		return false
	}

	if RoleHasPermission(subject.Role, perm) {
		return true
	}

	if rctx == nil {
		return false
	}

	if rctx.TeamID != 0 && teamLeadPermissions[perm] {
		teamRole, err := e.dir.TeamRole(ctx, rctx.TeamID, userID)
		if err != nil {
			return false
		}
		if teamRole == TeamRoleLead {
			return true
		}
	}

	if rctx.OwnerUserID != 0 && rctx.OwnerUserID == userID && ownerPermissions[perm] {
		return true
	}

	return false
}

// CheckApprovalLimit reports whether the user may approve a spend of the
// given amount in cents. A stored limit of zero means unlimited. Lookup
// errors deny.
func (e *Engine) CheckApprovalLimit(ctx context.Context, userID int64, amountCents int64) bool {
	subject, err := e.dir.Subject(ctx, userID)
	if err != nil || subject == nil {
		return false
	}
	if subject.ApprovalLimitCents == UnlimitedApproval {
		return true
	}
	return amountCents <= subject.ApprovalLimitCents
}

// AssignRole changes the target user's role. The actor must hold
// users.manage. The target's approval limit is reset to the new role's
// default. Nothing is written when validation fails.
func (e *Engine) AssignRole(ctx context.Context, actorID, targetID int64, newRole Role) error {
	if !ValidRole(newRole) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, newRole)
	}

	if !e.CheckPermission(ctx, actorID, PermUsersManage, nil) {
		return ErrInsufficientPermission
	}

	target, err := e.dir.Subject(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to load target user: %w", err)
	}
	oldRole := target.Role

	newLimit := DefaultApprovalLimit(newRole)
	if err := e.dir.SetRole(ctx, targetID, newRole, newLimit); err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	targetRef := strconv.FormatInt(targetID, 10)
	change := audit.NewEvent(audit.ActionRoleChange, audit.SeverityMedium).
		WithOrg(target.OrganizationID).
		WithActor(actorID).
		WithResource(audit.ResourceUser, targetRef).
		WithDetail("old_role", string(oldRole)).
		WithDetail("new_role", string(newRole))
	if err := e.recorder.Record(ctx, change); err != nil {
		return fmt.Errorf("failed to record role change: %w", err)
	}

	assigned := audit.NewEvent(audit.ActionRoleAssigned, audit.SeverityInfo).
		WithOrg(target.OrganizationID).
		WithActor(actorID).
		WithResource(audit.ResourceUser, targetRef).
		WithDetail("role", string(newRole)).
		WithDetail("approval_limit_cents", newLimit)
	if err := e.recorder.Record(ctx, assigned); err != nil {
		return fmt.Errorf("failed to record role assignment: %w", err)
	}

	return nil
}
