package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/audit"
)

type fakeDirectory struct {
	subjects  map[int64]*Subject
	teamRoles map[[2]int64]string // [teamID, userID]
	failAll   bool

	setRoleCalls int
}

func (f *fakeDirectory) Subject(ctx context.Context, userID int64) (*Subject, error) {
	if f.failAll {
		return nil, errors.New("directory unavailable")
	}
	s, ok := f.subjects[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return s, nil
}

func (f *fakeDirectory) TeamRole(ctx context.Context, teamID, userID int64) (string, error) {
	if f.failAll {
		return "", errors.New("directory unavailable")
	}
	return f.teamRoles[[2]int64{teamID, userID}], nil
}

func (f *fakeDirectory) SetRole(ctx context.Context, userID int64, role Role, limitCents int64) error {
	if f.failAll {
		return errors.New("directory unavailable")
	}
	f.setRoleCalls++
	s := f.subjects[userID]
	s.Role = role
	s.ApprovalLimitCents = limitCents
	return nil
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		subjects: map[int64]*Subject{
			1: {ID: 1, OrganizationID: 10, Role: RoleOwner, ApprovalLimitCents: 0},
			2: {ID: 2, OrganizationID: 10, Role: RoleAdmin, ApprovalLimitCents: 250000},
			3: {ID: 3, OrganizationID: 10, Role: RoleManager, ApprovalLimitCents: 100000},
			4: {ID: 4, OrganizationID: 10, Role: RoleAnalyst, ApprovalLimitCents: 50000},
			5: {ID: 5, OrganizationID: 10, Role: RoleViewer, ApprovalLimitCents: 0},
		},
		teamRoles: map[[2]int64]string{},
	}
}

func TestCheckPermission_RoleSets(t *testing.T) {
	engine := NewEngine(newFakeDirectory(), nil)
	ctx := context.Background()

	t.Run("owner can manage org", func(t *testing.T) {
		assert.True(t, engine.CheckPermission(ctx, 1, PermOrgManage, nil))
	})

	t.Run("admin cannot touch billing", func(t *testing.T) {
		assert.False(t, engine.CheckPermission(ctx, 2, PermOrgBilling, nil))
	})

	t.Run("owner lacks audit export", func(t *testing.T) {
		// role sets are explicit, not hierarchical
		assert.False(t, engine.CheckPermission(ctx, 1, PermAuditExport, nil))
		assert.True(t, engine.CheckPermission(ctx, 2, PermAuditExport, nil))
	})

	t.Run("viewer cannot create analyses", func(t *testing.T) {
		assert.False(t, engine.CheckPermission(ctx, 5, PermAnalysesCreate, nil))
	})

	t.Run("unknown user denied", func(t *testing.T) {
		assert.False(t, engine.CheckPermission(ctx, 999, PermAnalysesViewOwn, nil))
	})
}

func TestCheckPermission_TeamLead(t *testing.T) {
	dir := newFakeDirectory()
	dir.teamRoles[[2]int64{7, 4}] = TeamRoleLead
	dir.teamRoles[[2]int64{7, 5}] = "member"
	engine := NewEngine(dir, nil)
	ctx := context.Background()

	rctx := &ResourceContext{TeamID: 7}

	t.Run("lead gets team subset", func(t *testing.T) {
		assert.True(t, engine.CheckPermission(ctx, 4, PermAnalysesApproveTeam, rctx))
		assert.True(t, engine.CheckPermission(ctx, 4, PermTeamManage, rctx))
	})

	t.Run("team subset does not leak other permissions", func(t *testing.T) {
		assert.False(t, engine.CheckPermission(ctx, 4, PermUsersManage, rctx))
		assert.False(t, engine.CheckPermission(ctx, 4, PermAnalysesViewAll, rctx))
	})

	t.Run("plain member denied", func(t *testing.T) {
		assert.False(t, engine.CheckPermission(ctx, 5, PermAnalysesApproveTeam, rctx))
	})

	t.Run("lead of another team denied", func(t *testing.T) {
		assert.False(t, engine.CheckPermission(ctx, 4, PermTeamManage, &ResourceContext{TeamID: 8}))
	})
}

func TestCheckPermission_Ownership(t *testing.T) {
	engine := NewEngine(newFakeDirectory(), nil)
	ctx := context.Background()

	t.Run("viewer can edit own resource", func(t *testing.T) {
		rctx := &ResourceContext{OwnerUserID: 5}
		assert.True(t, engine.CheckPermission(ctx, 5, PermAnalysesEditOwn, rctx))
		assert.True(t, engine.CheckPermission(ctx, 5, PermAnalysesDeleteOwn, rctx))
	})

	t.Run("ownership does not grant create", func(t *testing.T) {
		rctx := &ResourceContext{OwnerUserID: 5}
		assert.False(t, engine.CheckPermission(ctx, 5, PermAnalysesCreate, rctx))
	})

	t.Run("someone else's resource denied", func(t *testing.T) {
		rctx := &ResourceContext{OwnerUserID: 4}
		assert.False(t, engine.CheckPermission(ctx, 5, PermAnalysesEditOwn, rctx))
	})
}

func TestCheckPermission_FailsClosed(t *testing.T) {
	dir := newFakeDirectory()
	dir.failAll = true
	engine := NewEngine(dir, nil)

	assert.False(t, engine.CheckPermission(context.Background(), 1, PermOrgManage, nil))
}

func TestCheckApprovalLimit(t *testing.T) {
	engine := NewEngine(newFakeDirectory(), nil)
	ctx := context.Background()

	t.Run("zero limit means unlimited", func(t *testing.T) {
		assert.True(t, engine.CheckApprovalLimit(ctx, 1, 10_000_000))
	})

	t.Run("within limit", func(t *testing.T) {
		assert.True(t, engine.CheckApprovalLimit(ctx, 4, 50000))
	})

	t.Run("over limit", func(t *testing.T) {
		assert.False(t, engine.CheckApprovalLimit(ctx, 4, 50001))
	})

	t.Run("lookup failure denies", func(t *testing.T) {
		dir := newFakeDirectory()
		dir.failAll = true
		closed := NewEngine(dir, nil)
		assert.False(t, closed.CheckApprovalLimit(ctx, 1, 1))
	})
}

func TestAssignRole(t *testing.T) {
	ctx := context.Background()

	t.Run("success writes role, limit, and two audit entries", func(t *testing.T) {
		dir := newFakeDirectory()
		rec := &audit.MemoryRecorder{}
		engine := NewEngine(dir, rec)

		require.NoError(t, engine.AssignRole(ctx, 1, 4, RoleManager))

		assert.Equal(t, RoleManager, dir.subjects[4].Role)
		assert.Equal(t, int64(100000), dir.subjects[4].ApprovalLimitCents)

		require.Len(t, rec.Events, 2)
		change := rec.ByAction(audit.ActionRoleChange)[0]
		assert.Equal(t, "analyst", change.Details["old_role"])
		assert.Equal(t, "manager", change.Details["new_role"])
		assert.Equal(t, audit.SeverityMedium, change.Severity)

		assigned := rec.ByAction(audit.ActionRoleAssigned)[0]
		assert.Equal(t, int64(100000), assigned.Details["approval_limit_cents"])
	})

	t.Run("limit reset even when demoting", func(t *testing.T) {
		dir := newFakeDirectory()
		engine := NewEngine(dir, nil)

		require.NoError(t, engine.AssignRole(ctx, 1, 2, RoleViewer))
		assert.Equal(t, UnlimitedApproval, dir.subjects[2].ApprovalLimitCents)
	})

	t.Run("actor without users.manage rejected", func(t *testing.T) {
		dir := newFakeDirectory()
		rec := &audit.MemoryRecorder{}
		engine := NewEngine(dir, rec)

		err := engine.AssignRole(ctx, 4, 5, RoleAdmin)
		assert.ErrorIs(t, err, ErrInsufficientPermission)
		assert.Equal(t, RoleViewer, dir.subjects[5].Role)
		assert.Empty(t, rec.Events)
	})

	t.Run("unknown role rejected before any lookup", func(t *testing.T) {
		dir := newFakeDirectory()
		engine := NewEngine(dir, nil)

		err := engine.AssignRole(ctx, 1, 4, Role("superuser"))
		assert.ErrorIs(t, err, ErrUnknownRole)
		assert.Zero(t, dir.setRoleCalls)
	})
}

func TestRoleTable(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, UnlimitedApproval, DefaultApprovalLimit(RoleOwner))
		assert.Equal(t, int64(250000), DefaultApprovalLimit(RoleAdmin))
		assert.Equal(t, int64(100000), DefaultApprovalLimit(RoleManager))
		assert.Equal(t, int64(50000), DefaultApprovalLimit(RoleAnalyst))
		assert.Equal(t, UnlimitedApproval, DefaultApprovalLimit(RoleViewer))
	})

	t.Run("validity", func(t *testing.T) {
		for _, r := range AllRoles() {
			assert.True(t, ValidRole(r), string(r))
		}
		assert.False(t, ValidRole("root"))
		assert.False(t, ValidRole(""))
	})

	t.Run("unknown role has no permissions", func(t *testing.T) {
		assert.False(t, RoleHasPermission("root", PermAnalysesViewOwn))
		assert.Nil(t, RolePermissions("root"))
	})
}
