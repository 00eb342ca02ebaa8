package directory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/rbac"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func orgRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "plan_tier", "domain_whitelist", "sso_provider",
		"auto_approval_limit_cents", "created_at", "updated_at",
	})
}

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "email", "display_name", "external_id", "role",
		"approval_limit_cents", "status", "email_verified", "last_login_at",
		"created_at", "updated_at",
	})
}

func TestStore_GetOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		store := NewStore(db)

		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id").
			WithArgs(int64(7)).
			WillReturnRows(orgRows().AddRow(
				7, "Acme", "enterprise", []byte(`["acme.com","acme.io"]`), "okta",
				0, now, now,
			))

		org, err := store.GetOrganization(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "Acme", org.Name)
		assert.Equal(t, TierEnterprise, org.PlanTier)
		assert.Equal(t, []string{"acme.com", "acme.io"}, org.DomainWhitelist)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		store := NewStore(db)

		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id").
			WithArgs(int64(99)).
			WillReturnRows(orgRows())

		_, err := store.GetOrganization(ctx, 99)
		assert.ErrorIs(t, err, ErrOrganizationNotFound)
	})
}

func TestStore_FindOrganizationByDomain(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	store := NewStore(db)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM organizations").
		WithArgs("acme.com").
		WillReturnRows(orgRows().AddRow(
			3, "Acme", "team", []byte(`["acme.com"]`), "google", 100000, now, now,
		))

	org, err := store.FindOrganizationByDomain(context.Background(), "acme.com")
	require.NoError(t, err)
	assert.Equal(t, int64(3), org.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateOrganization(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	store := NewStore(db)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO organizations").
		WithArgs("Solo's Workspace", TierIndividual, []byte(`[]`), "github", int64(50000)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(12, now, now))

	org := &Organization{
		Name:                   "Solo's Workspace",
		SSOProvider:            "github",
		AutoApprovalLimitCents: 50000,
	}
	require.NoError(t, store.CreateOrganization(context.Background(), org))
	assert.Equal(t, int64(12), org.ID)
	assert.Equal(t, TierIndividual, org.PlanTier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetUserByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		store := NewStore(db)

		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM users WHERE LOWER").
			WithArgs("Jamie@Acme.com").
			WillReturnRows(userRows().AddRow(
				42, 7, "jamie@acme.com", "Jamie", "ext-1", "analyst",
				50000, "active", true, nil, now, now,
			))

		user, err := store.GetUserByEmail(ctx, "Jamie@Acme.com")
		require.NoError(t, err)
		assert.Equal(t, int64(42), user.ID)
		assert.Equal(t, rbac.RoleAnalyst, user.Role)
		assert.Nil(t, user.LastLoginAt)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		store := NewStore(db)

		mock.ExpectQuery("SELECT (.+) FROM users WHERE LOWER").
			WithArgs("nobody@acme.com").
			WillReturnRows(userRows())

		_, err := store.GetUserByEmail(ctx, "nobody@acme.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestStore_TouchLogin(t *testing.T) {
	t.Run("updates existing user", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		store := NewStore(db)

		mock.ExpectExec("UPDATE users").
			WithArgs("Jamie L", int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.TouchLogin(context.Background(), 42, "Jamie L"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		store := NewStore(db)

		mock.ExpectExec("UPDATE users").
			WithArgs("x", int64(999)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.TouchLogin(context.Background(), 999, "x"), ErrUserNotFound)
	})
}

func TestStore_Subject(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	store := NewStore(db)

	mock.ExpectQuery("SELECT id, organization_id, role, approval_limit_cents FROM users").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "role", "approval_limit_cents"}).
			AddRow(42, 7, "manager", 100000))

	subject, err := store.Subject(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleManager, subject.Role)
	assert.Equal(t, int64(100000), subject.ApprovalLimitCents)
}

func TestStore_TeamRole(t *testing.T) {
	t.Run("member", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		store := NewStore(db)

		mock.ExpectQuery("SELECT team_role FROM team_members").
			WithArgs(int64(3), int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"team_role"}).AddRow("lead"))

		role, err := store.TeamRole(context.Background(), 3, 42)
		require.NoError(t, err)
		assert.Equal(t, "lead", role)
	})

	t.Run("non-member yields empty string", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()
		store := NewStore(db)

		mock.ExpectQuery("SELECT team_role FROM team_members").
			WithArgs(int64(3), int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"team_role"}))

		role, err := store.TeamRole(context.Background(), 3, 5)
		require.NoError(t, err)
		assert.Empty(t, role)
	})
}

func TestStore_SetRole(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	store := NewStore(db)

	mock.ExpectExec("UPDATE users").
		WithArgs(rbac.RoleViewer, int64(0), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetRole(context.Background(), 42, rbac.RoleViewer, 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}
