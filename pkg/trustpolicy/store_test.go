package trustpolicy

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS trust_policies").
		WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewStore(db)
	require.NoError(t, err)
	return store, mock, db
}

func policyRowColumns() []string {
	return []string{
		"id", "organization_id", "allowed_ips", "allowed_cidrs", "allowed_geos", "denied_geos",
		"block_unknown_ips", "emergency_bypass_enabled", "session_timeout_hours",
		"max_session_hours", "default_role", "auto_approval_limit_cents", "created_at", "updated_at",
	}
}

func TestStore_GetByOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		store, mock, db := setupStore(t)
		defer db.Close()

		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM trust_policies").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(policyRowColumns()).AddRow(
				1, 7, []byte(`["203.0.113.9"]`), []byte(`["10.0.0.0/8"]`),
				[]byte(`[]`), []byte(`["KP"]`),
				true, false, 4, 12, "analyst", 50000, now, now,
			))

		p, err := store.GetByOrganization(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, []string{"203.0.113.9"}, p.AllowedIPs)
		assert.Equal(t, []string{"10.0.0.0/8"}, p.AllowedCIDRs)
		assert.Equal(t, []string{"KP"}, p.DeniedGeos)
		assert.True(t, p.BlockUnknownIPs)
		assert.Equal(t, 4, p.SessionTimeoutHours)
	})

	t.Run("no policy yields nil without error", func(t *testing.T) {
		store, mock, db := setupStore(t)
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM trust_policies").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(policyRowColumns()))

		p, err := store.GetByOrganization(ctx, 99)
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestStore_Upsert(t *testing.T) {
	store, mock, db := setupStore(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO trust_policies").
		WithArgs(
			int64(7), []byte(`[]`), []byte(`["10.0.0.0/8"]`), []byte(`[]`), []byte(`[]`),
			false, true, 8, 24, "", int64(0),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(1, now, now))

	p := &Policy{
		OrganizationID:         7,
		AllowedCIDRs:           []string{"10.0.0.0/8"},
		EmergencyBypassEnabled: true,
		SessionTimeoutHours:    8,
		MaxSessionHours:        24,
	}
	require.NoError(t, store.Upsert(context.Background(), p))
	assert.Equal(t, int64(1), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Delete(t *testing.T) {
	store, mock, db := setupStore(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM trust_policies").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
