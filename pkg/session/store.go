package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/pkg/rbac"
)

var (
	// ErrSessionNotFound is returned for unknown, revoked or tampered
	// sessions
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has outlived its
	// expiry, regardless of what its token claims
	ErrSessionExpired = errors.New("session expired")
)

// State is the lifecycle position of a session
type State string

const (
	StateIssued  State = "issued"
	StateActive  State = "active"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// Session is a persisted login session. Only the SHA-256 hash of the
// opaque id is stored; the raw id travels inside the signed token.
type Session struct {
	ID                 int64      `json:"id"`
	IDHash             string     `json:"-"`
	UserID             int64      `json:"user_id"`
	OrganizationID     int64      `json:"organization_id"`
	Role               rbac.Role  `json:"role"`
	ApprovalLimitCents int64      `json:"approval_limit_cents"`
	State              State      `json:"state"`
	Provider           string     `json:"provider,omitempty"`
	DeviceFingerprint  string     `json:"device_fingerprint,omitempty"`
	NetworkOrigin      string     `json:"network_origin,omitempty"`
	IssuedAt           time.Time  `json:"issued_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	LastActivityAt     time.Time  `json:"last_activity_at"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
}

// Store persists sessions in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a session store, ensuring its table exists
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &Store{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure sessions table: %w", err)
	}
	return s, nil
}

func (s *Store) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		id_hash VARCHAR(64) NOT NULL UNIQUE,
		user_id BIGINT NOT NULL,
		organization_id BIGINT NOT NULL,
		role VARCHAR(20) NOT NULL,
		approval_limit_cents BIGINT NOT NULL DEFAULT 0,
		state VARCHAR(20) NOT NULL DEFAULT 'issued',
		provider VARCHAR(50) NOT NULL DEFAULT '',
		device_fingerprint VARCHAR(64) NOT NULL DEFAULT '',
		network_origin VARCHAR(64) NOT NULL DEFAULT '',
		issued_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		revoked_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Create persists a new session row
func (s *Store) Create(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO sessions (id_hash, user_id, organization_id, role, approval_limit_cents,
		                      state, provider, device_fingerprint, network_origin, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, issued_at, last_activity_at
	`
	err := s.db.QueryRowContext(ctx, query,
		sess.IDHash, sess.UserID, sess.OrganizationID, sess.Role, sess.ApprovalLimitCents,
		sess.State, sess.Provider, sess.DeviceFingerprint, sess.NetworkOrigin, sess.ExpiresAt,
	).Scan(&sess.ID, &sess.IssuedAt, &sess.LastActivityAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByIDHash loads a session by the hash of its opaque id
func (s *Store) GetByIDHash(ctx context.Context, idHash string) (*Session, error) {
	query := `
		SELECT id, id_hash, user_id, organization_id, role, approval_limit_cents,
		       state, provider, device_fingerprint, network_origin,
		       issued_at, expires_at, last_activity_at, revoked_at
		FROM sessions
		WHERE id_hash = $1
	`
	sess := &Session{}
	err := s.db.QueryRowContext(ctx, query, idHash).Scan(
		&sess.ID, &sess.IDHash, &sess.UserID, &sess.OrganizationID, &sess.Role,
		&sess.ApprovalLimitCents, &sess.State, &sess.Provider, &sess.DeviceFingerprint,
		&sess.NetworkOrigin, &sess.IssuedAt, &sess.ExpiresAt, &sess.LastActivityAt, &sess.RevokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// TouchActivity marks a session active and bumps its last-activity time
func (s *Store) TouchActivity(ctx context.Context, idHash string) error {
	query := `
		UPDATE sessions
		SET state = $1, last_activity_at = NOW()
		WHERE id_hash = $2 AND state IN ('issued', 'active')
	`
	if _, err := s.db.ExecContext(ctx, query, StateActive, idHash); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// MarkExpired transitions a session to the expired state
func (s *Store) MarkExpired(ctx context.Context, idHash string) error {
	query := `UPDATE sessions SET state = $1 WHERE id_hash = $2 AND state IN ('issued', 'active')`
	if _, err := s.db.ExecContext(ctx, query, StateExpired, idHash); err != nil {
		return fmt.Errorf("failed to mark session expired: %w", err)
	}
	return nil
}

// Revoke transitions a session to the revoked state. Revoking an already
// terminal session is a no-op reported via ErrSessionNotFound.
func (s *Store) Revoke(ctx context.Context, idHash string) error {
	query := `
		UPDATE sessions
		SET state = $1, revoked_at = NOW()
		WHERE id_hash = $2 AND state IN ('issued', 'active')
	`
	result, err := s.db.ExecContext(ctx, query, StateRevoked, idHash)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllForUser revokes every live session a user holds, returning how
// many were revoked. Used by administrative session termination.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	query := `
		UPDATE sessions
		SET state = $1, revoked_at = NOW()
		WHERE user_id = $2 AND state IN ('issued', 'active')
	`
	result, err := s.db.ExecContext(ctx, query, StateRevoked, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
