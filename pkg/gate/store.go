package gate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDeviceNotFound is returned when no fingerprint record matches the
// requested device
var ErrDeviceNotFound = errors.New("device fingerprint not found")

// Verification states of a device fingerprint record. Pending devices
// flip to verified only through an explicit MarkVerified call; a later
// clean sighting never upgrades them on its own.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
)

// DeviceRecord is a persisted device fingerprint sighting, scoped to a
// user within an organization. Records are never deleted. RiskFactors
// holds the contributing factors from the most recent analysis.
type DeviceRecord struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"user_id"`
	OrganizationID     int64     `json:"organization_id"`
	Fingerprint        string    `json:"fingerprint"`
	Tier               Tier      `json:"tier"`
	TrustScore         int       `json:"trust_score"`
	VerificationStatus string    `json:"verification_status"`
	RiskFactors        []string  `json:"risk_factors,omitempty"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
}

// DeviceStore persists device fingerprints and the threat list in
// PostgreSQL
type DeviceStore struct {
	db *sql.DB
}

// NewDeviceStore creates a device store, ensuring its tables exist
func NewDeviceStore(db *sql.DB) (*DeviceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &DeviceStore{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure device tables: %w", err)
	}
	return s, nil
}

func (s *DeviceStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS device_fingerprints (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		organization_id BIGINT NOT NULL,
		fingerprint VARCHAR(64) NOT NULL,
		tier VARCHAR(20) NOT NULL,
		trust_score INT NOT NULL,
		verification_status VARCHAR(10) NOT NULL DEFAULT 'verified',
		risk_factors JSONB NOT NULL DEFAULT '[]',
		first_seen TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		last_seen TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, organization_id, fingerprint)
	);

	CREATE INDEX IF NOT EXISTS idx_device_fingerprints_user ON device_fingerprints(user_id, organization_id);

	CREATE TABLE IF NOT EXISTS threat_fingerprints (
		fingerprint VARCHAR(64) PRIMARY KEY,
		reason VARCHAR(255) NOT NULL DEFAULT '',
		added_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// GetDevice returns the fingerprint record for a user, or (nil, nil) when
// the device has not been seen before.
func (s *DeviceStore) GetDevice(ctx context.Context, userID, orgID int64, fingerprint string) (*DeviceRecord, error) {
	query := `
		SELECT id, user_id, organization_id, fingerprint, tier, trust_score,
		       verification_status, risk_factors, first_seen, last_seen
		FROM device_fingerprints
		WHERE user_id = $1 AND organization_id = $2 AND fingerprint = $3
	`
	rec := &DeviceRecord{}
	var factorsJSON []byte
	err := s.db.QueryRowContext(ctx, query, userID, orgID, fingerprint).Scan(
		&rec.ID, &rec.UserID, &rec.OrganizationID, &rec.Fingerprint,
		&rec.Tier, &rec.TrustScore, &rec.VerificationStatus, &factorsJSON,
		&rec.FirstSeen, &rec.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device record: %w", err)
	}
	if err := json.Unmarshal(factorsJSON, &rec.RiskFactors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk factors: %w", err)
	}
	return rec, nil
}

// CountDevices returns how many distinct devices a user has been seen on
func (s *DeviceStore) CountDevices(ctx context.Context, userID, orgID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM device_fingerprints WHERE user_id = $1 AND organization_id = $2`
	if err := s.db.QueryRowContext(ctx, query, userID, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

// UpsertDevice records a sighting, creating the record on first sight and
// refreshing last-seen, tier, score and risk factors on re-match. A
// pending sighting marks the record pending; a clean one never upgrades
// an already-pending record back to verified.
func (s *DeviceStore) UpsertDevice(ctx context.Context, rec *DeviceRecord) error {
	if rec.VerificationStatus == "" {
		rec.VerificationStatus = VerificationVerified
	}
	if rec.RiskFactors == nil {
		rec.RiskFactors = []string{}
	}
	factorsJSON, err := json.Marshal(rec.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}

	query := `
		INSERT INTO device_fingerprints (user_id, organization_id, fingerprint, tier, trust_score,
		                                 verification_status, risk_factors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, organization_id, fingerprint) DO UPDATE SET
			tier = EXCLUDED.tier,
			trust_score = EXCLUDED.trust_score,
			risk_factors = EXCLUDED.risk_factors,
			verification_status = CASE
				WHEN EXCLUDED.verification_status = 'pending' THEN 'pending'
				ELSE device_fingerprints.verification_status
			END,
			last_seen = NOW()
		RETURNING id, verification_status, first_seen, last_seen
	`
	err = s.db.QueryRowContext(ctx, query,
		rec.UserID, rec.OrganizationID, rec.Fingerprint, rec.Tier, rec.TrustScore,
		rec.VerificationStatus, factorsJSON,
	).Scan(&rec.ID, &rec.VerificationStatus, &rec.FirstSeen, &rec.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert device record: %w", err)
	}
	return nil
}

// MarkVerified flips a device record from pending to verified
func (s *DeviceStore) MarkVerified(ctx context.Context, userID, orgID int64, fingerprint string) error {
	query := `
		UPDATE device_fingerprints
		SET verification_status = $4
		WHERE user_id = $1 AND organization_id = $2 AND fingerprint = $3
	`
	res, err := s.db.ExecContext(ctx, query, userID, orgID, fingerprint, VerificationVerified)
	if err != nil {
		return fmt.Errorf("failed to verify device record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to verify device record: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// IsThreat reports whether the fingerprint appears on the threat list
func (s *DeviceStore) IsThreat(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM threat_fingerprints WHERE fingerprint = $1)`
	if err := s.db.QueryRowContext(ctx, query, fingerprint).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check threat list: %w", err)
	}
	return exists, nil
}

// AddThreat puts a fingerprint on the threat list
func (s *DeviceStore) AddThreat(ctx context.Context, fingerprint, reason string) error {
	query := `
		INSERT INTO threat_fingerprints (fingerprint, reason)
		VALUES ($1, $2)
		ON CONFLICT (fingerprint) DO UPDATE SET reason = EXCLUDED.reason
	`
	if _, err := s.db.ExecContext(ctx, query, fingerprint, reason); err != nil {
		return fmt.Errorf("failed to add threat fingerprint: %w", err)
	}
	return nil
}
