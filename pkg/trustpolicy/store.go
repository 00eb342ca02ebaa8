package trustpolicy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store persists trust policies in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a policy store, ensuring its table exists
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &Store{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure trust_policies table: %w", err)
	}
	return s, nil
}

func (s *Store) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS trust_policies (
		id BIGSERIAL PRIMARY KEY,
		organization_id BIGINT NOT NULL UNIQUE,
		allowed_ips JSONB NOT NULL DEFAULT '[]',
		allowed_cidrs JSONB NOT NULL DEFAULT '[]',
		allowed_geos JSONB NOT NULL DEFAULT '[]',
		denied_geos JSONB NOT NULL DEFAULT '[]',
		block_unknown_ips BOOLEAN NOT NULL DEFAULT false,
		emergency_bypass_enabled BOOLEAN NOT NULL DEFAULT false,
		session_timeout_hours INT NOT NULL DEFAULT 0,
		max_session_hours INT NOT NULL DEFAULT 0,
		default_role VARCHAR(20) NOT NULL DEFAULT '',
		auto_approval_limit_cents BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_trust_policies_org ON trust_policies(organization_id);
	`
	_, err := s.db.Exec(query)
	return err
}

// GetByOrganization returns the policy for an organization, or (nil, nil)
// when the organization has no policy configured.
func (s *Store) GetByOrganization(ctx context.Context, orgID int64) (*Policy, error) {
	query := `
		SELECT id, organization_id, allowed_ips, allowed_cidrs, allowed_geos, denied_geos,
		       block_unknown_ips, emergency_bypass_enabled, session_timeout_hours,
		       max_session_hours, default_role, auto_approval_limit_cents, created_at, updated_at
		FROM trust_policies
		WHERE organization_id = $1
	`
	p := &Policy{}
	var ipsJSON, cidrsJSON, allowGeoJSON, denyGeoJSON []byte
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&p.ID, &p.OrganizationID, &ipsJSON, &cidrsJSON, &allowGeoJSON, &denyGeoJSON,
		&p.BlockUnknownIPs, &p.EmergencyBypassEnabled, &p.SessionTimeoutHours,
		&p.MaxSessionHours, &p.DefaultRole, &p.AutoApprovalLimitCents, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust policy: %w", err)
	}

	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{
		{ipsJSON, &p.AllowedIPs},
		{cidrsJSON, &p.AllowedCIDRs},
		{allowGeoJSON, &p.AllowedGeos},
		{denyGeoJSON, &p.DeniedGeos},
	} {
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal policy list: %w", err)
		}
	}
	return p, nil
}

// Upsert writes a policy, replacing any existing one for the organization
func (s *Store) Upsert(ctx context.Context, p *Policy) error {
	lists := make([][]byte, 4)
	for i, src := range [][]string{p.AllowedIPs, p.AllowedCIDRs, p.AllowedGeos, p.DeniedGeos} {
		if src == nil {
			src = []string{}
		}
		raw, err := json.Marshal(src)
		if err != nil {
			return fmt.Errorf("failed to marshal policy list: %w", err)
		}
		lists[i] = raw
	}

	query := `
		INSERT INTO trust_policies (
			organization_id, allowed_ips, allowed_cidrs, allowed_geos, denied_geos,
			block_unknown_ips, emergency_bypass_enabled, session_timeout_hours,
			max_session_hours, default_role, auto_approval_limit_cents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (organization_id) DO UPDATE SET
			allowed_ips = EXCLUDED.allowed_ips,
			allowed_cidrs = EXCLUDED.allowed_cidrs,
			allowed_geos = EXCLUDED.allowed_geos,
			denied_geos = EXCLUDED.denied_geos,
			block_unknown_ips = EXCLUDED.block_unknown_ips,
			emergency_bypass_enabled = EXCLUDED.emergency_bypass_enabled,
			session_timeout_hours = EXCLUDED.session_timeout_hours,
			max_session_hours = EXCLUDED.max_session_hours,
			default_role = EXCLUDED.default_role,
			auto_approval_limit_cents = EXCLUDED.auto_approval_limit_cents,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		p.OrganizationID, lists[0], lists[1], lists[2], lists[3],
		p.BlockUnknownIPs, p.EmergencyBypassEnabled, p.SessionTimeoutHours,
		p.MaxSessionHours, p.DefaultRole, p.AutoApprovalLimitCents,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trust policy: %w", err)
	}
	return nil
}

// Delete removes an organization's policy
func (s *Store) Delete(ctx context.Context, orgID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trust_policies WHERE organization_id = $1`, orgID); err != nil {
		return fmt.Errorf("failed to delete trust policy: %w", err)
	}
	return nil
}
