package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/wardenhq/warden/pkg/rbac"
)

// Store implements organization, user, and team persistence on PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a directory store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const orgColumns = `id, name, plan_tier, domain_whitelist, sso_provider,
       auto_approval_limit_cents, created_at, updated_at`

func scanOrganization(row *sql.Row) (*Organization, error) {
	org := &Organization{}
	var whitelistJSON []byte
	err := row.Scan(
		&org.ID, &org.Name, &org.PlanTier, &whitelistJSON, &org.SSOProvider,
		&org.AutoApprovalLimitCents, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if err := json.Unmarshal(whitelistJSON, &org.DomainWhitelist); err != nil {
		return nil, fmt.Errorf("failed to unmarshal domain whitelist: %w", err)
	}
	return org, nil
}

// CreateOrganization inserts a new organization
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.PlanTier == "" {
		org.PlanTier = TierIndividual
	}
	if org.DomainWhitelist == nil {
		org.DomainWhitelist = []string{}
	}
	whitelistJSON, err := json.Marshal(org.DomainWhitelist)
	if err != nil {
		return fmt.Errorf("failed to marshal domain whitelist: %w", err)
	}

	query := `
		INSERT INTO organizations (name, plan_tier, domain_whitelist, sso_provider, auto_approval_limit_cents)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		org.Name, org.PlanTier, whitelistJSON, org.SSOProvider, org.AutoApprovalLimitCents,
	).Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *Store) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`
	return scanOrganization(s.db.QueryRowContext(ctx, query, id))
}

// FindOrganizationByDomain returns the first organization whose domain
// whitelist contains the given domain, ordered by id for determinism.
func (s *Store) FindOrganizationByDomain(ctx context.Context, domain string) (*Organization, error) {
	query := `
		SELECT ` + orgColumns + `
		FROM organizations
		WHERE domain_whitelist @> to_jsonb($1::text)
		ORDER BY id
		LIMIT 1
	`
	return scanOrganization(s.db.QueryRowContext(ctx, query, domain))
}

const userColumns = `id, organization_id, email, display_name, external_id, role,
       approval_limit_cents, status, email_verified, last_login_at, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.OrganizationID, &u.Email, &u.DisplayName, &u.ExternalID, &u.Role,
		&u.ApprovalLimitCents, &u.Status, &u.EmailVerified, &u.LastLoginAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	query := `
		INSERT INTO users (organization_id, email, display_name, external_id, role,
		                   approval_limit_cents, status, email_verified, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		u.OrganizationID, u.Email, u.DisplayName, u.ExternalID, u.Role,
		u.ApprovalLimitCents, u.Status, u.EmailVerified, u.LastLoginAt,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email, matched case-insensitively
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

// TouchLogin updates the fields refreshed on every login
func (s *Store) TouchLogin(ctx context.Context, userID int64, displayName string) error {
	query := `
		UPDATE users
		SET display_name = $1, last_login_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, displayName, userID)
	if err != nil {
		return fmt.Errorf("failed to update login fields: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Subject implements rbac.Directory
func (s *Store) Subject(ctx context.Context, userID int64) (*rbac.Subject, error) {
	query := `SELECT id, organization_id, role, approval_limit_cents FROM users WHERE id = $1 AND status = 'active'`
	subject := &rbac.Subject{}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&subject.ID, &subject.OrganizationID, &subject.Role, &subject.ApprovalLimitCents,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return subject, nil
}

// TeamRole implements rbac.Directory. Returns empty string when the user
// is not a member of the team.
func (s *Store) TeamRole(ctx context.Context, teamID, userID int64) (string, error) {
	query := `SELECT team_role FROM team_members WHERE team_id = $1 AND user_id = $2`
	var role string
	err := s.db.QueryRowContext(ctx, query, teamID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get team role: %w", err)
	}
	return role, nil
}

// SetRole implements rbac.Directory
func (s *Store) SetRole(ctx context.Context, userID int64, role rbac.Role, limitCents int64) error {
	query := `
		UPDATE users
		SET role = $1, approval_limit_cents = $2, updated_at = NOW()
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, role, limitCents, userID)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateTeam inserts a new team
func (s *Store) CreateTeam(ctx context.Context, team *Team) error {
	query := `
		INSERT INTO teams (organization_id, name)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, team.OrganizationID, team.Name).
		Scan(&team.ID, &team.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}
	return nil
}

// AddTeamMember adds or updates a team membership
func (s *Store) AddTeamMember(ctx context.Context, teamID, userID int64, teamRole string) error {
	query := `
		INSERT INTO team_members (team_id, user_id, team_role)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO UPDATE SET team_role = EXCLUDED.team_role
	`
	if _, err := s.db.ExecContext(ctx, query, teamID, userID, teamRole); err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}
