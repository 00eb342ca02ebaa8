package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBRecorder implements audit logging to PostgreSQL
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder creates a new database-backed audit recorder
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	recorder := &DBRecorder{db: db}
	if err := recorder.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return recorder, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (l *DBRecorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		organization_id BIGINT,
		actor_user_id BIGINT,
		action VARCHAR(100) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		network_origin VARCHAR(64),
		details JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_org ON audit_events(organization_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor_user_id);
	`
	_, err := l.db.Exec(query)
	return err
}

// Record appends an audit event. There is no corresponding update or
// delete statement anywhere in this package.
func (l *DBRecorder) Record(ctx context.Context, event *Event) error {
	var detailsJSON []byte
	var err error
	if event.Details != nil {
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			organization_id, actor_user_id, action, severity,
			resource_type, resource_id, network_origin, details, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err = l.db.QueryRowContext(ctx, query,
		event.OrganizationID, event.ActorUserID, event.Action, event.Severity,
		event.ResourceType, event.ResourceID, event.NetworkOrigin, detailsJSON, event.Timestamp,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query filters an audit listing. Zero values mean no filter.
type Query struct {
	OrganizationID int64
	ActorUserID    int64
	Action         Action
	Limit          int
}

// List returns events for review or export, newest first. Reads never
// touch the write path; the table stays append-only.
func (l *DBRecorder) List(ctx context.Context, q Query) ([]*Event, error) {
	query := `
		SELECT id, organization_id, actor_user_id, action, severity,
		       resource_type, resource_id, network_origin, details, timestamp
		FROM audit_events
		WHERE ($1 = 0 OR organization_id = $1)
		  AND ($2 = 0 OR actor_user_id = $2)
		  AND ($3 = '' OR action = $3)
		ORDER BY timestamp DESC
		LIMIT $4
	`
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := l.db.QueryContext(ctx, query, q.OrganizationID, q.ActorUserID, string(q.Action), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			event        Event
			orgID        sql.NullInt64
			actorID      sql.NullInt64
			resourceType sql.NullString
			resourceID   sql.NullString
			origin       sql.NullString
			detailsJSON  []byte
		)
		if err := rows.Scan(&event.ID, &orgID, &actorID, &event.Action, &event.Severity,
			&resourceType, &resourceID, &origin, &detailsJSON, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if orgID.Valid {
			event.OrganizationID = &orgID.Int64
		}
		if actorID.Valid {
			event.ActorUserID = &actorID.Int64
		}
		event.ResourceType = ResourceType(resourceType.String)
		event.ResourceID = resourceID.String
		event.NetworkOrigin = origin.String
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
