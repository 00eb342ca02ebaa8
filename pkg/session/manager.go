package session

import (
	"context"
	"fmt"
	"time"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/directory"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/trustpolicy"
)

// SessionStore is the persistence surface the manager needs
type SessionStore interface {
	Create(ctx context.Context, sess *Session) error
	GetByIDHash(ctx context.Context, idHash string) (*Session, error)
	TouchActivity(ctx context.Context, idHash string) error
	MarkExpired(ctx context.Context, idHash string) error
	Revoke(ctx context.Context, idHash string) error
}

// IssueOptions carries the per-login metadata stamped onto a session
type IssueOptions struct {
	Provider          string
	DeviceFingerprint string
	NetworkOrigin     string
}

// Manager issues, validates and revokes sessions
type Manager struct {
	store    SessionStore
	signer   *TokenSigner
	policies trustpolicy.Provider
	recorder audit.Recorder
	metrics  *observability.Metrics
	logger   *observability.Logger

	defaultTimeoutHours int
	maxSessionHours     int
}

// NewManager creates a session manager. signingSecret must be non-empty.
func NewManager(store SessionStore, policies trustpolicy.Provider, recorder audit.Recorder,
	metrics *observability.Metrics, logger *observability.Logger,
	signingSecret string, defaultTimeoutHours, maxSessionHours int) (*Manager, error) {
	signer, err := NewTokenSigner(signingSecret)
	if err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if defaultTimeoutHours <= 0 {
		defaultTimeoutHours = 8
	}
	if maxSessionHours <= 0 {
		maxSessionHours = 24
	}
	return &Manager{
		store:               store,
		signer:              signer,
		policies:            policies,
		recorder:            recorder,
		metrics:             metrics,
		logger:              logger,
		defaultTimeoutHours: defaultTimeoutHours,
		maxSessionHours:     maxSessionHours,
	}, nil
}

// Issue creates a session for an authenticated user and returns it with
// the signed bearer token. Session lifetime is the organization policy's
// timeout clamped to its hard cap; policy load failure fails the login.
func (m *Manager) Issue(ctx context.Context, user *directory.User, opts IssueOptions) (*Session, string, error) {
	policy, err := m.policies.GetByOrganization(ctx, user.OrganizationID)
	if err != nil {
		return nil, "", fmt.Errorf("cannot determine session limits: %w", err)
	}

	timeoutHours, maxHours := policy.SessionLimits(m.defaultTimeoutHours, m.maxSessionHours)
	if timeoutHours > maxHours {
		timeoutHours = maxHours
	}

	id, idHash, err := GenerateSessionID()
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	sess := &Session{
		IDHash:             idHash,
		UserID:             user.ID,
		OrganizationID:     user.OrganizationID,
		Role:               user.Role,
		ApprovalLimitCents: user.ApprovalLimitCents,
		State:              StateIssued,
		Provider:           opts.Provider,
		DeviceFingerprint:  opts.DeviceFingerprint,
		NetworkOrigin:      opts.NetworkOrigin,
		ExpiresAt:          now.Add(time.Duration(timeoutHours) * time.Hour),
	}

	token, err := m.signer.Sign(NewClaims(id, user.ID, user.OrganizationID, user.Role, user.ApprovalLimitCents, sess.ExpiresAt))
	if err != nil {
		return nil, "", err
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return nil, "", err
	}

	if m.metrics != nil {
		m.metrics.SessionsIssued.Inc()
		m.metrics.ActiveSessions.Inc()
	}
	m.logger.WithFields(map[string]interface{}{
		"user_id":    user.ID,
		"org_id":     user.OrganizationID,
		"expires_at": sess.ExpiresAt,
	}).Info("session issued")
	return sess, token, nil
}

// Validate checks a bearer token and returns the live session behind it.
// The signature check is local; the store remains authoritative, so a
// revoked or storage-expired session fails even with a valid token.
func (m *Manager) Validate(ctx context.Context, signedToken string) (*Session, error) {
	claims, err := m.signer.Verify(signedToken)
	if err != nil {
		m.countValidation(err)
		return nil, err
	}

	sess, err := m.store.GetByIDHash(ctx, HashSessionID(claims.SessionID))
	if err != nil {
		m.countValidation(err)
		return nil, err
	}

	switch sess.State {
	case StateRevoked:
		m.countValidation(ErrSessionNotFound)
		return nil, ErrSessionNotFound
	case StateExpired:
		m.countValidation(ErrSessionExpired)
		return nil, ErrSessionExpired
	}

	if time.Now().After(sess.ExpiresAt) {
		if err := m.store.MarkExpired(ctx, sess.IDHash); err != nil {
			m.logger.WithError(err).Error("failed to mark session expired")
		} else if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
		m.countValidation(ErrSessionExpired)
		return nil, ErrSessionExpired
	}

	if err := m.store.TouchActivity(ctx, sess.IDHash); err != nil {
		m.logger.WithError(err).Error("failed to bump session activity")
	}
	sess.State = StateActive

	m.countValidation(nil)
	return sess, nil
}

// Revoke terminates the session carried by a bearer token (logout)
func (m *Manager) Revoke(ctx context.Context, signedToken string) error {
	claims, err := m.signer.Verify(signedToken)
	if err != nil {
		return err
	}
	return m.RevokeByID(ctx, claims.SessionID, claims.UserID, claims.OrganizationID)
}

// RevokeByID terminates a session by its opaque id and writes the logout
// audit entry
func (m *Manager) RevokeByID(ctx context.Context, sessionID string, userID, orgID int64) error {
	if err := m.store.Revoke(ctx, HashSessionID(sessionID)); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.SessionsRevoked.Inc()
		m.metrics.ActiveSessions.Dec()
	}

	event := audit.NewEvent(audit.ActionLogout, audit.SeverityInfo).
		WithOrg(orgID).
		WithActor(userID).
		WithResource(audit.ResourceSession, HashSessionID(sessionID))
	if err := m.recorder.Record(ctx, event); err != nil {
		m.logger.WithError(err).Error("failed to record logout")
	}
	return nil
}

func (m *Manager) countValidation(result error) {
	if m.metrics == nil {
		return
	}
	outcome := "valid"
	switch result {
	case nil:
	case ErrSessionExpired:
		outcome = "expired"
	default:
		outcome = "invalid"
	}
	m.metrics.SessionValidations.WithLabelValues(outcome).Inc()
}
