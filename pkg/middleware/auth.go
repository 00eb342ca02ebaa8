package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/rbac"
	"github.com/wardenhq/warden/pkg/session"
	"github.com/wardenhq/warden/pkg/sso"
)

// Identity is the authenticated caller attached to the request context
type Identity struct {
	UserID             int64
	OrganizationID     int64
	Role               rbac.Role
	ApprovalLimitCents int64
	SessionIDHash      string
}

// SessionValidator checks bearer tokens against the session store
type SessionValidator interface {
	Validate(ctx context.Context, signedToken string) (*session.Session, error)
}

// PermissionChecker evaluates a user's permissions
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID int64, perm rbac.Permission, rctx *rbac.ResourceContext) bool
}

// AuthMiddleware validates sessions and attaches the caller's identity
type AuthMiddleware struct {
	sessions SessionValidator
	logger   *observability.Logger
}

// NewAuthMiddleware creates the authentication middleware
func NewAuthMiddleware(sessions SessionValidator, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, logger: logger}
}

// RequireAuth wraps a handler so only requests with a live session pass.
// The token comes from the Authorization header or the session cookie.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httputil.BearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie(sso.SessionCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		sess, err := m.sessions.Validate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrSessionExpired):
				httputil.WriteUnauthorized(w, "session expired")
			case errors.Is(err, session.ErrSessionNotFound):
				httputil.WriteUnauthorized(w, "invalid session")
			default:
				m.logger.WithError(err).Error("session validation failed")
				httputil.WriteUnauthorized(w, "invalid session")
			}
			return
		}

		identity := &Identity{
			UserID:             sess.UserID,
			OrganizationID:     sess.OrganizationID,
			Role:               sess.Role,
			ApprovalLimitCents: sess.ApprovalLimitCents,
			SessionIDHash:      sess.IDHash,
		}
		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(sess.UserID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the authenticated identity from a request, or nil
func GetIdentity(r *http.Request) *Identity {
	identity, ok := r.Context().Value(contextkeys.IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// PermissionMiddleware enforces RBAC permissions on routes
type PermissionMiddleware struct {
	engine   PermissionChecker
	recorder audit.Recorder
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewPermissionMiddleware creates the authorization middleware
func NewPermissionMiddleware(engine PermissionChecker, recorder audit.Recorder,
	metrics *observability.Metrics, logger *observability.Logger) *PermissionMiddleware {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &PermissionMiddleware{engine: engine, recorder: recorder, metrics: metrics, logger: logger}
}

// RequirePermission wraps a handler so only callers holding the permission
// pass. Denials are audited; RequireAuth must run first.
func (m *PermissionMiddleware) RequirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r)
			if identity == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			if !m.engine.CheckPermission(r.Context(), identity.UserID, perm, nil) {
				m.recordDenial(r, identity, perm)
				httputil.WriteForbidden(w, "insufficient permission")
				return
			}

			if m.metrics != nil {
				m.metrics.PermissionChecksTotal.WithLabelValues("allowed").Inc()
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole wraps a handler so only callers with one of the given roles
// pass. Role sets are explicit, never hierarchical.
func (m *PermissionMiddleware) RequireRole(roles ...rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r)
			if identity == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteForbidden(w, "insufficient role")
		})
	}
}

func (m *PermissionMiddleware) recordDenial(r *http.Request, identity *Identity, perm rbac.Permission) {
	if m.metrics != nil {
		m.metrics.PermissionChecksTotal.WithLabelValues("denied").Inc()
		m.metrics.AccessDenialsTotal.WithLabelValues(string(perm)).Inc()
	}

	event := audit.NewEvent(audit.ActionAccessDenied, audit.SeverityMedium).
		WithOrg(identity.OrganizationID).
		WithActor(identity.UserID).
		WithOrigin(httputil.ClientIP(r)).
		WithDetail("permission", string(perm)).
		WithDetail("path", r.URL.Path)
	if err := m.recorder.Record(r.Context(), event); err != nil {
		m.logger.WithError(err).Error("failed to record access denial")
	}
}
