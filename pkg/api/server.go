// Package api assembles the HTTP surface: SSO login flow, admin
// endpoints and the middleware chain around them.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/directory"
	"github.com/wardenhq/warden/pkg/middleware"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/rbac"
	"github.com/wardenhq/warden/pkg/sso"
	"github.com/wardenhq/warden/pkg/trustpolicy"
)

// RoleAssigner changes user roles with authorization and auditing
type RoleAssigner interface {
	AssignRole(ctx context.Context, actorID, targetID int64, newRole rbac.Role) error
}

// UserDirectory reads user records for the admin endpoints
type UserDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*directory.User, error)
}

// PolicyAdmin manages trust policies
type PolicyAdmin interface {
	GetByOrganization(ctx context.Context, orgID int64) (*trustpolicy.Policy, error)
	Upsert(ctx context.Context, p *trustpolicy.Policy) error
	Delete(ctx context.Context, orgID int64) error
}

// PolicyCacheInvalidator drops cached policies after writes
type PolicyCacheInvalidator interface {
	Invalidate(orgID int64)
}

// AuditReader lists audit events for review and export
type AuditReader interface {
	List(ctx context.Context, q audit.Query) ([]*audit.Event, error)
}

// DeviceVerifier confirms pending device fingerprints
type DeviceVerifier interface {
	MarkVerified(ctx context.Context, userID, orgID int64, fingerprint string) error
}

// SessionTerminator revokes all sessions of a user
type SessionTerminator interface {
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
}

// Server is the assembled HTTP API
type Server struct {
	router *mux.Router
}

// Deps carries everything the server wires together
type Deps struct {
	SSOHandlers *sso.Handlers
	Auth        *middleware.AuthMiddleware
	Permissions *middleware.PermissionMiddleware
	RateLimit   func(http.Handler) http.Handler // applied to the auth endpoints
	Roles       RoleAssigner
	Users       UserDirectory
	Policies    PolicyAdmin
	PolicyCache PolicyCacheInvalidator
	Audits      AuditReader
	Sessions    SessionTerminator
	Devices     DeviceVerifier
	Metrics     *observability.Metrics
	Logger      *observability.Logger
}

// NewServer builds the router. Auth endpoints sit behind the rate
// limiter; everything under /api/v1 requires a live session.
func NewServer(deps Deps) *Server {
	s := &Server{router: mux.NewRouter()}

	authRouter := s.router.PathPrefix("/auth").Subrouter()
	if deps.RateLimit != nil {
		authRouter.Use(mux.MiddlewareFunc(deps.RateLimit))
	}
	deps.SSOHandlers.RegisterRoutes(authRouter)

	admin := newAdminHandlers(deps)
	apiRouter := s.router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(mux.MiddlewareFunc(deps.Auth.RequireAuth))

	apiRouter.Handle("/me", http.HandlerFunc(admin.HandleMe)).Methods(http.MethodGet)

	apiRouter.Handle("/users/{id}/role",
		deps.Permissions.RequirePermission(rbac.PermUsersManage)(http.HandlerFunc(admin.HandleAssignRole)),
	).Methods(http.MethodPut)

	apiRouter.Handle("/users/{id}/sessions",
		deps.Permissions.RequirePermission(rbac.PermSessionsRevoke)(http.HandlerFunc(admin.HandleRevokeSessions)),
	).Methods(http.MethodDelete)

	apiRouter.Handle("/users/{id}/devices/{fingerprint}/verify",
		deps.Permissions.RequirePermission(rbac.PermUsersManage)(http.HandlerFunc(admin.HandleVerifyDevice)),
	).Methods(http.MethodPost)

	apiRouter.Handle("/trust-policy",
		deps.Permissions.RequirePermission(rbac.PermPoliciesManage)(http.HandlerFunc(admin.HandleGetPolicy)),
	).Methods(http.MethodGet)
	apiRouter.Handle("/trust-policy",
		deps.Permissions.RequirePermission(rbac.PermPoliciesManage)(http.HandlerFunc(admin.HandlePutPolicy)),
	).Methods(http.MethodPut)
	apiRouter.Handle("/trust-policy",
		deps.Permissions.RequirePermission(rbac.PermPoliciesManage)(http.HandlerFunc(admin.HandleDeletePolicy)),
	).Methods(http.MethodDelete)

	apiRouter.Handle("/audit/events",
		deps.Permissions.RequirePermission(rbac.PermAuditView)(http.HandlerFunc(admin.HandleListAuditEvents)),
	).Methods(http.MethodGet)
	apiRouter.Handle("/audit/export",
		deps.Permissions.RequirePermission(rbac.PermAuditExport)(http.HandlerFunc(admin.HandleExportAuditEvents)),
	).Methods(http.MethodGet)

	s.router.Use(mux.MiddlewareFunc(middleware.RequestID))
	if deps.Metrics != nil {
		s.router.Use(instrument(deps.Metrics))
	}
	return s
}

// instrument records request counts and latency per route template, so
// path parameters never blow up label cardinality
func instrument(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					path = tpl
				}
			}
			metrics.InstrumentHandler(path, next).ServeHTTP(w, r)
		})
	}
}

// Router exposes the underlying router for instrumentation wrapping
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
