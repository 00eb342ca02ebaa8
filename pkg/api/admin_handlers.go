package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/directory"
	"github.com/wardenhq/warden/pkg/gate"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/middleware"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/rbac"
	"github.com/wardenhq/warden/pkg/trustpolicy"
)

// adminHandlers serves the tenant administration endpoints. Every handler
// assumes RequireAuth ran; permission checks happen in the route wiring.
type adminHandlers struct {
	roles       RoleAssigner
	users       UserDirectory
	policies    PolicyAdmin
	policyCache PolicyCacheInvalidator
	audits      AuditReader
	sessions    SessionTerminator
	devices     DeviceVerifier
	logger      *observability.Logger
}

func newAdminHandlers(deps Deps) *adminHandlers {
	return &adminHandlers{
		roles:       deps.Roles,
		users:       deps.Users,
		policies:    deps.Policies,
		policyCache: deps.PolicyCache,
		audits:      deps.Audits,
		sessions:    deps.Sessions,
		devices:     deps.Devices,
		logger:      deps.Logger,
	}
}

// HandleMe returns the caller's identity as seen by the session layer
func (h *adminHandlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":              identity.UserID,
		"organization_id":      identity.OrganizationID,
		"role":                 string(identity.Role),
		"approval_limit_cents": identity.ApprovalLimitCents,
	})
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

// HandleAssignRole changes a user's role. The target must belong to the
// caller's organization.
func (h *adminHandlers) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	targetID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	var req assignRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	target, err := h.users.GetUserByID(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		h.logger.WithError(err).Error("failed to load role target")
		httputil.WriteInternalError(w, fmt.Errorf("failed to load user"))
		return
	}
	if target.OrganizationID != identity.OrganizationID {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	if err := h.roles.AssignRole(r.Context(), identity.UserID, targetID, rbac.Role(req.Role)); err != nil {
		switch {
		case errors.Is(err, rbac.ErrUnknownRole):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, rbac.ErrInsufficientPermission):
			httputil.WriteForbidden(w, "insufficient permission")
		default:
			h.logger.WithError(err).Error("role assignment failed")
			httputil.WriteInternalError(w, fmt.Errorf("role assignment failed"))
		}
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":              targetID,
		"role":                 req.Role,
		"approval_limit_cents": rbac.DefaultApprovalLimit(rbac.Role(req.Role)),
	})
}

// HandleRevokeSessions terminates all of a user's sessions
func (h *adminHandlers) HandleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	targetID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	target, err := h.users.GetUserByID(r.Context(), targetID)
	if err != nil || target.OrganizationID != identity.OrganizationID {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	revoked, err := h.sessions.RevokeAllForUser(r.Context(), targetID)
	if err != nil {
		h.logger.WithError(err).Error("failed to revoke sessions")
		httputil.WriteInternalError(w, fmt.Errorf("failed to revoke sessions"))
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"revoked": revoked})
}

// HandleVerifyDevice confirms a pending device fingerprint for a user in
// the caller's organization
func (h *adminHandlers) HandleVerifyDevice(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	targetID, err := pathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user id")
		return
	}

	target, err := h.users.GetUserByID(r.Context(), targetID)
	if err != nil || target.OrganizationID != identity.OrganizationID {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	fingerprint := mux.Vars(r)["fingerprint"]
	if err := h.devices.MarkVerified(r.Context(), targetID, identity.OrganizationID, fingerprint); err != nil {
		if errors.Is(err, gate.ErrDeviceNotFound) {
			httputil.WriteNotFoundError(w, "device not found")
			return
		}
		h.logger.WithError(err).Error("failed to verify device")
		httputil.WriteInternalError(w, fmt.Errorf("failed to verify device"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":             targetID,
		"fingerprint":         fingerprint,
		"verification_status": gate.VerificationVerified,
	})
}

// HandleGetPolicy returns the caller organization's trust policy
func (h *adminHandlers) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	policy, err := h.policies.GetByOrganization(r.Context(), identity.OrganizationID)
	if err != nil {
		h.logger.WithError(err).Error("failed to load trust policy")
		httputil.WriteInternalError(w, fmt.Errorf("failed to load trust policy"))
		return
	}
	if policy == nil {
		httputil.WriteNotFoundError(w, "no trust policy configured")
		return
	}
	httputil.WriteSuccess(w, policy)
}

// HandlePutPolicy creates or replaces the organization's trust policy
func (h *adminHandlers) HandlePutPolicy(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var policy trustpolicy.Policy
	if err := httputil.DecodeJSON(r, &policy); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	// The path decides the tenant, never the body
	policy.OrganizationID = identity.OrganizationID

	if err := h.policies.Upsert(r.Context(), &policy); err != nil {
		h.logger.WithError(err).Error("failed to store trust policy")
		httputil.WriteInternalError(w, fmt.Errorf("failed to store trust policy"))
		return
	}
	if h.policyCache != nil {
		h.policyCache.Invalidate(identity.OrganizationID)
	}
	httputil.WriteSuccess(w, &policy)
}

// HandleDeletePolicy removes the organization's trust policy
func (h *adminHandlers) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	if err := h.policies.Delete(r.Context(), identity.OrganizationID); err != nil {
		h.logger.WithError(err).Error("failed to delete trust policy")
		httputil.WriteInternalError(w, fmt.Errorf("failed to delete trust policy"))
		return
	}
	if h.policyCache != nil {
		h.policyCache.Invalidate(identity.OrganizationID)
	}
	httputil.WriteNoContent(w)
}

// HandleListAuditEvents lists the organization's audit trail, newest first
func (h *adminHandlers) HandleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	events, err := h.audits.List(r.Context(), auditQuery(r, identity.OrganizationID))
	if err != nil {
		h.logger.WithError(err).Error("failed to list audit events")
		httputil.WriteInternalError(w, fmt.Errorf("failed to list audit events"))
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"events": events})
}

// HandleExportAuditEvents streams the audit trail as CSV
func (h *adminHandlers) HandleExportAuditEvents(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	events, err := h.audits.List(r.Context(), auditQuery(r, identity.OrganizationID))
	if err != nil {
		h.logger.WithError(err).Error("failed to export audit events")
		httputil.WriteInternalError(w, fmt.Errorf("failed to export audit events"))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_events.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "timestamp", "action", "severity", "actor_user_id", "resource_type", "resource_id", "network_origin"})
	for _, e := range events {
		actor := ""
		if e.ActorUserID != nil {
			actor = strconv.FormatInt(*e.ActorUserID, 10)
		}
		cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			string(e.Action),
			string(e.Severity),
			actor,
			string(e.ResourceType),
			e.ResourceID,
			e.NetworkOrigin,
		})
	}
	cw.Flush()
}

func auditQuery(r *http.Request, orgID int64) audit.Query {
	q := audit.Query{OrganizationID: orgID}
	if action := r.URL.Query().Get("action"); action != "" {
		q.Action = audit.Action(action)
	}
	if actor := r.URL.Query().Get("actor_id"); actor != "" {
		if id, err := strconv.ParseInt(actor, 10, 64); err == nil {
			q.ActorUserID = id
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			q.Limit = n
		}
	}
	return q
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
