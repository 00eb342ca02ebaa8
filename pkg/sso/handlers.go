package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/wardenhq/warden/pkg/directory"
	"github.com/wardenhq/warden/pkg/gate"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/observability"
)

// Cookie names used by the login flow
const (
	StateCookieName   = "warden_sso_state"
	OrgHintCookieName = "warden_sso_org"
	SessionCookieName = "warden_session"
)

// ErrorRedirectPath receives failed logins; only an error tag is carried
const ErrorRedirectPath = "/login/error"

// SessionRevoker terminates sessions on logout
type SessionRevoker interface {
	Revoke(ctx context.Context, signedToken string) error
}

// Handlers exposes the SSO login flow over HTTP
type Handlers struct {
	registry     *Registry
	orchestrator *Orchestrator
	sessions     SessionRevoker
	metrics      *observability.Metrics
	logger       *observability.Logger
	stateTTL     time.Duration
	secureCookie bool
}

// NewHandlers creates the SSO HTTP handlers. stateTTL bounds how long a
// login may sit between initiation and callback.
func NewHandlers(registry *Registry, orchestrator *Orchestrator, sessions SessionRevoker,
	metrics *observability.Metrics, logger *observability.Logger,
	stateTTL time.Duration, secureCookie bool) *Handlers {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	return &Handlers{
		registry:     registry,
		orchestrator: orchestrator,
		sessions:     sessions,
		metrics:      metrics,
		logger:       logger,
		stateTTL:     stateTTL,
		secureCookie: secureCookie,
	}
}

// RegisterRoutes registers the SSO routes. The callback accepts POST as
// well because SAML IdPs deliver assertions with an HTTP-POST binding.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/providers", h.HandleListProviders).Methods(http.MethodGet)
	router.HandleFunc("/auth/sso/{provider}/login", h.HandleLogin).Methods(http.MethodGet)
	router.HandleFunc("/auth/sso/{provider}/callback", h.HandleCallback).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/auth/logout", h.HandleLogout).Methods(http.MethodPost)
}

// HandleListProviders lists the configured provider tags
func (h *Handlers) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	tags := h.registry.Tags()
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, string(tag))
	}
	httputil.WriteSuccess(w, map[string]interface{}{"providers": out})
}

// HandleLogin initiates a login with the named provider. An optional
// org_hint query parameter is carried through the flow in a cookie.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	tag := ProviderTag(mux.Vars(r)["provider"])
	provider, err := h.registry.Get(tag)
	if err != nil {
		h.redirectError(w, r, "unsupported_provider")
		return
	}

	state, err := generateState()
	if err != nil {
		h.logger.WithError(err).Error("failed to generate login state")
		httputil.WriteInternalError(w, fmt.Errorf("failed to start login"))
		return
	}

	h.setFlowCookie(w, StateCookieName, state)
	if hint := r.URL.Query().Get("org_hint"); hint != "" {
		if _, err := strconv.ParseInt(hint, 10, 64); err == nil {
			h.setFlowCookie(w, OrgHintCookieName, hint)
		}
	}

	if err := provider.InitiateLogin(w, r, state); err != nil {
		h.logger.WithError(err).WithField("provider", string(tag)).Error("failed to initiate login")
		h.redirectError(w, r, "login_failed")
	}
}

// HandleCallback completes a login. The CSRF state must match the cookie
// set at initiation; any mismatch is a hard failure.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	tag := ProviderTag(mux.Vars(r)["provider"])
	provider, err := h.registry.Get(tag)
	if err != nil {
		h.redirectError(w, r, "unsupported_provider")
		return
	}

	if err := h.verifyState(r); err != nil {
		h.logger.WithError(err).WithField("provider", string(tag)).Warn("sso state verification failed")
		h.countFailure(tag)
		h.clearFlowCookies(w)
		h.redirectError(w, r, "invalid_state")
		return
	}
	orgHint := h.orgHint(r)
	h.clearFlowCookies(w)

	raw, err := provider.HandleCallback(r)
	if err != nil {
		h.logger.WithError(err).WithField("provider", string(tag)).Warn("provider callback failed")
		h.countFailure(tag)
		h.redirectError(w, r, "login_failed")
		return
	}

	profile, err := Normalize(tag, raw)
	if err != nil {
		h.logger.WithError(err).WithField("provider", string(tag)).Warn("failed to normalize provider attributes")
		h.countFailure(tag)
		h.redirectError(w, r, "login_failed")
		return
	}

	result, err := h.orchestrator.CompleteLogin(r.Context(), profile, requestMetadata(r), orgHint)
	if err != nil {
		h.redirectError(w, r, errorTag(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    result.SessionToken,
		Path:     "/",
		Expires:  result.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, result.RedirectTarget, http.StatusFound)
}

// HandleLogout revokes the caller's session and clears the cookie
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := httputil.BearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(SessionCookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		httputil.WriteUnauthorized(w, "no session")
		return
	}

	if err := h.sessions.Revoke(r.Context(), token); err != nil {
		h.logger.WithError(err).Warn("logout revocation failed")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteNoContent(w)
}

// verifyState compares the state echoed by the IdP (the state query
// parameter, or RelayState for SAML POST bindings) against the cookie.
func (h *Handlers) verifyState(r *http.Request) error {
	echoed := r.URL.Query().Get("state")
	if echoed == "" {
		echoed = r.FormValue("RelayState")
	}
	if echoed == "" {
		return fmt.Errorf("%w: no state in callback", ErrInvalidState)
	}

	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return fmt.Errorf("%w: no state cookie", ErrInvalidState)
	}
	if cookie.Value != echoed {
		return fmt.Errorf("%w: state mismatch", ErrInvalidState)
	}
	return nil
}

func (h *Handlers) orgHint(r *http.Request) int64 {
	cookie, err := r.Cookie(OrgHintCookieName)
	if err != nil {
		return 0
	}
	hint, err := strconv.ParseInt(cookie.Value, 10, 64)
	if err != nil {
		return 0
	}
	return hint
}

func (h *Handlers) setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/sso",
		MaxAge:   int(h.stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearFlowCookies(w http.ResponseWriter) {
	for _, name := range []string{StateCookieName, OrgHintCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/auth/sso",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (h *Handlers) redirectError(w http.ResponseWriter, r *http.Request, tag string) {
	http.Redirect(w, r, ErrorRedirectPath+"?error="+tag, http.StatusFound)
}

func (h *Handlers) countFailure(tag ProviderTag) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(string(tag), "failure").Inc()
	}
}

// errorTag maps pipeline errors to the tag exposed on the error redirect.
// Nothing else about the failure leaks to the client.
func errorTag(err error) string {
	switch {
	case errors.Is(err, ErrNetworkDenied):
		return "network_denied"
	case errors.Is(err, directory.ErrDomainNotAuthorized):
		return "domain_not_authorized"
	default:
		return "login_failed"
	}
}

// requestMetadata extracts the device signals the gate scores
func requestMetadata(r *http.Request) gate.Metadata {
	hops := 0
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops = len(strings.Split(xff, ","))
	}
	return gate.Metadata{
		UserAgent:      r.Header.Get("User-Agent"),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		Platform:       strings.Trim(r.Header.Get("Sec-CH-UA-Platform"), `"`),
		Via:            r.Header.Get("Via"),
		ForwardedHops:  hops,
		IP:             httputil.ClientIP(r),
	}
}

func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
