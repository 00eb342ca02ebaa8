package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the access control core
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginsTotal        *prometheus.CounterVec // provider, outcome
	SessionsIssued     prometheus.Counter
	SessionsRevoked    prometheus.Counter
	ActiveSessions     prometheus.Gauge
	SessionValidations *prometheus.CounterVec // outcome

	// Authorization metrics
	PermissionChecksTotal *prometheus.CounterVec // outcome
	AccessDenialsTotal    *prometheus.CounterVec // reason

	// Device & network gate metrics
	GateDecisionsTotal *prometheus.CounterVec // check, outcome
	DeviceTrustScore   prometheus.Histogram

	// Trust policy cache metrics
	PolicyCacheHits   prometheus.Counter
	PolicyCacheMisses prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_logins_total",
				Help: "Total number of SSO login attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SessionsIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sessions_issued_total",
				Help: "Total number of sessions issued",
			},
		),
		SessionsRevoked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sessions_revoked_total",
				Help: "Total number of sessions explicitly revoked",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_active_sessions",
				Help: "Number of sessions currently active",
			},
		),
		SessionValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_session_validations_total",
				Help: "Total number of session validations by outcome",
			},
			[]string{"outcome"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permission_checks_total",
				Help: "Total number of permission checks by outcome",
			},
			[]string{"outcome"},
		),
		AccessDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_access_denials_total",
				Help: "Total number of access denials by reason",
			},
			[]string{"reason"},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_gate_decisions_total",
				Help: "Total number of device/network gate decisions",
			},
			[]string{"check", "outcome"},
		),
		DeviceTrustScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_device_trust_score",
				Help:    "Distribution of computed device trust scores",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		PolicyCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_policy_cache_hits_total",
				Help: "Trust policy cache hits",
			},
		),
		PolicyCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_policy_cache_misses_total",
				Help: "Trust policy cache misses",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.SessionsIssued,
		m.SessionsRevoked,
		m.ActiveSessions,
		m.SessionValidations,
		m.PermissionChecksTotal,
		m.AccessDenialsTotal,
		m.GateDecisionsTotal,
		m.DeviceTrustScore,
		m.PolicyCacheHits,
		m.PolicyCacheMisses,
	)

	return m
}

// Handler returns an HTTP handler that serves the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for instrumentation
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps an HTTP handler with request count and duration metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
