package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.LoginsTotal.WithLabelValues("okta", "success").Inc()
	m.GateDecisionsTotal.WithLabelValues("network", "deny").Inc()
	m.DeviceTrustScore.Observe(35)

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["warden_logins_total"])
	assert.True(t, names["warden_gate_decisions_total"])
	assert.True(t, names["warden_device_trust_score"])
}

func TestInstrumentHandler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := m.InstrumentHandler("/auth/sso/callback", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/auth/sso/callback", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/auth/sso/callback", "403"))
	assert.Equal(t, float64(1), count)
}
