package gate

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/rbac"
	"github.com/wardenhq/warden/pkg/trustpolicy"
)

type fakePolicies struct {
	policy *trustpolicy.Policy
	err    error
}

func (f *fakePolicies) GetByOrganization(ctx context.Context, orgID int64) (*trustpolicy.Policy, error) {
	return f.policy, f.err
}

type fakeSubjects struct {
	subjects map[int64]*rbac.Subject
}

func (f *fakeSubjects) Subject(ctx context.Context, userID int64) (*rbac.Subject, error) {
	s, ok := f.subjects[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newGate(policy *trustpolicy.Policy, policyErr error, subjects *fakeSubjects, geo GeoResolver, rec audit.Recorder) *NetworkGate {
	return NewNetworkGate(&fakePolicies{policy: policy, err: policyErr}, subjects, geo, rec, nil, testLogger())
}

func TestCheckIPWhitelist(t *testing.T) {
	ctx := context.Background()

	t.Run("no policy allows with zero risk", func(t *testing.T) {
		g := newGate(nil, nil, nil, nil, nil)
		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 0)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.RiskScore)
		assert.Equal(t, ReasonNoPolicy, d.Reason)
	})

	t.Run("exact IP match", func(t *testing.T) {
		g := newGate(&trustpolicy.Policy{AllowedIPs: []string{"203.0.113.9"}}, nil, nil, nil, nil)
		d := g.CheckIPWhitelist(ctx, "203.0.113.9", 7, 0)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.RiskScore)
		assert.Equal(t, ReasonIPWhitelisted, d.Reason)
	})

	t.Run("CIDR containment", func(t *testing.T) {
		g := newGate(&trustpolicy.Policy{AllowedCIDRs: []string{"10.0.0.0/8"}}, nil, nil, nil, nil)
		d := g.CheckIPWhitelist(ctx, "10.0.0.5", 7, 0)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.RiskScore)
		assert.Equal(t, ReasonCIDRMatch, d.Reason)
	})

	t.Run("malformed CIDR skipped", func(t *testing.T) {
		g := newGate(&trustpolicy.Policy{AllowedCIDRs: []string{"not-a-cidr", "10.0.0.0/8"}}, nil, nil, nil, nil)
		d := g.CheckIPWhitelist(ctx, "10.1.2.3", 7, 0)
		assert.True(t, d.Allowed)
	})

	t.Run("geo denial", func(t *testing.T) {
		rec := &audit.MemoryRecorder{}
		geo := StaticGeoResolver{"198.51.100.7": "KP"}
		g := newGate(&trustpolicy.Policy{DeniedGeos: []string{"KP"}}, nil, nil, geo, rec)

		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 0)
		assert.False(t, d.Allowed)
		assert.Equal(t, 80, d.RiskScore)
		assert.Equal(t, ReasonGeoDenied, d.Reason)

		require.Len(t, rec.ByAction(audit.ActionNetworkDenied), 1)
	})

	t.Run("geo allow list match", func(t *testing.T) {
		geo := StaticGeoResolver{"198.51.100.7": "DE"}
		g := newGate(&trustpolicy.Policy{AllowedGeos: []string{"DE"}, BlockUnknownIPs: true}, nil, nil, geo, nil)

		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 0)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.RiskScore)
	})

	t.Run("block unknown IPs", func(t *testing.T) {
		g := newGate(&trustpolicy.Policy{BlockUnknownIPs: true}, nil, nil, nil, nil)
		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 0)
		assert.False(t, d.Allowed)
		assert.Equal(t, 70, d.RiskScore)
		assert.Equal(t, ReasonUnknownBlocked, d.Reason)
	})

	t.Run("unlisted origin allowed with elevated risk", func(t *testing.T) {
		g := newGate(&trustpolicy.Policy{AllowedIPs: []string{"203.0.113.9"}}, nil, nil, nil, nil)
		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 0)
		assert.True(t, d.Allowed)
		assert.Equal(t, 40, d.RiskScore)
		assert.Equal(t, ReasonUnrestricted, d.Reason)
	})

	t.Run("policy load failure denies", func(t *testing.T) {
		rec := &audit.MemoryRecorder{}
		g := newGate(nil, errors.New("db down"), nil, nil, rec)

		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 0)
		assert.False(t, d.Allowed)
		assert.Equal(t, 60, d.RiskScore)
		assert.Equal(t, ReasonCheckError, d.Reason)
		require.Len(t, rec.ByAction(audit.ActionNetworkError), 1)
	})

	t.Run("unparseable IP denies", func(t *testing.T) {
		g := newGate(&trustpolicy.Policy{BlockUnknownIPs: true}, nil, nil, nil, nil)
		d := g.CheckIPWhitelist(ctx, "not-an-ip", 7, 0)
		assert.False(t, d.Allowed)
		assert.Equal(t, 60, d.RiskScore)
	})
}

func TestEmergencyBypass(t *testing.T) {
	ctx := context.Background()
	subjects := &fakeSubjects{subjects: map[int64]*rbac.Subject{
		1: {ID: 1, Role: rbac.RoleOwner},
		2: {ID: 2, Role: rbac.RoleAdmin},
		4: {ID: 4, Role: rbac.RoleAnalyst},
	}}
	policy := &trustpolicy.Policy{BlockUnknownIPs: true, EmergencyBypassEnabled: true}

	t.Run("owner bypasses with audit trail", func(t *testing.T) {
		rec := &audit.MemoryRecorder{}
		g := newGate(policy, nil, subjects, nil, rec)

		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 1)
		assert.True(t, d.Allowed)
		assert.True(t, d.Bypassed)

		events := rec.ByAction(audit.ActionNetworkBypass)
		require.Len(t, events, 1)
		assert.Equal(t, audit.SeverityMedium, events[0].Severity)
		assert.Equal(t, ReasonUnknownBlocked, events[0].Details["denied_reason"])
	})

	t.Run("admin bypasses", func(t *testing.T) {
		g := newGate(policy, nil, subjects, nil, nil)
		assert.True(t, g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 2).Bypassed)
	})

	t.Run("analyst cannot bypass", func(t *testing.T) {
		rec := &audit.MemoryRecorder{}
		g := newGate(policy, nil, subjects, nil, rec)

		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 4)
		assert.False(t, d.Allowed)
		assert.Empty(t, rec.ByAction(audit.ActionNetworkBypass))
	})

	t.Run("bypass disabled by policy", func(t *testing.T) {
		g := newGate(&trustpolicy.Policy{BlockUnknownIPs: true}, nil, subjects, nil, nil)
		assert.False(t, g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 1).Allowed)
	})

	t.Run("no bypass on check errors", func(t *testing.T) {
		g := newGate(nil, errors.New("db down"), subjects, nil, nil)
		d := g.CheckIPWhitelist(ctx, "198.51.100.7", 7, 1)
		assert.False(t, d.Allowed)
	})
}
