package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/audit"
)

type fakeDeviceRepo struct {
	devices  map[string]*DeviceRecord // keyed by fingerprint
	count    int
	threats  map[string]bool
	upserted []*DeviceRecord
	fail     bool
}

func (f *fakeDeviceRepo) GetDevice(ctx context.Context, userID, orgID int64, fingerprint string) (*DeviceRecord, error) {
	if f.fail {
		return nil, errors.New("db down")
	}
	return f.devices[fingerprint], nil
}

func (f *fakeDeviceRepo) CountDevices(ctx context.Context, userID, orgID int64) (int, error) {
	if f.fail {
		return 0, errors.New("db down")
	}
	return f.count, nil
}

func (f *fakeDeviceRepo) UpsertDevice(ctx context.Context, rec *DeviceRecord) error {
	if f.fail {
		return errors.New("db down")
	}
	f.upserted = append(f.upserted, rec)
	return nil
}

func (f *fakeDeviceRepo) IsThreat(ctx context.Context, fingerprint string) (bool, error) {
	if f.fail {
		return false, errors.New("db down")
	}
	return f.threats[fingerprint], nil
}

func newRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: map[string]*DeviceRecord{}, threats: map[string]bool{}}
}

// healthyMeta passes every heuristic at the default weights
func healthyMeta() Metadata {
	return Metadata{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/126.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
		Platform:       "macOS",
		IP:             "198.51.100.7",
	}
}

func newAnalyzer(repo DeviceRepository, rec audit.Recorder) *DeviceAnalyzer {
	return NewDeviceAnalyzer(repo, DefaultWeights(), rec, nil, testLogger())
}

func TestAnalyzeDevice_Heuristics(t *testing.T) {
	ctx := context.Background()

	t.Run("clean browser keeps baseline", func(t *testing.T) {
		a := newAnalyzer(newRepo(), nil)
		analysis := a.AnalyzeDevice(ctx, healthyMeta(), 0, 0)

		assert.Equal(t, 50, analysis.TrustScore)
		assert.Equal(t, TierUnknown, analysis.Tier)
		assert.Empty(t, analysis.RiskFactors)
		assert.False(t, analysis.RequiresVerification)
	})

	t.Run("automation signature", func(t *testing.T) {
		meta := healthyMeta()
		meta.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/126.0.0.0 Safari/537.36"
		meta.Platform = "Linux"

		a := newAnalyzer(newRepo(), nil)
		analysis := a.AnalyzeDevice(ctx, meta, 0, 0)

		assert.Equal(t, 20, analysis.TrustScore)
		assert.Contains(t, analysis.RiskFactors, FactorAutomation)
		assert.True(t, analysis.RequiresVerification)
		assert.Equal(t, TierSuspicious, analysis.Tier)
	})

	t.Run("eol client", func(t *testing.T) {
		meta := healthyMeta()
		meta.UserAgent = "Mozilla/5.0 (Windows NT 5.1) AppleWebKit/537.36 like Gecko"
		meta.Platform = "Windows"

		a := newAnalyzer(newRepo(), nil)
		analysis := a.AnalyzeDevice(ctx, meta, 0, 0)
		assert.Contains(t, analysis.RiskFactors, FactorEOLClient)
		assert.Equal(t, 35, analysis.TrustScore)
	})

	t.Run("missing headers stack", func(t *testing.T) {
		meta := Metadata{UserAgent: healthyMeta().UserAgent}
		a := newAnalyzer(newRepo(), nil)
		analysis := a.AnalyzeDevice(ctx, meta, 0, 0)

		// accept_language, accept_encoding and platform each cost 5
		assert.Equal(t, 35, analysis.TrustScore)
		assert.Len(t, analysis.RiskFactors, 3)
	})

	t.Run("unknown platform", func(t *testing.T) {
		meta := healthyMeta()
		meta.Platform = "TempleOS"
		a := newAnalyzer(newRepo(), nil)
		analysis := a.AnalyzeDevice(ctx, meta, 0, 0)
		assert.Contains(t, analysis.RiskFactors, FactorUnknownPlatform)
		assert.Equal(t, 40, analysis.TrustScore)
	})

	t.Run("anomalous UA length", func(t *testing.T) {
		meta := healthyMeta()
		meta.UserAgent = "tiny"
		a := newAnalyzer(newRepo(), nil)
		analysis := a.AnalyzeDevice(ctx, meta, 0, 0)
		assert.Contains(t, analysis.RiskFactors, FactorAnomalousUA)
	})

	t.Run("proxy indicators", func(t *testing.T) {
		meta := healthyMeta()
		meta.Via = "1.1 corp-proxy"
		a := newAnalyzer(newRepo(), nil)
		analysis := a.AnalyzeDevice(ctx, meta, 0, 0)
		assert.Contains(t, analysis.RiskFactors, FactorProxyIndicators)
		assert.Equal(t, 35, analysis.TrustScore)
	})

	t.Run("score clamped at zero", func(t *testing.T) {
		a := newAnalyzer(newRepo(), nil)
		analysis := a.AnalyzeDevice(ctx, Metadata{UserAgent: "curl/8.0"}, 0, 0)
		assert.GreaterOrEqual(t, analysis.TrustScore, 0)
		assert.Equal(t, TierSuspicious, analysis.Tier)
	})
}

func TestAnalyzeDevice_History(t *testing.T) {
	ctx := context.Background()
	meta := healthyMeta()
	fp := meta.Fingerprint()

	t.Run("trusted device bonus", func(t *testing.T) {
		repo := newRepo()
		repo.devices[fp] = &DeviceRecord{Fingerprint: fp, Tier: TierTrusted}

		a := newAnalyzer(repo, nil)
		analysis := a.AnalyzeDevice(ctx, meta, 42, 7)

		assert.True(t, analysis.IsKnownDevice)
		assert.Equal(t, 80, analysis.TrustScore)
		assert.Equal(t, TierTrusted, analysis.Tier)
		assert.False(t, analysis.RequiresVerification)
	})

	t.Run("known but not trusted gets no bonus", func(t *testing.T) {
		repo := newRepo()
		repo.devices[fp] = &DeviceRecord{Fingerprint: fp, Tier: TierUnknown}

		a := newAnalyzer(repo, nil)
		analysis := a.AnalyzeDevice(ctx, meta, 42, 7)
		assert.True(t, analysis.IsKnownDevice)
		assert.Equal(t, 50, analysis.TrustScore)
	})

	t.Run("new device with prior history", func(t *testing.T) {
		repo := newRepo()
		repo.count = 2
		rec := &audit.MemoryRecorder{}

		a := newAnalyzer(repo, rec)
		analysis := a.AnalyzeDevice(ctx, meta, 42, 7)

		assert.Equal(t, 30, analysis.TrustScore)
		assert.Contains(t, analysis.RiskFactors, FactorNewDevice)
		assert.True(t, analysis.RequiresVerification)
		require.Len(t, rec.ByAction(audit.ActionNewDevice), 1)
	})

	t.Run("first device ever has no penalty", func(t *testing.T) {
		repo := newRepo()
		a := newAnalyzer(repo, nil)
		analysis := a.AnalyzeDevice(ctx, meta, 42, 7)
		assert.Equal(t, 50, analysis.TrustScore)
		assert.False(t, analysis.IsKnownDevice)
	})

	t.Run("sighting persisted with tier", func(t *testing.T) {
		repo := newRepo()
		a := newAnalyzer(repo, nil)
		a.AnalyzeDevice(ctx, meta, 42, 7)

		require.Len(t, repo.upserted, 1)
		saved := repo.upserted[0]
		assert.Equal(t, fp, saved.Fingerprint)
		assert.Equal(t, TierUnknown, saved.Tier)
		assert.Equal(t, int64(42), saved.UserID)
		assert.Equal(t, VerificationVerified, saved.VerificationStatus)
		assert.Empty(t, saved.RiskFactors)
	})

	t.Run("verification-forcing sighting persisted as pending with factors", func(t *testing.T) {
		repo := newRepo()
		repo.count = 2

		a := newAnalyzer(repo, &audit.MemoryRecorder{})
		a.AnalyzeDevice(ctx, meta, 42, 7)

		require.Len(t, repo.upserted, 1)
		saved := repo.upserted[0]
		assert.Equal(t, VerificationPending, saved.VerificationStatus)
		assert.Contains(t, saved.RiskFactors, FactorNewDevice)
	})

	t.Run("store failure forces verification", func(t *testing.T) {
		repo := newRepo()
		repo.fail = true
		a := newAnalyzer(repo, nil)

		analysis := a.AnalyzeDevice(ctx, meta, 42, 7)
		assert.True(t, analysis.RequiresVerification)
		assert.Contains(t, analysis.RiskFactors, FactorStoreError)
	})
}

func TestAnalyzeDevice_ThreatList(t *testing.T) {
	ctx := context.Background()
	meta := healthyMeta()

	repo := newRepo()
	repo.devices[meta.Fingerprint()] = &DeviceRecord{Fingerprint: meta.Fingerprint(), Tier: TierTrusted}
	repo.threats[meta.Fingerprint()] = true
	rec := &audit.MemoryRecorder{}

	a := newAnalyzer(repo, rec)
	analysis := a.AnalyzeDevice(ctx, meta, 42, 7)

	// threat match caps the score even for a trusted device
	assert.LessOrEqual(t, analysis.TrustScore, 10)
	assert.True(t, analysis.RequiresVerification)
	assert.Contains(t, analysis.RiskFactors, FactorThreatMatch)

	events := rec.ByAction(audit.ActionThreatMatch)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityHigh, events[0].Severity)
}

func TestFingerprintStability(t *testing.T) {
	a := healthyMeta()
	b := healthyMeta()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.AcceptLanguage = "fr-FR"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

func TestTierForScore(t *testing.T) {
	assert.Equal(t, TierTrusted, TierForScore(70))
	assert.Equal(t, TierUnknown, TierForScore(69))
	assert.Equal(t, TierUnknown, TierForScore(40))
	assert.Equal(t, TierSuspicious, TierForScore(39))
}
