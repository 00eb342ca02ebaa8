package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/observability"
)

// Tier classifies a device fingerprint by its trust score
type Tier string

const (
	TierTrusted    Tier = "trusted"
	TierUnknown    Tier = "unknown"
	TierSuspicious Tier = "suspicious"
)

// TierForScore maps a trust score to its tier
func TierForScore(score int) Tier {
	switch {
	case score >= 70:
		return TierTrusted
	case score >= 40:
		return TierUnknown
	default:
		return TierSuspicious
	}
}

// Risk factor names attached to device analyses
const (
	FactorAutomation      = "automation_signature"
	FactorEOLClient       = "eol_client"
	FactorUnknownPlatform = "unknown_platform"
	FactorMissingHeader   = "missing_header"
	FactorAnomalousUA     = "anomalous_ua_length"
	FactorProxyIndicators = "proxy_indicators"
	FactorThreatMatch     = "threat_match"
	FactorTrustedDevice   = "trusted_device"
	FactorNewDevice       = "new_device"
	FactorStoreError      = "store_error"
)

// Weights configures the device scoring heuristics. All penalty fields are
// positive and subtracted from the baseline.
type Weights struct {
	Baseline             int
	AutomationSignature  int
	EOLClient            int
	UnknownPlatform      int
	MissingHeader        int
	AnomalousUALength    int
	ProxyIndicators      int
	ThreatScoreCeiling   int
	TrustedDeviceBonus   int
	NewDeviceWithHistory int
	VerificationFloor    int
}

// DefaultWeights returns the standard scoring configuration
func DefaultWeights() Weights {
	return Weights{
		Baseline:             50,
		AutomationSignature:  30,
		EOLClient:            15,
		UnknownPlatform:      10,
		MissingHeader:        5,
		AnomalousUALength:    10,
		ProxyIndicators:      15,
		ThreatScoreCeiling:   10,
		TrustedDeviceBonus:   30,
		NewDeviceWithHistory: 20,
		VerificationFloor:    40,
	}
}

// Metadata is the client-supplied material a device analysis works from
type Metadata struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	Platform       string
	Via            string
	ForwardedHops  int
	IP             string
}

// Fingerprint derives the stable device fingerprint from the metadata
func (m Metadata) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		m.UserAgent, m.AcceptLanguage, m.AcceptEncoding, m.Platform,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// Analysis is the outcome of a device trust evaluation
type Analysis struct {
	Fingerprint          string   `json:"fingerprint"`
	TrustScore           int      `json:"trust_score"`
	Tier                 Tier     `json:"tier"`
	RiskFactors          []string `json:"risk_factors,omitempty"`
	IsKnownDevice        bool     `json:"is_known_device"`
	RequiresVerification bool     `json:"requires_verification"`
}

// DeviceRepository is the persistence surface the analyzer needs
type DeviceRepository interface {
	GetDevice(ctx context.Context, userID, orgID int64, fingerprint string) (*DeviceRecord, error)
	CountDevices(ctx context.Context, userID, orgID int64) (int, error)
	UpsertDevice(ctx context.Context, rec *DeviceRecord) error
	IsThreat(ctx context.Context, fingerprint string) (bool, error)
}

var automationSignatures = []string{
	"headless", "bot", "spider", "crawler", "curl/", "wget/",
	"python-requests", "python/", "phantomjs", "selenium", "puppeteer", "playwright",
}

var eolSignatures = []string{
	"msie ", "trident/", "windows nt 5", "android 4.", "chrome/4", "firefox/5",
}

var knownPlatforms = map[string]bool{
	"windows": true, "macos": true, "linux": true,
	"android": true, "ios": true, "chromeos": true,
}

// DeviceAnalyzer scores client devices and maintains fingerprint records
type DeviceAnalyzer struct {
	devices  DeviceRepository
	weights  Weights
	recorder audit.Recorder
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewDeviceAnalyzer creates a device analyzer with the given weights
func NewDeviceAnalyzer(devices DeviceRepository, weights Weights, recorder audit.Recorder,
	metrics *observability.Metrics, logger *observability.Logger) *DeviceAnalyzer {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &DeviceAnalyzer{
		devices:  devices,
		weights:  weights,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
}

// AnalyzeDevice computes the trust score for a device. userID and orgID of
// zero skip the per-user history checks (pre-authentication calls).
func (a *DeviceAnalyzer) AnalyzeDevice(ctx context.Context, meta Metadata, userID, orgID int64) Analysis {
	w := a.weights
	analysis := Analysis{
		Fingerprint: meta.Fingerprint(),
		TrustScore:  w.Baseline,
	}

	a.applyHeuristics(&analysis, meta)

	if userID != 0 && orgID != 0 && a.devices != nil {
		a.applyHistory(ctx, &analysis, meta, userID, orgID)
	}

	a.applyThreatList(ctx, &analysis, meta)

	if analysis.TrustScore < 0 {
		analysis.TrustScore = 0
	}
	if analysis.TrustScore > 100 {
		analysis.TrustScore = 100
	}
	analysis.Tier = TierForScore(analysis.TrustScore)
	if analysis.TrustScore < w.VerificationFloor {
		analysis.RequiresVerification = true
	}

	if userID != 0 && orgID != 0 && a.devices != nil {
		a.persist(ctx, &analysis, userID, orgID)
	}

	if a.metrics != nil {
		a.metrics.DeviceTrustScore.Observe(float64(analysis.TrustScore))
		outcome := "pass"
		if analysis.RequiresVerification {
			outcome = "verify"
		}
		a.metrics.GateDecisionsTotal.WithLabelValues("device", outcome).Inc()
	}
	return analysis
}

func (a *DeviceAnalyzer) applyHeuristics(analysis *Analysis, meta Metadata) {
	w := a.weights
	ua := strings.ToLower(meta.UserAgent)

	for _, sig := range automationSignatures {
		if strings.Contains(ua, sig) {
			analysis.penalize(w.AutomationSignature, FactorAutomation)
			break
		}
	}

	for _, sig := range eolSignatures {
		if strings.Contains(ua, sig) {
			analysis.penalize(w.EOLClient, FactorEOLClient)
			break
		}
	}

	expected := []struct {
		name  string
		value string
	}{
		{"user_agent", meta.UserAgent},
		{"accept_language", meta.AcceptLanguage},
		{"accept_encoding", meta.AcceptEncoding},
		{"platform", meta.Platform},
	}
	for _, h := range expected {
		if h.value == "" {
			analysis.penalize(w.MissingHeader, FactorMissingHeader+":"+h.name)
		}
	}

	if meta.Platform != "" && !knownPlatforms[strings.ToLower(meta.Platform)] {
		analysis.penalize(w.UnknownPlatform, FactorUnknownPlatform)
	}

	if meta.UserAgent != "" && (len(meta.UserAgent) < 20 || len(meta.UserAgent) > 512) {
		analysis.penalize(w.AnomalousUALength, FactorAnomalousUA)
	}

	if meta.Via != "" || meta.ForwardedHops > 2 {
		analysis.penalize(w.ProxyIndicators, FactorProxyIndicators)
	}
}

func (a *DeviceAnalyzer) applyHistory(ctx context.Context, analysis *Analysis, meta Metadata, userID, orgID int64) {
	w := a.weights

	record, err := a.devices.GetDevice(ctx, userID, orgID, analysis.Fingerprint)
	if err != nil {
		a.storeError(analysis, err)
		return
	}
	if record != nil {
		analysis.IsKnownDevice = true
		if record.Tier == TierTrusted {
			analysis.TrustScore += w.TrustedDeviceBonus
			analysis.RiskFactors = append(analysis.RiskFactors, FactorTrustedDevice)
		}
		return
	}

	count, err := a.devices.CountDevices(ctx, userID, orgID)
	if err != nil {
		a.storeError(analysis, err)
		return
	}
	if count > 0 {
		analysis.penalize(w.NewDeviceWithHistory, FactorNewDevice)
		analysis.RequiresVerification = true

		event := audit.NewEvent(audit.ActionNewDevice, audit.SeverityMedium).
			WithOrg(orgID).
			WithActor(userID).
			WithResource(audit.ResourceDevice, analysis.Fingerprint).
			WithOrigin(meta.IP).
			WithDetail("prior_devices", count)
		if err := a.recorder.Record(ctx, event); err != nil {
			a.logger.WithError(err).Error("failed to record new device event")
		}
	}
}

func (a *DeviceAnalyzer) applyThreatList(ctx context.Context, analysis *Analysis, meta Metadata) {
	if a.devices == nil {
		return
	}
	match, err := a.devices.IsThreat(ctx, analysis.Fingerprint)
	if err != nil {
		a.storeError(analysis, err)
		return
	}
	if !match {
		return
	}

	if analysis.TrustScore > a.weights.ThreatScoreCeiling {
		analysis.TrustScore = a.weights.ThreatScoreCeiling
	}
	analysis.RiskFactors = append(analysis.RiskFactors, FactorThreatMatch)
	analysis.RequiresVerification = true

	event := audit.NewEvent(audit.ActionThreatMatch, audit.SeverityHigh).
		WithResource(audit.ResourceDevice, analysis.Fingerprint).
		WithOrigin(meta.IP).
		WithDetail("score", strconv.Itoa(analysis.TrustScore))
	if err := a.recorder.Record(ctx, event); err != nil {
		a.logger.WithError(err).Error("failed to record threat match")
	}
}

func (a *DeviceAnalyzer) persist(ctx context.Context, analysis *Analysis, userID, orgID int64) {
	status := VerificationVerified
	if analysis.RequiresVerification {
		status = VerificationPending
	}
	rec := &DeviceRecord{
		UserID:             userID,
		OrganizationID:     orgID,
		Fingerprint:        analysis.Fingerprint,
		Tier:               analysis.Tier,
		TrustScore:         analysis.TrustScore,
		VerificationStatus: status,
		RiskFactors:        analysis.RiskFactors,
	}
	if err := a.devices.UpsertDevice(ctx, rec); err != nil {
		a.logger.WithError(err).Error("failed to persist device fingerprint")
	}
}

func (a *DeviceAnalyzer) storeError(analysis *Analysis, err error) {
	a.logger.WithError(err).Error("device store lookup failed")
	analysis.RiskFactors = append(analysis.RiskFactors, FactorStoreError)
	analysis.RequiresVerification = true
}

func (an *Analysis) penalize(amount int, factor string) {
	an.TrustScore -= amount
	an.RiskFactors = append(an.RiskFactors, factor)
}
