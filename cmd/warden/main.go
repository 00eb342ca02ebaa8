package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/wardenhq/warden/pkg/api"
	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/directory"
	"github.com/wardenhq/warden/pkg/gate"
	"github.com/wardenhq/warden/pkg/middleware"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/rbac"
	"github.com/wardenhq/warden/pkg/session"
	"github.com/wardenhq/warden/pkg/sso"
	"github.com/wardenhq/warden/pkg/trustpolicy"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open postgres connection")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("postgres is unreachable")
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Error("redis is unreachable")
			os.Exit(1)
		}
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	if err := directory.Migrate(db); err != nil {
		logger.WithError(err).Error("directory migration failed")
		os.Exit(1)
	}
	dirStore := directory.NewStore(db)

	auditLog, err := audit.NewDBRecorder(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit log")
		os.Exit(1)
	}
	// Audit writes happen off the request path; reads still go straight
	// to the store.
	recorder := audit.NewAsyncRecorder(auditLog, 4, 256, 5*time.Second, logger)

	policyStore, err := trustpolicy.NewStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize trust policy store")
		os.Exit(1)
	}
	policies := trustpolicy.NewCachedProvider(policyStore, cfg.Policy.CacheSize, cfg.Policy.CacheTTL, metrics)

	deviceStore, err := gate.NewDeviceStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize device store")
		os.Exit(1)
	}

	sessionStore, err := session.NewStore(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize session store")
		os.Exit(1)
	}

	engine := rbac.NewEngine(dirStore, recorder)
	analyzer := gate.NewDeviceAnalyzer(deviceStore, gate.DefaultWeights(), recorder, metrics, logger)
	networkGate := gate.NewNetworkGate(policies, dirStore, nil, recorder, metrics, logger)

	sessions, err := session.NewManager(sessionStore, policies, recorder, metrics, logger,
		cfg.Auth.SigningSecret, cfg.Auth.SessionTimeoutHours, cfg.Auth.MaxSessionHours)
	if err != nil {
		logger.WithError(err).Error("failed to initialize session manager")
		os.Exit(1)
	}

	resolver := directory.NewResolver(dirStore, logger)
	provisioner := directory.NewProvisioner(dirStore, logger)
	orchestrator := sso.NewOrchestrator(resolver, provisioner, sessions, networkGate, analyzer,
		recorder, metrics, logger)

	registry := buildProviderRegistry(cfg, logger)

	secureCookie := strings.HasPrefix(cfg.Server.BaseURL, "https://")
	ssoHandlers := sso.NewHandlers(registry, orchestrator, sessions, metrics, logger,
		cfg.Auth.StateTTL, secureCookie)

	// The auth endpoints fail closed when the distributed limiter cannot
	// reach Redis; the in-memory limiter is the single-instance fallback.
	loginLimits := middleware.LoginRateLimitConfig(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)
	var rateLimit func(http.Handler) http.Handler
	if redisClient != nil {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(
			redisClient, loginLimits, "ratelimit:auth", false, logger).Handler
	} else {
		rateLimit = middleware.NewRateLimitMiddleware(loginLimits).Handler
	}

	server := api.NewServer(api.Deps{
		SSOHandlers: ssoHandlers,
		Auth:        middleware.NewAuthMiddleware(sessions, logger),
		Permissions: middleware.NewPermissionMiddleware(engine, recorder, metrics, logger),
		RateLimit:   rateLimit,
		Roles:       engine,
		Users:       dirStore,
		Policies:    policyStore,
		PolicyCache: policies,
		Audits:      auditLog,
		Sessions:    sessionStore,
		Devices:     deviceStore,
		Metrics:     metrics,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg, db, redisClient, metrics)

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":     httpServer.Addr,
			"base_url": cfg.Server.BaseURL,
		}).Info("warden listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
	if err := recorder.Close(5 * time.Second); err != nil {
		logger.WithError(err).Error("audit drain incomplete")
	}
}

// buildProviderRegistry constructs and registers every configured
// identity provider. A provider that fails construction (an unreachable
// OIDC issuer, a bad certificate) is skipped with a warning so one broken
// IdP cannot keep the rest of the fleet from logging in.
func buildProviderRegistry(cfg *config.Config, logger *observability.Logger) *sso.Registry {
	registry := sso.NewRegistry()
	ctx := context.Background()

	for _, pc := range cfg.SSO.Providers {
		provider, err := sso.BuildProvider(ctx, providerConfig(pc, cfg.Server.BaseURL), cfg.Server.BaseURL)
		if err != nil {
			logger.WithError(err).WithField("provider", pc.Tag).Warn("skipping sso provider")
			continue
		}
		if err := registry.Register(provider); err != nil {
			logger.WithError(err).WithField("provider", pc.Tag).Warn("sso provider config rejected")
			continue
		}
		logger.WithField("provider", pc.Tag).Info("sso provider registered")
	}
	return registry
}

func providerConfig(pc config.SSOProviderConfig, baseURL string) *sso.ProviderConfig {
	out := &sso.ProviderConfig{
		Tag:     sso.ProviderTag(pc.Tag),
		Type:    sso.ProviderType(pc.Type),
		Enabled: true,
	}
	switch out.Type {
	case sso.ProviderTypeOIDC:
		out.OIDCConfig = &sso.OIDCConfig{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			IssuerURL:    pc.IssuerURL,
			RedirectURL:  redirectURL(baseURL, pc.Tag),
			Scopes:       pc.Scopes,
		}
	case sso.ProviderTypeOAuth2:
		out.OAuth2Config = &sso.OAuth2Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			AuthURL:      pc.AuthURL,
			TokenURL:     pc.TokenURL,
			UserInfoURL:  pc.UserInfoURL,
			RedirectURL:  redirectURL(baseURL, pc.Tag),
			Scopes:       pc.Scopes,
		}
	case sso.ProviderTypeSAML:
		out.SAMLConfig = &sso.SAMLConfig{
			EntityID:    pc.EntityID,
			SSOURL:      pc.SSOURL,
			Certificate: pc.Certificate,
			PrivateKey:  pc.PrivateKey,
		}
	}
	return out
}

func redirectURL(baseURL, tag string) string {
	return strings.TrimRight(baseURL, "/") + "/auth/sso/" + tag + "/callback"
}

func newHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client,
	metrics *observability.Metrics) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	return &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: mux,
	}
}
