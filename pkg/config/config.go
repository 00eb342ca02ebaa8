// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	SSO           SSOConfig
	Policy        PolicyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis configuration for the distributed rate limiter
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds session and SSO settings
type AuthConfig struct {
	// SigningSecret signs session tokens. Required.
	SigningSecret string

	// SessionTimeoutHours is the default session lifetime when a tenant
	// has no policy of its own.
	SessionTimeoutHours int

	// MaxSessionHours is the hard cap on any session lifetime.
	MaxSessionHours int

	// StateTTL bounds the SSO login state cookie lifetime.
	StateTTL time.Duration

	// LoginRateLimit is the per-IP request budget on auth endpoints.
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// SSOProviderConfig holds one identity provider's settings. Which fields
// matter depends on Type.
type SSOProviderConfig struct {
	Tag  string
	Type string // oidc, oauth2 or saml

	// OIDC / OAuth2
	ClientID     string
	ClientSecret string
	IssuerURL    string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string

	// SAML
	EntityID    string
	SSOURL      string
	Certificate string
	PrivateKey  string
}

// SSOConfig holds the configured identity providers
type SSOConfig struct {
	Providers []SSOProviderConfig
}

// PolicyConfig holds trust-policy cache settings
type PolicyConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
			Port:            getEnv("WARDEN_PORT", "8080"),
			BaseURL:         getEnv("WARDEN_BASE_URL", "http://localhost:8080"),
			ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:          getEnv("WARDEN_POSTGRES_URL", ""),
			MaxOpenConns: getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns: getEnvInt("WARDEN_POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("WARDEN_REDIS_ADDR", ""),
			Password: getEnv("WARDEN_REDIS_PASSWORD", ""),
			DB:       getEnvInt("WARDEN_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			SigningSecret:       getEnv("WARDEN_SIGNING_SECRET", ""),
			SessionTimeoutHours: getEnvInt("WARDEN_SESSION_TIMEOUT_HOURS", 8),
			MaxSessionHours:     getEnvInt("WARDEN_MAX_SESSION_HOURS", 24),
			StateTTL:            getEnvDuration("WARDEN_SSO_STATE_TTL", 10*time.Minute),
			LoginRateLimit:      getEnvInt("WARDEN_LOGIN_RATE_LIMIT", 30),
			LoginRateWindow:     getEnvDuration("WARDEN_LOGIN_RATE_WINDOW", time.Minute),
		},
		SSO: SSOConfig{
			Providers: loadSSOProviders(),
		},
		Policy: PolicyConfig{
			CacheTTL:  getEnvDuration("WARDEN_POLICY_CACHE_TTL", 5*time.Minute),
			CacheSize: getEnvInt("WARDEN_POLICY_CACHE_SIZE", 1024),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("WARDEN_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.SigningSecret == "" {
		return fmt.Errorf("signing secret is required")
	}
	if c.Auth.SessionTimeoutHours <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.Auth.MaxSessionHours < c.Auth.SessionTimeoutHours {
		return fmt.Errorf("max session hours must be at least the session timeout")
	}
	return nil
}

// loadSSOProviders reads the provider list from WARDEN_SSO_PROVIDERS
// ("tag:type" pairs, comma separated) and each provider's settings from
// WARDEN_SSO_<TAG>_* variables.
func loadSSOProviders() []SSOProviderConfig {
	spec := getEnv("WARDEN_SSO_PROVIDERS", "")
	if spec == "" {
		return nil
	}

	var providers []SSOProviderConfig
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		tag, typ := parts[0], parts[1]
		prefix := "WARDEN_SSO_" + strings.ToUpper(strings.ReplaceAll(tag, "-", "_")) + "_"

		p := SSOProviderConfig{
			Tag:          tag,
			Type:         typ,
			ClientID:     getEnv(prefix+"CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
			IssuerURL:    getEnv(prefix+"ISSUER_URL", ""),
			AuthURL:      getEnv(prefix+"AUTH_URL", ""),
			TokenURL:     getEnv(prefix+"TOKEN_URL", ""),
			UserInfoURL:  getEnv(prefix+"USERINFO_URL", ""),
			EntityID:     getEnv(prefix+"ENTITY_ID", ""),
			SSOURL:       getEnv(prefix+"SSO_URL", ""),
			Certificate:  getEnv(prefix+"CERTIFICATE", ""),
			PrivateKey:   getEnv(prefix+"PRIVATE_KEY", ""),
		}
		if scopes := getEnv(prefix+"SCOPES", ""); scopes != "" {
			for _, s := range strings.Split(scopes, ",") {
				p.Scopes = append(p.Scopes, strings.TrimSpace(s))
			}
		} else if typ == "oidc" {
			p.Scopes = []string{"openid", "profile", "email"}
		}
		providers = append(providers, p)
	}
	return providers
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
