// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the gateway listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL, when set, switches the lookup cache to a shared Redis so
	// multiple gateway instances see the same entries.
	RedisURL string `mapstructure:"REDIS_URL"`
	// ServiceName is the issuer on signed identity assertions.
	ServiceName string `mapstructure:"SERVICE_NAME"`
	// DebugKey enables the debug flag on requests whose X-Debug-Key header matches. Empty disables.
	DebugKey string `mapstructure:"DEBUG_KEY"`
	// AuthHeaderName is the header the proxy sets on forwarded requests
	// (plus "-signed" and "-algorithm" companions).
	AuthHeaderName string `mapstructure:"AUTH_HEADER_NAME"`
	// SignAssertions selects signed JWTs over base64 JSON for the identity assertion.
	SignAssertions bool `mapstructure:"SIGN_ASSERTIONS"`
	// AssertionKey is the PEM-encoded ECDSA or RSA private key (or a file path). Required when SignAssertions is true.
	AssertionKey string `mapstructure:"ASSERTION_KEY"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// SessionTTL is the session and refresh-token lifetime (e.g. "48h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// SessionTokenTTL is the short session-token lifetime (e.g. "20m").
	SessionTokenTTL string `mapstructure:"SESSION_TOKEN_TTL"`
	// LoginCodeTTL is how long emailed login codes stay valid.
	LoginCodeTTL string `mapstructure:"LOGIN_CODE_TTL"`
	// CacheTTL bounds client/API directory cache entries.
	CacheTTL string `mapstructure:"CACHE_TTL"`
	// SecretCacheTTL bounds cached secret-check results.
	SecretCacheTTL string `mapstructure:"SECRET_CACHE_TTL"`
	// ThrottleReqs is the number of login attempts allowed per email per ThrottlePeriod.
	ThrottleReqs int `mapstructure:"THROTTLE_REQS"`
	// ThrottlePeriod is the login throttle window (e.g. "5m").
	ThrottlePeriod string `mapstructure:"THROTTLE_PERIOD"`
	// UnidentifiedReqsPerSec is the rate limit applied per ip to requests with no client id.
	UnidentifiedReqsPerSec int `mapstructure:"UNIDENTIFIED_REQS_PER_SEC"`
	// ProxyTimeout bounds how long the proxy waits for a backend's response headers.
	ProxyTimeout string `mapstructure:"PROXY_TIMEOUT"`
	// MailerURL is the HTTP delivery provider endpoint for login/verification
	// codes. When empty, codes are written to the log instead of sent.
	MailerURL string `mapstructure:"MAILER_URL"`
	// MailerAPIKey authenticates against the delivery provider.
	MailerAPIKey string `mapstructure:"MAILER_API_KEY"`
	// MailerFrom is the sender address on code emails.
	MailerFrom string `mapstructure:"MAILER_FROM"`
	// MetricsEnabled exposes Prometheus counters on GET /metrics.
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	// AllowCorsCookies sets Access-Control-Allow-Credentials on responses,
	// permitting credentialed cross-origin requests.
	AllowCorsCookies bool `mapstructure:"ALLOW_CORS_COOKIES"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SERVICE_NAME", "auth-gateway")
	v.SetDefault("DEBUG_KEY", "")
	v.SetDefault("AUTH_HEADER_NAME", "x-gateway-auth")
	v.SetDefault("SIGN_ASSERTIONS", false)
	v.SetDefault("ASSERTION_KEY", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SESSION_TTL", "48h")
	v.SetDefault("SESSION_TOKEN_TTL", "20m")
	v.SetDefault("LOGIN_CODE_TTL", "10m")
	v.SetDefault("CACHE_TTL", "10m")
	v.SetDefault("SECRET_CACHE_TTL", "5m")
	v.SetDefault("THROTTLE_REQS", 10)
	v.SetDefault("THROTTLE_PERIOD", "5m")
	v.SetDefault("UNIDENTIFIED_REQS_PER_SEC", 1)
	v.SetDefault("PROXY_TIMEOUT", "30s")
	v.SetDefault("MAILER_URL", "")
	v.SetDefault("MAILER_API_KEY", "")
	v.SetDefault("MAILER_FROM", "no-reply@localhost")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("ALLOW_CORS_COOKIES", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.SignAssertions && cfg.AssertionKey == "" {
		return nil, errors.New("config: ASSERTION_KEY must be set when SIGN_ASSERTIONS is true")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SessionLifetime parses SessionTTL. Returns 48h if unset or invalid.
func (c *Config) SessionLifetime() time.Duration { return duration(c.SessionTTL, 48*time.Hour) }

// SessionTokenLifetime parses SessionTokenTTL. Returns 20m if unset or invalid.
func (c *Config) SessionTokenLifetime() time.Duration {
	return duration(c.SessionTokenTTL, 20*time.Minute)
}

// LoginCodeLifetime parses LoginCodeTTL. Returns 10m if unset or invalid.
func (c *Config) LoginCodeLifetime() time.Duration { return duration(c.LoginCodeTTL, 10*time.Minute) }

// CacheLifetime parses CacheTTL. Returns 10m if unset or invalid.
func (c *Config) CacheLifetime() time.Duration { return duration(c.CacheTTL, 10*time.Minute) }

// SecretCacheLifetime parses SecretCacheTTL. Returns 5m if unset or invalid.
func (c *Config) SecretCacheLifetime() time.Duration {
	return duration(c.SecretCacheTTL, 5*time.Minute)
}

// ThrottleWindow parses ThrottlePeriod. Returns 5m if unset or invalid.
func (c *Config) ThrottleWindow() time.Duration { return duration(c.ThrottlePeriod, 5*time.Minute) }

// ProxyResponseTimeout parses ProxyTimeout. Returns 30s if unset or invalid.
func (c *Config) ProxyResponseTimeout() time.Duration {
	return duration(c.ProxyTimeout, 30*time.Second)
}
