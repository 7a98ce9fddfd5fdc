package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/platinummonkey/rlsbridge/pkg/cache"
	"github.com/platinummonkey/rlsbridge/pkg/errcode"
	"github.com/platinummonkey/rlsbridge/pkg/observability"
	"github.com/platinummonkey/rlsbridge/pkg/schema"
)

// Environment variable names
const (
	EnvHost            = "RLSBRIDGE_HOST"
	EnvPort            = "RLSBRIDGE_PORT"
	EnvReadTimeout     = "RLSBRIDGE_READ_TIMEOUT"
	EnvWriteTimeout    = "RLSBRIDGE_WRITE_TIMEOUT"
	EnvIdleTimeout     = "RLSBRIDGE_IDLE_TIMEOUT"
	EnvShutdownTimeout = "RLSBRIDGE_SHUTDOWN_TIMEOUT"
	EnvMaxBodyBytes    = "RLSBRIDGE_MAX_BODY_BYTES"
	EnvCORSOrigins     = "RLSBRIDGE_CORS_ORIGINS"

	EnvPlatformURL    = "RLSBRIDGE_PLATFORM_URL"
	EnvFunctionsURL   = "RLSBRIDGE_FUNCTIONS_URL"
	EnvServiceRoleKey = "RLSBRIDGE_SERVICE_ROLE_KEY"
	EnvAnonKey        = "RLSBRIDGE_ANON_KEY"

	EnvIdPIssuer   = "RLSBRIDGE_IDP_ISSUER"
	EnvIdPAudience = "RLSBRIDGE_IDP_AUDIENCE"
	EnvJWKSURL     = "RLSBRIDGE_JWKS_URL"

	EnvJWTSecret     = "RLSBRIDGE_JWT_SECRET"
	EnvTokenIssuer   = "RLSBRIDGE_TOKEN_ISSUER"
	EnvTokenLifetime = "RLSBRIDGE_TOKEN_LIFETIME"
	EnvTokenCacheTTL = "RLSBRIDGE_TOKEN_CACHE_TTL"

	EnvDatabaseURL     = "RLSBRIDGE_DATABASE_URL"
	EnvUsersTable      = "RLSBRIDGE_USERS_TABLE"
	EnvSchema          = "RLSBRIDGE_SCHEMA"
	EnvDBMaxConns      = "RLSBRIDGE_DB_MAX_CONNS"
	EnvDBTimeout       = "RLSBRIDGE_DB_TIMEOUT"
	EnvBootstrapMode   = "RLSBRIDGE_BOOTSTRAP_MODE"
	EnvCacheBackend    = "RLSBRIDGE_CACHE_BACKEND"
	EnvCacheMaxEntries = "RLSBRIDGE_CACHE_MAX_ENTRIES"
	EnvRedisURL        = "RLSBRIDGE_REDIS_URL"
	EnvRedisPassword   = "RLSBRIDGE_REDIS_PASSWORD"
	EnvRedisDB         = "RLSBRIDGE_REDIS_DB"

	EnvRateLimitRequests = "RLSBRIDGE_RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RLSBRIDGE_RATE_LIMIT_WINDOW"
	EnvTrustProxy        = "RLSBRIDGE_TRUST_PROXY_HEADERS"
	EnvTrustedProxies    = "RLSBRIDGE_TRUSTED_PROXIES"

	EnvProbeTimeout   = "RLSBRIDGE_PROBE_TIMEOUT"
	EnvMaxFixAttempts = "RLSBRIDGE_MAX_FIX_ATTEMPTS"
	EnvTestToken      = "RLSBRIDGE_TEST_TOKEN"

	EnvLogLevel       = "RLSBRIDGE_LOG_LEVEL"
	EnvMetricsEnabled = "RLSBRIDGE_METRICS_ENABLED"
	EnvOTelEnabled    = "RLSBRIDGE_OTEL_ENABLED"
	EnvOTelEndpoint   = "RLSBRIDGE_OTEL_ENDPOINT"
	EnvOTelService    = "RLSBRIDGE_OTEL_SERVICE_NAME"
	EnvOTelVersion    = "RLSBRIDGE_OTEL_SERVICE_VERSION"
	EnvOTelInsecure   = "RLSBRIDGE_OTEL_INSECURE"
	EnvOTelSample     = "RLSBRIDGE_OTEL_SAMPLE_RATIO"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Platform      PlatformConfig
	Identity      IdentityConfig
	Token         TokenConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	RateLimit     RateLimitConfig
	Diagnostics   DiagnosticsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// PlatformConfig locates the data platform the bridge serves
type PlatformConfig struct {
	URL string
	// FunctionsURL is where the bridge endpoints are deployed. Defaults to URL + "/functions/v1".
	FunctionsURL   string
	ServiceRoleKey string
	AnonKey        string
}

// IdentityConfig describes the trusted identity provider
type IdentityConfig struct {
	Issuer   string
	Audience string
	// JWKSURL overrides Issuer + "/.well-known/jwks.json"
	JWKSURL string
}

// TokenConfig controls minted platform tokens
type TokenConfig struct {
	Secret   string
	Issuer   string
	Lifetime time.Duration
	CacheTTL time.Duration
}

// DatabaseConfig holds the privileged database connection
type DatabaseConfig struct {
	URL           string
	UsersTable    string
	Schema        string
	MaxConns      int
	Timeout       time.Duration
	BootstrapMode schema.Mode
}

// CacheConfig selects the token cache and rate limit store
type CacheConfig struct {
	Backend       string
	MaxEntries    int
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// RateLimitConfig bounds federation attempts per caller address
type RateLimitConfig struct {
	Requests     int
	Window       time.Duration
	TrustProxied bool
	// TrustedProxies counts the proxies that append to X-Forwarded-For
	TrustedProxies int
}

// DiagnosticsConfig controls the validate and health commands
type DiagnosticsConfig struct {
	ProbeTimeout   time.Duration
	MaxFixAttempts int
	// TestToken is an identity provider token used for the live round trip
	TestToken string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	OTel           observability.OTelConfig
}

// Options controls where Load reads from
type Options struct {
	// EnvFile is an optional dotenv file. Process environment takes precedence.
	EnvFile string
}

// Load reads configuration from the environment and an optional env file,
// then validates it.
func Load(opts Options) (*Config, error) {
	v := viper.New()

	if opts.EnvFile != "" {
		v.SetConfigFile(opts.EnvFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read %s: %w", opts.EnvFile, err)
			}
		}
	}

	v.AutomaticEnv()
	setDefaults(v)

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(EnvHost, "0.0.0.0")
	v.SetDefault(EnvPort, "8080")
	v.SetDefault(EnvReadTimeout, 15*time.Second)
	v.SetDefault(EnvWriteTimeout, 15*time.Second)
	v.SetDefault(EnvIdleTimeout, 60*time.Second)
	v.SetDefault(EnvShutdownTimeout, 30*time.Second)
	v.SetDefault(EnvMaxBodyBytes, 64*1024)
	v.SetDefault(EnvCORSOrigins, "*")

	v.SetDefault(EnvTokenLifetime, time.Hour)
	v.SetDefault(EnvTokenCacheTTL, 55*time.Second)

	v.SetDefault(EnvUsersTable, "auth.users")
	v.SetDefault(EnvSchema, "public")
	v.SetDefault(EnvDBMaxConns, 10)
	v.SetDefault(EnvDBTimeout, 5*time.Second)
	v.SetDefault(EnvBootstrapMode, string(schema.ModeRPC))

	v.SetDefault(EnvCacheBackend, cache.BackendMemory)
	v.SetDefault(EnvCacheMaxEntries, cache.DefaultConfig().MaxEntries)

	v.SetDefault(EnvRateLimitRequests, 10)
	v.SetDefault(EnvRateLimitWindow, time.Minute)
	v.SetDefault(EnvTrustProxy, false)
	v.SetDefault(EnvTrustedProxies, 1)

	v.SetDefault(EnvProbeTimeout, 3*time.Second)
	v.SetDefault(EnvMaxFixAttempts, 2)

	v.SetDefault(EnvLogLevel, "info")
	v.SetDefault(EnvMetricsEnabled, true)
	v.SetDefault(EnvOTelEnabled, false)
	v.SetDefault(EnvOTelEndpoint, "localhost:4317")
	v.SetDefault(EnvOTelService, "rlsbridge")
	v.SetDefault(EnvOTelVersion, "1.0.0")
	v.SetDefault(EnvOTelInsecure, true)
	v.SetDefault(EnvOTelSample, 1.0)
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString(EnvHost),
			Port:            v.GetString(EnvPort),
			ReadTimeout:     v.GetDuration(EnvReadTimeout),
			WriteTimeout:    v.GetDuration(EnvWriteTimeout),
			IdleTimeout:     v.GetDuration(EnvIdleTimeout),
			ShutdownTimeout: v.GetDuration(EnvShutdownTimeout),
			MaxBodyBytes:    v.GetInt64(EnvMaxBodyBytes),
			CORSOrigins:     splitList(v.GetString(EnvCORSOrigins)),
		},
		Platform: PlatformConfig{
			URL:            strings.TrimRight(v.GetString(EnvPlatformURL), "/"),
			FunctionsURL:   strings.TrimRight(v.GetString(EnvFunctionsURL), "/"),
			ServiceRoleKey: v.GetString(EnvServiceRoleKey),
			AnonKey:        v.GetString(EnvAnonKey),
		},
		Identity: IdentityConfig{
			Issuer:   strings.TrimSpace(v.GetString(EnvIdPIssuer)),
			Audience: strings.TrimSpace(v.GetString(EnvIdPAudience)),
			JWKSURL:  strings.TrimSpace(v.GetString(EnvJWKSURL)),
		},
		Token: TokenConfig{
			Secret:   v.GetString(EnvJWTSecret),
			Issuer:   v.GetString(EnvTokenIssuer),
			Lifetime: v.GetDuration(EnvTokenLifetime),
			CacheTTL: v.GetDuration(EnvTokenCacheTTL),
		},
		Database: DatabaseConfig{
			URL:           v.GetString(EnvDatabaseURL),
			UsersTable:    v.GetString(EnvUsersTable),
			Schema:        v.GetString(EnvSchema),
			MaxConns:      v.GetInt(EnvDBMaxConns),
			Timeout:       v.GetDuration(EnvDBTimeout),
			BootstrapMode: schema.Mode(strings.ToLower(strings.TrimSpace(v.GetString(EnvBootstrapMode)))),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(v.GetString(EnvCacheBackend)),
			MaxEntries:    v.GetInt(EnvCacheMaxEntries),
			RedisURL:      v.GetString(EnvRedisURL),
			RedisPassword: v.GetString(EnvRedisPassword),
			RedisDB:       v.GetInt(EnvRedisDB),
		},
		RateLimit: RateLimitConfig{
			Requests:       v.GetInt(EnvRateLimitRequests),
			Window:         v.GetDuration(EnvRateLimitWindow),
			TrustProxied:   v.GetBool(EnvTrustProxy),
			TrustedProxies: v.GetInt(EnvTrustedProxies),
		},
		Diagnostics: DiagnosticsConfig{
			ProbeTimeout:   v.GetDuration(EnvProbeTimeout),
			MaxFixAttempts: v.GetInt(EnvMaxFixAttempts),
			TestToken:      v.GetString(EnvTestToken),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(v.GetString(EnvLogLevel)),
			MetricsEnabled: v.GetBool(EnvMetricsEnabled),
			OTel: observability.OTelConfig{
				Enabled:        v.GetBool(EnvOTelEnabled),
				Endpoint:       v.GetString(EnvOTelEndpoint),
				ServiceName:    v.GetString(EnvOTelService),
				ServiceVersion: v.GetString(EnvOTelVersion),
				Insecure:       v.GetBool(EnvOTelInsecure),
				SampleRatio:    v.GetFloat64(EnvOTelSample),
			},
		},
	}

	if cfg.Platform.FunctionsURL == "" && cfg.Platform.URL != "" {
		cfg.Platform.FunctionsURL = cfg.Platform.URL + "/functions/v1"
	}
	return cfg
}

// Validate checks that every value present is well formed. Absent
// federation settings are not an error here; see Missing.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("%s must be positive", EnvMaxBodyBytes)
	}

	for name, raw := range map[string]string{
		EnvPlatformURL:  c.Platform.URL,
		EnvFunctionsURL: c.Platform.FunctionsURL,
		EnvJWKSURL:      c.Identity.JWKSURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}
	if c.Identity.Issuer != "" {
		if err := errcode.ValidateIssuerURL(c.Identity.Issuer); err != nil {
			return fmt.Errorf("%s: %w", EnvIdPIssuer, err)
		}
	}

	if c.Token.Lifetime <= 0 {
		return fmt.Errorf("%s must be positive", EnvTokenLifetime)
	}
	if c.Token.CacheTTL < 0 || c.Token.CacheTTL >= c.Token.Lifetime {
		return fmt.Errorf("%s must be shorter than the token lifetime", EnvTokenCacheTTL)
	}

	if _, err := schema.ParseMode(string(c.Database.BootstrapMode)); err != nil {
		return err
	}

	switch c.Cache.Backend {
	case cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("%s is required for the redis cache backend", EnvRedisURL)
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}

	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	if c.RateLimit.TrustProxied && c.RateLimit.TrustedProxies < 1 {
		return fmt.Errorf("%s must be at least 1 when %s is set", EnvTrustedProxies, EnvTrustProxy)
	}
	if c.Diagnostics.ProbeTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvProbeTimeout)
	}

	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTel.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// MissingForFederation lists the unset variables federation needs
func (c *Config) MissingForFederation() []string {
	var missing []string
	if c.Identity.Issuer == "" {
		missing = append(missing, EnvIdPIssuer)
	}
	if c.Identity.Audience == "" {
		missing = append(missing, EnvIdPAudience)
	}
	if c.Token.Secret == "" {
		missing = append(missing, EnvJWTSecret)
	}
	if c.Database.URL == "" {
		missing = append(missing, EnvDatabaseURL)
	}
	return missing
}

// MissingForBootstrap lists the unset variables bootstrap and status need
func (c *Config) MissingForBootstrap() []string {
	var missing []string
	if c.Identity.Issuer == "" {
		missing = append(missing, EnvIdPIssuer)
	}
	if c.Identity.Audience == "" {
		missing = append(missing, EnvIdPAudience)
	}
	if c.Database.URL == "" {
		missing = append(missing, EnvDatabaseURL)
	}
	return missing
}

// MissingForDiagnostics lists the unset variables the validate command needs
func (c *Config) MissingForDiagnostics() []string {
	var missing []string
	if c.Platform.URL == "" {
		missing = append(missing, EnvPlatformURL)
	}
	return missing
}

// Secrets returns the configured secret values, for redaction
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Token.Secret, c.Platform.ServiceRoleKey, c.Cache.RedisPassword, c.Diagnostics.TestToken} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
