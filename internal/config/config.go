package config

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAccessSecret  = "dev-access-secret-change-me-0123456789"
	defaultSessionSecret = "dev-session-secret-change-me-9876543210"
	defaultPepper        = "dev-session-pepper-change-me"
	minSecretLength      = 32
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseDriver string
	DatabaseURL    string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	JWTIssuer        string
	JWTAudience      string
	JWTAccessSecret  string
	JWTSessionSecret string
	JWTAccessTTL     time.Duration
	JWTSessionTTL    time.Duration
	ElevationTTL     time.Duration

	SessionTokenPepper     string
	SessionRotationEnabled bool
	SessionRetention       time.Duration
	SessionPruneInterval   time.Duration

	TOTPIssuer           string
	BcryptCost           int
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
	PublicBaseURL        string

	UserCacheTTL         time.Duration
	AuthRateLimitRPM     int
	APIRateLimitRPM      int
	RateLimitBackend     string
	RateLimitFailureMode string

	CookieDomain   string
	CookieSecure   bool
	CORSOrigins    []string
	// TrustedProxies lists CIDRs whose X-Forwarded-For / X-Real-IP headers
	// are honoured. Empty means the socket peer is the client.
	TrustedProxies []string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSampleRatio      float64

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// Load reads an optional .env file and the process environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	return LoadFrom(v)
}

func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	cfg, err := build(v)
	if err == nil {
		err = cfg.Validate()
	}
	recordConfigLoad(context.Background(), v.GetString("APP_ENV"), err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "tse")
	v.SetDefault("JWT_ISSUER", "tenant-session-engine")
	v.SetDefault("JWT_AUDIENCE", "tenant-app")
	v.SetDefault("JWT_ACCESS_SECRET", defaultAccessSecret)
	v.SetDefault("JWT_SESSION_SECRET", defaultSessionSecret)
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_SESSION_TTL", "168h")
	v.SetDefault("ELEVATION_TTL", "5m")
	v.SetDefault("SESSION_TOKEN_PEPPER", defaultPepper)
	v.SetDefault("SESSION_ROTATION_ENABLED", true)
	v.SetDefault("SESSION_RETENTION", "720h")
	v.SetDefault("SESSION_PRUNE_INTERVAL", "1h")
	v.SetDefault("TOTP_ISSUER", "Tenant App")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PASSWORD_RESET_TTL", "30m")
	v.SetDefault("EMAIL_VERIFICATION_TTL", "24h")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("USER_CACHE_TTL", "5m")
	v.SetDefault("AUTH_RATE_LIMIT_RPM", 30)
	v.SetDefault("API_RATE_LIMIT_RPM", 600)
	v.SetDefault("RATE_LIMIT_BACKEND", "local")
	v.SetDefault("RATE_LIMIT_FAILURE_MODE", "fail_closed")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("OTEL_SERVICE_NAME", "tenant-session-engine")
	v.SetDefault("OTEL_ENVIRONMENT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_METRICS_ENABLED", false)
	v.SetDefault("OTEL_TRACING_ENABLED", false)
	v.SetDefault("OTEL_LOGS_ENABLED", false)
	v.SetDefault("OTEL_METRICS_EXPORT_INTERVAL", "15s")
	v.SetDefault("OTEL_TRACE_SAMPLE_RATIO", 1.0)
	v.SetDefault("SHUTDOWN_TIMEOUT", "20s")
	v.SetDefault("SHUTDOWN_HTTP_DRAIN_TIMEOUT", "10s")
	v.SetDefault("SHUTDOWN_OBSERVABILITY_TIMEOUT", "5s")
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppEnv:                   normalizeConfigProfile(v.GetString("APP_ENV")),
		HTTPAddr:                 strings.TrimSpace(v.GetString("HTTP_ADDR")),
		LogLevel:                 strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		DatabaseDriver:           strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_DRIVER"))),
		DatabaseURL:              strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:                strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:            v.GetString("REDIS_PASSWORD"),
		RedisDB:                  v.GetInt("REDIS_DB"),
		RedisKeyPrefix:           strings.TrimSpace(v.GetString("REDIS_KEY_PREFIX")),
		JWTIssuer:                v.GetString("JWT_ISSUER"),
		JWTAudience:              v.GetString("JWT_AUDIENCE"),
		JWTAccessSecret:          v.GetString("JWT_ACCESS_SECRET"),
		JWTSessionSecret:         v.GetString("JWT_SESSION_SECRET"),
		SessionTokenPepper:       v.GetString("SESSION_TOKEN_PEPPER"),
		SessionRotationEnabled:   v.GetBool("SESSION_ROTATION_ENABLED"),
		TOTPIssuer:               v.GetString("TOTP_ISSUER"),
		BcryptCost:               v.GetInt("BCRYPT_COST"),
		PublicBaseURL:            strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		AuthRateLimitRPM:         v.GetInt("AUTH_RATE_LIMIT_RPM"),
		APIRateLimitRPM:          v.GetInt("API_RATE_LIMIT_RPM"),
		RateLimitBackend:         strings.ToLower(strings.TrimSpace(v.GetString("RATE_LIMIT_BACKEND"))),
		RateLimitFailureMode:     strings.ToLower(strings.TrimSpace(v.GetString("RATE_LIMIT_FAILURE_MODE"))),
		CookieDomain:             strings.TrimSpace(v.GetString("COOKIE_DOMAIN")),
		CookieSecure:             v.GetBool("COOKIE_SECURE"),
		CORSOrigins:              splitList(v.GetString("CORS_ORIGINS")),
		TrustedProxies:           splitList(v.GetString("TRUSTED_PROXIES")),
		OTELServiceName:          v.GetString("OTEL_SERVICE_NAME"),
		OTELEnvironment:          v.GetString("OTEL_ENVIRONMENT"),
		OTELExporterOTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELExporterOTLPInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		OTELMetricsEnabled:       v.GetBool("OTEL_METRICS_ENABLED"),
		OTELTracingEnabled:       v.GetBool("OTEL_TRACING_ENABLED"),
		OTELLogsEnabled:          v.GetBool("OTEL_LOGS_ENABLED"),
		OTELTraceSampleRatio:     v.GetFloat64("OTEL_TRACE_SAMPLE_RATIO"),
	}
	if cfg.OTELEnvironment == "" {
		cfg.OTELEnvironment = cfg.AppEnv
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"JWT_ACCESS_TTL", &cfg.JWTAccessTTL},
		{"JWT_SESSION_TTL", &cfg.JWTSessionTTL},
		{"ELEVATION_TTL", &cfg.ElevationTTL},
		{"SESSION_RETENTION", &cfg.SessionRetention},
		{"SESSION_PRUNE_INTERVAL", &cfg.SessionPruneInterval},
		{"PASSWORD_RESET_TTL", &cfg.PasswordResetTTL},
		{"EMAIL_VERIFICATION_TTL", &cfg.EmailVerificationTTL},
		{"USER_CACHE_TTL", &cfg.UserCacheTTL},
		{"OTEL_METRICS_EXPORT_INTERVAL", &cfg.OTELMetricsExportInterval},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"SHUTDOWN_HTTP_DRAIN_TIMEOUT", &cfg.ShutdownHTTPDrainTimeout},
		{"SHUTDOWN_OBSERVABILITY_TIMEOUT", &cfg.ShutdownObservabilityTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(strings.TrimSpace(v.GetString(d.key)))
		if err != nil {
			return nil, &LoadError{Stage: StageParse, Key: d.key, Err: err}
		}
		*d.dst = parsed
	}
	return cfg, nil
}

// Validate enforces the invariants the engine relies on at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	switch c.DatabaseDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required"))
		}
	case "sqlite":
		if c.DatabaseURL == "" {
			c.DatabaseURL = "file:tenant-session-engine.db?cache=shared"
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if len(c.JWTAccessSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_ACCESS_SECRET must be at least %d bytes", minSecretLength))
	}
	if len(c.JWTSessionSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SESSION_SECRET must be at least %d bytes", minSecretLength))
	}
	if c.JWTAccessSecret == c.JWTSessionSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_SESSION_SECRET must differ"))
	}
	if c.SessionTokenPepper == "" {
		errs = append(errs, errors.New("SESSION_TOKEN_PEPPER is required"))
	}
	if c.JWTAccessTTL <= 0 || c.JWTAccessTTL > time.Hour {
		errs = append(errs, errors.New("JWT_ACCESS_TTL must be within (0, 1h]"))
	}
	if c.JWTSessionTTL <= c.JWTAccessTTL {
		errs = append(errs, errors.New("JWT_SESSION_TTL must exceed JWT_ACCESS_TTL"))
	}
	if c.ElevationTTL <= 0 || c.ElevationTTL > 15*time.Minute {
		errs = append(errs, errors.New("ELEVATION_TTL must be within (0, 15m]"))
	}
	if c.SessionRetention < 0 {
		errs = append(errs, errors.New("SESSION_RETENTION must not be negative"))
	}
	if c.SessionPruneInterval < 0 {
		errs = append(errs, errors.New("SESSION_PRUNE_INTERVAL must not be negative"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 4 and 31"))
	}
	if c.AuthRateLimitRPM <= 0 || c.APIRateLimitRPM <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT_RPM and API_RATE_LIMIT_RPM must be positive"))
	}
	if c.RateLimitBackend != "local" && c.RateLimitBackend != "redis" {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be local or redis, got %q", c.RateLimitBackend))
	}
	if c.RateLimitFailureMode != "fail_open" && c.RateLimitFailureMode != "fail_closed" {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_FAILURE_MODE must be fail_open or fail_closed, got %q", c.RateLimitFailureMode))
	}
	for _, cidr := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q is not a CIDR", cidr))
		}
	}
	if c.IsProduction() {
		if c.JWTAccessSecret == defaultAccessSecret || c.JWTSessionSecret == defaultSessionSecret {
			errs = append(errs, errors.New("JWT secrets must be overridden in production"))
		}
		if c.SessionTokenPepper == defaultPepper {
			errs = append(errs, errors.New("SESSION_TOKEN_PEPPER must be overridden in production"))
		}
		if !c.CookieSecure {
			errs = append(errs, errors.New("COOKIE_SECURE must be true in production"))
		}
		if c.DatabaseDriver == "sqlite" {
			errs = append(errs, errors.New("sqlite is not supported in production"))
		}
	}
	if len(errs) > 0 {
		return &LoadError{Stage: StageValidation, Problems: len(errs), Err: errors.Join(errs...)}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
