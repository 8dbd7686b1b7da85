// Package config provides configuration loading and validation for the API
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (rate limit store)
	RedisAddr string `koanf:"redis_addr"`

	// JWT Authentication
	JWTSecret string `koanf:"jwt_secret"`

	// Audit chain
	AuditSigningKey        string        `koanf:"audit_signing_key"`
	AuditIntegrityInterval time.Duration `koanf:"audit_integrity_interval"`

	// Rate limiting
	RateLimitFailOpen  bool `koanf:"rate_limit_fail_open"`
	APIKeyRequestLimit int  `koanf:"api_key_request_limit"`
	UserRequestLimit   int  `koanf:"user_request_limit"`
	IPRequestLimit     int  `koanf:"ip_request_limit"`
	// RateLimitWindowMS is the fixed window size in milliseconds.
	RateLimitWindowMS int `koanf:"rate_limit_window_ms"`

	// Archive (S3-compatible object storage for export bundles)
	ArchiveBucketName      string `koanf:"archive_bucket_name"`
	ArchiveAccessKeyID     string `koanf:"archive_access_key_id"`
	ArchiveSecretAccessKey string `koanf:"archive_secret_access_key"`
	ArchiveEndpoint        string `koanf:"archive_endpoint"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidWindow      = errors.New("RATE_LIMIT_WINDOW_MS must be a positive integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultAPIKeyRequestLimit = 120
	DefaultUserRequestLimit   = 100
	DefaultIPRequestLimit     = 300
	DefaultRateLimitWindowMS  = 60_000
	DefaultIntegrityInterval  = 15 * time.Minute
	DefaultSamplingRate       = 0.1
)

// MinSigningKeyLength is the minimum accepted audit signing key length.
const MinSigningKeyLength = 32

// devFallbackSigningKey is used when no acceptable signing key is
// configured outside production. Signatures made with it carry no security
// value; the loud warning at startup is the tradeoff for a working dev loop.
const devFallbackSigningKey = "labtrail-dev-signing-key-do-not-use-in-prod"

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be loaded,
// an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort, ErrInvalidPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	windowMS, windowErr := getEnvIntOrDefault("RATE_LIMIT_WINDOW_MS", k.Int("rate_limit_window_ms"), DefaultRateLimitWindowMS, ErrInvalidWindow)
	if windowErr != nil {
		loadErrs = append(loadErrs, windowErr)
	}

	apiKeyLimit, err := getEnvIntOrDefault("API_KEY_REQUEST_LIMIT", k.Int("api_key_request_limit"), DefaultAPIKeyRequestLimit, nil)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	userLimit, err := getEnvIntOrDefault("USER_REQUEST_LIMIT", k.Int("user_request_limit"), DefaultUserRequestLimit, nil)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	ipLimit, err := getEnvIntOrDefault("IP_REQUEST_LIMIT", k.Int("ip_request_limit"), DefaultIPRequestLimit, nil)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	integrityInterval := DefaultIntegrityInterval
	if val := getEnvOrKoanf("AUDIT_INTEGRITY_INTERVAL", k, "audit_integrity_interval"); val != "" {
		parsed, parseErr := time.ParseDuration(val)
		if parseErr != nil {
			loadErrs = append(loadErrs, fmt.Errorf("AUDIT_INTEGRITY_INTERVAL must be a valid duration: %w", parseErr))
		} else {
			integrityInterval = parsed
		}
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                   port,
		Env:                    getEnvOrDefault("LABTRAIL_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:            getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:              getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		JWTSecret:              getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		AuditSigningKey:        getEnvOrKoanf("AUDIT_SIGNING_KEY", k, "audit_signing_key"),
		AuditIntegrityInterval: integrityInterval,
		RateLimitFailOpen:      getEnvBool("RATE_LIMIT_FAIL_OPEN", k.Bool("rate_limit_fail_open")),
		APIKeyRequestLimit:     apiKeyLimit,
		UserRequestLimit:       userLimit,
		IPRequestLimit:         ipLimit,
		RateLimitWindowMS:      windowMS,
		ArchiveBucketName:      getEnvOrKoanf("ARCHIVE_BUCKET_NAME", k, "archive_bucket_name"),
		ArchiveAccessKeyID:     getEnvOrKoanf("ARCHIVE_ACCESS_KEY_ID", k, "archive_access_key_id"),
		ArchiveSecretAccessKey: getEnvOrKoanf("ARCHIVE_SECRET_ACCESS_KEY", k, "archive_secret_access_key"),
		ArchiveEndpoint:        getEnvOrKoanf("ARCHIVE_ENDPOINT", k, "archive_endpoint"),
		TracingEnabled:         getEnvBool("TRACING_ENABLED", k.Bool("tracing_enabled")),
		TracingOTLPEndpoint:    getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate:    samplingRate,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.RateLimitWindowMS <= 0 {
		errs = append(errs, ErrInvalidWindow)
	}
	return errs
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// SigningKey returns the audit signing key to use. A configured key shorter
// than MinSigningKeyLength is rejected; outside production a fallback key
// is substituted with a warning so development can proceed. In production a
// missing or short key is a hard error.
func (c *Config) SigningKey() ([]byte, error) {
	key := c.AuditSigningKey
	if len(key) >= MinSigningKeyLength {
		return []byte(key), nil
	}

	if c.IsProduction() {
		return nil, fmt.Errorf("AUDIT_SIGNING_KEY must be at least %d characters in production", MinSigningKeyLength)
	}

	if key == "" {
		slog.Warn("AUDIT_SIGNING_KEY not set, using development fallback key")
	} else {
		slog.Warn("AUDIT_SIGNING_KEY is shorter than the minimum, using development fallback key",
			"min_length", MinSigningKeyLength)
	}
	return []byte(devFallbackSigningKey), nil
}

// FailOpen reports whether the rate limiter may fail open on store errors.
// The flag only takes effect outside production: both conditions must hold
// so a stray environment variable cannot disable rate limiting in
// production.
func (c *Config) FailOpen() bool {
	return c.RateLimitFailOpen && !c.IsProduction()
}

// RateLimitWindow returns the configured window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool if set, otherwise the koanf value.
func getEnvBool(envKey string, koanfVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return koanfVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error when the
// environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int, sentinel error) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			if sentinel != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, sentinel)
			}
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set,
// otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}
