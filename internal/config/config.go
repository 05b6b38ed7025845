// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Storage (optional; in-memory stores are used when unset)
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// JWT Authentication. The previous secret is accepted for validation
	// only while a key rotation is in progress.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Ranking
	RankCalibrationPath   string `koanf:"rank_calibration_path"`
	RankWorkers           int    `koanf:"rank_workers"`
	RankParallelThreshold int    `koanf:"rank_parallel_threshold"`
	RankDefaultLimit      int    `koanf:"rank_default_limit"`
	RankMaxLimit          int    `koanf:"rank_max_limit"`
	// Requests per minute per viewer on /rank; 0 disables the limiter.
	RankRateLimit int `koanf:"rank_rate_limit"`

	// Viewer signal cache
	SignalsCacheTTLSeconds int `koanf:"signals_cache_ttl_seconds"`

	// Tracing
	TracingEnabled       bool    `koanf:"tracing_enabled"`
	OTelExporterType     string  `koanf:"otel_exporter_type"`
	OTelExporterEndpoint string  `koanf:"otel_exporter_endpoint"`
	TracingSampleRate    float64 `koanf:"tracing_sample_rate"`
	TracingInsecure      bool    `koanf:"tracing_insecure"`

	// Profiling exposes /debug/pprof outside production.
	ProfilingEnabled bool `koanf:"profiling_enabled"`

	// MetricsToken guards /metrics via X-Internal-Token; empty leaves it open.
	MetricsToken string `koanf:"metrics_token"`

	// SignalsToken guards the profile and metrics write routes via
	// X-Internal-Token; empty leaves them unregistered.
	SignalsToken string `koanf:"signals_token"`
}

// Configuration validation errors.
var (
	ErrMissingJWTSecret      = errors.New("JWT_SECRET is required")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
	ErrInvalidNumber         = errors.New("value must be a valid number")
	ErrInvalidRankWorkers    = errors.New("RANK_WORKERS must not be negative")
	ErrInvalidRankLimit      = errors.New("RANK_DEFAULT_LIMIT must be between 1 and RANK_MAX_LIMIT")
	ErrInvalidSignalsTTL     = errors.New("SIGNALS_CACHE_TTL_SECONDS must not be negative")
	ErrInvalidRateLimit      = errors.New("RANK_RATE_LIMIT must not be negative")
	ErrInvalidExporterType   = errors.New("OTEL_EXPORTER_TYPE must be otlp-grpc or otlp-http")
	ErrInvalidTracingSample  = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrMissingTracingAddress = errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required when tracing is enabled")
)

// Default values for non-secret configuration.
const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultRankCalibrationPath    = "configs/ranking.calibration.json"
	DefaultRankWorkers            = 4
	DefaultRankParallelThreshold  = 256
	DefaultRankDefaultLimit       = 20
	DefaultRankMaxLimit           = 100
	DefaultRankRateLimit          = 120
	DefaultSignalsCacheTTLSeconds = 300
	DefaultOTelExporterType       = "otlp-http"
	DefaultTracingSampleRate      = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	collect := func(v int, err error) int {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return v
	}

	// Try STREAMRANK_PORT first, then PORT
	port, portErr := getEnvIntOrDefaultMulti([]string{"STREAMRANK_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k, "tracing_sample_rate", DefaultTracingSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:        port,
		Env:         getEnvOrDefaultMulti([]string{"STREAMRANK_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL: getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:    getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:   getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),

		JWTPreviousSecret: getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),

		RankCalibrationPath:   getEnvOrDefault("RANK_CALIBRATION_PATH", k.String("rank_calibration_path"), DefaultRankCalibrationPath),
		RankWorkers:           collect(getEnvIntOrDefault("RANK_WORKERS", k.Int("rank_workers"), DefaultRankWorkers)),
		RankParallelThreshold: collect(getEnvIntOrDefault("RANK_PARALLEL_THRESHOLD", k.Int("rank_parallel_threshold"), DefaultRankParallelThreshold)),
		RankDefaultLimit:      collect(getEnvIntOrDefault("RANK_DEFAULT_LIMIT", k.Int("rank_default_limit"), DefaultRankDefaultLimit)),
		RankMaxLimit:          collect(getEnvIntOrDefault("RANK_MAX_LIMIT", k.Int("rank_max_limit"), DefaultRankMaxLimit)),
		RankRateLimit:         collect(getEnvIntOrDefault("RANK_RATE_LIMIT", k.Int("rank_rate_limit"), DefaultRankRateLimit)),

		SignalsCacheTTLSeconds: collect(getEnvIntOrDefault("SIGNALS_CACHE_TTL_SECONDS", k.Int("signals_cache_ttl_seconds"), DefaultSignalsCacheTTLSeconds)),

		TracingEnabled:       getEnvBool("TRACING_ENABLED", k, "tracing_enabled", false),
		OTelExporterType:     getEnvOrDefault("OTEL_EXPORTER_TYPE", k.String("otel_exporter_type"), DefaultOTelExporterType),
		OTelExporterEndpoint: getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otel_exporter_endpoint"),
		TracingSampleRate:    sampleRate,
		TracingInsecure:      getEnvBool("TRACING_INSECURE", k, "tracing_insecure", false),

		ProfilingEnabled: getEnvBool("PROFILING_ENABLED", k, "profiling_enabled", false),
		MetricsToken:     getEnvOrKoanf("METRICS_TOKEN", k, "metrics_token"),
		SignalsToken:     getEnvOrKoanf("SIGNALS_TOKEN", k, "signals_token"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
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

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
// A zero value from a YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidNumber)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// An explicit 0 in the file is honoured.
func getEnvFloatOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return defaultVal, fmt.Errorf("%s must be a valid float: %w", envKey, ErrInvalidNumber)
		}
		return f, nil
	}
	if k.Exists(koanfKey) {
		return k.Float64(koanfKey), nil
	}
	return defaultVal, nil
}

// getEnvBool reads a boolean flag. The env var accepts true/1/yes/on and
// false/0/no/off; unrecognized values leave the file or default value in place.
func getEnvBool(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}

// Validate checks that all required configuration values are present and consistent.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.RankWorkers < 0 || c.RankParallelThreshold < 0 {
		errs = append(errs, ErrInvalidRankWorkers)
	}
	if c.RankDefaultLimit < 1 || c.RankDefaultLimit > c.RankMaxLimit {
		errs = append(errs, ErrInvalidRankLimit)
	}
	if c.SignalsCacheTTLSeconds < 0 {
		errs = append(errs, ErrInvalidSignalsTTL)
	}
	if c.RankRateLimit < 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}

	// Tracing settings are only checked when tracing is on.
	if c.TracingEnabled {
		if c.OTelExporterType != "otlp-grpc" && c.OTelExporterType != "otlp-http" {
			errs = append(errs, ErrInvalidExporterType)
		}
		if c.OTelExporterEndpoint == "" {
			errs = append(errs, ErrMissingTracingAddress)
		}
		if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
			errs = append(errs, ErrInvalidTracingSample)
		}
	}

	return errs
}

// IsProduction reports whether the server runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                      fmt.Sprintf("%d", c.Port),
		"env":                       c.Env,
		"database_url":              maskDatabaseURL(c.DatabaseURL),
		"redis_url":                 maskDatabaseURL(c.RedisURL),
		"jwt_secret":                maskSecret(c.JWTSecret),
		"jwt_previous_secret":       maskSecret(c.JWTPreviousSecret),
		"rank_calibration_path":     c.RankCalibrationPath,
		"rank_workers":              fmt.Sprintf("%d", c.RankWorkers),
		"rank_parallel_threshold":   fmt.Sprintf("%d", c.RankParallelThreshold),
		"rank_default_limit":        fmt.Sprintf("%d", c.RankDefaultLimit),
		"rank_max_limit":            fmt.Sprintf("%d", c.RankMaxLimit),
		"rank_rate_limit":           fmt.Sprintf("%d", c.RankRateLimit),
		"signals_cache_ttl_seconds": fmt.Sprintf("%d", c.SignalsCacheTTLSeconds),
		"tracing_enabled":           fmt.Sprintf("%t", c.TracingEnabled),
		"otel_exporter_type":        c.OTelExporterType,
		"otel_exporter_endpoint":    c.OTelExporterEndpoint,
		"tracing_sample_rate":       fmt.Sprintf("%.2f", c.TracingSampleRate),
		"profiling_enabled":         fmt.Sprintf("%t", c.ProfilingEnabled),
		"metrics_token":             maskSecret(c.MetricsToken),
		"signals_token":             maskSecret(c.SignalsToken),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
