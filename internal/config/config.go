// Package config loads the draftsync server settings from the environment.
//
// Every key has a default that runs a single-node SQLite deployment. A value
// that is set but cannot be parsed is a load error rather than a silent
// fallback, so a typo in IDEMPOTENCY_TTL does not quietly keep the default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API. Empty means
// any origin, without credentials.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls the Strict-Transport-Security header.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig configures trace export over OTLP/gRPC.
type OTELConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
	SampleRatio float64
}

// Config is the full server configuration.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string
	LogPretty      bool
	LogRedact      bool // scrub respondent ids and PII from access logs
	SwaggerEnabled bool
	APIBasePath    string

	DBDriver       string // sqlite|postgres
	DBPath         string
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBTracing      bool

	// MaxAnswers caps the question ids in one draft or submission payload.
	MaxAnswers   int
	MaxBodyBytes int64

	RateRPS   float64
	RateBurst int
	// RateLimitRedisURL switches to the shared fixed-window limiter.
	RateLimitRedisURL string

	CORS     CORSConfig
	Security SecurityConfig

	// IdempotencyTTL is how long a submission's Idempotency-Key is honored.
	IdempotencyTTL time.Duration

	OTEL OTELConfig
}

// MustLoad is Load for main; it panics on an invalid environment.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.duration("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.duration("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.duration("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.duration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.flag("LOG_PRETTY", false),
		LogRedact:      e.flag("LOG_REDACT", true),
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DBDriver:       strings.ToLower(e.str("DB_DRIVER", "sqlite")),
		DBPath:         e.str("DB_PATH", "draftsync.db"),
		DatabaseURL:    e.str("DATABASE_URL", ""),
		DBMaxOpenConns: e.integer("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns: e.integer("DB_MAX_IDLE_CONNS", 5),
		DBTracing:      e.flag("DB_TRACING", true),

		MaxAnswers:   e.integer("MAX_ANSWERS", 500),
		MaxBodyBytes: int64(e.integer("MAX_BODY_BYTES", 1<<20)),

		RateRPS:           e.decimal("RATE_RPS", 5),
		RateBurst:         e.integer("RATE_BURST", 10),
		RateLimitRedisURL: e.str("RATE_LIMIT_REDIS_URL", ""),

		CORS: CORSConfig{AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS")},
		Security: SecurityConfig{
			EnableHSTS: e.flag("ENABLE_HSTS", false),
			HSTSMaxAge: e.duration("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-draftsync"),
			SampleRatio: e.decimal("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
	if len(e.bad) > 0 {
		return cfg, fmt.Errorf("malformed environment: %s", strings.Join(e.bad, ", "))
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	switch cfg.DBDriver {
	case "postgresql", "pg":
		cfg.DBDriver = "postgres"
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	switch c.DBDriver {
	case "sqlite":
		if strings.TrimSpace(c.DBPath) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}

	checks := []struct {
		bad bool
		msg string
	}{
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{min(c.ReadTimeout, c.ReadHeaderTimeout, c.WriteTimeout, c.IdleTimeout, c.ShutdownTimeout) <= 0, "timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{c.DBMaxOpenConns < 1 || c.DBMaxIdleConns < 0, "DB_MAX_OPEN_CONNS must be >= 1 and DB_MAX_IDLE_CONNS >= 0"},
		{c.MaxAnswers < 1, "MAX_ANSWERS must be >= 1"},
		{c.MaxBodyBytes < 1024, "MAX_BODY_BYTES must be >= 1024"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	for _, ck := range checks {
		if ck.bad {
			return errors.New(ck.msg)
		}
	}
	return nil
}

// env reads typed values and remembers the keys it could not parse.
// Unset and empty variables take the default.
type env struct {
	bad []string
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	return v, ok && v != ""
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.bad = append(e.bad, k)
		return def
	}
	return n
}

func (e *env) decimal(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.bad = append(e.bad, k)
		return def
	}
	return f
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.bad = append(e.bad, k)
		return def
	}
	return d
}

func (e *env) flag(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.bad = append(e.bad, k)
	return def
}

// list splits a comma separated value, dropping blanks.
func (e *env) list(k string) []string {
	v, _ := e.lookup(k)
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with a leading slash and no trailing one.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
