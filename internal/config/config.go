// Package config loads the chatedge runtime configuration from the
// environment, with validation and clamped defaults for every setting.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// RateLimitConfig defines the fixed-window limits applied to HTTP requests
// per client identity.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// SessionConfig defines per-connection limits for realtime sessions.
type SessionConfig struct {
	IdleTimeout    time.Duration
	MaxMessageSize int64
	MessageBurst   int
	MessageRefill  time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port             string
	Environment      string
	DatabaseURL      string
	AllowedOrigin    string
	AllowCredentials bool
	TrustProxy       bool
	StaticDir        string
	RateLimit        RateLimitConfig
	Session          SessionConfig
}

// DevMode reports whether the server runs with the development override that
// exposes internal error detail to clients. Never the default.
func (c *Config) DevMode() bool {
	return c.Environment == "development"
}

func defaults() Config {
	return Config{
		Port:             ":8080",
		Environment:      "production",
		AllowedOrigin:    "http://localhost:8080",
		AllowCredentials: true,
		StaticDir:        "./public",
		RateLimit: RateLimitConfig{
			Max:    200,
			Window: time.Minute,
		},
		Session: SessionConfig{
			IdleTimeout:    60 * time.Second,
			MaxMessageSize: 512,
			MessageBurst:   5,
			MessageRefill:  time.Second,
		},
	}
}

// Load reads configuration from the environment. An optional local .env file
// is honored for development; a missing file is fine.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if port := os.Getenv("CHATEDGE_PORT"); port != "" {
		cfg.Port = port
	}
	if env := os.Getenv("CHATEDGE_ENV"); env != "" {
		cfg.Environment = env
	}
	if origin := os.Getenv("CHATEDGE_ALLOWED_ORIGIN"); origin != "" {
		cfg.AllowedOrigin = origin
	}
	if dir := os.Getenv("CHATEDGE_STATIC_DIR"); dir != "" {
		cfg.StaticDir = dir
	}

	cfg.DatabaseURL = os.Getenv("CHATEDGE_DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, errors.New("CHATEDGE_DATABASE_URL is required")
	}

	cfg.TrustProxy = getenvBool("CHATEDGE_TRUST_PROXY", cfg.TrustProxy)
	cfg.AllowCredentials = getenvBool("CHATEDGE_ALLOW_CREDENTIALS", cfg.AllowCredentials)

	cfg.RateLimit.Max = getenvIntDefault("CHATEDGE_RATE_LIMIT_MAX", cfg.RateLimit.Max)
	cfg.RateLimit.Window = getenvSeconds("CHATEDGE_RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimit.Window)

	cfg.Session.IdleTimeout = getenvSeconds("CHATEDGE_IDLE_TIMEOUT_SECONDS", cfg.Session.IdleTimeout)
	cfg.Session.MaxMessageSize = getenvInt64Default("CHATEDGE_MAX_MESSAGE_SIZE", cfg.Session.MaxMessageSize)
	cfg.Session.MessageBurst = getenvIntDefault("CHATEDGE_MESSAGE_BURST", cfg.Session.MessageBurst)
	cfg.Session.MessageRefill = getenvSeconds("CHATEDGE_MESSAGE_REFILL_SECONDS", cfg.Session.MessageRefill)

	sanitize(&cfg)
	return &cfg, nil
}

func sanitize(cfg *Config) {
	if cfg.RateLimit.Max <= 0 {
		cfg.RateLimit.Max = 200
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Session.IdleTimeout <= 0 {
		cfg.Session.IdleTimeout = 60 * time.Second
	}
	if cfg.Session.MaxMessageSize <= 0 {
		cfg.Session.MaxMessageSize = 512
	}
	if cfg.Session.MessageBurst <= 0 {
		cfg.Session.MessageBurst = 5
	}
	if cfg.Session.MessageRefill <= 0 {
		cfg.Session.MessageRefill = time.Second
	}
}

func getenvBool(name string, defaultValue bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getenvIntDefault(name string, defaultValue int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func getenvInt64Default(name string, defaultValue int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func getenvSeconds(name string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
