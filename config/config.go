package config

import (
	"log/slog"
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - session.go: synchronizer timing policy
//   - database.go: durable cache backend, Redis and the Postgres profile store
//   - auth.go: identity provider and role source
//   - http.go: local control surface
//   - observability.go: logging and metrics
type AppConfig struct {
	// IsDev controls development mode behavior.
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Session SessionConfig `envPrefix:"SESSION_"`

	Cache    CacheConfig `envPrefix:"CACHE_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Postgres DBConfig    `envPrefix:"DB_"`

	// ProfilesEnabled resolves roles from the Postgres profile store instead of AUTH_STATIC_ROLES.
	ProfilesEnabled bool `env:"PROFILES_ENABLED" envDefault:"false"`

	Auth AuthConfig

	HTTP HTTPConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Session.Sanitize()
	c.Cache.Sanitize()
	c.Auth.Sanitize()
	c.HTTP.Sanitize()
	c.Observability.Sanitize()
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// SlogLevel maps LogLevel onto slog. Unknown values fall back to info, or debug in dev mode.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	}
	if c.IsDev {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
