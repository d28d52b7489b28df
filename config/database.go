package config

import (
	"fmt"
	"strings"
	"time"
)

// CacheBackend selects the durable cache implementation.
type CacheBackend string

const (
	// CacheBackendMemory keeps the cache in process memory; nothing survives a restart.
	CacheBackendMemory CacheBackend = "memory"
	// CacheBackendSQLite stores the cache in a local SQLite file.
	CacheBackendSQLite CacheBackend = "sqlite"
	// CacheBackendRedis shares the cache through Redis.
	CacheBackendRedis CacheBackend = "redis"
)

// UnmarshalText implements encoding.TextUnmarshaler for CacheBackend.
func (b *CacheBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch CacheBackend(v) {
	case CacheBackendMemory, CacheBackendSQLite, CacheBackendRedis:
		*b = CacheBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid CacheBackend: %q (valid options: memory, sqlite, redis)", v)
	}
}

// CacheConfig contains durable cache configuration.
type CacheConfig struct {
	Backend    CacheBackend `env:"BACKEND"     envDefault:"sqlite"`
	SQLitePath string       `env:"SQLITE_PATH" envDefault:"sessionsync-cache.db"`
	KeyPrefix  string       `env:"KEY_PREFIX"  envDefault:"sessionsync:"`
	// SweepInterval is how often expired SQLite/memory rows are removed.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`
	// EncryptionKey, when set, seals cached values with AES-256-GCM. A 64 character hex
	// string is used as the key directly; any other value is hashed.
	EncryptionKey string `env:"ENCRYPTION_KEY"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	c.EncryptionKey = strings.TrimSpace(c.EncryptionKey)
	if c.Backend == CacheBackendSQLite && c.SQLitePath == "" {
		c.SQLitePath = "sessionsync-cache.db"
	}
	if c.SweepInterval < time.Minute {
		c.SweepInterval = time.Minute
	}
}

// DBConfig contains PostgreSQL profile store configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"sessionsync"`
	Password string `env:"PASSWORD" envDefault:"sessionsync"`
	Name     string `env:"NAME"     envDefault:"sessionsync"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the agent applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
