package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/sessionsync/config"
	"github.com/target/sessionsync/internal/core"
	"github.com/target/sessionsync/internal/data"
	"github.com/target/sessionsync/internal/data/cryptoutil"
)

// CacheStores holds the storage behind the durable cache and the ephemeral flag store.
type CacheStores struct {
	// Durable backs the role cache and the last-known state.
	Durable core.CacheRepository
	// Ephemeral backs guard and activity flags. It is always process-local.
	Ephemeral *data.MemoryCacheRepo
	// Purger is set for backends that only expire entries on read.
	Purger core.ExpiredPurger

	closers []func() error
}

// CacheOptions groups dependencies for OpenCacheStores.
type CacheOptions struct {
	Config config.CacheConfig
	Redis  redis.UniversalClient // Required when Config.Backend is redis
	Clock  data.TimeProvider     // Optional
	Logger *slog.Logger          // Optional
}

// OpenCacheStores opens the configured durable backend.
func OpenCacheStores(ctx context.Context, opts CacheOptions) (*CacheStores, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stores := &CacheStores{Ephemeral: data.NewMemoryCacheRepo(opts.Clock)}

	switch opts.Config.Backend {
	case config.CacheBackendMemory:
		mem := data.NewMemoryCacheRepo(opts.Clock)
		stores.Durable = mem
		stores.Purger = mem
	case config.CacheBackendRedis:
		if opts.Redis == nil {
			return nil, errors.New("redis cache backend selected but no redis client configured")
		}
		stores.Durable = data.NewRedisCacheRepo(opts.Redis)
	case config.CacheBackendSQLite, "":
		repo, err := data.OpenSQLiteCache(ctx, data.SQLiteCacheOptions{Path: opts.Config.SQLitePath, Clock: opts.Clock})
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		stores.Durable = repo
		stores.Purger = repo
		stores.closers = append(stores.closers, repo.Close)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", opts.Config.Backend)
	}

	if opts.Config.EncryptionKey != "" {
		enc, err := cryptoutil.NewFromPassphrase(opts.Config.EncryptionKey)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("create cache encryptor: %w", err), stores.Close())
		}
		stores.Durable = data.NewSealedCacheRepo(data.SealedCacheRepoOptions{
			Inner:     stores.Durable,
			Encryptor: enc,
			Logger:    logger,
		})
	}

	logger.InfoContext(ctx, "durable cache ready",
		"backend", backendName(opts.Config.Backend),
		"encrypted", opts.Config.EncryptionKey != "")
	return stores, nil
}

// Close releases backend handles. Redis clients are owned by the caller.
func (s *CacheStores) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func backendName(b config.CacheBackend) string {
	if b == "" {
		return string(config.CacheBackendSQLite)
	}
	return string(b)
}
