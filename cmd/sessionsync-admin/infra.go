package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/target/sessionsync/config"
	"github.com/target/sessionsync/internal/bootstrap"
	"github.com/target/sessionsync/internal/core"
	"github.com/target/sessionsync/internal/data"
	"github.com/target/sessionsync/internal/domain/session"
)

// cacheHandle is an opened durable cache plus what is needed to release it.
type cacheHandle struct {
	Roles   *core.RoleCache
	Purger  core.ExpiredPurger
	Backend config.CacheBackend

	stores      *bootstrap.CacheStores
	redisClient redis.UniversalClient
}

func (h *cacheHandle) Close() error {
	var closeErr error
	if err := h.stores.Close(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close cache: %w", err))
	}
	if h.redisClient != nil {
		if err := h.redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

// openCache opens the durable cache the agent is configured to use.
func openCache(cmdCtx *commandContext) (*cacheHandle, error) {
	cfg := cmdCtx.Config
	h := &cacheHandle{Backend: cfg.Cache.Backend}

	if cfg.Cache.Backend == config.CacheBackendRedis {
		if !hasRedisConfig(&cfg.Redis) {
			return nil, errors.New("redis cache backend selected but REDIS_URI is empty")
		}
		client, err := bootstrap.ConnectRedis(cmdCtx.Ctx, bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: cmdCtx.Logger})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		h.redisClient = client
	}

	stores, err := bootstrap.OpenCacheStores(cmdCtx.Ctx, bootstrap.CacheOptions{
		Config: cfg.Cache,
		Redis:  h.redisClient,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		if h.redisClient != nil {
			err = errors.Join(err, h.redisClient.Close())
		}
		return nil, err
	}
	h.stores = stores
	h.Purger = stores.Purger
	h.Roles = core.NewRoleCache(core.RoleCacheOptions{
		Cache:     stores.Durable,
		TTL:       cfg.Session.RoleCacheTTL,
		KeyPrefix: cfg.Cache.KeyPrefix,
		Now:       cmdCtx.Now,
		Logger:    cmdCtx.Logger,
	})
	return h, nil
}

// profileStore is the subset of the profile repository the CLI drives.
type profileStore interface {
	FetchRole(ctx context.Context, identityID string) (session.Role, error)
	CreateDefault(ctx context.Context, identity session.Identity) (session.Role, error)
	SetRole(ctx context.Context, identityID string, role session.Role) error
}

// openProfiles connects to the Postgres profile store. Tests replace it through
// commandContext.OpenProfiles.
func openProfiles(cmdCtx *commandContext) (profileStore, func() error, error) {
	if cmdCtx.OpenProfiles != nil {
		return cmdCtx.OpenProfiles(cmdCtx.Ctx)
	}
	db, err := connectDB(cmdCtx)
	if err != nil {
		return nil, nil, err
	}
	return data.NewProfileRepo(data.ProfileRepoOptions{DB: db}), db.Close, nil
}

func connectDB(cmdCtx *commandContext) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(cmdCtx.Ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}
