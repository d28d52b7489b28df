package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/sessionsync/config"
	"github.com/target/sessionsync/internal/bootstrap"
	"github.com/target/sessionsync/internal/domain/session"
	httpx "github.com/target/sessionsync/internal/http"
	"github.com/target/sessionsync/internal/service"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger(slog.LevelInfo)

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(ctx, "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
	logger = bootstrap.InitLogger(cfg.SlogLevel())

	if err := run(ctx, logger, &cfg); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logStartupInfo(ctx, logger, cfg)

	metrics, err := bootstrap.BuildMetrics(cfg.Observability.Metrics, logger)
	if err != nil {
		return fmt.Errorf("build metrics: %w", err)
	}
	defer closeWithLog(ctx, logger, "metrics", metrics.Close)

	db, redisClient, err := initInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer closeWithLog(ctx, logger, "database", db.Close)
	}
	if redisClient != nil {
		defer closeWithLog(ctx, logger, "redis", redisClient.Close)
	}

	stores, err := bootstrap.OpenCacheStores(ctx, bootstrap.CacheOptions{
		Config: cfg.Cache,
		Redis:  redisClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer closeWithLog(ctx, logger, "cache", stores.Close)

	identity, err := bootstrap.BuildIdentity(ctx, bootstrap.IdentityOptions{
		Auth:   cfg.Auth,
		Logger: logger,
		Redis:  redisClient,
	})
	if err != nil {
		return err
	}
	roles, err := bootstrap.BuildRoleSource(bootstrap.RoleSourceOptions{
		Auth:            cfg.Auth,
		ProfilesEnabled: cfg.ProfilesEnabled,
		DB:              db,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	rt, err := bootstrap.BuildRuntime(bootstrap.RuntimeOptions{
		Session:  cfg.Session,
		Cache:    cfg.Cache,
		Identity: identity,
		Roles:    roles,
		Stores:   stores,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer rt.Synchronizer.Close()

	unsubscribe, updates := rt.Synchronizer.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logSnapshots(gctx, logger, updates)
		return nil
	})

	if err := rt.Synchronizer.Start(gctx); err != nil {
		return fmt.Errorf("start synchronizer: %w", err)
	}

	if identity.Dev != nil && cfg.Auth.DevAuth.AutoSignIn {
		if _, err := identity.Dev.SignInDefault(gctx); err != nil {
			logger.WarnContext(gctx, "dev auto sign-in failed", "error", err)
		}
	}

	if rt.Sweeper != nil {
		g.Go(func() error { return rt.Sweeper.Run(gctx) })
	}
	if cfg.Session.RecheckInterval > 0 {
		g.Go(func() error {
			recheckLoop(gctx, logger, rt.Synchronizer, cfg.Session.RecheckInterval)
			return nil
		})
	}
	if cfg.HTTP.Enabled {
		services := httpx.RouterServices{
			Sessions: rt.Synchronizer,
			Activity: rt.Activity,
			Health:   rt.RoleCache,
			Logger:   logger,
		}
		if identity.OAuth != nil {
			services.Login = identity.OAuth
			services.CallbackPath = cfg.Auth.OAuth.CallbackPath()
			logger.InfoContext(gctx, "sign in by opening the login endpoint", "url", "http://"+cfg.HTTP.Addr+"/auth/login")
		}
		g.Go(func() error {
			return bootstrap.RunHTTPServer(gctx, bootstrap.HTTPServerConfig{
				Addr:     cfg.HTTP.Addr,
				Services: services,
				Logger:   logger,
			})
		})
	} else if identity.OAuth != nil {
		logger.WarnContext(gctx, "oauth mode without HTTP_ENABLED cannot complete interactive sign-in")
	}

	err = g.Wait()
	logger.InfoContext(ctx, "session agent stopped", "state", rt.Synchronizer.State())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting session agent",
		"auth_mode", cfg.Auth.Mode,
		"cache_backend", cfg.Cache.Backend,
		"profiles_enabled", cfg.ProfilesEnabled,
		"http_enabled", cfg.HTTP.Enabled,
		"recheck_interval", cfg.Session.RecheckInterval)
}

// initInfrastructure connects the profile store and Redis when the configuration needs them.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func initInfrastructure(
	ctx context.Context,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*sql.DB, redis.UniversalClient, error) {
	var db *sql.DB
	if cfg.ProfilesEnabled {
		var err error
		db, err = bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		if cfg.Postgres.RunMigrationsOnStart {
			if err := bootstrap.RunMigrations(ctx, db, logger); err != nil {
				return nil, nil, errors.Join(err, db.Close())
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
	}

	if cfg.Cache.Backend != config.CacheBackendRedis {
		return db, nil, nil
	}
	redisClient, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		if db != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, nil, fmt.Errorf("connect redis: %w", errors.Join(err, fmt.Errorf("close database: %w", cerr)))
			}
		}
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return db, redisClient, nil
}

// logSnapshots logs every published snapshot until updates closes or ctx ends.
func logSnapshots(ctx context.Context, logger *slog.Logger, updates <-chan session.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			attrs := []any{"state", session.StateOf(snap), "degraded", snap.Degraded}
			if snap.Identity != nil {
				attrs = append(attrs, "identity_id", snap.Identity.ID, "role", snap.Role)
			}
			logger.InfoContext(ctx, "session snapshot published", attrs...)
		}
	}
}

// recheckLoop re-validates on a fixed interval. Suppressed rechecks are expected when a
// validation is already running.
func recheckLoop(ctx context.Context, logger *slog.Logger, synchronizer *service.Synchronizer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := synchronizer.Recheck(ctx); err != nil {
				if errors.Is(err, service.ErrClosed) {
					return
				}
				logger.WarnContext(ctx, "periodic recheck failed", "error", err)
			}
		}
	}
}

func closeWithLog(ctx context.Context, logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.ErrorContext(ctx, "close "+name+" failed", "error", err)
	}
}
