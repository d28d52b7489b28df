package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/target/sessionsync/config"
	"github.com/target/sessionsync/internal/adapters/sweeper"
	"github.com/target/sessionsync/internal/core"
	"github.com/target/sessionsync/internal/domain/retry"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/observability/statsd"
	"github.com/target/sessionsync/internal/service"
)

// BuildMetrics creates the StatsD client. A disabled configuration yields a client that drops
// everything.
func BuildMetrics(cfg config.ObservabilityMetricsConfig, logger *slog.Logger) (*statsd.Client, error) {
	return statsd.NewClient(statsd.Config{
		Enabled: cfg.IsEnabled(),
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
}

// RuntimeOptions contains everything BuildRuntime wires together.
type RuntimeOptions struct {
	Session  config.SessionConfig
	Cache    config.CacheConfig
	Identity *Identity          // Required
	Roles    service.RoleSource // Required
	Stores   *CacheStores       // Required
	Metrics  statsd.Sink        // Optional
	TabID    string             // Optional
	Now      func() time.Time   // Optional
	Logger   *slog.Logger       // Optional
}

// Runtime holds the wired synchronizer and the components the agent drives directly.
type Runtime struct {
	Synchronizer *service.Synchronizer
	Resolver     *service.RoleResolver
	RoleCache    *core.RoleCache
	Flags        *core.FlagStore
	Activity     *core.ActivityGuard
	// Sweeper is nil when the durable backend expires entries on its own.
	Sweeper *sweeper.Runner
}

// BuildRuntime constructs the role cache, flag store, guards, resolver and synchronizer.
func BuildRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.Identity == nil || opts.Identity.Provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if opts.Roles.Lookup == nil {
		return nil, errors.New("role lookup is required")
	}
	if opts.Stores == nil || opts.Stores.Durable == nil {
		return nil, errors.New("cache stores are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sc := opts.Session

	roleCache := core.NewRoleCache(core.RoleCacheOptions{
		Cache:     opts.Stores.Durable,
		TTL:       sc.RoleCacheTTL,
		KeyPrefix: opts.Cache.KeyPrefix,
		Now:       now,
		Logger:    logger,
	})
	flags := core.NewFlagStore(core.FlagStoreOptions{
		Cache:     opts.Stores.Ephemeral,
		TabID:     opts.TabID,
		KeyPrefix: opts.Cache.KeyPrefix,
		Now:       now,
	})
	activity := core.NewActivityGuard(core.ActivityGuardOptions{
		Flags:  flags,
		TTL:    sc.ActivityTTL,
		Now:    now,
		Logger: logger,
	})
	guard := core.NewExclusiveGuard(core.ExclusiveGuardOptions{
		Flags:  flags,
		TTL:    sc.GuardTTL,
		Now:    now,
		Logger: logger,
	})
	executor := retry.New(retry.Options{
		Attempts:       sc.RetryAttempts,
		AttemptTimeout: sc.AttemptTimeout,
		BackoffBase:    sc.BackoffBase,
		Retryable:      retryable,
		Logger:         logger,
	})
	resolver := service.NewRoleResolver(service.RoleResolverOptions{
		Cache:  roleCache,
		Source: opts.Roles,
		Retry:  executor,
		Logger: logger,
	})

	synchronizer := service.NewSynchronizer(service.SynchronizerOptions{
		Deps: service.SynchronizerDeps{
			Provider: opts.Identity.Provider,
			Resolver: resolver,
			Cache:    roleCache,
			Flags:    flags,
			Guard:    guard,
			Activity: activity,
			Retry:    executor,
			Metrics:  opts.Metrics,
			Now:      now,
		},
		Config: service.SynchronizerConfig{
			Cooldowns:           sc.CooldownWindows(),
			TransientWindow:     sc.TransientWindow,
			TransientRetryDelay: sc.TransientRetryDelay,
			RecoveryWindow:      sc.RecoveryWindow,
			GuardTTL:            sc.GuardTTL,
		},
		Logger: logger,
	})

	rt := &Runtime{
		Synchronizer: synchronizer,
		Resolver:     resolver,
		RoleCache:    roleCache,
		Flags:        flags,
		Activity:     activity,
	}

	if opts.Stores.Purger != nil {
		sw, err := sweeper.NewRunner(sweeper.RunnerOptions{
			Purger:   opts.Stores.Purger,
			Interval: opts.Cache.SweepInterval,
			Logger:   logger,
			Metrics:  opts.Metrics,
		})
		if err != nil {
			return nil, err
		}
		rt.Sweeper = sw
	}
	return rt, nil
}

// retryable stops retries for failures another attempt cannot fix.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case apperrors.IsCode(err, apperrors.ErrCodeValidation),
		apperrors.IsCode(err, apperrors.ErrCodeCanceled):
		return false
	default:
		return true
	}
}
