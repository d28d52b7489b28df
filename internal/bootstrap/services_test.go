package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sessionsync/config"
	"github.com/target/sessionsync/internal/data"
	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
)

func TestOpenCacheStores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		stores, err := OpenCacheStores(ctx, CacheOptions{
			Config: config.CacheConfig{Backend: config.CacheBackendMemory},
			Logger: discardLogger(),
		})
		require.NoError(t, err)
		assert.NotNil(t, stores.Durable)
		assert.NotNil(t, stores.Purger)
		assert.NotSame(t, stores.Ephemeral, stores.Durable)
		assert.NoError(t, stores.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "cache.db")
		stores, err := OpenCacheStores(ctx, CacheOptions{
			Config: config.CacheConfig{Backend: config.CacheBackendSQLite, SQLitePath: path},
			Logger: discardLogger(),
		})
		require.NoError(t, err)
		require.NotNil(t, stores.Purger)
		require.NoError(t, stores.Durable.Set(ctx, "k", []byte("v"), 0))
		assert.NoError(t, stores.Close())
	})

	t.Run("encrypted", func(t *testing.T) {
		t.Parallel()
		stores, err := OpenCacheStores(ctx, CacheOptions{
			Config: config.CacheConfig{Backend: config.CacheBackendMemory, EncryptionKey: "passphrase"},
			Logger: discardLogger(),
		})
		require.NoError(t, err)
		assert.IsType(t, &data.SealedCacheRepo{}, stores.Durable)
		require.NoError(t, stores.Durable.Set(ctx, "k", []byte("v"), 0))

		raw, err := stores.Purger.(*data.MemoryCacheRepo).Get(ctx, "k")
		require.NoError(t, err)
		assert.NotEqual(t, []byte("v"), raw)

		got, err := stores.Durable.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("redis without client", func(t *testing.T) {
		t.Parallel()
		_, err := OpenCacheStores(ctx, CacheOptions{
			Config: config.CacheConfig{Backend: config.CacheBackendRedis},
			Logger: discardLogger(),
		})
		require.Error(t, err)
	})

	t.Run("unsupported backend", func(t *testing.T) {
		t.Parallel()
		_, err := OpenCacheStores(ctx, CacheOptions{
			Config: config.CacheConfig{Backend: "etcd"},
			Logger: discardLogger(),
		})
		require.Error(t, err)
	})
}

func TestCacheStoresClose_Nil(t *testing.T) {
	t.Parallel()
	var stores *CacheStores
	assert.NoError(t, stores.Close())
}

func memoryStores() *CacheStores {
	return &CacheStores{
		Durable:   data.NewMemoryCacheRepo(nil),
		Ephemeral: data.NewMemoryCacheRepo(nil),
	}
}

func TestBuildRuntime_RequiresDependencies(t *testing.T) {
	t.Parallel()
	identity, err := BuildIdentity(context.Background(), IdentityOptions{Auth: devAuth(), Logger: discardLogger()})
	require.NoError(t, err)
	roles, err := BuildRoleSource(RoleSourceOptions{Auth: devAuth(), Logger: discardLogger()})
	require.NoError(t, err)

	_, err = BuildRuntime(RuntimeOptions{Roles: roles, Stores: memoryStores()})
	require.Error(t, err)
	_, err = BuildRuntime(RuntimeOptions{Identity: identity, Stores: memoryStores()})
	require.Error(t, err)
	_, err = BuildRuntime(RuntimeOptions{Identity: identity, Roles: roles})
	require.Error(t, err)
}

func TestBuildRuntime_DevSignInPublishesRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := discardLogger()

	var cfg config.AppConfig
	cfg.Session = config.SessionConfig{}
	cfg.Session.Sanitize()

	identity, err := BuildIdentity(ctx, IdentityOptions{Auth: devAuth(), Logger: logger})
	require.NoError(t, err)
	roles, err := BuildRoleSource(RoleSourceOptions{Auth: devAuth(), Logger: logger})
	require.NoError(t, err)
	stores := memoryStores()
	stores.Purger = stores.Durable.(*data.MemoryCacheRepo)

	rt, err := BuildRuntime(RuntimeOptions{
		Session:  cfg.Session,
		Cache:    config.CacheConfig{KeyPrefix: "test:"},
		Identity: identity,
		Roles:    roles,
		Stores:   stores,
		TabID:    "tab-1",
		Logger:   logger,
	})
	require.NoError(t, err)
	require.NotNil(t, rt.Sweeper)
	assert.Equal(t, "tab-1", rt.Flags.TabID())

	require.NoError(t, rt.Synchronizer.Start(ctx))
	t.Cleanup(rt.Synchronizer.Close)
	assert.True(t, rt.Synchronizer.Snapshot().Ready)
	assert.False(t, rt.Synchronizer.Snapshot().IsAuthenticated())

	_, err = identity.Dev.SignInDefault(ctx)
	require.NoError(t, err)

	snap := rt.Synchronizer.Snapshot()
	require.True(t, snap.IsAuthenticated())
	assert.Equal(t, "dev-user", snap.Identity.ID)
	assert.Equal(t, session.RoleAdmin, snap.Role)

	cached, ok := rt.RoleCache.Get(ctx, "dev-user")
	require.True(t, ok)
	assert.Equal(t, session.RoleAdmin, cached.Role)
}

func TestBuildRuntime_NoSweeperWithoutPurger(t *testing.T) {
	t.Parallel()
	identity, err := BuildIdentity(context.Background(), IdentityOptions{Auth: devAuth(), Logger: discardLogger()})
	require.NoError(t, err)
	roles, err := BuildRoleSource(RoleSourceOptions{Auth: devAuth(), Logger: discardLogger()})
	require.NoError(t, err)

	rt, err := BuildRuntime(RuntimeOptions{Identity: identity, Roles: roles, Stores: memoryStores(), Logger: discardLogger()})
	require.NoError(t, err)
	assert.Nil(t, rt.Sweeper)
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, retryable(errors.New("boom")))
	assert.True(t, retryable(apperrors.ProviderUnavailable(errors.New("down"))))
	assert.True(t, retryable(apperrors.Timeout("slow")))
	assert.False(t, retryable(apperrors.Validation("bad input")))
	assert.False(t, retryable(context.Canceled))
}

func TestBuildMetrics_Disabled(t *testing.T) {
	t.Parallel()
	client, err := BuildMetrics(config.ObservabilityMetricsConfig{}, discardLogger())
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	client.Count("noop", 1, nil)
	assert.NoError(t, client.Close())
}
