package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCacheContract exercises the behavior every backend must share.
func runCacheContract(t *testing.T, repo CacheStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "contract:1", []byte("v1"), time.Minute))
		got, err := repo.Get(ctx, "contract:1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "contract:2", []byte("old"), time.Minute))
		require.NoError(t, repo.Set(ctx, "contract:2", []byte("new"), 0))
		got, err := repo.Get(ctx, "contract:2")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("get missing key", func(t *testing.T) {
		got, err := repo.Get(ctx, "contract:missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "contract:3", []byte("x"), time.Minute))
		deleted, err := repo.Delete(ctx, "contract:3")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, "contract:3")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := repo.Exists(ctx, "contract:4")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.Set(ctx, "contract:4", []byte("x"), time.Minute))
		ok, err = repo.Exists(ctx, "contract:4")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("set ttl", func(t *testing.T) {
		updated, err := repo.SetTTL(ctx, "contract:absent", time.Minute)
		require.NoError(t, err)
		assert.False(t, updated)

		require.NoError(t, repo.Set(ctx, "contract:5", []byte("x"), time.Minute))
		updated, err = repo.SetTTL(ctx, "contract:5", 2*time.Minute)
		require.NoError(t, err)
		assert.True(t, updated)
	})

	t.Run("set if not exists", func(t *testing.T) {
		set, err := repo.SetIfNotExists(ctx, "contract:6", []byte("first"), time.Minute)
		require.NoError(t, err)
		assert.True(t, set)

		set, err = repo.SetIfNotExists(ctx, "contract:6", []byte("second"), time.Minute)
		require.NoError(t, err)
		assert.False(t, set)

		got, err := repo.Get(ctx, "contract:6")
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})

	t.Run("empty key", func(t *testing.T) {
		require.ErrorIs(t, repo.Set(ctx, "", nil, time.Minute), ErrEmptyKey)
		_, err := repo.Get(ctx, "")
		require.ErrorIs(t, err, ErrEmptyKey)
		_, err = repo.Delete(ctx, "")
		require.ErrorIs(t, err, ErrEmptyKey)
		_, err = repo.Exists(ctx, "")
		require.ErrorIs(t, err, ErrEmptyKey)
		_, err = repo.SetTTL(ctx, "", time.Minute)
		require.ErrorIs(t, err, ErrEmptyKey)
		_, err = repo.SetIfNotExists(ctx, "", nil, time.Minute)
		require.ErrorIs(t, err, ErrEmptyKey)
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, repo.Health(ctx))
	})
}

// runExpiryContract checks TTL handling against a controllable clock.
func runExpiryContract(t *testing.T, repo CacheStore, clock *FixedTimeProvider) {
	t.Helper()
	ctx := context.Background()

	t.Run("entry expires", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "expiry:1", []byte("x"), time.Minute))
		clock.AddTime(59 * time.Second)
		got, err := repo.Get(ctx, "expiry:1")
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), got)

		clock.AddTime(time.Second)
		got, err = repo.Get(ctx, "expiry:1")
		require.NoError(t, err)
		assert.Nil(t, got)

		ok, err := repo.Exists(ctx, "expiry:1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "expiry:2", []byte("x"), 0))
		clock.AddTime(24 * 365 * time.Hour)
		ok, err := repo.Exists(ctx, "expiry:2")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("set if not exists replaces expired entry", func(t *testing.T) {
		set, err := repo.SetIfNotExists(ctx, "expiry:3", []byte("a"), 2*time.Second)
		require.NoError(t, err)
		require.True(t, set)

		set, err = repo.SetIfNotExists(ctx, "expiry:3", []byte("b"), 2*time.Second)
		require.NoError(t, err)
		assert.False(t, set)

		clock.AddTime(2 * time.Second)
		set, err = repo.SetIfNotExists(ctx, "expiry:3", []byte("c"), 2*time.Second)
		require.NoError(t, err)
		assert.True(t, set)

		got, err := repo.Get(ctx, "expiry:3")
		require.NoError(t, err)
		assert.Equal(t, []byte("c"), got)
	})

	t.Run("set ttl on expired entry", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "expiry:4", []byte("x"), time.Second))
		clock.AddTime(time.Second)
		updated, err := repo.SetTTL(ctx, "expiry:4", time.Hour)
		require.NoError(t, err)
		assert.False(t, updated)
	})
}
