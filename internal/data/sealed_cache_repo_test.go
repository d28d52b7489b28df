package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sessionsync/internal/data/cryptoutil"
)

func newTestEncryptor(t *testing.T, passphrase string) *cryptoutil.AESGCMEncryptor {
	t.Helper()
	enc, err := cryptoutil.NewFromPassphrase(passphrase)
	require.NoError(t, err)
	return enc
}

func TestSealedCacheRepo_Contract(t *testing.T) {
	t.Parallel()
	repo := NewSealedCacheRepo(SealedCacheRepoOptions{
		Inner:     NewMemoryCacheRepo(nil),
		Encryptor: newTestEncryptor(t, "contract"),
	})
	runCacheContract(t, repo)
}

func TestSealedCacheRepo_StoresCiphertext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := NewMemoryCacheRepo(nil)
	repo := NewSealedCacheRepo(SealedCacheRepoOptions{Inner: inner, Encryptor: newTestEncryptor(t, "k")})

	require.NoError(t, repo.Set(ctx, "role_cache:u1", []byte(`{"role":"lawyer"}`), time.Minute))

	raw, err := inner.Get(ctx, "role_cache:u1")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "lawyer")

	got, err := repo.Get(ctx, "role_cache:u1")
	require.NoError(t, err)
	assert.Equal(t, `{"role":"lawyer"}`, string(got))
}

func TestSealedCacheRepo_DiscardsUnreadableValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := NewMemoryCacheRepo(nil)

	require.NoError(t, inner.Set(ctx, "plain", []byte(`{"role":"admin"}`), 0))
	other := NewSealedCacheRepo(SealedCacheRepoOptions{Inner: inner, Encryptor: newTestEncryptor(t, "old-key")})
	require.NoError(t, other.Set(ctx, "rotated", []byte("x"), 0))

	repo := NewSealedCacheRepo(SealedCacheRepoOptions{Inner: inner, Encryptor: newTestEncryptor(t, "new-key")})
	for _, key := range []string{"plain", "rotated"} {
		got, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, got, key)

		exists, err := inner.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, key)
	}
}

func TestNewSealedCacheRepo_PanicsWithoutDeps(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { NewSealedCacheRepo(SealedCacheRepoOptions{Encryptor: newTestEncryptor(t, "k")}) })
	assert.Panics(t, func() { NewSealedCacheRepo(SealedCacheRepoOptions{Inner: NewMemoryCacheRepo(nil)}) })
}
