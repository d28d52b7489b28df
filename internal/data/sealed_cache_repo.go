package data

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/sessionsync/internal/data/cryptoutil"
)

// CacheStore is the method set shared by every cache repository in this package.
type CacheStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Health(ctx context.Context) error
}

// SealedCacheRepo encrypts values on their way into another cache repository and
// decrypts them on the way out. Keys and TTLs are stored as-is.
type SealedCacheRepo struct {
	inner  CacheStore
	enc    cryptoutil.Encryptor
	logger *slog.Logger
}

// SealedCacheRepoOptions configures NewSealedCacheRepo.
type SealedCacheRepoOptions struct {
	Inner     CacheStore
	Encryptor cryptoutil.Encryptor
	Logger    *slog.Logger
}

// NewSealedCacheRepo wraps opts.Inner. Both Inner and Encryptor are required.
func NewSealedCacheRepo(opts SealedCacheRepoOptions) *SealedCacheRepo {
	if opts.Inner == nil {
		panic("data: NewSealedCacheRepo requires Inner")
	}
	if opts.Encryptor == nil {
		panic("data: NewSealedCacheRepo requires Encryptor")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SealedCacheRepo{inner: opts.Inner, enc: opts.Encryptor, logger: logger.With("component", "sealed_cache")}
}

func (r *SealedCacheRepo) seal(value []byte) ([]byte, error) {
	ct, err := r.enc.Encrypt(value)
	if err != nil {
		return nil, fmt.Errorf("seal cache value: %w", err)
	}
	return []byte(ct), nil
}

func (r *SealedCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sealed, err := r.seal(value)
	if err != nil {
		return err
	}
	return r.inner.Set(ctx, key, sealed, ttl)
}

// Get returns nil for values that cannot be opened, such as entries written before
// encryption was enabled or under another key. Those entries are deleted.
func (r *SealedCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.inner.Get(ctx, key)
	if err != nil || raw == nil {
		return raw, err
	}
	value, err := r.enc.Decrypt(string(raw))
	if err != nil {
		r.logger.DebugContext(ctx, "discarding unreadable cache value", "key", key, "error", err)
		if _, delErr := r.inner.Delete(ctx, key); delErr != nil {
			r.logger.DebugContext(ctx, "delete unreadable cache value failed", "key", key, "error", delErr)
		}
		return nil, nil
	}
	return value, nil
}

func (r *SealedCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	return r.inner.Delete(ctx, key)
}

func (r *SealedCacheRepo) Exists(ctx context.Context, key string) (bool, error) {
	return r.inner.Exists(ctx, key)
}

func (r *SealedCacheRepo) SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.inner.SetTTL(ctx, key, ttl)
}

func (r *SealedCacheRepo) SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	sealed, err := r.seal(value)
	if err != nil {
		return false, err
	}
	return r.inner.SetIfNotExists(ctx, key, sealed, ttl)
}

func (r *SealedCacheRepo) Health(ctx context.Context) error {
	return r.inner.Health(ctx)
}
