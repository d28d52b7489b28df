package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	apperrors "github.com/target/sessionsync/internal/errors"
)

// RedisCacheRepo implements the CacheRepository interface using Redis.
// It lets several agents on one host share a role cache and last-known state.
type RedisCacheRepo struct {
	client redis.UniversalClient
}

// NewRedisCacheRepo creates a new RedisCacheRepo with the given Redis client.
func NewRedisCacheRepo(client redis.UniversalClient) *RedisCacheRepo {
	return &RedisCacheRepo{client: client}
}

// Set stores a value in Redis with the given key and TTL.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.CacheUnavailable(fmt.Errorf("redis set: %w", err))
	}
	return nil
}

// Get retrieves a value from Redis by key.
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	result, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.CacheUnavailable(fmt.Errorf("redis get: %w", err))
	}
	return result, nil
}

// Delete removes a key from Redis.
func (r *RedisCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("redis del: %w", err))
	}
	return n > 0, nil
}

// Exists checks if a key exists in Redis.
func (r *RedisCacheRepo) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("redis exists: %w", err))
	}
	return n > 0, nil
}

// SetTTL updates the TTL for an existing key in Redis. A non-positive TTL removes the expiry.
func (r *RedisCacheRepo) SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	var (
		ok  bool
		err error
	)
	if ttl <= 0 {
		ok, err = r.client.Persist(ctx, key).Result()
		if err == nil && !ok {
			// PERSIST reports false for keys without an expiry too.
			ok, err = r.Exists(ctx, key)
		}
	} else {
		ok, err = r.client.Expire(ctx, key, ttl).Result()
	}
	if err != nil {
		return false, apperrors.CacheUnavailable(fmt.Errorf("redis expire: %w", err))
	}
	return ok, nil
}

// SetIfNotExists atomically sets a key only if it doesn't already exist.
func (r *RedisCacheRepo) SetIfNotExists(
	ctx context.Context,
	key string,
	value []byte,
	ttl time.Duration,
) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	actualTTL := ttl
	if ttl <= 0 {
		actualTTL = time.Second // Minimum TTL of 1 second
	}

	// SET NX with TTL in one command; SETNX followed by EXPIRE is not atomic.
	status, err := r.client.SetArgs(ctx, key, value, redis.SetArgs{Mode: "NX", TTL: actualTTL}).Result()
	if err != nil {
		// NX not met comes back as a nil reply.
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, apperrors.CacheUnavailable(fmt.Errorf("redis SET NX: %w", err))
	}
	return status == "OK", nil
}

// Health checks the health of the Redis connection.
func (r *RedisCacheRepo) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return apperrors.CacheUnavailable(err)
	}
	return nil
}
