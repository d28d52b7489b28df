package redis

// Package redis provides Redis-based adapters for the session synchronizer.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginStateStore keeps pending OIDC logins in Redis so a login started by one agent
// process can be completed by another, or after a restart.
// Entries expire with their TTL and are consumed atomically with GETDEL.
type LoginStateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewLoginStateStore creates a Redis-backed login state store.
func NewLoginStateStore(client redis.UniversalClient) *LoginStateStore {
	return &LoginStateStore{
		client: client,
		prefix: "oidc_state:",
	}
}

// NewLoginStateStoreWithPrefix creates a login state store with a custom key prefix.
func NewLoginStateStoreWithPrefix(client redis.UniversalClient, prefix string) *LoginStateStore {
	return &LoginStateStore{
		client: client,
		prefix: prefix,
	}
}

func (s *LoginStateStore) Save(ctx context.Context, state, nonce string, ttl time.Duration) error {
	if state == "" {
		return errors.New("login state cannot be empty")
	}
	if ttl <= 0 {
		return errors.New("login state ttl must be positive")
	}
	if err := s.client.Set(ctx, s.prefix+state, nonce, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *LoginStateStore) Take(ctx context.Context, state string) (string, bool, error) {
	if state == "" {
		return "", false, nil
	}
	nonce, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis getdel: %w", err)
	}
	return nonce, true, nil
}
