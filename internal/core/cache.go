// Package core holds the storage-facing services of the session synchronizer: the durable
// role cache, the per-tab flag store and the guards built on it.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/target/sessionsync/internal/domain/session"
)

//go:generate mockgen -source=cache.go -destination=cache_mock.go -package=core

// CacheRepository defines the interface for key/value storage backends.
// The core defines it and internal/data provides the memory, SQLite and Redis implementations.
type CacheRepository interface {
	// Set stores a value with the given key and TTL. If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	Exists(ctx context.Context, key string) (bool, error)

	// SetTTL returns true if the key exists and its TTL was updated.
	SetTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set, false if it already existed.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Health(ctx context.Context) error
}

const (
	// DefaultRoleCacheTTL is how long a resolved role is trusted.
	DefaultRoleCacheTTL = 12 * time.Hour
	// DefaultKeyPrefix namespaces every key written by this module.
	DefaultKeyPrefix = "sessionsync:"
)

// roleRecord is the persisted form of a CacheEntry.
type roleRecord struct {
	Role       string `json:"role"`
	ResolvedAt int64  `json:"resolved_at"`
}

// lastAuthRecord is the persisted form of a LastKnownState.
type lastAuthRecord struct {
	Status     string `json:"status"`
	IdentityID string `json:"identity_id,omitempty"`
	Email      string `json:"email,omitempty"`
	ObservedAt int64  `json:"observed_at"`
}

// RoleCacheOptions bundles dependencies for NewRoleCache.
type RoleCacheOptions struct {
	Cache     CacheRepository
	TTL       time.Duration
	KeyPrefix string
	Now       func() time.Time
	Logger    *slog.Logger
}

// RoleCache is the durable cache of resolved roles plus the last-known authentication state.
// Storage failures never reach callers: reads degrade to a miss and writes to a no-op.
// The first failure is logged at warn, later ones at debug.
type RoleCache struct {
	cache  CacheRepository
	ttl    time.Duration
	prefix string
	now    func() time.Time
	logger *slog.Logger
	warned atomic.Bool
}

// NewRoleCache creates a RoleCache.
func NewRoleCache(opts RoleCacheOptions) *RoleCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultRoleCacheTTL
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleCache{
		cache:  opts.Cache,
		ttl:    ttl,
		prefix: prefix,
		now:    now,
		logger: logger.With("component", "role_cache"),
	}
}

// TTL returns the configured entry lifetime.
func (c *RoleCache) TTL() time.Duration { return c.ttl }

func (c *RoleCache) roleKey(identityID string) string { return c.prefix + "role_cache:" + identityID }
func (c *RoleCache) lastAuthKey() string             { return c.prefix + "last_auth" }

// absorb logs a storage failure. Only the first one per cache is logged at warn.
func (c *RoleCache) absorb(ctx context.Context, op string, err error) {
	if c.warned.CompareAndSwap(false, true) {
		c.logger.WarnContext(ctx, "durable cache unavailable, continuing without it", "op", op, "error", err)
		return
	}
	c.logger.DebugContext(ctx, "durable cache unavailable", "op", op, "error", err)
}

// Get returns the cached role for identityID. Entries at or past the TTL are treated as
// absent and deleted, as are records that cannot be decoded.
func (c *RoleCache) Get(ctx context.Context, identityID string) (session.CacheEntry, bool) {
	if c.cache == nil || identityID == "" {
		return session.CacheEntry{}, false
	}
	key := c.roleKey(identityID)
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		c.absorb(ctx, "get", err)
		return session.CacheEntry{}, false
	}
	if raw == nil {
		return session.CacheEntry{}, false
	}

	var rec roleRecord
	if err := json.Unmarshal(raw, &rec); err != nil || !session.Role(rec.Role).Valid() {
		c.logger.DebugContext(ctx, "discarding undecodable role cache entry", "identity_id", identityID)
		c.purge(ctx, key)
		return session.CacheEntry{}, false
	}

	entry := session.CacheEntry{
		IdentityID: identityID,
		Role:       session.Role(rec.Role),
		ResolvedAt: time.UnixMilli(rec.ResolvedAt),
	}
	if entry.Expired(c.now(), c.ttl) {
		c.logger.DebugContext(ctx, "role cache entry expired", "identity_id", identityID, "age", entry.Age(c.now()))
		c.purge(ctx, key)
		return session.CacheEntry{}, false
	}
	return entry, true
}

// Put records role for identityID, resolved now.
func (c *RoleCache) Put(ctx context.Context, identityID string, role session.Role) {
	if c.cache == nil || identityID == "" {
		return
	}
	raw, err := json.Marshal(roleRecord{Role: string(role), ResolvedAt: c.now().UnixMilli()})
	if err != nil {
		c.absorb(ctx, "encode", err)
		return
	}
	// The backend TTL only bounds storage; freshness is decided by resolved_at.
	if err := c.cache.Set(ctx, c.roleKey(identityID), raw, c.ttl); err != nil {
		c.absorb(ctx, "put", err)
	}
}

// Invalidate removes the entry for identityID.
func (c *RoleCache) Invalidate(ctx context.Context, identityID string) {
	if c.cache == nil || identityID == "" {
		return
	}
	c.purge(ctx, c.roleKey(identityID))
}

func (c *RoleCache) purge(ctx context.Context, key string) {
	if _, err := c.cache.Delete(ctx, key); err != nil {
		c.absorb(ctx, "delete", err)
	}
}

// LastKnown returns the last recorded authentication state.
func (c *RoleCache) LastKnown(ctx context.Context) (session.LastKnownState, bool) {
	if c.cache == nil {
		return session.LastKnownState{}, false
	}
	raw, err := c.cache.Get(ctx, c.lastAuthKey())
	if err != nil {
		c.absorb(ctx, "last_known", err)
		return session.LastKnownState{}, false
	}
	if raw == nil {
		return session.LastKnownState{}, false
	}
	var rec lastAuthRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.DebugContext(ctx, "discarding undecodable last auth state")
		c.purge(ctx, c.lastAuthKey())
		return session.LastKnownState{}, false
	}
	return session.LastKnownState{
		Status:     session.AuthStatus(rec.Status),
		IdentityID: rec.IdentityID,
		Email:      rec.Email,
		ObservedAt: time.UnixMilli(rec.ObservedAt),
	}, true
}

// SetLastKnown persists state. A zero ObservedAt is stamped with the current time.
func (c *RoleCache) SetLastKnown(ctx context.Context, state session.LastKnownState) {
	if c.cache == nil {
		return
	}
	if state.ObservedAt.IsZero() {
		state.ObservedAt = c.now()
	}
	raw, err := json.Marshal(lastAuthRecord{
		Status:     string(state.Status),
		IdentityID: state.IdentityID,
		Email:      state.Email,
		ObservedAt: state.ObservedAt.UnixMilli(),
	})
	if err != nil {
		c.absorb(ctx, "encode", err)
		return
	}
	if err := c.cache.Set(ctx, c.lastAuthKey(), raw, 0); err != nil {
		c.absorb(ctx, "set_last_known", err)
	}
}

// ErrNoBackend is returned by Health when the cache runs without storage.
var ErrNoBackend = errors.New("role cache has no backend")

// Health reports whether the backing store is reachable.
func (c *RoleCache) Health(ctx context.Context) error {
	if c.cache == nil {
		return ErrNoBackend
	}
	return c.cache.Health(ctx)
}
