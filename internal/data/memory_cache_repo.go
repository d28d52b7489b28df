package data

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCacheRepo implements the CacheRepository interface in process memory.
// Entries do not survive a restart; it backs the ephemeral flag store and tests.
type MemoryCacheRepo struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   TimeProvider
}

// NewMemoryCacheRepo creates an empty MemoryCacheRepo. A nil clock uses the system time.
func NewMemoryCacheRepo(clock TimeProvider) *MemoryCacheRepo {
	return &MemoryCacheRepo{
		entries: make(map[string]memoryEntry),
		clock:   nowOrReal(clock),
	}
}

func (m *MemoryCacheRepo) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.clock.Now().Add(ttl)
}

// lookup returns the live entry for key, dropping it if expired. Caller holds m.mu.
func (m *MemoryCacheRepo) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if e.expired(m.clock.Now()) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Set stores a copy of value under key.
func (m *MemoryCacheRepo) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return nil
}

// Get returns a copy of the value, or nil if the key is missing or expired.
func (m *MemoryCacheRepo) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

// Delete removes key.
func (m *MemoryCacheRepo) Delete(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	delete(m.entries, key)
	return ok, nil
}

// Exists reports whether a live entry exists for key.
func (m *MemoryCacheRepo) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

// SetTTL replaces the expiry of an existing entry.
func (m *MemoryCacheRepo) SetTTL(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return false, nil
	}
	e.expiresAt = m.expiry(ttl)
	m.entries[key] = e
	return true, nil
}

// SetIfNotExists stores value only when no live entry exists. A non-positive TTL is raised to one second,
// matching the Redis backend.
func (m *MemoryCacheRepo) SetIfNotExists(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: m.expiry(ttl)}
	return true, nil
}

// Health always succeeds.
func (m *MemoryCacheRepo) Health(context.Context) error { return nil }

// Len returns the number of stored entries, including ones that expired but were not yet read.
func (m *MemoryCacheRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// PurgeExpired drops every expired entry and returns how many were removed.
func (m *MemoryCacheRepo) PurgeExpired(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var n int64
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}
