package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/target/sessionsync/internal/domain/session"
)

// FlagStore keeps short-lived guard flags for one synchronizer instance ("tab").
// Keys are namespaced by a random tab id so instances sharing a backend never see each other's flags.
// Every flag carries a TTL so a holder that dies cannot leave it set.
type FlagStore struct {
	cache  CacheRepository
	tabID  string
	prefix string
	now    func() time.Time
}

// FlagStoreOptions bundles dependencies for NewFlagStore.
type FlagStoreOptions struct {
	Cache     CacheRepository
	TabID     string
	KeyPrefix string
	Now       func() time.Time
}

// NewFlagStore creates a FlagStore. An empty TabID gets a fresh UUID.
func NewFlagStore(opts FlagStoreOptions) *FlagStore {
	tab := opts.TabID
	if tab == "" {
		tab = uuid.NewString()
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &FlagStore{cache: opts.Cache, tabID: tab, prefix: prefix, now: now}
}

// TabID returns the namespace of this store.
func (f *FlagStore) TabID() string { return f.tabID }

func (f *FlagStore) key(flag session.Flag) string {
	return f.prefix + "flags:" + f.tabID + ":" + string(flag)
}

func (f *FlagStore) stamp() []byte {
	return []byte(strconv.FormatInt(f.now().UnixMilli(), 10))
}

// TryAcquire sets flag only if it is not already set.
func (f *FlagStore) TryAcquire(ctx context.Context, flag session.Flag, ttl time.Duration) (bool, error) {
	ok, err := f.cache.SetIfNotExists(ctx, f.key(flag), f.stamp(), ttl)
	if err != nil {
		return false, fmt.Errorf("acquire flag %s: %w", flag, err)
	}
	return ok, nil
}

// Set sets flag, replacing any previous value and TTL.
func (f *FlagStore) Set(ctx context.Context, flag session.Flag, ttl time.Duration) error {
	if err := f.cache.Set(ctx, f.key(flag), f.stamp(), ttl); err != nil {
		return fmt.Errorf("set flag %s: %w", flag, err)
	}
	return nil
}

// IsSet reports whether flag is currently set.
func (f *FlagStore) IsSet(ctx context.Context, flag session.Flag) (bool, error) {
	ok, err := f.cache.Exists(ctx, f.key(flag))
	if err != nil {
		return false, fmt.Errorf("check flag %s: %w", flag, err)
	}
	return ok, nil
}

// Release clears flag.
func (f *FlagStore) Release(ctx context.Context, flag session.Flag) error {
	if _, err := f.cache.Delete(ctx, f.key(flag)); err != nil {
		return fmt.Errorf("release flag %s: %w", flag, err)
	}
	return nil
}

// Consume clears flag and reports whether it was set.
func (f *FlagStore) Consume(ctx context.Context, flag session.Flag) (bool, error) {
	ok, err := f.cache.Delete(ctx, f.key(flag))
	if err != nil {
		return false, fmt.Errorf("consume flag %s: %w", flag, err)
	}
	return ok, nil
}

// ExclusiveGuard runs named critical sections at most once at a time.
// A caller that finds the section busy returns immediately without running it.
// A holder older than the TTL is treated as stale and may be taken over.
type ExclusiveGuard struct {
	flags  *FlagStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	seq     uint64
	holders map[session.Flag]guardHolder
}

type guardHolder struct {
	token uint64
	since time.Time
}

// ExclusiveGuardOptions bundles dependencies for NewExclusiveGuard.
type ExclusiveGuardOptions struct {
	Flags  *FlagStore
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultGuardTTL bounds how long a guard may stay held.
const DefaultGuardTTL = 30 * time.Second

// NewExclusiveGuard creates an ExclusiveGuard. The in-process holder table is authoritative;
// the flag store mirrors it when available.
func NewExclusiveGuard(opts ExclusiveGuardOptions) *ExclusiveGuard {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExclusiveGuard{
		flags:   opts.Flags,
		ttl:     ttl,
		now:     now,
		logger:  logger.With("component", "exclusive_guard"),
		holders: make(map[session.Flag]guardHolder),
	}
}

func (g *ExclusiveGuard) acquire(ctx context.Context, flag session.Flag) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if h, busy := g.holders[flag]; busy {
		if now.Sub(h.since) < g.ttl {
			return 0, false
		}
		g.logger.WarnContext(ctx, "taking over stale guard", "flag", flag, "held_for", now.Sub(h.since))
	}
	g.seq++
	g.holders[flag] = guardHolder{token: g.seq, since: now}
	return g.seq, true
}

func (g *ExclusiveGuard) release(ctx context.Context, flag session.Flag, token uint64) {
	g.mu.Lock()
	h, ok := g.holders[flag]
	mine := ok && h.token == token
	if mine {
		delete(g.holders, flag)
	}
	g.mu.Unlock()

	if mine {
		g.mirrorRelease(ctx, flag)
	}
}

func (g *ExclusiveGuard) mirrorRelease(ctx context.Context, flag session.Flag) {
	if g.flags == nil {
		return
	}
	if err := g.flags.Release(context.WithoutCancel(ctx), flag); err != nil {
		g.logger.DebugContext(ctx, "flag mirror release failed", "flag", flag, "error", err)
	}
}

// Do runs fn while holding flag. It returns ran=false without calling fn when another
// caller holds the flag.
func (g *ExclusiveGuard) Do(ctx context.Context, flag session.Flag, fn func(ctx context.Context) error) (bool, error) {
	token, ok := g.acquire(ctx, flag)
	if !ok {
		return false, nil
	}
	defer g.release(ctx, flag, token)

	if g.flags != nil {
		if err := g.flags.Set(ctx, flag, g.ttl); err != nil {
			g.logger.DebugContext(ctx, "flag mirror set failed", "flag", flag, "error", err)
		}
	}
	return true, fn(ctx)
}

// Held reports whether flag is currently held and not stale.
func (g *ExclusiveGuard) Held(flag session.Flag) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.holders[flag]
	return ok && g.now().Sub(h.since) < g.ttl
}

// Clear force-releases flag. A holder still running keeps going but its own release becomes a no-op.
func (g *ExclusiveGuard) Clear(ctx context.Context, flag session.Flag) {
	g.mu.Lock()
	delete(g.holders, flag)
	g.mu.Unlock()
	g.mirrorRelease(ctx, flag)
}
