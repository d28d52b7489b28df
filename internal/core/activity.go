package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/sessionsync/internal/domain/session"
)

// DefaultActivityTTL bounds how long one acquisition protects the session.
const DefaultActivityTTL = 5 * time.Minute

// ActivityGuard tracks in-progress user activities that a sign-in echo must not disrupt.
// Each acquisition expires on its own after the TTL even if release is never called.
type ActivityGuard struct {
	flags  *FlagStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	seq    uint64
	active map[uint64]activity
}

type activity struct {
	name  string
	since time.Time
}

// ActivityGuardOptions bundles dependencies for NewActivityGuard.
type ActivityGuardOptions struct {
	Flags  *FlagStore
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// NewActivityGuard creates an ActivityGuard.
func NewActivityGuard(opts ActivityGuardOptions) *ActivityGuard {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultActivityTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityGuard{
		flags:  opts.Flags,
		ttl:    ttl,
		now:    now,
		logger: logger.With("component", "activity_guard"),
		active: make(map[uint64]activity),
	}
}

// Acquire marks activity name as in progress. The returned release func is idempotent.
func (a *ActivityGuard) Acquire(ctx context.Context, name string) (release func()) {
	a.mu.Lock()
	a.seq++
	id := a.seq
	a.active[id] = activity{name: name, since: a.now()}
	a.mu.Unlock()

	if a.flags != nil {
		if err := a.flags.Set(ctx, session.FlagActivityInProgress, a.ttl); err != nil {
			a.logger.DebugContext(ctx, "activity flag mirror failed", "activity", name, "error", err)
		}
	}
	a.logger.DebugContext(ctx, "activity started", "activity", name)

	var once sync.Once
	return func() {
		once.Do(func() { a.release(context.WithoutCancel(ctx), id) })
	}
}

// Protect runs fn while activity name is held.
func (a *ActivityGuard) Protect(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	release := a.Acquire(ctx, name)
	defer release()
	return fn(ctx)
}

func (a *ActivityGuard) release(ctx context.Context, id uint64) {
	a.mu.Lock()
	act, ok := a.active[id]
	delete(a.active, id)
	idle := a.pruneLocked() == 0
	a.mu.Unlock()

	if !ok {
		return
	}
	a.logger.DebugContext(ctx, "activity finished", "activity", act.name)
	if idle && a.flags != nil {
		if err := a.flags.Release(ctx, session.FlagActivityInProgress); err != nil {
			a.logger.DebugContext(ctx, "activity flag mirror release failed", "error", err)
		}
	}
}

// pruneLocked drops expired acquisitions and returns how many remain. Caller holds a.mu.
func (a *ActivityGuard) pruneLocked() int {
	now := a.now()
	for id, act := range a.active {
		if now.Sub(act.since) >= a.ttl {
			delete(a.active, id)
		}
	}
	return len(a.active)
}

// IsProtected reports whether any unexpired activity is in progress.
func (a *ActivityGuard) IsProtected(context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pruneLocked() > 0
}

// Active returns the names of unexpired activities.
func (a *ActivityGuard) Active() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked()
	names := make([]string, 0, len(a.active))
	for _, act := range a.active {
		names = append(names, act.name)
	}
	return names
}
