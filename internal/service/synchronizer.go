package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/target/sessionsync/internal/core"
	"github.com/target/sessionsync/internal/domain/retry"
	"github.com/target/sessionsync/internal/domain/session"
	"github.com/target/sessionsync/internal/observability/metrics"
	"github.com/target/sessionsync/internal/observability/statsd"
	"github.com/target/sessionsync/internal/ports"
)

const (
	// DefaultTransientWindow is how recently an authenticated observation must have been
	// recorded for a missing session to be retried once instead of trusted.
	DefaultTransientWindow = 60 * time.Second
	// DefaultTransientRetryDelay is the pause before that single retry.
	DefaultTransientRetryDelay = time.Second
	// DefaultRecoveryWindow bounds how old the last authenticated observation may be for
	// degraded recovery from cached data.
	DefaultRecoveryWindow = time.Hour
)

var (
	// ErrAlreadyStarted is returned by Start when called twice.
	ErrAlreadyStarted = errors.New("synchronizer already started")
	// ErrClosed is returned by operations invoked after Close.
	ErrClosed = errors.New("synchronizer closed")
)

// SynchronizerDeps groups the collaborators of a Synchronizer.
type SynchronizerDeps struct {
	Provider ports.IdentityProvider   // Required
	Resolver *RoleResolver            // Required
	Cache    *core.RoleCache          // Required: last-known state and recovery roles
	Flags    *core.FlagStore          // Optional: mirrors guard flags for other components
	Guard    *core.ExclusiveGuard     // Optional: built from Flags when nil
	Activity ports.ActivityProtection // Optional
	Retry    *retry.Executor          // Optional: defaults to 3 attempts, 5s each, 1s backoff base
	Metrics  statsd.Sink              // Optional
	Now      func() time.Time         // Optional
	// Sleep waits before the transient retry. Optional; tests replace it to move a fake clock.
	Sleep func(ctx context.Context, d time.Duration) error
}

// SynchronizerConfig holds the timing policy.
type SynchronizerConfig struct {
	Cooldowns           session.CooldownWindows
	TransientWindow     time.Duration
	TransientRetryDelay time.Duration
	RecoveryWindow      time.Duration
	GuardTTL            time.Duration
}

// SynchronizerOptions groups dependencies for Synchronizer.
type SynchronizerOptions struct {
	Deps   SynchronizerDeps
	Config SynchronizerConfig
	Logger *slog.Logger // Optional
}

// Synchronizer keeps the published {identity, role, ready} snapshot consistent with the
// identity provider while signals arrive concurrently.
//
// Every admitted signal takes a ticket from a monotonic sequence and a result is published
// only when its ticket is newer than the last published one, so a slow validation can never
// overwrite state observed after it started. The mutex is never held across a collaborator call.
type Synchronizer struct {
	provider   ports.IdentityProvider
	terminator ports.SessionTerminator
	resolver   *RoleResolver
	cache      *core.RoleCache
	flags      *core.FlagStore
	guard      *core.ExclusiveGuard
	activity   ports.ActivityProtection
	retry      *retry.Executor
	once       *retry.Executor
	metrics    statsd.Sink
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	cooldown   *session.Cooldown
	cfg        SynchronizerConfig
	logger     *slog.Logger

	mu          sync.Mutex
	snap        session.Snapshot
	current     *session.Session
	ticket      uint64
	published   uint64
	inflight    int
	started     bool
	closed      bool
	unsubscribe func()
	subs        map[int]chan session.Snapshot
	nextSub     int

	persistMu sync.Mutex
	persisted uint64
}

// NewSynchronizer constructs a Synchronizer. Call Start to subscribe to the provider and
// run the mount validation.
func NewSynchronizer(opts SynchronizerOptions) *Synchronizer {
	deps := opts.Deps
	if deps.Provider == nil {
		panic("IdentityProvider is required")
	}
	if deps.Resolver == nil {
		panic("RoleResolver is required")
	}
	if deps.Cache == nil {
		panic("RoleCache is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "synchronizer")
	if deps.Flags != nil {
		logger = logger.With("tab_id", deps.Flags.TabID())
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	cfg := opts.Config
	if cfg.Cooldowns == nil {
		cfg.Cooldowns = session.DefaultCooldownWindows()
	}
	if cfg.TransientWindow <= 0 {
		cfg.TransientWindow = DefaultTransientWindow
	}
	if cfg.TransientRetryDelay <= 0 {
		cfg.TransientRetryDelay = DefaultTransientRetryDelay
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = DefaultRecoveryWindow
	}

	executor := deps.Retry
	if executor == nil {
		executor = retry.New(retry.Options{Logger: logger})
	}

	guard := deps.Guard
	if guard == nil {
		guard = core.NewExclusiveGuard(core.ExclusiveGuardOptions{
			Flags:  deps.Flags,
			TTL:    cfg.GuardTTL,
			Now:    now,
			Logger: logger,
		})
	}

	s := &Synchronizer{
		provider: deps.Provider,
		resolver: deps.Resolver,
		cache:    deps.Cache,
		flags:    deps.Flags,
		guard:    guard,
		activity: deps.Activity,
		retry:    executor,
		once: retry.New(retry.Options{
			Attempts:       1,
			AttemptTimeout: executor.AttemptTimeout(),
			Logger:         logger,
		}),
		metrics:  deps.Metrics,
		now:      now,
		sleep:    sleep,
		cooldown: session.NewCooldown(cfg.Cooldowns),
		cfg:      cfg,
		logger:   logger,
		subs:     make(map[int]chan session.Snapshot),
	}
	if t, ok := deps.Provider.(ports.SessionTerminator); ok {
		s.terminator = t
	}
	return s
}

// Start subscribes to provider notifications and performs the mount validation. It returns
// once the first snapshot has been published.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	unsub := s.provider.OnChange(s.HandleProviderEvent)
	s.mu.Lock()
	s.unsubscribe = unsub
	s.mu.Unlock()

	s.validate(ctx, session.TriggerMount)
	return nil
}

// Close unsubscribes from the provider and closes every subscriber channel.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	for id, ch := range s.subs {
		drainAndClose(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Snapshot returns a copy of the published snapshot.
func (s *Synchronizer) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// IsAuthenticated reports whether the published snapshot carries an identity and a role.
func (s *Synchronizer) IsAuthenticated() bool {
	return s.Snapshot().IsAuthenticated()
}

// State returns the current state machine position. While a validation is running the
// state is Validating but Snapshot keeps returning the previously published value.
func (s *Synchronizer) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Synchronizer) stateLocked() session.State {
	switch {
	case s.inflight > 0:
		return session.StateValidating
	case !s.snap.Ready && !s.started:
		return session.StateUninitialized
	default:
		return session.StateOf(s.snap)
	}
}

// CurrentSession returns a copy of the live session backing the snapshot, or nil when the
// snapshot is unauthenticated or was produced by degraded recovery.
func (s *Synchronizer) CurrentSession() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(s.current)
}

// Subscribe returns a channel carrying published snapshots. Delivery is latest-wins: a slow
// reader only ever sees the most recent value. The current snapshot is delivered immediately
// once ready.
func (s *Synchronizer) Subscribe() (func(), <-chan session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan session.Snapshot, 1)
	if s.closed {
		close(ch)
		return func() {}, ch
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	if s.snap.Ready {
		offer(ch, s.snap.Clone())
	}

	unsub := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			drainAndClose(c)
		}
	}
	return unsub, ch
}

// nextTicket reserves the next position in the observation order.
func (s *Synchronizer) nextTicket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticket++
	return s.ticket
}

// begin reserves a ticket and enters Validating.
func (s *Synchronizer) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticket++
	s.inflight++
	return s.ticket
}

// enter marks work under an already reserved ticket as in flight.
func (s *Synchronizer) enter() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
}

func (s *Synchronizer) end() {
	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
}

// publish makes snap the published state unless a result with a newer ticket has already
// been published. Subscribers are notified only when the snapshot actually changed.
func (s *Synchronizer) publish(
	ctx context.Context,
	ticket uint64,
	snap session.Snapshot,
	trigger session.Trigger,
	live *session.Session,
) bool {
	snap.Ready = true

	s.mu.Lock()
	if ticket <= s.published {
		latest := s.published
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "discarding stale session result",
			"trigger", trigger, "ticket", ticket, "published_ticket", latest)
		metrics.EmitSuppressed(s.metrics, string(trigger), "stale")
		return false
	}

	from := s.stateLocked()
	to := session.StateOf(snap)
	if !from.CanTransition(to) {
		s.logger.WarnContext(ctx, "unexpected session transition",
			"error", &session.ErrInvalidTransition{From: from, To: to})
	}

	s.published = ticket
	changed := !s.snap.Equal(snap)
	s.snap = snap.Clone()
	s.current = cloneSession(live)
	if changed {
		for _, ch := range s.subs {
			offer(ch, snap.Clone())
		}
	}
	s.mu.Unlock()

	if changed {
		attrs := []any{"state", to, "trigger", trigger, "role", snap.Role, "degraded", snap.Degraded}
		if snap.Identity != nil {
			attrs = append(attrs, "identity_id", snap.Identity.ID)
		}
		s.logger.InfoContext(ctx, "session state published", attrs...)
		metrics.EmitTransition(s.metrics, metrics.Transition{
			From:    string(from),
			To:      string(to),
			Trigger: string(trigger),
		})
	}
	return true
}

// persist records the last observed authentication state. Writes are ordered by ticket so a
// slower writer cannot replace a newer observation.
func (s *Synchronizer) persist(ctx context.Context, ticket uint64, state session.LastKnownState) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if ticket < s.persisted {
		return
	}
	s.persisted = ticket
	if state.ObservedAt.IsZero() {
		state.ObservedAt = s.now()
	}
	s.cache.SetLastKnown(ctx, state)
}

func (s *Synchronizer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func cloneSession(in *session.Session) *session.Session {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}

// offer delivers snap on a buffered channel of size one, replacing any unread value.
func offer(ch chan session.Snapshot, snap session.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// drainAndClose removes any buffered snapshot before closing the channel so receivers
// observe a closed channel immediately.
func drainAndClose(ch chan session.Snapshot) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
