package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sessionsync/internal/core"
	"github.com/target/sessionsync/internal/data"
	"github.com/target/sessionsync/internal/domain/retry"
	"github.com/target/sessionsync/internal/domain/session"
	fakes "github.com/target/sessionsync/internal/mocks/auth"
	"github.com/target/sessionsync/internal/observability/statsd"
	"github.com/target/sessionsync/internal/ports"
	"github.com/target/sessionsync/internal/testutil"
)

type syncFixture struct {
	sync     *Synchronizer
	provider *fakes.FakeIdentityProvider
	lookup   *fakes.FakeRoleLookup
	prov     *fakes.FakeProvisioner
	activity *fakes.StaticActivity
	cache    *core.RoleCache
	flags    *core.FlagStore
	clock    *data.FixedTimeProvider
	sink     *statsd.Recorder
	sleeps   atomic.Int32
}

type fixtureOption func(*syncFixture, *SynchronizerDeps)

func withProvider(p ports.IdentityProvider) fixtureOption {
	return func(_ *syncFixture, d *SynchronizerDeps) { d.Provider = p }
}

func withBackend(repo core.CacheRepository) fixtureOption {
	return func(f *syncFixture, d *SynchronizerDeps) {
		f.cache = core.NewRoleCache(core.RoleCacheOptions{Cache: repo, Now: f.clock.Now})
		f.flags = core.NewFlagStore(core.FlagStoreOptions{Cache: repo, Now: f.clock.Now})
		d.Cache = f.cache
		d.Flags = f.flags
		d.Resolver = NewRoleResolver(RoleResolverOptions{
			Cache:  f.cache,
			Source: RoleSource{Lookup: f.lookup, Provisioner: f.prov},
			Retry:  d.Retry,
		})
	}
}

func newSyncFixture(t *testing.T, current *session.Session, roles map[string]session.Role, opts ...fixtureOption) *syncFixture {
	t.Helper()

	clock := data.NewFixedTimeProvider(testutil.TestTime())
	repo := data.NewMemoryCacheRepo(clock)
	f := &syncFixture{
		provider: fakes.NewFakeIdentityProvider(current),
		lookup:   fakes.NewFakeRoleLookup(roles),
		prov:     &fakes.FakeProvisioner{Role: session.RoleClient},
		activity: &fakes.StaticActivity{},
		clock:    clock,
		sink:     &statsd.Recorder{},
	}
	f.cache = core.NewRoleCache(core.RoleCacheOptions{Cache: repo, Now: clock.Now})
	f.flags = core.NewFlagStore(core.FlagStoreOptions{Cache: repo, Now: clock.Now})

	executor := retry.New(retry.Options{
		Attempts:       3,
		AttemptTimeout: 2 * time.Second,
		BackoffBase:    time.Millisecond,
	})
	deps := SynchronizerDeps{
		Provider: f.provider,
		Resolver: NewRoleResolver(RoleResolverOptions{
			Cache:  f.cache,
			Source: RoleSource{Lookup: f.lookup, Provisioner: f.prov},
			Retry:  executor,
		}),
		Cache:    f.cache,
		Flags:    f.flags,
		Activity: f.activity,
		Retry:    executor,
		Metrics:  f.sink,
		Now:      clock.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps.Add(1)
			clock.AddTime(d)
			return nil
		},
	}
	for _, opt := range opts {
		opt(f, &deps)
	}

	f.sync = NewSynchronizer(SynchronizerOptions{Deps: deps})
	t.Cleanup(f.sync.Close)
	return f
}

func (f *syncFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sync.Start(context.Background()))
}

func (f *syncFixture) suppressed(reason string) int {
	n := 0
	for _, m := range f.sink.Named("session.suppressed") {
		if m.Tags["reason"] == reason {
			n++
		}
	}
	return n
}

func lawyers(ids ...string) map[string]session.Role {
	out := make(map[string]session.Role, len(ids))
	for _, id := range ids {
		out[id] = session.RoleLawyer
	}
	return out
}

type brokenCache struct{}

var errQuota = errors.New("storage quota exceeded")

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error { return errQuota }
func (brokenCache) Get(context.Context, string) ([]byte, error)              { return nil, errQuota }
func (brokenCache) Delete(context.Context, string) (bool, error)             { return false, errQuota }
func (brokenCache) Exists(context.Context, string) (bool, error)             { return false, errQuota }
func (brokenCache) SetTTL(context.Context, string, time.Duration) (bool, error) {
	return false, errQuota
}

func (brokenCache) SetIfNotExists(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errQuota
}
func (brokenCache) Health(context.Context) error { return errQuota }

type failingTerminator struct {
	*fakes.FakeIdentityProvider
}

func (failingTerminator) SignOut(context.Context) error { return errors.New("revoke failed") }

func TestNewSynchronizer_PanicsWithoutRequiredDeps(t *testing.T) {
	t.Parallel()

	cache := core.NewRoleCache(core.RoleCacheOptions{})
	resolver := NewRoleResolver(RoleResolverOptions{Cache: cache, Source: RoleSource{Lookup: fakes.NewFakeRoleLookup(nil)}})
	provider := fakes.NewFakeIdentityProvider(nil)

	assert.Panics(t, func() {
		NewSynchronizer(SynchronizerOptions{Deps: SynchronizerDeps{Resolver: resolver, Cache: cache}})
	})
	assert.Panics(t, func() {
		NewSynchronizer(SynchronizerOptions{Deps: SynchronizerDeps{Provider: provider, Cache: cache}})
	})
	assert.Panics(t, func() {
		NewSynchronizer(SynchronizerOptions{Deps: SynchronizerDeps{Provider: provider, Resolver: resolver}})
	})
}

func TestSynchronizer_MountAuthenticated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1"))

	assert.Equal(t, session.StateUninitialized, f.sync.State())
	assert.False(t, f.sync.Snapshot().Ready)

	f.start(t)

	snap := f.sync.Snapshot()
	require.True(t, snap.Ready)
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "u1", snap.Identity.ID)
	assert.Equal(t, session.RoleLawyer, snap.Role)
	assert.False(t, snap.Degraded)
	assert.True(t, f.sync.IsAuthenticated())
	assert.Equal(t, session.StateAuthenticated, f.sync.State())
	require.NotNil(t, f.sync.CurrentSession())
	assert.Equal(t, "u1", f.sync.CurrentSession().Identity.ID)

	last, ok := f.cache.LastKnown(ctx)
	require.True(t, ok)
	assert.Equal(t, session.StatusAuthenticated, last.Status)
	assert.Equal(t, "u1", last.IdentityID)
	assert.True(t, testutil.TestTime().Equal(last.ObservedAt))

	transitions := f.sink.Named("session.transition")
	require.Len(t, transitions, 1)
	assert.Equal(t, "authenticated", transitions[0].Tags["to"])
	assert.Equal(t, "mount", transitions[0].Tags["trigger"])
	assert.Equal(t, 1, f.provider.Subscribers())
}

func TestSynchronizer_MountWithoutSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, nil, nil)
	f.start(t)

	snap := f.sync.Snapshot()
	assert.True(t, snap.Ready)
	assert.Nil(t, snap.Identity)
	assert.False(t, f.sync.IsAuthenticated())
	assert.Equal(t, session.StateUnauthenticated, f.sync.State())
	assert.Equal(t, 1, f.provider.Calls())
	assert.Zero(t, f.sleeps.Load())

	last, ok := f.cache.LastKnown(ctx)
	require.True(t, ok)
	assert.Equal(t, session.StatusUnauthenticated, last.Status)
}

func TestSynchronizer_ExpiredSessionCountsAsAbsent(t *testing.T) {
	t.Parallel()
	expired := testutil.NewSession("u1").WithExpiry(testutil.TestTime().Add(-time.Minute)).Build()
	f := newSyncFixture(t, expired, lawyers("u1"))
	f.start(t)

	assert.False(t, f.sync.IsAuthenticated())
	assert.Zero(t, f.lookup.Calls())
}

func TestSynchronizer_MountTransientAbsenceRetriesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name       string
		second     *session.Session
		wantAuthed bool
	}{
		{name: "session reappears", second: testutil.NewSession("u1").Build(), wantAuthed: true},
		{name: "session still missing", second: nil, wantAuthed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newSyncFixture(t, nil, lawyers("u1"))
			f.cache.SetLastKnown(ctx, session.LastKnownState{
				Status:     session.StatusAuthenticated,
				IdentityID: "u1",
				ObservedAt: testutil.TestTime().Add(-30 * time.Second),
			})

			var calls atomic.Int32
			f.provider.GetFunc = func(context.Context) (*session.Session, error) {
				if calls.Add(1) == 1 {
					return nil, nil
				}
				return tt.second, nil
			}

			f.start(t)

			assert.Equal(t, int32(2), calls.Load())
			assert.Equal(t, int32(1), f.sleeps.Load())
			assert.Equal(t, tt.wantAuthed, f.sync.IsAuthenticated())
			assert.True(t, f.sync.Snapshot().Ready)
			assert.Len(t, f.sink.Named("session.recovery"), 1)
		})
	}
}

func TestSynchronizer_MountAbsenceOutsideTransientWindowIsTrusted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, nil, lawyers("u1"))
	f.cache.SetLastKnown(ctx, session.LastKnownState{
		Status:     session.StatusAuthenticated,
		IdentityID: "u1",
		ObservedAt: testutil.TestTime().Add(-2 * time.Minute),
	})

	f.start(t)

	assert.False(t, f.sync.IsAuthenticated())
	assert.Equal(t, 1, f.provider.Calls())
	assert.Zero(t, f.sleeps.Load())
}

func TestSynchronizer_RecoveryWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		lastAuthAgo  time.Duration
		cacheRole    bool
		wantAuthed   bool
		wantRecovery string
	}{
		{name: "30 minutes ago with cached role", lastAuthAgo: 30 * time.Minute, cacheRole: true, wantAuthed: true, wantRecovery: "degraded"},
		{name: "2 hours ago", lastAuthAgo: 2 * time.Hour, cacheRole: true, wantAuthed: false, wantRecovery: "logged_out"},
		{name: "30 minutes ago without cached role", lastAuthAgo: 30 * time.Minute, cacheRole: false, wantAuthed: false, wantRecovery: "logged_out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newSyncFixture(t, nil, nil)
			observed := testutil.TestTime().Add(-tt.lastAuthAgo)
			f.cache.SetLastKnown(ctx, session.LastKnownState{
				Status:     session.StatusAuthenticated,
				IdentityID: "u1",
				Email:      "u1@example.com",
				ObservedAt: observed,
			})
			if tt.cacheRole {
				f.cache.Put(ctx, "u1", session.RoleAdmin)
			}
			f.provider.SetError(errors.New("dial tcp: connection refused"))

			f.start(t)

			snap := f.sync.Snapshot()
			require.True(t, snap.Ready)
			assert.Equal(t, 3, f.provider.Calls())
			assert.Equal(t, tt.wantAuthed, snap.IsAuthenticated())
			if tt.wantAuthed {
				assert.Equal(t, "u1", snap.Identity.ID)
				assert.Equal(t, "u1@example.com", snap.Identity.Email)
				assert.Equal(t, session.RoleAdmin, snap.Role)
				assert.True(t, snap.Degraded)
				assert.Nil(t, f.sync.CurrentSession())
			}

			recoveries := f.sink.Named("session.recovery")
			require.Len(t, recoveries, 1)
			assert.Equal(t, tt.wantRecovery, recoveries[0].Tags["outcome"])

			validations := f.sink.Named("session.validation.count")
			require.Len(t, validations, 1)
			assert.Equal(t, "error", validations[0].Tags["result"])
			assert.Equal(t, "provider_unavailable", validations[0].Tags["error_class"])

			// Failure paths never rewrite the last-known state.
			last, ok := f.cache.LastKnown(ctx)
			require.True(t, ok)
			assert.True(t, observed.Equal(last.ObservedAt))
			assert.Equal(t, session.StatusAuthenticated, last.Status)
		})
	}
}

func TestSynchronizer_TerminalReadinessWhenEverythingFails(t *testing.T) {
	t.Parallel()
	f := newSyncFixture(t, nil, nil, withBackend(brokenCache{}))
	f.provider.SetError(errors.New("provider down"))
	f.lookup.SetError("u1", errors.New("lookup down"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.sync.Start(context.Background()))
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("mount validation did not finish")
	}

	snap := f.sync.Snapshot()
	assert.True(t, snap.Ready)
	assert.False(t, snap.IsAuthenticated())
	assert.Equal(t, session.StateUnauthenticated, f.sync.State())
}

func TestSynchronizer_LookupFailureYieldsUnknownRole(t *testing.T) {
	t.Parallel()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), nil, withBackend(brokenCache{}))
	f.lookup.SetError("u1", errors.New("profile store down"))

	f.start(t)

	snap := f.sync.Snapshot()
	assert.True(t, snap.Ready)
	assert.True(t, snap.IsAuthenticated())
	assert.Equal(t, session.RoleUnknown, snap.Role)
	assert.Equal(t, 3, f.lookup.Calls())
}

func TestSynchronizer_ProviderPanicResolvesToUnauthenticated(t *testing.T) {
	t.Parallel()
	f := newSyncFixture(t, nil, nil)
	f.provider.GetFunc = func(context.Context) (*session.Session, error) {
		panic("unexpected nil pointer in provider")
	}

	f.start(t)

	snap := f.sync.Snapshot()
	assert.True(t, snap.Ready)
	assert.False(t, snap.IsAuthenticated())
}

func TestSynchronizer_ProvisionsNewProfile(t *testing.T) {
	t.Parallel()
	f := newSyncFixture(t, testutil.NewSession("fresh").Build(), nil)
	f.start(t)

	assert.Equal(t, session.RoleClient, f.sync.Snapshot().Role)
	assert.Equal(t, 1, f.prov.Calls())
}

func TestSynchronizer_SlowProvisioningIsAttemptedOnce(t *testing.T) {
	t.Parallel()
	prov := &slowProvisioner{}
	f := newSyncFixture(t, testutil.NewSession("u9").Build(), nil,
		func(f *syncFixture, d *SynchronizerDeps) {
			d.Retry = retry.New(retry.Options{Attempts: 3, AttemptTimeout: 20 * time.Millisecond})
			d.Resolver = NewRoleResolver(RoleResolverOptions{
				Cache:  f.cache,
				Source: RoleSource{Lookup: f.lookup, Provisioner: prov},
				Retry:  d.Retry,
			})
		})

	f.start(t)

	snap := f.sync.Snapshot()
	assert.True(t, snap.IsAuthenticated())
	assert.Equal(t, session.RoleUnknown, snap.Role)
	assert.Equal(t, 1, prov.Calls())
	assert.Equal(t, 1, f.lookup.Calls())
}

func TestSynchronizer_RecheckIsIdempotentWithinCooldown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1"))
	f.start(t)
	require.Equal(t, 1, f.provider.Calls())

	updates, ch := f.sync.Subscribe()
	defer updates()
	<-ch // initial value

	before := f.sync.Snapshot()
	ran, err := f.sync.Recheck(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	for i := 0; i < 9; i++ {
		f.clock.AddTime(50 * time.Millisecond)
		ran, err := f.sync.Recheck(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
	}

	assert.Equal(t, 2, f.provider.Calls())
	assert.Equal(t, before, f.sync.Snapshot())
	assert.Equal(t, 9, f.suppressed("cooldown"))
	select {
	case snap := <-ch:
		t.Fatalf("unexpected publication %+v", snap)
	default:
	}

	f.clock.AddTime(time.Second)
	ran, err = f.sync.Recheck(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 3, f.provider.Calls())
}

func TestSynchronizer_RecheckWhileValidatingIsDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1"))
	f.start(t)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	current := testutil.NewSession("u1").Build()
	f.provider.GetFunc = func(context.Context) (*session.Session, error) {
		entered <- struct{}{}
		<-release
		return current, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ran, err := f.sync.Recheck(ctx)
		assert.NoError(t, err)
		assert.True(t, ran)
	}()
	<-entered

	// The previously published snapshot stays visible while validating.
	assert.Equal(t, session.StateValidating, f.sync.State())
	assert.True(t, f.sync.Snapshot().IsAuthenticated())

	f.clock.AddTime(2 * time.Second)
	ran, err := f.sync.Recheck(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, f.suppressed("in_progress"))

	close(release)
	wg.Wait()
	assert.Equal(t, session.StateAuthenticated, f.sync.State())
}

func TestSynchronizer_SignOutWinsOverInFlightSignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, nil, lawyers("u1"))
	f.start(t)
	require.False(t, f.sync.IsAuthenticated())

	f.lookup.Gate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))
	}()
	require.Eventually(t, func() bool { return f.lookup.Calls() == 1 }, time.Second, time.Millisecond)

	f.provider.Emit(ctx, testutil.SignedOut())
	close(f.lookup.Gate)
	<-done

	snap := f.sync.Snapshot()
	assert.True(t, snap.Ready)
	assert.False(t, snap.IsAuthenticated())
	assert.Equal(t, 1, f.suppressed("stale"))

	last, ok := f.cache.LastKnown(ctx)
	require.True(t, ok)
	assert.Equal(t, session.StatusUnauthenticated, last.Status)
}

// gatedActivity blocks IsProtected until release is closed.
type gatedActivity struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedActivity) IsProtected(ctx context.Context) bool {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return false
}

func TestSynchronizer_SignOutWinsOverSignInAwaitingActivityCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	activity := &gatedActivity{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1", "u2"),
		func(_ *syncFixture, d *SynchronizerDeps) { d.Activity = activity })
	f.start(t)
	require.True(t, f.sync.IsAuthenticated())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.provider.Emit(ctx, testutil.NewSession("u2").Event(session.EventSignedIn))
	}()
	<-activity.entered

	f.provider.Emit(ctx, testutil.SignedOut())
	require.False(t, f.sync.IsAuthenticated())
	close(activity.release)
	<-done

	snap := f.sync.Snapshot()
	assert.True(t, snap.Ready)
	assert.False(t, snap.IsAuthenticated())
	assert.Equal(t, 1, f.suppressed("stale"))

	last, ok := f.cache.LastKnown(ctx)
	require.True(t, ok)
	assert.Equal(t, session.StatusUnauthenticated, last.Status)
}

func TestSynchronizer_SignOutWinsOverInFlightValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, nil, lawyers("u1"))

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.provider.GetFunc = func(context.Context) (*session.Session, error) {
		entered <- struct{}{}
		<-release
		return testutil.NewSession("u1").Build(), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.sync.Start(context.Background()))
	}()
	<-entered

	f.sync.HandleProviderEvent(ctx, testutil.SignedOut())
	close(release)
	<-done

	assert.False(t, f.sync.IsAuthenticated())
	assert.True(t, f.sync.Snapshot().Ready)
}

func TestSynchronizer_SignedOutKeepsRoleCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1"))
	f.start(t)
	f.sync.NotifyVisible(ctx)

	f.provider.Emit(ctx, testutil.SignedOut())

	assert.False(t, f.sync.IsAuthenticated())
	assert.Nil(t, f.sync.CurrentSession())
	_, ok := f.cache.Get(ctx, "u1")
	assert.True(t, ok, "role cache survives a provider sign-out")

	set, err := f.flags.IsSet(ctx, session.FlagSkipNextAuthChange)
	require.NoError(t, err)
	assert.False(t, set)

	last, ok := f.cache.LastKnown(ctx)
	require.True(t, ok)
	assert.Equal(t, session.StatusUnauthenticated, last.Status)
}

func TestSynchronizer_VisibilityEchoSuppression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1"))
	f.start(t)
	require.Equal(t, 1, f.lookup.Calls())

	// A real re-resolution would now observe a different role.
	f.cache.Invalidate(ctx, "u1")
	f.lookup.SetRole("u1", session.RoleAdmin)

	f.sync.NotifyVisible(ctx)

	f.clock.AddTime(1500 * time.Millisecond)
	f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))
	assert.Equal(t, session.RoleLawyer, f.sync.Snapshot().Role)
	assert.Equal(t, 1, f.lookup.Calls())
	assert.Equal(t, 1, f.suppressed("visibility_echo"))

	f.clock.AddTime(1500 * time.Millisecond)
	f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))
	assert.Equal(t, session.RoleAdmin, f.sync.Snapshot().Role)
	assert.Equal(t, 2, f.lookup.Calls())
}

func TestSynchronizer_FocusArmsSuppressionToo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1"))
	f.start(t)
	f.cache.Invalidate(ctx, "u1")

	f.sync.NotifyFocused(ctx)
	f.clock.AddTime(time.Second)
	f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))

	assert.Equal(t, 1, f.lookup.Calls())
	assert.Equal(t, 1, f.suppressed("visibility_echo"))
}

func TestSynchronizer_VisibilityDoesNotSuppressDifferentIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1", "u2"))
	f.start(t)

	f.sync.NotifyVisible(ctx)
	f.clock.AddTime(500 * time.Millisecond)
	f.provider.Emit(ctx, testutil.NewSession("u2").Event(session.EventSignedIn))

	snap := f.sync.Snapshot()
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "u2", snap.Identity.ID)
	assert.Equal(t, 1, f.provider.Calls(), "visibility never triggers validation")
}

func TestSynchronizer_ActivityProtection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1", "u2"))
	f.start(t)

	f.activity.Set(true)
	f.provider.Emit(ctx, testutil.NewSession("u2").Event(session.EventSignedIn))
	assert.Equal(t, "u1", f.sync.Snapshot().Identity.ID)
	assert.Equal(t, 1, f.suppressed("activity_protected"))

	// An explicit recheck bypasses activity protection.
	f.provider.SetSession(testutil.NewSession("u2").Build())
	ran, err := f.sync.Recheck(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, "u2", f.sync.Snapshot().Identity.ID)
}

func TestSynchronizer_ActivityProtectionDoesNotBlockFirstSignIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, nil, lawyers("u1"))
	f.start(t)

	f.activity.Set(true)
	f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))

	assert.True(t, f.sync.IsAuthenticated())
	last, ok := f.cache.LastKnown(ctx)
	require.True(t, ok)
	assert.Equal(t, session.StatusAuthenticated, last.Status)
}

func TestSynchronizer_ConcurrentSignInsRunOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, nil, lawyers("u1"))
	f.start(t)

	f.lookup.Gate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))
	}()
	require.Eventually(t, func() bool { return f.lookup.Calls() == 1 }, time.Second, time.Millisecond)

	f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))
	assert.Equal(t, 1, f.suppressed("in_progress"))

	close(f.lookup.Gate)
	<-done
	assert.True(t, f.sync.IsAuthenticated())
	assert.Equal(t, 1, f.lookup.Calls())
}

func TestSynchronizer_TokenRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").WithAccessToken("tok-0").Build(), lawyers("u1"))
	f.start(t)

	unsub, ch := f.sync.Subscribe()
	defer unsub()
	<-ch
	transitions := len(f.sink.Named("session.transition"))

	f.provider.Emit(ctx, testutil.NewSession("u1").WithAccessToken("tok-1").Event(session.EventTokenRefreshed))
	assert.Equal(t, "tok-1", f.sync.CurrentSession().AccessToken)

	// A second refresh inside the 5s cooldown is dropped.
	f.clock.AddTime(4 * time.Second)
	f.provider.Emit(ctx, testutil.NewSession("u1").WithAccessToken("tok-2").Event(session.EventTokenRefreshed))
	assert.Equal(t, "tok-1", f.sync.CurrentSession().AccessToken)
	assert.Equal(t, 1, f.suppressed("cooldown"))

	f.clock.AddTime(time.Second)
	f.provider.Emit(ctx, testutil.NewSession("u1").WithAccessToken("tok-3").Event(session.EventTokenRefreshed))
	assert.Equal(t, "tok-3", f.sync.CurrentSession().AccessToken)

	// Refreshes never resolve roles or publish.
	assert.Equal(t, 1, f.lookup.Calls())
	assert.Len(t, f.sink.Named("session.transition"), transitions)
	select {
	case snap := <-ch:
		t.Fatalf("unexpected publication %+v", snap)
	default:
	}
}

func TestSynchronizer_TokenRefreshForOtherIdentityIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").WithAccessToken("tok-0").Build(), lawyers("u1"))
	f.start(t)

	f.provider.Emit(ctx, testutil.NewSession("u2").WithAccessToken("tok-x").Event(session.EventTokenRefreshed))
	assert.Equal(t, "tok-0", f.sync.CurrentSession().AccessToken)
	assert.Equal(t, 1, f.suppressed("identity_mismatch"))
}

func TestSynchronizer_SignOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1"))
	f.start(t)

	require.NoError(t, f.sync.SignOut(ctx))

	assert.False(t, f.sync.IsAuthenticated())
	assert.Equal(t, 1, f.provider.SignOuts())
	_, ok := f.cache.Get(ctx, "u1")
	assert.False(t, ok, "explicit sign-out purges the role cache")

	// The provider no longer has a session, so a recheck confirms the sign-out.
	f.clock.AddTime(2 * time.Second)
	ran, err := f.sync.Recheck(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, f.sync.IsAuthenticated())
}

func TestSynchronizer_SignOutSurvivesProviderFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := fakes.NewFakeIdentityProvider(testutil.NewSession("u1").Build())
	f := newSyncFixture(t, nil, lawyers("u1"), withProvider(failingTerminator{inner}))
	f.start(t)
	require.True(t, f.sync.IsAuthenticated())

	err := f.sync.SignOut(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminate provider session")
	assert.False(t, f.sync.IsAuthenticated())
}

func TestSynchronizer_Subscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, nil, lawyers("u1"))

	unsub, ch := f.sync.Subscribe()
	select {
	case <-ch:
		t.Fatal("no snapshot is delivered before the first publication")
	default:
	}

	f.start(t)
	first := <-ch
	assert.True(t, first.Ready)
	assert.False(t, first.IsAuthenticated())

	// Two publications without a read: only the latest is kept.
	f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))
	f.provider.Emit(ctx, testutil.SignedOut())
	latest := <-ch
	assert.False(t, latest.IsAuthenticated())
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", extra)
	default:
	}

	// Published snapshots are copies.
	f.provider.Emit(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))
	got := <-ch
	got.Identity.ID = "mutated"
	assert.Equal(t, "u1", f.sync.Snapshot().Identity.ID)

	unsub()
	_, open := <-ch
	assert.False(t, open)
	unsub()
}

func TestSynchronizer_LateSubscriberGetsCurrentSnapshot(t *testing.T) {
	t.Parallel()
	f := newSyncFixture(t, testutil.NewSession("u1").Build(), lawyers("u1"))
	f.start(t)

	unsub, ch := f.sync.Subscribe()
	defer unsub()
	snap := <-ch
	assert.True(t, snap.IsAuthenticated())
}

func TestSynchronizer_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSyncFixture(t, nil, nil)
	f.start(t)

	assert.ErrorIs(t, f.sync.Start(ctx), ErrAlreadyStarted)

	_, ch := f.sync.Subscribe()
	<-ch
	f.sync.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, f.provider.Subscribers())

	_, err := f.sync.Recheck(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.sync.SignOut(ctx), ErrClosed)
	assert.ErrorIs(t, f.sync.Start(ctx), ErrClosed)

	_, late := f.sync.Subscribe()
	_, open = <-late
	assert.False(t, open)

	// Events after Close are ignored.
	f.sync.HandleProviderEvent(ctx, testutil.NewSession("u1").Event(session.EventSignedIn))
	assert.False(t, f.sync.IsAuthenticated())
	f.sync.Close()
}
