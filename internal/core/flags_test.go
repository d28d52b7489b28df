package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/sessionsync/internal/data"
	"github.com/target/sessionsync/internal/domain/session"
	"github.com/target/sessionsync/internal/testutil"
	"go.uber.org/mock/gomock"
)

func newTestFlags(t *testing.T) (*FlagStore, *data.FixedTimeProvider) {
	t.Helper()
	clock := data.NewFixedTimeProvider(testutil.TestTime())
	return NewFlagStore(FlagStoreOptions{
		Cache: data.NewMemoryCacheRepo(clock),
		TabID: "tab-1",
		Now:   clock.Now,
	}), clock
}

func TestFlagStore_AcquireAndRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flags, _ := newTestFlags(t)

	ok, err := flags.TryAcquire(ctx, session.FlagAuthChangeInProgress, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = flags.TryAcquire(ctx, session.FlagAuthChangeInProgress, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, flags.Release(ctx, session.FlagAuthChangeInProgress))
	set, err := flags.IsSet(ctx, session.FlagAuthChangeInProgress)
	require.NoError(t, err)
	assert.False(t, set)
}

func TestFlagStore_FlagsExpire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flags, clock := newTestFlags(t)

	require.NoError(t, flags.Set(ctx, session.FlagSkipNextAuthChange, 2*time.Second))
	clock.AddTime(1500 * time.Millisecond)
	set, err := flags.IsSet(ctx, session.FlagSkipNextAuthChange)
	require.NoError(t, err)
	assert.True(t, set)

	clock.AddTime(500 * time.Millisecond)
	set, err = flags.IsSet(ctx, session.FlagSkipNextAuthChange)
	require.NoError(t, err)
	assert.False(t, set)
}

func TestFlagStore_Consume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flags, _ := newTestFlags(t)

	require.NoError(t, flags.Set(ctx, session.FlagSkipNextAuthChange, time.Minute))
	was, err := flags.Consume(ctx, session.FlagSkipNextAuthChange)
	require.NoError(t, err)
	assert.True(t, was)

	was, err = flags.Consume(ctx, session.FlagSkipNextAuthChange)
	require.NoError(t, err)
	assert.False(t, was)
}

func TestFlagStore_TabsAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := data.NewMemoryCacheRepo(nil)
	a := NewFlagStore(FlagStoreOptions{Cache: shared})
	b := NewFlagStore(FlagStoreOptions{Cache: shared})
	require.NotEqual(t, a.TabID(), b.TabID())

	require.NoError(t, a.Set(ctx, session.FlagSessionCheckInProgress, time.Minute))
	set, err := b.IsSet(ctx, session.FlagSessionCheckInProgress)
	require.NoError(t, err)
	assert.False(t, set)
}

func TestFlagStore_BackendErrorsAreWrapped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	repo := NewMockCacheRepository(ctrl)
	boom := errors.New("denied")
	repo.EXPECT().SetIfNotExists(gomock.Any(), "sessionsync:flags:tab-x:auth_change_in_progress", gomock.Any(), time.Second).
		Return(false, boom)

	flags := NewFlagStore(FlagStoreOptions{Cache: repo, TabID: "tab-x"})
	_, err := flags.TryAcquire(ctx, session.FlagAuthChangeInProgress, time.Second)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "acquire flag auth_change_in_progress")
}

func TestExclusiveGuard_SecondCallerReturnsImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	flags, _ := newTestFlags(t)
	guard := NewExclusiveGuard(ExclusiveGuardOptions{Flags: flags})

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ran, err := guard.Do(ctx, session.FlagAuthChangeInProgress, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
		assert.True(t, ran)
		assert.NoError(t, err)
	}()
	<-entered

	set, err := flags.IsSet(ctx, session.FlagAuthChangeInProgress)
	require.NoError(t, err)
	assert.True(t, set, "flag is mirrored while held")

	var calls atomic.Int32
	ran, err := guard.Do(ctx, session.FlagAuthChangeInProgress, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	assert.False(t, ran)
	assert.NoError(t, err)
	assert.Zero(t, calls.Load())

	close(release)
	<-done
	assert.False(t, guard.Held(session.FlagAuthChangeInProgress))
	set, err = flags.IsSet(ctx, session.FlagAuthChangeInProgress)
	require.NoError(t, err)
	assert.False(t, set)
}

func TestExclusiveGuard_ConcurrentBurstRunsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	guard := NewExclusiveGuard(ExclusiveGuardOptions{})

	gate := make(chan struct{})
	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = guard.Do(ctx, session.FlagSessionCheckInProgress, func(context.Context) error {
				ran.Add(1)
				<-gate
				return nil
			})
		}()
	}
	// Let the holder finish only after every goroutine had its chance.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	assert.Equal(t, int32(1), ran.Load())
}

func TestExclusiveGuard_PropagatesError(t *testing.T) {
	t.Parallel()
	guard := NewExclusiveGuard(ExclusiveGuardOptions{})
	boom := errors.New("boom")
	ran, err := guard.Do(context.Background(), session.FlagSessionCheckInProgress, func(context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.False(t, guard.Held(session.FlagSessionCheckInProgress))
}

func TestExclusiveGuard_StaleHolderIsTakenOver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := data.NewFixedTimeProvider(testutil.TestTime())
	guard := NewExclusiveGuard(ExclusiveGuardOptions{TTL: 30 * time.Second, Now: clock.Now})

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = guard.Do(ctx, session.FlagAuthChangeInProgress, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	clock.AddTime(30 * time.Second)
	assert.False(t, guard.Held(session.FlagAuthChangeInProgress))

	ran, err := guard.Do(ctx, session.FlagAuthChangeInProgress, func(context.Context) error {
		// The stale holder finishing must not release this newer holder.
		close(release)
		<-done
		assert.True(t, guard.Held(session.FlagAuthChangeInProgress))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestExclusiveGuard_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	guard := NewExclusiveGuard(ExclusiveGuardOptions{})

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = guard.Do(ctx, session.FlagAuthChangeInProgress, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	guard.Clear(ctx, session.FlagAuthChangeInProgress)
	ran, err := guard.Do(ctx, session.FlagAuthChangeInProgress, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)

	close(release)
	<-done
}
