// Package retry runs an operation with a bounded attempt budget, a hard per-attempt
// timeout, and exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/target/sessionsync/internal/errors"
)

const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 5 * time.Second
	DefaultBackoffBase    = time.Second
)

// Options configure an Executor. Zero values fall back to the defaults above.
type Options struct {
	Attempts       int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	// Retryable reports whether a failed attempt may be retried. Nil retries every error.
	Retryable func(error) bool
	Logger    *slog.Logger
}

// Executor runs operations under a retry policy. It holds no per-call state and is safe
// for concurrent use; attempts belonging to one Run call never overlap.
type Executor struct {
	attempts  int
	timeout   time.Duration
	base      time.Duration
	retryable func(error) bool
	logger    *slog.Logger
}

// New constructs an Executor.
func New(opts Options) *Executor {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	base := opts.BackoffBase
	if base < 0 {
		base = DefaultBackoffBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		attempts:  attempts,
		timeout:   timeout,
		base:      base,
		retryable: opts.Retryable,
		logger:    logger,
	}
}

// Attempts returns the attempt budget.
func (e *Executor) Attempts() int { return e.attempts }

// AttemptTimeout returns the per-attempt deadline.
func (e *Executor) AttemptTimeout() time.Duration { return e.timeout }

// Budget is the longest a Run call can take: every attempt timing out plus every backoff sleep.
func (e *Executor) Budget() time.Duration {
	total := time.Duration(e.attempts) * e.timeout
	for i := 0; i < e.attempts-1; i++ {
		total += e.base << uint(i)
	}
	return total
}

// Run executes op until it succeeds or the attempt budget is spent. Each attempt races op
// against the attempt timeout; a lost race counts as a Timeout failure. Between attempts it
// sleeps base*2^n. On final failure the last attempt's error is returned unchanged.
func Run[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := runAttempt(ctx, e.timeout, name, attempt, op)
		if err != nil && ctx.Err() == nil && e.retryable != nil && !e.retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     e.base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         e.base<<uint(e.attempts) + time.Millisecond,
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(e.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.DebugContext(ctx, "retrying operation",
				"operation", name,
				"attempt", attempt,
				"next_in", next,
				"error", err,
			)
		}),
	)
}

type attemptResult[T any] struct {
	value T
	err   error
}

func runAttempt[T any](
	ctx context.Context,
	timeout time.Duration,
	name string,
	attempt int,
	op func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, backoff.Permanent(err)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult[T]{err: apperrors.Internalf("%s attempt %d panicked: %v", name, attempt, r)}
			}
		}()
		v, err := op(actx)
		done <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, apperrors.Timeoutf("%s attempt %d timed out after %s", name, attempt, timeout)
		}
		return r.value, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		return zero, apperrors.Timeoutf("%s attempt %d timed out after %s", name, attempt, timeout)
	}
}
