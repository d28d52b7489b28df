// Package sweeper periodically removes expired entries from cache backends that only
// expire entries lazily on read.
package sweeper

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/target/sessionsync/internal/core"
	obserrors "github.com/target/sessionsync/internal/observability/errors"
	"github.com/target/sessionsync/internal/observability/statsd"
)

// DefaultInterval is used when RunnerOptions.Interval is not positive.
const DefaultInterval = 10 * time.Minute

// Runner runs the expiry sweep loop.
type Runner struct {
	purger   core.ExpiredPurger
	interval time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Purger   core.ExpiredPurger // Required
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  statsd.Sink
}

// NewRunner creates a sweep runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Purger == nil {
		return nil, errors.New("purger is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		purger:   opts.Purger,
		interval: opts.Interval,
		logger:   opts.Logger.With("component", "cache_sweeper"),
		metrics:  opts.Metrics,
	}, nil
}

// Run sweeps once after a short jitter and then at every interval until ctx is cancelled.
// It returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting cache sweeper", "interval", r.interval)
	r.waitWithJitter(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "cache sweeper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce purges expired entries and reports how many were removed. Errors are logged
// and counted, never returned.
func (r *Runner) SweepOnce(ctx context.Context) int64 {
	start := time.Now()
	n, err := r.purger.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.WarnContext(ctx, "cache sweep failed", "error", err)
		}
		r.emit(0, time.Since(start), err)
		return 0
	}
	if n > 0 {
		r.logger.DebugContext(ctx, "cache sweep removed expired entries", "removed", n)
	}
	r.emit(n, time.Since(start), nil)
	return n
}

func (r *Runner) emit(removed int64, d time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	tags := map[string]string{"result": "success"}
	if err != nil {
		tags["result"] = "error"
		tags["error_class"] = obserrors.Classify(err)
	}
	r.metrics.Count("cache.sweep.removed", removed, tags)
	r.metrics.Timing("cache.sweep", d, tags)
}

// waitWithJitter delays up to 10% of the interval so co-located agents do not sweep in lockstep.
func (r *Runner) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.interval / 10)
	if maxJitter <= 0 {
		return
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		r.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter
	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
