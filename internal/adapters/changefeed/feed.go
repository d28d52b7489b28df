// Package changefeed fans identity provider change notifications out to in-process handlers.
package changefeed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/target/sessionsync/internal/domain/session"
	"github.com/target/sessionsync/internal/ports"
)

// Feed delivers each published event to every registered handler, in registration order,
// on the publisher's goroutine. Publish does not serialize concurrent publishers: a sign-out
// published while a sign-in is still being handled reaches handlers immediately.
type Feed struct {
	logger *slog.Logger

	mu       sync.Mutex
	next     uint64
	handlers map[uint64]ports.ChangeHandler
	order    []uint64
}

// New creates an empty Feed.
func New(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		logger:   logger.With("component", "changefeed"),
		handlers: make(map[uint64]ports.ChangeHandler),
	}
}

// Subscribe registers h and returns a func that removes it. The returned func is idempotent.
func (f *Feed) Subscribe(h ports.ChangeHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	f.handlers[id] = h
	f.order = append(f.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Publish delivers ev to the handlers registered at the time of the call. A panicking
// handler is logged and does not stop delivery to the others.
func (f *Feed) Publish(ctx context.Context, ev session.ChangeEvent) {
	for _, h := range f.snapshot() {
		f.deliver(ctx, h, ev)
	}
}

func (f *Feed) snapshot() []ports.ChangeHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := make([]ports.ChangeHandler, 0, len(f.order))
	for _, id := range f.order {
		hs = append(hs, f.handlers[id])
	}
	return hs
}

func (f *Feed) deliver(ctx context.Context, h ports.ChangeHandler, ev session.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.ErrorContext(ctx, "change handler panicked", "event", ev.Type, "panic", r)
		}
	}()
	h(ctx, ev)
}

// Len returns the number of registered handlers.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}
