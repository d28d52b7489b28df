package session

import (
	"sync"
	"time"
)

// Signal names a class of equivalent signals sharing one cooldown window.
type Signal string

const (
	SignalTokenRefresh Signal = "token_refresh"
	SignalRecheck      Signal = "recheck"
	SignalVisibility   Signal = "visibility"
)

// CooldownWindows maps each signal kind to its minimum spacing.
type CooldownWindows map[Signal]time.Duration

// DefaultCooldownWindows returns the reference windows.
func DefaultCooldownWindows() CooldownWindows {
	return CooldownWindows{
		SignalTokenRefresh: 5 * time.Second,
		SignalRecheck:      time.Second,
		SignalVisibility:   2 * time.Second,
	}
}

// Cooldown suppresses bursts of equivalent signals. It keeps one lastAcceptedAt
// timestamp per signal kind; a signal is accepted only once its window has elapsed.
// It is safe for concurrent use.
type Cooldown struct {
	mu       sync.Mutex
	windows  CooldownWindows
	accepted map[Signal]time.Time
}

// NewCooldown constructs a Cooldown. Signals without a configured window are never suppressed.
func NewCooldown(windows CooldownWindows) *Cooldown {
	w := make(CooldownWindows, len(windows))
	for k, v := range windows {
		w[k] = v
	}
	return &Cooldown{
		windows:  w,
		accepted: make(map[Signal]time.Time),
	}
}

// ShouldProceed returns false while now is inside the signal's cooldown window.
// Otherwise it records now as the signal's lastAcceptedAt and returns true.
func (c *Cooldown) ShouldProceed(sig Signal, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.accepted[sig]; ok && !now.Before(last) {
		if now.Sub(last) < c.windows[sig] {
			return false
		}
	}
	c.accepted[sig] = now
	return true
}

// Mark records now as the signal's lastAcceptedAt unconditionally. It opens a window
// that Within checks without gating the marking signal itself.
func (c *Cooldown) Mark(sig Signal, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted[sig] = now
}

// Within reports whether now falls inside the window opened by the last accepted signal,
// without recording anything.
func (c *Cooldown) Within(sig Signal, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.accepted[sig]
	if !ok || now.Before(last) {
		return false
	}
	return now.Sub(last) < c.windows[sig]
}

// LastAccepted returns the time the signal was last accepted.
func (c *Cooldown) LastAccepted(sig Signal) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.accepted[sig]
	return t, ok
}

// Window returns the configured window for sig.
func (c *Cooldown) Window(sig Signal) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windows[sig]
}

// Reset forgets every recorded signal.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted = make(map[Signal]time.Time)
}
