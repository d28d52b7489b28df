package oidc

import (
	"context"
	"sync"
	"time"
)

// defaultStateTTL bounds how long a started login may take to come back through the callback.
const defaultStateTTL = 10 * time.Minute

// StateStore keeps the nonce of every login started by Begin until Complete consumes it.
// Take must remove the entry so a state can be redeemed only once.
type StateStore interface {
	Save(ctx context.Context, state, nonce string, ttl time.Duration) error
	Take(ctx context.Context, state string) (nonce string, ok bool, err error)
}

type pendingLogin struct {
	nonce   string
	expires time.Time
}

// MemoryStateStore is the in-process StateStore used when no shared store is configured.
type MemoryStateStore struct {
	mu      sync.Mutex
	now     func() time.Time
	pending map[string]pendingLogin
}

// NewMemoryStateStore creates an empty store. A nil now uses time.Now.
func NewMemoryStateStore(now func() time.Time) *MemoryStateStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStateStore{now: now, pending: make(map[string]pendingLogin)}
}

func (s *MemoryStateStore) Save(_ context.Context, state, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.pending {
		if !now.Before(v.expires) {
			delete(s.pending, k)
		}
	}
	s.pending[state] = pendingLogin{nonce: nonce, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[state]
	delete(s.pending, state)
	if !ok || !s.now().Before(p.expires) {
		return "", false, nil
	}
	return p.nonce, true, nil
}
