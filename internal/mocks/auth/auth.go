package auth

// Package auth contains simple hand-written test doubles for the session ports.
// They are safe for concurrent use and suit race-sensitive tests where gomock ordering gets in the way.

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider   = (*FakeIdentityProvider)(nil)
	_ ports.SessionTerminator  = (*FakeIdentityProvider)(nil)
	_ ports.RoleLookup         = (*FakeRoleLookup)(nil)
	_ ports.ProfileProvisioner = (*FakeProvisioner)(nil)
	_ ports.ActivityProtection = (*StaticActivity)(nil)
)

// FakeIdentityProvider returns a configurable session and lets tests emit change events.
type FakeIdentityProvider struct {
	// GetFunc overrides the configured session/error when set.
	GetFunc func(ctx context.Context) (*session.Session, error)

	mu       sync.Mutex
	current  *session.Session
	err      error
	nextID   int
	handlers map[int]ports.ChangeHandler
	order    []int
	calls    atomic.Int32
	signOuts atomic.Int32
}

// NewFakeIdentityProvider creates a provider whose current session is s (nil for signed out).
func NewFakeIdentityProvider(s *session.Session) *FakeIdentityProvider {
	return &FakeIdentityProvider{current: s, handlers: make(map[int]ports.ChangeHandler)}
}

// GetCurrentSession returns the configured session.
func (f *FakeIdentityProvider) GetCurrentSession(ctx context.Context) (*session.Session, error) {
	f.calls.Add(1)
	if f.GetFunc != nil {
		return f.GetFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.current == nil {
		return nil, nil
	}
	out := *f.current
	return &out, nil
}

// OnChange registers handler.
func (f *FakeIdentityProvider) OnChange(handler ports.ChangeHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	f.order = append(f.order, id)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

// Emit delivers ev synchronously to every registered handler in registration order.
func (f *FakeIdentityProvider) Emit(ctx context.Context, ev session.ChangeEvent) {
	f.mu.Lock()
	hs := make([]ports.ChangeHandler, 0, len(f.handlers))
	for _, id := range f.order {
		if h, ok := f.handlers[id]; ok {
			hs = append(hs, h)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ctx, ev)
	}
}

// SignOut clears the current session. It does not emit; tests drive events explicitly.
func (f *FakeIdentityProvider) SignOut(context.Context) error {
	f.signOuts.Add(1)
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()
	return nil
}

// SetSession replaces the current session.
func (f *FakeIdentityProvider) SetSession(s *session.Session) {
	f.mu.Lock()
	f.current = s
	f.err = nil
	f.mu.Unlock()
}

// SetError makes GetCurrentSession fail with err until cleared with SetError(nil).
func (f *FakeIdentityProvider) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Calls returns how many times GetCurrentSession was called.
func (f *FakeIdentityProvider) Calls() int { return int(f.calls.Load()) }

// SignOuts returns how many times SignOut was called.
func (f *FakeIdentityProvider) SignOuts() int { return int(f.signOuts.Load()) }

// Subscribers returns the number of registered handlers.
func (f *FakeIdentityProvider) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// FakeRoleLookup serves roles from a map. Missing identities fail with RoleNotFound.
// When Gate is non-nil every call blocks until it is closed or receives a value.
type FakeRoleLookup struct {
	Gate chan struct{}

	mu    sync.Mutex
	roles map[string]session.Role
	errs  map[string]error
	calls atomic.Int32
}

// NewFakeRoleLookup creates a lookup pre-loaded with roles.
func NewFakeRoleLookup(roles map[string]session.Role) *FakeRoleLookup {
	r := make(map[string]session.Role, len(roles))
	for k, v := range roles {
		r[k] = v
	}
	return &FakeRoleLookup{roles: r, errs: make(map[string]error)}
}

// FetchRole implements ports.RoleLookup.
func (f *FakeRoleLookup) FetchRole(ctx context.Context, identityID string) (session.Role, error) {
	f.calls.Add(1)
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return session.RoleUnknown, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[identityID]; ok {
		return session.RoleUnknown, err
	}
	role, ok := f.roles[identityID]
	if !ok {
		return session.RoleUnknown, apperrors.RoleNotFound(identityID)
	}
	return role, nil
}

// SetRole sets the role returned for identityID.
func (f *FakeRoleLookup) SetRole(identityID string, role session.Role) {
	f.mu.Lock()
	f.roles[identityID] = role
	delete(f.errs, identityID)
	f.mu.Unlock()
}

// SetError makes lookups for identityID fail with err.
func (f *FakeRoleLookup) SetError(identityID string, err error) {
	f.mu.Lock()
	f.errs[identityID] = err
	f.mu.Unlock()
}

// Calls returns how many lookups were made.
func (f *FakeRoleLookup) Calls() int { return int(f.calls.Load()) }

// FakeProvisioner returns a fixed role or error and counts calls.
type FakeProvisioner struct {
	Role  session.Role
	Err   error
	calls atomic.Int32
}

// CreateDefault implements ports.ProfileProvisioner.
func (f *FakeProvisioner) CreateDefault(context.Context, session.Identity) (session.Role, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return session.RoleUnknown, f.Err
	}
	return f.Role, nil
}

// Calls returns how many provisioning attempts were made.
func (f *FakeProvisioner) Calls() int { return int(f.calls.Load()) }

// StaticActivity reports a fixed protection value that tests may flip.
type StaticActivity struct {
	protected atomic.Bool
}

// IsProtected implements ports.ActivityProtection.
func (s *StaticActivity) IsProtected(context.Context) bool { return s.protected.Load() }

// Set changes the reported value.
func (s *StaticActivity) Set(v bool) { s.protected.Store(v) }
