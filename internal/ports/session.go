package ports

// Package ports defines interfaces (hexagonal ports) for the collaborators of the session synchronizer.
// Implementations live in internal/adapters and internal/data; orchestration in internal/service.

import (
	"context"

	"github.com/target/sessionsync/internal/domain/session"
)

// ChangeHandler receives identity provider change notifications in arrival order.
type ChangeHandler func(ctx context.Context, ev session.ChangeEvent)

// IdentityProvider issues and validates credentials and emits change notifications.
type IdentityProvider interface {
	// GetCurrentSession returns the live session, or nil when nobody is signed in.
	GetCurrentSession(ctx context.Context) (*session.Session, error)

	// OnChange registers a handler for SIGNED_IN, SIGNED_OUT and TOKEN_REFRESHED notifications
	// and returns a func that removes it.
	OnChange(handler ChangeHandler) (unsubscribe func())
}

// SessionTerminator is implemented by providers that can end the current session on request.
type SessionTerminator interface {
	SignOut(ctx context.Context) error
}

// RoleLookup maps an identity to its role.
type RoleLookup interface {
	// FetchRole fails with a role_not_found AppError when the identity has no profile and
	// role_ambiguous when the profile carries no role.
	FetchRole(ctx context.Context, identityID string) (session.Role, error)
}

// ProfileProvisioner creates a default profile for an identity that lacks one.
type ProfileProvisioner interface {
	CreateDefault(ctx context.Context, identity session.Identity) (session.Role, error)
}

// ActivityProtection exposes whether an in-progress user activity must not be disrupted.
type ActivityProtection interface {
	IsProtected(ctx context.Context) bool
}
