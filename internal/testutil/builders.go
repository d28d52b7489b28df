// Package testutil provides testing utilities and helpers for the session synchronizer.
package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/target/sessionsync/internal/domain/session"
)

// SessionBuilder provides a fluent interface for building provider sessions in tests.
type SessionBuilder struct {
	s session.Session
}

// NewSession creates a SessionBuilder for identityID with a derived email and fresh tokens.
func NewSession(identityID string) *SessionBuilder {
	return &SessionBuilder{
		s: session.Session{
			Identity:     session.Identity{ID: identityID, Email: identityID + "@example.com"},
			AccessToken:  uuid.NewString(),
			RefreshToken: uuid.NewString(),
			ExpiresAt:    TestTime().Add(time.Hour),
		},
	}
}

// WithEmail sets the identity email.
func (b *SessionBuilder) WithEmail(email string) *SessionBuilder {
	b.s.Identity.Email = email
	return b
}

// WithAccessToken sets the access token.
func (b *SessionBuilder) WithAccessToken(token string) *SessionBuilder {
	b.s.AccessToken = token
	return b
}

// WithExpiry sets the access token expiry.
func (b *SessionBuilder) WithExpiry(t time.Time) *SessionBuilder {
	b.s.ExpiresAt = t
	return b
}

// Build returns a pointer to a copy of the built session.
func (b *SessionBuilder) Build() *session.Session {
	out := b.s
	return &out
}

// Event wraps the built session in a change event of type et.
func (b *SessionBuilder) Event(et session.EventType) session.ChangeEvent {
	return session.ChangeEvent{Type: et, Session: b.Build()}
}

// SignedOut returns a SIGNED_OUT change event, which carries no session.
func SignedOut() session.ChangeEvent {
	return session.ChangeEvent{Type: session.EventSignedOut}
}
