package devauth

// Package devauth provides an in-memory, config-driven IdentityProvider for local development and demos.

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/sessionsync/internal/adapters/changefeed"
	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/ports"
)

// ErrNoSession is returned by RefreshToken when nobody is signed in.
var ErrNoSession = errors.New("dev auth: no active session")

// Config controls the dev identity provider.
// UserID and Email are required; they name the identity used by SignInDefault.
type Config struct {
	UserID          string
	Email           string
	SessionDuration time.Duration // default 8h when zero
	Now             func() time.Time
	Logger          *slog.Logger
}

// Provider is an IdentityProvider whose session lives in memory. Sign-in, sign-out and
// token refresh are driven explicitly and announced on its change feed.
type Provider struct {
	identity session.Identity
	duration time.Duration
	now      func() time.Time
	feed     *changefeed.Feed
	logger   *slog.Logger

	mu          sync.Mutex
	current     *session.Session
	unavailable error
}

var (
	_ ports.IdentityProvider  = (*Provider)(nil)
	_ ports.SessionTerminator = (*Provider)(nil)
)

// NewProvider constructs a dev identity provider from Config. It starts signed out.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		identity: session.Identity{ID: cfg.UserID, Email: cfg.Email},
		duration: dur,
		now:      now,
		feed:     changefeed.New(logger),
		logger:   logger.With("component", "devauth"),
	}, nil
}

// GetCurrentSession returns a copy of the signed-in session, nil when signed out, or a
// provider_unavailable error while SetUnavailable is in effect.
func (p *Provider) GetCurrentSession(ctx context.Context) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unavailable != nil {
		return nil, apperrors.ProviderUnavailable(p.unavailable)
	}
	if p.current == nil {
		return nil, nil
	}
	out := *p.current
	return &out, nil
}

// OnChange registers handler for change notifications.
func (p *Provider) OnChange(handler ports.ChangeHandler) func() {
	return p.feed.Subscribe(handler)
}

// SignInDefault signs in the configured identity.
func (p *Provider) SignInDefault(ctx context.Context) (*session.Session, error) {
	return p.SignIn(ctx, p.identity)
}

// SignIn starts a fresh session for identity and emits SIGNED_IN.
func (p *Provider) SignIn(ctx context.Context, identity session.Identity) (*session.Session, error) {
	if identity.IsZero() {
		return nil, apperrors.Validation("dev auth: identity id is required")
	}
	s := &session.Session{
		Identity:     identity,
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    p.now().Add(p.duration),
	}
	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "dev sign-in", "identity_id", identity.ID)
	out := *s
	p.feed.Publish(ctx, session.ChangeEvent{Type: session.EventSignedIn, Session: &out})
	return &out, nil
}

// SignOut ends the session and emits SIGNED_OUT.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "dev sign-out")
	p.feed.Publish(ctx, session.ChangeEvent{Type: session.EventSignedOut})
	return nil
}

// RefreshToken rotates the access token, extends the expiry and emits TOKEN_REFRESHED.
func (p *Provider) RefreshToken(ctx context.Context) (*session.Session, error) {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return nil, ErrNoSession
	}
	p.current.AccessToken = uuid.NewString()
	p.current.ExpiresAt = p.now().Add(p.duration)
	out := *p.current
	p.mu.Unlock()

	p.feed.Publish(ctx, session.ChangeEvent{Type: session.EventTokenRefreshed, Session: &out})
	return &out, nil
}

// SetUnavailable makes GetCurrentSession fail with cause until called with nil.
// It simulates network loss without touching the session.
func (p *Provider) SetUnavailable(cause error) {
	p.mu.Lock()
	p.unavailable = cause
	p.mu.Unlock()
}
