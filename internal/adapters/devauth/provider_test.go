package devauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/testutil"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	prov, err := NewProvider(Config{
		UserID: "dev-user",
		Email:  "dev@example.com",
		Now:    testutil.TestTime,
	})
	require.NoError(t, err)
	return prov
}

func TestNewProvider_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(Config{Email: "dev@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UserID is required")

	_, err = NewProvider(Config{UserID: "dev-user"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Email is required")
}

func TestProvider_SignInLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prov := newTestProvider(t)

	var events []session.ChangeEvent
	unsub := prov.OnChange(func(_ context.Context, ev session.ChangeEvent) { events = append(events, ev) })
	defer unsub()

	s, err := prov.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s, "provider starts signed out")

	signedIn, err := prov.SignInDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dev-user", signedIn.Identity.ID)
	assert.Equal(t, testutil.TestTime().Add(8*time.Hour), signedIn.ExpiresAt)

	current, err := prov.GetCurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, signedIn.AccessToken, current.AccessToken)

	refreshed, err := prov.RefreshToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, signedIn.AccessToken, refreshed.AccessToken)
	assert.Equal(t, signedIn.RefreshToken, refreshed.RefreshToken)

	require.NoError(t, prov.SignOut(ctx))
	s, err = prov.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	require.Len(t, events, 3)
	assert.Equal(t, session.EventSignedIn, events[0].Type)
	assert.Equal(t, session.EventTokenRefreshed, events[1].Type)
	assert.Equal(t, refreshed.AccessToken, events[1].Session.AccessToken)
	assert.Equal(t, session.EventSignedOut, events[2].Type)
	assert.Nil(t, events[2].Session)
}

func TestProvider_RefreshWithoutSession(t *testing.T) {
	t.Parallel()
	prov := newTestProvider(t)

	_, err := prov.RefreshToken(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestProvider_SignInRequiresIdentity(t *testing.T) {
	t.Parallel()
	prov := newTestProvider(t)

	_, err := prov.SignIn(context.Background(), session.Identity{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
}

func TestProvider_SetUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prov := newTestProvider(t)
	_, err := prov.SignInDefault(ctx)
	require.NoError(t, err)

	prov.SetUnavailable(errors.New("network unreachable"))
	_, err = prov.GetCurrentSession(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderUnavailable(err))

	prov.SetUnavailable(nil)
	s, err := prov.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.NotNil(t, s, "session survives a simulated outage")
}

func TestProvider_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prov := newTestProvider(t)
	_, err := prov.SignInDefault(ctx)
	require.NoError(t, err)

	s, err := prov.GetCurrentSession(ctx)
	require.NoError(t, err)
	s.AccessToken = "tampered"

	again, err := prov.GetCurrentSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", again.AccessToken)
}
