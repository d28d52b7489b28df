package ports_test

import (
	"testing"

	"github.com/target/sessionsync/internal/adapters/authroles"
	"github.com/target/sessionsync/internal/adapters/devauth"
	"github.com/target/sessionsync/internal/adapters/oidc"
	"github.com/target/sessionsync/internal/core"
	"github.com/target/sessionsync/internal/data"
	"github.com/target/sessionsync/internal/mocks"
	"github.com/target/sessionsync/internal/ports"
)

// This test only verifies that our adapters and mocks conform to the ports at compile time.
func TestAdaptersImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.IdentityProvider = (*devauth.Provider)(nil)
	var _ ports.SessionTerminator = (*devauth.Provider)(nil)
	var _ ports.IdentityProvider = (*oidc.Provider)(nil)
	var _ ports.SessionTerminator = (*oidc.Provider)(nil)
	var _ ports.RoleLookup = (*authroles.StaticRoleLookup)(nil)
	var _ ports.RoleLookup = (*data.ProfileRepo)(nil)
	var _ ports.ProfileProvisioner = (*data.ProfileRepo)(nil)
	var _ ports.ActivityProtection = (*core.ActivityGuard)(nil)

	var _ ports.IdentityProvider = (*mocks.MockIdentityProvider)(nil)
	var _ ports.RoleLookup = (*mocks.MockRoleLookup)(nil)
	var _ ports.ProfileProvisioner = (*mocks.MockProfileProvisioner)(nil)
}
