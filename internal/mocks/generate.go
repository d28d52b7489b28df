// Package mocks provides gomock implementations of the collaborator ports used by the session synchronizer.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	lookup := mocks.NewMockRoleLookup(ctrl)
//	lookup.EXPECT().FetchRole(gomock.Any(), "user-1").Return(session.RoleAdmin, nil)
package mocks

// Generate mocks for every collaborator interface in internal/ports:
// IdentityProvider, SessionTerminator, RoleLookup, ProfileProvisioner, ActivityProtection
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=ports_mock.go github.com/target/sessionsync/internal/ports IdentityProvider,SessionTerminator,RoleLookup,ProfileProvisioner,ActivityProtection
