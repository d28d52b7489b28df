package session

// Package session contains domain-level types for client session consistency.
// It is pure and free of framework/adapter concerns.

import "time"

// Role represents an application's authorization tier.
// Keep string form for easy persistence in the durable cache.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleLawyer Role = "lawyer"
	RoleClient Role = "client"
	// RoleUnknown is the degraded role used when a profile could not be resolved or provisioned.
	RoleUnknown Role = "unknown"
)

// DefaultProvisionedRole is assigned when a profile is auto-provisioned.
const DefaultProvisionedRole = RoleClient

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLawyer, RoleClient, RoleUnknown:
		return true
	default:
		return false
	}
}

// ParseRole converts a stored role string into a Role. Unrecognised values map to RoleUnknown.
func ParseRole(s string) Role {
	r := Role(s)
	if !r.Valid() {
		return RoleUnknown
	}
	return r
}

// Identity is the authenticated subject as reported by the identity provider.
// The synchronizer only ever holds a read-only copy.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// IsZero reports whether the identity carries no subject.
func (i Identity) IsZero() bool { return i.ID == "" }

// Session is a live credential set issued by the identity provider.
type Session struct {
	Identity     Identity
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the session's access token expired at or before now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// CacheEntry is a resolved role persisted in the durable cache.
type CacheEntry struct {
	IdentityID string
	Role       Role
	ResolvedAt time.Time
}

// Age returns how long ago the entry was resolved.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.ResolvedAt)
}

// Expired reports whether the entry is older than ttl. Entries at exactly ttl are expired.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return e.Age(now) >= ttl
}

// AuthStatus is the recorded outcome of the last observed authentication state.
type AuthStatus string

const (
	StatusAuthenticated   AuthStatus = "authenticated"
	StatusUnauthenticated AuthStatus = "unauthenticated"
)

// LastKnownState is a recency hint used only for recovery decisions; it is never authoritative.
type LastKnownState struct {
	Status     AuthStatus
	IdentityID string
	Email      string
	ObservedAt time.Time
}

// AuthenticatedWithin reports whether the state recorded an authenticated identity no
// longer than window before now.
func (s LastKnownState) AuthenticatedWithin(now time.Time, window time.Duration) bool {
	if s.Status != StatusAuthenticated || s.IdentityID == "" || s.ObservedAt.IsZero() {
		return false
	}
	age := now.Sub(s.ObservedAt)
	return age >= 0 && age <= window
}

// Snapshot is the published session state consumed by the rest of the application.
type Snapshot struct {
	Identity *Identity
	Role     Role
	Ready    bool
	// Degraded marks an authenticated snapshot produced from cached data while the provider was unreachable.
	Degraded bool
}

// IsAuthenticated reports whether the snapshot carries both an identity and a role.
func (s Snapshot) IsAuthenticated() bool {
	return s.Identity != nil && s.Role != ""
}

// Clone returns a deep copy so callers cannot mutate published state.
func (s Snapshot) Clone() Snapshot {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}

// Equal reports whether two snapshots are observably identical.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Ready != o.Ready || s.Role != o.Role || s.Degraded != o.Degraded {
		return false
	}
	if (s.Identity == nil) != (o.Identity == nil) {
		return false
	}
	return s.Identity == nil || *s.Identity == *o.Identity
}

// Authenticated builds a ready snapshot for the identity and role.
func Authenticated(id Identity, role Role) Snapshot {
	return Snapshot{Identity: &id, Role: role, Ready: true}
}

// Unauthenticated builds a ready snapshot without an identity.
func Unauthenticated() Snapshot {
	return Snapshot{Ready: true}
}
