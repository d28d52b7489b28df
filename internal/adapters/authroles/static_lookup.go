// Package authroles provides a config-driven RoleLookup for deployments without a profile store.
package authroles

import (
	"context"
	"fmt"
	"strings"

	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/ports"
)

var _ ports.RoleLookup = (*StaticRoleLookup)(nil)

// StaticRoleLookup maps identity IDs to roles from a fixed table.
// Identities missing from the table get Default, or role_not_found when Default is empty.
type StaticRoleLookup struct {
	Roles   map[string]session.Role
	Default session.Role
}

// FetchRole implements ports.RoleLookup.
func (l StaticRoleLookup) FetchRole(ctx context.Context, identityID string) (session.Role, error) {
	if err := ctx.Err(); err != nil {
		return session.RoleUnknown, err
	}
	role, ok := l.Roles[identityID]
	if !ok {
		if l.Default != "" {
			return l.Default, nil
		}
		return session.RoleUnknown, apperrors.RoleNotFound(identityID)
	}
	if role == "" {
		return session.RoleUnknown, apperrors.RoleAmbiguous(identityID)
	}
	return role, nil
}

// ParseStaticRoles parses "id=role" pairs separated by commas, e.g. "alice=admin,bob=lawyer".
// A pair with an empty role is kept and reported as ambiguous on lookup.
func ParseStaticRoles(spec string) (map[string]session.Role, error) {
	out := make(map[string]session.Role)
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, raw, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid role mapping %q: want id=role", pair)
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			out[id] = ""
			continue
		}
		role := session.Role(strings.ToLower(raw))
		if !role.Valid() || role == session.RoleUnknown {
			return nil, fmt.Errorf("invalid role %q for %s", raw, id)
		}
		out[id] = role
	}
	return out, nil
}
