package devseed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/target/sessionsync/config"
	"github.com/target/sessionsync/internal/domain/session"
)

// ProfileWriter is the part of the profile store seeding needs.
type ProfileWriter interface {
	CreateDefault(ctx context.Context, identity session.Identity) (session.Role, error)
	SetRole(ctx context.Context, identityID string, role session.Role) error
}

// Profile is one development identity and the role it should end up with.
type Profile struct {
	Identity session.Identity
	Role     session.Role
}

// DefaultProfiles returns the dev auth identity plus one fixture per role.
func DefaultProfiles(dev config.DevAuthConfig) []Profile {
	profiles := []Profile{
		{Identity: session.Identity{ID: "dev-admin", Email: "admin@example.com"}, Role: session.RoleAdmin},
		{Identity: session.Identity{ID: "dev-lawyer", Email: "lawyer@example.com"}, Role: session.RoleLawyer},
		{Identity: session.Identity{ID: "dev-client", Email: "client@example.com"}, Role: session.RoleClient},
	}
	id := strings.TrimSpace(dev.UserID)
	if id == "" {
		return profiles
	}
	role := session.ParseRole(dev.Role)
	if role == session.RoleUnknown {
		role = session.DefaultProvisionedRole
	}
	for i := range profiles {
		if profiles[i].Identity.ID == id {
			profiles[i].Role = role
			return profiles
		}
	}
	return append([]Profile{{Identity: session.Identity{ID: id, Email: dev.Email}, Role: role}}, profiles...)
}

// Run provisions every profile and assigns its role. It is safe to run repeatedly.
func Run(ctx context.Context, store ProfileWriter, profiles []Profile, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	failures := 0
	for _, p := range profiles {
		changed, err := seedProfile(ctx, store, p)
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed profile", "identity_id", p.Identity.ID, "error", err)
			failures++
			continue
		}
		msg := "profile already seeded"
		if changed {
			msg = "seeded profile"
		}
		logger.InfoContext(ctx, msg, "identity_id", p.Identity.ID, "role", p.Role)
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedProfile(ctx context.Context, store ProfileWriter, p Profile) (bool, error) {
	current, err := store.CreateDefault(ctx, p.Identity)
	if err != nil {
		return false, fmt.Errorf("provision: %w", err)
	}
	if current == p.Role {
		return false, nil
	}
	if err := store.SetRole(ctx, p.Identity.ID, p.Role); err != nil {
		return false, fmt.Errorf("set role: %w", err)
	}
	return true, nil
}
