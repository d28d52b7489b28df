package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/target/sessionsync/config"
	"github.com/target/sessionsync/internal/adapters/authroles"
	"github.com/target/sessionsync/internal/adapters/devauth"
	"github.com/target/sessionsync/internal/adapters/oidc"
	redisadapter "github.com/target/sessionsync/internal/adapters/redis"
	"github.com/target/sessionsync/internal/data"
	"github.com/target/sessionsync/internal/domain/session"
	"github.com/target/sessionsync/internal/ports"
	"github.com/target/sessionsync/internal/service"
)

// Identity is the configured identity provider. Exactly one of Dev and OAuth is set.
type Identity struct {
	Provider ports.IdentityProvider
	Dev      *devauth.Provider
	OAuth    *oidc.Provider
}

// IdentityOptions contains configuration for the identity provider.
type IdentityOptions struct {
	Auth       config.AuthConfig
	HTTPClient *http.Client // Optional, OAuth only
	Logger     *slog.Logger
	// Redis, when set, holds pending OAuth logins instead of process memory.
	Redis redis.UniversalClient
}

// BuildIdentity creates the identity provider for the configured auth mode.
func BuildIdentity(ctx context.Context, opts IdentityOptions) (*Identity, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Auth.Mode {
	case config.AuthModeOAuth:
		if !opts.Auth.OAuth.Configured() {
			return nil, fmt.Errorf("oauth mode requires OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET, OAUTH_REDIRECT_URL and OAUTH_DISCOVERY_URL")
		}
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:     opts.Auth.OAuth.ClientID,
			ClientSecret: opts.Auth.OAuth.ClientSecret,
			RedirectURL:  opts.Auth.OAuth.RedirectURL,
			Scope:        opts.Auth.OAuth.Scope,
			DiscoveryURL: opts.Auth.OAuth.DiscoveryURL,
			LogoutURL:    opts.Auth.OAuth.LogoutURL,
			HTTPClient:   opts.HTTPClient,
			Logger:       logger,
			States:       loginStates(opts.Redis),
		})
		if err != nil {
			return nil, fmt.Errorf("create oidc provider: %w", err)
		}
		logger.InfoContext(ctx, "identity provider configured", "mode", opts.Auth.Mode)
		return &Identity{Provider: prov, OAuth: prov}, nil

	case config.AuthModeMock, "":
		prov, err := devauth.NewProvider(devauth.Config{
			UserID: opts.Auth.DevAuth.UserID,
			Email:  opts.Auth.DevAuth.Email,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create dev auth provider: %w", err)
		}
		logger.InfoContext(ctx, "identity provider configured", "mode", config.AuthModeMock, "user_id", opts.Auth.DevAuth.UserID)
		return &Identity{Provider: prov, Dev: prov}, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", opts.Auth.Mode)
	}
}

// RoleSourceOptions contains configuration for the role source.
type RoleSourceOptions struct {
	Auth            config.AuthConfig
	ProfilesEnabled bool
	DB              *sql.DB // Required when ProfilesEnabled
	Logger          *slog.Logger
}

// BuildRoleSource returns the profile store when profiles are enabled and the static role
// table otherwise. In mock mode the dev identity is added to the static table with
// DEV_AUTH_ROLE unless the table already lists it.
func BuildRoleSource(opts RoleSourceOptions) (service.RoleSource, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ProfilesEnabled {
		if opts.DB == nil {
			return service.RoleSource{}, fmt.Errorf("profiles enabled but no database configured")
		}
		repo := data.NewProfileRepo(data.ProfileRepoOptions{DB: opts.DB})
		logger.Info("role source configured", "source", "profiles")
		return service.RoleSource{Lookup: repo, Provisioner: repo}, nil
	}

	roles, err := authroles.ParseStaticRoles(opts.Auth.StaticRoles)
	if err != nil {
		return service.RoleSource{}, fmt.Errorf("parse static roles: %w", err)
	}

	var def session.Role
	if opts.Auth.DefaultRole != "" {
		def = session.Role(opts.Auth.DefaultRole)
		if !def.Valid() || def == session.RoleUnknown {
			return service.RoleSource{}, fmt.Errorf("invalid default role %q", opts.Auth.DefaultRole)
		}
	}

	if opts.Auth.Mode == config.AuthModeMock || opts.Auth.Mode == "" {
		if err := addDevRole(roles, opts.Auth.DevAuth); err != nil {
			return service.RoleSource{}, err
		}
	}

	logger.Info("role source configured", "source", "static", "entries", len(roles), "default_role", def)
	return service.RoleSource{Lookup: authroles.StaticRoleLookup{Roles: roles, Default: def}}, nil
}

func addDevRole(roles map[string]session.Role, dev config.DevAuthConfig) error {
	if dev.UserID == "" || dev.Role == "" {
		return nil
	}
	if _, ok := roles[dev.UserID]; ok {
		return nil
	}
	role := session.Role(dev.Role)
	if !role.Valid() || role == session.RoleUnknown {
		return fmt.Errorf("invalid dev auth role %q", dev.Role)
	}
	roles[dev.UserID] = role
	return nil
}

func loginStates(client redis.UniversalClient) oidc.StateStore {
	if client == nil {
		return nil
	}
	return redisadapter.NewLoginStateStore(client)
}
