package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/target/sessionsync/internal/core"
	"github.com/target/sessionsync/internal/domain/retry"
	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/ports"
)

// RoleSource groups the collaborators that know an identity's role.
type RoleSource struct {
	Lookup      ports.RoleLookup         // Required
	Provisioner ports.ProfileProvisioner // Optional: without it missing profiles resolve to RoleUnknown
}

// RoleResolverOptions groups dependencies for RoleResolver.
type RoleResolverOptions struct {
	Cache  *core.RoleCache // Required
	Source RoleSource
	// Retry governs lookup attempts. Optional; defaults to a single attempt. Provisioning is
	// never retried and runs once under the executor's attempt timeout.
	Retry  *retry.Executor
	Logger *slog.Logger // Optional
}

// RoleResolver maps an identity to its role, consulting the durable cache before the lookup store.
type RoleResolver struct {
	cache       *core.RoleCache
	lookup      ports.RoleLookup
	provisioner ports.ProfileProvisioner
	retry       *retry.Executor
	logger      *slog.Logger
	group       singleflight.Group
}

// lookupOutcome separates a profile that is missing or role-less, which is final for the
// lookup step, from failures that may be retried.
type lookupOutcome struct {
	role    session.Role
	missing error
}

// NewRoleResolver constructs a RoleResolver.
func NewRoleResolver(opts RoleResolverOptions) *RoleResolver {
	if opts.Cache == nil {
		panic("RoleCache is required")
	}
	if opts.Source.Lookup == nil {
		panic("RoleLookup is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "role_resolver")
	executor := opts.Retry
	if executor == nil {
		executor = retry.New(retry.Options{Attempts: 1, Logger: logger})
	}
	return &RoleResolver{
		cache:       opts.Cache,
		lookup:      opts.Source.Lookup,
		provisioner: opts.Source.Provisioner,
		retry:       executor,
		logger:      logger,
	}
}

// Resolve returns the role for identity.
//
// A fresh cache entry is returned without touching the lookup store. On a miss the store is
// queried under the retry policy; concurrent misses for the same identity share one query.
// A missing or role-less profile triggers exactly one provisioning attempt; if that fails the
// identity resolves to RoleUnknown, which is not cached. Any other lookup failure is returned
// to the caller once the retries are spent.
func (r *RoleResolver) Resolve(ctx context.Context, identity session.Identity) (session.Role, error) {
	if identity.IsZero() {
		return "", apperrors.Validation("identity id is required")
	}
	if entry, ok := r.cache.Get(ctx, identity.ID); ok {
		// A hit leaves resolved_at alone so the entry still expires 12h after its lookup.
		return entry.Role, nil
	}

	v, err, _ := r.group.Do(identity.ID, func() (any, error) {
		return r.resolveMiss(ctx, identity)
	})
	if err != nil {
		return "", err
	}
	return v.(session.Role), nil
}

func (r *RoleResolver) resolveMiss(ctx context.Context, identity session.Identity) (session.Role, error) {
	out, err := retry.Run(ctx, r.retry, "fetch role", func(ctx context.Context) (lookupOutcome, error) {
		role, err := r.lookup.FetchRole(ctx, identity.ID)
		if apperrors.IsRoleNotFound(err) || apperrors.IsRoleAmbiguous(err) {
			return lookupOutcome{missing: err}, nil
		}
		return lookupOutcome{role: role}, err
	})
	if err != nil {
		return "", fmt.Errorf("fetch role: %w", err)
	}
	if out.missing != nil {
		return r.provision(ctx, identity, out.missing), nil
	}

	role := out.role
	if !role.Valid() {
		role = session.RoleUnknown
	}
	if role != session.RoleUnknown {
		r.cache.Put(ctx, identity.ID, role)
	}
	return role, nil
}

// provision makes the single provisioning attempt for an identity without a usable profile.
func (r *RoleResolver) provision(ctx context.Context, identity session.Identity, cause error) session.Role {
	if r.provisioner == nil {
		r.logger.WarnContext(ctx, "no profile and provisioning disabled",
			"identity_id", identity.ID, "reason", apperrors.GetCode(cause))
		return session.RoleUnknown
	}

	pctx, cancel := context.WithTimeout(ctx, r.retry.AttemptTimeout())
	defer cancel()

	role, err := r.provisioner.CreateDefault(pctx, identity)
	if err != nil {
		r.logger.WarnContext(ctx, "profile provisioning failed",
			"identity_id", identity.ID, "reason", apperrors.GetCode(cause), "error", err)
		return session.RoleUnknown
	}
	if !role.Valid() || role == session.RoleUnknown {
		r.logger.WarnContext(ctx, "provisioned profile has no usable role",
			"identity_id", identity.ID, "role", role)
		return session.RoleUnknown
	}

	r.logger.InfoContext(ctx, "provisioned default profile", "identity_id", identity.ID, "role", role)
	r.cache.Put(ctx, identity.ID, role)
	return role
}

// Cached returns the cached role for identityID without consulting the lookup store.
func (r *RoleResolver) Cached(ctx context.Context, identityID string) (session.Role, bool) {
	entry, ok := r.cache.Get(ctx, identityID)
	if !ok {
		return "", false
	}
	return entry.Role, true
}

// Forget drops the cached role for identityID.
func (r *RoleResolver) Forget(ctx context.Context, identityID string) {
	r.cache.Invalidate(ctx, identityID)
}
