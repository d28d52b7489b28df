package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/target/sessionsync/internal/bootstrap"
	"github.com/target/sessionsync/internal/devseed"
	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
)

func runMigrations(cmdCtx *commandContext, args []string) error {
	timeout := defaultMigrationTimeout
	if _, err := parseCommandArgs("migrate", args, 0, func(fs *flag.FlagSet) {
		fs.DurationVar(&timeout, "timeout", defaultMigrationTimeout, "Maximum time to wait for migrations")
	}); err != nil {
		return err
	}
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", timeout)
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := connectDB(&commandContext{Ctx: ctx, Logger: cmdCtx.Logger, Config: cmdCtx.Config})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	started := time.Now()
	if err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); err != nil {
		return err
	}
	cmdCtx.Logger.Info("migrations complete", "duration", time.Since(started))
	return writef(cmdCtx.Out, "migrations complete\n")
}

func withProfiles(cmdCtx *commandContext, fn func(ctx context.Context, store profileStore) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	store, closeFn, err := openProfiles(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if closeFn == nil {
			return
		}
		if closeErr := closeFn(); closeErr != nil {
			cmdCtx.Logger.Warn("profile store close failed", "error", closeErr)
		}
	}()
	return fn(ctx, store)
}

func runProfileGet(cmdCtx *commandContext, args []string) error {
	pos, err := parseCommandArgs("profile-get", args, 1, nil)
	if err != nil {
		return err
	}
	id := pos[0]

	return withProfiles(cmdCtx, func(ctx context.Context, store profileStore) error {
		role, err := store.FetchRole(ctx, id)
		switch {
		case apperrors.IsRoleNotFound(err):
			return writef(cmdCtx.Out, "no profile for %s\n", id)
		case apperrors.IsRoleAmbiguous(err):
			return writef(cmdCtx.Out, "profile for %s has no role assigned\n", id)
		case err != nil:
			return err
		}
		return writef(cmdCtx.Out, "%s: %s\n", id, role)
	})
}

func runProvision(cmdCtx *commandContext, args []string) error {
	pos, err := parseCommandArgs("provision", args, 2, nil)
	if err != nil {
		return err
	}
	identity := session.Identity{ID: pos[0], Email: pos[1]}

	return withProfiles(cmdCtx, func(ctx context.Context, store profileStore) error {
		role, err := store.CreateDefault(ctx, identity)
		if err != nil {
			return err
		}
		cmdCtx.Logger.Info("profile provisioned", "identity_id", identity.ID, "role", role)
		return writef(cmdCtx.Out, "%s: %s\n", identity.ID, role)
	})
}

func runSetRole(cmdCtx *commandContext, args []string) error {
	var keepCache bool
	pos, err := parseCommandArgs("set-role", args, 2, func(fs *flag.FlagSet) {
		fs.BoolVar(&keepCache, "keep-cache", false, "Leave the cached role in place")
	})
	if err != nil {
		return err
	}
	id := pos[0]
	role := session.ParseRole(strings.TrimSpace(pos[1]))
	if role == session.RoleUnknown {
		return fmt.Errorf("unknown role %q (want one of admin, lawyer, client)", pos[1])
	}

	err = withProfiles(cmdCtx, func(ctx context.Context, store profileStore) error {
		if err := store.SetRole(ctx, id, role); err != nil {
			if apperrors.IsRoleNotFound(err) {
				return fmt.Errorf("no profile for %s, run provision first: %w", id, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	cmdCtx.Logger.Info("role assigned", "identity_id", id, "role", role)

	if !keepCache {
		if err := dropCachedRole(cmdCtx, id); err != nil {
			cmdCtx.Logger.Warn("cached role not dropped, it expires with its TTL", "identity_id", id, "error", err)
		}
	}
	return writef(cmdCtx.Out, "%s: %s\n", id, role)
}

func dropCachedRole(cmdCtx *commandContext, id string) error {
	return withCache(cmdCtx, func(ctx context.Context, h *cacheHandle) error {
		h.Roles.Invalidate(ctx, id)
		return nil
	})
}

func runSeed(cmdCtx *commandContext, args []string) error {
	var allowRemote bool
	if _, err := parseCommandArgs("seed", args, 0, func(fs *flag.FlagSet) {
		fs.BoolVar(&allowRemote, "allow-remote", false, "Allow seeding a database host that does not look local")
	}); err != nil {
		return err
	}
	if host := cmdCtx.Config.Postgres.Host; isLikelyRemoteHost(host) && !allowRemote {
		return fmt.Errorf(
			"refusing to seed potentially remote database host %q; re-run with --allow-remote if this is intentional",
			host,
		)
	}

	profiles := devseed.DefaultProfiles(cmdCtx.Config.Auth.DevAuth)
	err := withProfiles(cmdCtx, func(ctx context.Context, store profileStore) error {
		return devseed.Run(ctx, store, profiles, cmdCtx.Logger)
	})
	if err != nil {
		return fmt.Errorf("seed profiles: %w", err)
	}
	return writef(cmdCtx.Out, "seeded %d profiles\n", len(profiles))
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" || h == "localhost" || strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}
