package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/target/sessionsync/config"
	"github.com/target/sessionsync/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	usage       string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
	Now    func() time.Time

	// OpenProfiles overrides how the profile store is reached. Nil connects to Postgres.
	OpenProfiles func(ctx context.Context) (profileStore, func() error, error)
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 30 * time.Second
)

func main() {
	logger := bootstrap.InitLogger(slog.LevelInfo)

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	logger = bootstrap.InitLogger(cfg.SlogLevel())

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
		Now:    time.Now,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"cache-get": {
			name:        "cache-get",
			usage:       "<identity-id>",
			description: "Show the cached role for an identity",
			run:         runCacheGet,
		},
		"cache-purge": {
			name:        "cache-purge",
			usage:       "<identity-id>",
			description: "Remove the cached role for an identity",
			run:         runCachePurge,
		},
		"cache-sweep": {
			name:        "cache-sweep",
			description: "Delete expired entries from the on-disk cache",
			run:         runCacheSweep,
		},
		"last-state": {
			name:        "last-state",
			description: "Show the last recorded authentication state",
			run:         runLastState,
		},
		"migrate": {
			name:        "migrate",
			description: "Run profile store migrations",
			run:         runMigrations,
		},
		"profile-get": {
			name:        "profile-get",
			usage:       "<identity-id>",
			description: "Show the role stored in the profile store",
			run:         runProfileGet,
		},
		"provision": {
			name:        "provision",
			usage:       "<identity-id> <email>",
			description: "Create a default profile (existing roles are kept)",
			run:         runProvision,
		},
		"seed": {
			name:        "seed",
			usage:       "[--allow-remote]",
			description: "Create development profiles for the dev identity and each role",
			run:         runSeed,
		},
		"set-role": {
			name:        "set-role",
			usage:       "<identity-id> <role>",
			description: "Assign a role in the profile store and drop the cached role",
			run:         runSetRole,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: sessionsync-admin <command> [flags] [args]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := cmds[name]
		if err := writef(w, "  %-36s %s\n", c.name+" "+c.usage, c.description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
