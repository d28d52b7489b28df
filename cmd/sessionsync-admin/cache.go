package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/target/sessionsync/internal/domain/session"
)

type outputOptions struct {
	JSON bool
}

// parseCommandArgs parses flags for name and requires exactly want positional arguments.
func parseCommandArgs(name string, args []string, want int, bind func(fs *flag.FlagSet)) ([]string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if bind != nil {
		bind(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != want {
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", name, want, fs.NArg())
	}
	return fs.Args(), nil
}

func bindOutput(opts *outputOptions) func(fs *flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of text")
	}
}

func withCache(cmdCtx *commandContext, fn func(ctx context.Context, h *cacheHandle) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	h, err := openCache(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("cache close failed", "error", closeErr)
		}
	}()
	return fn(ctx, h)
}

type cacheEntryView struct {
	IdentityID string       `json:"identity_id"`
	Cached     bool         `json:"cached"`
	Role       session.Role `json:"role,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
	Age        string       `json:"age,omitempty"`
	ExpiresIn  string       `json:"expires_in,omitempty"`
}

func newCacheEntryView(id string, entry session.CacheEntry, ok bool, now time.Time, ttl time.Duration) cacheEntryView {
	v := cacheEntryView{IdentityID: id, Cached: ok}
	if !ok {
		return v
	}
	resolved := entry.ResolvedAt.UTC()
	v.Role = entry.Role
	v.ResolvedAt = &resolved
	v.Age = entry.Age(now).Truncate(time.Second).String()
	v.ExpiresIn = (ttl - entry.Age(now)).Truncate(time.Second).String()
	return v
}

func runCacheGet(cmdCtx *commandContext, args []string) error {
	var opts outputOptions
	pos, err := parseCommandArgs("cache-get", args, 1, bindOutput(&opts))
	if err != nil {
		return err
	}
	id := pos[0]

	return withCache(cmdCtx, func(ctx context.Context, h *cacheHandle) error {
		entry, ok := h.Roles.Get(ctx, id)
		view := newCacheEntryView(id, entry, ok, cmdCtx.Now(), h.Roles.TTL())
		if opts.JSON {
			return writeJSON(cmdCtx.Out, view)
		}
		return printCacheEntry(cmdCtx.Out, view)
	})
}

func printCacheEntry(w io.Writer, v cacheEntryView) error {
	if !v.Cached {
		return writef(w, "no cached role for %s\n", v.IdentityID)
	}
	return writef(w, "identity:    %s\nrole:        %s\nresolved_at: %s\nage:         %s\nexpires_in:  %s\n",
		v.IdentityID, v.Role, v.ResolvedAt.Format(time.RFC3339), v.Age, v.ExpiresIn)
}

func runCachePurge(cmdCtx *commandContext, args []string) error {
	pos, err := parseCommandArgs("cache-purge", args, 1, nil)
	if err != nil {
		return err
	}
	id := pos[0]

	return withCache(cmdCtx, func(ctx context.Context, h *cacheHandle) error {
		h.Roles.Invalidate(ctx, id)
		cmdCtx.Logger.Info("cached role purged", "identity_id", id)
		return writef(cmdCtx.Out, "purged cached role for %s\n", id)
	})
}

func runCacheSweep(cmdCtx *commandContext, args []string) error {
	if _, err := parseCommandArgs("cache-sweep", args, 0, nil); err != nil {
		return err
	}
	return withCache(cmdCtx, func(ctx context.Context, h *cacheHandle) error {
		if h.Purger == nil {
			return fmt.Errorf("cache backend %q expires entries on its own", h.Backend)
		}
		removed, err := h.Purger.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("purge expired entries: %w", err)
		}
		return writef(cmdCtx.Out, "removed %d expired entries\n", removed)
	})
}

type lastStateView struct {
	Recorded   bool               `json:"recorded"`
	Status     session.AuthStatus `json:"status,omitempty"`
	IdentityID string             `json:"identity_id,omitempty"`
	Email      string             `json:"email,omitempty"`
	ObservedAt *time.Time         `json:"observed_at,omitempty"`
	Age        string             `json:"age,omitempty"`
}

func runLastState(cmdCtx *commandContext, args []string) error {
	var opts outputOptions
	if _, err := parseCommandArgs("last-state", args, 0, bindOutput(&opts)); err != nil {
		return err
	}

	return withCache(cmdCtx, func(ctx context.Context, h *cacheHandle) error {
		state, ok := h.Roles.LastKnown(ctx)
		view := lastStateView{Recorded: ok}
		if ok {
			observed := state.ObservedAt.UTC()
			view.Status = state.Status
			view.IdentityID = state.IdentityID
			view.Email = state.Email
			view.ObservedAt = &observed
			view.Age = cmdCtx.Now().Sub(state.ObservedAt).Truncate(time.Second).String()
		}
		if opts.JSON {
			return writeJSON(cmdCtx.Out, view)
		}
		if !ok {
			return writef(cmdCtx.Out, "no authentication state recorded\n")
		}
		if err := writef(cmdCtx.Out, "status:      %s\n", view.Status); err != nil {
			return err
		}
		if view.IdentityID != "" {
			if err := writef(cmdCtx.Out, "identity:    %s\nemail:       %s\n", view.IdentityID, view.Email); err != nil {
				return err
			}
		}
		return writef(cmdCtx.Out, "observed_at: %s\nage:         %s\n", view.ObservedAt.Format(time.RFC3339), view.Age)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Join(errors.New("encode output"), err)
	}
	return nil
}
