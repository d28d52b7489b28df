package service

import (
	"context"
	"fmt"

	"github.com/target/sessionsync/internal/domain/session"
	"github.com/target/sessionsync/internal/observability/metrics"
)

// Suppression reasons reported in logs and metrics.
const (
	reasonInProgress        = "in_progress"
	reasonCooldown          = "cooldown"
	reasonActivityProtected = "activity_protected"
	reasonVisibilityEcho    = "visibility_echo"
	reasonIdentityMismatch  = "identity_mismatch"
)

// HandleProviderEvent applies an identity provider notification. It is registered with the
// provider by Start and may also be called directly.
func (s *Synchronizer) HandleProviderEvent(ctx context.Context, ev session.ChangeEvent) {
	if s.isClosed() {
		return
	}
	switch ev.Type {
	case session.EventSignedOut:
		s.signedOut(ctx, session.TriggerSignOut)
	case session.EventSignedIn:
		s.signedIn(ctx, ev.Session)
	case session.EventTokenRefreshed:
		s.tokenRefreshed(ctx, ev.Session)
	default:
		s.logger.DebugContext(ctx, "ignoring unknown provider event", "event", ev.Type)
	}
}

// signedOut is never suppressed. It takes its ticket on arrival so every sign-in or
// validation already in flight loses to it. The role cache is kept for a faster re-login.
func (s *Synchronizer) signedOut(ctx context.Context, trigger session.Trigger) {
	ticket := s.nextTicket()

	s.guard.Clear(ctx, session.FlagAuthChangeInProgress)
	s.guard.Clear(ctx, session.FlagSessionCheckInProgress)
	if s.flags != nil {
		if err := s.flags.Release(ctx, session.FlagSkipNextAuthChange); err != nil {
			s.logger.DebugContext(ctx, "clear skip flag failed", "error", err)
		}
	}

	if s.publish(ctx, ticket, session.Unauthenticated(), trigger, nil) {
		s.persist(ctx, ticket, session.LastKnownState{Status: session.StatusUnauthenticated})
	}
}

// signedIn takes its ticket on arrival, before any collaborator is consulted, so a sign-out
// that arrives while the suppression checks run still outranks it.
func (s *Synchronizer) signedIn(ctx context.Context, sess *session.Session) {
	if sess == nil || sess.Identity.IsZero() {
		s.logger.DebugContext(ctx, "ignoring sign-in without identity")
		return
	}
	ticket := s.nextTicket()

	ran, _ := s.guard.Do(ctx, session.FlagAuthChangeInProgress, func(ctx context.Context) error {
		if reason := s.suppressSignIn(ctx, sess.Identity); reason != "" {
			s.logger.DebugContext(ctx, "sign-in suppressed", "identity_id", sess.Identity.ID, "reason", reason)
			metrics.EmitSuppressed(s.metrics, string(session.TriggerSignIn), reason)
			return nil
		}

		s.enter()
		defer s.end()
		defer s.guardPanic(ctx, ticket, session.TriggerSignIn)

		role := s.resolveRole(ctx, sess.Identity)
		s.accept(ctx, ticket, session.TriggerSignIn, sess, role)
		return nil
	})
	if !ran {
		s.logger.DebugContext(ctx, "sign-in already being processed", "identity_id", sess.Identity.ID)
		metrics.EmitSuppressed(s.metrics, string(session.TriggerSignIn), reasonInProgress)
	}
}

// suppressSignIn returns a non-empty reason when a sign-in notification must be ignored:
// an in-progress activity is protected while a session is displayed, or the notification
// echoes a visibility change for the identity that is already published.
func (s *Synchronizer) suppressSignIn(ctx context.Context, identity session.Identity) string {
	snap := s.Snapshot()
	if !snap.IsAuthenticated() {
		return ""
	}
	if s.activity != nil && s.activity.IsProtected(ctx) {
		return reasonActivityProtected
	}
	if snap.Identity.ID != identity.ID || snap.Degraded {
		return ""
	}
	if s.cooldown.Within(session.SignalVisibility, s.now()) {
		return reasonVisibilityEcho
	}
	if s.flags != nil {
		if set, err := s.flags.IsSet(ctx, session.FlagSkipNextAuthChange); err == nil && set {
			return reasonVisibilityEcho
		}
	}
	return ""
}

// tokenRefreshed swaps the held session for the refreshed one. It never resolves the role
// and never publishes.
func (s *Synchronizer) tokenRefreshed(ctx context.Context, sess *session.Session) {
	if sess == nil || sess.Identity.IsZero() {
		return
	}
	if !s.cooldown.ShouldProceed(session.SignalTokenRefresh, s.now()) {
		s.logger.DebugContext(ctx, "token refresh suppressed", "identity_id", sess.Identity.ID)
		metrics.EmitSuppressed(s.metrics, string(session.TriggerTokenRefresh), reasonCooldown)
		return
	}

	s.mu.Lock()
	matches := s.snap.IsAuthenticated() && s.snap.Identity.ID == sess.Identity.ID
	if matches {
		s.current = cloneSession(sess)
	}
	s.mu.Unlock()

	if !matches {
		s.logger.DebugContext(ctx, "token refresh for unpublished identity ignored", "identity_id", sess.Identity.ID)
		metrics.EmitSuppressed(s.metrics, string(session.TriggerTokenRefresh), reasonIdentityMismatch)
		return
	}
	s.logger.DebugContext(ctx, "session token refreshed", "identity_id", sess.Identity.ID)
}

// NotifyVisible records that the tab became visible. It never triggers validation; it only
// opens the window in which a sign-in echo for the current identity is ignored.
func (s *Synchronizer) NotifyVisible(ctx context.Context) {
	s.markVisibility(ctx, "visible")
}

// NotifyFocused records that the window gained focus. It behaves like NotifyVisible.
func (s *Synchronizer) NotifyFocused(ctx context.Context) {
	s.markVisibility(ctx, "focused")
}

func (s *Synchronizer) markVisibility(ctx context.Context, source string) {
	if s.isClosed() {
		return
	}
	s.cooldown.Mark(session.SignalVisibility, s.now())
	if s.flags != nil {
		if err := s.flags.Set(ctx, session.FlagSkipNextAuthChange, s.cooldown.Window(session.SignalVisibility)); err != nil {
			s.logger.DebugContext(ctx, "set skip flag failed", "error", err)
		}
	}
	s.logger.DebugContext(ctx, "visibility change recorded", "source", source)
}

// Recheck re-validates the session on explicit request. Requests closer together than the
// recheck cooldown, or made while another validation runs, return false without effect.
// Activity protection does not apply.
func (s *Synchronizer) Recheck(ctx context.Context) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}
	if !s.cooldown.ShouldProceed(session.SignalRecheck, s.now()) {
		s.logger.DebugContext(ctx, "recheck suppressed")
		metrics.EmitSuppressed(s.metrics, string(session.TriggerRecheck), reasonCooldown)
		return false, nil
	}
	return s.validate(ctx, session.TriggerRecheck), nil
}

// SignOut ends the session locally: it asks the provider to terminate the session when the
// provider supports it, publishes unauthenticated and drops the cached role of the identity
// that was signed in. A provider failure is returned but never prevents the local sign-out.
func (s *Synchronizer) SignOut(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	prev := s.Snapshot()

	var termErr error
	if s.terminator != nil {
		if err := s.terminator.SignOut(ctx); err != nil {
			s.logger.WarnContext(ctx, "provider sign-out failed, signing out locally", "error", err)
			termErr = fmt.Errorf("terminate provider session: %w", err)
		}
	}

	s.signedOut(ctx, session.TriggerSignOut)
	if prev.Identity != nil {
		s.resolver.Forget(ctx, prev.Identity.ID)
	}
	return termErr
}
