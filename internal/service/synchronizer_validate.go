package service

import (
	"context"
	"fmt"
	"time"

	"github.com/target/sessionsync/internal/domain/retry"
	"github.com/target/sessionsync/internal/domain/session"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/observability/metrics"
)

// validate runs one validation pass under the session-check guard. It returns false without
// doing anything when another validation is already running.
func (s *Synchronizer) validate(ctx context.Context, trigger session.Trigger) bool {
	ran, _ := s.guard.Do(ctx, session.FlagSessionCheckInProgress, func(ctx context.Context) error {
		s.runValidation(ctx, trigger)
		return nil
	})
	if !ran {
		s.logger.DebugContext(ctx, "validation already in progress", "trigger", trigger)
		metrics.EmitSuppressed(s.metrics, string(trigger), "in_progress")
	}
	return ran
}

func (s *Synchronizer) runValidation(ctx context.Context, trigger session.Trigger) {
	ticket := s.begin()
	defer s.end()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.Internalf("session validation panicked: %v", r)
			s.logger.ErrorContext(ctx, "session validation failed", "trigger", trigger, "error", err)
			s.publish(ctx, ticket, session.Unauthenticated(), session.TriggerFailure, nil)
			s.emitValidation(trigger, started, err)
		}
	}()

	sess, err := s.fetchSession(ctx, s.retry)
	if err != nil {
		s.recoverFrom(ctx, ticket, trigger, err)
		s.emitValidation(trigger, started, err)
		return
	}

	if sess == nil && s.recentlyAuthenticated(ctx) {
		s.logger.InfoContext(ctx, "session missing shortly after authentication, retrying once",
			"trigger", trigger, "delay", s.cfg.TransientRetryDelay)
		metrics.EmitRecovery(s.metrics, metrics.RecoveryTransient)

		if err := s.sleep(ctx, s.cfg.TransientRetryDelay); err != nil {
			s.recoverFrom(ctx, ticket, trigger, err)
			s.emitValidation(trigger, started, err)
			return
		}
		sess, err = s.fetchSession(ctx, s.once)
		if err != nil {
			s.recoverFrom(ctx, ticket, trigger, err)
			s.emitValidation(trigger, started, err)
			return
		}
	}

	if sess == nil {
		if s.publish(ctx, ticket, session.Unauthenticated(), trigger, nil) {
			s.persist(ctx, ticket, session.LastKnownState{Status: session.StatusUnauthenticated})
		}
		s.emitValidation(trigger, started, nil)
		return
	}

	role := s.resolveRole(ctx, sess.Identity)
	s.accept(ctx, ticket, trigger, sess, role)
	s.emitValidation(trigger, started, nil)
}

// fetchSession asks the provider for the current session under the given retry policy.
// Expired or subject-less sessions count as absent.
func (s *Synchronizer) fetchSession(ctx context.Context, executor *retry.Executor) (*session.Session, error) {
	sess, err := retry.Run(ctx, executor, "get current session", s.provider.GetCurrentSession)
	if err != nil {
		if apperrors.IsProviderUnavailable(err) || apperrors.IsTimeout(err) {
			return nil, err
		}
		return nil, apperrors.ProviderUnavailable(err)
	}
	if sess == nil || sess.Identity.IsZero() || sess.Expired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// recentlyAuthenticated reports whether the last recorded observation was an authenticated
// identity inside the transient window.
func (s *Synchronizer) recentlyAuthenticated(ctx context.Context) bool {
	last, ok := s.cache.LastKnown(ctx)
	return ok && last.AuthenticatedWithin(s.now(), s.cfg.TransientWindow)
}

// resolveRole resolves the identity's role. The resolver applies its own retry policy to the
// lookup only. Lookup failures degrade to RoleUnknown so that a live session is never
// rejected because the profile store is down.
func (s *Synchronizer) resolveRole(ctx context.Context, identity session.Identity) session.Role {
	role, err := s.resolver.Resolve(ctx, identity)
	if err != nil {
		s.logger.WarnContext(ctx, "role resolution failed, continuing with unknown role",
			"identity_id", identity.ID, "error", err)
		return session.RoleUnknown
	}
	return role
}

// accept publishes an authenticated snapshot for a live session and records the observation.
func (s *Synchronizer) accept(
	ctx context.Context,
	ticket uint64,
	trigger session.Trigger,
	sess *session.Session,
	role session.Role,
) bool {
	if !s.publish(ctx, ticket, session.Authenticated(sess.Identity, role), trigger, sess) {
		return false
	}
	s.persist(ctx, ticket, session.LastKnownState{
		Status:     session.StatusAuthenticated,
		IdentityID: sess.Identity.ID,
		Email:      sess.Identity.Email,
	})
	return true
}

// recoverFrom decides what to publish after the provider could not be consulted. A recent
// authenticated observation with a cached role yields a degraded authenticated snapshot;
// anything else yields unauthenticated. The last-known state is left untouched.
func (s *Synchronizer) recoverFrom(ctx context.Context, ticket uint64, trigger session.Trigger, cause error) {
	last, ok := s.cache.LastKnown(ctx)
	if ok && last.AuthenticatedWithin(s.now(), s.cfg.RecoveryWindow) {
		if entry, hit := s.cache.Get(ctx, last.IdentityID); hit {
			snap := session.Authenticated(session.Identity{ID: last.IdentityID, Email: last.Email}, entry.Role)
			snap.Degraded = true
			s.logger.WarnContext(ctx, "identity provider unavailable, continuing with cached session",
				"trigger", trigger, "identity_id", last.IdentityID, "role", entry.Role, "error", cause)
			metrics.EmitRecovery(s.metrics, metrics.RecoveryDegraded)
			s.publish(ctx, ticket, snap, session.TriggerRecovery, nil)
			return
		}
	}

	s.logger.WarnContext(ctx, "identity provider unavailable, treating session as signed out",
		"trigger", trigger, "error", cause)
	metrics.EmitRecovery(s.metrics, metrics.RecoveryLoggedOut)
	s.publish(ctx, ticket, session.Unauthenticated(), session.TriggerRecovery, nil)
}

func (s *Synchronizer) emitValidation(trigger session.Trigger, started time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitValidation(s.metrics, metrics.Validation{
		Trigger:  string(trigger),
		Result:   result,
		Duration: time.Since(started),
		Err:      err,
	})
}

// guardPanic converts a panic in an event handler into an unauthenticated snapshot.
func (s *Synchronizer) guardPanic(ctx context.Context, ticket uint64, trigger session.Trigger) {
	if r := recover(); r != nil {
		s.logger.ErrorContext(ctx, "session event handler failed",
			"trigger", trigger, "error", fmt.Errorf("panic: %v", r))
		s.publish(ctx, ticket, session.Unauthenticated(), session.TriggerFailure, nil)
	}
}
