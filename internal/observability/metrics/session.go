package metrics

import (
	"time"

	obserrors "github.com/target/sessionsync/internal/observability/errors"
	"github.com/target/sessionsync/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Recovery outcomes.
const (
	RecoveryDegraded  = "degraded"
	RecoveryLoggedOut = "logged_out"
	RecoveryTransient = "transient_retry"
)

// Transition captures a published state change.
type Transition struct {
	From    string
	To      string
	Trigger string
}

// Validation captures one pass of session validation for metric emission.
type Validation struct {
	Trigger  string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitTransition counts a published session state change.
func EmitTransition(sink statsd.Sink, in Transition) {
	if sink == nil {
		return
	}
	sink.Count("session.transition", 1, map[string]string{
		"from":    in.From,
		"to":      in.To,
		"trigger": in.Trigger,
	})
}

// EmitSuppressed counts a signal that was dropped without effect.
func EmitSuppressed(sink statsd.Sink, signal, reason string) {
	if sink == nil {
		return
	}
	sink.Count("session.suppressed", 1, map[string]string{
		"signal": signal,
		"reason": reason,
	})
}

// EmitValidation emits the outcome and duration of a validation pass.
func EmitValidation(sink statsd.Sink, in Validation) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"trigger": in.Trigger,
		"result":  in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("session.validation.count", 1, tags)

	if in.Duration > 0 {
		sink.Timing("session.validation", in.Duration, CloneTags(tags))
	}
}

// EmitRecovery counts a recovery decision taken after validation failed.
func EmitRecovery(sink statsd.Sink, outcome string) {
	if sink == nil {
		return
	}
	sink.Count("session.recovery", 1, map[string]string{"outcome": outcome})
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
