package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/target/sessionsync/internal/errors"
	"github.com/target/sessionsync/internal/observability/statsd"
)

func TestEmitValidation_ErrorAddsClass(t *testing.T) {
	t.Parallel()

	sink := &statsd.Recorder{}
	EmitValidation(sink, Validation{
		Trigger:  "mount",
		Result:   ResultError,
		Duration: 120 * time.Millisecond,
		Err:      apperrors.ProviderUnavailable(errors.New("dial tcp: refused")),
	})

	got := sink.Metrics()
	require.Len(t, got, 2)
	count, timing := got[0], got[1]
	assert.Equal(t, "session.validation.count", count.Name)
	assert.Equal(t, "provider_unavailable", count.Tags["error_class"])
	assert.Equal(t, "mount", count.Tags["trigger"])
	assert.Equal(t, "session.validation", timing.Name)
	assert.Equal(t, count.Tags, timing.Tags)

	// Tag maps must not be shared between emissions.
	count.Tags["trigger"] = "mutated"
	assert.Equal(t, "mount", timing.Tags["trigger"])
}

func TestEmitValidation_SuccessHasNoClass(t *testing.T) {
	t.Parallel()

	sink := &statsd.Recorder{}
	EmitValidation(sink, Validation{Trigger: "recheck", Result: ResultSuccess, Err: errors.New("ignored")})

	got := sink.Metrics()
	require.Len(t, got, 1)
	_, ok := got[0].Tags["error_class"]
	assert.False(t, ok)
}

func TestEmitTransitionSuppressedRecovery(t *testing.T) {
	t.Parallel()

	sink := &statsd.Recorder{}
	EmitTransition(sink, Transition{From: "validating", To: "authenticated", Trigger: "mount"})
	EmitSuppressed(sink, "sign_in", "visibility_echo")
	EmitRecovery(sink, RecoveryDegraded)

	got := sink.Metrics()
	require.Len(t, got, 3)
	assert.Equal(t, "session.transition", got[0].Name)
	assert.Equal(t, "authenticated", got[0].Tags["to"])
	assert.Equal(t, "session.suppressed", got[1].Name)
	assert.Equal(t, "visibility_echo", got[1].Tags["reason"])
	assert.Equal(t, "session.recovery", got[2].Name)
	assert.Equal(t, "degraded", got[2].Tags["outcome"])
}

func TestEmitNilSink(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		EmitTransition(nil, Transition{})
		EmitSuppressed(nil, "", "")
		EmitValidation(nil, Validation{Result: ResultError, Err: errors.New("x")})
		EmitRecovery(nil, RecoveryLoggedOut)
	})
}

func TestCloneTags(t *testing.T) {
	t.Parallel()

	assert.Nil(t, CloneTags(nil))
	src := map[string]string{"a": "1"}
	cp := CloneTags(src)
	cp["a"] = "2"
	assert.Equal(t, "1", src["a"])
}
