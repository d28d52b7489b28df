package session

// EventType names an identity provider change notification.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// ChangeEvent is a notification emitted by the identity provider.
// Session is nil for EventSignedOut.
type ChangeEvent struct {
	Type    EventType
	Session *Session
}

// Trigger names what caused a validation or publish, for logs and metrics.
type Trigger string

const (
	TriggerMount        Trigger = "mount"
	TriggerSignIn       Trigger = "sign_in"
	TriggerSignOut      Trigger = "sign_out"
	TriggerTokenRefresh Trigger = "token_refresh"
	TriggerRecheck      Trigger = "recheck"
	TriggerRecovery     Trigger = "recovery"
	TriggerFailure      Trigger = "failure"
)

// Flag names a short-lived guard flag held in the ephemeral flags store.
type Flag string

const (
	FlagSessionCheckInProgress Flag = "session_check_in_progress"
	FlagAuthChangeInProgress   Flag = "auth_change_in_progress"
	FlagSkipNextAuthChange     Flag = "skip_next_auth_change"
	FlagActivityInProgress     Flag = "activity_in_progress"
)
