package session

import "fmt"

// State is the synchronizer's state machine position.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateValidating      State = "validating"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

// Stable reports whether the state is one of the resting states a validation can conclude in.
func (s State) Stable() bool {
	return s == StateAuthenticated || s == StateUnauthenticated
}

// CanTransition reports whether moving from s to next is a legal transition.
//
//	uninitialized -> validating
//	validating    -> authenticated | unauthenticated
//	authenticated | unauthenticated -> validating | authenticated | unauthenticated
//
// Stable states may move directly to another stable state because provider
// notifications (sign-in, sign-out) and recovery publish without re-validating.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateUninitialized:
		return next == StateValidating
	case StateValidating:
		return next.Stable() || next == StateValidating
	case StateAuthenticated, StateUnauthenticated:
		return next == StateValidating || next.Stable()
	default:
		return false
	}
}

// ErrInvalidTransition is returned when a state change violates the state machine.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

// StateOf derives the stable state represented by a ready snapshot.
func StateOf(s Snapshot) State {
	if !s.Ready {
		return StateValidating
	}
	if s.IsAuthenticated() {
		return StateAuthenticated
	}
	return StateUnauthenticated
}
