package session

import "testing"

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUninitialized, StateValidating, true},
		{StateUninitialized, StateAuthenticated, false},
		{StateValidating, StateAuthenticated, true},
		{StateValidating, StateUnauthenticated, true},
		{StateAuthenticated, StateValidating, true},
		{StateAuthenticated, StateUnauthenticated, true},
		{StateUnauthenticated, StateAuthenticated, true},
		{StateAuthenticated, StateUninitialized, false},
		{State("bogus"), StateValidating, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateOf(t *testing.T) {
	if got := StateOf(Snapshot{}); got != StateValidating {
		t.Fatalf("not-ready snapshot should be validating, got %s", got)
	}
	if got := StateOf(Unauthenticated()); got != StateUnauthenticated {
		t.Fatalf("got %s", got)
	}
	if got := StateOf(Authenticated(Identity{ID: "u"}, RoleAdmin)); got != StateAuthenticated {
		t.Fatalf("got %s", got)
	}
}
