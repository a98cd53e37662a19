package callmanager

import "testing"

func TestStateCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateInit, StateRinging, true},
		{StateInit, StateBridged, false},
		{StateRinging, StateAnswered, true},
		{StateRinging, StateEnding, true},
		{StateAnswered, StateBridged, true},
		{StateAnswered, StateHolding, false},
		{StateBridged, StateHolding, true},
		{StateHolding, StateBridged, true},
		{StateBridged, StateInit, false},
		{StateEnding, StateEnded, true},
		{StateEnded, StateRinging, false},
		{StateEnded, StateEnded, false},
	}

	for _, c := range cases {
		got := c.from.canTransitionTo(c.to)
		if got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateBridged.String() != "bridged" {
		t.Errorf("String() = %q, want %q", StateBridged.String(), "bridged")
	}
}

func TestErrInvalidTransition(t *testing.T) {
	err := errInvalidTransition(StateInit, StateBridged)
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	want := "callmanager: invalid call state transition init -> bridged"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}
