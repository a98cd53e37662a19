package dialog

import "testing"

func TestCallStateCanTransitionToAllowedStates(t *testing.T) {
	cases := []struct {
		from, to CallState
		want     bool
	}{
		{StateInitial, StateEarly, true},
		{StateInitial, StateTerminated, true},
		{StateInitial, StateConfirmed, false},
		{StateEarly, StateWaitingACK, true},
		{StateEarly, StateConfirmed, false},
		{StateWaitingACK, StateConfirmed, true},
		{StateConfirmed, StateTerminating, true},
		{StateConfirmed, StateEarly, false},
		{StateTerminating, StateTerminated, true},
		{StateTerminated, StateInitial, false},
		{StateTerminated, StateTerminated, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCallStateIsTerminal(t *testing.T) {
	if !StateTerminated.IsTerminal() {
		t.Error("StateTerminated.IsTerminal() = false, want true")
	}
	nonTerminal := []CallState{StateInitial, StateEarly, StateWaitingACK, StateConfirmed, StateTerminating}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
	}
}

func TestCallStateStringKnownAndUnknown(t *testing.T) {
	if got := StateConfirmed.String(); got != "Confirmed" {
		t.Errorf("String() = %q, want Confirmed", got)
	}
	if got := CallState(99).String(); got != "Unknown(99)" {
		t.Errorf("String() = %q, want Unknown(99)", got)
	}
}

func TestTerminateReasonString(t *testing.T) {
	cases := map[TerminateReason]string{
		ReasonLocalBYE:  "LocalBYE",
		ReasonRemoteBYE: "RemoteBYE",
		ReasonCancel:    "Cancel",
		ReasonTimeout:   "Timeout",
		ReasonError:     "Error",
	}
	for reason, want := range cases {
		if got := reason.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", reason, got, want)
		}
	}
	if got := TerminateReason(99).String(); got != "Unknown(99)" {
		t.Errorf("String() = %q, want Unknown(99)", got)
	}
}
