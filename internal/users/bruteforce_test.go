package users

import "testing"

func TestIPGuardBlocksAfterMaxFailedAttempts(t *testing.T) {
	g := NewIPGuard(nil)
	source := "203.0.113.5:5060"

	for i := 0; i < ipMaxFailedAttempts-1; i++ {
		g.RecordFailure(source)
		if g.IsBlocked(source) {
			t.Fatalf("blocked after %d failures, want unblocked below threshold", i+1)
		}
	}

	g.RecordFailure(source)
	if !g.IsBlocked(source) {
		t.Fatal("expected blocked after ipMaxFailedAttempts failures")
	}
}

func TestIPGuardRecordSuccessClearsFailures(t *testing.T) {
	g := NewIPGuard(nil)
	source := "203.0.113.5:5060"

	for i := 0; i < ipMaxFailedAttempts-1; i++ {
		g.RecordFailure(source)
	}
	g.RecordSuccess(source)
	g.RecordFailure(source)

	if g.IsBlocked(source) {
		t.Fatal("expected unblocked: successful auth should reset the failure count")
	}
}

func TestIPGuardUnrelatedIPsAreIndependent(t *testing.T) {
	g := NewIPGuard(nil)
	attacker := "198.51.100.9:5060"
	innocent := "198.51.100.10:5060"

	for i := 0; i < ipMaxFailedAttempts; i++ {
		g.RecordFailure(attacker)
	}

	if !g.IsBlocked(attacker) {
		t.Error("expected attacker IP to be blocked")
	}
	if g.IsBlocked(innocent) {
		t.Error("expected innocent IP to remain unblocked")
	}
}

func TestExtractIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.5:5060": "203.0.113.5",
		"203.0.113.5":      "203.0.113.5",
		"":                 "",
		"not-an-ip":        "",
	}
	for in, want := range cases {
		if got := extractIP(in); got != want {
			t.Errorf("extractIP(%q) = %q, want %q", in, got, want)
		}
	}
}
