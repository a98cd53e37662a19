package trunk

import "testing"

func TestTrunkTryOriginateRespectsConcurrencyCap(t *testing.T) {
	tr := New("t1", "sip.carrier.example.com", 5060, "UDP", 1000, 2)

	if !tr.TryOriginate() {
		t.Fatal("first TryOriginate() = false, want true")
	}
	if !tr.TryOriginate() {
		t.Fatal("second TryOriginate() = false, want true")
	}
	if tr.TryOriginate() {
		t.Fatal("third TryOriginate() = true, want false (at MaxConcurrentCalls)")
	}

	tr.Release()
	if !tr.TryOriginate() {
		t.Fatal("TryOriginate() after Release() = false, want true")
	}
	if got := tr.ActiveCalls(); got != 2 {
		t.Errorf("ActiveCalls() = %d, want 2", got)
	}
}

func TestTrunkTryOriginateRespectsRateLimit(t *testing.T) {
	tr := New("t1", "sip.carrier.example.com", 5060, "UDP", 1, 100)

	if !tr.TryOriginate() {
		t.Fatal("first TryOriginate() = false, want true")
	}
	if tr.TryOriginate() {
		t.Fatal("second immediate TryOriginate() = true, want false (rate limited)")
	}
}

func TestTrunkReleaseNeverGoesNegative(t *testing.T) {
	tr := New("t1", "sip.carrier.example.com", 5060, "UDP", 5, 5)
	tr.Release()
	if got := tr.ActiveCalls(); got != 0 {
		t.Errorf("ActiveCalls() = %d, want 0", got)
	}
}

func TestTrunkSetHealthTracksConsecutiveFailures(t *testing.T) {
	tr := New("t1", "sip.carrier.example.com", 5060, "UDP", 5, 5)

	tr.SetHealth(false, 0)
	tr.SetHealth(false, 0)
	if got := tr.ConsecutiveFailures(); got != 2 {
		t.Errorf("ConsecutiveFailures() = %d, want 2", got)
	}
	if tr.Reachable() {
		t.Error("Reachable() = true, want false")
	}

	tr.SetHealth(true, 15)
	if got := tr.ConsecutiveFailures(); got != 0 {
		t.Errorf("ConsecutiveFailures() after recovery = %d, want 0", got)
	}
	if !tr.Reachable() {
		t.Error("Reachable() = false, want true")
	}
}

func TestRegistrySelectOutboundSkipsUnreachableAndInbound(t *testing.T) {
	reg := NewRegistry()

	inboundOnly := New("inbound1", "sip.inbound.example.com", 5060, "UDP", 5, 5)
	inboundOnly.SupportsInbound = true
	reg.Add(inboundOnly)

	unreachable := New("down1", "sip.down.example.com", 5060, "UDP", 5, 5)
	unreachable.SupportsOutbound = true
	unreachable.SetHealth(false, 0)
	reg.Add(unreachable)

	healthy := New("up1", "sip.up.example.com", 5060, "UDP", 5, 5)
	healthy.SupportsOutbound = true
	reg.Add(healthy)

	got := reg.SelectOutbound()
	if got == nil || got.ID != "up1" {
		t.Fatalf("SelectOutbound() = %+v, want up1", got)
	}
}

func TestRegistrySelectOutboundReturnsNilWhenNoneQualify(t *testing.T) {
	reg := NewRegistry()
	t1 := New("t1", "sip.carrier.example.com", 5060, "UDP", 5, 5)
	reg.Add(t1)

	if got := reg.SelectOutbound(); got != nil {
		t.Errorf("SelectOutbound() = %+v, want nil", got)
	}
}

func TestRegistryGetAndRemove(t *testing.T) {
	reg := NewRegistry()
	t1 := New("t1", "sip.carrier.example.com", 5060, "UDP", 5, 5)
	reg.Add(t1)

	if got, ok := reg.Get("t1"); !ok || got != t1 {
		t.Fatalf("Get(t1) = %+v, %v", got, ok)
	}

	reg.Remove("t1")
	if _, ok := reg.Get("t1"); ok {
		t.Error("Get(t1) after Remove() found a trunk, want not found")
	}
	if len(reg.All()) != 0 {
		t.Errorf("All() = %v, want empty", reg.All())
	}
}

func TestRegistryPreservesOrderAfterRemoveAndReAdd(t *testing.T) {
	reg := NewRegistry()
	reg.Add(New("a", "a.example.com", 5060, "UDP", 5, 5))
	reg.Add(New("b", "b.example.com", 5060, "UDP", 5, 5))
	reg.Remove("a")
	reg.Add(New("c", "c.example.com", 5060, "UDP", 5, 5))

	all := reg.All()
	if len(all) != 2 || all[0].ID != "b" || all[1].ID != "c" {
		t.Fatalf("All() = %+v, want [b c]", all)
	}
}
