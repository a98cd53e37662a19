package media

import "testing"

func TestPortPoolAllocateReturnsEvenOddPair(t *testing.T) {
	pool := NewPortPool(10000, 10010)

	rtp, rtcp, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if rtp%2 != 0 {
		t.Errorf("rtp port %d is not even", rtp)
	}
	if rtcp != rtp+1 {
		t.Errorf("rtcp port = %d, want %d", rtcp, rtp+1)
	}
}

func TestPortPoolRoundsUpOddMinPort(t *testing.T) {
	pool := NewPortPool(10001, 10010)
	rtp, _, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if rtp < 10002 {
		t.Errorf("rtp port = %d, want >= 10002 (min rounded up to even)", rtp)
	}
}

func TestPortPoolExhaustion(t *testing.T) {
	pool := NewPortPool(10000, 10004) // two pairs: 10000, 10002

	if _, _, err := pool.Allocate(); err != nil {
		t.Fatalf("first Allocate() error = %v", err)
	}
	if _, _, err := pool.Allocate(); err != nil {
		t.Fatalf("second Allocate() error = %v", err)
	}
	if _, _, err := pool.Allocate(); err != ErrNoPortsAvailable {
		t.Fatalf("third Allocate() error = %v, want ErrNoPortsAvailable", err)
	}
}

func TestPortPoolReleaseReturnsPortToAvailable(t *testing.T) {
	pool := NewPortPool(10000, 10004)

	rtp, _, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if got := pool.Allocated(); got != 1 {
		t.Errorf("Allocated() = %d, want 1", got)
	}

	pool.Release(rtp)
	if got := pool.Allocated(); got != 0 {
		t.Errorf("Allocated() after Release() = %d, want 0", got)
	}
	if got := pool.Available(); got != 2 {
		t.Errorf("Available() after Release() = %d, want 2", got)
	}
}

func TestPortPoolReleaseUnknownPortIsNoop(t *testing.T) {
	pool := NewPortPool(10000, 10004)
	pool.Release(19999)
	if got := pool.Available(); got != 2 {
		t.Errorf("Available() after releasing unknown port = %d, want 2", got)
	}
}

func TestPortPoolAllocateAlwaysReturnsLowestFreePort(t *testing.T) {
	pool := NewPortPool(10000, 10008) // 10000, 10002, 10004, 10006

	first, _, _ := pool.Allocate()
	second, _, _ := pool.Allocate()
	if first != 10000 || second != 10002 {
		t.Fatalf("allocation order = (%d, %d), want (10000, 10002)", first, second)
	}

	pool.Release(first)
	third, _, err := pool.Allocate()
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if third != first {
		t.Errorf("Allocate() after release = %d, want the released lowest port %d", third, first)
	}
}
