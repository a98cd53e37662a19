package media

import "testing"

func TestJitterBufferWaitsForTargetDepth(t *testing.T) {
	j := NewJitterBuffer(3, 10)
	j.Push(1, 160, []byte{0xAA})
	j.Push(2, 320, []byte{0xBB})

	if _, _, ok := j.Pop(); ok {
		t.Fatal("Pop() returned ok before targetDepth packets buffered")
	}

	j.Push(3, 480, []byte{0xCC})
	payload, concealed, ok := j.Pop()
	if !ok || concealed {
		t.Fatalf("Pop() = (%v, %v, %v), want a real first frame", payload, concealed, ok)
	}
	if payload[0] != 0xAA {
		t.Errorf("first popped payload = %x, want 0xAA (lowest seq)", payload)
	}
}

func TestJitterBufferReordersOutOfOrderPackets(t *testing.T) {
	j := NewJitterBuffer(2, 10)
	j.Push(2, 320, []byte{0xBB})
	j.Push(1, 160, []byte{0xAA})

	payload, _, ok := j.Pop()
	if !ok || payload[0] != 0xAA {
		t.Fatalf("first Pop() = %x, ok=%v, want 0xAA first despite arrival order", payload, ok)
	}
	payload, _, ok = j.Pop()
	if !ok || payload[0] != 0xBB {
		t.Fatalf("second Pop() = %x, ok=%v, want 0xBB", payload, ok)
	}
}

func TestJitterBufferDropsDuplicateSequence(t *testing.T) {
	j := NewJitterBuffer(1, 10)
	j.Push(5, 160, []byte{0x01})
	j.Push(5, 160, []byte{0x02}) // duplicate seq, should be dropped

	if got := j.Depth(); got != 1 {
		t.Errorf("Depth() = %d, want 1 after duplicate push", got)
	}
}

func TestJitterBufferConcealsMissingPacket(t *testing.T) {
	j := NewJitterBuffer(1, 10)
	j.Push(1, 160, []byte{0xAA})
	if _, _, ok := j.Pop(); !ok {
		t.Fatal("expected first Pop() to succeed once target depth is met")
	}

	j.Push(3, 480, []byte{0xCC}) // seq 2 missing

	payload, concealed, ok := j.Pop()
	if !ok || !concealed {
		t.Fatalf("Pop() = (%x, concealed=%v, ok=%v), want a concealed frame for missing seq 2", payload, concealed, ok)
	}
	if payload[0] != 0xAA {
		t.Errorf("concealment payload = %x, want repeat of last good frame 0xAA", payload)
	}

	payload, concealed, ok = j.Pop()
	if !ok || concealed {
		t.Fatalf("Pop() after concealment = (%x, concealed=%v, ok=%v), want real seq 3 frame", payload, concealed, ok)
	}
	if payload[0] != 0xCC {
		t.Errorf("third popped payload = %x, want 0xCC", payload)
	}
}

func TestJitterBufferConcealmentGivesUpAfterTwoLosses(t *testing.T) {
	j := NewJitterBuffer(1, 10)
	j.Push(1, 160, []byte{0xAA})
	j.Pop()

	j.Push(5, 800, []byte{0xEE}) // seq 2, 3, 4 all missing

	for i := 0; i < 2; i++ {
		payload, concealed, ok := j.Pop()
		if !ok || !concealed {
			t.Fatalf("Pop() #%d = (concealed=%v, ok=%v), want concealed frame", i, concealed, ok)
		}
		if payload == nil {
			t.Fatalf("Pop() #%d returned nil payload within the two-loss concealment window", i)
		}
	}

	// Third consecutive loss: concealment gives up and returns a nil payload.
	payload, concealed, ok := j.Pop()
	if !ok || !concealed {
		t.Fatalf("third Pop() = (concealed=%v, ok=%v), want concealed=true, ok=true", concealed, ok)
	}
	if payload != nil {
		t.Errorf("third Pop() payload = %x, want nil once concealment gives up", payload)
	}
}

func TestJitterBufferDropsLatePacketBehindNextSeq(t *testing.T) {
	j := NewJitterBuffer(1, 10)
	j.Push(5, 160, []byte{0xAA})
	if _, _, ok := j.Pop(); !ok {
		t.Fatal("expected first Pop() to succeed once target depth is met")
	}
	// nextSeq is now 6; a packet for seq 5 arriving again (stale retransmit)
	// must be dropped, not inserted, or it would stall all future Pop()s.
	j.Push(5, 160, []byte{0xAA})

	if got := j.Depth(); got != 0 {
		t.Errorf("Depth() = %d after late packet, want 0 (dropped, not buffered)", got)
	}
	if got := j.LateCount(); got != 1 {
		t.Errorf("LateCount() = %d, want 1", got)
	}

	j.Push(6, 320, []byte{0xBB})
	payload, concealed, ok := j.Pop()
	if !ok || concealed {
		t.Fatalf("Pop() after late drop = (%x, concealed=%v, ok=%v), want real seq 6 frame", payload, concealed, ok)
	}
	if payload[0] != 0xBB {
		t.Errorf("payload = %x, want 0xBB", payload)
	}
}

func TestJitterBufferForceDrainsPastMaxDepth(t *testing.T) {
	j := NewJitterBuffer(2, 3)
	j.Push(1, 0, []byte{1})
	j.Push(2, 0, []byte{2})
	j.Push(3, 0, []byte{3})
	j.Push(4, 0, []byte{4}) // exceeds maxDepth, oldest (seq 1) force-drained

	if got := j.Depth(); got != 3 {
		t.Errorf("Depth() = %d, want 3 (capped at maxDepth)", got)
	}
}
