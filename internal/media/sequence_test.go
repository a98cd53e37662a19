package media

import "testing"

func TestSequenceTrackerFirstPacket(t *testing.T) {
	s := NewSequenceTracker()
	ext, lost, reordered := s.Update(1000)
	if ext != 1000 || lost != 0 || reordered {
		t.Errorf("Update(1000) = (%d, %d, %v), want (1000, 0, false)", ext, lost, reordered)
	}
}

func TestSequenceTrackerInOrderNoLoss(t *testing.T) {
	s := NewSequenceTracker()
	s.Update(100)
	s.Update(101)
	_, lost, reordered := s.Update(102)
	if lost != 0 || reordered {
		t.Errorf("(lost, reordered) = (%d, %v), want (0, false) for in-order packets", lost, reordered)
	}
	received, totalLost := s.Stats()
	if received != 3 || totalLost != 0 {
		t.Errorf("Stats() = (%d, %d), want (3, 0)", received, totalLost)
	}
}

func TestSequenceTrackerDetectsGap(t *testing.T) {
	s := NewSequenceTracker()
	s.Update(100)
	_, lost, _ := s.Update(105)
	if lost != 4 {
		t.Errorf("lost = %d, want 4 (packets 101-104 missing)", lost)
	}
}

func TestSequenceTrackerDetectsReorder(t *testing.T) {
	s := NewSequenceTracker()
	s.Update(100)
	s.Update(101)
	_, lost, reordered := s.Update(100) // stale retransmit of an already-seen seq
	if lost != 0 || !reordered {
		t.Errorf("(lost, reordered) = (%d, %v), want (0, true) for a packet arriving behind lastSeq", lost, reordered)
	}
}

func TestSequenceTrackerHandlesRollover(t *testing.T) {
	s := NewSequenceTracker()
	s.Update(0xFFFE)
	ext, lost, reordered := s.Update(0x0001)
	if lost != 2 || reordered {
		t.Errorf("(lost, reordered) across rollover = (%d, %v), want (2, false) (in-order wrap skipping 0xFFFF and 0x0000)", lost, reordered)
	}
	if ext>>16 != 1 {
		t.Errorf("cycles after rollover = %d, want 1", ext>>16)
	}
}

func TestSequenceTrackerLossRate(t *testing.T) {
	s := NewSequenceTracker()
	s.Update(100)
	s.Update(105) // 4 lost between 100 and 105

	if got := s.LossRate(); got <= 0 || got >= 1 {
		t.Errorf("LossRate() = %v, want between 0 and 1", got)
	}
}

func TestSequenceTrackerLossRateZeroWhenEmpty(t *testing.T) {
	s := NewSequenceTracker()
	if got := s.LossRate(); got != 0 {
		t.Errorf("LossRate() on empty tracker = %v, want 0", got)
	}
}

func TestSequenceTrackerReset(t *testing.T) {
	s := NewSequenceTracker()
	s.Update(100)
	s.Update(105)
	s.Reset()

	received, lost := s.Stats()
	if received != 0 || lost != 0 {
		t.Errorf("Stats() after Reset() = (%d, %d), want (0, 0)", received, lost)
	}

	ext, lostFirst, reordered := s.Update(42)
	if ext != 42 || lostFirst != 0 || reordered {
		t.Errorf("Update() after Reset() = (%d, %d, %v), want (42, 0, false) as if first packet", ext, lostFirst, reordered)
	}
}
