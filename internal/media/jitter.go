package media

import "sort"

// jitterEntry holds one buffered RTP packet pending playout.
type jitterEntry struct {
	seq       uint16
	timestamp uint32
	payload   []byte
}

// JitterBuffer reorders RTP packets that arrive out of sequence and smooths
// network jitter by holding a small window of packets before releasing them
// for playout. When a packet is missing at playout time it synthesizes a
// concealment frame instead of leaving a gap.
//
// Not safe for concurrent use; callers serialize access per call leg.
type JitterBuffer struct {
	targetDepth int // packets to hold before playout starts
	maxDepth    int // packets to hold before force-draining the oldest
	entries     []jitterEntry
	started     bool
	nextSeq     uint16
	plc         *plcState
	lateCount   int // packets dropped because they arrived behind nextSeq
}

// NewJitterBuffer creates a buffer holding targetDepth packets (20ms frames)
// before playout begins, and force-draining once maxDepth is exceeded.
func NewJitterBuffer(targetDepth, maxDepth int) *JitterBuffer {
	if targetDepth < 1 {
		targetDepth = 1
	}
	if maxDepth < targetDepth {
		maxDepth = targetDepth * 4
	}
	return &JitterBuffer{
		targetDepth: targetDepth,
		maxDepth:    maxDepth,
		plc:         &plcState{},
	}
}

// Push inserts a received packet into the buffer in sequence order.
// Duplicate sequence numbers are dropped. A packet that arrives behind
// nextSeq (a late retransmit or stale duplicate after playout has already
// moved past it) is dropped and counted as late loss rather than inserted,
// since it can neither satisfy the ready-frame check nor the concealment
// check in Pop and would otherwise stall playout indefinitely.
func (j *JitterBuffer) Push(seq uint16, timestamp uint32, payload []byte) {
	if j.started && seqLess(seq, j.nextSeq) {
		j.lateCount++
		return
	}
	for _, e := range j.entries {
		if e.seq == seq {
			return
		}
	}
	j.entries = append(j.entries, jitterEntry{seq: seq, timestamp: timestamp, payload: payload})
	sort.Slice(j.entries, func(a, b int) bool {
		return seqLess(j.entries[a].seq, j.entries[b].seq)
	})
	if len(j.entries) > j.maxDepth {
		// Force-drain the oldest entry so the buffer does not grow without bound
		// under sustained burst arrival.
		j.entries = j.entries[1:]
	}
}

// Pop returns the next frame for playout: a buffered packet's payload if one
// is ready, or a concealment frame synthesized from the last good frame if
// the expected packet has not arrived. ok is false before playout has
// accumulated targetDepth packets, and whenever the buffer holds nothing to
// play or conceal.
func (j *JitterBuffer) Pop() (payload []byte, concealed bool, ok bool) {
	if !j.started {
		if len(j.entries) < j.targetDepth {
			return nil, false, false
		}
		j.started = true
		j.nextSeq = j.entries[0].seq
	}

	if len(j.entries) > 0 && j.entries[0].seq == j.nextSeq {
		e := j.entries[0]
		j.entries = j.entries[1:]
		j.nextSeq++
		j.plc.observe(e.payload)
		return e.payload, false, true
	}

	// Expected packet missing while a later one is already buffered: conceal
	// this slot and advance nextSeq without waiting for it.
	if len(j.entries) > 0 && seqLess(j.nextSeq, j.entries[0].seq) {
		concealedFrame := j.plc.conceal()
		j.nextSeq++
		return concealedFrame, true, true
	}

	return nil, false, false
}

// Depth returns the number of packets currently buffered.
func (j *JitterBuffer) Depth() int {
	return len(j.entries)
}

// LateCount returns the number of packets dropped for arriving behind
// nextSeq since the buffer started playout.
func (j *JitterBuffer) LateCount() int {
	return j.lateCount
}

func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// plcState implements waveform-substitution packet loss concealment: repeat
// the last good G.711 payload verbatim for up to two consecutive losses,
// which masks isolated drops far better than silence. Beyond that the
// concealment gives up and returns nil so the caller can fall back to
// comfort noise rather than looping a stale buzz indefinitely.
type plcState struct {
	lastPayload []byte
	lossStreak  int
}

func (p *plcState) observe(payload []byte) {
	p.lastPayload = append(p.lastPayload[:0], payload...)
	p.lossStreak = 0
}

func (p *plcState) conceal() []byte {
	p.lossStreak++
	if p.lastPayload == nil || p.lossStreak > 2 {
		return nil
	}
	out := make([]byte, len(p.lastPayload))
	copy(out, p.lastPayload)
	return out
}
