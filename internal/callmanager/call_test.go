package callmanager

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/dialtone/voicebridge/internal/events"
	"github.com/dialtone/voicebridge/internal/media"
	"github.com/dialtone/voicebridge/internal/trunk"
	"github.com/dialtone/voicebridge/internal/users"
)

func TestCallDispositionMapping(t *testing.T) {
	cases := []struct {
		reason events.EndReason
		want   string
	}{
		{events.EndReasonNormal, events.DispositionAnswered},
		{events.EndReasonBusy, events.DispositionBusy},
		{events.EndReasonNoAnswer, events.DispositionNoAnswer},
		{events.EndReasonCancelled, events.DispositionCanceled},
	}

	for _, c := range cases {
		call := &Call{endReason: c.reason}
		if got := call.cdrDisposition(); got != c.want {
			t.Errorf("cdrDisposition(%s) = %q, want %q", c.reason, got, c.want)
		}
	}
}

func TestCallDispositionUnansweredFailsUnknownReason(t *testing.T) {
	call := &Call{endReason: events.EndReasonMediaError}
	if got := call.cdrDisposition(); got != events.DispositionFailed {
		t.Errorf("cdrDisposition() = %q, want %q", got, events.DispositionFailed)
	}
}

func TestCallDispositionAnsweredUnknownReason(t *testing.T) {
	call := &Call{endReason: events.EndReasonShutdown}
	call.answeredAt = call.createdAt.Add(1)
	if got := call.cdrDisposition(); got != events.DispositionAnswered {
		t.Errorf("cdrDisposition() = %q, want %q", got, events.DispositionAnswered)
	}
}

func TestCallRingTimerFiresWhenNotStopped(t *testing.T) {
	call := &Call{}
	fired := make(chan struct{})
	call.startRingTimer(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("ring timer never fired")
	}
}

func TestCallRingTimerStopPreventsFire(t *testing.T) {
	call := &Call{}
	fired := make(chan struct{})
	call.startRingTimer(20*time.Millisecond, func() { close(fired) })
	call.stopRingTimer()

	select {
	case <-fired:
		t.Fatal("ring timer fired after being stopped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallTeardownReleasesAdmission(t *testing.T) {
	u := &users.User{Username: "alice", MaxConcurrentCalls: 1}
	if !u.TryAdmitCall() {
		t.Fatal("TryAdmitCall() = false, want true on first call")
	}
	tr := trunk.New("t1", "10.0.0.1", 5060, "UDP", 1, 1)
	if !tr.TryOriginate() {
		t.Fatal("TryOriginate() = false, want true on first call")
	}

	call := &Call{mgr: &Manager{}}
	call.attachAdmission(u, tr)
	call.teardown()

	if u.ActiveCalls != 0 {
		t.Errorf("user.ActiveCalls = %d after teardown, want 0", u.ActiveCalls)
	}
	if got := tr.ActiveCalls(); got != 0 {
		t.Errorf("trunk.ActiveCalls() = %d after teardown, want 0", got)
	}
}

func TestCallEmitCDRReportsMediaStatsSnapshottedAtTeardown(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	defer conn.Close()
	remote := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}

	pub := events.NewChannelPublisher(4)
	mgr := &Manager{publisher: pub, log: slog.Default()}
	call := newCall(mgr, "call-1", events.DirectionInbound, "sip:alice@example.com", "sip:bob@example.com", nil)
	call.codec = media.CodecPCMU
	call.pipeline = media.NewPipeline(conn, remote, media.CodecPCMU, 3, nil, nil, nil)

	call.answeredAt = call.createdAt.Add(time.Second)
	call.endedAt = call.answeredAt.Add(5 * time.Second)
	call.endReason = events.EndReasonNormal

	call.teardown()
	call.emitCDR()

	select {
	case evt := <-pub.Events():
		ce, ok := evt.(*events.CallEndedEvent)
		if !ok {
			t.Fatalf("published event type = %T, want *events.CallEndedEvent", evt)
		}
		if ce.Codec != media.CodecPCMU.Name {
			t.Errorf("Codec = %q, want %q", ce.Codec, media.CodecPCMU.Name)
		}
		if ce.Direction != events.DirectionInbound {
			t.Errorf("Direction = %q, want %q", ce.Direction, events.DirectionInbound)
		}
		if ce.From.URI != "sip:alice@example.com" {
			t.Errorf("From.URI = %q, want sip:alice@example.com", ce.From.URI)
		}
	case <-time.After(time.Second):
		t.Fatal("no CallEndedEvent published")
	}
}
