// Package callmanager is the central per-call supervisor (Call Manager):
// it admits calls, drives the Call state machine, constructs the media
// pipeline and AI bridge session for inbound calls, and emits CDRs on
// completion.
package callmanager

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dialtone/voicebridge/internal/bridge"
	"github.com/dialtone/voicebridge/internal/dialog"
	"github.com/dialtone/voicebridge/internal/events"
	"github.com/dialtone/voicebridge/internal/media"
	"github.com/dialtone/voicebridge/internal/trunk"
	"github.com/dialtone/voicebridge/internal/users"
)

// Call is one call's lifecycle: its SIP dialog, media pipeline, and (for
// bridged calls) AI WebSocket session. A Call owns all three and tears them
// down together in reverse construction order when it ends.
type Call struct {
	mu sync.RWMutex

	id        string
	direction events.Direction
	fromURI   string
	toURI     string

	createdAt  time.Time
	answeredAt time.Time
	endedAt    time.Time
	endReason  events.EndReason

	state State

	dlg *dialog.Dialog

	conn       net.PacketConn
	rtpPort    int
	rtcpPort   int
	codec      media.Codec
	pipeline   *media.Pipeline
	bridgeSess *bridge.Session
	bridgeCtx  context.Context
	cancelBrg  context.CancelFunc

	trunk *trunk.Trunk
	user  *users.User

	ringTimer *time.Timer

	// finalMediaStats and finalBridgeBytes* are snapshotted in teardown,
	// before the pipeline and bridge session are released, so emitCDR (which
	// always runs after teardown) still has numbers to report.
	finalMediaStats     media.SessionStats
	finalBridgeBytesIn  uint64
	finalBridgeBytesOut uint64

	mgr *Manager
	log *slog.Logger
}

func newCall(mgr *Manager, id string, direction events.Direction, fromURI, toURI string, dlg *dialog.Dialog) *Call {
	return &Call{
		id:        id,
		direction: direction,
		fromURI:   fromURI,
		toURI:     toURI,
		createdAt: time.Now(),
		state:     StateInit,
		dlg:       dlg,
		mgr:       mgr,
		log:       mgr.log.With("call_id", id),
	}
}

// ID returns the call's unique identifier.
func (c *Call) ID() string { return c.id }

// State returns the call's current lifecycle state.
func (c *Call) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Call) transitionTo(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.canTransitionTo(next) {
		return errInvalidTransition(c.state, next)
	}
	c.state = next
	switch next {
	case StateAnswered:
		c.answeredAt = time.Now()
	case StateEnded:
		c.endedAt = time.Now()
	}
	return nil
}

// attachAdmission records the per-user and per-trunk admission slots this
// call holds, if any, so teardown can release them.
func (c *Call) attachAdmission(user *users.User, t *trunk.Trunk) {
	c.mu.Lock()
	c.user = user
	c.trunk = t
	c.mu.Unlock()
}

// startRingTimer arms a one-shot timer that invokes onExpire if the call is
// still unanswered after d. admitBridged's own path to 200 OK normally beats
// this comfortably; it is a backstop against admission work stalling.
func (c *Call) startRingTimer(d time.Duration, onExpire func()) {
	c.mu.Lock()
	c.ringTimer = time.AfterFunc(d, onExpire)
	c.mu.Unlock()
}

// stopRingTimer cancels the ring timeout. Safe to call more than once or
// when no timer was ever armed.
func (c *Call) stopRingTimer() {
	c.mu.Lock()
	timer := c.ringTimer
	c.ringTimer = nil
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// attachMedia wires a freshly allocated RTP socket and negotiated codec to
// this call, creating the Media Pipeline (C4). The call itself satisfies
// media.AudioSink and media.DTMFSink, routing ingress audio/DTMF to the AI
// bridge session, if one is attached.
func (c *Call) attachMedia(conn net.PacketConn, remote net.Addr, rtpPort, rtcpPort int, codec media.Codec, jitterDepth int) {
	c.mu.Lock()
	c.conn = conn
	c.rtpPort = rtpPort
	c.rtcpPort = rtcpPort
	c.codec = codec
	c.pipeline = media.NewPipeline(conn, remote, codec, jitterDepth, c, c, c.log)
	c.mu.Unlock()
}

// attachBridge creates and starts an AI WebSocket bridge session for this
// call (inbound-to-AI calls only). It satisfies bridge.Handler.
func (c *Call) attachBridge(ctx context.Context, cfg bridge.Config, callInfo bridge.CallPayload) {
	brgCtx, cancel := context.WithCancel(ctx)
	sess := bridge.NewSession(cfg, c.id, callInfo, c, c.log)

	c.mu.Lock()
	c.bridgeSess = sess
	c.bridgeCtx = brgCtx
	c.cancelBrg = cancel
	c.mu.Unlock()

	c.mgr.publisher.PublishAsync(&events.BridgeConnectingEvent{
		BaseEvent: c.baseEvent(events.BridgeConnecting),
		Bridge:    events.BridgeInfo{URL: cfg.URL, SampleRate: callInfo.SampleRate},
	})

	go sess.Run(brgCtx)
}

func (c *Call) baseEvent(t events.EventType) events.BaseEvent {
	sipCallID := ""
	if c.dlg != nil {
		sipCallID = c.dlg.CallID
	}
	return events.BaseEvent{
		EventID:   c.id + "-" + string(t),
		EventType: t,
		EventTime: time.Now(),
		CallUUID:  c.id,
		SIPCallID: sipCallID,
	}
}

// SendAudio implements media.AudioSink: ingress PCM16@16k audio from the RTP
// side is forwarded to the AI bridge (if attached).
func (c *Call) SendAudio(pcm16k []int16) error {
	c.mu.RLock()
	sess := c.bridgeSess
	c.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.SendAudio(pcm16k)
}

// SendDTMF implements media.DTMFSink: DTMF recognized from the RTP side
// (RFC 4733 or in-band) is forwarded to the AI bridge.
func (c *Call) SendDTMF(digit rune, durationMs int) error {
	c.mu.RLock()
	sess := c.bridgeSess
	c.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.SendDTMF(digit, durationMs)
}

// --- bridge.Handler ---

// OnAudio implements bridge.Handler: audio from the AI backend is encoded
// back down to the negotiated G.711 codec and sent as RTP.
func (c *Call) OnAudio(pcm16k []int16) {
	c.mu.RLock()
	pipeline := c.pipeline
	c.mu.RUnlock()
	if pipeline == nil {
		return
	}
	if err := pipeline.WriteAudio(pcm16k); err != nil {
		c.log.Warn("failed to write egress audio", "error", err)
	}
}

// OnHangup implements bridge.Handler: the AI backend asked to end the call.
func (c *Call) OnHangup(reason string) {
	c.log.Info("AI bridge requested hangup", "reason", reason)
	c.mgr.EndCall(c.id, events.EndReasonNormal)
}

// OnTransfer implements bridge.Handler. Transfer is not carried out: the
// requested target is only logged, no SIP request or event is produced, and
// the call continues unchanged.
func (c *Call) OnTransfer(target string) {
	c.log.Info("AI bridge requested transfer (not acted on)", "target", target)
}

// OnDTMF implements bridge.Handler: the AI backend wants a DTMF digit
// played toward the caller (e.g. IVR menu navigation on its behalf).
func (c *Call) OnDTMF(digit rune, durationMs int) {
	c.mu.RLock()
	pipeline := c.pipeline
	c.mu.RUnlock()
	if pipeline == nil {
		return
	}
	if err := pipeline.WriteDTMF(digit, durationMs); err != nil {
		c.log.Warn("failed to write egress DTMF", "error", err)
	}
}

// OnControl implements bridge.Handler for miscellaneous control actions
// (e.g. hold/resume signaled by the AI backend).
func (c *Call) OnControl(action string) {
	c.log.Debug("AI bridge control", "action", action)
}

// OnUnrecoverable implements bridge.Handler: reconnection to the AI backend
// is exhausted. The call cannot continue usefully and is torn down.
func (c *Call) OnUnrecoverable(err error) {
	c.log.Error("AI bridge unrecoverable, ending call", "error", err)
	c.mgr.publisher.PublishAsync(&events.BridgeDisconnectedEvent{
		BaseEvent:   c.baseEvent(events.BridgeDisconnected),
		WillRetry:   false,
		ErrorDetail: err.Error(),
	})
	c.mgr.EndCall(c.id, events.EndReasonUnavailable)
}

// reportStreaming fires once the bridge handshake completes, transitioning
// the call to bridged and sending the AI side one call_state frame for that
// state. Later call state changes are not sent to the AI side.
func (c *Call) reportStreaming() {
	if err := c.transitionTo(StateBridged); err != nil {
		c.log.Warn("bridged transition failed", "error", err)
		return
	}
	c.mgr.publisher.PublishAsync(&events.BridgeConnectedEvent{BaseEvent: c.baseEvent(events.BridgeConnected)})
	c.mu.RLock()
	sess := c.bridgeSess
	c.mu.RUnlock()
	if sess != nil {
		sess.SendCallState(string(StateBridged))
	}
}

// teardown releases the call's resources in reverse construction order:
// bridge session, media pipeline, RTP socket, port pair. Safe to call more
// than once.
func (c *Call) teardown() {
	c.stopRingTimer()

	c.mu.Lock()
	bridgeSess, cancelBrg := c.bridgeSess, c.cancelBrg
	pipeline := c.pipeline
	conn := c.conn
	rtpPort := c.rtpPort
	user := c.user
	heldTrunk := c.trunk
	if pipeline != nil {
		c.finalMediaStats = pipeline.Stats()
	}
	if bridgeSess != nil {
		c.finalBridgeBytesIn = bridgeSess.BytesReceived()
		c.finalBridgeBytesOut = bridgeSess.BytesSent()
	}
	c.bridgeSess, c.cancelBrg = nil, nil
	c.pipeline = nil
	c.conn = nil
	c.user = nil
	c.trunk = nil
	c.mu.Unlock()

	if cancelBrg != nil {
		cancelBrg()
	}
	if bridgeSess != nil {
		bridgeSess.Close()
	}
	if pipeline != nil {
		pipeline.Close()
	}
	if conn != nil {
		conn.Close()
	}
	if rtpPort != 0 && c.mgr.ports != nil {
		c.mgr.ports.Release(rtpPort)
	}
	if user != nil {
		user.ReleaseCall()
	}
	if heldTrunk != nil {
		heldTrunk.Release()
	}
}

// cdrDisposition maps the call's end reason to a CDR disposition code.
func (c *Call) cdrDisposition() string {
	switch c.endReason {
	case events.EndReasonNormal:
		return events.DispositionAnswered
	case events.EndReasonBusy:
		return events.DispositionBusy
	case events.EndReasonNoAnswer:
		return events.DispositionNoAnswer
	case events.EndReasonCancelled:
		return events.DispositionCanceled
	default:
		if !c.answeredAt.IsZero() {
			return events.DispositionAnswered
		}
		return events.DispositionFailed
	}
}

func (c *Call) emitCDR() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var setupMs, talkMs, totalMs int64
	if !c.answeredAt.IsZero() {
		setupMs = c.answeredAt.Sub(c.createdAt).Milliseconds()
	}
	if !c.answeredAt.IsZero() && !c.endedAt.IsZero() {
		talkMs = c.endedAt.Sub(c.answeredAt).Milliseconds()
	}
	if !c.endedAt.IsZero() {
		totalMs = c.endedAt.Sub(c.createdAt).Milliseconds()
	}

	evt := &events.CallEndedEvent{
		BaseEvent:       c.baseEvent(events.CallEnded),
		Direction:       c.direction,
		From:            events.Endpoint{URI: c.fromURI},
		To:              events.Endpoint{URI: c.toURI},
		Codec:           c.codec.Name,
		EndReason:       c.endReason,
		SetupDurationMs: setupMs,
		TalkDurationMs:  talkMs,
		TotalDurationMs: totalMs,
		DispositionCode: c.cdrDisposition(),
		PacketsSent:     c.finalMediaStats.PacketsOut,
		PacketsReceived: c.finalMediaStats.PacketsIn,
		PacketsLost:     c.finalMediaStats.LossCount,
		JitterMs:        int(c.finalMediaStats.MaxJitterMs),
		BridgeBytesIn:   c.finalBridgeBytesIn,
		BridgeBytesOut:  c.finalBridgeBytesOut,
	}
	c.mgr.publisher.PublishAsync(evt)
}
