package callmanager

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/dialtone/voicebridge/internal/bridge"
	"github.com/dialtone/voicebridge/internal/dialog"
	"github.com/dialtone/voicebridge/internal/events"
	"github.com/dialtone/voicebridge/internal/media"
	"github.com/dialtone/voicebridge/internal/registrar"
	"github.com/dialtone/voicebridge/internal/routing"
	"github.com/dialtone/voicebridge/internal/trunk"
	"github.com/dialtone/voicebridge/internal/users"
)

// ringTimeout bounds how long a call may sit unanswered between the INVITE
// and this bridge's own 200 OK; it exists to bound admission work (port
// allocation, codec negotiation) under load rather than to wait on a human
// answering, since admitBridged always auto-answers.
const ringTimeout = 60 * time.Second

// noMediaTimeout ends a bridged call if no RTP packet arrives on its media
// leg for this long, catching a caller that hung up without a BYE (NAT
// timeout, radio silence) or a broken far-end media path.
const noMediaTimeout = 30 * time.Second

// noMediaPollInterval is how often the no-media watchdog checks a call's
// last-packet timestamp.
const noMediaPollInterval = 5 * time.Second

// Config configures the Manager's media and AI-bridge behavior.
type Config struct {
	AdvertiseAddr       string
	JitterDepthFrames   int // default 3 (60ms)
	GlobalMaxConcurrent int64
	Bridge              bridge.Config
}

// Manager is the Call Manager (C9): it admits calls, drives the per-call
// state machine, and wires the Dialog, Media Pipeline, Trunk, and AI Bridge
// components together for the duration of each call.
type Manager struct {
	cfg Config

	dialogMgr     *dialog.Manager
	reg           *registrar.Handler
	userRepo      *users.Repository
	authenticator *users.Authenticator
	trunks        *trunk.Registry
	ports         *media.PortPool
	publisher     events.Publisher

	mu         sync.RWMutex
	calls      map[string]*Call
	callByDlg  map[string]string // sip Call-ID -> our call id
	active     atomic.Int64

	log *slog.Logger
}

// NewManager creates a Call Manager wired to the rest of the system's
// components. publisher may be events.NewNoopPublisher() if no event sink
// is configured. authenticator may be nil, in which case every caller is
// treated as anonymous (bridged to the AI backend, never routed locally or
// outbound through a trunk).
func NewManager(cfg Config, dialogMgr *dialog.Manager, reg *registrar.Handler, userRepo *users.Repository, authenticator *users.Authenticator, trunks *trunk.Registry, ports *media.PortPool, publisher events.Publisher, log *slog.Logger) *Manager {
	if cfg.JitterDepthFrames <= 0 {
		cfg.JitterDepthFrames = 3
	}
	if cfg.GlobalMaxConcurrent <= 0 {
		cfg.GlobalMaxConcurrent = 500
	}
	if log == nil {
		log = slog.Default()
	}
	if publisher == nil {
		publisher = events.NewNoopPublisher()
	}
	m := &Manager{
		cfg:           cfg,
		dialogMgr:     dialogMgr,
		reg:           reg,
		userRepo:      userRepo,
		authenticator: authenticator,
		trunks:        trunks,
		ports:         ports,
		publisher:     publisher,
		calls:         make(map[string]*Call),
		callByDlg:     make(map[string]string),
		log:           log.With("subsystem", "callmanager"),
	}
	dialogMgr.SetOnTerminated(m.onDialogTerminated)
	return m
}

// ActiveCalls returns the number of calls currently admitted.
func (m *Manager) ActiveCalls() int64 { return m.active.Load() }

// CallSummary is a snapshot of one call's state, for the admin API.
type CallSummary struct {
	ID         string
	Direction  string
	From       string
	To         string
	State      string
	CreatedAt  time.Time
	AnsweredAt time.Time
}

// ListCalls returns a snapshot of every currently admitted call.
func (m *Manager) ListCalls() []CallSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CallSummary, 0, len(m.calls))
	for _, c := range m.calls {
		c.mu.RLock()
		out = append(out, CallSummary{
			ID:         c.id,
			Direction:  string(c.direction),
			From:       c.fromURI,
			To:         c.toURI,
			State:      string(c.state),
			CreatedAt:  c.createdAt,
			AnsweredAt: c.answeredAt,
		})
		c.mu.RUnlock()
	}
	return out
}

// HandleInvite is the SIP server's INVITE entry point.
func (m *Manager) HandleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if m.active.Load() >= m.cfg.GlobalMaxConcurrent {
		m.reject(req, tx, sip.StatusCode(503), "Service Unavailable - call capacity reached")
		return
	}

	dlg, err := m.dialogMgr.CreateFromInvite(req, tx)
	if err != nil {
		m.log.Error("failed to create dialog", "error", err)
		return
	}
	if err := m.dialogMgr.SendTrying(dlg); err != nil {
		m.log.Error("failed to send 100 Trying", "error", err)
		return
	}

	offer, err := media.ParseOffer(req.Body())
	if err != nil {
		m.reject(req, tx, sip.StatusCode(488), "Not Acceptable Here - "+err.Error())
		m.dialogMgr.Terminate(dlg.CallID, dialog.ReasonError)
		return
	}
	payloadType, err := media.NegotiateCodec(offer.OfferedFormats)
	if err != nil {
		m.reject(req, tx, sip.StatusCode(488), "Not Acceptable Here - "+err.Error())
		m.dialogMgr.Terminate(dlg.CallID, dialog.ReasonError)
		return
	}
	codec, _ := media.ByPayloadType(codecPayloadType(payloadType))

	var caller *users.User
	if m.authenticator != nil {
		user, _, err := m.authenticator.Authenticate(req)
		switch {
		case err == nil:
			caller = user
		case errors.Is(err, users.ErrAccountLocked):
			m.reject(req, tx, sip.StatusCode(403), "Forbidden - account locked")
			m.dialogMgr.Terminate(dlg.CallID, dialog.ReasonError)
			return
		default:
			// ErrChallengeRequired: missing/invalid Authorization, unknown
			// user, or a bad digest response. INVITE authentication only
			// unlocks local-AOR and trunk-outbound routing here, so an
			// unauthenticated INVITE is treated as an anonymous external
			// caller rather than forced through a 401 challenge retry.
			caller = nil
		}
	}

	decision, err := routing.Decide(req, m.reg, m.trunks, caller)
	if err != nil {
		m.reject(req, tx, sip.StatusCode(503), "Service Unavailable - "+err.Error())
		m.dialogMgr.Terminate(dlg.CallID, dialog.ReasonError)
		return
	}

	fromURI, toURI := "", ""
	if req.From() != nil {
		fromURI = req.From().Address.String()
	}
	if req.To() != nil {
		toURI = req.To().Address.String()
	}

	callID := uuid.NewString()
	call := newCall(m, callID, events.DirectionInbound, fromURI, toURI, dlg)

	m.mu.Lock()
	m.calls[callID] = call
	m.callByDlg[dlg.CallID] = callID
	m.mu.Unlock()
	m.active.Add(1)

	m.publisher.PublishAsync(&events.CallReceivedEvent{
		BaseEvent:     call.baseEvent(events.CallReceived),
		Direction:     call.direction,
		From:          events.Endpoint{URI: fromURI},
		To:            events.Endpoint{URI: toURI},
		SourceIP:      req.Source(),
		OfferedCodecs: offer.OfferedFormats,
	})

	var admittedUser *users.User
	if decision.Caller != nil {
		if !decision.Caller.TryAdmitCall() {
			m.rejectAdmission(call, dlg, req, tx, "caller concurrent call limit reached")
			return
		}
		admittedUser = decision.Caller
	}

	var admittedTrunk *trunk.Trunk
	if decision.Kind == routing.KindOutbound && decision.Trunk != nil {
		if !decision.Trunk.TryOriginate() {
			if admittedUser != nil {
				admittedUser.ReleaseCall()
			}
			m.rejectAdmission(call, dlg, req, tx, "trunk at capacity")
			return
		}
		admittedTrunk = decision.Trunk
	}
	call.attachAdmission(admittedUser, admittedTrunk)
	call.startRingTimer(ringTimeout, func() { m.EndCall(callID, events.EndReasonNoAnswer) })

	switch decision.Kind {
	case routing.KindBridge:
		m.admitBridged(call, dlg, req, tx, offer, codec)
	case routing.KindLocal, routing.KindOutbound:
		// Local-AOR and trunk-outbound relay (a second SIP leg) are not
		// implemented: both routes admit the call and then bridge it to
		// AI rather than leaving the caller unhandled.
		m.log.Info("routing decision resolved to a non-bridge route, falling back to AI bridge", "kind", decision.Kind, "call_id", callID)
		m.admitBridged(call, dlg, req, tx, offer, codec)
	}
}

func codecPayloadType(pt string) uint8 {
	switch pt {
	case "8":
		return media.CodecPCMA.PayloadType
	default:
		return media.CodecPCMU.PayloadType
	}
}

// admitBridged completes SDP negotiation, allocates an RTP port pair,
// answers the INVITE, and attaches the Media Pipeline and AI Bridge.
func (m *Manager) admitBridged(call *Call, dlg *dialog.Dialog, req *sip.Request, tx sip.ServerTransaction, offer *media.OfferInfo, codec media.Codec) {
	rtpPort, rtcpPort, err := m.ports.Allocate()
	if err != nil {
		m.reject(req, tx, sip.StatusCode(503), "Service Unavailable - no media ports available")
		m.dialogMgr.Terminate(dlg.CallID, dialog.ReasonError)
		m.endAdmissionFailure(call)
		return
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: rtpPort})
	if err != nil {
		m.ports.Release(rtpPort)
		m.reject(req, tx, sip.StatusCode(503), "Service Unavailable - media socket error")
		m.dialogMgr.Terminate(dlg.CallID, dialog.ReasonError)
		m.endAdmissionFailure(call)
		return
	}

	remote := &net.UDPAddr{IP: net.ParseIP(offer.RemoteAddr), Port: offer.RemotePort}

	answerSDP := media.BuildResponseSDP(m.cfg.AdvertiseAddr, rtpPort, fmt.Sprint(codec.PayloadType), offer.HasDTMFEvent)

	if err := m.dialogMgr.SendOK(dlg, answerSDP); err != nil {
		conn.Close()
		m.ports.Release(rtpPort)
		m.log.Error("failed to send 200 OK", "error", err)
		m.endAdmissionFailure(call)
		return
	}
	_ = rtcpPort

	call.stopRingTimer()
	if err := call.transitionTo(StateRinging); err == nil {
		call.transitionTo(StateAnswered)
	}
	m.publisher.PublishAsync(&events.CallAnsweredEvent{BaseEvent: call.baseEvent(events.CallAnswered), ResponseCode: 200})

	call.attachMedia(conn, remote, rtpPort, rtcpPort, codec, m.cfg.JitterDepthFrames)

	callInfo := bridge.CallPayload{
		ConversationID: call.id,
		FromNumber:     call.fromURI,
		ToNumber:       call.toURI,
		Direction:      string(call.direction),
		Codec:          codec.Name,
		SampleRate:     16000,
	}
	call.attachBridge(dlg.Context(), m.cfg.Bridge, callInfo)
	go m.watchBridgeStreaming(call)
	go m.watchNoMedia(call)

	go func() {
		if err := call.pipeline.ReadLoop(dlg.Context()); err != nil && dlg.Context().Err() == nil {
			m.log.Warn("media read loop ended", "call_id", call.id, "error", err)
			m.EndCall(call.id, events.EndReasonMediaError)
		}
	}()
}

// watchBridgeStreaming polls for the bridge reaching StateStreaming and
// transitions the call to bridged once it does. A small poll loop is used
// rather than a callback since bridge.Session currently exposes state via
// State(), not an event hook.
func (m *Manager) watchBridgeStreaming(call *Call) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	reported := false
	for {
		select {
		case <-call.bridgeCtx.Done():
			return
		case <-ticker.C:
			if !reported && call.bridgeSess != nil && call.bridgeSess.State() == bridge.StateStreaming {
				call.reportStreaming()
				reported = true
			}
		}
	}
}

func (m *Manager) endAdmissionFailure(call *Call) {
	call.stopRingTimer()
	m.mu.Lock()
	delete(m.calls, call.id)
	if call.dlg != nil {
		delete(m.callByDlg, call.dlg.CallID)
	}
	m.mu.Unlock()
	m.active.Add(-1)
}

// rejectAdmission sends a 486 Busy Here for a call that passed SIP/SDP
// validation but failed per-user or per-trunk admission control, and emits
// its CDR with disposition busy so the rejection is visible downstream.
func (m *Manager) rejectAdmission(call *Call, dlg *dialog.Dialog, req *sip.Request, tx sip.ServerTransaction, reason string) {
	m.reject(req, tx, sip.StatusCode(486), "Busy Here - "+reason)
	m.dialogMgr.Terminate(dlg.CallID, dialog.ReasonError)
	call.stopRingTimer()

	if err := call.transitionTo(StateEnding); err == nil {
		call.mu.Lock()
		call.endReason = events.EndReasonBusy
		call.mu.Unlock()
		call.teardown()
		call.transitionTo(StateEnded)
		call.emitCDR()
	}

	m.mu.Lock()
	delete(m.calls, call.id)
	delete(m.callByDlg, dlg.CallID)
	m.mu.Unlock()
	m.active.Add(-1)
}

// watchNoMedia ends a bridged call whose media leg has gone silent for
// longer than noMediaTimeout: no RTP packet, not even comfort noise,
// usually means the far end vanished without a BYE.
func (m *Manager) watchNoMedia(call *Call) {
	ticker := time.NewTicker(noMediaPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-call.bridgeCtx.Done():
			return
		case <-ticker.C:
			call.mu.RLock()
			pipeline := call.pipeline
			call.mu.RUnlock()
			if pipeline == nil {
				return
			}
			if time.Since(pipeline.LastPacketAt()) > noMediaTimeout {
				m.EndCall(call.id, events.EndReasonTimeout)
				return
			}
		}
	}
}

// EndCall transitions a call to ending/ended, tears down its resources, and
// emits its CDR. Safe to call multiple times or concurrently; only the
// first caller performs teardown.
func (m *Manager) EndCall(callID string, reason events.EndReason) {
	m.mu.RLock()
	call, ok := m.calls[callID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if err := call.transitionTo(StateEnding); err != nil {
		// Already ending/ended elsewhere.
		return
	}
	call.stopRingTimer()
	call.mu.Lock()
	call.endReason = reason
	call.mu.Unlock()

	if call.dlg != nil {
		m.dialogMgr.Terminate(call.dlg.CallID, dialog.ReasonLocalBYE)
	}

	call.teardown()
	call.transitionTo(StateEnded)
	call.emitCDR()

	m.mu.Lock()
	delete(m.calls, callID)
	if call.dlg != nil {
		delete(m.callByDlg, call.dlg.CallID)
	}
	m.mu.Unlock()
	m.active.Add(-1)
}

// onDialogTerminated is the dialog.Manager callback invoked whenever a
// dialog ends (remote BYE, CANCEL, local teardown, or timeout). It maps the
// SIP-level termination back to the owning Call and ends it with the
// corresponding reason.
func (m *Manager) onDialogTerminated(d *dialog.Dialog) {
	m.mu.RLock()
	callID, ok := m.callByDlg[d.CallID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	reason := events.EndReasonNormal
	switch d.TerminateReason {
	case dialog.ReasonCancel:
		reason = events.EndReasonCancelled
	case dialog.ReasonTimeout:
		reason = events.EndReasonTimeout
	case dialog.ReasonError:
		reason = events.EndReasonError
	}
	m.EndCall(callID, reason)
}

func (m *Manager) reject(req *sip.Request, tx sip.ServerTransaction, code sip.StatusCode, reason string) {
	resp := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(resp); err != nil {
		m.log.Error("failed to send rejection response", "status", int(code), "error", err)
	}
}
