// Package bridge implements the AI WebSocket Bridge (one BridgeSession per
// Call): it relays 16kHz PCM16 audio and control messages between the Call
// Manager and a conversational AI backend over a JSON-framed WebSocket.
package bridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// State is a BridgeSession's lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateAuthenticated State = "authenticated"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultQueueSize        = 100
	maxReconnectAttempts    = 3

	// pingInterval is how often relay sends a liveness ping on the control
	// lane. pongIdleTimeout is the longest relay waits for any pong before
	// treating the connection as dead — three missed pings' worth.
	pingInterval    = 20 * time.Second
	pongIdleTimeout = 3 * pingInterval
)

// ErrUnrecoverable is reported to Handler.OnUnrecoverable when reconnection
// is exhausted.
var ErrUnrecoverable = errors.New("bridge: reconnect attempts exhausted")

// Config configures a BridgeSession.
type Config struct {
	URL              string
	Secret           []byte // HMAC-SHA256 shared secret for auth frame signing
	Token            string // bearer token
	HandshakeTimeout time.Duration
	SendQueueSize    int
}

// Handler receives inbound events from the AI backend.
type Handler interface {
	OnAudio(pcm16k []int16)
	OnHangup(reason string)
	OnTransfer(target string)
	OnDTMF(digit rune, durationMs int)
	OnControl(action string)
	OnUnrecoverable(err error)
}

// Session is one Call's AI WebSocket bridge connection.
type Session struct {
	cfg      Config
	callID   string
	callInfo CallPayload
	handler  Handler
	log      *slog.Logger

	mu    sync.Mutex
	state State
	conn  net.Conn

	audioOut   chan []byte
	controlOut chan []byte
	seq        atomic.Uint64

	droppedAudio  atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	lastPongAt    atomic.Int64 // unix nano

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a BridgeSession for one call. Call Run to dial and
// begin relaying; it blocks until ctx is cancelled or reconnection is
// exhausted.
func NewSession(cfg Config, callID string, callInfo CallPayload, handler Handler, log *slog.Logger) *Session {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:        cfg,
		callID:     callID,
		callInfo:   callInfo,
		handler:    handler,
		log:        log.With("subsystem", "bridge", "call_id", callID),
		state:      StateConnecting,
		audioOut:   make(chan []byte, cfg.SendQueueSize),
		controlOut: make(chan []byte, cfg.SendQueueSize),
		done:       make(chan struct{}),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// DroppedAudioFrames returns the count of audio frames dropped due to send
// queue overflow (backpressure).
func (s *Session) DroppedAudioFrames() uint64 {
	return s.droppedAudio.Load()
}

// BytesSent returns the total bytes written to the AI backend over this
// session's WebSocket connections, for CDR emission (spec §4.9).
func (s *Session) BytesSent() uint64 {
	return s.bytesSent.Load()
}

// BytesReceived returns the total bytes read from the AI backend over this
// session's WebSocket connections, for CDR emission (spec §4.9).
func (s *Session) BytesReceived() uint64 {
	return s.bytesReceived.Load()
}

// Run dials the AI endpoint, authenticates, and relays frames until ctx is
// cancelled, the backend closes the connection without further retries
// possible, or reconnection is exhausted (handler.OnUnrecoverable is
// called in that case).
func (s *Session) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer close(s.done)

	bo := newBackoff()
	attempts := 0

	for {
		if runCtx.Err() != nil {
			s.setState(StateClosed)
			return
		}

		s.setState(StateConnecting)
		conn, err := s.dial(runCtx)
		if err != nil {
			attempts++
			s.log.Warn("bridge dial failed", "attempt", attempts, "error", err)
			if attempts > maxReconnectAttempts {
				s.handler.OnUnrecoverable(fmt.Errorf("%w: %v", ErrUnrecoverable, err))
				s.setState(StateClosed)
				return
			}
			s.setState(StateReconnecting)
			if !s.sleepOrDone(runCtx, bo.next()) {
				return
			}
			continue
		}

		if err := s.authenticate(runCtx, conn); err != nil {
			conn.Close()
			attempts++
			s.log.Warn("bridge auth failed", "attempt", attempts, "error", err)
			if attempts > maxReconnectAttempts {
				s.handler.OnUnrecoverable(fmt.Errorf("%w: %v", ErrUnrecoverable, err))
				s.setState(StateClosed)
				return
			}
			s.setState(StateReconnecting)
			if !s.sleepOrDone(runCtx, bo.next()) {
				return
			}
			continue
		}

		bo.reset()
		attempts = 0
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StateStreaming)
		s.log.Info("bridge streaming")

		err = s.relay(runCtx, conn)
		conn.Close()
		if runCtx.Err() != nil {
			s.setState(StateClosed)
			return
		}
		s.log.Warn("bridge connection lost, reconnecting", "error", err)
		s.setState(StateReconnecting)
	}
}

func (s *Session) sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, s.cfg.URL)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Session) authenticate(ctx context.Context, conn net.Conn) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig := s.sign(s.callID, timestamp)

	frame := Frame{
		Type: FrameTypeAuth,
		Auth: &AuthPayload{
			Token:     s.cfg.Token,
			Signature: sig,
			Timestamp: timestamp,
			CallID:    s.callID,
		},
		Call: &s.callInfo,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, payload); err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	data, _, err := wsutil.ReadServerData(conn)
	if err != nil {
		return err
	}
	var resp Frame
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("malformed auth response: %w", err)
	}
	if resp.Type != FrameTypeAuthOK {
		return fmt.Errorf("auth rejected: type=%s", resp.Type)
	}
	s.setState(StateAuthenticated)
	return nil
}

// sign computes the HMAC-SHA256 signature over call_id || "." || timestamp.
func (s *Session) sign(callID, timestamp string) string {
	mac := hmac.New(sha256.New, s.cfg.Secret)
	mac.Write([]byte(callID + "." + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// relay runs the send, receive, and ping-liveness loops until any of them
// errors or ctx is done.
func (s *Session) relay(ctx context.Context, conn net.Conn) error {
	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.lastPongAt.Store(time.Now().UnixNano())

	errCh := make(chan error, 3)

	go func() {
		errCh <- s.sendLoop(relayCtx, conn)
	}()
	go func() {
		errCh <- s.recvLoop(relayCtx, conn)
	}()
	go func() {
		errCh <- s.pingLoop(relayCtx, conn)
	}()

	select {
	case <-relayCtx.Done():
		return relayCtx.Err()
	case err := <-errCh:
		return err
	}
}

// pingLoop sends a liveness ping on the control lane every pingInterval and
// ends the connection if no pong (of any kind, tracked in lastPongAt) has
// been seen within pongIdleTimeout — an idle peer that stopped responding.
func (s *Session) pingLoop(ctx context.Context, conn net.Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			data, err := json.Marshal(Frame{Type: FramePing})
			if err != nil {
				return err
			}
			if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
				return err
			}
			s.bytesSent.Add(uint64(len(data)))

			if idleFor := time.Since(time.Unix(0, s.lastPongAt.Load())); idleFor > pongIdleTimeout {
				return fmt.Errorf("bridge: no pong received in %s, connection idle", idleFor.Round(time.Second))
			}
		}
	}
}

// sendLoop prioritizes the control lane: it only pulls from audioOut when
// controlOut has nothing pending, so call_state/dtmf frames are never
// delayed behind a backlog of audio.
func (s *Session) sendLoop(ctx context.Context, conn net.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.controlOut:
			if err := wsutil.WriteClientMessage(conn, ws.OpText, frame); err != nil {
				return err
			}
			s.bytesSent.Add(uint64(len(frame)))
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.controlOut:
			if err := wsutil.WriteClientMessage(conn, ws.OpText, frame); err != nil {
				return err
			}
			s.bytesSent.Add(uint64(len(frame)))
		case frame := <-s.audioOut:
			if err := wsutil.WriteClientMessage(conn, ws.OpText, frame); err != nil {
				return err
			}
			s.bytesSent.Add(uint64(len(frame)))
		}
	}
}

func (s *Session) recvLoop(ctx context.Context, conn net.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			return err
		}
		s.bytesReceived.Add(uint64(len(data)))
		s.handleInbound(data)
	}
}

func (s *Session) handleInbound(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		// A malformed frame is logged and dropped; the connection stays open.
		s.log.Warn("ignoring malformed inbound frame", "error", err)
		return
	}

	switch frame.Type {
	case FrameTypeAudioData:
		var p AudioDataPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			s.log.Warn("malformed audio_data frame", "error", err)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(p.Audio)
		if err != nil {
			s.log.Warn("malformed base64 audio", "error", err)
			return
		}
		pcm := bytesToInt16LE(raw)
		s.handler.OnAudio(pcm)
	case FrameTypeHangup:
		var p InboundControlPayload
		_ = json.Unmarshal(frame.Data, &p)
		s.handler.OnHangup(p.Reason)
	case FrameTypeTransfer:
		var p InboundControlPayload
		_ = json.Unmarshal(frame.Data, &p)
		s.handler.OnTransfer(p.Target)
	case FrameTypeDTMF:
		var p InboundControlPayload
		_ = json.Unmarshal(frame.Data, &p)
		if len(p.Digit) == 1 {
			s.handler.OnDTMF(rune(p.Digit[0]), p.DurationMs)
		}
	case FrameTypeControl:
		var p InboundControlPayload
		_ = json.Unmarshal(frame.Data, &p)
		s.handler.OnControl(p.Action)
	case FramePong:
		s.lastPongAt.Store(time.Now().UnixNano())
	default:
		s.log.Debug("ignoring unknown inbound frame type", "type", frame.Type)
	}
}

// SendAudio encodes one 20ms PCM16 frame as an outbound audio_data frame.
// On queue overflow, the oldest queued audio frame is dropped in favor of
// this one (never blocks, never drops control frames).
func (s *Session) SendAudio(pcm16k []int16) error {
	payload := AudioDataPayload{
		CallID:    s.callID,
		Audio:     base64.StdEncoding.EncodeToString(int16LEToBytes(pcm16k)),
		Timestamp: time.Now().UnixMilli(),
		Sequence:  s.seq.Add(1),
	}
	frame := Frame{Type: FrameTypeAudioData}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame.Data = data
	encoded, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case s.audioOut <- encoded:
		return nil
	default:
		select {
		case <-s.audioOut:
			s.droppedAudio.Add(1)
		default:
		}
		select {
		case s.audioOut <- encoded:
		default:
		}
		return nil
	}
}

// SendDTMF enqueues a dtmf frame on the priority control lane (blocks
// rather than drops).
func (s *Session) SendDTMF(digit rune, durationMs int) error {
	return s.sendControl(Frame{Type: FrameTypeDTMF}, DTMFPayload{
		CallID:     s.callID,
		Digit:      string(digit),
		DurationMs: durationMs,
	})
}

// SendCallState enqueues a call_state frame on the priority control lane.
func (s *Session) SendCallState(state string) error {
	return s.sendControl(Frame{Type: FrameTypeCallState}, CallStatePayload{
		CallID: s.callID,
		State:  state,
	})
}

func (s *Session) sendControl(frame Frame, data any) error {
	encodedData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame.Data = encodedData
	encoded, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.controlOut <- encoded
	return nil
}

// Close sends a WebSocket close frame (status 1000, normal closure) on the
// active connection, if any, then cancels the session and waits up to
// 500ms for in-flight work to settle.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		closeFrame := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		if err := wsutil.WriteClientMessage(conn, ws.OpClose, closeFrame); err != nil {
			s.log.Debug("failed to send close frame", "error", err)
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-time.After(500 * time.Millisecond):
	}
}

func int16LEToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

func bytesToInt16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}
