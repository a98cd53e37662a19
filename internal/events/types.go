// Package events provides call lifecycle event definitions and publishing
// infrastructure. Events are delivered through the Publisher/Subscriber
// interfaces (see publisher.go) and are transport-agnostic: a NoopPublisher,
// LoggingPublisher, or ChannelPublisher can all be swapped in without
// touching call-manager code.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the type of call event
type EventType string

const (
	// CallReceived fires when INVITE is received and routing decided
	CallReceived EventType = "call.received"
	// CallRinging fires when a 180/183 is sent to the caller
	CallRinging EventType = "call.ringing"
	// CallAnswered fires when the 200 OK is sent and the caller is connected
	CallAnswered EventType = "call.answered"
	// BridgeConnecting fires when the AI WebSocket bridge dial starts
	BridgeConnecting EventType = "bridge.connecting"
	// BridgeConnected fires once the bridge handshake completes and audio
	// begins flowing in both directions
	BridgeConnected EventType = "bridge.connected"
	// BridgeDisconnected fires when the AI bridge connection drops, with or
	// without a reconnect attempt following
	BridgeDisconnected EventType = "bridge.disconnected"
	// CallEnded fires when a call terminates (any reason)
	CallEnded EventType = "call.ended"
)

// EndReason explains why a call ended
type EndReason string

const (
	EndReasonNormal      EndReason = "normal"       // Normal hangup (BYE)
	EndReasonBusy        EndReason = "busy"         // 486 Busy Here
	EndReasonNoAnswer    EndReason = "no_answer"    // Timeout waiting for answer
	EndReasonCancelled   EndReason = "cancelled"    // CANCEL from caller
	EndReasonRejected    EndReason = "rejected"     // Policy/auth rejection
	EndReasonUnavailable EndReason = "unavailable"  // Trunk/bridge unreachable
	EndReasonError       EndReason = "error"        // Internal error
	EndReasonTimeout     EndReason = "timeout"      // ACK timeout, no-media timeout
	EndReasonMediaError  EndReason = "media_error"  // RTP/media failure
	EndReasonShutdown    EndReason = "shutdown"     // Operator-initiated graceful drain
)

// Direction indicates call direction
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Event is the base interface for all call events
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Subject returns the pub/sub subject this event should publish to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// CallID returns the primary correlation ID
	CallID() string
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	// CallUUID is our internal unique call identifier (stable across retransmits)
	CallUUID string `json:"call_uuid"`
	// SIPCallID is the SIP Call-ID header value
	SIPCallID string `json:"sip_call_id"`
	// NodeID identifies the running instance (for distributed tracing)
	NodeID string `json:"node_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) CallID() string       { return e.CallUUID }

// Subject returns the pub/sub subject for routing.
// Format: voicebridge.calls.<call_uuid>.<event_type_suffix>
func (e *BaseEvent) Subject() string {
	suffix := string(e.EventType)
	for i, c := range suffix {
		if c == '.' {
			suffix = suffix[i+1:]
			break
		}
	}
	return "voicebridge.calls." + e.CallUUID + "." + suffix
}

// Endpoint represents a SIP endpoint (caller or callee)
type Endpoint struct {
	URI         string `json:"uri"`
	DisplayName string `json:"display_name,omitempty"`
	User        string `json:"user"`
	Host        string `json:"host"`
	Port        int    `json:"port,omitempty"`
	Transport   string `json:"transport,omitempty"`
}

// MediaInfo captures RTP media negotiation details for the PSTN/SIP leg
type MediaInfo struct {
	LocalAddr     string   `json:"local_addr"`
	LocalPort     int      `json:"local_port"`
	RemoteAddr    string   `json:"remote_addr,omitempty"`
	RemotePort    int      `json:"remote_port,omitempty"`
	Codecs        []string `json:"codecs,omitempty"`
	SelectedCodec string   `json:"selected_codec,omitempty"`
	SSRC          uint32   `json:"ssrc,omitempty"`
	RTPSessionID  string   `json:"rtp_session_id,omitempty"`
}

// BridgeInfo captures the AI WebSocket bridge's connection details
type BridgeInfo struct {
	URL         string `json:"url"`
	SampleRate  int    `json:"sample_rate"`
	ReconnectNo int    `json:"reconnect_no,omitempty"`
}

// CallReceivedEvent fires when an INVITE is received
type CallReceivedEvent struct {
	BaseEvent
	Direction     Direction `json:"direction"`
	From          Endpoint  `json:"from"`
	To            Endpoint  `json:"to"`
	RequestURI    string    `json:"request_uri"`
	SourceIP      string    `json:"source_ip"`
	SourcePort    int       `json:"source_port"`
	TrunkID       string    `json:"trunk_id,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	OfferedCodecs []string  `json:"offered_codecs,omitempty"`
}

// CallRingingEvent fires when 180/183 is sent to the caller
type CallRingingEvent struct {
	BaseEvent
	ResponseCode int        `json:"response_code"`
	EarlyMedia   bool       `json:"early_media"`
	MediaInfo    *MediaInfo `json:"media_info,omitempty"`
}

// CallAnsweredEvent fires when 200 OK is sent to the caller
type CallAnsweredEvent struct {
	BaseEvent
	ResponseCode    int        `json:"response_code"`
	MediaInfo       *MediaInfo `json:"media_info,omitempty"`
	SetupDurationMs int64      `json:"setup_duration_ms"`
}

// BridgeConnectingEvent fires when the AI WebSocket dial starts
type BridgeConnectingEvent struct {
	BaseEvent
	Bridge BridgeInfo `json:"bridge"`
}

// BridgeConnectedEvent fires once the bridge handshake completes
type BridgeConnectedEvent struct {
	BaseEvent
	Bridge          BridgeInfo `json:"bridge"`
	HandshakeDurMs  int64      `json:"handshake_duration_ms"`
}

// BridgeDisconnectedEvent fires when the AI bridge connection drops
type BridgeDisconnectedEvent struct {
	BaseEvent
	Bridge      BridgeInfo `json:"bridge"`
	WillRetry   bool       `json:"will_retry"`
	ErrorDetail string     `json:"error_detail,omitempty"`
}

// CallEndedEvent fires when call terminates
type CallEndedEvent struct {
	BaseEvent
	Direction         Direction `json:"direction"`
	From              Endpoint  `json:"from"`
	To                Endpoint  `json:"to"`
	Codec             string    `json:"codec,omitempty"`
	EndReason         EndReason `json:"end_reason"`
	EndReasonDetail   string    `json:"end_reason_detail,omitempty"`
	SIPResponseCode   int       `json:"sip_response_code,omitempty"`
	SIPResponseReason string    `json:"sip_response_reason,omitempty"`
	HangupSource      string    `json:"hangup_source,omitempty"`
	SetupDurationMs   int64     `json:"setup_duration_ms"`
	TalkDurationMs    int64     `json:"talk_duration_ms"`
	TotalDurationMs   int64     `json:"total_duration_ms"`
	DispositionCode   string    `json:"disposition_code"`
	PacketsSent       uint64    `json:"packets_sent,omitempty"`
	PacketsReceived   uint64    `json:"packets_received,omitempty"`
	PacketsLost       uint64    `json:"packets_lost,omitempty"`
	JitterMs          int       `json:"jitter_ms,omitempty"`
	BridgeBytesIn     uint64    `json:"bridge_bytes_in,omitempty"`
	BridgeBytesOut    uint64    `json:"bridge_bytes_out,omitempty"`
}

// Disposition codes for CDR
const (
	DispositionAnswered = "ANSWERED"
	DispositionNoAnswer = "NO_ANSWER"
	DispositionBusy     = "BUSY"
	DispositionFailed   = "FAILED"
	DispositionCanceled = "CANCELED"
)

// MarshalEvent marshals any Event implementation to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
