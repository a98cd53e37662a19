package bridge

import "encoding/json"

// Frame is the envelope for every AI WebSocket bridge message: a "type"
// discriminator plus a type-specific payload. Both directions use the same
// envelope shape; Auth/Call are only ever sent outbound, Data carries
// audio_data/dtmf/call_state/control payloads as a raw json.RawMessage so
// the specific struct can be decoded once the type is known.
type Frame struct {
	Type string          `json:"type"`
	Auth *AuthPayload    `json:"auth,omitempty"`
	Call *CallPayload    `json:"call,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound frame types.
const (
	FrameTypeAuth      = "auth"
	FrameTypeAudioData = "audio_data"
	FrameTypeDTMF      = "dtmf"
	FrameTypeCallState = "call_state"
	FramePing          = "ping"
)

// Inbound frame types.
const (
	FrameTypeAuthOK   = "auth_ok"
	FrameTypeHangup   = "hangup"
	FrameTypeTransfer = "transfer"
	FramePong         = "pong"
	FrameTypeControl  = "control"
)

// AuthPayload is the auth frame's "auth" object: bearer token plus HMAC
// signature over call_id and timestamp.
type AuthPayload struct {
	Token     string `json:"token"`
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
	CallID    string `json:"call_id"`
}

// CallPayload is the auth frame's "call" object, describing the call being
// bridged.
type CallPayload struct {
	ConversationID string `json:"conversation_id"`
	FromNumber     string `json:"from_number"`
	ToNumber       string `json:"to_number"`
	Direction      string `json:"direction"`
	Codec          string `json:"codec"`
	SampleRate     int    `json:"sample_rate"`
}

// AudioDataPayload is the "data" object of an audio_data frame in either
// direction.
type AudioDataPayload struct {
	CallID    string `json:"call_id"`
	Audio     string `json:"audio"` // base64 PCM16LE @ 16kHz mono
	Timestamp int64  `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
}

// DTMFPayload is the "data" object of an outbound dtmf frame.
type DTMFPayload struct {
	CallID     string `json:"call_id"`
	Digit      string `json:"digit"`
	DurationMs int    `json:"duration_ms"`
}

// CallStatePayload is the "data" object of an outbound call_state frame.
type CallStatePayload struct {
	CallID string `json:"call_id"`
	State  string `json:"state"`
}

// InboundControlPayload captures the fields used across the hangup,
// transfer, dtmf, and control inbound message types; unused fields for a
// given type are simply empty.
type InboundControlPayload struct {
	CallID     string `json:"call_id"`
	Reason     string `json:"reason,omitempty"`
	Target     string `json:"target,omitempty"` // transfer destination
	Digit      string `json:"digit,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"` // requested DTMF hold time
	Action     string `json:"action,omitempty"`       // control action name
}
