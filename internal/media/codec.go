package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/zaf/g711"
)

// ErrInvalidFrameSize is returned when a payload crossing the transcoder
// doesn't match the fixed frame size this bridge requires: 160 samples for
// an 8kHz G.711 frame, 320 samples for a 16kHz PCM16 frame. Both legs send
// exactly one 20ms frame per packet; anything else means a misbehaving peer
// or a corrupted frame, not data worth resampling.
var ErrInvalidFrameSize = errors.New("media: invalid frame size")

// Codec represents an immutable audio codec specification.
type Codec struct {
	Name        string        // Codec name (e.g., "PCMU", "PCMA")
	PayloadType uint8         // RTP payload type (0 for PCMU, 8 for PCMA)
	SampleRate  uint32        // Sample rate in Hz
	SampleDur   time.Duration // Duration per sample frame (20ms for this bridge)
	Channels    int           // Number of channels (always 1 here)
}

// Pre-defined codecs. This bridge supports exactly these three payload
// types; any other offered codec is rejected during SDP negotiation.
var (
	// CodecPCMU is G.711 mu-law (North America, Japan)
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond, 1}

	// CodecPCMA is G.711 A-law (Europe, rest of world)
	CodecPCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond, 1}

	// CodecTelephoneEvent is RFC 4733 DTMF events
	CodecTelephoneEvent = Codec{"telephone-event", 101, 8000, 20 * time.Millisecond, 1}
)

// SamplesPerFrame returns the number of samples in one frame.
// For 8kHz with 20ms frames, this returns 160.
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// BytesPerFrame returns the encoded payload bytes per frame. G.711 is one
// byte per sample.
func (c Codec) BytesPerFrame() int {
	return c.SamplesPerFrame() * c.Channels
}

// TimestampIncrement returns the RTP timestamp increment per frame.
func (c Codec) TimestampIncrement() uint32 {
	return uint32(c.SamplesPerFrame())
}

// ByPayloadType returns the codec matching the given RTP payload type.
func ByPayloadType(pt uint8) (Codec, error) {
	switch pt {
	case CodecPCMU.PayloadType:
		return CodecPCMU, nil
	case CodecPCMA.PayloadType:
		return CodecPCMA, nil
	case CodecTelephoneEvent.PayloadType:
		return CodecTelephoneEvent, nil
	default:
		return Codec{}, fmt.Errorf("media: unsupported payload type %d", pt)
	}
}

// Transcoder converts between G.711-encoded RTP payloads (8kHz) and linear
// PCM16 (16kHz) as carried over the AI WebSocket bridge. One Transcoder is
// bound to a single codec and direction pair for the lifetime of a media
// session; it is not safe for concurrent use from multiple goroutines
// because the up/down samplers carry FIR filter state across frames.
type Transcoder struct {
	codec    Codec
	upsample *Resampler // 8kHz -> 16kHz, state persists across frames
	downsmp  *Resampler // 16kHz -> 8kHz, state persists across frames
}

// NewTranscoder creates a Transcoder for the given codec.
func NewTranscoder(codec Codec) *Transcoder {
	return &Transcoder{
		codec:    codec,
		upsample: NewResampler(8000, 16000),
		downsmp:  NewResampler(16000, 8000),
	}
}

// pcm16kSamplesPerFrame is the fixed frame size on the 16kHz PCM leg: 20ms
// at 16kHz, double the 8kHz leg's SamplesPerFrame.
const pcm16kSamplesPerFrame = 320

// DecodeToPCM16_16k decodes a G.711 RTP payload to 16-bit linear PCM at
// 16kHz, ready for the AI bridge. payload must be exactly one codec frame;
// a short or padded RTP payload is rejected rather than resampled, since a
// partial frame would desync the bridge's 20ms audio clock.
func (t *Transcoder) DecodeToPCM16_16k(payload []byte) ([]int16, error) {
	if len(payload) != t.codec.BytesPerFrame() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidFrameSize, len(payload), t.codec.BytesPerFrame())
	}
	pcm8k := g711Decode(t.codec, payload)
	return t.upsample.Process(pcm8k), nil
}

// EncodeFromPCM16_16k encodes 16-bit linear PCM at 16kHz from the AI bridge
// down to an 8kHz G.711 RTP payload in this Transcoder's codec. pcm16k must
// be exactly one 20ms frame.
func (t *Transcoder) EncodeFromPCM16_16k(pcm16k []int16) ([]byte, error) {
	if len(pcm16k) != pcm16kSamplesPerFrame {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrInvalidFrameSize, len(pcm16k), pcm16kSamplesPerFrame)
	}
	pcm8k := t.downsmp.Process(pcm16k)
	return g711Encode(t.codec, pcm8k), nil
}

func g711Decode(codec Codec, payload []byte) []int16 {
	var lin []byte
	switch codec.PayloadType {
	case CodecPCMA.PayloadType:
		lin = g711.DecodeAlaw(payload)
	default:
		lin = g711.DecodeUlaw(payload)
	}
	samples := make([]int16, len(lin)/2)
	for i := range samples {
		samples[i] = int16(uint16(lin[2*i]) | uint16(lin[2*i+1])<<8)
	}
	return samples
}

func g711Encode(codec Codec, pcm []int16) []byte {
	lin := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		lin[2*i] = byte(uint16(s))
		lin[2*i+1] = byte(uint16(s) >> 8)
	}
	switch codec.PayloadType {
	case CodecPCMA.PayloadType:
		return g711.EncodeAlaw(lin)
	default:
		return g711.EncodeUlaw(lin)
	}
}
