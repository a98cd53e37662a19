package media

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// AudioSink receives 16kHz PCM16 audio decoded from the RTP leg, destined
// for the AI bridge.
type AudioSink interface {
	SendAudio(pcm16k []int16) error
}

// DTMFSink receives recognized DTMF digits, however they were detected
// (RFC 4733 telephone-event or in-band Goertzel).
type DTMFSink interface {
	SendDTMF(digit rune, durationMs int) error
}

// inbandDTMFDurationMs is reported for digits recognized by the in-band
// Goertzel detector, which observes tone presence rather than an explicit
// RFC 4733 duration field.
const inbandDTMFDurationMs = 100

// Pipeline wires one call's RTP socket to the codec, jitter buffer, and
// DTMF detection, and exposes a Write method for audio coming back from the
// AI bridge. One Pipeline is created per call leg and is not shared.
type Pipeline struct {
	conn       net.PacketConn
	remote     net.Addr
	codec      Codec
	transcoder *Transcoder
	writer     *RTPStreamWriter
	jitter     *JitterBuffer
	inband     *InbandDetector
	audioSeq   *SequenceTracker

	audioSink AudioSink
	dtmfSink  DTMFSink

	statsMu       sync.Mutex
	packetsIn     uint64
	packetsOut    uint64
	bytesIn       uint64
	bytesOut      uint64
	reorderCount  uint64
	ssrcChanges   uint64
	lastSSRC      uint32
	ssrcSeen      bool
	lastArrival   time.Time
	lastTimestamp uint32
	jitterAccum   float64 // RFC 3550 §6.4.1 interarrival jitter, in timestamp units
	maxJitterMs   float64

	dtmfHasLast       bool
	dtmfLastEvent     uint8
	dtmfLastTimestamp uint32

	lastPacketAt time.Time

	log *slog.Logger
}

// NewPipeline creates a Pipeline bound to an already-allocated RTP socket,
// negotiated codec, and remote endpoint. jitterDepth is expressed in 20ms
// frames (e.g. 3 = 60ms of buffering before playout starts).
func NewPipeline(conn net.PacketConn, remote net.Addr, codec Codec, jitterDepth int, audioSink AudioSink, dtmfSink DTMFSink, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		conn:         conn,
		remote:       remote,
		codec:        codec,
		transcoder:   NewTranscoder(codec),
		writer:       NewRTPStreamWriter(conn, remote, codec),
		jitter:       NewJitterBuffer(jitterDepth, jitterDepth*4),
		inband:       NewInbandDetector(16000), // fed the transcoder's 16kHz output
		audioSeq:     NewSequenceTracker(),
		audioSink:    audioSink,
		dtmfSink:     dtmfSink,
		lastPacketAt: time.Now(),
		log:          log,
	}
}

// ReadLoop reads RTP packets from the socket until ctx is cancelled or the
// socket errors, decoding media packets through the jitter buffer and
// codec, and routing DTMF events (RFC 4733 or in-band) to dtmfSink.
func (p *Pipeline) ReadLoop(ctx context.Context) error {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return err
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.log.Warn("dropping malformed RTP packet", "error", err)
			continue
		}

		switch pkt.PayloadType {
		case CodecTelephoneEvent.PayloadType:
			p.handleTelephoneEvent(pkt.Payload, pkt.Timestamp)
		default:
			p.handleMediaPacket(&pkt)
		}
	}
}

// handleTelephoneEvent dispatches an RFC 4733 end-of-event packet to the
// DTMF sink, suppressing the redundant repeats the RFC recommends senders
// transmit for loss resilience: every packet for one digit press shares the
// same start timestamp, so a second end-of-event packet with a timestamp
// already reported is a retransmit, not a new digit.
func (p *Pipeline) handleTelephoneEvent(payload []byte, timestamp uint32) {
	ev, err := DecodeDTMFEvent(payload)
	if err != nil {
		p.log.Warn("dropping malformed telephone-event payload", "error", err)
		return
	}
	if !ev.EndOfEvent {
		return
	}
	if p.dtmfHasLast && p.dtmfLastEvent == ev.Event && p.dtmfLastTimestamp == timestamp {
		return
	}
	p.dtmfHasLast = true
	p.dtmfLastEvent = ev.Event
	p.dtmfLastTimestamp = timestamp

	digit, ok := EventToRune(ev.Event)
	if !ok {
		return
	}
	if p.dtmfSink != nil {
		durationMs := int(ev.Duration) / (int(CodecTelephoneEvent.SampleRate) / 1000)
		if err := p.dtmfSink.SendDTMF(digit, durationMs); err != nil {
			p.log.Warn("dtmf sink rejected digit", "error", err)
		}
	}
}

func (p *Pipeline) handleMediaPacket(pkt *rtp.Packet) {
	p.recordIngress(pkt)
	p.jitter.Push(pkt.SequenceNumber, pkt.Timestamp, pkt.Payload)

	for {
		payload, _, ok := p.jitter.Pop()
		if !ok {
			return
		}
		if payload == nil {
			// Concealment gave up; skip this frame rather than feed silence
			// that would desync the upstream audio timeline.
			continue
		}
		pcm16k, err := p.transcoder.DecodeToPCM16_16k(payload)
		if err != nil {
			p.log.Warn("dropping frame with unexpected size", "error", err)
			continue
		}
		if digit, detected := p.inband.Detect(pcm16k); detected && p.dtmfSink != nil {
			if err := p.dtmfSink.SendDTMF(digit, inbandDTMFDurationMs); err != nil {
				p.log.Warn("dtmf sink rejected digit", "error", err)
			}
		}
		if p.audioSink != nil {
			if err := p.audioSink.SendAudio(pcm16k); err != nil {
				p.log.Warn("audio sink rejected frame", "error", err)
			}
		}
	}
}

// recordIngress updates this leg's MediaSession statistics (spec §4.9):
// packet/byte counts, loss and reorder via the sequence tracker, SSRC
// changes (a re-INVITE or a remote restart reusing the same RTP socket),
// and an RFC 3550 §6.4.1 interarrival jitter estimate.
func (p *Pipeline) recordIngress(pkt *rtp.Packet) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.packetsIn++
	p.bytesIn += uint64(len(pkt.Payload))

	if _, _, reordered := p.audioSeq.Update(pkt.SequenceNumber); reordered {
		p.reorderCount++
	}

	if p.ssrcSeen && pkt.SSRC != p.lastSSRC {
		p.ssrcChanges++
	}
	p.lastSSRC = pkt.SSRC
	p.ssrcSeen = true

	now := time.Now()
	p.lastPacketAt = now
	if !p.lastArrival.IsZero() {
		arrivalDelta := now.Sub(p.lastArrival).Seconds() * float64(p.codec.SampleRate)
		tsDelta := float64(int32(pkt.Timestamp - p.lastTimestamp))
		d := arrivalDelta - tsDelta
		if d < 0 {
			d = -d
		}
		p.jitterAccum += (d - p.jitterAccum) / 16
		if jitterMs := p.jitterAccum / float64(p.codec.SampleRate) * 1000; jitterMs > p.maxJitterMs {
			p.maxJitterMs = jitterMs
		}
	}
	p.lastArrival = now
	p.lastTimestamp = pkt.Timestamp
}

// LastPacketAt reports when the most recent inbound RTP packet was recorded,
// for a no-media watchdog to detect a leg that has gone silent.
func (p *Pipeline) LastPacketAt() time.Time {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.lastPacketAt
}

// Stats returns a snapshot of this leg's MediaSession statistics.
func (p *Pipeline) Stats() SessionStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	_, lost := p.audioSeq.Stats()
	return SessionStats{
		PacketsIn:    p.packetsIn,
		PacketsOut:   p.packetsOut,
		BytesIn:      p.bytesIn,
		BytesOut:     p.bytesOut,
		LossCount:    lost,
		LateCount:    uint64(p.jitter.LateCount()),
		ReorderCount: p.reorderCount,
		MaxJitterMs:  p.maxJitterMs,
		SSRCChanges:  p.ssrcChanges,
	}
}

// WriteAudio encodes 16kHz PCM16 audio from the AI bridge down to the
// negotiated G.711 codec and sends it as a clock-paced RTP stream.
func (p *Pipeline) WriteAudio(pcm16k []int16) error {
	payload, err := p.transcoder.EncodeFromPCM16_16k(pcm16k)
	if err != nil {
		return err
	}
	n, err := p.writer.Write(payload)
	if err != nil {
		return err
	}
	p.statsMu.Lock()
	p.packetsOut++
	p.bytesOut += uint64(n)
	p.statsMu.Unlock()
	return nil
}

// WriteDTMF sends a DTMF digit to the remote party as RFC 4733
// telephone-event packets (start, repeated mid, and end packets per the
// RFC's recommended redundancy). durationMs of 0 uses DefaultDTMFDuration;
// any nonzero request shorter than MinDTMFDuration is clamped up to it.
func (p *Pipeline) WriteDTMF(digit rune, durationMs int) error {
	event, ok := RuneToEvent(digit)
	if !ok {
		return nil
	}
	duration := DurationFromMillis(durationMs)
	for i, end := range []bool{false, false, true} {
		ev := DTMFEvent{Event: event, EndOfEvent: end, Volume: DefaultDTMFVolume, Duration: duration}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    CodecTelephoneEvent.PayloadType,
				SequenceNumber: p.writer.SequenceNumber(),
				Timestamp:      p.writer.Timestamp(),
			},
			Payload: ev.Encode(),
		}
		if err := p.writer.WriteRTP(pkt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the pipeline's RTP writer resources. The underlying
// socket is owned by the caller and not closed here.
func (p *Pipeline) Close() error {
	return p.writer.Close()
}
