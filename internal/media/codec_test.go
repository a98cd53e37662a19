package media

import (
	"errors"
	"testing"
)

func TestCodecSamplesPerFrame(t *testing.T) {
	if got := CodecPCMU.SamplesPerFrame(); got != 160 {
		t.Errorf("CodecPCMU.SamplesPerFrame() = %d, want 160", got)
	}
	if got := CodecPCMA.SamplesPerFrame(); got != 160 {
		t.Errorf("CodecPCMA.SamplesPerFrame() = %d, want 160", got)
	}
}

func TestCodecBytesPerFrame(t *testing.T) {
	if got := CodecPCMU.BytesPerFrame(); got != 160 {
		t.Errorf("CodecPCMU.BytesPerFrame() = %d, want 160", got)
	}
}

func TestCodecTimestampIncrement(t *testing.T) {
	if got := CodecPCMU.TimestampIncrement(); got != 160 {
		t.Errorf("CodecPCMU.TimestampIncrement() = %d, want 160", got)
	}
}

func TestByPayloadType(t *testing.T) {
	cases := []struct {
		pt   uint8
		want Codec
	}{
		{0, CodecPCMU},
		{8, CodecPCMA},
		{101, CodecTelephoneEvent},
	}
	for _, c := range cases {
		got, err := ByPayloadType(c.pt)
		if err != nil {
			t.Fatalf("ByPayloadType(%d) error = %v", c.pt, err)
		}
		if got.Name != c.want.Name {
			t.Errorf("ByPayloadType(%d) = %+v, want %+v", c.pt, got, c.want)
		}
	}
}

func TestByPayloadTypeUnsupported(t *testing.T) {
	if _, err := ByPayloadType(99); err == nil {
		t.Fatal("expected error for unsupported payload type")
	}
}

func TestTranscoderRoundTripPCMU(t *testing.T) {
	tc := NewTranscoder(CodecPCMU)

	silence := make([]byte, CodecPCMU.BytesPerFrame())
	for i := range silence {
		silence[i] = 0xFF // mu-law silence
	}

	pcm16k, err := tc.DecodeToPCM16_16k(silence)
	if err != nil {
		t.Fatalf("DecodeToPCM16_16k() error = %v", err)
	}
	if len(pcm16k) != CodecPCMU.SamplesPerFrame()*2 {
		t.Fatalf("DecodeToPCM16_16k() length = %d, want %d", len(pcm16k), CodecPCMU.SamplesPerFrame()*2)
	}

	back, err := tc.EncodeFromPCM16_16k(pcm16k)
	if err != nil {
		t.Fatalf("EncodeFromPCM16_16k() error = %v", err)
	}
	if len(back) != CodecPCMU.BytesPerFrame() {
		t.Fatalf("EncodeFromPCM16_16k() length = %d, want %d", len(back), CodecPCMU.BytesPerFrame())
	}
}

func TestTranscoderRoundTripPCMA(t *testing.T) {
	tc := NewTranscoder(CodecPCMA)

	silence := make([]byte, CodecPCMA.BytesPerFrame())
	pcm16k, err := tc.DecodeToPCM16_16k(silence)
	if err != nil {
		t.Fatalf("DecodeToPCM16_16k() error = %v", err)
	}
	if len(pcm16k) != CodecPCMA.SamplesPerFrame()*2 {
		t.Fatalf("DecodeToPCM16_16k() length = %d, want %d", len(pcm16k), CodecPCMA.SamplesPerFrame()*2)
	}

	back, err := tc.EncodeFromPCM16_16k(pcm16k)
	if err != nil {
		t.Fatalf("EncodeFromPCM16_16k() error = %v", err)
	}
	if len(back) != CodecPCMA.BytesPerFrame() {
		t.Fatalf("EncodeFromPCM16_16k() length = %d, want %d", len(back), CodecPCMA.BytesPerFrame())
	}
}

func TestTranscoderRejectsShortFrame(t *testing.T) {
	tc := NewTranscoder(CodecPCMU)
	if _, err := tc.DecodeToPCM16_16k(make([]byte, 80)); !errors.Is(err, ErrInvalidFrameSize) {
		t.Errorf("DecodeToPCM16_16k(80 bytes) error = %v, want ErrInvalidFrameSize", err)
	}
	if _, err := tc.EncodeFromPCM16_16k(make([]int16, 160)); !errors.Is(err, ErrInvalidFrameSize) {
		t.Errorf("EncodeFromPCM16_16k(160 samples) error = %v, want ErrInvalidFrameSize", err)
	}
}
