package media

import (
	"strings"
	"testing"
)

const sampleOffer = "v=0\r\n" +
	"o=- 123456 1 IN IP4 192.168.1.50\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.168.1.50\r\n" +
	"t=0 0\r\n" +
	"m=audio 20000 RTP/AVP 0 8 101\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"a=fmtp:101 0-15\r\n" +
	"a=sendrecv\r\n"

func TestParseOfferExtractsAddressPortAndFormats(t *testing.T) {
	info, err := ParseOffer([]byte(sampleOffer))
	if err != nil {
		t.Fatalf("ParseOffer() error = %v", err)
	}
	if info.RemoteAddr != "192.168.1.50" {
		t.Errorf("RemoteAddr = %q, want 192.168.1.50", info.RemoteAddr)
	}
	if info.RemotePort != 20000 {
		t.Errorf("RemotePort = %d, want 20000", info.RemotePort)
	}
	if len(info.OfferedFormats) != 3 {
		t.Fatalf("OfferedFormats = %v, want 3 entries", info.OfferedFormats)
	}
	if !info.HasDTMFEvent {
		t.Error("HasDTMFEvent = false, want true")
	}
}

func TestParseOfferRejectsMissingAudioSection(t *testing.T) {
	noAudio := "v=0\r\n" +
		"o=- 1 1 IN IP4 10.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.0.0.1\r\n" +
		"t=0 0\r\n"
	if _, err := ParseOffer([]byte(noAudio)); err == nil {
		t.Fatal("expected error for SDP with no audio media section")
	}
}

func TestParseOfferRejectsGarbage(t *testing.T) {
	if _, err := ParseOffer([]byte("not an sdp document")); err == nil {
		t.Fatal("expected error for malformed SDP")
	}
}

func TestNegotiateCodecPrefersPCMU(t *testing.T) {
	pt, err := NegotiateCodec([]string{"8", "0", "101"})
	if err != nil {
		t.Fatalf("NegotiateCodec() error = %v", err)
	}
	if pt != "0" {
		t.Errorf("NegotiateCodec() = %q, want 0 (PCMU preferred)", pt)
	}
}

func TestNegotiateCodecFallsBackToPCMA(t *testing.T) {
	pt, err := NegotiateCodec([]string{"8", "101"})
	if err != nil {
		t.Fatalf("NegotiateCodec() error = %v", err)
	}
	if pt != "8" {
		t.Errorf("NegotiateCodec() = %q, want 8", pt)
	}
}

func TestNegotiateCodecNoSupportedFormat(t *testing.T) {
	if _, err := NegotiateCodec([]string{"9", "18"}); err == nil {
		t.Fatal("expected error when no offered format is supported")
	}
}

func TestBuildResponseSDPIncludesSelectedCodecAndDTMF(t *testing.T) {
	sdp := BuildResponseSDP("203.0.113.10", 30000, "0", true)
	body := string(sdp)

	if !strings.Contains(body, "m=audio 30000 RTP/AVP 0 101") {
		t.Errorf("response SDP missing expected media line, got:\n%s", body)
	}
	if !strings.Contains(body, "rtpmap:0 PCMU/8000") {
		t.Errorf("response SDP missing PCMU rtpmap, got:\n%s", body)
	}
	if !strings.Contains(body, "fmtp:101 0-15") {
		t.Errorf("response SDP missing telephone-event fmtp, got:\n%s", body)
	}
}

func TestBuildResponseSDPOmitsDTMFWhenNotOffered(t *testing.T) {
	sdp := BuildResponseSDP("203.0.113.10", 30000, "8", false)
	body := string(sdp)

	if strings.Contains(body, "telephone-event") {
		t.Errorf("response SDP included telephone-event despite includeDTMF=false, got:\n%s", body)
	}
	if !strings.Contains(body, "rtpmap:8 PCMA/8000") {
		t.Errorf("response SDP missing PCMA rtpmap, got:\n%s", body)
	}
}

func TestBuildResponseSDPDefaultsToPCMUWhenCodecEmpty(t *testing.T) {
	sdp := BuildResponseSDP("203.0.113.10", 30000, "", false)
	if !strings.Contains(string(sdp), "m=audio 30000 RTP/AVP 0") {
		t.Errorf("response SDP did not default to PCMU, got:\n%s", sdp)
	}
}
