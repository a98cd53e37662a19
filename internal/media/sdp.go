package media

import (
	"fmt"
	"log/slog"

	psdp "github.com/pion/sdp/v3"
)

// allowed payload types for offer/answer negotiation, per the fixed codec
// set this bridge supports: PCMU(0), PCMA(8), telephone-event(101).
var allowedFormats = map[string]bool{
	"0":   true,
	"8":   true,
	"101": true,
}

// rtpmapMap maps the allowed payload types to their rtpmap strings.
var rtpmapMap = map[string]string{
	"0":   "PCMU/8000",
	"8":   "PCMA/8000",
	"101": "telephone-event/8000",
}

// OfferInfo is the subset of a remote SDP offer relevant to codec negotiation
// and RTP endpoint discovery.
type OfferInfo struct {
	RemoteAddr     string
	RemotePort     int
	OfferedFormats []string // payload types offered, in order
	HasDTMFEvent   bool
}

// ParseOffer extracts the connection address, RTP port, and offered audio
// payload types from an SDP offer. Only the first audio media section is
// considered; additional media sections (e.g. video) are ignored since this
// bridge is audio-only.
func ParseOffer(offer []byte) (*OfferInfo, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal(offer); err != nil {
		return nil, fmt.Errorf("parse SDP offer: %w", err)
	}

	info := &OfferInfo{}
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		info.RemoteAddr = sd.ConnectionInformation.Address.Address
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		info.RemotePort = md.MediaName.Port.Value
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			info.RemoteAddr = md.ConnectionInformation.Address.Address
		}
		info.OfferedFormats = append(info.OfferedFormats, md.MediaName.Formats...)
		for _, fmtID := range md.MediaName.Formats {
			if fmtID == "101" {
				info.HasDTMFEvent = true
			}
		}
		break
	}

	if info.RemotePort == 0 {
		return nil, fmt.Errorf("SDP offer has no audio media section")
	}
	return info, nil
}

// NegotiateCodec picks the first mutually supported codec (PCMU preferred
// over PCMA) from the offered payload types. Returns an error if none of
// the offered formats are in the supported set.
func NegotiateCodec(offered []string) (payloadType string, err error) {
	for _, pref := range []string{"0", "8"} {
		for _, f := range offered {
			if f == pref {
				return pref, nil
			}
		}
	}
	return "", fmt.Errorf("no supported codec in offer: %v", offered)
}

// BuildResponseSDP creates an SDP answer for media sessions with the
// selected codec and, when the offer included telephone-event, echoes that
// back so DTMF can continue to ride RFC 4733.
func BuildResponseSDP(serverAddr string, serverPort int, selectedCodec string, includeDTMF bool) []byte {
	if selectedCodec == "" {
		selectedCodec = "0"
	}
	formats := []string{selectedCodec}
	if includeDTMF {
		formats = append(formats, "101")
	}

	sessionDesc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "voicebridge",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: serverAddr,
		},
		SessionName: "voicebridge media session",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: serverAddr},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: serverPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: responseAttributes(formats),
			},
		},
	}

	sdpBytes, err := sessionDesc.Marshal()
	if err != nil {
		slog.Error("failed to build response SDP", "error", err)
		return nil
	}
	return sdpBytes
}

// codecAttributes returns the rtpmap/fmtp/ptime attributes for the given
// (already-restricted) set of payload types.
func codecAttributes(formats []string) []psdp.Attribute {
	var attrs []psdp.Attribute

	for _, format := range formats {
		if !allowedFormats[format] {
			continue
		}
		if rtpmap, ok := rtpmapMap[format]; ok {
			attrs = append(attrs, psdp.Attribute{Key: "rtpmap", Value: format + " " + rtpmap})
		}
	}

	for _, format := range formats {
		if format == "101" {
			attrs = append(attrs, psdp.Attribute{Key: "fmtp", Value: "101 0-15"})
		}
	}

	attrs = append(attrs, psdp.Attribute{Key: "ptime", Value: "20"})
	attrs = append(attrs, psdp.Attribute{Key: "sendrecv"})
	return attrs
}

func responseAttributes(formats []string) []psdp.Attribute {
	attrs := codecAttributes(formats)
	attrs = append(attrs, psdp.Attribute{Key: "rtcp-mux"})
	return attrs
}
