// Package avdtp implements the AVDTP endpoint state machine: signaling
// channel dispatch, capability negotiation, and stream/transport-channel
// binding for an SBC A2DP sink.
package avdtp

import "fmt"

// ServiceCategory tags one entry of a capability list (AVDTP section 8.21.1).
type ServiceCategory uint8

const (
	CategoryMediaTransport   ServiceCategory = 0x01
	CategoryReporting        ServiceCategory = 0x02
	CategoryRecovery         ServiceCategory = 0x03
	CategoryContentProtection ServiceCategory = 0x04
	CategoryHeaderCompression ServiceCategory = 0x05
	CategoryMultiplexing     ServiceCategory = 0x06
	CategoryMediaCodec       ServiceCategory = 0x07
	CategoryDelayReporting   ServiceCategory = 0x08
)

// MediaType is the assigned-number media type (Assigned Numbers section 6.3.1).
type MediaType uint8

const (
	MediaTypeAudio      MediaType = 0x00
	MediaTypeVideo      MediaType = 0x01
	MediaTypeMultimedia MediaType = 0x02
)

// AudioCodec is the assigned-number audio codec id (Assigned Numbers section 6.5.1).
type AudioCodec uint8

const (
	CodecSBC           AudioCodec = 0x00
	CodecMPEG12Audio   AudioCodec = 0x01
	CodecMPEG24AAC     AudioCodec = 0x02
	CodecMPEGDUSAC     AudioCodec = 0x03
	CodecATRAC         AudioCodec = 0x04
	CodecVendorSpecific AudioCodec = 0xFF
)

// StreamEndpointType distinguishes Source and Sink endpoints.
type StreamEndpointType uint8

const (
	TsepSource StreamEndpointType = 0x00
	TsepSink   StreamEndpointType = 0x01
)

// StreamEndpointInfo is the 2-byte discovery entry describing one local
// endpoint (AVDTP section 8.6.2).
type StreamEndpointInfo struct {
	SEID      uint8
	InUse     bool
	MediaType MediaType
	Tsep      StreamEndpointType
}

func (s StreamEndpointInfo) marshal() []byte {
	b0 := s.SEID<<2 | boolBit(s.InUse)<<1
	b1 := uint8(s.MediaType)<<4 | uint8(s.Tsep)<<3
	return []byte{b0, b1}
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Capability is one entry of a capability list: either the bare
// MediaTransport marker, a codec-specific MediaCodec capability, or an
// opaque Generic entry for categories this implementation doesn't model
// beyond round-tripping.
type Capability struct {
	Category ServiceCategory
	Codec    *MediaCodecCapability // non-nil iff Category == CategoryMediaCodec
	Raw      []byte                // the category's value bytes, for Generic/round-trip
}

// MediaCodecCapability is the MediaCodec capability's payload: media type,
// codec id, and codec-specific information.
type MediaCodecCapability struct {
	MediaType MediaType
	Codec     AudioCodec
	SBC       *SBCCodecInformation // non-nil iff Codec == CodecSBC
	Generic   []byte
}

func marshalCapabilities(caps []Capability) []byte {
	var out []byte
	for _, c := range caps {
		var value []byte
		switch {
		case c.Category == CategoryMediaCodec && c.Codec != nil:
			value = c.Codec.marshal()
		default:
			value = c.Raw
		}
		out = append(out, byte(c.Category), byte(len(value)))
		out = append(out, value...)
	}
	return out
}

func parseCapabilities(b []byte) ([]Capability, error) {
	var caps []Capability
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, fmt.Errorf("avdtp: truncated capability list")
		}
		cat := ServiceCategory(b[0])
		length := int(b[1])
		if len(b) < 2+length {
			return nil, fmt.Errorf("avdtp: capability length exceeds remaining buffer")
		}
		value := b[2 : 2+length]
		b = b[2+length:]

		if cat == CategoryMediaCodec {
			codec, err := parseMediaCodecCapability(value)
			if err != nil {
				return nil, err
			}
			caps = append(caps, Capability{Category: cat, Codec: codec, Raw: append([]byte(nil), value...)})
			continue
		}
		caps = append(caps, Capability{Category: cat, Raw: append([]byte(nil), value...)})
	}
	return caps, nil
}

func parseMediaCodecCapability(b []byte) (*MediaCodecCapability, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("avdtp: truncated media codec capability")
	}
	mediaType := MediaType(b[0] >> 4)
	codec := AudioCodec(b[1])
	rest := b[2:]

	mc := &MediaCodecCapability{MediaType: mediaType, Codec: codec}
	if codec == CodecSBC {
		sbc, err := parseSBCCodecInformation(rest)
		if err != nil {
			return nil, err
		}
		mc.SBC = sbc
	} else {
		mc.Generic = append([]byte(nil), rest...)
	}
	return mc, nil
}

func (m *MediaCodecCapability) marshal() []byte {
	out := []byte{uint8(m.MediaType) << 4, byte(m.Codec)}
	if m.Codec == CodecSBC && m.SBC != nil {
		return append(out, m.SBC.marshal()...)
	}
	return append(out, m.Generic...)
}

// isBasic reports whether a capability is part of the Basic capability
// set, i.e. everything except DelayReporting (AVDTP section 8.21.1).
func (c Capability) isBasic() bool {
	return c.Category != CategoryDelayReporting
}

// isApplicationCapability reports whether a capability is an application
// service capability (MediaCodec or a protocol-agnostic category), as
// opposed to a transport service capability. Only application
// capabilities may be changed by Reconfigure.
func (c Capability) isApplicationCapability() bool {
	switch c.Category {
	case CategoryMediaCodec, CategoryContentProtection:
		return true
	default:
		return false
	}
}
