package l2cap

import "encoding/binary"

// Signaling command codes (Bluetooth Core spec, Vol 3 Part A §4).
const (
	SigCommandReject       uint8 = 0x01
	SigConnectionRequest   uint8 = 0x02
	SigConnectionResponse  uint8 = 0x03
	SigConfigureRequest    uint8 = 0x04
	SigConfigureResponse   uint8 = 0x05
	SigDisconnectionRequest  uint8 = 0x06
	SigDisconnectionResponse uint8 = 0x07
	SigEchoRequest         uint8 = 0x08
	SigEchoResponse        uint8 = 0x09
	SigInformationRequest  uint8 = 0x0A
	SigInformationResponse uint8 = 0x0B
)

// Connection response result codes.
const (
	ConnSuccess        uint16 = 0x0000
	ConnPending        uint16 = 0x0001
	ConnPSMNotSupported uint16 = 0x0002
)

// Configure response result codes.
const (
	CfgSuccess         uint16 = 0x0000
	CfgUnacceptableParams uint16 = 0x0001
	CfgRejected        uint16 = 0x0002
	CfgUnknownOptions  uint16 = 0x0003
)

// Information request/response types.
const (
	InfoConnectionlessMTU     uint16 = 0x0001
	InfoLocalSupportedFeatures uint16 = 0x0002
	InfoFixedChannelsSupported uint16 = 0x0003
)

// Local supported features bitmap bits (Vol 3 Part A §4.12).
const (
	FeatureFixedChannelsOverBREDR    uint32 = 1 << 7
	FeatureUnicastConnectionlessRecv uint32 = 1 << 9
)

// sigHeader is the 4-byte signaling command header: code, identifier,
// length.
type sigHeader struct {
	Code   uint8
	Ident  uint8
	Length uint16
}

func (h sigHeader) marshal() []byte {
	b := make([]byte, 4)
	b[0] = h.Code
	b[1] = h.Ident
	binary.LittleEndian.PutUint16(b[2:4], h.Length)
	return b
}

func unmarshalSigHeader(b []byte) (sigHeader, []byte, error) {
	if len(b) < 4 {
		return sigHeader{}, nil, fmtError("l2cap: short signaling header")
	}
	h := sigHeader{Code: b[0], Ident: b[1], Length: binary.LittleEndian.Uint16(b[2:4])}
	rest := b[4:]
	if len(rest) < int(h.Length) {
		return sigHeader{}, nil, fmtError("l2cap: truncated signaling command")
	}
	return h, rest[:h.Length], nil
}

func buildSignal(code, ident uint8, body []byte) []byte {
	h := sigHeader{Code: code, Ident: ident, Length: uint16(len(body))}
	return append(h.marshal(), body...)
}

func connectionRequestBody(psm, scid uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], psm)
	binary.LittleEndian.PutUint16(b[2:4], scid)
	return b
}

func connectionResponseBody(dcid, scid, result, status uint16) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0:2], dcid)
	binary.LittleEndian.PutUint16(b[2:4], scid)
	binary.LittleEndian.PutUint16(b[4:6], result)
	binary.LittleEndian.PutUint16(b[6:8], status)
	return b
}

func configureRequestBody(dcid, flags uint16, opts []option) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], dcid)
	binary.LittleEndian.PutUint16(b[2:4], flags)
	for _, o := range opts {
		b = append(b, marshalOption(o)...)
	}
	return b
}

func configureResponseBody(scid, flags, result uint16, opts []option) []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:2], scid)
	binary.LittleEndian.PutUint16(b[2:4], flags)
	binary.LittleEndian.PutUint16(b[4:6], result)
	for _, o := range opts {
		b = append(b, marshalOption(o)...)
	}
	return b
}

func disconnectionBody(dcid, scid uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], dcid)
	binary.LittleEndian.PutUint16(b[2:4], scid)
	return b
}

func informationRequestBody(infoType uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, infoType)
	return b
}

func informationResponseBody(infoType, result uint16, data []byte) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], infoType)
	binary.LittleEndian.PutUint16(b[2:4], result)
	return append(b, data...)
}

func commandRejectBody(reason uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, reason)
	return b
}
