package avdtp

import "fmt"

type packetType uint8

const (
	packetSingle   packetType = 0b00
	packetStart    packetType = 0b01
	packetContinue packetType = 0b10
	packetEnd      packetType = 0b11
)

// MessageType is AVDTP's 2-bit command/response tag (AVDTP section 8.4.3).
type MessageType uint8

const (
	MsgCommand         MessageType = 0b00
	MsgGeneralReject   MessageType = 0b01
	MsgResponseAccept  MessageType = 0b10
	MsgResponseReject  MessageType = 0b11
)

// SignalIdentifier is the signaling primitive being invoked (AVDTP section 8.5).
type SignalIdentifier uint8

const (
	SigDiscover           SignalIdentifier = 0x01
	SigGetCapabilities    SignalIdentifier = 0x02
	SigSetConfiguration   SignalIdentifier = 0x03
	SigGetConfiguration   SignalIdentifier = 0x04
	SigReconfigure        SignalIdentifier = 0x05
	SigOpen               SignalIdentifier = 0x06
	SigStart              SignalIdentifier = 0x07
	SigClose              SignalIdentifier = 0x08
	SigSuspend            SignalIdentifier = 0x09
	SigAbort              SignalIdentifier = 0x0A
	SigSecurityControl    SignalIdentifier = 0x0B
	SigGetAllCapabilities SignalIdentifier = 0x0C
	SigDelayReport        SignalIdentifier = 0x0D
)

// signalHeader is the leading byte of every AVDTP signaling packet
// (AVDTP section 8.4).
type signalHeader struct {
	label       uint8
	packetType  packetType
	messageType MessageType
}

func (h signalHeader) marshal() byte {
	return h.label<<4 | uint8(h.packetType)<<2 | uint8(h.messageType)
}

func unmarshalSignalHeader(b byte) signalHeader {
	return signalHeader{
		label:       b >> 4,
		packetType:  packetType((b >> 2) & 0x3),
		messageType: MessageType(b & 0x3),
	}
}

// SignalMessage is one reassembled AVDTP signaling message.
type SignalMessage struct {
	Label            uint8
	MessageType      MessageType
	SignalIdentifier SignalIdentifier
	Data             []byte
}

var errShort = fmt.Errorf("avdtp: packet shorter than header")

// signalAssembler holds the single in-progress reassembly slot for one
// signaling channel.
type signalAssembler struct {
	label       uint8
	message     []byte
	messageType MessageType
	sigID       SignalIdentifier
	numPackets  uint8
	packetCount uint8
}

func (a *signalAssembler) reset() {
	a.label = 0
	a.message = nil
	a.messageType = MsgCommand
	a.sigID = SigDiscover
	a.numPackets = 0
	a.packetCount = 0
}

// feed processes one inbound L2CAP SDU on the signaling channel. Mirrors
// the original assembler's tolerant-Single/Start, strict-Continue/End
// behavior: a Single or Start arriving while a message is already in
// progress silently clears it (the original implementation warns and
// resets rather than erroring, since a client retrying a fresh command is
// not itself a protocol violation); a Continue/End with a mismatched label
// or message type is a hard error.
func (a *signalAssembler) feed(raw []byte) (*SignalMessage, error) {
	if len(raw) < 1 {
		return nil, errShort
	}
	a.packetCount++
	hdr := unmarshalSignalHeader(raw[0])
	body := raw[1:]

	if (hdr.packetType == packetSingle || hdr.packetType == packetStart) && len(a.message) > 0 {
		a.reset()
		a.packetCount = 1
	}
	if hdr.packetType == packetContinue || hdr.packetType == packetEnd {
		if a.label != hdr.label || a.messageType != hdr.messageType {
			a.reset()
			return nil, fmt.Errorf("avdtp: continue/end transaction mismatch")
		}
	}

	switch hdr.packetType {
	case packetSingle:
		if len(body) < 1 {
			return nil, errShort
		}
		sigID := SignalIdentifier(body[0] & 0x3F)
		msg := &SignalMessage{Label: hdr.label, MessageType: hdr.messageType, SignalIdentifier: sigID, Data: append([]byte(nil), body[1:]...)}
		a.reset()
		return msg, nil

	case packetStart:
		if len(body) < 2 {
			return nil, errShort
		}
		a.label = hdr.label
		a.messageType = hdr.messageType
		a.numPackets = body[0]
		a.sigID = SignalIdentifier(body[1] & 0x3F)
		a.message = append(a.message, body[2:]...)
		return nil, nil

	case packetContinue:
		if a.packetCount >= a.numPackets {
			a.reset()
			return nil, fmt.Errorf("avdtp: exceeded declared signaling packet count")
		}
		a.message = append(a.message, body...)
		return nil, nil

	case packetEnd:
		if a.packetCount != a.numPackets {
			a.reset()
			return nil, fmt.Errorf("avdtp: insufficient signaling packets")
		}
		a.message = append(a.message, body...)
		msg := &SignalMessage{Label: a.label, MessageType: a.messageType, SignalIdentifier: a.sigID, Data: a.message}
		a.reset()
		return msg, nil

	default:
		return nil, errShort
	}
}

// fragmentSignal splits an outbound signaling message into wire packets
// for a channel whose peer receive MTU is remoteMTU.
func fragmentSignal(label uint8, msgType MessageType, sigID SignalIdentifier, data []byte, remoteMTU int) [][]byte {
	if len(data)+2 <= remoteMTU {
		pkt := make([]byte, 0, 2+len(data))
		pkt = append(pkt, signalHeader{label: label, packetType: packetSingle, messageType: msgType}.marshal())
		pkt = append(pkt, byte(sigID))
		pkt = append(pkt, data...)
		return [][]byte{pkt}
	}

	chunkSize := remoteMTU - 2
	firstChunk := remoteMTU - 3
	if firstChunk < 0 {
		firstChunk = 0
	}
	if firstChunk > len(data) {
		firstChunk = len(data)
	}
	remaining := len(data) - firstChunk
	trailing := (remaining + chunkSize - 1) / chunkSize
	if trailing == 0 {
		trailing = 1
	}
	numPackets := 1 + trailing

	packets := make([][]byte, 0, numPackets)
	start := make([]byte, 0, 3+firstChunk)
	start = append(start, signalHeader{label: label, packetType: packetStart, messageType: msgType}.marshal())
	start = append(start, byte(numPackets))
	start = append(start, byte(sigID))
	start = append(start, data[:firstChunk]...)
	packets = append(packets, start)

	off := firstChunk
	for i := 0; i < trailing; i++ {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		pt := packetContinue
		if i == trailing-1 {
			pt = packetEnd
		}
		pkt := []byte{signalHeader{label: label, packetType: pt, messageType: msgType}.marshal()}
		pkt = append(pkt, data[off:end]...)
		packets = append(packets, pkt)
		off = end
	}
	return packets
}
