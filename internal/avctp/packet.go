// Package avctp implements the Audio/Video Control Transport Protocol:
// transaction-labeled message fragmentation and reassembly over an L2CAP
// Basic-mode channel.
package avctp

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the 2-bit command/response/invalid-profile tag carried in
// the packet header (AVCTP spec section 6.1).
type MessageType uint8

const (
	Command               MessageType = 0b00
	Response              MessageType = 0b10
	ResponseInvalidProfile MessageType = 0b11
)

type packetType uint8

const (
	packetSingle   packetType = 0b00
	packetStart    packetType = 0b01
	packetContinue packetType = 0b10
	packetEnd      packetType = 0b11
)

// packetHeader is the leading byte of every AVCTP packet: transaction
// label in the high nibble, packet type and message type in the low
// nibble (AVCTP spec section 6.1).
type packetHeader struct {
	label       uint8
	packetType  packetType
	messageType MessageType
}

func (h packetHeader) marshal() byte {
	return h.label<<4 | uint8(h.packetType)<<2 | uint8(h.messageType)
}

func unmarshalPacketHeader(b byte) packetHeader {
	return packetHeader{
		label:       b >> 4,
		packetType:  packetType((b >> 2) & 0x3),
		messageType: MessageType(b & 0x3),
	}
}

// Message is one reassembled AVCTP message.
type Message struct {
	Label       uint8
	ProfileID   uint16
	MessageType MessageType
	Payload     []byte
}

var (
	errShortPacket    = fmt.Errorf("avctp: packet shorter than header")
	errNoMessage      = fmt.Errorf("avctp: continue/end with no message in progress")
	errLabelMismatch  = fmt.Errorf("avctp: continue/end transaction label mismatch")
	errProfileMismatch = fmt.Errorf("avctp: continue/end profile id mismatch")
	errTooManyPackets  = fmt.Errorf("avctp: received more packets than declared")
	errIncomplete      = fmt.Errorf("avctp: end packet before declared count reached")
)

// assembler holds the single in-progress reassembly slot for one channel.
// AVCTP permits at most one fragmented message in flight per channel.
type assembler struct {
	data         []byte
	label        uint8
	messageType  MessageType
	profileID    uint16
	numPackets   uint8
	packetsGot   uint8
	inProgress   bool
}

func (a *assembler) reset() {
	a.data = nil
	a.messageType = 0
	a.label = 0
	a.numPackets = 0
	a.packetsGot = 0
	a.profileID = 0
	a.inProgress = false
}

// feed processes one inbound L2CAP SDU, returning a complete Message once
// the Single or End packet that completes it arrives. A malformed or
// out-of-sequence fragment resets the assembler and returns an error.
func (a *assembler) feed(raw []byte) (*Message, error) {
	msg, err := a.feedInternal(raw)
	if err != nil {
		a.reset()
		return nil, err
	}
	return msg, nil
}

func (a *assembler) feedInternal(raw []byte) (*Message, error) {
	if len(raw) < 1 {
		return nil, errShortPacket
	}
	hdr := unmarshalPacketHeader(raw[0])
	body := raw[1:]

	switch hdr.packetType {
	case packetSingle:
		if len(body) < 2 {
			return nil, errShortPacket
		}
		profileID := binary.BigEndian.Uint16(body[0:2])
		payload := append([]byte(nil), body[2:]...)
		a.reset()
		return &Message{Label: hdr.label, ProfileID: profileID, MessageType: hdr.messageType, Payload: payload}, nil

	case packetStart:
		if len(body) < 3 {
			return nil, errShortPacket
		}
		a.reset()
		a.numPackets = body[0]
		a.profileID = binary.BigEndian.Uint16(body[1:3])
		a.packetsGot = 1
		a.messageType = hdr.messageType
		a.label = hdr.label
		a.inProgress = true
		a.data = append(a.data, body[3:]...)
		return nil, nil

	case packetContinue, packetEnd:
		if len(body) < 2 {
			return nil, errShortPacket
		}
		profileID := binary.BigEndian.Uint16(body[0:2])
		if !a.inProgress {
			return nil, errNoMessage
		}
		if a.label != hdr.label {
			return nil, errLabelMismatch
		}
		if a.profileID != profileID {
			return nil, errProfileMismatch
		}
		a.packetsGot++
		if a.packetsGot > a.numPackets {
			return nil, errTooManyPackets
		}
		a.data = append(a.data, body[2:]...)

		if hdr.packetType == packetContinue {
			return nil, nil
		}
		if a.packetsGot != a.numPackets {
			return nil, errIncomplete
		}
		msg := &Message{Label: a.label, ProfileID: a.profileID, MessageType: a.messageType, Payload: a.data}
		a.reset()
		return msg, nil

	default:
		return nil, errShortPacket
	}
}

// overhead is the AVCTP header cost: 1-byte packet header plus the 2-byte
// profile id carried on every packet type.
const overhead = 3

// startOverhead additionally accounts for the Start packet's packet-count
// byte.
const startOverhead = overhead + 1

// fragment splits payload into one or more wire packets so that none
// exceeds mtu bytes, emitting Single when it fits and Start/Continue.../End
// otherwise.
func fragment(label uint8, profileID uint16, msgType MessageType, payload []byte, mtu int) ([][]byte, error) {
	if len(payload)+overhead <= mtu {
		pkt := make([]byte, 0, 3+len(payload))
		pkt = append(pkt, packetHeader{label: label, packetType: packetSingle, messageType: msgType}.marshal())
		pkt = append(pkt, byte(profileID>>8), byte(profileID))
		pkt = append(pkt, payload...)
		return [][]byte{pkt}, nil
	}

	chunkSize := mtu - overhead
	firstChunk := mtu - startOverhead
	if chunkSize <= 0 || firstChunk <= 0 {
		return nil, fmt.Errorf("avctp: mtu %d too small to fragment", mtu)
	}

	remaining := len(payload) - firstChunk
	trailingPackets := (remaining + chunkSize - 1) / chunkSize
	if trailingPackets == 0 {
		trailingPackets = 1
	}
	numPackets := 1 + trailingPackets
	if numPackets > 255 {
		return nil, fmt.Errorf("avctp: payload of %d bytes needs more than 255 packets at mtu %d", len(payload), mtu)
	}

	packets := make([][]byte, 0, numPackets)

	start := make([]byte, 0, startOverhead+firstChunk)
	start = append(start, packetHeader{label: label, packetType: packetStart, messageType: msgType}.marshal())
	start = append(start, byte(numPackets))
	start = append(start, byte(profileID>>8), byte(profileID))
	start = append(start, payload[:firstChunk]...)
	packets = append(packets, start)

	off := firstChunk
	for i := 0; i < trailingPackets; i++ {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		pt := packetContinue
		if i == trailingPackets-1 {
			pt = packetEnd
		}
		pkt := make([]byte, 0, overhead+(end-off))
		pkt = append(pkt, packetHeader{label: label, packetType: pt, messageType: msgType}.marshal())
		pkt = append(pkt, byte(profileID>>8), byte(profileID))
		pkt = append(pkt, payload[off:end]...)
		packets = append(packets, pkt)
		off = end
	}

	return packets, nil
}
