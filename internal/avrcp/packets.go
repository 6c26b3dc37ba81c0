package avrcp

import (
	"encoding/binary"
	"fmt"

	"github.com/btsinkd/btsinkd/internal/avc"
)

// ProfileID is the AVCTP profile id AVRCP (AV/Remote-Control) registers
// under on the signaling channel.
const ProfileID uint16 = 0x110E

// companyID is the Bluetooth SIG's 24-bit vendor id, used on every
// vendor-dependent AV/C frame this profile sends or expects.
const companyID = 0x001958

// Pdu is an AVRCP PDU id (AVRCP section 4.5).
type Pdu uint8

const (
	PduGetCapabilities Pdu = 0x10

	PduListPlayerApplicationSettingAttributes   Pdu = 0x11
	PduListPlayerApplicationSettingValues       Pdu = 0x12
	PduGetCurrentPlayerApplicationSettingValue  Pdu = 0x13
	PduSetPlayerApplicationSettingValue         Pdu = 0x14
	PduGetPlayerApplicationSettingAttributeText Pdu = 0x15
	PduGetPlayerApplicationSettingValueText     Pdu = 0x16
	PduInformDisplayableCharacterSet            Pdu = 0x17
	PduInformBatteryStatusOfCt                  Pdu = 0x18

	PduGetElementAttributes Pdu = 0x20

	PduGetPlayStatus        Pdu = 0x30
	PduRegisterNotification Pdu = 0x31

	PduRequestContinuingResponse Pdu = 0x40
	PduAbortContinuingResponse   Pdu = 0x41

	PduSetAbsoluteVolume Pdu = 0x50

	PduSetAddressedPlayer Pdu = 0x60

	PduSetBrowsedPlayer      Pdu = 0x70
	PduGetFolderItems        Pdu = 0x71
	PduChangePath            Pdu = 0x72
	PduGetItemAttributes     Pdu = 0x73
	PduPlayItem              Pdu = 0x74
	PduGetTotalNumberOfItems Pdu = 0x75

	PduSearch          Pdu = 0x80
	PduAddToNowPlaying Pdu = 0x90

	PduGeneralReject Pdu = 0xA0
)

// EventID is an AVRCP notification event id (AVRCP section 28).
type EventID uint8

const (
	EventPlaybackStatusChanged           EventID = 0x00
	EventTrackChanged                    EventID = 0x02
	EventTrackReachedEnd                 EventID = 0x03
	EventTrackReachedStart               EventID = 0x04
	EventPlaybackPosChanged              EventID = 0x05
	EventBatteryStatusChanged            EventID = 0x06
	EventSystemStatusChanged             EventID = 0x07
	EventPlayerApplicationSettingChanged EventID = 0x08
	EventNowPlayingContentChanged        EventID = 0x09
	EventAvailablePlayerChanged          EventID = 0x0A
	EventAddressedPlayerChanged          EventID = 0x0B
	EventUidsChanged                     EventID = 0x0C
	EventVolumeChanged                   EventID = 0x0D
)

// packetType is the 2-bit fragmentation marker of a CommandHeader.
type packetType uint8

const (
	packetSingle   packetType = 0b00
	packetStart    packetType = 0b01
	packetContinue packetType = 0b10
	packetEnd      packetType = 0b11
)

// commandHeader is the 4-byte AVRCP vendor-dependent header:
// [pdu:8][packet-type:2|rfu:6][parameter-length:16].
type commandHeader struct {
	pdu            Pdu
	packetType     packetType
	parameterLength uint16
}

func (h commandHeader) marshal() []byte {
	out := make([]byte, 4)
	out[0] = byte(h.pdu)
	out[1] = byte(h.packetType) & 0x03
	binary.BigEndian.PutUint16(out[2:], h.parameterLength)
	return out
}

func unmarshalCommandHeader(raw []byte) (commandHeader, error) {
	if len(raw) < 4 {
		return commandHeader{}, fmt.Errorf("avrcp: short command header")
	}
	return commandHeader{
		pdu:            Pdu(raw[0]),
		packetType:     packetType(raw[1] & 0x03),
		parameterLength: binary.BigEndian.Uint16(raw[2:4]),
	}, nil
}

// command is one fully-reassembled AVRCP vendor-dependent PDU.
type command struct {
	pdu        Pdu
	parameters []byte
}

// commandAssembler reassembles a single in-flight fragmented PDU, keyed
// by matching pdu id across Start/Continue/End. A mismatch resets the
// assembler and reports a protocol error (AVRCP section 4.6.2).
type commandAssembler struct {
	pdu  *Pdu
	data []byte
}

func (a *commandAssembler) reset() {
	a.pdu = nil
	a.data = nil
}

func (a *commandAssembler) processMsg(packet []byte) (*command, error) {
	hdr, err := unmarshalCommandHeader(packet)
	if err != nil {
		a.reset()
		return nil, err
	}
	payload := packet[4:]
	if int(hdr.parameterLength) != len(payload) {
		a.reset()
		return nil, fmt.Errorf("avrcp: parameter length mismatch")
	}

	switch hdr.packetType {
	case packetSingle:
		a.reset()
		return &command{pdu: hdr.pdu, parameters: payload}, nil
	case packetStart:
		a.reset()
		pdu := hdr.pdu
		a.pdu = &pdu
		a.data = append([]byte(nil), payload...)
		return nil, nil
	case packetContinue:
		if a.pdu == nil || *a.pdu != hdr.pdu {
			a.reset()
			return nil, fmt.Errorf("avrcp: pdu mismatch on continue fragment")
		}
		a.data = append(a.data, payload...)
		return nil, nil
	case packetEnd:
		if a.pdu == nil || *a.pdu != hdr.pdu {
			a.reset()
			return nil, fmt.Errorf("avrcp: pdu mismatch on end fragment")
		}
		a.data = append(a.data, payload...)
		cmd := &command{pdu: hdr.pdu, parameters: a.data}
		a.reset()
		return cmd, nil
	default:
		a.reset()
		return nil, fmt.Errorf("avrcp: unknown packet type %d", hdr.packetType)
	}
}

// maxPayloadSize is the largest parameter block one AVRCP vendor-dependent
// fragment may carry (512 - 3 - 3 - 3). With the 3-byte AV/C frame header,
// 3-byte company id and 4-byte AVRCP header, a full fragment is 513 bytes.
const maxPayloadSize = 512 - 3 - 3 - 3

// fragmentCommand splits (cmd, pdu, parameters) into one or more AV/C
// vendor-dependent frames, calling emit once per fragment in order.
// Parameter blocks longer than maxPayloadSize are split into
// Start/Continue/End fragments; the rest go out as a single Single
// fragment.
func fragmentCommand(cmd avc.CommandCode, pdu Pdu, parameters []byte, emit func([]byte) error) error {
	remaining := parameters
	first := true
	for {
		n := len(remaining)
		if n > maxPayloadSize {
			n = maxPayloadSize
		}
		chunk := remaining[:n]
		remaining = remaining[n:]

		var pt packetType
		switch {
		case first && len(remaining) == 0:
			pt = packetSingle
		case first:
			pt = packetStart
		case len(remaining) == 0:
			pt = packetEnd
		default:
			pt = packetContinue
		}

		frame := frameHeader(cmd)
		framed, err := frame.Marshal()
		if err != nil {
			return err
		}
		out := make([]byte, 0, len(framed)+3+4+len(chunk))
		out = append(out, framed...)
		out = append(out, byte(companyID>>16), byte(companyID>>8), byte(companyID))
		out = append(out, commandHeader{pdu: pdu, packetType: pt, parameterLength: uint16(len(chunk))}.marshal()...)
		out = append(out, chunk...)
		if err := emit(out); err != nil {
			return err
		}

		first = false
		if len(remaining) == 0 {
			return nil
		}
	}
}

func frameHeader(cmd avc.CommandCode) avc.Frame {
	return avc.Frame{CType: cmd, Subunit: avc.Panel0, Opcode: avc.VendorDependent}
}
