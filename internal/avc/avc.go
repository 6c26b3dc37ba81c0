// Package avc implements the AV/C frame format that AVRCP is layered on
// top of (IEC 61883 / AV/C Digital Interface Command Set, as profiled by
// AVRCP section 4).
package avc

import "fmt"

// CommandCode is the 4-bit ctype field of an AV/C frame. Values 0x00-0x04
// are commands, 0x08 and above are responses.
type CommandCode uint8

const (
	Control         CommandCode = 0x00
	Status          CommandCode = 0x01
	SpecificInquiry CommandCode = 0x02
	Notify          CommandCode = 0x03
	GeneralInquiry  CommandCode = 0x04

	NotImplemented CommandCode = 0x08
	Accepted       CommandCode = 0x09
	Rejected       CommandCode = 0x0A
	InTransition   CommandCode = 0x0B
	Implemented    CommandCode = 0x0C
	Changed        CommandCode = 0x0D
	Interim        CommandCode = 0x0F
)

// IsResponse reports whether c is a response code rather than a command
// code.
func (c CommandCode) IsResponse() bool { return c >= 0x08 }

// SubunitType is the 5-bit subunit-type field of a Subunit.
type SubunitType uint8

const (
	Monitor       SubunitType = 0x00
	Audio         SubunitType = 0x01
	Printer       SubunitType = 0x02
	Disc          SubunitType = 0x03
	TapeRecorder  SubunitType = 0x04
	Tuner         SubunitType = 0x05
	CA            SubunitType = 0x06
	Camera        SubunitType = 0x07
	Panel         SubunitType = 0x09
	BulletinBoard SubunitType = 0x0A
	CameraStorage SubunitType = 0x0B
	VendorUnique  SubunitType = 0x1C
	Extended      SubunitType = 0x1E
	Unit          SubunitType = 0x1F
)

// Opcode is the AV/C opcode byte following the subunit field.
type Opcode uint8

const (
	VendorDependent Opcode = 0x00
	Reserve         Opcode = 0x01
	PlugInfo        Opcode = 0x02

	DigitalOutput          Opcode = 0x10
	DigitalInput           Opcode = 0x11
	ChannelUsage           Opcode = 0x12
	OutputPlugSignalFormat Opcode = 0x18
	InputPlugSignalFormat  Opcode = 0x19
	GeneralBusSetup        Opcode = 0x1F
	ConnectAv              Opcode = 0x20
	DisconnectAv           Opcode = 0x21
	Connections            Opcode = 0x22
	Connect                Opcode = 0x24
	Disconnect             Opcode = 0x25
	UnitInfo               Opcode = 0x30
	SubunitInfo            Opcode = 0x31

	PassThrough Opcode = 0x7C
	GuiUpdate   Opcode = 0x7D
	PushGuiData Opcode = 0x7E
	UserAction  Opcode = 0x7F

	Version Opcode = 0xB0
	Power   Opcode = 0xB2
)

// Subunit identifies the addressed subunit: a type plus an id, extended
// beyond the 3-bit wire field via a 0xFF continuation byte for ids up to
// 514 (ids 5 and 6 are reserved escape/invalid markers and may not be
// used directly).
type Subunit struct {
	Type SubunitType
	ID   uint32
}

// Panel0 is the well-known panel subunit (type Panel, id 0) that every
// AVRCP PDU addresses.
var Panel0 = Subunit{Type: Panel, ID: 0}

// Unit7 is the AV/C unit pseudo-subunit (type Unit, id 7) UnitInfo and
// SubunitInfo responses are addressed from.
var Unit7 = Subunit{Type: Unit, ID: 7}

// Marshal encodes the subunit field, including any extended-id
// continuation bytes.
func (s Subunit) Marshal() ([]byte, error) { return s.marshal() }

func (s Subunit) marshal() ([]byte, error) {
	if s.Type == Extended {
		return nil, fmt.Errorf("avc: extended subunit type not supported")
	}
	if s.ID > 514 || s.ID == 5 || s.ID == 6 {
		return nil, fmt.Errorf("avc: subunit id %d out of range", s.ID)
	}
	id := s.ID
	if id > 5 {
		id = 5
	}
	out := []byte{byte(s.Type)<<3 | byte(id)}
	rem := s.ID - id
	if rem > 0 {
		ext := rem
		if ext > 0xFF {
			ext = 0xFF
		}
		out = append(out, byte(ext))
		rem -= ext
		if ext == 0xFF {
			out = append(out, byte(rem+1))
		}
	}
	return out, nil
}

// unmarshalSubunit parses a Subunit from the front of raw, returning the
// number of bytes consumed.
func unmarshalSubunit(raw []byte) (Subunit, int, error) {
	if len(raw) < 1 {
		return Subunit{}, 0, fmt.Errorf("avc: short subunit")
	}
	ty := SubunitType(raw[0] >> 3)
	rawID := raw[0] & 0x07
	if ty == Extended {
		return Subunit{}, 0, fmt.Errorf("avc: extended subunit type not supported")
	}
	if rawID == 6 {
		return Subunit{}, 0, fmt.Errorf("avc: reserved subunit id")
	}
	consumed := 1
	id := uint32(rawID)
	if id == 5 {
		if len(raw) < 2 {
			return Subunit{}, 0, fmt.Errorf("avc: short subunit extension")
		}
		ext := raw[1]
		if ext == 0 {
			return Subunit{}, 0, fmt.Errorf("avc: zero subunit extension")
		}
		consumed++
		if ext == 0xFF {
			if len(raw) < 3 {
				return Subunit{}, 0, fmt.Errorf("avc: short subunit continuation")
			}
			cont := raw[2]
			consumed++
			id = (id + uint32(cont)) - 1
		}
		id += uint32(ext)
	}
	return Subunit{Type: ty, ID: id}, consumed, nil
}

// Frame is the fixed [ctype][subunit][opcode] header every AV/C command
// or response begins with.
type Frame struct {
	CType   CommandCode
	Subunit Subunit
	Opcode  Opcode
}

// Marshal encodes the frame header. ctype occupies only the low 4 bits
// of the first byte; the top 4 bits are reserved and always zero.
func (f Frame) Marshal() ([]byte, error) {
	sub, err := f.Subunit.marshal()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2+len(sub))
	out = append(out, byte(f.CType)&0x0F)
	out = append(out, sub...)
	out = append(out, byte(f.Opcode))
	return out, nil
}

// UnmarshalFrame parses a Frame from the front of raw, returning the
// number of bytes consumed.
func UnmarshalFrame(raw []byte) (Frame, int, error) {
	if len(raw) < 2 {
		return Frame{}, 0, fmt.Errorf("avc: short frame")
	}
	ctype := CommandCode(raw[0] & 0x0F)
	sub, n, err := unmarshalSubunit(raw[1:])
	if err != nil {
		return Frame{}, 0, err
	}
	pos := 1 + n
	if len(raw) < pos+1 {
		return Frame{}, 0, fmt.Errorf("avc: short frame opcode")
	}
	return Frame{CType: ctype, Subunit: sub, Opcode: Opcode(raw[pos])}, pos + 1, nil
}

// PassThroughOp is an AV/C panel operation id (AVRCP section 7, "panel
// subunit operation id" assigned numbers).
type PassThroughOp uint8

const (
	OpSelect      PassThroughOp = 0x00
	OpUp          PassThroughOp = 0x01
	OpDown        PassThroughOp = 0x02
	OpLeft        PassThroughOp = 0x03
	OpRight       PassThroughOp = 0x04
	OpPlay        PassThroughOp = 0x44
	OpStop        PassThroughOp = 0x45
	OpPause       PassThroughOp = 0x46
	OpRewind      PassThroughOp = 0x48
	OpFastForward PassThroughOp = 0x49
	OpForward     PassThroughOp = 0x4B
	OpBackward    PassThroughOp = 0x4C
)

// PassThroughState is the key-press state bit of a PassThrough command.
type PassThroughState uint8

const (
	Pressed  PassThroughState = 0
	Released PassThroughState = 1
)

// MarshalPassThrough encodes a PassThrough operation's parameter block:
// [state:1|op:7][data-length:8] (data-length is always 0, no vendor
// payload follows a panel operation).
func MarshalPassThrough(op PassThroughOp, state PassThroughState) []byte {
	return []byte{byte(state)<<7 | byte(op)&0x7F, 0x00}
}
