// Package sdp implements the SDP data element model and the service
// records the core advertises: attribute-id/data-element pairs consumed
// by the (out-of-scope) SDP server.
package sdp

import (
	"encoding/binary"
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// Kind is the SDP data element type tag (Bluetooth Core spec, Vol 3 Part B §3.2).
type Kind uint8

const (
	KindNil Kind = iota
	KindUint
	KindSint
	KindUUID
	KindText
	KindBool
	KindSequence
	KindAlternative
	KindURL
)

// numWidth records which integer field of Element is meaningful for
// Uint/Sint kinds, since the value itself may legitimately be zero.
type numWidth uint8

const (
	width8 numWidth = iota
	width16
	width32
	width64
	width128
)

// Element is the recursive SDP data-element sum type. Exactly one of the
// value fields is meaningful, selected by Kind (and, for Uint/Sint, Width).
type Element struct {
	Kind  Kind
	Width numWidth

	Uint8   uint8
	Uint16  uint16
	Uint32  uint32
	Uint64  uint64
	Uint128 [16]byte

	Sint8   int8
	Sint16  int16
	Sint32  int32
	Sint64  int64
	Sint128 [16]byte

	UUID UUID
	Text []byte
	Bool bool
	URL  string

	// Seq holds the children of Sequence and Alternative elements.
	Seq []Element
}

// UUID is a 128-bit Bluetooth UUID, printed in canonical dashed form. The
// 16/32-bit short forms are expanded against the Bluetooth base UUID
// before use so all comparisons are 128-bit.
type UUID struct {
	v uuid.UUID
}

var baseUUID = uuid.UUID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0x80, 0x5F, 0x9B, 0x34, 0xFB}

// UUID16 expands a 16-bit assigned number against the Bluetooth base UUID.
func UUID16(v uint16) UUID {
	var u uuid.UUID = baseUUID
	binary.BigEndian.PutUint16(u[2:4], v)
	return UUID{v: u}
}

// UUID32 expands a 32-bit assigned number against the Bluetooth base UUID.
func UUID32(v uint32) UUID {
	var u uuid.UUID = baseUUID
	binary.BigEndian.PutUint32(u[0:4], v)
	return UUID{v: u}
}

func (u UUID) String() string { return u.v.String() }

func (u UUID) bytes() [16]byte {
	var b [16]byte
	copy(b[:], u.v.Bytes())
	return b
}

// Nil, Uint8...Uint64, Sequence, etc. construct leaf/composite elements.

func Nil() Element { return Element{Kind: KindNil} }

func Uint8V(v uint8) Element   { return Element{Kind: KindUint, Width: width8, Uint8: v} }
func Uint16V(v uint16) Element { return Element{Kind: KindUint, Width: width16, Uint16: v} }
func Uint32V(v uint32) Element { return Element{Kind: KindUint, Width: width32, Uint32: v} }
func Uint64V(v uint64) Element { return Element{Kind: KindUint, Width: width64, Uint64: v} }
func Uint128V(v [16]byte) Element {
	return Element{Kind: KindUint, Width: width128, Uint128: v}
}

func Sint8V(v int8) Element   { return Element{Kind: KindSint, Width: width8, Sint8: v} }
func Sint16V(v int16) Element { return Element{Kind: KindSint, Width: width16, Sint16: v} }
func Sint32V(v int32) Element { return Element{Kind: KindSint, Width: width32, Sint32: v} }
func Sint64V(v int64) Element { return Element{Kind: KindSint, Width: width64, Sint64: v} }
func Sint128V(v [16]byte) Element {
	return Element{Kind: KindSint, Width: width128, Sint128: v}
}

func UUIDV(u UUID) Element      { return Element{Kind: KindUUID, UUID: u} }
func TextV(v []byte) Element    { return Element{Kind: KindText, Text: v} }
func BoolV(v bool) Element      { return Element{Kind: KindBool, Bool: v} }
func URLV(v string) Element     { return Element{Kind: KindURL, URL: v} }
func SequenceV(es ...Element) Element {
	return Element{Kind: KindSequence, Seq: es}
}
func AlternativeV(es ...Element) Element {
	return Element{Kind: KindAlternative, Seq: es}
}

// Marshal encodes the element and its header per Vol 3 Part B §3.
func (e Element) Marshal() []byte {
	switch e.Kind {
	case KindNil:
		return []byte{header(KindNil, 0)}
	case KindBool:
		v := byte(0)
		if e.Bool {
			v = 1
		}
		return []byte{header(KindBool, 0), v}
	case KindUUID:
		b := e.UUID.bytes()
		return append([]byte{header(KindUUID, 4)}, b[:]...)
	case KindUint, KindSint:
		return e.marshalNumber()
	case KindText:
		return e.marshalVariable(KindText, e.Text)
	case KindURL:
		return e.marshalVariable(KindURL, []byte(e.URL))
	case KindSequence, KindAlternative:
		var body []byte
		for _, c := range e.Seq {
			body = append(body, c.Marshal()...)
		}
		return e.marshalVariable(e.Kind, body)
	}
	return nil
}

func (e Element) marshalNumber() []byte {
	isUint := e.Kind == KindUint
	var idx byte
	var body []byte
	switch e.Width {
	case width8:
		idx = 0
		if isUint {
			body = []byte{e.Uint8}
		} else {
			body = []byte{byte(e.Sint8)}
		}
	case width16:
		idx = 1
		body = make([]byte, 2)
		if isUint {
			binary.BigEndian.PutUint16(body, e.Uint16)
		} else {
			binary.BigEndian.PutUint16(body, uint16(e.Sint16))
		}
	case width32:
		idx = 2
		body = make([]byte, 4)
		if isUint {
			binary.BigEndian.PutUint32(body, e.Uint32)
		} else {
			binary.BigEndian.PutUint32(body, uint32(e.Sint32))
		}
	case width64:
		idx = 3
		body = make([]byte, 8)
		if isUint {
			binary.BigEndian.PutUint64(body, e.Uint64)
		} else {
			binary.BigEndian.PutUint64(body, uint64(e.Sint64))
		}
	case width128:
		idx = 4
		if isUint {
			body = append([]byte(nil), e.Uint128[:]...)
		} else {
			body = append([]byte(nil), e.Sint128[:]...)
		}
	}
	return append([]byte{header(e.Kind, idx)}, body...)
}

func (e Element) marshalVariable(k Kind, body []byte) []byte {
	n := len(body)
	switch {
	case n <= 0xff:
		return append([]byte{header(k, 5), byte(n)}, body...)
	case n <= 0xffff:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(n))
		return append(append([]byte{header(k, 6)}, b...), body...)
	default:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(n))
		return append(append([]byte{header(k, 7)}, b...), body...)
	}
}

func header(k Kind, sizeIdx byte) byte {
	return byte(k)<<3 | (sizeIdx & 0x7)
}

// Unmarshal decodes a single data element (and, for Sequence/Alternative,
// its children recursively) from the front of b, returning the number of
// bytes consumed.
func Unmarshal(b []byte) (Element, int, error) {
	if len(b) < 1 {
		return Element{}, 0, fmt.Errorf("sdp: empty buffer")
	}
	k := Kind(b[0] >> 3)
	sizeIdx := b[0] & 0x7
	off := 1

	var length int
	switch sizeIdx {
	case 0:
		if k == KindNil {
			length = 0
		} else {
			length = 1
		}
	case 1:
		length = 2
	case 2:
		length = 4
	case 3:
		length = 8
	case 4:
		length = 16
	case 5:
		if len(b) < off+1 {
			return Element{}, 0, fmt.Errorf("sdp: truncated length byte")
		}
		length = int(b[off])
		off++
	case 6:
		if len(b) < off+2 {
			return Element{}, 0, fmt.Errorf("sdp: truncated length u16")
		}
		length = int(binary.BigEndian.Uint16(b[off:]))
		off += 2
	case 7:
		if len(b) < off+4 {
			return Element{}, 0, fmt.Errorf("sdp: truncated length u32")
		}
		length = int(binary.BigEndian.Uint32(b[off:]))
		off += 4
	}
	if len(b) < off+length {
		return Element{}, 0, fmt.Errorf("sdp: element body truncated: need %d have %d", length, len(b)-off)
	}
	body := b[off : off+length]
	total := off + length

	e := Element{Kind: k}
	switch k {
	case KindNil, KindBool:
		if k == KindBool {
			e.Bool = body[0] != 0
		}
	case KindUint:
		switch length {
		case 1:
			e.Width, e.Uint8 = width8, body[0]
		case 2:
			e.Width, e.Uint16 = width16, binary.BigEndian.Uint16(body)
		case 4:
			e.Width, e.Uint32 = width32, binary.BigEndian.Uint32(body)
		case 8:
			e.Width, e.Uint64 = width64, binary.BigEndian.Uint64(body)
		case 16:
			e.Width = width128
			copy(e.Uint128[:], body)
		}
	case KindSint:
		switch length {
		case 1:
			e.Width, e.Sint8 = width8, int8(body[0])
		case 2:
			e.Width, e.Sint16 = width16, int16(binary.BigEndian.Uint16(body))
		case 4:
			e.Width, e.Sint32 = width32, int32(binary.BigEndian.Uint32(body))
		case 8:
			e.Width, e.Sint64 = width64, int64(binary.BigEndian.Uint64(body))
		case 16:
			e.Width = width128
			copy(e.Sint128[:], body)
		}
	case KindUUID:
		u, err := uuid.FromBytes(body)
		if err != nil {
			return Element{}, 0, fmt.Errorf("sdp: bad uuid: %w", err)
		}
		e.UUID = UUID{v: u}
	case KindText:
		e.Text = append([]byte(nil), body...)
	case KindURL:
		e.URL = string(body)
	case KindSequence, KindAlternative:
		rest := body
		for len(rest) > 0 {
			child, n, err := Unmarshal(rest)
			if err != nil {
				return Element{}, 0, err
			}
			e.Seq = append(e.Seq, child)
			rest = rest[n:]
		}
	default:
		return Element{}, 0, fmt.Errorf("sdp: unknown data element kind 0x%02X", k)
	}
	return e, total, nil
}
