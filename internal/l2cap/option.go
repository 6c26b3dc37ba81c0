package l2cap

import "encoding/binary"

// Configuration option types (Bluetooth Core spec, Vol 3 Part A §5).
const (
	OptMTU              uint8 = 0x01
	OptFlushTimeout      uint8 = 0x02
	OptQoS               uint8 = 0x03
	OptRetransmission    uint8 = 0x04
	OptFCS               uint8 = 0x05
	OptExtFlowSpec       uint8 = 0x06
	OptExtWindowSize     uint8 = 0x07
)

// Default values of options a peer's ConfigureRequest omits. Only the MTU
// default is applied to the channel; flush timeout and FCS are not modeled.
const (
	defaultOptMTU          uint16 = 672
	defaultFlushTimeout    uint16 = 0xFFFF
	defaultFCS             uint8  = 1 // 16-bit FCS
)

// DefaultInitialMTU is the MTU assumed for a channel before either side has
// completed configuration.
const DefaultInitialMTU = 1691

// option is one decoded (type, value) configuration option.
type option struct {
	Type  uint8
	Value []byte
}

// parseOptions walks the TLV option stream of a Configure request/response.
func parseOptions(b []byte) ([]option, error) {
	var opts []option
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, errShortOption
		}
		typ := b[0]
		ln := int(b[1])
		if len(b) < 2+ln {
			return nil, errShortOption
		}
		opts = append(opts, option{Type: typ, Value: append([]byte(nil), b[2:2+ln]...)})
		b = b[2+ln:]
	}
	return opts, nil
}

func marshalOption(o option) []byte {
	out := make([]byte, 2+len(o.Value))
	out[0] = o.Type
	out[1] = byte(len(o.Value))
	copy(out[2:], o.Value)
	return out
}

func mtuOption(mtu uint16) option {
	v := make([]byte, 2)
	binary.LittleEndian.PutUint16(v, mtu)
	return option{Type: OptMTU, Value: v}
}

var errShortOption = fmtError("l2cap: truncated configuration option")

type l2capError string

func (e l2capError) Error() string { return string(e) }

func fmtError(s string) error { return l2capError(s) }

// isHint reports whether an unrecognized option type should be silently
// ignored (high bit set) rather than rejected as UnknownOptions.
func isHint(t uint8) bool { return t&0x80 != 0 }

func knownOptionType(t uint8) bool {
	switch t {
	case OptMTU, OptFlushTimeout, OptQoS, OptRetransmission, OptFCS, OptExtFlowSpec, OptExtWindowSize:
		return true
	default:
		return false
	}
}
