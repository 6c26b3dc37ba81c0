package hci

// Opcode is the 16-bit HCI command opcode: OGF (6 bits) | OCF (10 bits).
type Opcode uint16

// MakeOpcode composes an opcode from its OGF/OCF parts.
func MakeOpcode(ogf uint8, ocf uint16) Opcode {
	return Opcode(uint16(ogf)<<10 | ocf&0x03FF)
}

func (o Opcode) OGF() uint8  { return uint8(o >> 10) }
func (o Opcode) OCF() uint16 { return uint16(o) & 0x03FF }

func (o Opcode) String() string {
	if name, ok := opcodeName[o]; ok {
		return name
	}
	return "Unknown"
}

const (
	ogfLinkControl = 0x01
	ogfHostCtl     = 0x03
	ogfInfoParams  = 0x04
)

// Opcodes used by the connection manager and the event loop itself.
var (
	OpInquiry                     = MakeOpcode(ogfLinkControl, 0x0001)
	OpInquiryCancel               = MakeOpcode(ogfLinkControl, 0x0002)
	OpCreateConnection            = MakeOpcode(ogfLinkControl, 0x0005)
	OpDisconnect                  = MakeOpcode(ogfLinkControl, 0x0006)
	OpAcceptConnectionRequest     = MakeOpcode(ogfLinkControl, 0x0009)
	OpRejectConnectionRequest     = MakeOpcode(ogfLinkControl, 0x000A)
	OpLinkKeyRequestReply         = MakeOpcode(ogfLinkControl, 0x000B)
	OpLinkKeyRequestNegativeReply = MakeOpcode(ogfLinkControl, 0x000C)
	OpPINCodeRequestReply         = MakeOpcode(ogfLinkControl, 0x000D)
	OpPINCodeRequestNegativeReply = MakeOpcode(ogfLinkControl, 0x000E)
	OpAuthenticationRequested     = MakeOpcode(ogfLinkControl, 0x0011)
	OpSetConnectionEncryption     = MakeOpcode(ogfLinkControl, 0x0013)
	OpRemoteNameRequest           = MakeOpcode(ogfLinkControl, 0x0019)

	OpReset              = MakeOpcode(ogfHostCtl, 0x0003)
	OpSetEventFilter     = MakeOpcode(ogfHostCtl, 0x0005)
	OpWriteScanEnable    = MakeOpcode(ogfHostCtl, 0x001A)
	OpWriteClassOfDevice = MakeOpcode(ogfHostCtl, 0x0024)

	OpReadBufferSize              = MakeOpcode(ogfInfoParams, 0x0005)
	OpReadBDADDR                  = MakeOpcode(ogfInfoParams, 0x0009)
	OpReadLocalVersionInformation = MakeOpcode(ogfInfoParams, 0x0001)
)

var opcodeName = map[Opcode]string{
	OpInquiry:                     "Inquiry",
	OpInquiryCancel:               "Inquiry Cancel",
	OpCreateConnection:            "Create Connection",
	OpDisconnect:                  "Disconnect",
	OpAcceptConnectionRequest:     "Accept Connection Request",
	OpRejectConnectionRequest:     "Reject Connection Request",
	OpLinkKeyRequestReply:         "Link Key Request Reply",
	OpLinkKeyRequestNegativeReply: "Link Key Request Negative Reply",
	OpPINCodeRequestReply:         "PIN Code Request Reply",
	OpPINCodeRequestNegativeReply: "PIN Code Request Negative Reply",
	OpAuthenticationRequested:     "Authentication Requested",
	OpSetConnectionEncryption:     "Set Connection Encryption",
	OpRemoteNameRequest:           "Remote Name Request",
	OpReset:                       "Reset",
	OpSetEventFilter:              "Set Event Filter",
	OpWriteScanEnable:             "Write Scan Enable",
	OpWriteClassOfDevice:          "Write Class of Device",
	OpReadBufferSize:              "Read Buffer Size",
	OpReadBDADDR:                  "Read BD_ADDR",
	OpReadLocalVersionInformation: "Read Local Version Information",
}
