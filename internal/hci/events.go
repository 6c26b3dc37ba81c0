package hci

import (
	"encoding/binary"
	"fmt"
)

// EventCode is the one-byte HCI event code (Bluetooth Core spec, Vol 2 Part E §7.7).
type EventCode uint8

const (
	EvtInquiryComplete                  EventCode = 0x01
	EvtInquiryResult                    EventCode = 0x02
	EvtConnectionComplete               EventCode = 0x03
	EvtConnectionRequest                EventCode = 0x04
	EvtDisconnectionComplete            EventCode = 0x05
	EvtAuthenticationComplete           EventCode = 0x06
	EvtRemoteNameRequestComplete        EventCode = 0x07
	EvtEncryptionChange                 EventCode = 0x08
	EvtReadRemoteSupportedFeatures      EventCode = 0x0B
	EvtReadRemoteVersionInfoComplete    EventCode = 0x0C
	EvtCommandComplete                  EventCode = 0x0E
	EvtCommandStatus                    EventCode = 0x0F
	EvtHardwareError                    EventCode = 0x10
	EvtRoleChange                       EventCode = 0x12
	EvtNumberOfCompletedPackets         EventCode = 0x13
	EvtPINCodeRequest                   EventCode = 0x16
	EvtLinkKeyRequest                   EventCode = 0x17
	EvtLinkKeyNotification              EventCode = 0x18
	EvtMaxSlotsChange                   EventCode = 0x1B
	EvtSimplePairingComplete            EventCode = 0x36
)

func (c EventCode) String() string {
	if name, ok := eventName[c]; ok {
		return name
	}
	return fmt.Sprintf("EventCode(0x%02X)", uint8(c))
}

var eventName = map[EventCode]string{
	EvtInquiryComplete:               "Inquiry Complete",
	EvtInquiryResult:                 "Inquiry Result",
	EvtConnectionComplete:            "Connection Complete",
	EvtConnectionRequest:             "Connection Request",
	EvtDisconnectionComplete:         "Disconnection Complete",
	EvtAuthenticationComplete:        "Authentication Complete",
	EvtRemoteNameRequestComplete:     "Remote Name Request Complete",
	EvtEncryptionChange:              "Encryption Change",
	EvtReadRemoteSupportedFeatures:   "Read Remote Supported Features Complete",
	EvtReadRemoteVersionInfoComplete: "Read Remote Version Information Complete",
	EvtCommandComplete:               "Command Complete",
	EvtCommandStatus:                 "Command Status",
	EvtHardwareError:                 "Hardware Error",
	EvtRoleChange:                    "Role Change",
	EvtNumberOfCompletedPackets:      "Number Of Completed Packets",
	EvtPINCodeRequest:                "PIN Code Request",
	EvtLinkKeyRequest:                "Link Key Request",
	EvtLinkKeyNotification:           "Link Key Notification",
	EvtMaxSlotsChange:                "Max Slots Change",
	EvtSimplePairingComplete:         "Simple Pairing Complete",
}

// eventHeader is the 2-byte event header: code, parameter length.
type eventHeader struct {
	Code EventCode
	Plen uint8
}

func (h *eventHeader) unmarshal(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("hci: short event header")
	}
	h.Code = EventCode(b[0])
	h.Plen = b[1]
	return nil
}

// CommandCompleteEP is the Command Complete event's fixed parameters plus
// the return-parameter bytes specific to the completed command.
type CommandCompleteEP struct {
	NumHCICommandPackets uint8
	CommandOpcode        Opcode
	ReturnParameters      []byte
}

func (e *CommandCompleteEP) unmarshal(b []byte) error {
	if len(b) < 3 {
		return fmt.Errorf("hci: short CommandComplete")
	}
	e.NumHCICommandPackets = b[0]
	e.CommandOpcode = Opcode(binary.LittleEndian.Uint16(b[1:3]))
	e.ReturnParameters = append([]byte(nil), b[3:]...)
	return nil
}

// CommandStatusEP is the Command Status event: an early, parameter-less
// acknowledgement used by commands whose real completion arrives as a
// later, distinct event (e.g. Create Connection -> Connection Complete).
type CommandStatusEP struct {
	Status               uint8
	NumHCICommandPackets uint8
	CommandOpcode        Opcode
}

func (e *CommandStatusEP) unmarshal(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("hci: short CommandStatus")
	}
	e.Status = b[0]
	e.NumHCICommandPackets = b[1]
	e.CommandOpcode = Opcode(binary.LittleEndian.Uint16(b[2:4]))
	return nil
}

// NumberOfCompletedPacketsEP reports, per connection handle, how many ACL
// packets the controller has freed from its outbound buffer since the last
// report -- the credit that replenishes the event loop's outflow gate.
type NumberOfCompletedPacketsEP struct {
	Handles   []uint16
	NumPackets []uint16
}

func (e *NumberOfCompletedPacketsEP) unmarshal(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("hci: short NumberOfCompletedPackets")
	}
	n := int(b[0])
	if len(b) < 1+n*4 {
		return fmt.Errorf("hci: truncated NumberOfCompletedPackets")
	}
	e.Handles = make([]uint16, n)
	e.NumPackets = make([]uint16, n)
	off := 1
	for i := 0; i < n; i++ {
		e.Handles[i] = binary.LittleEndian.Uint16(b[off:])
		off += 2
	}
	for i := 0; i < n; i++ {
		e.NumPackets[i] = binary.LittleEndian.Uint16(b[off:])
		off += 2
	}
	return nil
}

// ConnectionCompleteEP signals the outcome of an inbound or outbound ACL
// connection attempt.
type ConnectionCompleteEP struct {
	Status        uint8
	Handle        uint16
	BDADDR        [6]byte
	LinkType      uint8
	EncryptionOn  uint8
}

func (e *ConnectionCompleteEP) unmarshal(b []byte) error {
	if len(b) < 11 {
		return fmt.Errorf("hci: short ConnectionComplete")
	}
	e.Status = b[0]
	e.Handle = binary.LittleEndian.Uint16(b[1:3])
	copy(e.BDADDR[:], b[3:9])
	e.LinkType = b[9]
	e.EncryptionOn = b[10]
	return nil
}

// ConnectionRequestEP is raised when a remote device initiates an ACL
// connection; the connection manager answers with Accept/Reject.
type ConnectionRequestEP struct {
	BDADDR      [6]byte
	ClassOfDev  [3]byte
	LinkType    uint8
}

func (e *ConnectionRequestEP) unmarshal(b []byte) error {
	if len(b) < 10 {
		return fmt.Errorf("hci: short ConnectionRequest")
	}
	copy(e.BDADDR[:], b[0:6])
	copy(e.ClassOfDev[:], b[6:9])
	e.LinkType = b[9]
	return nil
}

// DisconnectionCompleteEP reports an ACL connection has been torn down.
type DisconnectionCompleteEP struct {
	Status uint8
	Handle uint16
	Reason uint8
}

func (e *DisconnectionCompleteEP) unmarshal(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("hci: short DisconnectionComplete")
	}
	e.Status = b[0]
	e.Handle = binary.LittleEndian.Uint16(b[1:3])
	e.Reason = b[3]
	return nil
}

// PINCodeRequestEP asks the host to supply the PIN for legacy pairing.
type PINCodeRequestEP struct {
	BDADDR [6]byte
}

func (e *PINCodeRequestEP) unmarshal(b []byte) error {
	if len(b) < 6 {
		return fmt.Errorf("hci: short PINCodeRequest")
	}
	copy(e.BDADDR[:], b[0:6])
	return nil
}

// LinkKeyRequestEP asks the host whether it has a stored link key for the
// given remote address.
type LinkKeyRequestEP struct {
	BDADDR [6]byte
}

func (e *LinkKeyRequestEP) unmarshal(b []byte) error {
	if len(b) < 6 {
		return fmt.Errorf("hci: short LinkKeyRequest")
	}
	copy(e.BDADDR[:], b[0:6])
	return nil
}

// LinkKeyNotificationEP carries a newly negotiated link key for storage.
type LinkKeyNotificationEP struct {
	BDADDR  [6]byte
	LinkKey [16]byte
	KeyType uint8
}

func (e *LinkKeyNotificationEP) unmarshal(b []byte) error {
	if len(b) < 23 {
		return fmt.Errorf("hci: short LinkKeyNotification")
	}
	copy(e.BDADDR[:], b[0:6])
	copy(e.LinkKey[:], b[6:22])
	e.KeyType = b[22]
	return nil
}

// UnmarshalConnectionRequest decodes a ConnectionRequest event's
// parameters, for subsystems outside this package registered against it
// via RegisterEventHandler.
func UnmarshalConnectionRequest(b []byte) (ConnectionRequestEP, error) {
	var ep ConnectionRequestEP
	err := ep.unmarshal(b)
	return ep, err
}

// UnmarshalConnectionComplete decodes a ConnectionComplete event's
// parameters.
func UnmarshalConnectionComplete(b []byte) (ConnectionCompleteEP, error) {
	var ep ConnectionCompleteEP
	err := ep.unmarshal(b)
	return ep, err
}

// UnmarshalDisconnectionComplete decodes a DisconnectionComplete event's
// parameters.
func UnmarshalDisconnectionComplete(b []byte) (DisconnectionCompleteEP, error) {
	var ep DisconnectionCompleteEP
	err := ep.unmarshal(b)
	return ep, err
}

// UnmarshalPINCodeRequest decodes a PINCodeRequest event's parameters.
func UnmarshalPINCodeRequest(b []byte) (PINCodeRequestEP, error) {
	var ep PINCodeRequestEP
	err := ep.unmarshal(b)
	return ep, err
}

// UnmarshalLinkKeyRequest decodes a LinkKeyRequest event's parameters.
func UnmarshalLinkKeyRequest(b []byte) (LinkKeyRequestEP, error) {
	var ep LinkKeyRequestEP
	err := ep.unmarshal(b)
	return ep, err
}

// UnmarshalLinkKeyNotification decodes a LinkKeyNotification event's
// parameters.
func UnmarshalLinkKeyNotification(b []byte) (LinkKeyNotificationEP, error) {
	var ep LinkKeyNotificationEP
	err := ep.unmarshal(b)
	return ep, err
}
