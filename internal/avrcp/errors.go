package avrcp

import "fmt"

// ErrorCode is an AVRCP PDU-level rejection reason (AVRCP section 5.3.4).
type ErrorCode uint8

const (
	ErrInvalidCommand         ErrorCode = 0x00
	ErrInvalidParameter       ErrorCode = 0x01
	ErrParameterContentError  ErrorCode = 0x02
	ErrInternalError          ErrorCode = 0x03
	ErrNoError                ErrorCode = 0x04
	ErrUidChanged             ErrorCode = 0x05
	ErrInvalidDirection       ErrorCode = 0x07
	ErrNotADirectory          ErrorCode = 0x08
	ErrDoesNotExist           ErrorCode = 0x09
	ErrInvalidScope           ErrorCode = 0x0A
	ErrRangeOutOfBounds       ErrorCode = 0x0B
	ErrMediaInUse             ErrorCode = 0x0D
	ErrInvalidPlayerID        ErrorCode = 0x11
	ErrPlayerNotAddressed     ErrorCode = 0x13
	ErrNoValidSearchResults   ErrorCode = 0x14
	ErrNoAvailablePlayers     ErrorCode = 0x15
	ErrAddressedPlayerChanged ErrorCode = 0x16
)

// commandError carries an AVRCP PDU error code to be reported back to the
// peer as a Rejected response.
type commandError struct {
	Code ErrorCode
}

func (e *commandError) Error() string { return fmt.Sprintf("avrcp: error 0x%02X", uint8(e.Code)) }

// SessionError is returned to a caller of one of Session's outbound
// command methods once the corresponding transaction slot resolves.
type SessionError uint8

const (
	ErrNone SessionError = iota
	ErrNoTransactionIDAvailable
	ErrNotImplemented
	ErrRejected
	ErrBusy
	ErrInvalidReturnData
	ErrSessionClosed
)

func (e SessionError) Error() string {
	switch e {
	case ErrNoTransactionIDAvailable:
		return "avrcp: all 16 transaction ids are currently occupied"
	case ErrNotImplemented:
		return "avrcp: the receiver does not implement the command"
	case ErrRejected:
		return "avrcp: the receiver rejected the command"
	case ErrBusy:
		return "avrcp: the receiver is currently busy"
	case ErrInvalidReturnData:
		return "avrcp: the returned data has an invalid format"
	case ErrSessionClosed:
		return "avrcp: the session has been closed"
	default:
		return "avrcp: no error"
	}
}
