// Package avrcp implements the AVRCP transaction multiplexer: the 16-slot
// outstanding-command table, vendor-dependent fragmentation, and the
// minimal responder behavior an A2DP sink needs (volume, capability
// exchange, unit identification).
package avrcp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/btsinkd/btsinkd/internal/avc"
	"github.com/btsinkd/btsinkd/internal/avctp"
)

// maxVolume is the largest value SetAbsoluteVolume/volume notifications
// carry (AVRCP section 6.13, the top bit is reserved).
const maxVolume uint8 = 0x7F

const (
	companyIDCapability       = 0x02
	eventsSupportedCapability = 0x03
)

var errNotImplemented = errors.New("avrcp: not implemented")

// Result is what a pending transaction slot resolves to.
type Result struct {
	Parameters []byte
	Err        error
}

// EventParser turns a Changed notification's parameters (with the
// leading event id already stripped) into an Event.
type EventParser func(data []byte) (Event, error)

// Event is a parsed AVRCP notification.
type Event interface{ eventID() EventID }

// VolumeChangedEvent is published whenever the peer reports a volume
// change (via a Changed response to our RegisterNotification) or sets our
// volume with SetAbsoluteVolume. SetLocalVolume does not publish one.
type VolumeChangedEvent struct{ Volume uint8 }

func (VolumeChangedEvent) eventID() EventID { return EventVolumeChanged }

// ParseVolumeChanged is the EventParser for EventVolumeChanged.
func ParseVolumeChanged(data []byte) (Event, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("avrcp: short volume changed event")
	}
	return VolumeChangedEvent{Volume: data[0] & maxVolume}, nil
}

type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotPendingPassThrough
	slotPendingVendorDependent
	slotPendingNotificationRegistration
	slotWaitingForChange
)

type txSlot struct {
	kind    slotKind
	cmdCode avc.CommandCode // PendingVendorDependent: which cmd (Control/Status) was issued
	parser  EventParser     // PendingNotificationRegistration / WaitingForChange
	result  chan Result     // nil once the slot no longer needs a reply
}

// Session is one AVRCP transaction multiplexer layered over an AVCTP
// signaling channel. It both issues outbound commands (the 16-slot
// transaction table) and answers the inbound commands a sink responds
// to.
type Session struct {
	log *logrus.Entry
	ch  *avctp.Channel

	mu                      sync.Mutex
	slots                   [16]txSlot
	volume                  uint8
	registeredNotifications map[EventID]uint8 // responder side: event -> label awaiting our Changed push

	commandAssembler  commandAssembler
	responseAssembler commandAssembler

	events chan Event
}

// NewSession registers itself as ch's AVRCP (profile id 0x110E) handler
// and returns the session. The caller is responsible for running ch.Run()
// on a goroutine.
func NewSession(log *logrus.Entry, ch *avctp.Channel) *Session {
	s := &Session{
		log:                     log,
		ch:                      ch,
		volume:                  maxVolume,
		registeredNotifications: map[EventID]uint8{},
		events:                  make(chan Event, 16),
	}
	ch.RegisterHandler(ProfileID, s.handleMessage)
	return s
}

// Events yields VolumeChanged and other parsed notifications as they
// arrive.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) triggerEvent(e Event) {
	select {
	case s.events <- e:
	default:
		s.log.Warn("avrcp: event queue full, dropping event")
	}
}

func (s *Session) handleMessage(msg avctp.Message) {
	frame, n, err := avc.UnmarshalFrame(msg.Payload)
	if err != nil {
		s.log.WithError(err).Warn("avrcp: dropping malformed frame")
		return
	}
	payload := msg.Payload[n:]

	err = s.processMessage(msg.Label, frame, payload)
	if errors.Is(err, errNotImplemented) {
		if !frame.CType.IsResponse() {
			reply := avc.Frame{CType: avc.NotImplemented, Subunit: frame.Subunit, Opcode: frame.Opcode}
			s.sendAVC(msg.Label, reply, payload)
		} else {
			s.log.Warnf("avrcp: failed to handle response: %+v", frame)
		}
	} else if err != nil {
		s.log.WithError(err).Warn("avrcp: error processing message")
	}
}

func (s *Session) processMessage(label uint8, frame avc.Frame, payload []byte) error {
	switch frame.Opcode {
	case avc.VendorDependent:
		return s.processVendorDependent(label, frame, payload)

	case avc.UnitInfo:
		if frame.CType != avc.Status || frame.Subunit != avc.Unit7 {
			return errNotImplemented
		}
		sub, err := avc.Panel0.Marshal()
		if err != nil {
			return err
		}
		params := append([]byte{0x07}, sub...)
		params = append(params, companyIDBytes()...)
		reply := avc.Frame{CType: avc.Implemented, Subunit: avc.Unit7, Opcode: avc.UnitInfo}
		return s.sendAVC(label, reply, params)

	case avc.SubunitInfo:
		if frame.CType != avc.Status || frame.Subunit != avc.Unit7 {
			return errNotImplemented
		}
		if len(payload) < 1 {
			return errNotImplemented
		}
		sub, err := avc.Panel0.Marshal()
		if err != nil {
			return err
		}
		params := append([]byte{payload[0]}, sub...)
		params = append(params, 0xFF, 0xFF, 0xFF)
		reply := avc.Frame{CType: avc.Implemented, Subunit: avc.Unit7, Opcode: avc.SubunitInfo}
		return s.sendAVC(label, reply, params)

	case avc.PassThrough:
		if frame.Subunit != avc.Panel0 {
			return errNotImplemented
		}
		s.completePassThrough(label, frame.CType)
		return nil

	default:
		return errNotImplemented
	}
}

func (s *Session) completePassThrough(label uint8, ctype avc.CommandCode) {
	s.mu.Lock()
	slot := &s.slots[label]
	if slot.kind != slotPendingPassThrough {
		s.mu.Unlock()
		s.log.Warnf("avrcp: pass-through response with no/wrong outstanding transaction, label=%d", label)
		return
	}
	ch := slot.result
	*slot = txSlot{}
	s.mu.Unlock()

	var res Result
	switch ctype {
	case avc.Accepted:
	case avc.Rejected:
		res.Err = ErrRejected
	case avc.NotImplemented:
		res.Err = ErrNotImplemented
	default:
		res.Err = ErrInvalidReturnData
	}
	if ch != nil {
		ch <- res
		close(ch)
	}
}

func (s *Session) processVendorDependent(label uint8, frame avc.Frame, payload []byte) error {
	if frame.Subunit != avc.Panel0 {
		return errNotImplemented
	}
	if len(payload) < 3 {
		return errNotImplemented
	}
	cid := uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2])
	if cid != companyID {
		return errNotImplemented
	}
	rest := payload[3:]

	if frame.CType.IsResponse() {
		s.mu.Lock()
		cmd, err := s.responseAssembler.processMsg(rest)
		if err != nil || cmd == nil {
			s.mu.Unlock()
			return err
		}
		s.completeVendorDependent(label, frame.CType, cmd)
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	cmd, err := s.commandAssembler.processMsg(rest)
	s.mu.Unlock()
	if err != nil || cmd == nil {
		return err
	}

	if err := s.processCommand(label, cmd.pdu, cmd.parameters); err != nil {
		var ce *commandError
		code := ErrInvalidCommand
		if errors.As(err, &ce) {
			code = ce.Code
		}
		s.sendAVRCP(label, avc.Rejected, cmd.pdu, []byte{byte(code)})
	}
	return nil
}

// completeVendorDependent must be called with s.mu held.
func (s *Session) completeVendorDependent(label uint8, ctype avc.CommandCode, cmd *command) {
	slot := &s.slots[label]
	switch slot.kind {
	case slotPendingVendorDependent:
		res := vendorDependentResult(slot.cmdCode, ctype, cmd.parameters)
		if ctype == avc.Interim && slot.cmdCode == avc.Control {
			return // keep waiting
		}
		ch := slot.result
		*slot = txSlot{}
		if ch != nil {
			ch <- res
			close(ch)
		}

	case slotPendingNotificationRegistration:
		switch ctype {
		case avc.Interim:
			ch := slot.result
			parser := slot.parser
			*slot = txSlot{kind: slotWaitingForChange, parser: parser}
			if ch != nil {
				ch <- Result{Parameters: cmd.parameters}
				close(ch)
			}
		case avc.Changed:
			s.log.Warn("avrcp: received changed response without interim response")
			ch := slot.result
			*slot = txSlot{}
			if ch != nil {
				ch <- Result{Err: ErrInvalidReturnData}
				close(ch)
			}
		default:
			ch := slot.result
			res := Result{Err: ErrInvalidReturnData}
			if ctype == avc.NotImplemented {
				res.Err = ErrNotImplemented
			} else if ctype == avc.Rejected {
				res.Err = ErrRejected
			}
			*slot = txSlot{}
			if ch != nil {
				ch <- res
				close(ch)
			}
		}

	case slotWaitingForChange:
		parser := slot.parser
		*slot = txSlot{}
		if ctype != avc.Changed {
			return
		}
		if len(cmd.parameters) < 1 {
			return
		}
		event, err := parser(cmd.parameters[1:])
		if err != nil {
			s.log.WithError(err).Warn("avrcp: error parsing event")
			return
		}
		s.triggerEvent(event)

	default:
		s.log.Warnf("avrcp: vendor dependent response with no/wrong outstanding transaction: slot=%v pdu=%v ctype=%v", slot.kind, cmd.pdu, ctype)
	}
}

func vendorDependentResult(issued avc.CommandCode, ctype avc.CommandCode, parameters []byte) Result {
	switch issued {
	case avc.Control:
		switch ctype {
		case avc.NotImplemented:
			return Result{Err: ErrNotImplemented}
		case avc.Accepted:
			return Result{Parameters: parameters}
		case avc.Rejected:
			return Result{Err: ErrRejected}
		default:
			return Result{Err: ErrInvalidReturnData}
		}
	case avc.Status:
		switch ctype {
		case avc.NotImplemented:
			return Result{Err: ErrNotImplemented}
		case avc.Implemented:
			return Result{Parameters: parameters}
		case avc.Rejected:
			return Result{Err: ErrRejected}
		case avc.InTransition:
			return Result{Err: ErrBusy}
		default:
			return Result{Err: ErrInvalidReturnData}
		}
	default:
		return Result{Err: ErrInvalidReturnData}
	}
}

// processCommand implements the responder behaviors of AVRCP section
// 4.6.4: GetCapabilities, RegisterNotification(VolumeChanged), and
// SetAbsoluteVolume.
func (s *Session) processCommand(label uint8, pdu Pdu, parameters []byte) error {
	switch pdu {
	case PduGetCapabilities:
		if len(parameters) != 1 {
			return &commandError{Code: ErrInvalidParameter}
		}
		switch parameters[0] {
		case companyIDCapability:
			reply := append([]byte{companyIDCapability, 1}, companyIDBytes()...)
			return s.sendAVRCP(label, avc.Implemented, pdu, reply)
		case eventsSupportedCapability:
			reply := []byte{eventsSupportedCapability, 1, byte(EventVolumeChanged)}
			return s.sendAVRCP(label, avc.Implemented, pdu, reply)
		default:
			return &commandError{Code: ErrInvalidParameter}
		}

	case PduRegisterNotification:
		if len(parameters) != 5 {
			return &commandError{Code: ErrParameterContentError}
		}
		event := EventID(parameters[0])
		if event != EventVolumeChanged {
			return &commandError{Code: ErrInvalidParameter}
		}
		s.mu.Lock()
		if _, exists := s.registeredNotifications[event]; exists {
			s.mu.Unlock()
			return &commandError{Code: ErrInternalError}
		}
		volume := s.volume
		s.registeredNotifications[event] = label
		s.mu.Unlock()
		return s.sendAVRCP(label, avc.Interim, pdu, []byte{byte(event), volume})

	case PduSetAbsoluteVolume:
		if len(parameters) != 1 {
			return &commandError{Code: ErrParameterContentError}
		}
		v := parameters[0]
		if v > maxVolume {
			v = maxVolume
		}
		s.mu.Lock()
		s.volume = v
		s.mu.Unlock()
		if err := s.sendAVRCP(label, avc.Accepted, pdu, []byte{v}); err != nil {
			return err
		}
		s.triggerEvent(VolumeChangedEvent{Volume: v})
		return nil

	default:
		return &commandError{Code: ErrInvalidCommand}
	}
}

// SetLocalVolume is called when the host itself changes the output
// volume; it notifies whichever transaction currently has a
// RegisterNotification(VolumeChanged) registered, one-shot.
func (s *Session) SetLocalVolume(v uint8) {
	if v > maxVolume {
		v = maxVolume
	}
	s.mu.Lock()
	if s.volume == v {
		s.mu.Unlock()
		return
	}
	s.volume = v
	label, ok := s.registeredNotifications[EventVolumeChanged]
	if ok {
		delete(s.registeredNotifications, EventVolumeChanged)
	}
	s.mu.Unlock()
	if ok {
		s.sendAVRCP(label, avc.Changed, PduRegisterNotification, []byte{byte(EventVolumeChanged), v})
	}
}

func (s *Session) findFreeSlot() (uint8, bool) {
	for i := range s.slots {
		if s.slots[i].kind == slotEmpty {
			return uint8(i), true
		}
	}
	return 0, false
}

// PassThrough sends a panel key press followed by its release and waits
// for both to be acknowledged.
func (s *Session) PassThrough(op avc.PassThroughOp) error {
	if err := s.sendPassThrough(op, avc.Pressed); err != nil {
		return err
	}
	return s.sendPassThrough(op, avc.Released)
}

func (s *Session) sendPassThrough(op avc.PassThroughOp, state avc.PassThroughState) error {
	s.mu.Lock()
	label, ok := s.findFreeSlot()
	if !ok {
		s.mu.Unlock()
		return ErrNoTransactionIDAvailable
	}
	ch := make(chan Result, 1)
	s.slots[label] = txSlot{kind: slotPendingPassThrough, result: ch}
	frame := avc.Frame{CType: avc.Control, Subunit: avc.Panel0, Opcode: avc.PassThrough}
	err := s.sendAVC(label, frame, avc.MarshalPassThrough(op, state))
	s.mu.Unlock()
	if err != nil {
		s.mu.Lock()
		s.slots[label] = txSlot{}
		s.mu.Unlock()
		return err
	}
	res := <-ch
	return res.Err
}

// RegisterForNotification issues RegisterNotification(event) and returns
// a channel resolving to the Interim response's parameters; subsequent
// Changed events are delivered on Events().
func (s *Session) RegisterForNotification(event EventID, parser EventParser) (<-chan Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	label, ok := s.findFreeSlot()
	if !ok {
		return nil, ErrNoTransactionIDAvailable
	}
	ch := make(chan Result, 1)
	s.slots[label] = txSlot{kind: slotPendingNotificationRegistration, parser: parser, result: ch}
	params := []byte{byte(event), 0, 0, 0, 0}
	if err := s.sendAVRCP(label, avc.Notify, PduRegisterNotification, params); err != nil {
		s.slots[label] = txSlot{}
		return nil, err
	}
	return ch, nil
}

// SendVendorDependent issues an arbitrary vendor-dependent command (cmd
// must be Control or Status; use RegisterForNotification for Notify).
func (s *Session) SendVendorDependent(cmd avc.CommandCode, pdu Pdu, parameters []byte) (<-chan Result, error) {
	if cmd != avc.Control && cmd != avc.Status {
		return nil, fmt.Errorf("avrcp: vendor-dependent commands must be Control or Status")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	label, ok := s.findFreeSlot()
	if !ok {
		return nil, ErrNoTransactionIDAvailable
	}
	ch := make(chan Result, 1)
	s.slots[label] = txSlot{kind: slotPendingVendorDependent, cmdCode: cmd, result: ch}
	if err := s.sendAVRCP(label, cmd, pdu, parameters); err != nil {
		s.slots[label] = txSlot{}
		return nil, err
	}
	return ch, nil
}

func (s *Session) sendAVC(label uint8, frame avc.Frame, parameters []byte) error {
	raw, err := frame.Marshal()
	if err != nil {
		return err
	}
	raw = append(raw, parameters...)
	return s.ch.Send(label, ProfileID, msgTypeFor(frame.CType), raw)
}

func (s *Session) sendAVRCP(label uint8, cmd avc.CommandCode, pdu Pdu, parameters []byte) error {
	msgType := msgTypeFor(cmd)
	return fragmentCommand(cmd, pdu, parameters, func(raw []byte) error {
		return s.ch.Send(label, ProfileID, msgType, raw)
	})
}

func msgTypeFor(cmd avc.CommandCode) avctp.MessageType {
	if cmd.IsResponse() {
		return avctp.Response
	}
	return avctp.Command
}

func companyIDBytes() []byte {
	return []byte{byte(companyID >> 16), byte(companyID >> 8), byte(companyID)}
}
