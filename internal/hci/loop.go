// Package hci drives the controller-facing side of the stack: a single
// event loop that owns the USB transport, serializes outstanding commands
// against a quota, meters ACL outflow against the controller's buffer
// credit, and fans out events and inbound ACL data to the subsystems
// registered against it.
package hci

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/btsinkd/btsinkd/internal/btsnoop"
	"github.com/btsinkd/btsinkd/internal/hciusb"
)

const (
	pktTypeCommand = 0x01
	pktTypeACL     = 0x02
)

// EventSink receives the parameter bytes of one decoded event, stripped of
// the 2-byte event header.
type EventSink func(params []byte)

// ACLSink receives one reassembled-or-fragment ACL packet as it arrives
// from the controller; callers needing reassembly layer it on top (see
// internal/acl).
type ACLSink func(frag ACLFragment)

type pendingCmd struct {
	op   Opcode
	done chan cmdResult
}

type cmdResult struct {
	params []byte
	err    error
}

// Loop is the HCI command/event loop described above. Build one with New
// and call Run in its own goroutine; Run returns when the transport fails
// or Shutdown is called.
type Loop struct {
	transport hciusb.Transport
	log       *logrus.Entry
	quota     int

	mu   sync.Mutex
	sent []*pendingCmd

	cmdSem chan struct{}

	evMu     sync.Mutex
	evSinks  map[EventCode][]EventSink
	aclSinks []ACLSink

	maxInFlight int
	credit      chan struct{}

	aclQ     *aclQueue
	eventBuf []byte
	capture  *btsnoop.Writer
	firmware FirmwareLoader

	closeMu  sync.Mutex
	closed   bool
	closeErr error
	donec    chan struct{}
}

// New constructs a Loop bound to transport with the given command quota
// (at most `quota` commands outstanding at once).
func New(transport hciusb.Transport, quota int, log *logrus.Entry) *Loop {
	if quota < 1 {
		quota = 1
	}
	l := &Loop{
		transport: transport,
		log:       log,
		quota:     quota,
		cmdSem:    make(chan struct{}, quota),
		evSinks:   map[EventCode][]EventSink{},
		eventBuf:  make([]byte, 4096),
		donec:     make(chan struct{}),
	}
	l.aclQ = newACLQueue(l.writeACL)
	return l
}

// RegisterEventHandler subscribes sink to the given event codes. Codes
// CommandComplete, CommandStatus and NumberOfCompletedPackets are reserved
// for the loop's own bookkeeping and are rejected.
func (l *Loop) RegisterEventHandler(codes []EventCode, sink EventSink) {
	l.evMu.Lock()
	defer l.evMu.Unlock()
	for _, c := range codes {
		if c == EvtCommandComplete || c == EvtCommandStatus || c == EvtNumberOfCompletedPackets {
			continue
		}
		l.evSinks[c] = append(l.evSinks[c], sink)
	}
}

// RegisterACLHandler subscribes sink to every inbound ACL fragment.
func (l *Loop) RegisterACLHandler(sink ACLSink) {
	l.evMu.Lock()
	defer l.evMu.Unlock()
	l.aclSinks = append(l.aclSinks, sink)
}

// Run reads events from the transport until it fails or Shutdown is
// called. It performs the initial Reset/Read Buffer Size handshake before
// entering the read loop.
func (l *Loop) Run() error {
	if _, err := l.Call(OpReset, nil); err != nil {
		l.fail(err)
		return err
	}
	if l.firmware != nil {
		if err := l.firmware(context.Background()); err != nil {
			l.fail(err)
			return err
		}
	}
	if err := l.readBufferSize(); err != nil {
		l.fail(err)
		return err
	}
	go l.aclQ.run()

	for {
		n, err := l.transport.ReadEvent(l.eventBuf)
		if err != nil {
			l.fail(&TransportError{Err: err})
			return err
		}
		raw := append([]byte(nil), l.eventBuf[:n]...)
		l.capture.Write(btsnoop.Event, raw)
		l.dispatch(raw)
	}
}

func (l *Loop) readBufferSize() error {
	res, err := l.Call(OpReadBufferSize, nil)
	if err != nil {
		return err
	}
	if len(res) < 5 {
		return nil
	}
	numACL := int(binary.LittleEndian.Uint16(res[3:5]))
	if numACL < 1 {
		numACL = 1
	}
	l.maxInFlight = numACL
	l.credit = make(chan struct{}, numACL)
	for i := 0; i < numACL; i++ {
		l.credit <- struct{}{}
	}
	return nil
}

func (l *Loop) dispatch(b []byte) {
	var h eventHeader
	if err := h.unmarshal(b); err != nil {
		l.log.WithError(err).Warn("hci: malformed event header")
		return
	}
	params := b[2:]
	if len(params) > int(h.Plen) {
		params = params[:h.Plen]
	}

	switch h.Code {
	case EvtCommandComplete:
		var ep CommandCompleteEP
		if err := ep.unmarshal(params); err != nil {
			l.log.WithError(err).Warn("hci: malformed CommandComplete")
			return
		}
		l.resolve(ep)
	case EvtCommandStatus:
		var ep CommandStatusEP
		if err := ep.unmarshal(params); err != nil {
			l.log.WithError(err).Warn("hci: malformed CommandStatus")
			return
		}
		// Rotate the status byte into CommandComplete's return-parameter
		// position so one resolver handles both shapes.
		l.resolve(CommandCompleteEP{
			NumHCICommandPackets: ep.NumHCICommandPackets,
			CommandOpcode:        ep.CommandOpcode,
			ReturnParameters:     []byte{ep.Status},
		})
	case EvtNumberOfCompletedPackets:
		var ep NumberOfCompletedPacketsEP
		if err := ep.unmarshal(params); err != nil {
			l.log.WithError(err).Warn("hci: malformed NumberOfCompletedPackets")
			return
		}
		l.replenish(ep)
	default:
		l.evMu.Lock()
		sinks := append([]EventSink(nil), l.evSinks[h.Code]...)
		l.evMu.Unlock()
		for _, s := range sinks {
			s(params)
		}
	}
}

func (l *Loop) resolve(comp CommandCompleteEP) {
	l.mu.Lock()
	var p *pendingCmd
	for i, c := range l.sent {
		if c.op == comp.CommandOpcode {
			p = c
			l.sent = append(l.sent[:i], l.sent[i+1:]...)
			break
		}
	}
	l.mu.Unlock()

	if p == nil {
		l.log.WithField("opcode", comp.CommandOpcode).Warn("hci: response matches no outstanding command")
		return
	}

	if len(comp.ReturnParameters) >= 1 && comp.ReturnParameters[0] != 0 {
		p.done <- cmdResult{err: &ControllerError{Status: comp.ReturnParameters[0]}}
		return
	}
	var result []byte
	if len(comp.ReturnParameters) > 1 {
		result = comp.ReturnParameters[1:]
	}
	p.done <- cmdResult{params: result}
}

func (l *Loop) replenish(ep NumberOfCompletedPacketsEP) {
	if l.credit == nil {
		return
	}
	for _, n := range ep.NumPackets {
		for i := uint16(0); i < n; i++ {
			select {
			case l.credit <- struct{}{}:
			default:
			}
		}
	}
}

// Call sends an HCI command and blocks until its CommandComplete (or
// status-converted-to-complete) reply arrives.
func (l *Loop) Call(op Opcode, params []byte) ([]byte, error) {
	if len(params) > 255 {
		return nil, ErrPayloadTooLarge
	}

	select {
	case <-l.donec:
		return nil, l.closeErrOrDefault()
	default:
	}

	select {
	case l.cmdSem <- struct{}{}:
	case <-l.donec:
		return nil, l.closeErrOrDefault()
	}
	defer func() { <-l.cmdSem }()

	p := &pendingCmd{op: op, done: make(chan cmdResult, 1)}
	l.mu.Lock()
	l.sent = append(l.sent, p)
	l.mu.Unlock()

	raw := make([]byte, 4+len(params))
	raw[0] = pktTypeCommand
	binary.LittleEndian.PutUint16(raw[1:3], uint16(op))
	raw[3] = byte(len(params))
	copy(raw[4:], params)

	l.capture.Write(btsnoop.Command, raw[1:])
	if err := l.transport.SendCommand(raw); err != nil {
		l.removePending(p)
		return nil, &TransportError{Err: err}
	}

	select {
	case r := <-p.done:
		return r.params, r.err
	case <-l.donec:
		return nil, l.closeErrOrDefault()
	}
}

func (l *Loop) removePending(p *pendingCmd) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, c := range l.sent {
		if c == p {
			l.sent = append(l.sent[:i], l.sent[i+1:]...)
			return
		}
	}
}

// SendACL fragments pdu into transport-MTU chunks and enqueues them for
// transmission; it never blocks the caller, even when the outflow credit
// is exhausted.
func (l *Loop) SendACL(handle uint16, pdu []byte) {
	mtu := l.transport.ACLMTU() - aclHeaderLen
	if mtu <= 0 {
		mtu = 48
	}
	boundary := FirstNonFlushable
	for len(pdu) > 0 || boundary == FirstNonFlushable {
		n := len(pdu)
		if n > mtu {
			n = mtu
		}
		frag := ACLFragment{Handle: handle, Boundary: boundary, Payload: pdu[:n]}
		l.aclQ.push(frag)
		pdu = pdu[n:]
		boundary = Continuing
		if n == 0 {
			break
		}
	}
}

func (l *Loop) writeACL(frag ACLFragment) {
	if l.credit != nil {
		<-l.credit
	}
	raw := frag.Marshal()
	l.capture.Write(btsnoop.AclTx, raw)
	if _, err := l.transport.WriteACL(raw); err != nil {
		l.fail(&TransportError{Err: err})
	}
}

// ACLInboundLoop reads ACL fragments from the transport and fans them out
// to registered sinks. Run this in its own goroutine alongside Run.
func (l *Loop) ACLInboundLoop() {
	buf := make([]byte, 65536)
	for {
		n, err := l.transport.ReadACL(buf)
		if err != nil {
			l.fail(&TransportError{Err: err})
			return
		}
		l.capture.Write(btsnoop.AclRx, buf[:n])
		frag, err := UnmarshalACLFragment(buf[:n])
		if err != nil {
			l.log.WithError(err).Warn("hci: malformed ACL fragment")
			continue
		}
		l.evMu.Lock()
		sinks := append([]ACLSink(nil), l.aclSinks...)
		l.evMu.Unlock()
		for _, s := range sinks {
			s(frag)
		}
	}
}

// Shutdown requests a Reset command, then unblocks every pending caller
// with ErrEventLoopClosed. The reset is fired directly at the transport,
// bypassing the command quota, since a pending Call may already hold the
// only outstanding-command slot.
func (l *Loop) Shutdown() {
	raw := make([]byte, 4)
	raw[0] = pktTypeCommand
	binary.LittleEndian.PutUint16(raw[1:3], uint16(OpReset))
	_ = l.transport.SendCommand(raw)
	l.fail(ErrEventLoopClosed)
}

func (l *Loop) fail(err error) {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return
	}
	l.closed = true
	l.closeErr = err
	close(l.donec)
	l.closeMu.Unlock()

	l.mu.Lock()
	pending := l.sent
	l.sent = nil
	l.mu.Unlock()
	for _, p := range pending {
		p.done <- cmdResult{err: err}
	}
	l.aclQ.close()
}

func (l *Loop) closeErrOrDefault() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closeErr != nil {
		return l.closeErr
	}
	return ErrEventLoopClosed
}
