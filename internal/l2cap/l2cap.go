// Package l2cap implements the L2CAP signaling protocol and Basic-mode
// data channels on top of reassembled ACL PDUs.
package l2cap

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"
)

const signalingCID = 0x0001

// firstDynamicCID is where locally-allocated channel ids start, per the
// Bluetooth Core spec's dynamic channel range.
const firstDynamicCID = 0x0040

// Handler is invoked exactly once per channel, the instant both directions
// of L2CAP configuration have completed and the channel's State becomes
// StateConfigured -- not at ConnectionRequest time, before either side's
// MTU has been negotiated.
type Handler func(ch *Channel)

// aclSender is the slice of hci.Loop that L2CAP needs: fragmenting and
// enqueuing an outbound ACL PDU. Satisfied by *hci.Loop.
type aclSender interface {
	SendACL(handle uint16, pdu []byte)
}

type perHandle struct {
	nextCID   uint16
	nextIdent uint8
	channels  map[uint16]*Channel // by local CID
}

// L2CAP multiplexes L2CAP signaling and data channels over an ACL sender
// (an hci.Loop in production), fed reassembled PDUs from internal/acl.
type L2CAP struct {
	loop aclSender
	log  *logrus.Entry

	mu       sync.Mutex
	byHandle map[uint16]*perHandle

	handlersMu sync.Mutex
	handlers   map[uint16]Handler // by PSM

	localFeatures uint32
}

// New constructs an L2CAP core driving ACL traffic through loop.
func New(loop aclSender, log *logrus.Entry) *L2CAP {
	return &L2CAP{
		loop:          loop,
		log:           log,
		byHandle:      map[uint16]*perHandle{},
		handlers:      map[uint16]Handler{},
		localFeatures: FeatureFixedChannelsOverBREDR | FeatureUnicastConnectionlessRecv,
	}
}

// RegisterHandler installs the channel-established callback for psm.
func (l *L2CAP) RegisterHandler(psm uint16, h Handler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[psm] = h
}

func (l *L2CAP) handlerFor(psm uint16) (Handler, bool) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	h, ok := l.handlers[psm]
	return h, ok
}

func (l *L2CAP) perHandleState(handle uint16) *perHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	ph, ok := l.byHandle[handle]
	if !ok {
		ph = &perHandle{nextCID: firstDynamicCID, nextIdent: 1, channels: map[uint16]*Channel{}}
		l.byHandle[handle] = ph
	}
	return ph
}

func (l *L2CAP) allocCID(handle uint16) uint16 {
	ph := l.perHandleState(handle)
	l.mu.Lock()
	defer l.mu.Unlock()
	cid := ph.nextCID
	ph.nextCID++
	return cid
}

// allocIdent returns the next signaling identifier for handle, a
// monotonic counter in 1..=255 that wraps and skips 0.
func (l *L2CAP) allocIdent(handle uint16) uint8 {
	ph := l.perHandleState(handle)
	l.mu.Lock()
	defer l.mu.Unlock()
	id := ph.nextIdent
	ph.nextIdent++
	if ph.nextIdent == 0 {
		ph.nextIdent = 1
	}
	return id
}

// HandleDisconnected tears down every channel on handle, e.g. after
// DisconnectionComplete, resolving pending Reads with ok=false.
func (l *L2CAP) HandleDisconnected(handle uint16) {
	l.mu.Lock()
	ph, ok := l.byHandle[handle]
	delete(l.byHandle, handle)
	l.mu.Unlock()
	if !ok {
		return
	}
	for _, ch := range ph.channels {
		ch.close()
	}
}

// Disconnect actively tears down ch, sending DisconnectionRequest and
// removing it from the handle's channel table.
func (l *L2CAP) Disconnect(ch *Channel) {
	ph := l.perHandleState(ch.Handle)
	l.mu.Lock()
	delete(ph.channels, ch.LocalCID)
	l.mu.Unlock()

	ident := l.allocIdent(ch.Handle)
	l.sendSignal(ch.Handle, SigDisconnectionRequest, ident, disconnectionBody(ch.RemoteCID, ch.LocalCID))
	ch.close()
}

// Feed processes one complete L2CAP PDU reassembled from ACL fragments:
// internal/acl.Reassembler's sink.
func (l *L2CAP) Feed(handle uint16, pdu []byte) {
	if len(pdu) < 4 {
		l.log.WithField("handle", handle).Warn("l2cap: pdu shorter than header")
		return
	}
	length := binary.LittleEndian.Uint16(pdu[0:2])
	cid := binary.LittleEndian.Uint16(pdu[2:4])
	body := pdu[4:]
	if len(body) > int(length) {
		body = body[:length]
	}

	if cid == signalingCID {
		l.handleSignaling(handle, body)
		return
	}

	ph := l.perHandleState(handle)
	l.mu.Lock()
	ch, ok := ph.channels[cid]
	l.mu.Unlock()
	if !ok {
		l.log.WithField("cid", cid).Warn("l2cap: data for unknown channel, discarded")
		return
	}
	ch.deliver(append([]byte(nil), body...))
}

func (l *L2CAP) sendPDU(handle, cid uint16, sdu []byte) {
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(len(sdu)))
	binary.LittleEndian.PutUint16(hdr[2:4], cid)
	l.loop.SendACL(handle, append(hdr, sdu...))
}

func (l *L2CAP) sendSignal(handle uint16, code, ident uint8, body []byte) {
	l.sendPDU(handle, signalingCID, buildSignal(code, ident, body))
}
