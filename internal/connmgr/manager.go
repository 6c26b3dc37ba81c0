// Package connmgr accepts inbound BR/EDR ACL connections and drives the
// legacy pairing handshake: PIN-code echo and link-key storage/retrieval.
// It owns no data-plane state of its own -- once a link is up it hands the
// connection handle off to internal/l2cap and tears it down again on
// DisconnectionComplete.
package connmgr

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/btsinkd/btsinkd/internal/hci"
	"github.com/btsinkd/btsinkd/pkg/btaddr"
)

// Bluetooth Core spec, Vol 4 Part E, Section 7.1.8: the Role parameter of
// Accept Connection Request. We always ask to remain the slave (the
// audio source stays master on an A2DP sink link).
const roleSlave = 0x01

// disconnectNotifiee is the slice of internal/l2cap.L2CAP the connection
// manager needs to tear channels down on disconnect.
type disconnectNotifiee interface {
	HandleDisconnected(handle uint16)
}

// caller is the slice of hci.Loop the manager issues commands through.
type caller interface {
	Call(op hci.Opcode, params []byte) ([]byte, error)
	RegisterEventHandler(codes []hci.EventCode, sink hci.EventSink)
}

// Manager accepts inbound connection requests, answers pairing events, and
// tracks the address<->handle mapping for active ACL links.
type Manager struct {
	loop    caller
	store   *LinkKeyStore
	pinCode string
	log     *logrus.Entry

	mu          sync.Mutex
	handles     map[btaddr.Addr]uint16
	addrs       map[uint16]btaddr.Addr
	disconnects []disconnectNotifiee
}

// New constructs a Manager. loop is the HCI event loop to register
// handlers against and issue commands through; store holds persisted
// link keys; pinCode is echoed back verbatim on every PINCodeRequest
// (legacy pairing only -- see package doc).
func New(loop caller, store *LinkKeyStore, pinCode string, log *logrus.Entry) *Manager {
	m := &Manager{
		loop:    loop,
		store:   store,
		pinCode: pinCode,
		log:     log,
		handles: map[btaddr.Addr]uint16{},
		addrs:   map[uint16]btaddr.Addr{},
	}
	loop.RegisterEventHandler([]hci.EventCode{hci.EvtConnectionRequest}, m.onConnectionRequest)
	loop.RegisterEventHandler([]hci.EventCode{hci.EvtConnectionComplete}, m.onConnectionComplete)
	loop.RegisterEventHandler([]hci.EventCode{hci.EvtDisconnectionComplete}, m.onDisconnectionComplete)
	loop.RegisterEventHandler([]hci.EventCode{hci.EvtPINCodeRequest}, m.onPINCodeRequest)
	loop.RegisterEventHandler([]hci.EventCode{hci.EvtLinkKeyRequest}, m.onLinkKeyRequest)
	loop.RegisterEventHandler([]hci.EventCode{hci.EvtLinkKeyNotification}, m.onLinkKeyNotification)
	return m
}

// NotifyOnDisconnect registers n to be told of every ACL handle torn down
// by a DisconnectionComplete event (e.g. an internal/l2cap.L2CAP).
func (m *Manager) NotifyOnDisconnect(n disconnectNotifiee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects = append(m.disconnects, n)
}

// HandleFor returns the ACL connection handle currently associated with
// addr, if any.
func (m *Manager) HandleFor(addr btaddr.Addr) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[addr]
	return h, ok
}

func (m *Manager) onConnectionRequest(params []byte) {
	ep, err := hci.UnmarshalConnectionRequest(params)
	if err != nil {
		m.log.WithError(err).Warn("connmgr: malformed ConnectionRequest")
		return
	}
	addr, err := btaddr.FromWire(ep.BDADDR[:])
	if err != nil {
		m.log.WithError(err).Warn("connmgr: malformed ConnectionRequest address")
		return
	}
	m.log.WithField("addr", addr).Debug("connmgr: accepting inbound connection request")
	cmd := make([]byte, 7)
	copy(cmd[:6], ep.BDADDR[:])
	cmd[6] = roleSlave
	if _, err := m.loop.Call(hci.OpAcceptConnectionRequest, cmd); err != nil {
		m.log.WithError(err).Warn("connmgr: AcceptConnectionRequest failed")
	}
}

func (m *Manager) onConnectionComplete(params []byte) {
	ep, err := hci.UnmarshalConnectionComplete(params)
	if err != nil {
		m.log.WithError(err).Warn("connmgr: malformed ConnectionComplete")
		return
	}
	if ep.Status != 0 {
		m.log.WithField("status", ep.Status).Warn("connmgr: connection failed")
		return
	}
	addr, err := btaddr.FromWire(ep.BDADDR[:])
	if err != nil {
		return
	}
	m.mu.Lock()
	m.handles[addr] = ep.Handle
	m.addrs[ep.Handle] = addr
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{"addr": addr, "handle": ep.Handle}).Info("connmgr: connection complete")
}

func (m *Manager) onDisconnectionComplete(params []byte) {
	ep, err := hci.UnmarshalDisconnectionComplete(params)
	if err != nil {
		m.log.WithError(err).Warn("connmgr: malformed DisconnectionComplete")
		return
	}
	m.mu.Lock()
	addr, ok := m.addrs[ep.Handle]
	delete(m.addrs, ep.Handle)
	if ok {
		delete(m.handles, addr)
	}
	notifiees := append([]disconnectNotifiee(nil), m.disconnects...)
	m.mu.Unlock()

	m.log.WithField("handle", ep.Handle).Info("connmgr: disconnected")
	for _, n := range notifiees {
		n.HandleDisconnected(ep.Handle)
	}
}

func (m *Manager) onPINCodeRequest(params []byte) {
	ep, err := hci.UnmarshalPINCodeRequest(params)
	if err != nil {
		m.log.WithError(err).Warn("connmgr: malformed PINCodeRequest")
		return
	}
	pin := []byte(m.pinCode)
	if len(pin) > 16 {
		pin = pin[:16]
	}
	cmd := make([]byte, 23)
	copy(cmd[:6], ep.BDADDR[:])
	cmd[6] = byte(len(pin))
	copy(cmd[7:], pin)
	if _, err := m.loop.Call(hci.OpPINCodeRequestReply, cmd); err != nil {
		m.log.WithError(err).Warn("connmgr: PINCodeRequestReply failed")
	}
}

func (m *Manager) onLinkKeyRequest(params []byte) {
	ep, err := hci.UnmarshalLinkKeyRequest(params)
	if err != nil {
		m.log.WithError(err).Warn("connmgr: malformed LinkKeyRequest")
		return
	}
	addr, err := btaddr.FromWire(ep.BDADDR[:])
	if err != nil {
		return
	}
	if key, ok := m.store.Get(addr); ok {
		cmd := make([]byte, 22)
		copy(cmd[:6], ep.BDADDR[:])
		copy(cmd[6:], key[:])
		if _, err := m.loop.Call(hci.OpLinkKeyRequestReply, cmd); err != nil {
			m.log.WithError(err).Warn("connmgr: LinkKeyRequestReply failed")
		}
		return
	}
	if _, err := m.loop.Call(hci.OpLinkKeyRequestNegativeReply, ep.BDADDR[:]); err != nil {
		m.log.WithError(err).Warn("connmgr: LinkKeyRequestNegativeReply failed")
	}
}

func (m *Manager) onLinkKeyNotification(params []byte) {
	ep, err := hci.UnmarshalLinkKeyNotification(params)
	if err != nil {
		m.log.WithError(err).Warn("connmgr: malformed LinkKeyNotification")
		return
	}
	addr, err := btaddr.FromWire(ep.BDADDR[:])
	if err != nil {
		return
	}
	if err := m.store.Put(addr, LinkKey(ep.LinkKey)); err != nil {
		m.log.WithError(err).Warn("connmgr: persisting link key failed")
		return
	}
	m.log.WithField("addr", addr).Debug("connmgr: link key stored")
}
