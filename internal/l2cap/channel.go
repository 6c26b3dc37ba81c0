package l2cap

import "fmt"

// State is a Channel's configuration/lifecycle state.
type State uint8

const (
	StateConfiguring State = iota
	StateConfigured
	StateDisconnected
)

// Channel is one L2CAP data channel: a (handle, local CID, remote CID)
// triple plus negotiated MTUs. Basic mode is the only mode implemented --
// one L2CAP frame per SDU, no segmentation within this layer.
type Channel struct {
	Handle    uint16
	LocalCID  uint16
	RemoteCID uint16
	PSM       uint16

	state State

	// localMTU is what we told the peer we can receive; remoteMTU is what
	// the peer told us it can receive (the ceiling on outbound SDU size).
	localMTU  uint16
	remoteMTU uint16

	sentConfigOK bool // peer accepted our ConfigureRequest
	recvConfigOK bool // we accepted the peer's ConfigureRequest

	// pendingHandler is the registered Handler for this channel's PSM,
	// invoked once by markConfigured and cleared immediately after.
	pendingHandler Handler

	readc chan []byte

	l2 *L2CAP
}

func newChannel(l2 *L2CAP, handle, localCID, remoteCID, psm uint16) *Channel {
	return &Channel{
		Handle:    handle,
		LocalCID:  localCID,
		RemoteCID: remoteCID,
		PSM:       psm,
		state:     StateConfiguring,
		localMTU:  DefaultInitialMTU,
		remoteMTU: DefaultInitialMTU,
		readc:     make(chan []byte, 16),
		l2:        l2,
	}
}

// State returns the channel's current configuration/lifecycle state.
func (c *Channel) State() State { return c.state }

// RemoteMTU returns the peer's negotiated receive MTU, the ceiling for a
// single outbound SDU.
func (c *Channel) RemoteMTU() uint16 { return c.remoteMTU }

// Read resolves to the next inbound SDU; ok is false once the channel has
// been closed and no further SDUs will arrive.
func (c *Channel) Read() (sdu []byte, ok bool) {
	b, open := <-c.readc
	return b, open
}

// Write sends an SDU as a single Basic-mode L2CAP frame. It fails if the
// SDU exceeds the peer's negotiated receive MTU.
func (c *Channel) Write(sdu []byte) error {
	if c.state == StateDisconnected {
		return fmt.Errorf("l2cap: channel 0x%04X is disconnected", c.LocalCID)
	}
	if len(sdu) > int(c.remoteMTU) {
		return fmt.Errorf("l2cap: sdu of %d bytes exceeds peer mtu %d", len(sdu), c.remoteMTU)
	}
	c.l2.sendPDU(c.Handle, c.RemoteCID, sdu)
	return nil
}

// deliver enqueues an inbound SDU. The caller (the L2CAP dispatch path,
// single-threaded per spec's concurrency model) must not call deliver
// after close.
func (c *Channel) deliver(sdu []byte) {
	if c.state == StateDisconnected {
		return
	}
	c.readc <- sdu
}

func (c *Channel) close() {
	if c.state == StateDisconnected {
		return
	}
	c.state = StateDisconnected
	close(c.readc)
}

func (c *Channel) configured() bool { return c.sentConfigOK && c.recvConfigOK }

// markConfigured transitions the channel from StateConfiguring to
// StateConfigured the instant both configuration directions have
// completed, and fires the pending Handler exactly once. Called after
// every update to sentConfigOK/recvConfigOK; a no-op until both are true,
// and a no-op again afterwards since state no longer equals
// StateConfiguring.
func (c *Channel) markConfigured() {
	if c.state != StateConfiguring || !c.configured() {
		return
	}
	c.state = StateConfigured
	h := c.pendingHandler
	c.pendingHandler = nil
	if h != nil {
		h(c)
	}
}
