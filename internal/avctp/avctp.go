package avctp

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// PSM is the well-known L2CAP protocol/service multiplexer for the AVCTP
// control channel, registered by the Bluetooth SIG for AV/C transport. Wire
// it up with l2capCore.RegisterHandler(avctp.PSM, func(ch *l2cap.Channel) {
// c := avctp.New(ch, log); go c.Run() }).
const PSM uint16 = 0x0017

// reader is the slice of l2cap.Channel that AVCTP needs: blocking reads of
// complete inbound SDUs, best-effort writes of outbound ones, and the
// peer's current negotiated receive MTU, read live on every send since it
// can change between channel establishment and L2CAP configuration
// completing.
type reader interface {
	Read() ([]byte, bool)
	Write([]byte) error
	RemoteMTU() uint16
}

// Handler receives reassembled messages for one profile id on one channel.
type Handler func(msg Message)

// Channel multiplexes one AVCTP signaling channel: fragmenting and
// reassembling messages, and dispatching inbound messages to the handler
// registered for their profile id.
type Channel struct {
	log   *logrus.Entry
	conn  reader
	labmu sync.Mutex
	label uint8

	handlersMu sync.Mutex
	handlers   map[uint16]Handler

	asm assembler
}

// New wraps an established L2CAP channel with AVCTP framing. The channel
// may still be completing L2CAP configuration: Send consults conn's
// RemoteMTU live on every call rather than latching it here.
func New(conn reader, log *logrus.Entry) *Channel {
	return &Channel{
		log:      log,
		conn:     conn,
		handlers: map[uint16]Handler{},
	}
}

// RegisterHandler installs the single handler for inbound messages
// carrying profileID on this channel.
func (c *Channel) RegisterHandler(profileID uint16, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[profileID] = h
}

func (c *Channel) handlerFor(profileID uint16) (Handler, bool) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	h, ok := c.handlers[profileID]
	return h, ok
}

// NextLabel returns the next transaction label to use for an outbound
// command, cycling through the 16 values the 4-bit field allows.
func (c *Channel) NextLabel() uint8 {
	c.labmu.Lock()
	defer c.labmu.Unlock()
	l := c.label
	c.label = (c.label + 1) % 16
	return l
}

// Send fragments and transmits one AVCTP message, fragmenting against the
// peer's current negotiated receive MTU rather than a value cached at
// channel-construction time.
func (c *Channel) Send(label uint8, profileID uint16, msgType MessageType, payload []byte) error {
	packets, err := fragment(label, profileID, msgType, payload, int(c.conn.RemoteMTU()))
	if err != nil {
		return err
	}
	for _, pkt := range packets {
		if err := c.conn.Write(pkt); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the channel's read loop, reassembling inbound SDUs and
// dispatching complete messages by profile id, until the underlying
// channel closes.
func (c *Channel) Run() {
	for {
		sdu, ok := c.conn.Read()
		if !ok {
			return
		}
		msg, err := c.asm.feed(sdu)
		if err != nil {
			c.log.WithError(err).Warn("avctp: dropping malformed fragment")
			continue
		}
		if msg == nil {
			continue
		}
		h, ok := c.handlerFor(msg.ProfileID)
		if !ok {
			c.log.WithField("profile_id", msg.ProfileID).Debug("avctp: no handler registered for profile, dropping message")
			continue
		}
		h(*msg)
	}
}
