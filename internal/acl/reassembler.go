// Package acl reassembles HCI ACL fragments into complete L2CAP PDUs, one
// state machine per connection handle.
package acl

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/btsinkd/btsinkd/internal/hci"
)

const pduHeaderLen = 4 // L2CAP length (2) + channel id (2)

type reassembly struct {
	buf        []byte
	declared   int
	inProgress bool
}

// Reassembler holds one reassembly state machine per connection handle and
// delivers complete L2CAP PDUs to a sink as ACL fragments arrive.
type Reassembler struct {
	log  *logrus.Entry
	sink func(handle uint16, pdu []byte)

	mu    sync.Mutex
	byHdl map[uint16]*reassembly
}

// New builds a Reassembler that calls sink with each handle's complete
// L2CAP PDU (header included) as it is assembled.
func New(log *logrus.Entry, sink func(handle uint16, pdu []byte)) *Reassembler {
	return &Reassembler{log: log, sink: sink, byHdl: map[uint16]*reassembly{}}
}

// Feed processes one inbound ACL fragment. It is meant to be driven from a
// single goroutine (the HCI loop's ACL inbound reader) -- per-handle state
// is mutated without its own lock, only the handle-to-state map is.
func (r *Reassembler) Feed(frag hci.ACLFragment) {
	r.mu.Lock()
	st, ok := r.byHdl[frag.Handle]
	if !ok {
		st = &reassembly{}
		r.byHdl[frag.Handle] = st
	}
	r.mu.Unlock()

	switch frag.Boundary {
	case hci.FirstNonFlushable, hci.FirstFlushable:
		if len(frag.Payload) < 2 {
			r.log.WithField("handle", frag.Handle).Warn("acl: first fragment too short for L2CAP length")
			st.inProgress = false
			return
		}
		st.declared = int(binary.LittleEndian.Uint16(frag.Payload[0:2]))
		st.buf = append([]byte(nil), frag.Payload...)
		st.inProgress = true
	case hci.Continuing:
		if !st.inProgress {
			r.log.WithField("handle", frag.Handle).Warn("acl: continuing fragment with no first fragment in progress, discarded")
			return
		}
		st.buf = append(st.buf, frag.Payload...)
	}

	if !st.inProgress {
		return
	}

	want := st.declared + pduHeaderLen
	switch {
	case len(st.buf) == want:
		pdu := st.buf
		st.buf = nil
		st.inProgress = false
		r.sink(frag.Handle, pdu)
	case len(st.buf) > want:
		r.log.WithField("handle", frag.Handle).Warn("acl: reassembly overflow, discarding")
		st.buf = nil
		st.inProgress = false
	}
}

// Reset drops reassembly state for a handle, e.g. on disconnection.
func (r *Reassembler) Reset(handle uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHdl, handle)
}
