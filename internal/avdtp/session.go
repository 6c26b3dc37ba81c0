package avdtp

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// PSM is the well-known AVDTP Protocol/Service Multiplexer.
const PSM uint16 = 0x0019

// conn is the slice of l2cap.Channel AVDTP needs on both its signaling and
// transport channels.
type conn interface {
	Read() ([]byte, bool)
	Write([]byte) error
	RemoteMTU() uint16
}

// Server dispatches inbound L2CAP channels on the AVDTP PSM to per-handle
// sessions: the first channel for a handle is the signaling channel,
// every subsequent one is a transport channel matched to a Stream in
// Opening state (spec's stream<->transport binding rule).
type Server struct {
	log       *logrus.Entry
	endpoints []*LocalEndpoint

	mu       sync.Mutex
	sessions map[uint16]*session
}

// NewServer builds an AVDTP responder advertising endpoints.
func NewServer(log *logrus.Entry, endpoints []*LocalEndpoint) *Server {
	return &Server{log: log, endpoints: endpoints, sessions: map[uint16]*session{}}
}

// HandleChannel processes one freshly-established L2CAP channel on
// avdtp.PSM: wire it up via `l2capCore.RegisterHandler(avdtp.PSM, func(ch
// *l2cap.Channel) { server.HandleChannel(ch, ch.Handle) })`.
func (s *Server) HandleChannel(ch conn, handle uint16) {
	s.mu.Lock()
	sess, exists := s.sessions[handle]
	if !exists {
		sess = newSession(s, handle)
		s.sessions[handle] = sess
	}
	s.mu.Unlock()

	if !exists {
		go sess.runSignaling(ch)
		return
	}
	st, ok := sess.bindTransport(ch)
	if !ok {
		return
	}
	go st.runTransport(sess.log)
}

type session struct {
	srv    *Server
	handle uint16
	log    *logrus.Entry

	mu      sync.Mutex
	streams map[uint8]*Stream // by local SEID

	asm signalAssembler
}

func newSession(srv *Server, handle uint16) *session {
	return &session{srv: srv, handle: handle, log: srv.log.WithField("handle", handle), streams: map[uint8]*Stream{}}
}

func (s *session) endpointBySEID(seid uint8) *LocalEndpoint {
	for _, e := range s.srv.endpoints {
		if e.SEID == seid {
			return e
		}
	}
	return nil
}

func (s *session) streamBySEID(seid uint8) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[seid]
}

// openingStream returns the session's unique Stream in Opening state. ok
// is false if zero or more than one stream is Opening: a protocol
// violation per spec's stream<->transport binding rule.
func (s *session) openingStream() (st *Stream, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Stream
	count := 0
	for _, st := range s.streams {
		if st.isOpening() {
			found = st
			count++
		}
	}
	return found, count == 1
}

// bindTransport matches ch to the session's unique Opening-state Stream
// and binds it, transitioning Opening -> Open. The caller is responsible
// for running the returned Stream's transport read loop.
func (s *session) bindTransport(ch conn) (*Stream, bool) {
	st, ok := s.openingStream()
	if !ok {
		s.log.Warn("avdtp: transport channel opened with zero or multiple streams Opening, dropping")
		return nil, false
	}
	st.setChannel(ch)
	return st, true
}

func (s *session) runSignaling(ch conn) {
	for {
		raw, ok := ch.Read()
		if !ok {
			return
		}
		msg, err := s.asm.feed(raw)
		if err != nil {
			s.log.WithError(err).Warn("avdtp: dropping malformed signaling fragment")
			continue
		}
		if msg == nil {
			continue
		}
		s.dispatch(ch, msg)
	}
}

func (s *session) reply(ch conn, label uint8, sigID SignalIdentifier, payload []byte) {
	for _, pkt := range fragmentSignal(label, MsgResponseAccept, sigID, payload, int(ch.RemoteMTU())) {
		if err := ch.Write(pkt); err != nil {
			s.log.WithError(err).Warn("avdtp: failed to write response")
			return
		}
	}
}

func (s *session) reject(ch conn, label uint8, sigID SignalIdentifier, code ErrorCode) {
	for _, pkt := range fragmentSignal(label, MsgResponseReject, sigID, []byte{byte(code)}, int(ch.RemoteMTU())) {
		if err := ch.Write(pkt); err != nil {
			s.log.WithError(err).Warn("avdtp: failed to write reject")
			return
		}
	}
}

func (s *session) dispatch(ch conn, msg *SignalMessage) {
	if msg.MessageType != MsgCommand {
		return
	}

	switch msg.SignalIdentifier {
	case SigDiscover:
		s.handleDiscover(ch, msg)
	case SigGetCapabilities:
		s.handleGetCapabilities(ch, msg, false)
	case SigGetAllCapabilities:
		s.handleGetCapabilities(ch, msg, true)
	case SigSetConfiguration:
		s.handleSetConfiguration(ch, msg)
	case SigGetConfiguration:
		s.handleGetConfiguration(ch, msg)
	case SigReconfigure:
		s.handleReconfigure(ch, msg)
	case SigOpen:
		s.handleOpen(ch, msg)
	case SigStart:
		s.handleStart(ch, msg)
	case SigSuspend:
		s.handleSuspend(ch, msg)
	case SigClose:
		s.handleClose(ch, msg)
	case SigAbort:
		s.handleAbort(ch, msg)
	default:
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrNotSupportedCommand)
	}
}

func (s *session) handleDiscover(ch conn, msg *SignalMessage) {
	var out []byte
	for _, e := range s.srv.endpoints {
		out = append(out, e.info().marshal()...)
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, out)
}

func (s *session) handleGetCapabilities(ch conn, msg *SignalMessage, all bool) {
	if len(msg.Data) < 1 {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadLength)
		return
	}
	seid := msg.Data[0] >> 2
	ep := s.endpointBySEID(seid)
	if ep == nil {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadAcpSeid)
		return
	}
	caps := ep.Capabilities
	if !all {
		var basic []Capability
		for _, c := range caps {
			if c.isBasic() {
				basic = append(basic, c)
			}
		}
		caps = basic
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, marshalCapabilities(caps))
}

func (s *session) handleSetConfiguration(ch conn, msg *SignalMessage) {
	if len(msg.Data) < 2 {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadLength)
		return
	}
	acpSEID := msg.Data[0] >> 2
	intSEID := msg.Data[1] >> 2
	ep := s.endpointBySEID(acpSEID)
	if ep == nil {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadAcpSeid)
		return
	}
	caps, err := parseCapabilities(msg.Data[2:])
	if err != nil {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadPayloadFormat)
		return
	}

	st, err := newStream(ep, intSEID, caps)
	if err != nil {
		if se, ok := err.(*StreamError); ok {
			s.reject(ch, msg.Label, msg.SignalIdentifier, se.Code)
			return
		}
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrUnsupportedConfiguration)
		return
	}

	s.mu.Lock()
	s.streams[acpSEID] = st
	s.mu.Unlock()
	s.reply(ch, msg.Label, msg.SignalIdentifier, nil)
}

func (s *session) handleGetConfiguration(ch conn, msg *SignalMessage) {
	if len(msg.Data) < 1 {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadLength)
		return
	}
	st := s.streamBySEID(msg.Data[0] >> 2)
	if st == nil {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadAcpSeid)
		return
	}
	caps, err := st.getCapabilities()
	if err != nil {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadState)
		return
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, marshalCapabilities(caps))
}

func (s *session) handleReconfigure(ch conn, msg *SignalMessage) {
	if len(msg.Data) < 1 {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadLength)
		return
	}
	st := s.streamBySEID(msg.Data[0] >> 2)
	if st == nil {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadAcpSeid)
		return
	}
	caps, err := parseCapabilities(msg.Data[1:])
	if err != nil {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadPayloadFormat)
		return
	}
	if err := st.reconfigure(caps); err != nil {
		s.rejectStreamErr(ch, msg, err)
		return
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, nil)
}

func (s *session) handleOpen(ch conn, msg *SignalMessage) {
	st := s.seidFromFirstByte(ch, msg)
	if st == nil {
		return
	}
	if err := st.setOpening(); err != nil {
		s.rejectStreamErr(ch, msg, err)
		return
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, nil)
}

func (s *session) handleStart(ch conn, msg *SignalMessage) {
	st := s.seidFromFirstByte(ch, msg)
	if st == nil {
		return
	}
	if err := st.start(); err != nil {
		s.rejectStreamErr(ch, msg, err)
		return
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, nil)
}

func (s *session) handleSuspend(ch conn, msg *SignalMessage) {
	st := s.seidFromFirstByte(ch, msg)
	if st == nil {
		return
	}
	if err := st.suspend(); err != nil {
		s.rejectStreamErr(ch, msg, err)
		return
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, nil)
}

func (s *session) handleClose(ch conn, msg *SignalMessage) {
	st := s.seidFromFirstByte(ch, msg)
	if st == nil {
		return
	}
	if err := st.close(); err != nil {
		s.rejectStreamErr(ch, msg, err)
		return
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, nil)
}

func (s *session) handleAbort(ch conn, msg *SignalMessage) {
	if len(msg.Data) < 1 {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadLength)
		return
	}
	if st := s.streamBySEID(msg.Data[0] >> 2); st != nil {
		st.abort()
	}
	s.reply(ch, msg.Label, msg.SignalIdentifier, nil)
}

func (s *session) seidFromFirstByte(ch conn, msg *SignalMessage) *Stream {
	if len(msg.Data) < 1 {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadLength)
		return nil
	}
	st := s.streamBySEID(msg.Data[0] >> 2)
	if st == nil {
		s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadAcpSeid)
		return nil
	}
	return st
}

func (s *session) rejectStreamErr(ch conn, msg *SignalMessage, err error) {
	if se, ok := err.(*StreamError); ok {
		s.reject(ch, msg.Label, msg.SignalIdentifier, se.Code)
		return
	}
	s.reject(ch, msg.Label, msg.SignalIdentifier, ErrBadState)
}
