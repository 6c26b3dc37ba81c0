package avdtp

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrorCode is an AVDTP rejection reason (AVDTP section 8.20.6.2).
type ErrorCode uint8

const (
	ErrBadHeaderFormat         ErrorCode = 0x01
	ErrBadLength               ErrorCode = 0x11
	ErrBadAcpSeid              ErrorCode = 0x12
	ErrSepInUse                ErrorCode = 0x13
	ErrSepNotInUse             ErrorCode = 0x14
	ErrBadServCategory         ErrorCode = 0x17
	ErrBadPayloadFormat        ErrorCode = 0x18
	ErrNotSupportedCommand     ErrorCode = 0x19
	ErrInvalidCapabilities     ErrorCode = 0x1A
	ErrBadRecoveryType         ErrorCode = 0x22
	ErrBadMediaTransportFormat ErrorCode = 0x23
	ErrUnsupportedConfiguration ErrorCode = 0x29
	ErrBadState                ErrorCode = 0x31
)

// StreamError carries an AVDTP error code to be reported back to the peer
// as a ResponseReject.
type StreamError struct {
	Code ErrorCode
}

func (e *StreamError) Error() string { return fmt.Sprintf("avdtp: error 0x%02X", uint8(e.Code)) }

func stateErr() error { return &StreamError{Code: ErrBadState} }

// StreamHandler receives lifecycle and media callbacks for one Stream.
// OnPlay fires on entering Streaming (Start); OnStop fires when Suspend,
// Close or Abort leaves Streaming; OnData delivers
// each media packet's payload (the 12-byte RTP-like header already
// stripped) while the stream is in Streaming state.
type StreamHandler interface {
	OnPlay()
	OnStop()
	OnData(payload []byte)
}

// HandlerFactory builds a StreamHandler for a newly-configured stream,
// given the negotiated capabilities.
type HandlerFactory func(caps []Capability) StreamHandler

// LocalEndpoint is one SEID this sink exposes. in_use is an atomic
// exclusivity flag: at most one Stream may reference an endpoint at a
// time (spec's AVDTP endpoint exclusivity invariant).
type LocalEndpoint struct {
	MediaType    MediaType
	SEID         uint8
	Tsep         StreamEndpointType
	Capabilities []Capability
	Factory      HandlerFactory

	inUse atomic.Bool
}

// NewLocalEndpoint constructs a sink endpoint advertising caps.
func NewLocalEndpoint(seid uint8, caps []Capability, factory HandlerFactory) *LocalEndpoint {
	return &LocalEndpoint{MediaType: MediaTypeAudio, SEID: seid, Tsep: TsepSink, Capabilities: caps, Factory: factory}
}

func (e *LocalEndpoint) info() StreamEndpointInfo {
	return StreamEndpointInfo{SEID: e.SEID, InUse: e.inUse.Load(), MediaType: e.MediaType, Tsep: e.Tsep}
}

// StreamState is a Stream's position in the AVDTP signaling state machine.
type StreamState uint8

const (
	StateConfigured StreamState = iota
	StateOpening
	StateOpen
	StateStreaming
	StateClosing
)

// channelWriter is the slice of l2cap.Channel a Stream needs for its
// transport channel.
type channelWriter interface {
	Read() ([]byte, bool)
}

// Stream is one negotiated endpoint-to-endpoint media session.
type Stream struct {
	mu sync.Mutex

	state        StreamState
	localEndpoint *LocalEndpoint
	RemoteSEID   uint8
	capabilities []Capability
	handler      StreamHandler
	channel      channelWriter
}

// newStream claims local's in_use lease and creates a Stream in
// Configured state. Fails with SepInUse if the endpoint is already
// claimed by another Stream.
func newStream(local *LocalEndpoint, remoteSEID uint8, caps []Capability) (*Stream, error) {
	if local.inUse.Swap(true) {
		return nil, &StreamError{Code: ErrSepInUse}
	}
	return &Stream{
		state:         StateConfigured,
		localEndpoint: local,
		RemoteSEID:    remoteSEID,
		capabilities:  caps,
		handler:       local.Factory(caps),
	}, nil
}

// release drops the Stream's lease on its local endpoint. Idempotent.
func (s *Stream) release() {
	s.localEndpoint.inUse.Store(false)
}

func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) getCapabilities() ([]Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosing {
		return nil, stateErr()
	}
	return s.capabilities, nil
}

func (s *Stream) reconfigure(caps []Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return stateErr()
	}
	for _, c := range caps {
		if !c.isApplicationCapability() {
			return &StreamError{Code: ErrInvalidCapabilities}
		}
	}
	s.handler = s.localEndpoint.Factory(caps)
	s.capabilities = caps
	return nil
}

func (s *Stream) setOpening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfigured {
		return stateErr()
	}
	s.state = StateOpening
	return nil
}

func (s *Stream) isOpening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateOpening
}

// setChannel binds a freshly-opened transport channel to this Stream,
// transitioning Opening -> Open.
func (s *Stream) setChannel(ch channelWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateOpen
	s.channel = ch
}

func (s *Stream) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return stateErr()
	}
	s.state = StateStreaming
	s.handler.OnPlay()
	return nil
}

func (s *Stream) suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return stateErr()
	}
	s.state = StateOpen
	s.handler.OnStop()
	return nil
}

func (s *Stream) close() error {
	s.mu.Lock()
	if s.state != StateStreaming && s.state != StateOpen {
		s.mu.Unlock()
		return stateErr()
	}
	if s.state == StateStreaming {
		s.handler.OnStop()
	}
	s.state = StateClosing
	s.channel = nil
	s.mu.Unlock()
	s.release()
	return nil
}

// abort always succeeds, moving the Stream to Closing from any state.
func (s *Stream) abort() {
	s.mu.Lock()
	if s.state == StateStreaming {
		s.handler.OnStop()
	}
	s.state = StateClosing
	s.channel = nil
	s.mu.Unlock()
	s.release()
}

// runTransport reads media packets off the stream's transport channel
// until it closes, delivering payloads to the handler while Streaming and
// warning-and-dropping otherwise. Marks the Stream Closing on channel
// close, per the spec's transport-disconnection failure semantics.
func (s *Stream) runTransport(log interface{ Warnf(string, ...interface{}) }) {
	for {
		s.mu.Lock()
		ch := s.channel
		s.mu.Unlock()
		if ch == nil {
			return
		}
		data, ok := ch.Read()
		if !ok {
			s.mu.Lock()
			s.state = StateClosing
			s.channel = nil
			s.mu.Unlock()
			s.release()
			return
		}
		s.mu.Lock()
		streaming := s.state == StateStreaming
		handler := s.handler
		s.mu.Unlock()
		if !streaming {
			if log != nil {
				log.Warnf("avdtp: media data received while not streaming")
			}
			continue
		}
		if len(data) < 12 {
			continue
		}
		handler.OnData(data[12:])
	}
}
