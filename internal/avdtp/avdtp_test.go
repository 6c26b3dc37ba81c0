package avdtp

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func TestSBCCodecInformationParse(t *testing.T) {
	info, err := parseSBCCodecInformation([]byte{0xFF, 0xFF, 0x02, 0x35})
	require.NoError(t, err)
	require.Equal(t, allSamplingFrequencies, info.SamplingFrequencies)
	require.Equal(t, allChannelModes, info.ChannelModes)
	require.Equal(t, allBlockLengths, info.BlockLengths)
	require.Equal(t, allSubbands, info.Subbands)
	require.Equal(t, allAllocationMethods, info.AllocationMethods)
	require.Equal(t, uint8(2), info.MinBitpool)
	require.Equal(t, uint8(53), info.MaxBitpool)
}

func TestCapabilityListRoundTrip(t *testing.T) {
	sbc := DefaultSBCCodecInformation()
	caps := []Capability{
		{Category: CategoryMediaTransport},
		{Category: CategoryMediaCodec, Codec: &MediaCodecCapability{MediaType: MediaTypeAudio, Codec: CodecSBC, SBC: &sbc}},
	}
	raw := marshalCapabilities(caps)
	require.Equal(t, []byte{0x01, 0x00, 0x07, 0x06, 0x00, 0x00, 0xff, 0xff, 0x02, 0x35}, raw)

	parsed, err := parseCapabilities(raw)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	require.Equal(t, CategoryMediaTransport, parsed[0].Category)
	require.Equal(t, CodecSBC, parsed[1].Codec.Codec)
	require.Equal(t, sbc, *parsed[1].Codec.SBC)
}

func TestSignalSinglePacket(t *testing.T) {
	var a signalAssembler
	// label=1, Command, SigGetCapabilities, data = [0x04] (seid=1).
	raw := []byte{signalHeader{label: 1, packetType: packetSingle, messageType: MsgCommand}.marshal(), byte(SigGetCapabilities), 0x04}
	msg, err := a.feed(raw)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, uint8(1), msg.Label)
	require.Equal(t, SigGetCapabilities, msg.SignalIdentifier)
	require.Equal(t, []byte{0x04}, msg.Data)
}

func TestSignalFragmentReassembleRoundTrip(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	packets := fragmentSignal(3, MsgResponseAccept, SigGetAllCapabilities, data, 48)
	require.True(t, len(packets) > 1)

	var a signalAssembler
	var got *SignalMessage
	for _, p := range packets {
		msg, err := a.feed(p)
		require.NoError(t, err)
		if msg != nil {
			got = msg
		}
	}
	require.NotNil(t, got)
	require.Equal(t, uint8(3), got.Label)
	require.Equal(t, SigGetAllCapabilities, got.SignalIdentifier)
	require.Equal(t, data, got.Data)
}

// fakeConn implements conn with a simple channel-backed pipe.
type fakeConn struct {
	in  chan []byte
	out [][]byte
	mtu uint16
}

func newFakeConn(mtu uint16) *fakeConn { return &fakeConn{in: make(chan []byte, 16), mtu: mtu} }

func (f *fakeConn) Read() ([]byte, bool) {
	b, ok := <-f.in
	return b, ok
}
func (f *fakeConn) Write(b []byte) error {
	f.out = append(f.out, append([]byte(nil), b...))
	return nil
}
func (f *fakeConn) RemoteMTU() uint16 { return f.mtu }

func sbcEndpoint(seid uint8) *LocalEndpoint {
	sbc := DefaultSBCCodecInformation()
	caps := []Capability{
		{Category: CategoryMediaTransport},
		{Category: CategoryMediaCodec, Codec: &MediaCodecCapability{MediaType: MediaTypeAudio, Codec: CodecSBC, SBC: &sbc}},
	}
	return NewLocalEndpoint(seid, caps, func(caps []Capability) StreamHandler { return &nopHandler{} })
}

type nopHandler struct{}

func (nopHandler) OnPlay()         {}
func (nopHandler) OnStop()         {}
func (nopHandler) OnData(_ []byte) {}

// sendSignalCommand feeds one Single-packet signaling command directly
// through the session's dispatcher, synchronously, sidestepping
// runSignaling's read loop so tests don't need cross-goroutine
// synchronization to observe the reply.
func sendSignalCommand(sess *session, fc *fakeConn, label uint8, sigID SignalIdentifier, data []byte) {
	pkt := append([]byte{signalHeader{label: label, packetType: packetSingle, messageType: MsgCommand}.marshal(), byte(sigID)}, data...)
	msg, err := sess.asm.feed(pkt)
	if err != nil || msg == nil {
		return
	}
	sess.dispatch(fc, msg)
}

func parseResponse(raw []byte) (MessageType, []byte, SignalIdentifier) {
	hdr := unmarshalSignalHeader(raw[0])
	return hdr.messageType, raw[2:], SignalIdentifier(raw[1] & 0x3F)
}

func TestSetConfigurationThenSepInUse(t *testing.T) {
	ep := sbcEndpoint(1)
	srv := NewServer(testLog(), []*LocalEndpoint{ep})
	sess := newSession(srv, 0x0040)
	fc := newFakeConn(48)

	sendSignalCommand(sess, fc, 0, SigSetConfiguration, []byte{0x01 << 2, 0x02 << 2, 0x01, 0x00})
	require.Len(t, fc.out, 1)
	code, _, _ := parseResponse(fc.out[0])
	require.Equal(t, MsgResponseAccept, code)

	sendSignalCommand(sess, fc, 1, SigSetConfiguration, []byte{0x01 << 2, 0x03 << 2, 0x01, 0x00})
	require.Len(t, fc.out, 2)
	code2, rejectData, _ := parseResponse(fc.out[1])
	require.Equal(t, MsgResponseReject, code2)
	require.Equal(t, []byte{byte(ErrSepInUse)}, rejectData)
}

func TestOpenAndStreamingTransportBinding(t *testing.T) {
	ep := sbcEndpoint(1)
	srv := NewServer(testLog(), []*LocalEndpoint{ep})
	sess := newSession(srv, 0x0040)
	fc := newFakeConn(48)

	sendSignalCommand(sess, fc, 0, SigSetConfiguration, []byte{0x01 << 2, 0x02 << 2, 0x01, 0x00})
	require.Len(t, fc.out, 1)

	sendSignalCommand(sess, fc, 1, SigOpen, []byte{0x01 << 2})
	require.Len(t, fc.out, 2)

	st := sess.streamBySEID(1)
	require.NotNil(t, st)
	require.Equal(t, StateOpening, st.State())

	transport := newFakeConn(48)
	bound, ok := sess.bindTransport(transport)
	require.True(t, ok)
	require.Same(t, st, bound)
	require.Equal(t, StateOpen, st.State())

	require.NoError(t, st.start())
	require.Equal(t, StateStreaming, st.State())
}
