package l2cap

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent [][]byte // raw L2CAP PDUs (header + body), one per SendACL call
}

func (f *fakeSender) SendACL(handle uint16, pdu []byte) {
	f.sent = append(f.sent, append([]byte(nil), pdu...))
}

func (f *fakeSender) lastSignal() (code, ident uint8, body []byte) {
	pdu := f.sent[len(f.sent)-1]
	sdu := pdu[4:] // strip L2CAP header
	return sdu[0], sdu[1], sdu[4:]
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func TestConnectionRequestKnownPSM(t *testing.T) {
	fs := &fakeSender{}
	l := New(fs, testLog())

	var gotChannel *Channel
	l.RegisterHandler(0x0019, func(ch *Channel) { gotChannel = ch })

	body := connectionRequestBody(0x0019, 0x0050)
	sig := buildSignal(SigConnectionRequest, 7, body)
	l.handleSignaling(0x0001, sig)

	require.Nil(t, gotChannel, "handler must not fire before configuration completes")

	// Two signals are expected so far: ConnectionResponse, then our
	// ConfigureRequest.
	require.Len(t, fs.sent, 2)
	sdu := fs.sent[0][4:] // the first signal: strip the L2CAP header
	code, body := sdu[0], sdu[4:]
	require.Equal(t, SigConnectionResponse, code)
	ch, ok := l.channelByRemoteCID(0x0001, 0x0050)
	require.True(t, ok)
	dcid := binary.LittleEndian.Uint16(body[0:2])
	scid := binary.LittleEndian.Uint16(body[2:4])
	result := binary.LittleEndian.Uint16(body[4:6])
	require.Equal(t, ch.LocalCID, dcid)
	require.Equal(t, uint16(0x0050), scid)
	require.Equal(t, ConnSuccess, result)

	// Peer accepts our ConfigureRequest: only our half is done.
	l.handleSignaling(0x0001, buildSignal(SigConfigureResponse, 8,
		configureResponseBody(ch.RemoteCID, 0, CfgSuccess, nil)))
	require.Nil(t, gotChannel, "handler must not fire until the peer's ConfigureRequest is answered too")

	// Peer sends its own ConfigureRequest; once we accept it, both
	// directions are configured and the handler fires.
	l.handleSignaling(0x0001, buildSignal(SigConfigureRequest, 9,
		configureRequestBody(ch.LocalCID, 0, []option{mtuOption(335)})))

	require.NotNil(t, gotChannel)
	require.Equal(t, uint16(0x0050), gotChannel.RemoteCID)
	require.Equal(t, StateConfigured, gotChannel.State())
}

func TestConnectionRequestUnknownPSM(t *testing.T) {
	fs := &fakeSender{}
	l := New(fs, testLog())

	body := connectionRequestBody(0xBEEF, 0x0050)
	sig := buildSignal(SigConnectionRequest, 3, body)
	l.handleSignaling(0x0001, sig)

	require.Len(t, fs.sent, 1)
	code, _, rbody := fs.lastSignal()
	require.Equal(t, SigConnectionResponse, code)
	result := binary.LittleEndian.Uint16(rbody[4:6])
	require.Equal(t, ConnPSMNotSupported, result)
}

func TestConfigureRequestMTUNegotiation(t *testing.T) {
	fs := &fakeSender{}
	l := New(fs, testLog())
	l.RegisterHandler(0x0019, func(ch *Channel) {})

	connBody := connectionRequestBody(0x0019, 0x0050)
	l.handleSignaling(0x0001, buildSignal(SigConnectionRequest, 1, connBody))

	ch, ok := l.channelByRemoteCID(0x0001, 0x0050)
	require.True(t, ok)
	require.Equal(t, DefaultInitialMTU, int(ch.remoteMTU))

	cfgBody := configureRequestBody(ch.LocalCID, 0, []option{mtuOption(335)})
	l.handleSignaling(0x0001, buildSignal(SigConfigureRequest, 2, cfgBody))

	require.Equal(t, uint16(335), ch.remoteMTU)
	require.True(t, ch.recvConfigOK)

	code, _, rbody := fs.lastSignal()
	require.Equal(t, SigConfigureResponse, code)
	result := binary.LittleEndian.Uint16(rbody[4:6])
	require.Equal(t, CfgSuccess, result)
}

func TestConfigureRequestUnknownOption(t *testing.T) {
	fs := &fakeSender{}
	l := New(fs, testLog())
	l.RegisterHandler(0x0019, func(ch *Channel) {})

	connBody := connectionRequestBody(0x0019, 0x0050)
	l.handleSignaling(0x0001, buildSignal(SigConnectionRequest, 1, connBody))
	ch, _ := l.channelByRemoteCID(0x0001, 0x0050)

	weird := option{Type: 0x42, Value: []byte{0x01}}
	cfgBody := configureRequestBody(ch.LocalCID, 0, []option{weird})
	l.handleSignaling(0x0001, buildSignal(SigConfigureRequest, 2, cfgBody))

	require.False(t, ch.recvConfigOK)
	code, _, rbody := fs.lastSignal()
	require.Equal(t, SigConfigureResponse, code)
	result := binary.LittleEndian.Uint16(rbody[4:6])
	require.Equal(t, CfgUnknownOptions, result)
}

func TestChannelBothSidesConfiguredEnablesWrite(t *testing.T) {
	fs := &fakeSender{}
	l := New(fs, testLog())
	l.RegisterHandler(0x0019, func(ch *Channel) {})

	connBody := connectionRequestBody(0x0019, 0x0050)
	l.handleSignaling(0x0001, buildSignal(SigConnectionRequest, 1, connBody))
	ch, _ := l.channelByRemoteCID(0x0001, 0x0050)

	cfgReqBody := configureRequestBody(ch.LocalCID, 0, []option{mtuOption(500)})
	l.handleSignaling(0x0001, buildSignal(SigConfigureRequest, 2, cfgReqBody))
	require.True(t, ch.recvConfigOK)
	require.False(t, ch.configured())

	cfgRspBody := configureResponseBody(ch.RemoteCID, 0, CfgSuccess, nil)
	l.handleSignaling(0x0001, buildSignal(SigConfigureResponse, 3, cfgRspBody))
	require.True(t, ch.sentConfigOK)
	require.True(t, ch.configured())

	require.NoError(t, ch.Write([]byte("hello")))
	require.Error(t, ch.Write(make([]byte, 600)))
}
