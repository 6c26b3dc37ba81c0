package connmgr

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/btsinkd/btsinkd/internal/hci"
	"github.com/btsinkd/btsinkd/pkg/btaddr"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

type fakeCall struct {
	op     hci.Opcode
	params []byte
}

// fakeCaller implements the caller interface, recording every issued
// command and letting the test drive registered sinks directly.
type fakeCaller struct {
	calls []fakeCall
	sinks map[hci.EventCode][]hci.EventSink
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{sinks: map[hci.EventCode][]hci.EventSink{}}
}

func (f *fakeCaller) Call(op hci.Opcode, params []byte) ([]byte, error) {
	f.calls = append(f.calls, fakeCall{op: op, params: append([]byte(nil), params...)})
	return nil, nil
}

func (f *fakeCaller) RegisterEventHandler(codes []hci.EventCode, sink hci.EventSink) {
	for _, c := range codes {
		f.sinks[c] = append(f.sinks[c], sink)
	}
}

func (f *fakeCaller) fire(code hci.EventCode, params []byte) {
	for _, s := range f.sinks[code] {
		s(params)
	}
}

func openTestStore(t *testing.T) *LinkKeyStore {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenLinkKeyStore(filepath.Join(dir, "linkkeys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var testAddr = btaddr.Addr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

func TestAcceptsConnectionRequest(t *testing.T) {
	fc := newFakeCaller()
	store := openTestStore(t)
	_ = New(fc, store, "0000", testLog())

	fc.fire(hci.EvtConnectionRequest, append(append([]byte{}, testAddr[:]...), 0x00, 0x02, 0x04, 0x01))

	require.Len(t, fc.calls, 1)
	require.Equal(t, hci.OpAcceptConnectionRequest, fc.calls[0].op)
	require.Equal(t, append(append([]byte{}, testAddr[:]...), roleSlave), fc.calls[0].params)
}

func TestPINCodeRequestReplyEchoesConfiguredPIN(t *testing.T) {
	fc := newFakeCaller()
	store := openTestStore(t)
	_ = New(fc, store, "1234", testLog())

	fc.fire(hci.EvtPINCodeRequest, testAddr[:])

	require.Len(t, fc.calls, 1)
	require.Equal(t, hci.OpPINCodeRequestReply, fc.calls[0].op)
	params := fc.calls[0].params
	require.Len(t, params, 23)
	require.Equal(t, testAddr[:], params[:6])
	require.EqualValues(t, 4, params[6])
	require.Equal(t, []byte("1234"), params[7:11])
	for _, b := range params[11:] {
		require.Zero(t, b)
	}
}

func TestLinkKeyRequestRepliesFromStore(t *testing.T) {
	fc := newFakeCaller()
	store := openTestStore(t)
	key := LinkKey{0xAA, 0xBB}
	require.NoError(t, store.Put(testAddr, key))

	_ = New(fc, store, "0000", testLog())
	fc.fire(hci.EvtLinkKeyRequest, testAddr[:])

	require.Len(t, fc.calls, 1)
	require.Equal(t, hci.OpLinkKeyRequestReply, fc.calls[0].op)
	require.Equal(t, testAddr[:], fc.calls[0].params[:6])
	require.Equal(t, key[:], fc.calls[0].params[6:])
}

func TestLinkKeyRequestNegativeReplyWhenUnknown(t *testing.T) {
	fc := newFakeCaller()
	store := openTestStore(t)
	_ = New(fc, store, "0000", testLog())

	fc.fire(hci.EvtLinkKeyRequest, testAddr[:])

	require.Len(t, fc.calls, 1)
	require.Equal(t, hci.OpLinkKeyRequestNegativeReply, fc.calls[0].op)
}

func TestLinkKeyNotificationPersists(t *testing.T) {
	fc := newFakeCaller()
	store := openTestStore(t)
	_ = New(fc, store, "0000", testLog())

	params := append(append([]byte{}, testAddr[:]...), make([]byte, 16)...)
	params[6] = 0x42
	params = append(params, 0x00) // key type
	fc.fire(hci.EvtLinkKeyNotification, params)

	key, ok := store.Get(testAddr)
	require.True(t, ok)
	require.EqualValues(t, 0x42, key[0])
}

type fakeNotifiee struct{ handles []uint16 }

func (f *fakeNotifiee) HandleDisconnected(handle uint16) { f.handles = append(f.handles, handle) }

func TestHandleTrackingAndDisconnectNotification(t *testing.T) {
	fc := newFakeCaller()
	store := openTestStore(t)
	m := New(fc, store, "0000", testLog())
	n := &fakeNotifiee{}
	m.NotifyOnDisconnect(n)

	cc := append(append([]byte{0x00}, []byte{0x34, 0x12}...), testAddr[:]...)
	cc = append(cc, 0x01, 0x00) // link type, encryption off
	fc.fire(hci.EvtConnectionComplete, cc)

	h, ok := m.HandleFor(testAddr)
	require.True(t, ok)
	require.EqualValues(t, 0x1234, h)

	dc := []byte{0x00, 0x34, 0x12, 0x13}
	fc.fire(hci.EvtDisconnectionComplete, dc)

	_, ok = m.HandleFor(testAddr)
	require.False(t, ok)
	require.Equal(t, []uint16{0x1234}, n.handles)
}

func TestOpenLinkKeyStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "linkkeys.db")

	s1, err := OpenLinkKeyStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(testAddr, LinkKey{0x01, 0x02, 0x03}))
	require.NoError(t, s1.Close())

	s2, err := OpenLinkKeyStore(path)
	require.NoError(t, err)
	defer s2.Close()
	key, ok := s2.Get(testAddr)
	require.True(t, ok)
	require.EqualValues(t, 0x01, key[0])

	_, err = os.Stat(path)
	require.NoError(t, err)
}
