package avrcp

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/btsinkd/btsinkd/internal/avc"
	"github.com/btsinkd/btsinkd/internal/avctp"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

// fakeAVCTPConn implements avctp's reader slice: Write captures everything
// sent, Read never has anything to deliver (these tests drive inbound
// messages directly through Session.handleMessage), and RemoteMTU reports
// a fixed fragmentation ceiling.
type fakeAVCTPConn struct {
	out [][]byte
	mtu uint16
}

func (f *fakeAVCTPConn) Read() ([]byte, bool) { return nil, false }
func (f *fakeAVCTPConn) Write(b []byte) error {
	f.out = append(f.out, append([]byte(nil), b...))
	return nil
}
func (f *fakeAVCTPConn) RemoteMTU() uint16 { return f.mtu }

func vendorDependentPayload(t *testing.T, ctype avc.CommandCode, pdu Pdu, params []byte) []byte {
	t.Helper()
	frame := avc.Frame{CType: ctype, Subunit: avc.Panel0, Opcode: avc.VendorDependent}
	raw, err := frame.Marshal()
	require.NoError(t, err)
	raw = append(raw, byte(companyID>>16), byte(companyID>>8), byte(companyID))
	raw = append(raw, commandHeader{pdu: pdu, packetType: packetSingle, parameterLength: uint16(len(params))}.marshal()...)
	raw = append(raw, params...)
	return raw
}

func TestFragmentCommandMatchesFixture(t *testing.T) {
	// The exact byte sequence for an Interim RegisterNotification(VolumeChanged, 0).
	var got []byte
	err := fragmentCommand(avc.Interim, PduRegisterNotification, []byte{byte(EventVolumeChanged), 0x00}, func(data []byte) error {
		got = data
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{0x0F, 0x48, 0x00, 0x00, 0x19, 0x58, 0x31, 0x00, 0x00, 0x02, 0x0D, 0x00}, got)
}

func TestVendorFragmentReassembleRoundTrip(t *testing.T) {
	params := make([]byte, 1800)
	for i := range params {
		params[i] = byte(i)
	}

	var fragments [][]byte
	err := fragmentCommand(avc.Status, PduGetElementAttributes, params, func(data []byte) error {
		fragments = append(fragments, data)
		return nil
	})
	require.NoError(t, err)
	require.True(t, len(fragments) > 1)

	var asm commandAssembler
	var got *command
	for _, frag := range fragments {
		frame, n, err := avc.UnmarshalFrame(frag)
		require.NoError(t, err)
		require.Equal(t, avc.Status, frame.CType)
		rest := frag[n+3:] // skip company id
		cmd, err := asm.processMsg(rest)
		require.NoError(t, err)
		if cmd != nil {
			got = cmd
		}
	}
	require.NotNil(t, got)
	require.Equal(t, PduGetElementAttributes, got.pdu)
	require.Equal(t, params, got.parameters)
}

func TestVendorFragmentPduMismatchResets(t *testing.T) {
	var asm commandAssembler
	start := commandHeader{pdu: PduGetCapabilities, packetType: packetStart, parameterLength: 2}.marshal()
	start = append(start, 0xAA, 0xBB)
	_, err := asm.processMsg(start)
	require.NoError(t, err)

	cont := commandHeader{pdu: PduSetAbsoluteVolume, packetType: packetContinue, parameterLength: 1}.marshal()
	cont = append(cont, 0xCC)
	_, err = asm.processMsg(cont)
	require.Error(t, err)
	require.Nil(t, asm.pdu)
}

func TestGetCapabilitiesResponder(t *testing.T) {
	fc := &fakeAVCTPConn{mtu: 128}
	ch := avctp.New(fc, testLog())
	sess := NewSession(testLog(), ch)

	cmd := vendorDependentPayload(t, avc.Status, PduGetCapabilities, []byte{companyIDCapability})
	sess.handleMessage(avctp.Message{Label: 3, ProfileID: ProfileID, MessageType: avctp.Command, Payload: cmd})

	require.Len(t, fc.out, 1)
	pkt := fc.out[0][3:] // skip the AVCTP packet header and profile id
	frame, n, err := avc.UnmarshalFrame(pkt)
	require.NoError(t, err)
	require.Equal(t, avc.Implemented, frame.CType)
	rest := pkt[n+3:]
	hdr, err := unmarshalCommandHeader(rest)
	require.NoError(t, err)
	require.Equal(t, PduGetCapabilities, hdr.pdu)
	require.Equal(t, []byte{companyIDCapability, 1, 0x00, 0x19, 0x58}, rest[4:])
}

func TestSetAbsoluteVolumeClampsAndEmits(t *testing.T) {
	fc := &fakeAVCTPConn{mtu: 128}
	ch := avctp.New(fc, testLog())
	sess := NewSession(testLog(), ch)

	cmd := vendorDependentPayload(t, avc.Control, PduSetAbsoluteVolume, []byte{0xFF})
	sess.handleMessage(avctp.Message{Label: 1, ProfileID: ProfileID, MessageType: avctp.Command, Payload: cmd})

	require.Len(t, fc.out, 1)
	pkt := fc.out[0][3:] // skip the AVCTP packet header and profile id
	frame, n, err := avc.UnmarshalFrame(pkt)
	require.NoError(t, err)
	require.Equal(t, avc.Accepted, frame.CType)
	rest := pkt[n+3:]
	require.Equal(t, []byte{maxVolume}, rest[4:])

	select {
	case ev := <-sess.Events():
		require.Equal(t, VolumeChangedEvent{Volume: maxVolume}, ev)
	default:
		t.Fatal("expected VolumeChangedEvent")
	}
}

func TestRegisterNotificationInterimThenChanged(t *testing.T) {
	fc := &fakeAVCTPConn{mtu: 128}
	ch := avctp.New(fc, testLog())
	sess := NewSession(testLog(), ch)

	resultCh, err := sess.RegisterForNotification(EventVolumeChanged, ParseVolumeChanged)
	require.NoError(t, err)
	require.Len(t, fc.out, 1)

	interim := vendorDependentPayload(t, avc.Interim, PduRegisterNotification, []byte{byte(EventVolumeChanged), 0x20})
	sess.handleMessage(avctp.Message{Label: 0, ProfileID: ProfileID, MessageType: avctp.Response, Payload: interim})

	res := <-resultCh
	require.NoError(t, res.Err)
	require.Equal(t, []byte{byte(EventVolumeChanged), 0x20}, res.Parameters)

	changed := vendorDependentPayload(t, avc.Changed, PduRegisterNotification, []byte{byte(EventVolumeChanged), 0x30})
	sess.handleMessage(avctp.Message{Label: 0, ProfileID: ProfileID, MessageType: avctp.Response, Payload: changed})

	select {
	case ev := <-sess.Events():
		require.Equal(t, VolumeChangedEvent{Volume: 0x30}, ev)
	default:
		t.Fatal("expected event after Changed response")
	}
}

func TestUnitInfoResponder(t *testing.T) {
	fc := &fakeAVCTPConn{mtu: 128}
	ch := avctp.New(fc, testLog())
	sess := NewSession(testLog(), ch)

	frame := avc.Frame{CType: avc.Status, Subunit: avc.Unit7, Opcode: avc.UnitInfo}
	raw, err := frame.Marshal()
	require.NoError(t, err)
	sess.handleMessage(avctp.Message{Label: 2, ProfileID: ProfileID, MessageType: avctp.Command, Payload: raw})

	require.Len(t, fc.out, 1)
	pkt := fc.out[0][3:] // skip the AVCTP packet header and profile id
	reply, n, err := avc.UnmarshalFrame(pkt)
	require.NoError(t, err)
	require.Equal(t, avc.Implemented, reply.CType)
	require.Equal(t, []byte{0x07, 0x48, 0x00, 0x19, 0x58}, pkt[n:])
}
