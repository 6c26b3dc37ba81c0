package avctp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssemblerSinglePacket(t *testing.T) {
	// Bluetooth Core / AVCTP worked example: label=0, profile-id=0x110E,
	// msg-type=Command, payload = bytes[3..].
	raw := []byte{0x00, 0x11, 0x0E, 0x03, 0x48, 0x00, 0x00, 0x19, 0x58, 0x31, 0x00, 0x00, 0x05, 0x0D, 0x00, 0x00, 0x00, 0x00}

	var a assembler
	msg, err := a.feed(raw)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, uint8(0), msg.Label)
	require.Equal(t, uint16(0x110E), msg.ProfileID)
	require.Equal(t, Command, msg.MessageType)
	require.Equal(t, raw[3:], msg.Payload)
}

func TestFragmentReassembleRoundTrip(t *testing.T) {
	// The 1-byte packet count caps a message at 255 packets, so the
	// largest payload is fragmented at a larger MTU than the others.
	cases := []struct{ size, mtu int }{{1, 48}, {3, 48}, {20, 48}, {503, 48}, {2000, 48}, {65535, 672}}
	for _, c := range cases {
		n := c.size
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i)
		}

		packets, err := fragment(5, 0x110E, Response, payload, c.mtu)
		require.NoError(t, err)

		var a assembler
		var got *Message
		for _, pkt := range packets {
			msg, err := a.feed(pkt)
			require.NoError(t, err)
			if msg != nil {
				got = msg
			}
		}
		require.NotNil(t, got, "size %d", n)
		require.Equal(t, uint8(5), got.Label)
		require.Equal(t, uint16(0x110E), got.ProfileID)
		require.Equal(t, Response, got.MessageType)
		require.Equal(t, payload, got.Payload)
	}
}

func TestFragmentSingleWhenItFits(t *testing.T) {
	packets, err := fragment(1, 0x110E, Command, []byte{1, 2, 3}, 48)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	hdr := unmarshalPacketHeader(packets[0][0])
	require.Equal(t, packetSingle, hdr.packetType)
}

func TestAssemblerRejectsLabelMismatch(t *testing.T) {
	packets, err := fragment(2, 0x110E, Command, make([]byte, 200), 48)
	require.NoError(t, err)
	require.True(t, len(packets) >= 2)

	var a assembler
	_, err = a.feed(packets[0])
	require.NoError(t, err)

	tampered := append([]byte(nil), packets[1]...)
	tampered[0] = unmarshalPacketHeader(tampered[0]).packetType.marshalWithLabel(9)
	_, err = a.feed(tampered)
	require.Error(t, err)
}

// marshalWithLabel rebuilds a header byte with pt's type and the given
// label; the message-type bits are left zero (Command) -- a test helper
// only, to simulate a peer sending a mismatched transaction label.
func (pt packetType) marshalWithLabel(label uint8) byte {
	return label<<4 | uint8(pt)<<2
}

func TestAssemblerRejectsContinueWithoutStart(t *testing.T) {
	var a assembler
	pkt := []byte{packetHeader{label: 1, packetType: packetContinue, messageType: Command}.marshal(), 0x11, 0x0E, 0xAA}
	_, err := a.feed(pkt)
	require.ErrorIs(t, err, errNoMessage)
}

func TestAssemblerResetsAfterError(t *testing.T) {
	var a assembler
	_, err := a.feed([]byte{packetHeader{label: 1, packetType: packetStart, messageType: Command}.marshal(), 0x02, 0x11, 0x0E, 0xAA})
	require.NoError(t, err)

	bad := []byte{packetHeader{label: 9, packetType: packetEnd, messageType: Command}.marshal(), 0x11, 0x0E, 0xBB}
	_, err = a.feed(bad)
	require.Error(t, err)
	require.False(t, a.inProgress)
}
