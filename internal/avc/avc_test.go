package avc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubunitRoundTrip(t *testing.T) {
	cases := []struct {
		sub  Subunit
		want []byte
	}{
		{Subunit{Type: Monitor, ID: 3}, []byte{0b011}},
		{Subunit{Type: Monitor, ID: 7}, []byte{0b101, 0b00000010}},
		{Subunit{Type: Monitor, ID: 260}, []byte{0b101, 0xFF, 0b1}},
	}
	for _, c := range cases {
		raw, err := c.sub.marshal()
		require.NoError(t, err)
		require.Equal(t, c.want, raw)

		parsed, n, err := unmarshalSubunit(raw)
		require.NoError(t, err)
		require.Equal(t, len(raw), n)
		require.Equal(t, c.sub, parsed)
	}
}

func TestUnmarshalFrame(t *testing.T) {
	raw := []byte{0x03, 0x48, 0x00}
	frame, n, err := UnmarshalFrame(raw)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, Frame{CType: Notify, Subunit: Subunit{Type: Panel, ID: 0}, Opcode: VendorDependent}, frame)
}

func TestFrameMarshalRoundTrip(t *testing.T) {
	frame := Frame{CType: Interim, Subunit: Panel0, Opcode: VendorDependent}
	raw, err := frame.Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte{0x0F, 0x48, 0x00}, raw)

	parsed, n, err := UnmarshalFrame(raw)
	require.NoError(t, err)
	require.Equal(t, len(raw), n)
	require.Equal(t, frame, parsed)
}

func TestSubunitRejectsReservedIDs(t *testing.T) {
	_, err := Subunit{Type: Monitor, ID: 5}.marshal()
	require.Error(t, err)
	_, err = Subunit{Type: Monitor, ID: 6}.marshal()
	require.Error(t, err)
}
