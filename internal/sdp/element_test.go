package sdp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestElementRoundTrip(t *testing.T) {
	cases := []Element{
		Nil(),
		BoolV(true),
		BoolV(false),
		Uint8V(0),
		Uint8V(0xAB),
		Uint16V(0),
		Uint16V(0x1234),
		Uint32V(0),
		Uint32V(0xDEADBEEF),
		Uint64V(0x0102030405060708),
		Sint8V(-1),
		Sint16V(-1000),
		Sint32V(-100000),
		Sint64V(-1 << 40),
		TextV([]byte("hello, sdp")),
		URLV("http://example.com/"),
		UUIDV(UUID16(0x110B)),
		SequenceV(Uint16V(1), Uint16V(2), TextV([]byte("x"))),
		AlternativeV(Uint8V(1), Uint8V(2)),
	}

	for _, e := range cases {
		b := e.Marshal()
		got, n, err := Unmarshal(b)
		require.NoError(t, err)
		require.Equal(t, len(b), n)
		require.Equal(t, e, got)
	}
}

func TestElementLargeText(t *testing.T) {
	big := make([]byte, 300)
	for i := range big {
		big[i] = byte(i)
	}
	e := TextV(big)
	b := e.Marshal()
	got, n, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, e, got)
}

func TestAudioSinkRecord(t *testing.T) {
	rec, err := AudioSinkRecord(0x00010001)
	require.NoError(t, err)

	handle, ok := rec.Get(AttrServiceRecordHandle)
	require.True(t, ok)
	require.Equal(t, KindUint, handle.Kind)
	require.Equal(t, uint32(0x00010001), handle.Uint32)

	classes, ok := rec.Get(AttrServiceClassIDList)
	require.True(t, ok)
	require.Len(t, classes.Seq, 1)
	require.Equal(t, ClassAudioSink, classes.Seq[0].UUID)
}
