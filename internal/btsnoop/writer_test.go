package btsnoop

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

func TestOpenWritesHeaderAndRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.btsnoop")
	w, err := Open(path, testLog())
	require.NoError(t, err)

	w.Write(Command, []byte{0x03, 0x0C, 0x00})
	w.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, magic, string(data[:8]))
	require.EqualValues(t, version, binary.BigEndian.Uint32(data[8:12]))
	require.EqualValues(t, formatMonitor, binary.BigEndian.Uint32(data[12:16]))

	rec := data[16:]
	require.EqualValues(t, 3, binary.BigEndian.Uint32(rec[0:4]))  // original length
	require.EqualValues(t, 3, binary.BigEndian.Uint32(rec[4:8]))  // included length
	require.EqualValues(t, Command, binary.BigEndian.Uint32(rec[8:12]))
	require.EqualValues(t, 0, binary.BigEndian.Uint32(rec[12:16]))
	ts := binary.BigEndian.Uint64(rec[16:24])
	require.Greater(t, ts, uint64(btsnoopEpochOffset))
	require.Equal(t, []byte{0x03, 0x0C, 0x00}, rec[24:])
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *Writer
	require.NotPanics(t, func() {
		w.Write(Event, []byte{0x01})
		w.Close()
	})
}
