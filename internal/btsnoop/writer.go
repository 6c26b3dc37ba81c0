// Package btsnoop writes an optional capture file in btsnoop monitor
// format, suitable for opening directly in Wireshark, as a passive tap on
// the HCI event loop's command/event/ACL traffic.
package btsnoop

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	magic          = "btsnoop\x00"
	version uint32 = 1

	// formatMonitor is the "monitor" datalink type: every record also
	// carries the packet-direction/type flag below, unlike the plain
	// "HCI" datalink (1001) which records only raw H4 frames.
	formatMonitor uint32 = 2001
)

// PacketType is the per-record flags field identifying what kind of HCI
// traffic a record carries.
type PacketType uint32

const (
	Command    PacketType = 2
	Event      PacketType = 3
	AclTx      PacketType = 4
	AclRx      PacketType = 5
	SystemNode PacketType = 12
)

// btsnoopEpochOffset is the btsnoop timestamp epoch's offset from the Unix
// epoch, in microseconds (0x00E03AB44A676000).
const btsnoopEpochOffset = 0x00E03AB44A676000

type record struct {
	at   time.Time
	typ  PacketType
	data []byte
}

// Writer asynchronously appends records to a btsnoop capture file. The
// zero value is not usable; construct one with Open. A nil *Writer is
// safe to call Write on -- it's the "capture disabled" case.
type Writer struct {
	ch    chan record
	donec chan struct{}
	log   *logrus.Entry
}

// Open creates (truncating) the capture file at path and starts its
// writer goroutine. Call Close when the event loop shuts down to drain
// and flush the remaining buffered records.
func Open(path string, log *logrus.Entry) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("btsnoop: creating %s: %w", path, err)
	}

	bw := bufio.NewWriter(f)
	if err := writeHeader(bw); err != nil {
		f.Close()
		return nil, err
	}

	w := &Writer{
		ch:    make(chan record, 256),
		donec: make(chan struct{}),
		log:   log,
	}
	go w.run(f, bw)
	return w, nil
}

func writeHeader(w *bufio.Writer) error {
	if _, err := w.WriteString(magic); err != nil {
		return fmt.Errorf("btsnoop: writing header: %w", err)
	}
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], version)
	binary.BigEndian.PutUint32(hdr[4:8], formatMonitor)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("btsnoop: writing header: %w", err)
	}
	return w.Flush()
}

func (w *Writer) run(f *os.File, bw *bufio.Writer) {
	defer f.Close()
	for r := range w.ch {
		if err := w.writeRecord(bw, r); err != nil {
			w.log.WithError(err).Warn("btsnoop: write failed, dropping capture record")
			continue
		}
	}
	_ = bw.Flush()
	close(w.donec)
}

func (w *Writer) writeRecord(bw *bufio.Writer, r record) error {
	var hdr [24]byte
	size := uint32(len(r.data))
	binary.BigEndian.PutUint32(hdr[0:4], size)             // original length
	binary.BigEndian.PutUint32(hdr[4:8], size)             // included length
	binary.BigEndian.PutUint32(hdr[8:12], uint32(r.typ))   // flags
	binary.BigEndian.PutUint32(hdr[12:16], 0)              // cumulative drops
	ts := r.at.UnixMicro() + btsnoopEpochOffset
	binary.BigEndian.PutUint64(hdr[16:24], uint64(ts))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := bw.Write(r.data); err != nil {
		return err
	}
	return bw.Flush()
}

// Write enqueues data as a capture record of the given type, stamped with
// the current time. It never blocks the caller: a full buffer drops the
// record rather than stalling the event loop.
func (w *Writer) Write(typ PacketType, data []byte) {
	if w == nil {
		return
	}
	r := record{at: time.Now(), typ: typ, data: append([]byte(nil), data...)}
	select {
	case w.ch <- r:
	default:
		w.log.Warn("btsnoop: capture buffer full, dropping record")
	}
}

// Close stops the writer goroutine and blocks until the file has been
// flushed and closed.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	close(w.ch)
	<-w.donec
}
