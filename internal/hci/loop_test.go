package hci

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeTransport is a channel-backed hciusb.Transport double, in the style
// of the package's channel-shimmed test fakes.
type fakeTransport struct {
	cmdc   chan []byte
	eventc chan []byte
	aclInc chan []byte
	aclOut chan []byte
	mtu    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		cmdc:   make(chan []byte, 16),
		eventc: make(chan []byte, 16),
		aclInc: make(chan []byte, 16),
		aclOut: make(chan []byte, 16),
		mtu:    64,
	}
}

func (f *fakeTransport) SendCommand(b []byte) error {
	cp := append([]byte(nil), b...)
	f.cmdc <- cp
	return nil
}
func (f *fakeTransport) ReadEvent(buf []byte) (int, error) {
	e := <-f.eventc
	return copy(buf, e), nil
}
func (f *fakeTransport) ReadACL(buf []byte) (int, error) {
	a := <-f.aclInc
	return copy(buf, a), nil
}
func (f *fakeTransport) WriteACL(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	f.aclOut <- cp
	return len(b), nil
}
func (f *fakeTransport) ACLMTU() int  { return f.mtu }
func (f *fakeTransport) Close() error { return nil }

func commandCompleteEvent(op Opcode, params ...byte) []byte {
	b := make([]byte, 2+3+len(params))
	b[0] = byte(EvtCommandComplete)
	b[1] = byte(3 + len(params))
	b[2] = 1 // num HCI command packets
	binary.LittleEndian.PutUint16(b[3:5], uint16(op))
	copy(b[5:], params)
	return b
}

func readBufferSizeParams(numACL uint16) []byte {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint16(p[1:3], 64) // ACL data packet length
	p[3] = 10                                 // sync data packet length
	binary.LittleEndian.PutUint16(p[4:6], numACL)
	binary.LittleEndian.PutUint16(p[6:8], 4)
	return p // p[0] is the leading status byte, left 0 (success)
}

func opcodeOf(raw []byte) Opcode {
	return Opcode(binary.LittleEndian.Uint16(raw[1:3]))
}

func newTestLoop(t *testing.T, ft *fakeTransport) *Loop {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return New(ft, 1, log.WithField("test", t.Name()))
}

// runHandshake answers the Reset/Read Buffer Size pair Run issues on
// startup, then hands control of ft.cmdc to respond, a function the test
// calls for every subsequent command it expects to see.
func runHandshake(t *testing.T, ft *fakeTransport, respond func(raw []byte)) {
	t.Helper()
	go func() {
		raw := <-ft.cmdc
		if opcodeOf(raw) != OpReset {
			t.Errorf("expected Reset first, got opcode 0x%04X", opcodeOf(raw))
		}
		ft.eventc <- commandCompleteEvent(OpReset, 0x00)

		raw = <-ft.cmdc
		if opcodeOf(raw) != OpReadBufferSize {
			t.Errorf("expected Read Buffer Size second, got opcode 0x%04X", opcodeOf(raw))
		}
		params := readBufferSizeParams(8)
		ft.eventc <- commandCompleteEvent(OpReadBufferSize, params...)

		for {
			raw, ok := <-ft.cmdc
			if !ok {
				return
			}
			respond(raw)
		}
	}()
}

// TestCallOrdering checks that a second Call's wire transmission happens
// only after the first Call's CommandComplete has been delivered -- the
// quota-1 outstanding-command discipline.
func TestCallOrdering(t *testing.T) {
	ft := newFakeTransport()
	l := newTestLoop(t, ft)

	order := make(chan Opcode, 2)
	runHandshake(t, ft, func(raw []byte) {
		op := opcodeOf(raw)
		order <- op
		switch op {
		case OpReadBDADDR:
			ft.eventc <- commandCompleteEvent(op, 0x00, 1, 2, 3, 4, 5, 6)
		default:
			ft.eventc <- commandCompleteEvent(op, 0x00)
		}
	})
	go l.Run()

	done1 := make(chan struct{})
	go func() {
		l.Call(OpReadBDADDR, nil)
		close(done1)
	}()
	select {
	case <-done1:
	case <-time.After(2 * time.Second):
		t.Fatal("first call never completed")
	}

	done2 := make(chan struct{})
	go func() {
		l.Call(OpReadLocalVersionInformation, nil)
		close(done2)
	}()
	select {
	case <-done2:
	case <-time.After(2 * time.Second):
		t.Fatal("second call never completed")
	}

	if a, b := <-order, <-order; a != OpReadBDADDR || b != OpReadLocalVersionInformation {
		t.Fatalf("commands observed out of order: %s then %s", a, b)
	}
}

// TestControllerErrorStatus checks a non-zero status byte surfaces as
// ControllerError.
func TestControllerErrorStatus(t *testing.T) {
	ft := newFakeTransport()
	l := newTestLoop(t, ft)

	runHandshake(t, ft, func(raw []byte) {
		ft.eventc <- commandCompleteEvent(opcodeOf(raw), 0x0C) // Command Disallowed
	})
	go l.Run()

	_, err := l.Call(OpReadBDADDR, nil)
	cerr, ok := err.(*ControllerError)
	if !ok {
		t.Fatalf("expected *ControllerError, got %v (%T)", err, err)
	}
	if cerr.Status != 0x0C {
		t.Fatalf("expected status 0x0C, got 0x%02X", cerr.Status)
	}
}

// TestShutdownUnblocksPendingCallers checks that Shutdown resolves an
// in-flight Call with ErrEventLoopClosed rather than hanging forever.
func TestShutdownUnblocksPendingCallers(t *testing.T) {
	ft := newFakeTransport()
	l := newTestLoop(t, ft)

	runHandshake(t, ft, func(raw []byte) {
		// Never answer OpReadBDADDR -- the caller is unblocked by Shutdown.
	})
	go l.Run()

	errc := make(chan error, 1)
	go func() {
		_, err := l.Call(OpReadBDADDR, nil)
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	go l.Shutdown()

	select {
	case err := <-errc:
		if err != ErrEventLoopClosed {
			t.Fatalf("expected ErrEventLoopClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never unblocked pending caller")
	}
}

// TestACLOutflowCredit checks that an ACL PDU sent while the handshake's
// credit of 8 packets is available reaches the transport as one fragment.
// It does not exhaust the credit or exercise NumberOfCompletedPackets
// replenishment.
func TestACLOutflowCredit(t *testing.T) {
	ft := newFakeTransport()
	ft.mtu = 4 + 8 // header + 8 bytes payload per fragment
	l := newTestLoop(t, ft)

	runHandshake(t, ft, func(raw []byte) {})
	go l.Run()

	time.Sleep(20 * time.Millisecond) // allow handshake to complete

	handle := uint16(0x0001)
	l.SendACL(handle, make([]byte, 8)) // within credit (8 tokens)

	select {
	case <-ft.aclOut:
	case <-time.After(time.Second):
		t.Fatal("ACL fragment never reached the transport")
	}
}

// TestFirmwareLoaderRunsAfterResetBeforeReadBufferSize checks the
// installed FirmwareLoader fires exactly once, after Reset's
// CommandComplete and before the Read Buffer Size command is sent.
func TestFirmwareLoaderRunsAfterResetBeforeReadBufferSize(t *testing.T) {
	ft := newFakeTransport()
	l := newTestLoop(t, ft)

	order := make(chan string, 2)
	l.SetFirmwareLoader(func(ctx context.Context) error {
		order <- "firmware"
		return nil
	})

	go func() {
		raw := <-ft.cmdc
		if opcodeOf(raw) != OpReset {
			t.Errorf("expected Reset first, got opcode 0x%04X", opcodeOf(raw))
		}
		ft.eventc <- commandCompleteEvent(OpReset, 0x00)

		raw = <-ft.cmdc
		order <- "read_buffer_size"
		if opcodeOf(raw) != OpReadBufferSize {
			t.Errorf("expected Read Buffer Size after firmware load, got opcode 0x%04X", opcodeOf(raw))
		}
		ft.eventc <- commandCompleteEvent(OpReadBufferSize, readBufferSizeParams(8)...)
	}()

	go l.Run()

	first := <-order
	second := <-order
	if first != "firmware" || second != "read_buffer_size" {
		t.Fatalf("expected firmware load before Read Buffer Size, got %q then %q", first, second)
	}
}

// TestFirmwareLoaderErrorFailsRun checks a failing FirmwareLoader aborts
// startup before the Read Buffer Size handshake step.
func TestFirmwareLoaderErrorFailsRun(t *testing.T) {
	ft := newFakeTransport()
	l := newTestLoop(t, ft)

	loadErr := errors.New("boom")
	l.SetFirmwareLoader(func(ctx context.Context) error { return loadErr })

	go func() {
		raw := <-ft.cmdc
		if opcodeOf(raw) != OpReset {
			t.Errorf("expected Reset, got opcode 0x%04X", opcodeOf(raw))
		}
		ft.eventc <- commandCompleteEvent(OpReset, 0x00)
	}()

	errc := make(chan error, 1)
	go func() { errc <- l.Run() }()

	select {
	case err := <-errc:
		if !errors.Is(err, loadErr) {
			t.Fatalf("expected %v, got %v", loadErr, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after firmware loader error")
	}

	select {
	case raw := <-ft.cmdc:
		t.Fatalf("unexpected command sent after firmware load failure: opcode 0x%04X", opcodeOf(raw))
	default:
	}
}
