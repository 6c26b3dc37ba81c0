package hci

import "github.com/btsinkd/btsinkd/internal/btsnoop"

// SetCapture installs w as a passive tap receiving a copy of every
// outbound command, inbound event, and ACL frame in both directions. Call
// before Run; pass nil to disable (the default).
func (l *Loop) SetCapture(w *btsnoop.Writer) {
	l.capture = w
}
