package hci

import "context"

// FirmwareLoader patches the controller with vendor firmware (e.g. a
// RealTek RTL8761-style loader). It is an external collaborator: this
// package only guarantees to call it once, after Reset has completed and
// before the Read Buffer Size handshake, and to fail Run if it errors.
type FirmwareLoader func(ctx context.Context) error

// SetFirmwareLoader installs fn to run once Reset completes, before the
// rest of Run's startup handshake. Call before Run; a nil loader (the
// default) skips this step entirely.
func (l *Loop) SetFirmwareLoader(fn FirmwareLoader) {
	l.firmware = fn
}
