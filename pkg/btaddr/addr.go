// Package btaddr provides the durable device-address type used across the
// stack to key link keys and connection state.
package btaddr

import "fmt"

// Addr is a 6-byte Bluetooth BR/EDR device address as delivered by the
// controller in little-endian wire order.
type Addr [6]byte

// String renders the address reversed, as the spec requires:
// "XX:XX:XX:XX:XX:XX" most-significant byte first.
func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// FromWire copies a little-endian 6-byte BD_ADDR field into an Addr.
func FromWire(b []byte) (Addr, error) {
	var a Addr
	if len(b) < 6 {
		return a, fmt.Errorf("btaddr: short address %d bytes", len(b))
	}
	copy(a[:], b[:6])
	return a, nil
}

// PutWire writes the address back into its little-endian wire form.
func (a Addr) PutWire(b []byte) {
	copy(b, a[:])
}
