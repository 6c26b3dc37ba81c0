// Package hciusb implements the USB transport described in spec.md §6: it
// claims the Bluetooth HCI USB interface (class/subclass/protocol =
// 0xE0/0x01/0x01) and exposes the four queues the HCI event loop drives --
// interrupt-IN (events), bulk-IN (ACL in), bulk-OUT (ACL out), and
// control-OUT (commands).
package hciusb

import (
	"fmt"

	"github.com/google/gousb"
)

const (
	usbClassWireless  = 0xE0
	usbSubclassRFComm = 0x01
	usbProtocolHCI    = 0x01

	// hciCommandRequest is the bRequest value used to send HCI commands over
	// the control endpoint (spec.md §6): request 0x00, value 0, index =
	// interface number; SendCommand builds the class/interface bmRequestType.
	hciCommandRequest = 0x00
)

// Transport is what internal/hci needs from the link: a command sink, an
// event source, and an ACL in/out pair. It is satisfied by *Device and by
// fakes in tests.
type Transport interface {
	SendCommand(b []byte) error
	ReadEvent(buf []byte) (int, error)
	ReadACL(buf []byte) (int, error)
	WriteACL(b []byte) (int, error)
	ACLMTU() int
	Close() error
}

// Device is the gousb-backed Transport implementation.
type Device struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	in      *gousb.InEndpoint  // interrupt IN: HCI events
	aclIn   *gousb.InEndpoint  // bulk IN: ACL data
	aclOut  *gousb.OutEndpoint // bulk OUT: ACL data
	ifaceNo int
}

// Open claims the first USB interface matching the Bluetooth HCI class
// triple on the device identified by vendor/product id.
func Open(vendor, product uint16) (*Device, error) {
	ctx := gousb.NewContext()

	vid, pid := gousb.ID(vendor), gousb.ID(product)
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("hciusb: open device %04x:%04x: %w", vendor, product, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("hciusb: no device matching %04x:%04x", vendor, product)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("hciusb: auto-detach kernel driver: %w", err)
	}

	cfgNum, ifaceNo, altNo, err := findHCIInterface(dev)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}

	cfg, err := dev.Config(cfgNum)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("hciusb: select config %d: %w", cfgNum, err)
	}
	intf, err := cfg.Interface(ifaceNo, altNo)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("hciusb: claim interface %d: %w", ifaceNo, err)
	}

	d := &Device{ctx: ctx, dev: dev, cfg: cfg, intf: intf, ifaceNo: ifaceNo}
	if err := d.bindEndpoints(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func findHCIInterface(dev *gousb.Device) (cfgNum, ifaceNo, altNo int, err error) {
	for _, cfg := range dev.Desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == usbClassWireless &&
					alt.SubClass == usbSubclassRFComm &&
					alt.Protocol == usbProtocolHCI {
					return cfg.Number, iface.Number, alt.Alternate, nil
				}
			}
		}
	}
	return 0, 0, 0, fmt.Errorf("hciusb: no interface with class/subclass/protocol 0xE0/0x01/0x01")
}

func (d *Device) bindEndpoints() error {
	for _, ep := range d.intf.Setting.Endpoints {
		switch {
		case ep.TransferType == gousb.TransferTypeInterrupt && ep.Direction == gousb.EndpointDirectionIn:
			in, err := d.intf.InEndpoint(ep.Number)
			if err != nil {
				return fmt.Errorf("hciusb: bind interrupt-IN: %w", err)
			}
			d.in = in
		case ep.TransferType == gousb.TransferTypeBulk && ep.Direction == gousb.EndpointDirectionIn:
			in, err := d.intf.InEndpoint(ep.Number)
			if err != nil {
				return fmt.Errorf("hciusb: bind bulk-IN: %w", err)
			}
			d.aclIn = in
		case ep.TransferType == gousb.TransferTypeBulk && ep.Direction == gousb.EndpointDirectionOut:
			out, err := d.intf.OutEndpoint(ep.Number)
			if err != nil {
				return fmt.Errorf("hciusb: bind bulk-OUT: %w", err)
			}
			d.aclOut = out
		}
	}
	if d.in == nil || d.aclIn == nil || d.aclOut == nil {
		return fmt.Errorf("hciusb: interface missing a required endpoint (interrupt-IN/bulk-IN/bulk-OUT)")
	}
	return nil
}

// SendCommand issues an HCI command over the control-OUT endpoint.
func (d *Device) SendCommand(b []byte) error {
	_, err := d.dev.Control(
		gousb.ControlOut|gousb.ControlClass|gousb.ControlInterface,
		hciCommandRequest, 0, uint16(d.ifaceNo), b,
	)
	if err != nil {
		return fmt.Errorf("hciusb: control transfer: %w", err)
	}
	return nil
}

// ReadEvent reads one HCI event frame from the interrupt-IN endpoint.
func (d *Device) ReadEvent(buf []byte) (int, error) { return d.in.Read(buf) }

// ReadACL reads one ACL fragment from the bulk-IN endpoint.
func (d *Device) ReadACL(buf []byte) (int, error) { return d.aclIn.Read(buf) }

// WriteACL writes one ACL fragment to the bulk-OUT endpoint.
func (d *Device) WriteACL(b []byte) (int, error) { return d.aclOut.Write(b) }

// ACLMTU is the endpoint's maximum packet size, used to size ACL fragments
// submitted to the controller.
func (d *Device) ACLMTU() int {
	if d.aclOut == nil {
		return 64
	}
	return d.aclOut.Desc.MaxPacketSize
}

// Close releases the interface and the USB context.
func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
	}
	if d.cfg != nil {
		d.cfg.Close()
	}
	if d.dev != nil {
		d.dev.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return nil
}
