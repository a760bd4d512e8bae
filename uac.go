//go:build !windows

package uac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	usb "github.com/kevmo314/go-usb"
	"github.com/kevmo314/go-uac/pkg/controls"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/engine"
	"github.com/kevmo314/go-uac/pkg/stream"
)

const controlTimeout = time.Second

type UACDevice struct {
	handle *usb.DeviceHandle
	closed *atomic.Bool
	frames *hostFrames
	logger *slog.Logger
}

func (d *UACDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.handle.Close()
}

// SetLogger sets the logger of the pipes opened on the device.
func (d *UACDevice) SetLogger(l *slog.Logger) {
	d.logger = l
}

func (d *UACDevice) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = controlTimeout
	}
	return d.handle.ControlTransfer(requestType, request, value, index, data, timeout)
}

func (d *UACDevice) SetInterfaceAltSetting(iface, alt uint8) error {
	return d.handle.SetInterfaceAltSetting(iface, alt)
}

// FrameNumber counts 1 ms frames since the device was opened. usbfs does not expose the
// controller's frame counter.
func (d *UACDevice) FrameNumber() (uint64, error) {
	return d.frames.FrameNumber()
}

func (d *UACDevice) StringDescriptor(index uint8) (string, error) {
	return d.handle.StringDescriptor(index)
}

func (d *UACDevice) IsochronousPipe(ep *descriptors.Endpoint) (stream.Pipe, error) {
	if ep == nil {
		return nil, fmt.Errorf("no endpoint")
	}
	return newIsoPipe(d.handle, ep.Address, d.frames, d.logger), nil
}

func (d *UACDevice) StatusPipe(address uint8) (controls.StatusPipe, error) {
	return &interruptPipe{handle: d.handle, endpoint: address, poll: 100 * time.Millisecond}, nil
}

// DeviceInfo is what attaching needs to know about the device.
type DeviceInfo struct {
	VendorID  uint16
	ProductID uint16
	Identity  engine.Identity
	// Interfaces are the interface descriptors of the active configuration.
	Interfaces []descriptors.InterfaceDesc
}

func (d *UACDevice) DeviceInfo() (*DeviceInfo, error) {
	configDesc, err := d.handle.GetActiveConfigDescriptor()
	if err != nil {
		return nil, fmt.Errorf("failed to get config descriptor: %w", err)
	}
	desc := d.handle.Descriptor()
	info := &DeviceInfo{
		VendorID:   desc.VendorID,
		ProductID:  desc.ProductID,
		Interfaces: interfaceDescs(configDesc),
		Identity: engine.Identity{
			Vendor:  fmt.Sprintf("%04x", desc.VendorID),
			Product: fmt.Sprintf("%04x", desc.ProductID),
		},
	}
	str := func(idx uint8) string {
		if idx == 0 {
			return ""
		}
		s, err := d.handle.StringDescriptor(idx)
		if err != nil {
			return ""
		}
		return s
	}
	if s := str(desc.ManufacturerIndex); s != "" {
		info.Identity.Vendor = s
	}
	if s := str(desc.ProductIndex); s != "" {
		info.Identity.Product = s
	}
	info.Identity.Serial = str(desc.SerialNumberIndex)
	if dev := d.handle.Device(); dev != nil {
		info.Identity.Location = fmt.Sprintf("%d-%d", dev.Bus, dev.Address)
	}
	return info, nil
}

// interfaceDescs converts the parsed configuration of go-usb into descriptor model input.
func interfaceDescs(c *usb.ConfigDescriptor) []descriptors.InterfaceDesc {
	var out []descriptors.InterfaceDesc
	for _, iface := range c.Interfaces {
		for _, alt := range iface.AltSettings {
			d := descriptors.InterfaceDesc{
				Number:           alt.InterfaceNumber,
				AlternateSetting: alt.AlternateSetting,
				Class:            descriptors.ClassCode(alt.InterfaceClass),
				SubClass:         descriptors.SubclassCode(alt.InterfaceSubClass),
				Protocol:         descriptors.Protocol(alt.InterfaceProtocol),
				StringIndex:      alt.InterfaceIndex,
				Extra:            alt.Extra,
			}
			for _, ep := range alt.Endpoints {
				d.Endpoints = append(d.Endpoints, descriptors.EndpointDesc{
					Address:       ep.EndpointAddr,
					Attributes:    ep.Attributes,
					MaxPacketSize: ep.MaxPacketSize,
					Interval:      ep.Interval,
					Extra:         ep.Extra,
				})
			}
			out = append(out, d)
		}
	}
	return out
}

// Claim detaches kernel drivers from the audio interfaces and claims them.
func (d *UACDevice) Claim(ifaces []descriptors.InterfaceDesc) error {
	seen := map[uint8]bool{}
	for _, i := range ifaces {
		if i.Class != descriptors.ClassCodeAudio || seen[i.Number] {
			continue
		}
		seen[i.Number] = true
		_ = d.handle.DetachKernelDriver(i.Number)
		if err := d.handle.ClaimInterface(i.Number); err != nil {
			return fmt.Errorf("claim interface %d: %w", i.Number, err)
		}
	}
	return nil
}

// Attach claims the audio interfaces and attaches a driver to them.
func (d *UACDevice) Attach(opts ...Option) (*Driver, error) {
	info, err := d.DeviceInfo()
	if err != nil {
		return nil, err
	}
	if err := d.Claim(info.Interfaces); err != nil {
		return nil, err
	}
	model, err := descriptors.NewModel(info.Interfaces)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAudioFunction, err)
	}
	opts = append([]Option{WithDevice(info.VendorID, info.ProductID), WithIdentity(info.Identity)}, opts...)
	return Attach(d, model, opts...)
}

// interruptPipe polls the status endpoint so that a cancelled context is noticed.
type interruptPipe struct {
	handle   *usb.DeviceHandle
	endpoint uint8
	poll     time.Duration
}

func (p *interruptPipe) Read(ctx context.Context, buf []byte) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := p.handle.InterruptTransfer(p.endpoint, buf, p.poll)
		if errors.Is(err, usb.ErrTimeout) || errors.Is(err, syscall.ETIMEDOUT) {
			continue
		}
		if errors.Is(err, syscall.EPIPE) {
			return n, fmt.Errorf("endpoint %#02x: %w", p.endpoint, stream.ErrPipeStalled)
		}
		return n, err
	}
}

func (p *interruptPipe) ClearHalt() error {
	return p.handle.ClearHalt(p.endpoint)
}
