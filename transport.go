package uac

import (
	"time"

	"github.com/kevmo314/go-uac/pkg/controls"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/stream"
	"github.com/kevmo314/go-uac/pkg/transfers"
)

// Transport is the USB device an audio function is attached on. *UACDevice implements it
// on go-usb.
type Transport interface {
	transfers.ControlTransferer
	SetInterfaceAltSetting(iface, alt uint8) error
	// FrameNumber is the frame counter of the bus the device is on.
	FrameNumber() (uint64, error)
	StringDescriptor(index uint8) (string, error)
	// IsochronousPipe opens a data or feedback endpoint.
	IsochronousPipe(ep *descriptors.Endpoint) (stream.Pipe, error)
	// StatusPipe opens the interrupt endpoint of the audio control interface.
	StatusPipe(address uint8) (controls.StatusPipe, error)
}

// hostFrames counts bus frames off the host monotonic clock for transports that cannot read
// the controller's frame counter.
type hostFrames struct {
	start  time.Time
	period time.Duration
}

func newHostFrames(period time.Duration) *hostFrames {
	if period <= 0 {
		period = time.Millisecond
	}
	return &hostFrames{start: time.Now(), period: period}
}

func (f *hostFrames) FrameNumber() (uint64, error) {
	return uint64(time.Since(f.start) / f.period), nil
}
