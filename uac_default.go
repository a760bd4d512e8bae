//go:build !windows

package uac

import (
	"log/slog"
	"sync/atomic"
	"time"

	usb "github.com/kevmo314/go-usb"
)

// NewUACDevice wraps an open usbfs file descriptor, such as one handed over by Android's
// UsbDeviceConnection.
func NewUACDevice(fd uintptr) (*UACDevice, error) {
	dev := &UACDevice{closed: &atomic.Bool{}, frames: newHostFrames(time.Millisecond), logger: slog.Default()}

	handle, err := usb.WrapSysDevice(int(fd))
	if err != nil {
		return nil, err
	}
	dev.handle = handle

	return dev, nil
}

// OpenUACDevice opens the first device with the given vendor and product id.
func OpenUACDevice(vid, pid uint16) (*UACDevice, error) {
	handle, err := usb.OpenDevice(vid, pid)
	if err != nil {
		return nil, err
	}
	return &UACDevice{handle: handle, closed: &atomic.Bool{}, frames: newHostFrames(time.Millisecond), logger: slog.Default()}, nil
}
