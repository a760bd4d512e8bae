package main

import (
	"fmt"
	"log/slog"

	usb "github.com/kevmo314/go-usb"

	"github.com/kevmo314/go-uac/pkg/descriptors"
)

type ListCmd struct {
	All bool `help:"Also list devices without an audio function."`
}

func (c *ListCmd) Run(logger *slog.Logger) error {
	devices, err := usb.DeviceList()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	found := 0
	for _, dev := range devices {
		protocol, audio := c.audioProtocol(dev, logger)
		if !audio && !c.All {
			continue
		}
		found++
		fmt.Printf("%s  %04x:%04x", dev.Path, dev.Descriptor.VendorID, dev.Descriptor.ProductID)
		if dev.SysfsStrings != nil {
			fmt.Printf("  %s %s", dev.SysfsStrings.Manufacturer, dev.SysfsStrings.Product)
		}
		if audio {
			fmt.Printf("  [%s]", protocol)
		}
		fmt.Println()
	}
	if found == 0 {
		fmt.Println("no audio devices found")
	}
	return nil
}

// audioProtocol reports the protocol of the first AudioControl interface of a device.
func (c *ListCmd) audioProtocol(dev *usb.Device, logger *slog.Logger) (descriptors.Protocol, bool) {
	handle, err := dev.Open()
	if err != nil {
		logger.Debug("device not opened", "path", dev.Path, "error", err)
		return 0, false
	}
	defer handle.Close()
	cfg, err := handle.GetActiveConfigDescriptor()
	if err != nil {
		logger.Debug("no active configuration", "path", dev.Path, "error", err)
		return 0, false
	}
	for _, iface := range cfg.Interfaces {
		for _, alt := range iface.AltSettings {
			if descriptors.ClassCode(alt.InterfaceClass) == descriptors.ClassCodeAudio &&
				descriptors.SubclassCode(alt.InterfaceSubClass) == descriptors.SubclassCodeAudioControl {
				return descriptors.Protocol(alt.InterfaceProtocol), true
			}
		}
	}
	return 0, false
}
