package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	uac "github.com/kevmo314/go-uac"
	"github.com/kevmo314/go-uac/internal/config"
)

type logFlags struct {
	Level string `help:"Log level: trace, debug, info, warn or error." default:"info" env:"UAC_LOG_LEVEL"`
	File  string `help:"Log to this file; stderr then only carries errors." type:"path" env:"UAC_LOG_FILE"`
}

// Globals are shared by every command.
type Globals struct {
	Config  string          `help:"Configuration file (yaml or toml)." type:"path"`
	Log     logFlags        `embed:"" prefix:"log."`
	Device  string          `help:"usbfs device node, such as /dev/bus/usb/001/004." type:"path" env:"UAC_DEVICE"`
	Vendor  config.ID       `help:"Vendor id to open when no device node is given." env:"UAC_VENDOR"`
	Product config.ID       `help:"Product id to open when no device node is given." env:"UAC_PRODUCT"`
	Quirks  string          `help:"Quirk table (yaml or toml) merged over the built-in one." type:"path" env:"UAC_QUIRKS"`
	Tune    config.Tunables `embed:"" prefix:"tune."`
}

type CLI struct {
	Globals

	List    ListCmd    `cmd:"" help:"List USB devices with an audio function."`
	Inspect InspectCmd `cmd:"" help:"Print the topology, engines, formats and controls of a device."`
	Control ControlCmd `cmd:"" help:"Read or write a control."`
	Record  RecordCmd  `cmd:"" help:"Record an input stream to a wav file."`
	Play    PlayCmd    `cmd:"" help:"Play a test tone on an output stream."`
	Monitor MonitorCmd `cmd:"" help:"Show levels, spectrum and controls of a running device."`
}

// session is an attached device.
type session struct {
	dev    *uac.UACDevice
	driver *uac.Driver
	file   *os.File
}

func (s *session) Close() error {
	var errs []error
	if s.driver != nil {
		errs = append(errs, s.driver.Close())
	}
	errs = append(errs, s.dev.Close())
	if s.file != nil {
		errs = append(errs, s.file.Close())
	}
	return errors.Join(errs...)
}

func (g *Globals) open(logger *slog.Logger, opts ...uac.Option) (*session, error) {
	s := &session{}
	var err error
	switch {
	case g.Device != "":
		if s.file, err = os.OpenFile(g.Device, os.O_RDWR, 0); err != nil {
			return nil, err
		}
		s.dev, err = uac.NewUACDevice(s.file.Fd())
	case g.Vendor != 0:
		s.dev, err = uac.OpenUACDevice(uint16(g.Vendor), uint16(g.Product))
	default:
		return nil, errors.New("no device: pass --device or --vendor and --product")
	}
	if err != nil {
		if s.file != nil {
			_ = s.file.Close()
		}
		return nil, fmt.Errorf("open device: %w", err)
	}
	s.dev.SetLogger(logger)

	quirks, err := config.LoadQuirks(g.Quirks)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	opts = append([]uac.Option{
		uac.WithLogger(logger),
		uac.WithTunables(g.Tune),
		uac.WithQuirks(quirks),
	}, opts...)
	if s.driver, err = s.dev.Attach(opts...); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// run serves the driver until ctx ends.
func (s *session) run(ctx context.Context, logger *slog.Logger) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := s.driver.Run(ctx)
		if err != nil {
			logger.Error("driver stopped", "error", err)
		}
		done <- err
	}()
	return done
}
