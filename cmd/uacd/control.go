package main

import (
	"fmt"
	"log/slog"

	"github.com/kevmo314/go-uac/pkg/controls"
)

type ControlCmd struct {
	Kind    string `arg:"" help:"Control kind: volume, mute or selector."`
	Unit    uint8  `arg:"" help:"Unit id."`
	Channel uint8  `help:"Channel, 0 for master." default:"0"`
	Set     bool   `help:"Write --value before reading the control back."`
	Value   int32  `help:"Value to write. Volume is 0 to the control's maximum; selector pins start at 1."`
}

var kinds = map[string]controls.Kind{
	"volume":   controls.KindVolume,
	"mute":     controls.KindMute,
	"selector": controls.KindSelector,
}

func (c *ControlCmd) Run(g *Globals, logger *slog.Logger) error {
	kind, ok := kinds[c.Kind]
	if !ok {
		return fmt.Errorf("unknown control kind %q", c.Kind)
	}
	s, err := g.open(logger)
	if err != nil {
		return err
	}
	defer s.Close()

	key := controls.Key{Kind: kind, Unit: c.Unit, Channel: c.Channel}
	if c.Set {
		if err := s.driver.SetControl(key, c.Value); err != nil {
			return err
		}
	}
	for _, ctl := range s.driver.Controls() {
		if ctl.Key == key {
			fmt.Printf("%s: %d\n", ctl.Key, ctl.Value)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", controls.ErrNoSuchControl, key)
}
