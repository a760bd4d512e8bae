package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/topology"
)

// ClockOption is one input of a clock selector.
type ClockOption struct {
	Pin uint8
	// Source is the clock source the input leads to.
	Source uint8
	Name   string
	Valid  bool
}

// ClockSelector is a clock selector on an engine's active clock path.
type ClockSelector struct {
	Unit    uint8
	Engine  int
	Current uint8
	Options []ClockOption
}

// Restore asks for a clock selector control to be shown on pin again.
type Restore struct {
	Selector uint8
	Pin      uint8
}

// through returns the clock path of m that follows prefix and continues into next.
func (c *Coordinator) through(m *Member, prefix topology.Path, next uint8) topology.Path {
	a := c.model.AltSetting(m.Interface, m.Alt)
	if a == nil {
		return nil
	}
	for _, p := range c.graph.ClockPaths(c.model.TerminalClock(a.TerminalLink)) {
		if len(p) > len(prefix) && slices.Equal(p[:len(prefix)], prefix) && p[len(prefix)] == next {
			return p
		}
	}
	return nil
}

// pin is the selector input a path runs through, 0 when the path does not contain it.
func (c *Coordinator) pin(p topology.Path, selector uint8) uint8 {
	i := slices.Index(p, selector)
	if i < 0 || i+1 >= len(p) {
		return 0
	}
	return uint8(slices.Index(c.model.ClockSelectorSources(selector), p[i+1]) + 1)
}

// sourceName names a clock source by its string descriptor, or by its type: internal clocks
// are the device, an external clock locked to a USB streaming terminal follows the host, any
// other external clock is named after its terminal.
func (c *Coordinator) sourceName(id uint8) string {
	if idx := c.model.StringIndex(id); idx != 0 && c.strings != nil {
		if s, err := c.strings(idx); err == nil && s != "" {
			return s
		}
	}
	if c.model.ClockSourceClockType(id).Internal() {
		return "Device"
	}
	assoc := c.model.ClockSourceAssocTerminal(id)
	switch t := c.model.TerminalType(assoc); {
	case assoc == 0 || t == 0:
		return "External"
	case t == descriptors.TerminalTypeUSBStreaming:
		return "Mac Sync"
	default:
		return t.String()
	}
}

// ClockSelectors lists the clock selectors on the active clock paths of every engine.
func (c *Coordinator) ClockSelectors() []ClockSelector {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ClockSelector
	seen := map[uint8]bool{}
	for _, e := range c.engines {
		for _, m := range e.Members {
			for i, id := range m.ClockPath {
				if c.model.SubType(id) != descriptors.UnitKindClockSelector || seen[id] {
					continue
				}
				seen[id] = true
				sel := ClockSelector{Unit: id, Engine: e.Index, Current: c.pin(m.ClockPath, id)}
				for n, src := range c.model.ClockSelectorSources(id) {
					p := c.through(m, m.ClockPath[:i+1], src)
					if p == nil {
						continue
					}
					valid, err := c.resolver.ClockPathValid(p)
					sel.Options = append(sel.Options, ClockOption{
						Pin:    uint8(n + 1),
						Source: p.Last(),
						Name:   c.sourceName(p.Last()),
						Valid:  err == nil && valid,
					})
				}
				out = append(out, sel)
			}
		}
	}
	return out
}

func (c *Coordinator) scheduleRestore(selector, pin uint8) {
	c.restores = append(c.restores, Restore{Selector: selector, Pin: pin})
}

// FlushRestores hands the scheduled selector restores to the RestoreSelector hook. The
// polled task calls it every period.
func (c *Coordinator) FlushRestores() []Restore {
	c.mu.Lock()
	restores := c.restores
	c.restores = nil
	c.mu.Unlock()
	for _, r := range restores {
		if c.hooks.RestoreSelector != nil {
			c.hooks.RestoreSelector(r.Selector, r.Pin)
		}
	}
	return restores
}

// SelectClockSource switches a clock selector to pin. The new source must report a valid
// clock; the old path is then aligned to the new rate so a slaved device can re-lock, and the
// engine changes to the new rate. When the switch is refused or fails the selector control is
// scheduled to go back to its old pin.
func (c *Coordinator) SelectClockSource(selector, pin uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.engines {
		if c.pin(e.Master.ClockPath, selector) != 0 {
			return c.selectLocked(e, selector, pin)
		}
	}
	return fmt.Errorf("clock selector %d is not on an active clock path", selector)
}

func (c *Coordinator) selectLocked(e *Engine, selector, pin uint8) error {
	ref := e.Master
	oldPath := ref.ClockPath
	oldPin := c.pin(oldPath, selector)
	if pin == oldPin {
		return nil
	}
	sources := c.model.ClockSelectorSources(selector)
	if pin < 1 || int(pin) > len(sources) {
		return fmt.Errorf("clock selector %d has no pin %d", selector, pin)
	}
	prefix := oldPath[:slices.Index(oldPath, selector)+1]
	newPath := c.through(ref, prefix, sources[pin-1])
	if newPath == nil {
		return fmt.Errorf("clock selector %d pin %d leads to no clock source", selector, pin)
	}

	valid, err := c.resolver.ClockPathValid(newPath)
	if err != nil || !valid {
		c.scheduleRestore(selector, oldPin)
		c.logger.Info("clock source refused", "selector", selector, "pin", pin, "error", err)
		return errors.Join(fmt.Errorf("%w: clock source %d", ErrClockInvalid, newPath.Last()), err)
	}
	rate, err := c.resolver.ClockPathRate(newPath)
	if err != nil {
		c.scheduleRestore(selector, oldPin)
		return err
	}
	oldRate := ref.Format.Rate

	if err := c.resolver.SetClockPathRate(oldPath, rate, false); err != nil {
		c.logger.Debug("old clock path not aligned", "path", oldPath, "rate", rate, "error", err)
	}
	c.resolver.Refresh()

	type saved struct {
		m    *Member
		path topology.Path
	}
	var prev []saved
	for _, m := range e.Members {
		if c.pin(m.ClockPath, selector) == 0 {
			continue
		}
		p := c.through(m, prefix, sources[pin-1])
		if p == nil {
			continue
		}
		prev = append(prev, saved{m, m.ClockPath})
		m.ClockPath = p
	}

	err = c.resolver.SetClockPathRate(newPath, rate, true)
	if err == nil {
		for _, s := range prev {
			c.resolver.SetActiveClockPath(s.m.Interface, s.m.ClockPath)
		}
		err = c.changeRateLocked(e, rate)
	}
	if err != nil {
		for _, s := range prev {
			s.m.ClockPath = s.path
			c.resolver.SetActiveClockPath(s.m.Interface, s.path)
		}
		if rerr := c.resolver.SetClockPathRate(oldPath, oldRate, false); rerr != nil {
			c.logger.Error("clock path revert failed", "path", oldPath, "error", rerr)
		}
		c.resolver.Refresh()
		c.scheduleRestore(selector, oldPin)
		return err
	}
	c.logger.Info("clock source switched", "selector", selector, "pin", pin, "source", newPath.Last(), "rate", rate)
	if c.hooks.RatesChanged != nil {
		c.hooks.RatesChanged(e)
	}
	return nil
}

// PollClockValidity checks the clock source of every engine. An engine that lost its clock
// moves to the first valid input of a selector on its path; when there is none the selector
// control is scheduled to be restored and ErrClockInvalid is reported.
func (c *Coordinator) PollClockValidity() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, e := range c.engines {
		path := e.Master.ClockPath
		if path == nil {
			continue
		}
		valid, err := c.resolver.ClockPathValid(path)
		if err != nil || valid {
			continue
		}
		c.logger.Warn("clock source lost", "engine", e.Index, "source", path.Last())
		c.resolver.Refresh()
		switched := false
		var selector uint8
		for _, id := range path {
			if c.model.SubType(id) != descriptors.UnitKindClockSelector {
				continue
			}
			selector = id
			for n := range c.model.ClockSelectorSources(id) {
				pin := uint8(n + 1)
				if pin == c.pin(path, id) {
					continue
				}
				if c.selectLocked(e, id, pin) == nil {
					switched = true
					break
				}
			}
			break
		}
		if switched {
			continue
		}
		if selector != 0 {
			c.scheduleRestore(selector, c.pin(path, selector))
		}
		if c.hooks.RatesChanged != nil {
			c.hooks.RatesChanged(e)
		}
		errs = append(errs, fmt.Errorf("%w: engine %d source %d", ErrClockInvalid, e.Index, path.Last()))
	}
	return errors.Join(errs...)
}
