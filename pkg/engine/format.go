package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kevmo314/go-uac/pkg/topology"
)

type change struct {
	m      *Member
	alt    uint8
	format Format
	path   topology.Path
}

func (c *Coordinator) plan(e *Engine, m *Member, f Format) (change, error) {
	alt, err := c.resolver.FindAltSetting(m.Interface, f.Channels, f.BitDepth, f.Rate)
	if err != nil {
		return change{}, err
	}
	ch := change{m: m, alt: alt, format: f}
	if c.uac2() {
		if ch.path, err = c.clockPathFor(e, m, alt, f.Rate); err != nil {
			return change{}, err
		}
	}
	return ch, nil
}

// ChangeFormat moves one stream to a new format. On a single-rate engine every other member
// follows the new rate at its current channel count and bit depth, and the change is rejected
// when one cannot. A rate the stream cannot run at its current channels and bit depth moves
// the other members instead; when none of them can either, the engine returns to its default
// formats and the change is rejected. Otherwise the engine stays on its previous format when
// the change fails.
func (c *Coordinator) ChangeFormat(iface uint8, f Format) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, m := c.find(iface)
	if m == nil {
		return fmt.Errorf("%w: interface %d is not streaming", ErrFormatChangeRejected, iface)
	}
	if f.Channels == 0 {
		f.Channels = m.Format.Channels
	}
	if f.BitDepth == 0 {
		f.BitDepth = m.Format.BitDepth
	}
	if f.Rate == 0 {
		f.Rate = m.Format.Rate
	}

	requested, err := c.plan(e, m, f)
	if err != nil {
		rateOnly := f.Channels == m.Format.Channels && f.BitDepth == m.Format.BitDepth
		if rateOnly && !e.SingleRate && len(e.Members) > 1 {
			return c.matchOthers(e, m, f.Rate, err)
		}
		return fmt.Errorf("%w: %w", ErrFormatChangeRejected, err)
	}
	plan := []change{requested}
	if e.SingleRate {
		for _, o := range e.Members {
			if o == m || o.Format.Rate == f.Rate {
				continue
			}
			follow, err := c.plan(e, o, Format{Channels: o.Format.Channels, BitDepth: o.Format.BitDepth, Rate: f.Rate})
			if err != nil {
				return fmt.Errorf("%w: interface %d cannot follow %d Hz: %w", ErrFormatChangeRejected, o.Interface, f.Rate, err)
			}
			plan = append(plan, follow)
		}
	}
	return c.execute(e, plan)
}

// matchOthers moves the members other than m to rate.
func (c *Coordinator) matchOthers(e *Engine, m *Member, rate uint32, cause error) error {
	var plan []change
	for _, o := range e.Members {
		if o == m || o.Format.Rate == rate {
			continue
		}
		if ch, err := c.plan(e, o, Format{Channels: o.Format.Channels, BitDepth: o.Format.BitDepth, Rate: rate}); err == nil {
			plan = append(plan, ch)
		}
	}
	if len(plan) == 0 {
		c.logger.Warn("no stream runs at rate, restoring defaults", "engine", e.Index, "rate", rate)
		rejected := fmt.Errorf("%w: %d Hz: %w", ErrFormatChangeRejected, rate, cause)
		if err := c.restoreDefaults(e); err != nil {
			return errors.Join(rejected, err)
		}
		return rejected
	}
	c.logger.Info("other streams follow rate", "engine", e.Index, "interface", m.Interface, "rate", rate)
	return c.execute(e, plan)
}

// ChangeRate moves a whole engine to a rate. Members that cannot run the rate at their
// current format keep theirs; when none can, every member returns to its default format and
// the change is rejected.
func (c *Coordinator) ChangeRate(index int, rate uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.engines) {
		return fmt.Errorf("%w: no engine %d", ErrFormatChangeRejected, index)
	}
	return c.changeRateLocked(c.engines[index], rate)
}

func (c *Coordinator) changeRateLocked(e *Engine, rate uint32) error {
	var (
		plan   []change
		failed []uint8
	)
	for _, m := range e.Members {
		ch, err := c.plan(e, m, Format{Channels: m.Format.Channels, BitDepth: m.Format.BitDepth, Rate: rate})
		if err != nil {
			failed = append(failed, m.Interface)
			continue
		}
		if m.Format.Rate != rate || !slices.Equal(ch.path, m.ClockPath) {
			plan = append(plan, ch)
		}
	}
	if len(failed) == len(e.Members) {
		c.logger.Warn("no stream runs at rate, restoring defaults", "engine", e.Index, "rate", rate)
		if err := c.restoreDefaults(e); err != nil {
			return errors.Join(fmt.Errorf("%w: %d Hz", ErrFormatChangeRejected, rate), err)
		}
		return fmt.Errorf("%w: %d Hz", ErrFormatChangeRejected, rate)
	}
	if len(failed) > 0 {
		c.logger.Info("streams keep their rate", "engine", e.Index, "interfaces", failed, "rate", rate)
	}
	if len(plan) == 0 {
		return nil
	}
	return c.execute(e, plan)
}

func (c *Coordinator) restoreDefaults(e *Engine) error {
	var plan []change
	for _, m := range e.Members {
		alt, rate, err := c.resolver.DefaultSampleRate(m.Interface)
		if err != nil {
			return err
		}
		a := c.model.AltSetting(m.Interface, alt)
		ch, err := c.plan(e, m, Format{Channels: a.Channels, BitDepth: a.BitDepth, Rate: rate})
		if err != nil {
			return err
		}
		plan = append(plan, ch)
	}
	return c.execute(e, plan)
}

// execute applies a plan with the engine's I/O locked. A failed step rolls back the steps
// already applied.
func (c *Coordinator) execute(e *Engine, plan []change) error {
	if c.hooks.Lock != nil {
		if err := c.hooks.Lock(e); err != nil {
			return fmt.Errorf("%w: %w", ErrFormatChangeRejected, err)
		}
	}
	var (
		done []change
		err  error
	)
	for _, ch := range plan {
		prev := change{m: ch.m, alt: ch.m.Alt, format: ch.m.Format, path: ch.m.ClockPath}
		if err = c.apply(ch.m, ch); err != nil {
			err = fmt.Errorf("%w: interface %d: %w", ErrFormatChangeRejected, ch.m.Interface, err)
			break
		}
		done = append(done, prev)
	}
	if err != nil {
		for i := len(done) - 1; i >= 0; i-- {
			if rerr := c.apply(done[i].m, done[i]); rerr != nil {
				c.logger.Error("format rollback failed", "interface", done[i].m.Interface, "error", rerr)
			}
		}
		done = nil
	}
	c.correct(e)

	changed := make([]*Member, 0, len(done))
	for _, d := range done {
		changed = append(changed, d.m)
	}
	if c.hooks.Unlock != nil {
		if uerr := c.hooks.Unlock(e, changed); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}
	if err == nil {
		c.logger.Info("format changed", "engine", e.Index, "rate", e.Master.Format.Rate, "changed", len(changed))
		if c.hooks.RatesChanged != nil {
			c.hooks.RatesChanged(e)
		}
	}
	return err
}
