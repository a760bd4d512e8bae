package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/audio"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/stream"
)

type PlayCmd struct {
	Interface uint8         `help:"Output interface; the first one when unset."`
	Rate      uint32        `help:"Sample rate to switch the engine to."`
	Frequency float64       `help:"Tone frequency in Hz." default:"440"`
	Gain      float64       `help:"Tone amplitude, 0 to 1." default:"0.25"`
	Duration  time.Duration `help:"Stop after this long; zero plays until interrupted." default:"5s"`
	Lead      time.Duration `help:"How far ahead of the hardware the tone is written." default:"40ms"`
}

func (c *PlayCmd) Run(g *Globals, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if c.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Duration)
		defer cancel()
	}

	s, err := g.open(logger)
	if err != nil {
		return err
	}
	defer s.Close()
	index, iface, err := pickStream(s.driver, c.Interface, descriptors.DirectionOut)
	if err != nil {
		return err
	}
	if c.Rate != 0 {
		if err := s.driver.ChangeRate(index, c.Rate); err != nil {
			return err
		}
	}
	st, err := s.driver.Stream(iface)
	if err != nil {
		return err
	}
	done := s.run(ctx, logger)
	t := newTone(c.Frequency, st.Config().SampleRate, c.Gain)
	lead := int64(c.Lead.Seconds() * float64(st.Config().SampleRate))
	// prime the ring before the first list is queued
	write := c.fill(st, t, 0, lead)
	if err := s.driver.StartEngine(index); err != nil {
		return err
	}
	defer s.driver.StopEngine(index)
	logger.Info("playing", "interface", iface, "rate", st.Config().SampleRate, "frequency", c.Frequency)

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			stop()
			<-done
			return nil
		case <-tick.C:
		}
		head, _ := streamFrame(st)
		if write < head {
			logger.Warn("output underrun", "frames", head-write)
			write = head
		}
		write = c.fill(st, t, write, head+lead)
	}
}

// fill writes the tone into the ring from frame from up to frame to and returns where it
// stopped.
func (c *PlayCmd) fill(st *stream.Stream, t *tone, from, to int64) int64 {
	ch := st.Config().Format.Channels
	_, ringFrames := streamFrame(st)
	buf := audio.Float32Buffer{Format: &audio.Format{NumChannels: ch, SampleRate: int(st.Config().SampleRate)}}
	for from < to {
		n := int(min(to-from, 1024))
		buf.Data = t.fill(buf.Data, n, ch)
		if err := st.ClipOutputSamples(&buf, int(from%int64(ringFrames)), n); err != nil {
			return from
		}
		from += int64(n)
	}
	return from
}
