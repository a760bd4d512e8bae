package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/stream"
)

type RecordCmd struct {
	Output    string        `arg:"" help:"Wav file to write." type:"path"`
	Interface uint8         `help:"Input interface; the first one when unset."`
	Rate      uint32        `help:"Sample rate to switch the engine to."`
	Duration  time.Duration `help:"Stop after this long; zero records until interrupted." default:"10s"`
}

func (c *RecordCmd) Run(g *Globals, logger *slog.Logger) error {
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
	index, iface, err := pickStream(s.driver, c.Interface, descriptors.DirectionIn)
	if err != nil {
		return err
	}
	if c.Rate != 0 {
		if err := s.driver.ChangeRate(index, c.Rate); err != nil {
			return err
		}
	}
	done := s.run(ctx, logger)
	if err := s.driver.StartEngine(index); err != nil {
		return err
	}
	defer s.driver.StopEngine(index)

	st, err := s.driver.Stream(iface)
	if err != nil {
		return err
	}
	cfg := st.Config()
	f, err := os.Create(c.Output)
	if err != nil {
		return err
	}
	defer f.Close()
	bits := cfg.Format.BitDepth
	if bits == 0 || bits > 24 {
		bits = 24
	}
	enc := wav.NewEncoder(f, int(cfg.SampleRate), bits, cfg.Format.Channels, 1)
	logger.Info("recording", "interface", iface, "rate", cfg.SampleRate, "channels", cfg.Format.Channels, "bits", bits, "file", c.Output)

	frames, err := c.capture(ctx, st, enc, bits, logger)
	if cerr := enc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	logger.Info("recording finished", "frames", frames, "seconds", float64(frames)/float64(cfg.SampleRate))
	stop()
	<-done
	return err
}

func (c *RecordCmd) capture(ctx context.Context, st *stream.Stream, enc *wav.Encoder, bits int, logger *slog.Logger) (int64, error) {
	cfg := st.Config()
	ch := cfg.Format.Channels
	scale := float32(math.Pow(2, float64(bits-1)) - 1)
	var (
		in      audio.Float32Buffer
		out     = &audio.IntBuffer{Format: &audio.Format{NumChannels: ch, SampleRate: int(cfg.SampleRate)}, SourceBitDepth: bits}
		read    int64 = -1
		written int64
	)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return written, nil
		case <-tick.C:
		}
		head, ringFrames := streamFrame(st)
		if read < 0 {
			read = head
		}
		if head-read > int64(ringFrames) {
			logger.Warn("input overrun", "lost", head-read-int64(ringFrames)/2)
			read = head - int64(ringFrames)/2
		}
		for read < head {
			n := int(min(head-read, 4096))
			err := st.ConvertInputSamples(&in, int(read%int64(ringFrames)), n)
			if errors.Is(err, stream.ErrSampleUnderrun) {
				break
			}
			if err != nil {
				return written, fmt.Errorf("convert input: %w", err)
			}
			out.Data = out.Data[:0]
			for _, v := range in.Data {
				out.Data = append(out.Data, int(max(-1, min(1, v))*scale))
			}
			if err := enc.Write(out); err != nil {
				return written, fmt.Errorf("write wav: %w", err)
			}
			read += int64(n)
			written += int64(n)
		}
	}
}
