package controls

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/requests"
	"github.com/kevmo314/go-uac/pkg/stream"
)

// StatusPipe is the interrupt endpoint of the audio control interface.
type StatusPipe interface {
	// Read blocks until a status message arrives. Any error other than ctx ending leaves the
	// pipe halted.
	Read(ctx context.Context, buf []byte) (int, error)
	ClearHalt() error
}

// StatusReader keeps one read outstanding on the status pipe and posts every message to the
// surface through post. A failed read parks the reader until RecoverStall.
type StatusReader struct {
	pipe    StatusPipe
	surface *Surface
	post    func(func())
	logger  *slog.Logger

	stalled atomic.Bool
	rearm   chan struct{}
}

func NewStatusReader(pipe StatusPipe, surface *Surface, post func(func())) *StatusReader {
	return &StatusReader{
		pipe:    pipe,
		surface: surface,
		post:    post,
		logger:  surface.logger.With("component", "status"),
		rearm:   make(chan struct{}, 1),
	}
}

func (r *StatusReader) decode(buf []byte) (requests.StatusMessage, error) {
	if r.surface.model.Protocol == descriptors.ProtocolUAC2 {
		return requests.UnmarshalStatusUAC2(buf)
	}
	return requests.UnmarshalStatusUAC1(buf)
}

// Run reads status messages until ctx is done.
func (r *StatusReader) Run(ctx context.Context) error {
	buf := make([]byte, 6)
	for {
		n, err := r.pipe.Read(ctx, buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			r.stalled.Store(true)
			r.logger.Warn("status pipe halted", "error", errors.Join(stream.ErrPipeStalled, err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.rearm:
			}
			continue
		}
		msg, err := r.decode(buf[:n])
		if err != nil {
			r.logger.Debug("short status message", "length", n)
			continue
		}
		r.post(func() {
			if err := r.surface.HandleStatus(msg); err != nil {
				r.logger.Warn("status handling failed", "message", msg, "error", err)
			}
		})
	}
}

// StallPending reports whether the pipe is waiting for RecoverStall.
func (r *StatusReader) StallPending() bool {
	return r.stalled.Load()
}

// RecoverStall clears the halt and re-arms the read. It runs on the polled task.
func (r *StatusReader) RecoverStall() error {
	if !r.stalled.Load() {
		return nil
	}
	if err := r.pipe.ClearHalt(); err != nil {
		return err
	}
	r.stalled.Store(false)
	select {
	case r.rearm <- struct{}{}:
	default:
	}
	r.logger.Info("status pipe re-armed")
	return nil
}
