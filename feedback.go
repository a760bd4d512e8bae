package uac

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kevmo314/go-uac/pkg/stream"
)

// feedbackReader keeps one single-packet list queued on an explicit feedback endpoint and
// hands every value to its output stream.
type feedbackReader struct {
	pipe   stream.Pipe
	out    *stream.Stream
	logger *slog.Logger

	mu      sync.Mutex
	list    *stream.FrameList
	running bool
	stalled atomic.Bool
}

func newFeedbackReader(pipe stream.Pipe, out *stream.Stream, packetSize int, logger *slog.Logger) *feedbackReader {
	if packetSize < 4 {
		packetSize = 4
	}
	return &feedbackReader{
		pipe:   pipe,
		out:    out,
		logger: logger.With("component", "feedback"),
		list: &stream.FrameList{
			Buffer:  make([]byte, packetSize),
			Packets: make([]stream.Packet, 1),
		},
	}
}

func (f *feedbackReader) Start() error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stalled.Store(false)
	f.mu.Unlock()
	return f.submit()
}

func (f *feedbackReader) submit() error {
	frame, err := f.pipe.FrameNumber()
	if err != nil {
		return err
	}
	f.list.Frame = frame + 1
	f.list.Packets[0] = stream.Packet{Length: len(f.list.Buffer)}
	return f.pipe.Submit(f.list, f.complete)
}

func (f *feedbackReader) complete(l *stream.FrameList, err error) {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if !running {
		return
	}
	if errors.Is(err, stream.ErrPipeStalled) {
		f.stalled.Store(true)
		return
	}
	if err == nil && l.Packets[0].Err == nil && l.Packets[0].Actual > 0 {
		if ferr := f.out.HandleFeedback(l.Data(0)); ferr != nil {
			f.logger.Debug("feedback ignored", "error", ferr)
		}
	}
	if err := f.submit(); err != nil {
		f.logger.Warn("feedback resubmit failed", "error", err)
		f.stalled.Store(true)
	}
}

// RecoverStall clears a stalled feedback pipe and requeues the list.
func (f *feedbackReader) RecoverStall() error {
	if !f.stalled.Swap(false) {
		return nil
	}
	if err := f.pipe.ClearHalt(); err != nil {
		f.stalled.Store(true)
		return err
	}
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if !running {
		return nil
	}
	return f.submit()
}

func (f *feedbackReader) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	if err := f.pipe.Cancel(); err != nil {
		f.logger.Debug("feedback cancel", "error", err)
	}
}
