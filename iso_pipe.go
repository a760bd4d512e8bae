//go:build !windows

package uac

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	usb "github.com/kevmo314/go-usb"
	"github.com/kevmo314/go-uac/pkg/stream"
	"github.com/kevmo314/go-uac/pkg/timing"
)

// isoPipe runs frame lists on an isochronous endpoint. An IN list is one transfer that is
// reused on every submission. An OUT list is split into runs of equal packet length because
// a transfer carries a single packet size.
type isoPipe struct {
	handle   *usb.DeviceHandle
	endpoint uint8
	frames   timing.FrameCounter
	logger   *slog.Logger

	mu       sync.Mutex
	inputs   map[int]*usb.IsochronousTransfer
	inflight map[*usb.IsochronousTransfer]struct{}
}

func newIsoPipe(handle *usb.DeviceHandle, endpoint uint8, frames timing.FrameCounter, logger *slog.Logger) *isoPipe {
	return &isoPipe{
		handle:   handle,
		endpoint: endpoint,
		frames:   frames,
		logger:   logger.With("component", "iso", "endpoint", fmt.Sprintf("%#02x", endpoint)),
		inputs:   map[int]*usb.IsochronousTransfer{},
		inflight: map[*usb.IsochronousTransfer]struct{}{},
	}
}

func (p *isoPipe) in() bool {
	return p.endpoint&0x80 != 0
}

// run is a transfer carrying packets [first, first+count) of a frame list.
type run struct {
	tx    *usb.IsochronousTransfer
	first int
	count int
}

func (p *isoPipe) plan(l *stream.FrameList) ([]run, error) {
	if p.in() {
		tx, ok := p.inputs[l.Index]
		if !ok {
			var err error
			tx, err = p.handle.NewIsochronousTransfer(p.endpoint, len(l.Packets), l.Packets[0].Length)
			if err != nil {
				return nil, fmt.Errorf("failed to create isochronous transfer: %w", err)
			}
			p.inputs[l.Index] = tx
		}
		return []run{{tx: tx, count: len(l.Packets)}}, nil
	}
	var runs []run
	for i := 0; i < len(l.Packets); {
		j := i
		for j < len(l.Packets) && l.Packets[j].Length == l.Packets[i].Length {
			j++
		}
		if size := l.Packets[i].Length; size > 0 {
			tx, err := p.handle.NewIsochronousTransfer(p.endpoint, j-i, size)
			if err != nil {
				return nil, fmt.Errorf("failed to create isochronous transfer: %w", err)
			}
			for k := i; k < j; k++ {
				buf, err := tx.IsoPacketBuffer(k - i)
				if err != nil {
					return nil, err
				}
				copy(buf, l.Data(k))
			}
			runs = append(runs, run{tx: tx, first: i, count: j - i})
		}
		i = j
	}
	return runs, nil
}

func (p *isoPipe) Submit(l *stream.FrameList, done func(*stream.FrameList, error)) error {
	p.mu.Lock()
	runs, err := p.plan(l)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	for i, r := range runs {
		if err := r.tx.Submit(); err != nil {
			for _, s := range runs[:i] {
				_ = s.tx.Cancel()
			}
			p.mu.Unlock()
			return fmt.Errorf("failed to submit isochronous transfer: %w", err)
		}
		p.inflight[r.tx] = struct{}{}
	}
	p.mu.Unlock()

	go p.reap(l, runs, done)
	return nil
}

// reap waits for every run of a list and reports the list once.
func (p *isoPipe) reap(l *stream.FrameList, runs []run, done func(*stream.FrameList, error)) {
	var errs []error
	stalled := false
	for _, r := range runs {
		err := r.tx.Wait()
		p.mu.Lock()
		delete(p.inflight, r.tx)
		p.mu.Unlock()
		if err != nil {
			stalled = stalled || errors.Is(err, syscall.EPIPE)
			errs = append(errs, err)
			continue
		}
		for i, pkt := range r.tx.Packets() {
			dst := &l.Packets[r.first+i]
			if pkt.Status != 0 {
				errno := syscall.Errno(-int(pkt.Status))
				stalled = stalled || errno == syscall.EPIPE
				dst.Err, dst.Actual = errno, 0
				continue
			}
			dst.Err = nil
			dst.Actual = int(pkt.ActualLength)
			if p.in() && dst.Actual > 0 {
				data, err := r.tx.IsoPacketBuffer(i)
				if err != nil {
					dst.Err, dst.Actual = err, 0
					continue
				}
				dst.Actual = copy(l.Buffer[dst.Offset:dst.Offset+dst.Length], data)
			}
		}
	}
	switch {
	case stalled:
		done(l, fmt.Errorf("endpoint %#02x: %w", p.endpoint, stream.ErrPipeStalled))
	case len(errs) > 0:
		done(l, fmt.Errorf("isochronous transfer failed: %w", errors.Join(errs...)))
	default:
		done(l, nil)
	}
}

func (p *isoPipe) Cancel() error {
	p.mu.Lock()
	txs := make([]*usb.IsochronousTransfer, 0, len(p.inflight))
	for tx := range p.inflight {
		txs = append(txs, tx)
	}
	p.mu.Unlock()
	for _, tx := range txs {
		if err := tx.Cancel(); err != nil {
			p.logger.Debug("cancel failed", "error", err)
		}
	}
	return nil
}

func (p *isoPipe) ClearHalt() error {
	return p.handle.ClearHalt(p.endpoint)
}

func (p *isoPipe) FrameNumber() (uint64, error) {
	return p.frames.FrameNumber()
}
