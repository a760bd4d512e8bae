// Package gate serialises work that touches device topology or format. Completion callbacks
// post to the gate and return at once; client calls run on it synchronously.
package gate

import (
	"context"
	"log/slog"
	"sync"
)

type Gate struct {
	logger *slog.Logger

	// mu is held while any work runs on the gate.
	mu sync.Mutex

	qmu    sync.Mutex
	queue  []func()
	signal chan struct{}
}

func New(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		logger: logger.With("component", "gate"),
		signal: make(chan struct{}, 1),
	}
}

// Post queues fn to run on the gate. It never blocks.
func (g *Gate) Post(fn func()) {
	g.qmu.Lock()
	g.queue = append(g.queue, fn)
	g.qmu.Unlock()
	select {
	case g.signal <- struct{}{}:
	default:
	}
}

// Pending is the number of posted functions not yet run.
func (g *Gate) Pending() int {
	g.qmu.Lock()
	defer g.qmu.Unlock()
	return len(g.queue)
}

// Do runs fn on the gate from the calling goroutine. It must not be called from a posted
// function.
func (g *Gate) Do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// Drain runs every posted function queued so far.
func (g *Gate) Drain() {
	g.qmu.Lock()
	queue := g.queue
	g.queue = nil
	g.qmu.Unlock()
	for _, fn := range queue {
		g.mu.Lock()
		fn()
		g.mu.Unlock()
	}
}

// Run drains posted functions until ctx is done.
func (g *Gate) Run(ctx context.Context) error {
	g.logger.Debug("gate running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.signal:
			g.Drain()
		}
	}
}
