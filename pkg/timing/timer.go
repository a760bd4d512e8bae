// Package timing maps USB frame numbers to host time. The Timer fits a line through a sliding
// window of (frame, host nanoseconds) samples with exact wide-integer least squares.
package timing

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kevmo314/go-uac/pkg/wide"
)

var (
	ErrSampleJitterExceeded = errors.New("sample jitter exceeded")
	ErrFrameCounterStalled  = errors.New("frame counter stalled")
	ErrNotAnchored          = errors.New("timer has no anchor")
)

type Config struct {
	// MaxAnchorEntries is the size of the regression window.
	MaxAnchorEntries int
	// AnchorSamplingFreq1 is the sampling rate in Hz while the window fills.
	AnchorSamplingFreq1 int
	// RefreshInterval is the sampling period once the window is full.
	RefreshInterval time.Duration
	// MaxTimestampJitter bounds both halves of the bracket around a frame change.
	MaxTimestampJitter time.Duration
	SampleTimeout      time.Duration
	// MinFramesApplyOffset is how long every engine must have been stopped before the
	// window is re-biased against a fresh sample.
	MinFramesApplyOffset  uint64
	MinEntriesApplyOffset int
	// WallTimeExtraPrecision scales CycleTime.
	WallTimeExtraPrecision uint64
	// DefaultCycleTime is the frame period in nanoseconds assumed before the fit exists.
	DefaultCycleTime uint64
}

func DefaultConfig() Config {
	return Config{
		MaxAnchorEntries:       1024,
		AnchorSamplingFreq1:    50,
		RefreshInterval:        125 * time.Millisecond,
		MaxTimestampJitter:     30 * time.Microsecond,
		SampleTimeout:          1100 * time.Microsecond,
		MinFramesApplyOffset:   1000,
		MinEntriesApplyOffset:  32,
		WallTimeExtraPrecision: 10000,
		DefaultCycleTime:       1_000_000,
	}
}

type Option func(*Timer)

func WithLogger(l *slog.Logger) Option {
	return func(t *Timer) { t.logger = l }
}

type sample struct {
	x, y uint64
}

// Timer owns the anchor window. All methods are safe for concurrent use; Sample and Tick spin
// for up to SampleTimeout and must not be called from completion callbacks.
type Timer struct {
	cfg    Config
	frames FrameCounter
	wall   WallClock
	logger *slog.Logger

	mu     sync.Mutex
	window []sample
	head   int
	n      int
	sumX   wide.Int
	sumY   wide.Int
	sumXX  wide.Int
	sumXY  wide.Int

	anchored  bool
	lastFrame uint64
	lastWall  uint64

	running       bool
	stoppedFrame  uint64
	offsetApplied bool
}

func NewTimer(cfg Config, frames FrameCounter, wall WallClock, opts ...Option) *Timer {
	if cfg.MaxAnchorEntries < 2 {
		cfg.MaxAnchorEntries = 2
	}
	if cfg.WallTimeExtraPrecision == 0 {
		cfg.WallTimeExtraPrecision = 1
	}
	if cfg.DefaultCycleTime == 0 {
		cfg.DefaultCycleTime = 1_000_000
	}
	t := &Timer{
		cfg:    cfg,
		frames: frames,
		wall:   wall,
		logger: slog.Default(),
		window: make([]sample, cfg.MaxAnchorEntries),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "timer")
	return t
}

// Sample measures one (frame, wall) point by spinning until the frame counter changes. The
// wall time is the midpoint of the clock reads on either side of the frame read that saw the
// change.
func (t *Timer) Sample() (frame, wall uint64, err error) {
	jitter := uint64(t.cfg.MaxTimestampJitter)
	f0, err := t.frames.FrameNumber()
	if err != nil {
		return 0, 0, err
	}
	lo := t.wall.Now()
	deadline := lo + uint64(t.cfg.SampleTimeout)
	for {
		cur := t.wall.Now()
		f, err := t.frames.FrameNumber()
		if err != nil {
			return 0, 0, err
		}
		hi := t.wall.Now()
		if f != f0 {
			if cur-lo > jitter || hi-cur > jitter {
				return 0, 0, fmt.Errorf("%w: %v before and %v after frame %d",
					ErrSampleJitterExceeded, time.Duration(cur-lo), time.Duration(hi-cur), f)
			}
			return f, lo + (hi-lo)/2, nil
		}
		if hi > deadline {
			return 0, 0, fmt.Errorf("%w: frame %d for %v", ErrFrameCounterStalled, f0, t.cfg.SampleTimeout)
		}
		lo = hi
	}
}

// Insert adds a sample, evicting the oldest one once the window is full.
func (t *Timer) Insert(frame, wall uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(sample{frame, wall})
}

func (t *Timer) insertLocked(s sample) {
	size := len(t.window)
	if t.n == size {
		t.accumulate(t.window[t.head], false)
		t.window[t.head] = s
		t.head = (t.head + 1) % size
	} else {
		t.window[(t.head+t.n)%size] = s
		t.n++
	}
	t.accumulate(s, true)
	t.anchored = true
	t.lastFrame, t.lastWall = s.x, s.y
}

func (t *Timer) accumulate(s sample, add bool) {
	x, y := wide.FromUint64(s.x), wide.FromUint64(s.y)
	if add {
		t.sumX = t.sumX.Add(x)
		t.sumY = t.sumY.Add(y)
		t.sumXX = t.sumXX.Add(x.Mul(x))
		t.sumXY = t.sumXY.Add(x.Mul(y))
		return
	}
	t.sumX = t.sumX.Sub(x)
	t.sumY = t.sumY.Sub(y)
	t.sumXX = t.sumXX.Sub(x.Mul(x))
	t.sumXY = t.sumXY.Sub(x.Mul(y))
}

// fit returns P = nΣXY − ΣXΣY and Q = nΣXX − ΣXΣX, so that the slope is P/Q.
func (t *Timer) fit() (p, q wide.Int, ok bool) {
	if t.n < 2 {
		return p, q, false
	}
	n := wide.FromUint64(uint64(t.n))
	p = n.Mul(t.sumXY).Sub(t.sumX.Mul(t.sumY))
	q = n.Mul(t.sumXX).Sub(t.sumX.Mul(t.sumX))
	return p, q, q.Sign() > 0
}

// Predict returns the host time of the start of frame.
func (t *Timer) Predict(frame uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.predictLocked(frame)
}

func (t *Timer) predictLocked(frame uint64) (uint64, error) {
	if !t.anchored {
		return 0, ErrNotAnchored
	}
	x := wide.FromUint64(frame)
	var y wide.Int
	if p, q, ok := t.fit(); ok {
		n := wide.FromUint64(uint64(t.n))
		num := p.Mul(n.Mul(x).Sub(t.sumX)).Add(q.Mul(t.sumY))
		y = num.Quo(q.Mul(n))
	} else {
		// extrapolate from the last anchor at the assumed cycle time
		d := x.Sub(wide.FromUint64(t.lastFrame)).Mul(wide.FromUint64(t.cycleTimeLocked()))
		y = wide.FromUint64(t.lastWall).Add(d.Quo(wide.FromUint64(t.cfg.WallTimeExtraPrecision)))
	}
	if y.Negative() {
		return 0, nil
	}
	return y.Uint64(), nil
}

// CycleTime is the estimated frame period in nanoseconds scaled by WallTimeExtraPrecision.
func (t *Timer) CycleTime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycleTimeLocked()
}

func (t *Timer) cycleTimeLocked() uint64 {
	prec := wide.FromUint64(t.cfg.WallTimeExtraPrecision)
	if p, q, ok := t.fit(); ok && p.Sign() > 0 {
		return p.Mul(prec).Quo(q).Uint64()
	}
	return t.cfg.DefaultCycleTime * t.cfg.WallTimeExtraPrecision
}

// ApplyOffset biases every sample in the window by the difference between wall and the
// prediction for frame, then inserts the sample. The slope is unchanged. It returns the bias.
func (t *Timer) ApplyOffset(frame, wall uint64) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyOffsetLocked(frame, wall)
}

func (t *Timer) applyOffsetLocked(frame, wall uint64) (time.Duration, error) {
	predicted, err := t.predictLocked(frame)
	if err != nil {
		return 0, err
	}
	d := int64(wall - predicted)
	size := len(t.window)
	for i := 0; i < t.n; i++ {
		s := &t.window[(t.head+i)%size]
		s.y = uint64(int64(s.y) + d)
	}
	bias := wide.FromInt64(d)
	t.sumY = t.sumY.Add(wide.FromUint64(uint64(t.n)).Mul(bias))
	t.sumXY = t.sumXY.Add(bias.Mul(t.sumX))
	t.insertLocked(sample{frame, wall})
	return time.Duration(d), nil
}

// Tick is one step of the polled task: take a sample and feed it to the window. When every
// engine has been stopped for long enough the sample re-biases the window instead. A failed
// sample leaves the timer untouched.
func (t *Timer) Tick() error {
	frame, wall, err := t.Sample()
	if err != nil {
		t.logger.Debug("anchor sample discarded", "error", err)
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running && !t.offsetApplied && t.n >= t.cfg.MinEntriesApplyOffset &&
		frame-t.stoppedFrame > t.cfg.MinFramesApplyOffset {
		d, err := t.applyOffsetLocked(frame, wall)
		if err != nil {
			return err
		}
		t.offsetApplied = true
		t.logger.Debug("anchor offset applied", "frame", frame, "offset", d)
		return nil
	}
	t.insertLocked(sample{frame, wall})
	return nil
}

// SetRunning tells the timer whether any engine is running. Stopping the last engine clears
// the window; the next Tick re-anchors.
func (t *Timer) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running && !running {
		t.stoppedFrame = t.lastFrame
		t.offsetApplied = false
		t.resetLocked()
	}
	t.running = running
}

// Reset empties the window and forgets the anchor.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Timer) resetLocked() {
	clear(t.window)
	t.head, t.n = 0, 0
	t.sumX, t.sumY, t.sumXX, t.sumXY = wide.Int{}, wide.Int{}, wide.Int{}, wide.Int{}
	t.anchored = false
	t.lastFrame, t.lastWall = 0, 0
}

// Reanchor resets the timer and takes a new anchor immediately, retrying a few samples.
func (t *Timer) Reanchor() error {
	t.Reset()
	var err error
	for range 8 {
		var frame, wall uint64
		if frame, wall, err = t.Sample(); err == nil {
			t.Insert(frame, wall)
			t.logger.Debug("re-anchored", "frame", frame, "wall", wall)
			return nil
		}
	}
	return err
}

// Interval is the delay until the next Tick.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n < len(t.window) && t.cfg.AnchorSamplingFreq1 > 0 {
		return time.Second / time.Duration(t.cfg.AnchorSamplingFreq1)
	}
	return t.cfg.RefreshInterval
}

// Len is the number of samples in the window.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Anchor returns the most recent sample.
func (t *Timer) Anchor() (frame, wall uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFrame, t.lastWall, t.anchored
}

// Verify recomputes the running sums from the window.
func (t *Timer) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sx, sy, sxx, sxy wide.Int
	for i := 0; i < t.n; i++ {
		s := t.window[(t.head+i)%len(t.window)]
		x, y := wide.FromUint64(s.x), wide.FromUint64(s.y)
		sx, sy = sx.Add(x), sy.Add(y)
		sxx, sxy = sxx.Add(x.Mul(x)), sxy.Add(x.Mul(y))
	}
	if sx != t.sumX || sy != t.sumY || sxx != t.sumXX || sxy != t.sumXY {
		return fmt.Errorf("anchor sums diverged over %d samples: ΣX %s want %s, ΣY %s want %s",
			t.n, t.sumX, sx, t.sumY, sy)
	}
	return nil
}
