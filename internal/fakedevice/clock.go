package fakedevice

import (
	"sync"
	"time"
)

// HostClock simulates the host monotonic clock together with the device's USB frame counter.
// Every call to Now advances time by Step so that spinning readers make progress. The frame
// counter ticks every CyclePs picoseconds of device time.
type HostClock struct {
	mu         sync.Mutex
	now        uint64
	wallOffset int64
	step       uint64
	cyclePs    uint64
	frameBase  uint64
	stalled    bool
}

// NewHostClock starts the clock at start nanoseconds. cyclePs is the device frame period in
// picoseconds, 1e9 for an exact millisecond.
func NewHostClock(start uint64, step time.Duration, cyclePs uint64) *HostClock {
	return &HostClock{now: start, step: uint64(step), cyclePs: cyclePs, frameBase: 1000}
}

// Now returns host nanoseconds.
func (c *HostClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return uint64(int64(c.now) + c.wallOffset)
}

// FrameNumber returns the device frame counter.
func (c *HostClock) FrameNumber() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameLocked(), nil
}

func (c *HostClock) frameLocked() uint64 {
	if c.stalled {
		return c.frameBase
	}
	return c.frameBase + c.now*1000/c.cyclePs
}

// Advance moves time forward without a reader, as a sleeping goroutine would see it.
func (c *HostClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += uint64(d)
}

// JumpWall shifts host time relative to the device, as a clock discontinuity would.
func (c *HostClock) JumpWall(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallOffset += int64(d)
}

// Stall freezes the frame counter.
func (c *HostClock) Stall(stalled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stalled {
		c.frameBase = c.frameLocked()
	} else {
		c.frameBase -= c.now * 1000 / c.cyclePs
	}
	c.stalled = stalled
}

// WallFor returns the host time at which frame begins.
func (c *HostClock) WallFor(frame uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(int64((frame-c.frameBase)*c.cyclePs/1000) + c.wallOffset)
}

// SetStep changes how far each Now call advances.
func (c *HostClock) SetStep(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = uint64(step)
}
