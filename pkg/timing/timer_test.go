package timing

import (
	"testing"
	"time"

	"github.com/kevmo314/go-uac/internal/fakedevice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxAnchorEntries = 16
	cfg.MinEntriesApplyOffset = 1 << 20
	return cfg
}

func fill(t *testing.T, timer *Timer, clock *fakedevice.HostClock, ticks int) {
	t.Helper()
	for i := 0; i < ticks; i++ {
		require.NoError(t, timer.Tick())
		// the extra microsecond keeps the spin loop reading the clock on frame edges
		clock.Advance(20*time.Millisecond + time.Microsecond)
	}
}

func TestSampleIsExactOnMillisecondFrames(t *testing.T) {
	clock := fakedevice.NewHostClock(0, time.Microsecond, 1e9)
	timer := NewTimer(testConfig(), clock, clock)

	frame, wall, err := timer.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), frame)
	assert.Equal(t, clock.WallFor(frame), wall)
}

func TestSampleJitterExceeded(t *testing.T) {
	clock := fakedevice.NewHostClock(0, 50*time.Microsecond, 1e9)
	timer := NewTimer(testConfig(), clock, clock)

	_, _, err := timer.Sample()
	assert.ErrorIs(t, err, ErrSampleJitterExceeded)
	assert.Equal(t, 0, timer.Len())
}

func TestSampleFrameCounterStalled(t *testing.T) {
	clock := fakedevice.NewHostClock(0, time.Microsecond, 1e9)
	clock.Stall(true)
	timer := NewTimer(testConfig(), clock, clock)

	err := timer.Tick()
	assert.ErrorIs(t, err, ErrFrameCounterStalled)
	_, _, ok := timer.Anchor()
	assert.False(t, ok)
}

func TestFitOnExactLine(t *testing.T) {
	clock := fakedevice.NewHostClock(0, time.Microsecond, 1e9)
	timer := NewTimer(testConfig(), clock, clock)

	_, err := timer.Predict(1000)
	assert.ErrorIs(t, err, ErrNotAnchored)
	assert.Equal(t, uint64(1e10), timer.CycleTime())

	fill(t, timer, clock, 40)
	assert.Equal(t, 16, timer.Len())
	require.NoError(t, timer.Verify())
	assert.Equal(t, uint64(1e10), timer.CycleTime())

	for _, frame := range []uint64{1000, 1500, 2000, 5000, 100000} {
		wall, err := timer.Predict(frame)
		require.NoError(t, err)
		assert.Equal(t, clock.WallFor(frame), wall, "frame %d", frame)
	}
}

func TestFitTracksSlowDeviceClock(t *testing.T) {
	// the device frame is 1.0001 ms of host time
	clock := fakedevice.NewHostClock(0, 100*time.Nanosecond, 1_000_100_000)
	timer := NewTimer(testConfig(), clock, clock)

	fill(t, timer, clock, 16)
	require.NoError(t, timer.Verify())
	assert.InDelta(t, 1_000_100*10000, float64(timer.CycleTime()), 2*10000)

	frame, _, _ := timer.Anchor()
	future := frame + 1000
	wall, err := timer.Predict(future)
	require.NoError(t, err)
	assert.InDelta(t, float64(clock.WallFor(future)), float64(wall), float64(2*time.Microsecond))
}

func TestIntervalDropsOnceFull(t *testing.T) {
	clock := fakedevice.NewHostClock(0, time.Microsecond, 1e9)
	timer := NewTimer(testConfig(), clock, clock)

	assert.Equal(t, 20*time.Millisecond, timer.Interval())
	fill(t, timer, clock, 16)
	assert.Equal(t, 125*time.Millisecond, timer.Interval())
}

func TestApplyOffsetKeepsSlope(t *testing.T) {
	clock := fakedevice.NewHostClock(0, time.Microsecond, 1e9)
	timer := NewTimer(testConfig(), clock, clock)
	fill(t, timer, clock, 10)
	cycle := timer.CycleTime()

	clock.JumpWall(5 * time.Millisecond)
	frame, wall, err := timer.Sample()
	require.NoError(t, err)
	d, err := timer.ApplyOffset(frame, wall)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, d)

	require.NoError(t, timer.Verify())
	assert.Equal(t, cycle, timer.CycleTime())
	assert.Equal(t, 11, timer.Len())
	got, err := timer.Predict(frame - 100)
	require.NoError(t, err)
	assert.Equal(t, clock.WallFor(frame-100), got)
}

func TestTickAppliesOffsetWhileStopped(t *testing.T) {
	clock := fakedevice.NewHostClock(0, time.Microsecond, 1e9)
	cfg := testConfig()
	cfg.MinEntriesApplyOffset = 4
	cfg.MinFramesApplyOffset = 10
	timer := NewTimer(cfg, clock, clock)

	fill(t, timer, clock, 4)
	clock.JumpWall(3 * time.Millisecond)
	require.NoError(t, timer.Tick())
	require.NoError(t, timer.Verify())

	frame, wall, ok := timer.Anchor()
	require.True(t, ok)
	assert.Equal(t, clock.WallFor(frame), wall)
	got, err := timer.Predict(1000)
	require.NoError(t, err)
	assert.Equal(t, clock.WallFor(1000), got)
}

func TestStoppingLastEngineClearsAnchor(t *testing.T) {
	clock := fakedevice.NewHostClock(0, time.Microsecond, 1e9)
	timer := NewTimer(testConfig(), clock, clock)
	timer.SetRunning(true)
	fill(t, timer, clock, 5)

	timer.SetRunning(false)
	_, _, ok := timer.Anchor()
	assert.False(t, ok)
	assert.Equal(t, 0, timer.Len())
}

func TestReanchorAfterSleep(t *testing.T) {
	clock := fakedevice.NewHostClock(0, time.Microsecond, 1e9)
	timer := NewTimer(testConfig(), clock, clock)
	fill(t, timer, clock, 16)

	// the bus is suspended for ten seconds: the frame counter stops while host time runs on
	timer.Reset()
	clock.Stall(true)
	clock.Advance(10 * time.Second)
	clock.Stall(false)

	require.NoError(t, timer.Reanchor())
	frame, _, ok := timer.Anchor()
	require.True(t, ok)

	next := frame + 3
	wall, err := timer.Predict(next)
	require.NoError(t, err)
	assert.InDelta(t, float64(clock.WallFor(next)), float64(wall), float64(500*time.Microsecond))
}
