package uac

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kevmo314/go-uac/internal/config"
	"github.com/kevmo314/go-uac/internal/fakedevice"
	"github.com/kevmo314/go-uac/pkg/controls"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/engine"
	"github.com/kevmo314/go-uac/pkg/requests"
	"github.com/kevmo314/go-uac/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queued struct {
	l    *stream.FrameList
	done func(*stream.FrameList, error)
}

// fakePipe holds submitted frame lists until the test completes them.
type fakePipe struct {
	frames interface{ FrameNumber() (uint64, error) }

	mu        sync.Mutex
	queue     []queued
	submitted int
	cancels   int
	cleared   int
}

func (p *fakePipe) Submit(l *stream.FrameList, done func(*stream.FrameList, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, queued{l, done})
	p.submitted++
	return nil
}

func (p *fakePipe) take() []queued {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.queue
	p.queue = nil
	return q
}

func (p *fakePipe) Cancel() error {
	q := p.take()
	p.mu.Lock()
	p.cancels++
	p.mu.Unlock()
	for _, s := range q {
		s.done(s.l, context.Canceled)
	}
	return nil
}

func (p *fakePipe) ClearHalt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
	return nil
}

func (p *fakePipe) FrameNumber() (uint64, error) {
	return p.frames.FrameNumber()
}

// Complete finishes every queued list with err, filling input packets.
func (p *fakePipe) Complete(err error) {
	for _, s := range p.take() {
		for i := range s.l.Packets {
			s.l.Packets[i].Actual = s.l.Packets[i].Length
		}
		s.done(s.l, err)
	}
}

func (p *fakePipe) stats() (queued, submitted, cancels, cleared int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), p.submitted, p.cancels, p.cleared
}

type fakeStatusPipe struct {
	messages chan []byte
}

func (p *fakeStatusPipe) Read(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case m := <-p.messages:
		return copy(buf, m), nil
	}
}

func (p *fakeStatusPipe) ClearHalt() error { return nil }

type fakeTransport struct {
	*fakedevice.Device
	clock *fakedevice.HostClock

	mu     sync.Mutex
	pipes  map[uint8]*fakePipe
	opened map[uint8]int
	status *fakeStatusPipe
}

func newFakeTransport(dev *fakedevice.Device) *fakeTransport {
	return &fakeTransport{
		Device: dev,
		clock:  fakedevice.NewHostClock(0, time.Microsecond, 1e9),
		pipes:  map[uint8]*fakePipe{},
		opened: map[uint8]int{},
		status: &fakeStatusPipe{messages: make(chan []byte, 4)},
	}
}

func (t *fakeTransport) FrameNumber() (uint64, error) { return t.clock.FrameNumber() }

func (t *fakeTransport) StringDescriptor(uint8) (string, error) { return "", nil }

func (t *fakeTransport) IsochronousPipe(ep *descriptors.Endpoint) (stream.Pipe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &fakePipe{frames: t.clock}
	t.pipes[ep.Address] = p
	t.opened[ep.Address]++
	return p, nil
}

func (t *fakeTransport) StatusPipe(uint8) (controls.StatusPipe, error) {
	return t.status, nil
}

func (t *fakeTransport) pipe(address uint8) *fakePipe {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pipes[address]
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func attach(t *testing.T, raw []byte, dev *fakedevice.Device, opts ...Option) (*Driver, *fakeTransport) {
	t.Helper()
	m, err := descriptors.ParseConfiguration(raw)
	require.NoError(t, err)
	tr := newFakeTransport(dev)
	opts = append([]Option{WithLogger(discard()), WithWallClock(tr.clock)}, opts...)
	d, err := Attach(tr, m, opts...)
	require.NoError(t, err)
	return d, tr
}

func TestAttachUAC2Duplex(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	d, tr := attach(t, fakedevice.UAC2DuplexConfig(), dev)

	engines := d.Engines()
	require.Len(t, engines, 1)
	assert.Equal(t, []uint8{1, 2}, engines[0].Interfaces())
	assert.Equal(t, uint8(1), dev.AltSetting(1))
	assert.Equal(t, uint8(1), dev.AltSetting(2))

	for _, address := range []uint8{0x01, 0x81, 0x82} {
		assert.NotNil(t, tr.pipe(address), "endpoint 0x%02x", address)
	}
	out, err := d.Stream(1)
	require.NoError(t, err)
	assert.Equal(t, descriptors.DirectionOut, out.Config().Direction)
	assert.Equal(t, uint32(44100), out.Config().SampleRate)
	assert.False(t, out.Master())
	assert.NotZero(t, out.Config().SampleOffset)
	assert.NotZero(t, out.Config().Latency)
	in, err := d.Stream(2)
	require.NoError(t, err)
	assert.True(t, in.Master())
	assert.Zero(t, in.Config().SampleOffset)

	_, err = d.Stream(7)
	assert.ErrorIs(t, err, ErrNoSuchStream)
	assert.NotEmpty(t, d.Controls())
	assert.Len(t, d.ClockSelectors(), 1)
	assert.NotNil(t, d.status)
}

func TestAttachUAC1Studio(t *testing.T) {
	d, tr := attach(t, fakedevice.UAC1StudioConfig(), fakedevice.UAC1Studio())

	require.NotEmpty(t, d.Engines())
	assert.Nil(t, d.status)
	assert.NotNil(t, tr.pipe(0x01))
	assert.NotNil(t, tr.pipe(0x82))

	var selectors int
	for _, c := range d.Controls() {
		if c.Kind == controls.KindSelector {
			selectors++
		}
	}
	assert.Equal(t, 1, selectors)
	assert.ErrorIs(t, d.StartEngine(len(d.Engines())), ErrNoSuchEngine)
}

func TestStartStopEngine(t *testing.T) {
	var wraps []stream.Wrap
	d, tr := attach(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex(),
		WithWrapHandler(func(_ int, w stream.Wrap) { wraps = append(wraps, w) }))

	require.NoError(t, d.StartEngine(0))
	assert.True(t, d.Running(0))
	_, _, anchored := d.Timer().Anchor()
	assert.True(t, anchored)
	require.NotEmpty(t, wraps)

	for _, iface := range []uint8{1, 2} {
		s, err := d.Stream(iface)
		require.NoError(t, err)
		assert.True(t, s.Running())
	}
	n, _, _, _ := tr.pipe(0x01).stats()
	assert.Equal(t, config.Defaults().NumLists, n)
	n, _, _, _ = tr.pipe(0x81).stats()
	assert.Equal(t, 1, n)

	// a second start is a no-op
	require.NoError(t, d.StartEngine(0))
	_, submitted, _, _ := tr.pipe(0x82).stats()
	assert.Equal(t, config.Defaults().NumLists, submitted)

	require.NoError(t, d.StopEngine(0))
	assert.False(t, d.Running(0))
	for _, address := range []uint8{0x01, 0x81, 0x82} {
		queued, _, cancels, _ := tr.pipe(address).stats()
		assert.Zero(t, queued)
		assert.Equal(t, 1, cancels)
	}
	_, _, anchored = d.Timer().Anchor()
	assert.False(t, anchored)
}

func TestChangeRateReopensRunningStreams(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	var republished []int
	d, tr := attach(t, fakedevice.UAC2DuplexConfig(), dev,
		WithRatesHandler(func(e *engine.Engine) { republished = append(republished, e.Index) }))
	require.NoError(t, d.StartEngine(0))
	before, err := d.Stream(1)
	require.NoError(t, err)

	require.NoError(t, d.ChangeRate(0, 96000))
	assert.Equal(t, []int{0}, republished)
	assert.Equal(t, uint32(96000), dev.Clock(fakedevice.InternalClock).Freq)
	assert.False(t, before.Running())

	for _, iface := range []uint8{1, 2} {
		s, err := d.Stream(iface)
		require.NoError(t, err)
		assert.Equal(t, uint32(96000), s.Config().SampleRate)
		assert.True(t, s.Running())
	}
	assert.Equal(t, 2, tr.opened[0x01])
	assert.True(t, d.Running(0))

	assert.ErrorIs(t, d.ChangeRate(0, 50000), engine.ErrFormatChangeRejected)
	assert.True(t, d.Running(0))
}

func TestChangeRateWhileStopped(t *testing.T) {
	d, _ := attach(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex())
	require.NoError(t, d.ChangeFormat(1, engine.Format{Rate: 48000}))

	s, err := d.Stream(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), s.Config().SampleRate)
	assert.False(t, s.Running())
	assert.False(t, d.Running(0))
}

func TestSetControl(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	d, _ := attach(t, fakedevice.UAC2DuplexConfig(), dev)

	require.NoError(t, d.SetControl(controls.Key{Kind: controls.KindMute, Unit: fakedevice.SpeakerFeatureUnit}, 1))
	assert.True(t, dev.Channel(fakedevice.SpeakerFeatureUnit, 0).Mute)
}

func TestPollRecoversStalledStream(t *testing.T) {
	d, tr := attach(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex())
	require.NoError(t, d.StartEngine(0))

	tr.pipe(0x01).Complete(stream.ErrPipeStalled)
	out, err := d.Stream(1)
	require.NoError(t, err)
	require.True(t, out.StallPending())

	d.Poll()
	assert.False(t, out.StallPending())
	queued, _, _, cleared := tr.pipe(0x01).stats()
	assert.Equal(t, 1, cleared)
	assert.Equal(t, config.Defaults().NumLists, queued)
	assert.True(t, d.Running(0))
}

func TestPollRestartsEngineWithoutCompletions(t *testing.T) {
	tunables := config.Defaults()
	tunables.RefreshInterval = 5 * time.Millisecond
	d, tr := attach(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex(), WithTunables(tunables))
	require.NoError(t, d.StartEngine(0))

	d.Poll()
	_, _, cancels, _ := tr.pipe(0x82).stats()
	assert.Zero(t, cancels)

	time.Sleep(30 * time.Millisecond)
	d.Poll()
	queued, _, cancels, _ := tr.pipe(0x82).stats()
	assert.Equal(t, 1, cancels)
	assert.Equal(t, tunables.NumLists, queued)
	assert.True(t, d.Running(0))
}

func TestSleepWake(t *testing.T) {
	d, _ := attach(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex())
	require.NoError(t, d.StartEngine(0))

	require.NoError(t, d.Sleep())
	assert.False(t, d.Running(0))
	_, _, anchored := d.Timer().Anchor()
	assert.False(t, anchored)
	assert.ErrorIs(t, d.StartEngine(0), ErrAsleep)

	require.NoError(t, d.Wake())
	assert.True(t, d.Running(0))
	_, _, anchored = d.Timer().Anchor()
	assert.True(t, anchored)
}

func TestClose(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	d, _ := attach(t, fakedevice.UAC2DuplexConfig(), dev)
	require.NoError(t, d.StartEngine(0))

	require.NoError(t, d.Close())
	assert.False(t, d.Running(0))
	assert.Zero(t, dev.AltSetting(1))
	assert.Zero(t, dev.AltSetting(2))
	assert.ErrorIs(t, d.StartEngine(0), ErrClosed)
	require.NoError(t, d.Close())
}

func TestRunHandlesStatusMessages(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	changed := make(chan controls.Control, 4)
	d, tr := attach(t, fakedevice.UAC2DuplexConfig(), dev,
		WithControlHandler(func(c controls.Control) { changed <- c }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	dev.Channel(fakedevice.SpeakerFeatureUnit, 0).Mute = true
	tr.status.messages <- requests.MarshalStatusUAC2(requests.StatusMessage{
		Origin:     requests.StatusOriginControlInterface,
		Originator: fakedevice.SpeakerFeatureUnit,
		Selector:   requests.FeatureUnitMuteControl,
	})

	select {
	case c := <-changed:
		assert.Equal(t, controls.Key{Kind: controls.KindMute, Unit: fakedevice.SpeakerFeatureUnit}, c.Key)
		assert.Equal(t, int32(1), c.Value)
	case <-time.After(time.Second):
		t.Fatal("no control change reported")
	}

	cancel()
	err := <-done
	assert.False(t, errors.Is(err, context.Canceled))
	assert.NoError(t, err)
}
