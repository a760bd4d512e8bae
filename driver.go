// Package uac drives the audio function of a USB Audio Class 1.0 or 2.0 device: it builds the
// topology and engines at attach, streams isochronous audio with anchored time stamps, and
// keeps formats, clocks and controls consistent while the device runs.
package uac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kevmo314/go-uac/internal/config"
	"github.com/kevmo314/go-uac/internal/gate"
	"github.com/kevmo314/go-uac/internal/log"
	"github.com/kevmo314/go-uac/pkg/controls"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/engine"
	"github.com/kevmo314/go-uac/pkg/requests"
	"github.com/kevmo314/go-uac/pkg/resolver"
	"github.com/kevmo314/go-uac/pkg/stream"
	"github.com/kevmo314/go-uac/pkg/timing"
	"github.com/kevmo314/go-uac/pkg/topology"
	"github.com/kevmo314/go-uac/pkg/transfers"
)

type Option func(*Driver)

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.base = l }
}

func WithTunables(t config.Tunables) Option {
	return func(d *Driver) { d.tunables = t }
}

// WithQuirks replaces the default quirk table.
func WithQuirks(q config.Quirks) Option {
	return func(d *Driver) { d.quirks = q }
}

// WithDevice names the vendor and product id the quirk table is matched against.
func WithDevice(vendor, product uint16) Option {
	return func(d *Driver) { d.vendor, d.product = vendor, product }
}

func WithIdentity(id engine.Identity) Option {
	return func(d *Driver) { d.identity = id }
}

// WithWallClock replaces the host monotonic clock the timer anchors against.
func WithWallClock(c timing.WallClock) Option {
	return func(d *Driver) { d.wall = c }
}

// WithWrapHandler receives the time stamp of every pass of an engine's master ring.
func WithWrapHandler(fn func(engine int, w stream.Wrap)) Option {
	return func(d *Driver) { d.onWrap = fn }
}

// WithRatesHandler is told when an engine's formats or rate must be republished.
func WithRatesHandler(fn func(*engine.Engine)) Option {
	return func(d *Driver) { d.onRates = fn }
}

// WithControlHandler is told when a control changes on the device.
func WithControlHandler(fn func(controls.Control)) Option {
	return func(d *Driver) { d.onControl = fn }
}

// WithSelectorRestoreHandler is told to put a clock selector control back on a pin.
func WithSelectorRestoreHandler(fn func(selector, pin uint8)) Option {
	return func(d *Driver) { d.onRestore = fn }
}

// progress is the last completion seen on an engine's master stream.
type progress struct {
	frame uint64
	at    time.Time
}

// Driver owns one attached audio function.
type Driver struct {
	transport Transport
	model     *descriptors.Model
	graph     *topology.Graph
	resolver  *resolver.Resolver
	coord     *engine.Coordinator
	surface   *controls.Surface
	status    *controls.StatusReader
	timer     *timing.Timer
	gate      *gate.Gate
	control   *transfers.UACControl

	tunables config.Tunables
	quirks   config.Quirks
	vendor   uint16
	product  uint16
	identity engine.Identity
	wall     timing.WallClock
	base     *slog.Logger
	logger   *slog.Logger

	onWrap    func(int, stream.Wrap)
	onRates   func(*engine.Engine)
	onControl func(controls.Control)
	onRestore func(selector, pin uint8)

	mu       sync.Mutex
	streams  map[uint8]*stream.Stream
	feedback map[uint8]*feedbackReader
	running  map[int]bool
	paused   map[int]bool
	progress map[int]progress
	asleep   bool
	slept    []int
	closed   bool
}

// Attach builds the topology, controls and engines of an audio function, puts every engine on
// its starting format and opens its streams. No stream runs until StartEngine.
func Attach(t Transport, model *descriptors.Model, opts ...Option) (*Driver, error) {
	d := &Driver{
		transport: t,
		model:     model,
		tunables:  config.Defaults(),
		quirks:    config.DefaultQuirks(),
		wall:      timing.HostClock{},
		base:      slog.Default(),
		streams:   map[uint8]*stream.Stream{},
		feedback:  map[uint8]*feedbackReader{},
		running:   map[int]bool{},
		paused:    map[int]bool{},
		progress:  map[int]progress{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.base.With("component", "driver")

	d.graph = topology.Build(model)
	req := transfers.NewRequester(t, model.ControlInterface, transfers.WithLogger(d.base))
	d.control = transfers.NewUACControl(req, model.Protocol)
	var clocks resolver.ClockController
	if model.Protocol == descriptors.ProtocolUAC2 {
		clocks = transfers.NewUAC2ClockControl(req)
	}
	d.resolver = resolver.New(model, d.graph, clocks, resolver.WithLogger(d.base))
	d.gate = gate.New(d.base)
	d.timer = timing.NewTimer(d.tunables.Timing(), t, d.wall, timing.WithLogger(d.base))

	d.surface = controls.NewSurface(d.control, d.graph,
		controls.WithLogger(d.base),
		controls.WithChangeHandler(d.controlChanged),
		controls.WithClockHandler(d.clockStatus))
	if err := d.surface.Populate(); err != nil {
		d.logger.Warn("some controls are unavailable", "error", err)
	}

	quirk, ok := d.quirks.Lookup(d.vendor, d.product)
	if ok {
		d.logger.Info("device quirk applied", "name", quirk.Name, "separate", quirk.SeparateEngines,
			"single", quirk.UseSingleAudioEngine, "single_rate", quirk.SingleSampleRate)
	}
	copts := []engine.Option{
		engine.WithLogger(d.base),
		engine.WithHooks(engine.Hooks{
			Lock:            d.lockEngine,
			Unlock:          d.unlockEngine,
			RatesChanged:    d.ratesChanged,
			RestoreSelector: d.restoreSelector,
		}),
		engine.WithSingleEngine(quirk.UseSingleAudioEngine),
		engine.WithSeparateEngines(quirk.SeparateEngines),
		engine.WithSingleSampleRate(quirk.SingleSampleRate),
		engine.WithIdentity(d.identity),
		engine.WithStreamTiming(d.tunables.StartDelayOffset, d.tunables.FramesPerList),
		engine.WithStrings(t.StringDescriptor),
	}
	if model.Protocol != descriptors.ProtocolUAC2 {
		copts = append(copts, engine.WithEndpointRates(d.control))
	}
	d.coord = engine.NewCoordinator(d.resolver, t, copts...)

	engines, err := d.coord.Build()
	if err != nil {
		return nil, err
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("%w: no usable streaming interface", ErrNoAudioFunction)
	}
	for _, e := range engines {
		if err := d.coord.Activate(e); err != nil {
			return nil, fmt.Errorf("engine %d: %w", e.Index, err)
		}
		for _, m := range e.Members {
			if err := d.openStream(e, m); err != nil {
				return nil, err
			}
		}
	}

	if ep := model.InterruptEndpoint; ep != nil {
		pipe, err := t.StatusPipe(ep.Address)
		if err != nil {
			d.logger.Warn("status endpoint unavailable", "endpoint", ep.Address, "error", err)
		} else {
			d.status = controls.NewStatusReader(pipe, d.surface, d.gate.Post)
		}
	}
	d.logger.Info("attached", "protocol", model.Protocol, "engines", len(engines), "controls", len(d.surface.Controls()))
	return d, nil
}

// openStream creates the stream of a member at its current format. The caller holds d.mu or
// is attaching.
func (d *Driver) openStream(e *engine.Engine, m *engine.Member) error {
	alt := d.model.AltSetting(m.Interface, m.Alt)
	if alt == nil || alt.DataEndpoint == nil {
		return fmt.Errorf("%w: interface %d alt %d has no data endpoint", ErrNoSuchStream, m.Interface, m.Alt)
	}
	pipe, err := d.transport.IsochronousPipe(alt.DataEndpoint)
	if err != nil {
		return fmt.Errorf("interface %d: %w", m.Interface, err)
	}
	cfg := d.tunables.Stream(stream.Config{
		Direction:     alt.Direction(),
		Format:        stream.FormatOf(alt),
		SampleRate:    m.Format.Rate,
		MaxPacketSize: alt.DataEndpoint.PacketSize(),
		SampleOffset:  m.SampleOffset,
		Latency:       m.Latency,
	})
	index := e.Index
	logger := d.base.With("interface", m.Interface)
	s, err := stream.New(cfg, pipe, d.timer,
		stream.WithLogger(logger),
		stream.WithWrapHandler(func(w stream.Wrap) { d.wrapped(index, w) }))
	if err != nil {
		return fmt.Errorf("interface %d: %w", m.Interface, err)
	}
	s.SetMaster(m == e.Master)
	d.streams[m.Interface] = s
	delete(d.feedback, m.Interface)

	if fb := alt.FeedbackEndpoint; fb != nil {
		fp, err := d.transport.IsochronousPipe(fb)
		if err != nil {
			d.logger.Warn("feedback endpoint unavailable", "interface", m.Interface, "endpoint", fb.Address, "error", err)
		} else {
			d.feedback[m.Interface] = newFeedbackReader(fp, s, fb.PacketSize(), logger)
		}
	}
	return nil
}

func (d *Driver) wrapped(index int, w stream.Wrap) {
	d.logger.Log(context.Background(), log.LevelTrace, "wrap", "engine", index, "loops", w.Loops, "frame", w.Frame, "wall", w.Wall)
	if d.onWrap != nil {
		d.onWrap(index, w)
	}
}

func (d *Driver) controlChanged(c controls.Control) {
	d.logger.Debug("control changed", "control", c.Key, "value", c.Value)
	if d.onControl != nil {
		d.onControl(c)
	}
}

// clockStatus is called when a clock entity interrupts, possibly while a format change holds
// the coordinator, so the validity check is posted.
func (d *Driver) clockStatus(msg requests.StatusMessage) {
	d.logger.Info("clock status changed", "entity", msg.Originator)
	d.gate.Post(d.checkClocks)
}

func (d *Driver) checkClocks() {
	if err := d.coord.PollClockValidity(); err != nil {
		d.logger.Warn("clock invalid", "error", err)
	}
}

func (d *Driver) ratesChanged(e *engine.Engine) {
	d.logger.Info("engine formats changed", "engine", e.Index, "rate", e.Master.Format.Rate)
	if d.onRates != nil {
		d.onRates(e)
	}
}

func (d *Driver) restoreSelector(selector, pin uint8) {
	d.logger.Debug("clock selector control restored", "selector", selector, "pin", pin)
	if d.onRestore != nil {
		d.onRestore(selector, pin)
	}
}

// lockEngine stops the engine's streams ahead of a format change without telling the timer.
func (d *Driver) lockEngine(e *engine.Engine) error {
	if err := d.surface.BeginFormatChange(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused[e.Index] = d.running[e.Index]
	if d.running[e.Index] {
		d.stopStreams(e)
	}
	return nil
}

// unlockEngine reopens the streams whose format changed and restarts the engine when it ran
// before the change.
func (d *Driver) unlockEngine(e *engine.Engine, changed []*engine.Member) error {
	var errs []error
	d.mu.Lock()
	for _, m := range changed {
		if err := d.openStream(e, m); err != nil {
			errs = append(errs, err)
		}
	}
	if d.paused[e.Index] {
		if err := d.startStreams(e); err != nil {
			d.running[e.Index] = false
			errs = append(errs, err)
		}
	}
	delete(d.paused, e.Index)
	d.mu.Unlock()
	if err := d.surface.EndFormatChange(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// masterFirst orders an engine's members so that the master's ring starts first.
func masterFirst(e *engine.Engine) []*engine.Member {
	out := []*engine.Member{e.Master}
	for _, m := range e.Members {
		if m != e.Master {
			out = append(out, m)
		}
	}
	return out
}

func (d *Driver) startStreams(e *engine.Engine) error {
	var started []*stream.Stream
	for _, m := range masterFirst(e) {
		s := d.streams[m.Interface]
		if err := s.Start(); err != nil {
			for _, o := range started {
				_ = o.Stop()
			}
			return fmt.Errorf("start interface %d: %w", m.Interface, err)
		}
		started = append(started, s)
		if fb := d.feedback[m.Interface]; fb != nil {
			if err := fb.Start(); err != nil {
				d.logger.Warn("feedback not started", "interface", m.Interface, "error", err)
			}
		}
	}
	d.progress[e.Index] = progress{at: time.Now()}
	return nil
}

func (d *Driver) stopStreams(e *engine.Engine) {
	for _, m := range e.Members {
		if fb := d.feedback[m.Interface]; fb != nil {
			fb.Stop()
		}
		if err := d.streams[m.Interface].Stop(); err != nil {
			d.logger.Debug("stream stop", "interface", m.Interface, "error", err)
		}
	}
}

func (d *Driver) engine(index int) (*engine.Engine, error) {
	engines := d.coord.Engines()
	if index < 0 || index >= len(engines) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchEngine, index)
	}
	return engines[index], nil
}

func (d *Driver) anyRunning() bool {
	for _, on := range d.running {
		if on {
			return true
		}
	}
	return false
}

// StartEngine starts every stream of an engine, master first.
func (d *Driver) StartEngine(index int) error {
	return d.gate.Do(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.startLocked(index)
	})
}

func (d *Driver) startLocked(index int) error {
	switch {
	case d.closed:
		return ErrClosed
	case d.asleep:
		return ErrAsleep
	}
	e, err := d.engine(index)
	if err != nil {
		return err
	}
	if d.running[index] {
		return nil
	}
	if _, _, ok := d.timer.Anchor(); !ok {
		if err := d.timer.Reanchor(); err != nil {
			d.logger.Warn("engine starts without an anchor", "engine", index, "error", err)
		}
	}
	d.timer.SetRunning(true)
	if err := d.startStreams(e); err != nil {
		d.timer.SetRunning(d.anyRunning())
		return err
	}
	d.running[index] = true
	d.logger.Info("engine started", "engine", index, "rate", e.Master.Format.Rate)
	return nil
}

// StopEngine stops every stream of an engine.
func (d *Driver) StopEngine(index int) error {
	return d.gate.Do(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.stopLocked(index)
	})
}

func (d *Driver) stopLocked(index int) error {
	e, err := d.engine(index)
	if err != nil {
		return err
	}
	if !d.running[index] {
		return nil
	}
	d.stopStreams(e)
	d.running[index] = false
	d.timer.SetRunning(d.anyRunning())
	d.logger.Info("engine stopped", "engine", index)
	return nil
}

// Running reports whether an engine is streaming.
func (d *Driver) Running(index int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[index]
}

// ChangeFormat moves one streaming interface to a new format. See engine.Coordinator.
func (d *Driver) ChangeFormat(iface uint8, f engine.Format) error {
	return d.gate.Do(func() error { return d.coord.ChangeFormat(iface, f) })
}

// ChangeRate moves a whole engine to a sample rate.
func (d *Driver) ChangeRate(index int, rate uint32) error {
	return d.gate.Do(func() error { return d.coord.ChangeRate(index, rate) })
}

// SelectClockSource switches a clock selector on an active clock path.
func (d *Driver) SelectClockSource(selector, pin uint8) error {
	return d.gate.Do(func() error { return d.coord.SelectClockSource(selector, pin) })
}

// SetControl writes a control value to the device.
func (d *Driver) SetControl(k controls.Key, value int32) error {
	return d.gate.Do(func() error { return d.surface.SetValue(k, value) })
}

func (d *Driver) Model() *descriptors.Model     { return d.model }
func (d *Driver) Graph() *topology.Graph         { return d.graph }
func (d *Driver) Timer() *timing.Timer           { return d.timer }
func (d *Driver) Engines() []*engine.Engine      { return d.coord.Engines() }
func (d *Driver) Controls() []controls.Control   { return d.surface.Controls() }
func (d *Driver) Tunables() config.Tunables      { return d.tunables }
func (d *Driver) ClockSelectors() []engine.ClockSelector {
	return d.coord.ClockSelectors()
}

// Formats lists what a streaming interface can run.
func (d *Driver) Formats(iface uint8) ([]resolver.Format, error) {
	return d.resolver.Formats(iface)
}

// Stream returns the current stream of an interface. A format change replaces it.
func (d *Driver) Stream(iface uint8) (*stream.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[iface]
	if !ok {
		return nil, fmt.Errorf("%w: interface %d", ErrNoSuchStream, iface)
	}
	return s, nil
}

// Sleep stops the running engines and forgets the anchor. Wake restarts them.
func (d *Driver) Sleep() error {
	return d.gate.Do(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.asleep || d.closed {
			return nil
		}
		var errs []error
		d.slept = nil
		for index, on := range d.running {
			if !on {
				continue
			}
			d.slept = append(d.slept, index)
			errs = append(errs, d.stopLocked(index))
		}
		slices.Sort(d.slept)
		d.timer.Reset()
		d.asleep = true
		d.logger.Info("asleep", "engines", d.slept)
		return errors.Join(errs...)
	})
}

// Wake re-anchors the timer and restarts the engines that ran before Sleep.
func (d *Driver) Wake() error {
	return d.gate.Do(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if !d.asleep {
			return nil
		}
		d.asleep = false
		var errs []error
		if err := d.timer.Reanchor(); err != nil {
			errs = append(errs, fmt.Errorf("re-anchor: %w", err))
		}
		for _, index := range d.slept {
			errs = append(errs, d.startLocked(index))
		}
		d.logger.Info("awake", "engines", d.slept)
		d.slept = nil
		return errors.Join(errs...)
	})
}

// Close stops every engine and returns the streaming interfaces to zero bandwidth. The
// transport stays open.
func (d *Driver) Close() error {
	return d.gate.Do(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.closed {
			return nil
		}
		var errs []error
		for _, e := range d.coord.Engines() {
			errs = append(errs, d.stopLocked(e.Index))
			for _, m := range e.Members {
				if err := d.transport.SetInterfaceAltSetting(m.Interface, 0); err != nil {
					errs = append(errs, fmt.Errorf("interface %d: %w", m.Interface, err))
				}
			}
		}
		d.closed = true
		return errors.Join(errs...)
	})
}

// Run is the polled task: it serves the gate, reads the status endpoint, samples the anchor
// and runs the watchdog until ctx ends.
func (d *Driver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.gate.Run(gctx) })
	if d.status != nil {
		g.Go(func() error { return d.status.Run(gctx) })
	}
	g.Go(func() error { return d.anchor(gctx) })
	g.Go(func() error { return d.watchdog(gctx) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Driver) isAsleep() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.asleep
}

// anchor samples the frame counter at the timer's cadence.
func (d *Driver) anchor(ctx context.Context) error {
	t := time.NewTimer(d.timer.Interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if !d.isAsleep() {
			if err := d.timer.Tick(); err != nil {
				d.logger.Log(ctx, log.LevelTrace, "anchor tick", "error", err)
			}
		}
		t.Reset(d.timer.Interval())
	}
}

func (d *Driver) watchdog(ctx context.Context) error {
	t := time.NewTicker(d.tunables.WatchdogPeriod())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.gate.Post(d.Poll)
		}
	}
}

// Poll is one pass of the low-frequency watchdog. It recovers stalled pipes, restarts engines
// whose input coalescence lags or whose completions stopped, hands scheduled selector
// restores to the publisher and checks clock validity. It runs on the gate.
func (d *Driver) Poll() {
	now := time.Now()
	engines := d.coord.Engines()
	d.mu.Lock()
	if d.closed || d.asleep {
		d.mu.Unlock()
		return
	}
	threshold := d.tunables.CoalesceLagThreshold
	stuck := 4 * d.tunables.WatchdogPeriod()
	for _, e := range engines {
		if !d.running[e.Index] {
			continue
		}
		restart := ""
		for _, m := range e.Members {
			s := d.streams[m.Interface]
			if s.StallPending() {
				if err := s.RecoverStall(); err != nil {
					d.logger.Warn("stall recovery failed", "interface", m.Interface, "error", err)
				} else {
					d.logger.Info("stall recovered", "interface", m.Interface)
				}
			}
			if fb := d.feedback[m.Interface]; fb != nil {
				if err := fb.RecoverStall(); err != nil {
					d.logger.Warn("feedback stall recovery failed", "interface", m.Interface, "error", err)
				}
			}
			if lag := s.CoalesceLag(); threshold > 0 && lag > threshold {
				d.logger.Warn("input coalescence lagging", "interface", m.Interface, "lag", lag, "threshold", threshold)
				restart = "coalescence lag"
			}
		}
		last := d.streams[e.Master.Interface].LastFrame()
		p := d.progress[e.Index]
		switch {
		case last != p.frame:
			d.progress[e.Index] = progress{frame: last, at: now}
		case now.Sub(p.at) > stuck:
			restart = "no completions"
		}
		if restart != "" {
			d.logger.Warn("restarting engine", "engine", e.Index, "reason", restart)
			d.stopStreams(e)
			if err := d.startStreams(e); err != nil {
				d.running[e.Index] = false
				d.timer.SetRunning(d.anyRunning())
				d.logger.Error("engine restart failed", "engine", e.Index, "error", err)
			}
		}
	}
	d.mu.Unlock()

	if d.status != nil && d.status.StallPending() {
		if err := d.status.RecoverStall(); err != nil {
			d.logger.Warn("status pipe recovery failed", "error", err)
		}
	}
	d.coord.FlushRestores()
	if d.model.Protocol == descriptors.ProtocolUAC2 {
		d.checkClocks()
	}
}

// DrainPending runs work posted to the gate when Run is not serving it.
func (d *Driver) DrainPending() {
	d.gate.Drain()
}
