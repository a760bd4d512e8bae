// Package engine partitions the streaming interfaces of an audio function into engines that
// share a sample rate domain, and arbitrates format and clock source changes across them.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/resolver"
	"github.com/kevmo314/go-uac/pkg/topology"
)

var (
	ErrFormatChangeRejected = errors.New("format change rejected")
	ErrClockInvalid         = errors.New("clock source invalid")
)

// Device selects alternate settings of streaming interfaces.
type Device interface {
	SetInterfaceAltSetting(iface, alt uint8) error
}

// EndpointRates sets the sampling frequency of UAC1 endpoints. *transfers.UACControl
// satisfies it.
type EndpointRates interface {
	SetEndpointSampleRate(endpoint uint8, rate uint32) error
}

// Format is what a stream runs at. Zero channels or bit depth keep the current value.
type Format struct {
	Channels uint8
	BitDepth uint8
	Rate     uint32
}

// Member is one streaming interface of an engine.
type Member struct {
	Interface uint8
	Direction descriptors.Direction
	SyncType  descriptors.SyncType
	Alt       uint8
	Format    Format
	// ClockPath is the active clock path, nil on UAC1.
	ClockPath topology.Path
	// SampleOffset and Latency, in sample frames, keep a non-master member on the master's
	// clocking. Both are zero on the master.
	SampleOffset uint32
	Latency      uint32

	clocks []uint8
}

// Endpoint returns the data endpoint of the member's current alternate setting.
func (m *Member) endpoint(model *descriptors.Model) *descriptors.Endpoint {
	if a := model.AltSetting(m.Interface, m.Alt); a != nil {
		return a.DataEndpoint
	}
	return nil
}

type Engine struct {
	Index   int
	Members []*Member
	// Master is the member whose wraps produce the engine's time stamps.
	Master *Member
	// SingleRate engines run every member at the same rate.
	SingleRate bool
	GUID       string
	UUID       uuid.UUID
}

func (e *Engine) Member(iface uint8) *Member {
	for _, m := range e.Members {
		if m.Interface == iface {
			return m
		}
	}
	return nil
}

func (e *Engine) Interfaces() []uint8 {
	out := make([]uint8, 0, len(e.Members))
	for _, m := range e.Members {
		out = append(out, m.Interface)
	}
	return out
}

// Hooks let the caller wrap the device writes of a format change.
type Hooks struct {
	// Lock stops I/O on the engine's streams before the device is touched.
	Lock func(e *Engine) error
	// Unlock resumes I/O. changed lists the members whose format changed.
	Unlock func(e *Engine, changed []*Member) error
	// RatesChanged republishes the formats and rate of an engine.
	RatesChanged func(e *Engine)
	// RestoreSelector puts a clock selector control back on pin.
	RestoreSelector func(selector, pin uint8)
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithHooks(h Hooks) Option {
	return func(c *Coordinator) { c.hooks = h }
}

// WithEndpointRates enables UAC1 endpoint sampling frequency requests.
func WithEndpointRates(r EndpointRates) Option {
	return func(c *Coordinator) { c.endpoints = r }
}

// WithSingleEngine puts every stream into one engine.
func WithSingleEngine(single bool) Option {
	return func(c *Coordinator) { c.singleEngine = single }
}

// WithSeparateEngines gives every stream its own engine.
func WithSeparateEngines(separate bool) Option {
	return func(c *Coordinator) { c.separate = separate }
}

// WithSingleSampleRate marks a UAC1 device that runs all of its streams at one rate.
func WithSingleSampleRate(single bool) Option {
	return func(c *Coordinator) { c.singleRate = single }
}

func WithIdentity(id Identity) Option {
	return func(c *Coordinator) { c.identity = id }
}

// WithStreamTiming sets the frames a stream waits before its first frame list and the frames
// each list carries. They size the corrections of non-master members.
func WithStreamTiming(startDelay uint64, framesPerList int) Option {
	return func(c *Coordinator) { c.startDelay, c.framesPerList = startDelay, framesPerList }
}

// WithStrings resolves string descriptor indices for clock source names.
func WithStrings(fn func(index uint8) (string, error)) Option {
	return func(c *Coordinator) { c.strings = fn }
}

type Coordinator struct {
	model     *descriptors.Model
	graph     *topology.Graph
	resolver  *resolver.Resolver
	dev       Device
	endpoints EndpointRates
	hooks     Hooks
	identity  Identity
	strings   func(uint8) (string, error)
	logger    *slog.Logger

	singleEngine bool
	separate     bool
	singleRate   bool

	startDelay    uint64
	framesPerList int

	// mu guards the engine and stream registries.
	mu       sync.Mutex
	engines  []*Engine
	restores []Restore
}

func NewCoordinator(r *resolver.Resolver, dev Device, opts ...Option) *Coordinator {
	c := &Coordinator{
		model:    r.Model(),
		graph:    r.Graph(),
		resolver: r,
		dev:      dev,
		logger:   slog.Default(),

		startDelay:    3,
		framesPerList: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "engine")
	return c
}

func (c *Coordinator) uac2() bool {
	return c.model.Protocol == descriptors.ProtocolUAC2
}

// Engines returns the engines built so far.
func (c *Coordinator) Engines() []*Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.engines)
}

// Engine returns the engine an interface belongs to.
func (c *Coordinator) Engine(iface uint8) (*Engine, *Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.find(iface)
}

func (c *Coordinator) find(iface uint8) (*Engine, *Member) {
	for _, e := range c.engines {
		if m := e.Member(iface); m != nil {
			return e, m
		}
	}
	return nil, nil
}

// member builds the stream of a streaming interface at its default format. Interfaces without
// a usable alternate setting yield nothing.
func (c *Coordinator) member(s *descriptors.StreamingInterface) *Member {
	formats, err := c.resolver.Formats(s.Number)
	if err != nil || len(formats) == 0 {
		c.logger.Info("interface excluded", "interface", s.Number, "error", err)
		return nil
	}
	alt, rate, err := c.resolver.DefaultSampleRate(s.Number)
	if err != nil {
		c.logger.Info("interface excluded", "interface", s.Number, "error", err)
		return nil
	}
	a := c.model.AltSetting(s.Number, alt)
	m := &Member{
		Interface: s.Number,
		Direction: a.Direction(),
		SyncType:  a.SyncType(),
		Alt:       alt,
		Format:    Format{Channels: a.Channels, BitDepth: a.BitDepth, Rate: rate},
	}
	if c.uac2() {
		for _, p := range c.graph.ClockPaths(c.model.TerminalClock(a.TerminalLink)) {
			if !slices.Contains(m.clocks, p.Last()) {
				m.clocks = append(m.clocks, p.Last())
			}
		}
	}
	return m
}

// commonRate reports whether two interfaces have an alternate setting each that share a rate.
func (c *Coordinator) commonRate(a, b *Member) bool {
	for _, x := range c.model.StreamingInterface(a.Interface).AltSettings {
		xs, err := c.resolver.SampleRates(a.Interface, x.Number)
		if err != nil || !x.Streamable {
			continue
		}
		for _, y := range c.model.StreamingInterface(b.Interface).AltSettings {
			ys, err := c.resolver.SampleRates(b.Interface, y.Number)
			if err == nil && y.Streamable && xs.Intersects(ys) {
				return true
			}
		}
	}
	return false
}

func asyncLike(t descriptors.SyncType) bool {
	return t == descriptors.SyncTypeAsynchronous
}

// declared reports whether an endpoint names its synchronization. An isochronous data
// endpoint with sync type none says nothing about its clock and counts as unknown.
func declared(t descriptors.SyncType) bool {
	switch t {
	case descriptors.SyncTypeAsynchronous, descriptors.SyncTypeAdaptive, descriptors.SyncTypeSynchronous:
		return true
	}
	return false
}

// syncCompatible is the endpoint sync type matrix. An asynchronous input runs with any
// output; any other input needs a synchronous or adaptive output. Streams of the same
// direction must agree on being asynchronous. Undeclared sync types pair with nothing.
func syncCompatible(a, b *Member) bool {
	if !declared(a.SyncType) || !declared(b.SyncType) {
		return false
	}
	if a.Direction == b.Direction {
		return asyncLike(a.SyncType) == asyncLike(b.SyncType)
	}
	in, out := a, b
	if in.Direction == descriptors.DirectionOut {
		in, out = b, a
	}
	if asyncLike(in.SyncType) {
		return true
	}
	return !asyncLike(out.SyncType)
}

// sharedClock reports whether two UAC2 interfaces can be driven from a common clock source.
func sharedClock(a, b *Member) bool {
	for _, id := range a.clocks {
		if slices.Contains(b.clocks, id) {
			return true
		}
	}
	return false
}

func (c *Coordinator) compatible(a, b *Member) bool {
	if !c.commonRate(a, b) {
		return false
	}
	if !syncCompatible(a, b) {
		return false
	}
	return !c.uac2() || sharedClock(a, b)
}

// designateMaster picks an adaptive output, then an input, then the first member.
func designateMaster(members []*Member) *Member {
	for _, m := range members {
		if m.Direction == descriptors.DirectionOut && m.SyncType == descriptors.SyncTypeAdaptive {
			return m
		}
	}
	for _, m := range members {
		if m.Direction == descriptors.DirectionIn {
			return m
		}
	}
	if len(members) == 0 {
		return nil
	}
	return members[0]
}

// Build partitions the streaming interfaces into engines by common rates, compatible sync
// types and, on UAC2, common clocks, then chooses each member's starting format. It does not
// touch the device; see Activate.
func (c *Coordinator) Build() ([]*Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var members []*Member
	for _, s := range c.model.StreamingInterfaces() {
		if m := c.member(s); m != nil {
			members = append(members, m)
		}
	}

	var groups [][]*Member
	switch {
	case c.singleEngine && len(members) > 0:
		groups = [][]*Member{members}
	case c.separate:
		for _, m := range members {
			groups = append(groups, []*Member{m})
		}
	default:
	next:
		for _, m := range members {
			for i, g := range groups {
				ok := true
				for _, o := range g {
					ok = ok && c.compatible(m, o)
				}
				if ok {
					groups[i] = append(g, m)
					continue next
				}
			}
			groups = append(groups, []*Member{m})
		}
	}

	c.engines = nil
	c.resolver.Refresh()
	for _, g := range groups {
		e := &Engine{Index: len(c.engines), Members: g, Master: designateMaster(g)}
		e.SingleRate = len(g) > 1 && (c.uac2() || c.singleRate)
		if err := c.initialFormats(e); err != nil {
			return nil, err
		}
		c.correct(e)
		e.GUID = c.identity.GUID(e.Interfaces())
		e.UUID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(e.GUID))
		c.engines = append(c.engines, e)
		c.logger.Info("engine built", "engine", e.Index, "interfaces", e.Interfaces(), "master", e.Master.Interface, "rate", e.Master.Format.Rate)
	}
	return slices.Clone(c.engines), nil
}

// correct sets the sample offset and latency of every member. A non-master starts
// startDelay frames after the master. One running against the master's direction also waits
// out a frame list in flight, and a frame more when an asynchronous master paces the engine.
func (c *Coordinator) correct(e *Engine) {
	for _, m := range e.Members {
		m.SampleOffset, m.Latency = 0, 0
		if m == e.Master {
			continue
		}
		perFrame := (m.Format.Rate + 999) / 1000
		m.SampleOffset = uint32(c.startDelay) * perFrame
		if m.Direction == e.Master.Direction {
			continue
		}
		m.Latency = uint32(c.framesPerList) * perFrame
		if e.Master.SyncType == descriptors.SyncTypeAsynchronous {
			m.Latency += perFrame
		}
	}
}

// initialFormats starts the master at its default format and moves single-rate sisters onto
// the master's rate.
func (c *Coordinator) initialFormats(e *Engine) error {
	order := append([]*Member{e.Master}, slices.DeleteFunc(slices.Clone(e.Members), func(m *Member) bool { return m == e.Master })...)
	for _, m := range order {
		if e.SingleRate && m != e.Master && m.Format.Rate != e.Master.Format.Rate {
			want := Format{Channels: m.Format.Channels, BitDepth: m.Format.BitDepth, Rate: e.Master.Format.Rate}
			if alt, err := c.resolver.FindAltSetting(m.Interface, want.Channels, want.BitDepth, want.Rate); err == nil {
				m.Alt, m.Format = alt, want
			} else {
				c.logger.Warn("stream cannot run at engine rate", "interface", m.Interface, "rate", want.Rate, "error", err)
			}
		}
		if !c.uac2() {
			continue
		}
		p, err := c.clockPathFor(e, m, m.Alt, m.Format.Rate)
		if err != nil {
			return fmt.Errorf("interface %d: %w", m.Interface, err)
		}
		m.ClockPath = p
		c.resolver.SetActiveClockPath(m.Interface, p)
	}
	return nil
}

// clockPathFor prefers the master's clock path, then the member's current one, then the
// least shared path that runs at rate.
func (c *Coordinator) clockPathFor(e *Engine, m *Member, alt uint8, rate uint32) (topology.Path, error) {
	a := c.model.AltSetting(m.Interface, alt)
	if a == nil {
		return nil, fmt.Errorf("%w: interface %d has no alt %d", resolver.ErrUnsupportedFormat, m.Interface, alt)
	}
	paths := c.graph.ClockPaths(c.model.TerminalClock(a.TerminalLink))
	for _, p := range []topology.Path{e.Master.ClockPath, m.ClockPath} {
		if p == nil || !slices.ContainsFunc(paths, func(q topology.Path) bool { return slices.Equal(p, q) }) {
			continue
		}
		if set, err := c.resolver.PathRates(p); err == nil && set.Supports(rate) {
			return p, nil
		}
	}
	return c.resolver.OptimalClockPath(m.Interface, alt, rate)
}

// Activate writes every member's format to the device.
func (c *Coordinator) Activate(e *Engine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, m := range e.Members {
		if err := c.apply(m, change{m: m, alt: m.Alt, format: m.Format, path: m.ClockPath}); err != nil {
			errs = append(errs, fmt.Errorf("interface %d: %w", m.Interface, err))
		}
	}
	return errors.Join(errs...)
}

// apply selects the alternate setting and puts the clock on the rate.
func (c *Coordinator) apply(m *Member, ch change) error {
	if err := c.dev.SetInterfaceAltSetting(m.Interface, ch.alt); err != nil {
		return fmt.Errorf("select alt %d: %w", ch.alt, err)
	}
	a := c.model.AltSetting(m.Interface, ch.alt)
	if c.uac2() {
		if err := c.resolver.SetClockPathRate(ch.path, ch.format.Rate, true); err != nil {
			return err
		}
		c.resolver.SetActiveClockPath(m.Interface, ch.path)
	} else if ep := a.DataEndpoint; ep != nil && ep.Audio != nil && ep.Audio.HasSamplingFrequencyControl() && c.endpoints != nil {
		if err := c.endpoints.SetEndpointSampleRate(ep.Address, ch.format.Rate); err != nil {
			return fmt.Errorf("set endpoint %#02x to %d Hz: %w", ep.Address, ch.format.Rate, err)
		}
	}
	m.Alt, m.Format, m.ClockPath = ch.alt, ch.format, ch.path
	m.SyncType = a.SyncType()
	return nil
}
