// Package resolver matches requested formats against what a device can do: which alternate
// setting carries a format, which rates a clock path supports, and how to put a clock path
// on a rate.
package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/requests"
	"github.com/kevmo314/go-uac/pkg/topology"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

// ClockController drives UAC2 clock entities. *transfers.UAC2ClockControl satisfies it.
type ClockController interface {
	ClockFrequency(clockID uint8) (uint32, error)
	SetClockFrequency(clockID uint8, freq uint32) error
	ClockFrequencyRanges(clockID uint8) ([]requests.SubRange, error)
	ClockValid(clockID uint8) (bool, error)
	ClockSelector(selectorID uint8) (uint8, error)
	SetClockSelector(selectorID, pin uint8) error
	ClockMultiplierRatio(multiplierID uint8) (num, den uint16, err error)
}

type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

type Resolver struct {
	model  *descriptors.Model
	graph  *topology.Graph
	clocks ClockController
	logger *slog.Logger

	mu     sync.Mutex
	ranges map[uint8]descriptors.RateSet
	active map[uint8]topology.Path
}

// New returns a resolver. clocks may be nil for UAC1 devices.
func New(m *descriptors.Model, g *topology.Graph, clocks ClockController, opts ...Option) *Resolver {
	r := &Resolver{
		model:  m,
		graph:  g,
		clocks: clocks,
		logger: slog.Default(),
		ranges: map[uint8]descriptors.RateSet{},
		active: map[uint8]topology.Path{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "resolver")
	return r
}

func (r *Resolver) Model() *descriptors.Model { return r.model }
func (r *Resolver) Graph() *topology.Graph     { return r.graph }

func (r *Resolver) uac2() bool {
	return r.model.Protocol == descriptors.ProtocolUAC2 && r.clocks != nil
}

// Refresh forgets cached clock source ranges. Call it after a clock source switch.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.ranges)
}

func (r *Resolver) sourceRates(id uint8) (descriptors.RateSet, error) {
	r.mu.Lock()
	if set, ok := r.ranges[id]; ok {
		r.mu.Unlock()
		return set, nil
	}
	r.mu.Unlock()

	subs, err := r.clocks.ClockFrequencyRanges(id)
	if err != nil {
		return descriptors.RateSet{}, fmt.Errorf("clock source %d ranges: %w", id, err)
	}
	var set descriptors.RateSet
	for _, s := range subs {
		if s.Min == s.Max {
			set.Discrete = append(set.Discrete, s.Min)
			continue
		}
		set.Ranges = append(set.Ranges, descriptors.RateRange{Min: s.Min, Max: s.Max, Res: s.Res})
	}
	r.mu.Lock()
	r.ranges[id] = set
	r.mu.Unlock()
	return set, nil
}

// PathRates is the set of rates a clock path can deliver at its first entity.
func (r *Resolver) PathRates(path topology.Path) (descriptors.RateSet, error) {
	var set descriptors.RateSet
	for i := len(path) - 1; i >= 0; i-- {
		id := path[i]
		switch r.model.SubType(id) {
		case descriptors.UnitKindClockSource:
			s, err := r.sourceRates(id)
			if err != nil {
				return descriptors.RateSet{}, err
			}
			set = s
		case descriptors.UnitKindClockMultiplier:
			num, den, err := r.clocks.ClockMultiplierRatio(id)
			if err != nil {
				return descriptors.RateSet{}, fmt.Errorf("clock multiplier %d: %w", id, err)
			}
			set = set.Scale(uint32(num), uint32(den))
		}
	}
	return set, nil
}

func (r *Resolver) clockPaths(iface, alt uint8) []topology.Path {
	return r.graph.ClockPaths(r.model.TerminalClock(r.model.TerminalLink(iface, alt)))
}

// SampleRates is the union of rates an alternate setting can run at. UAC1 rates come from the
// format descriptor; UAC2 rates from every clock path of the terminal the alt links to.
func (r *Resolver) SampleRates(iface, alt uint8) (descriptors.RateSet, error) {
	if !r.uac2() {
		return r.model.SampleRates(iface, alt), nil
	}
	paths := r.clockPaths(iface, alt)
	if len(paths) == 0 {
		return descriptors.RateSet{}, fmt.Errorf("%w: interface %d alt %d has no clock path", ErrUnsupportedFormat, iface, alt)
	}
	var out descriptors.RateSet
	for _, p := range paths {
		set, err := r.PathRates(p)
		if err != nil {
			return descriptors.RateSet{}, err
		}
		out.Discrete = append(out.Discrete, set.Discrete...)
		out.Ranges = append(out.Ranges, set.Ranges...)
	}
	return out, nil
}

func (r *Resolver) SupportsRate(iface, alt uint8, rate uint32) bool {
	set, err := r.SampleRates(iface, alt)
	return err == nil && set.Supports(rate)
}

// SetActiveClockPath records the clock path a streaming interface runs on.
func (r *Resolver) SetActiveClockPath(iface uint8, path topology.Path) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if path == nil {
		delete(r.active, iface)
		return
	}
	r.active[iface] = path
}

func (r *Resolver) ActiveClockPath(iface uint8) topology.Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[iface]
}

// usage counts how many entities of a path are on other interfaces' active clock paths.
func (r *Resolver) usage(iface uint8, path topology.Path) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for other, p := range r.active {
		if other == iface {
			continue
		}
		for _, id := range path {
			if p.Contains(id) {
				n++
			}
		}
	}
	return n
}

// OptimalClockPath chooses the clock path for an alt at a rate: among the paths that support
// the rate, the one sharing the fewest entities with other interfaces' active paths.
func (r *Resolver) OptimalClockPath(iface, alt uint8, rate uint32) (topology.Path, error) {
	var (
		best  topology.Path
		score int
	)
	for _, p := range r.clockPaths(iface, alt) {
		set, err := r.PathRates(p)
		if err != nil {
			r.logger.Debug("clock path skipped", "path", p, "error", err)
			continue
		}
		if !set.Supports(rate) {
			continue
		}
		if u := r.usage(iface, p); best == nil || u < score {
			best, score = p, u
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no clock path of interface %d alt %d runs at %d Hz", ErrUnsupportedFormat, iface, alt, rate)
	}
	return best, nil
}

// SetClockPathRate puts every entity of a clock path on a rate: selectors are routed along the
// path, multipliers divide the rate before it reaches their source, and programmable sources
// are set. With strict set, a source that cannot be programmed must already run at the rate.
func (r *Resolver) SetClockPathRate(path topology.Path, rate uint32, strict bool) error {
	cur := rate
	for i, id := range path {
		switch r.model.SubType(id) {
		case descriptors.UnitKindClockSelector:
			if i+1 >= len(path) {
				return fmt.Errorf("clock selector %d ends a clock path", id)
			}
			n := slices.Index(r.model.ClockSelectorSources(id), path[i+1])
			if n < 0 {
				return fmt.Errorf("clock selector %d has no input %d", id, path[i+1])
			}
			pin := uint8(n + 1)
			if got, err := r.clocks.ClockSelector(id); err == nil && got == pin {
				continue
			}
			if err := r.clocks.SetClockSelector(id, pin); err != nil {
				return fmt.Errorf("route clock selector %d to pin %d: %w", id, pin, err)
			}
		case descriptors.UnitKindClockMultiplier:
			num, den, err := r.clocks.ClockMultiplierRatio(id)
			if err != nil {
				return fmt.Errorf("clock multiplier %d: %w", id, err)
			}
			if num == 0 || uint64(cur)*uint64(den)%uint64(num) != 0 {
				return fmt.Errorf("%w: %d Hz is not reachable through multiplier %d (%d/%d)", ErrUnsupportedFormat, cur, id, num, den)
			}
			cur = uint32(uint64(cur) * uint64(den) / uint64(num))
		case descriptors.UnitKindClockSource:
			cs, _ := r.model.Unit(id).(*descriptors.ClockSourceDescriptor)
			if cs != nil && cs.FrequencyControlWritable() {
				if err := r.clocks.SetClockFrequency(id, cur); err != nil {
					return fmt.Errorf("set clock source %d to %d Hz: %w", id, cur, err)
				}
				continue
			}
			if !strict {
				continue
			}
			got, err := r.clocks.ClockFrequency(id)
			if err != nil {
				return fmt.Errorf("read clock source %d: %w", id, err)
			}
			if got != cur {
				return fmt.Errorf("%w: clock source %d runs at %d Hz, not %d Hz", ErrUnsupportedFormat, id, got, cur)
			}
		}
	}
	return nil
}

// ClockPathRate reads the rate a clock path delivers at its first entity.
func (r *Resolver) ClockPathRate(path topology.Path) (uint32, error) {
	if len(path) == 0 {
		return 0, fmt.Errorf("empty clock path")
	}
	src := path.Last()
	rate, err := r.clocks.ClockFrequency(src)
	if err != nil {
		return 0, fmt.Errorf("read clock source %d: %w", src, err)
	}
	for i := len(path) - 2; i >= 0; i-- {
		if r.model.SubType(path[i]) != descriptors.UnitKindClockMultiplier {
			continue
		}
		num, den, err := r.clocks.ClockMultiplierRatio(path[i])
		if err != nil {
			return 0, fmt.Errorf("clock multiplier %d: %w", path[i], err)
		}
		rate = uint32(uint64(rate) * uint64(num) / uint64(den))
	}
	return rate, nil
}

// ClockPathValid reads the validity control of the source at the end of a path. Sources
// without one are taken as valid.
func (r *Resolver) ClockPathValid(path topology.Path) (bool, error) {
	if len(path) == 0 {
		return false, nil
	}
	src := path.Last()
	if !r.model.ClockSourceHasValidityControl(src) {
		return true, nil
	}
	return r.clocks.ClockValid(src)
}

// FindAltSetting returns the first streamable alternate setting with a format that runs at
// rate.
func (r *Resolver) FindAltSetting(iface uint8, channels, bitDepth uint8, rate uint32) (uint8, error) {
	s := r.model.StreamingInterface(iface)
	if s == nil {
		return 0, fmt.Errorf("%w: no streaming interface %d", ErrUnsupportedFormat, iface)
	}
	for _, a := range s.AltSettings {
		if !a.Streamable || a.Channels != channels || a.BitDepth != bitDepth {
			continue
		}
		if r.SupportsRate(iface, a.Number, rate) {
			return a.Number, nil
		}
	}
	return 0, fmt.Errorf("%w: interface %d has no %d channel %d-bit alt at %d Hz", ErrUnsupportedFormat, iface, channels, bitDepth, rate)
}

// DefaultSampleRate picks the format an interface starts in: stereo 16-bit at 44100 Hz, mono
// 16-bit at 44100 Hz, stereo 16-bit at its highest rate, mono 16-bit at its highest rate,
// then the first alt at its highest rate.
func (r *Resolver) DefaultSampleRate(iface uint8) (alt uint8, rate uint32, err error) {
	s := r.model.StreamingInterface(iface)
	if s == nil {
		return 0, 0, fmt.Errorf("%w: no streaming interface %d", ErrUnsupportedFormat, iface)
	}
	type candidate struct {
		alt   *descriptors.AltSetting
		rates descriptors.RateSet
	}
	var alts []candidate
	for _, a := range s.AltSettings {
		if !a.Streamable {
			continue
		}
		set, err := r.SampleRates(iface, a.Number)
		if err != nil || set.Empty() {
			r.logger.Debug("alt hidden", "interface", iface, "alt", a.Number, "error", err)
			continue
		}
		alts = append(alts, candidate{a, set})
	}
	if len(alts) == 0 {
		return 0, 0, fmt.Errorf("%w: interface %d has no usable alt", ErrUnsupportedFormat, iface)
	}
	for _, want := range []struct {
		channels uint8
		rate     uint32
	}{{2, 44100}, {1, 44100}, {2, 0}, {1, 0}} {
		for _, c := range alts {
			if c.alt.Channels != want.channels || c.alt.BitDepth != 16 {
				continue
			}
			if want.rate == 0 {
				return c.alt.Number, c.rates.Highest(), nil
			}
			if c.rates.Supports(want.rate) {
				return c.alt.Number, want.rate, nil
			}
		}
	}
	return alts[0].alt.Number, alts[0].rates.Highest(), nil
}
