// Package controls keeps the host-visible mute, volume and selector controls of an audio
// function in step with the device.
package controls

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/requests"
	"github.com/kevmo314/go-uac/pkg/topology"
	"github.com/kevmo314/go-uac/pkg/transfers"
)

var ErrNoSuchControl = errors.New("no such control")

// Device is the control interface of an audio function. *transfers.UACControl satisfies it.
type Device interface {
	Mute(unit, channel uint8) (bool, error)
	SetMute(unit, channel uint8, mute bool) error
	Volume(unit, channel uint8) (int16, error)
	SetVolume(unit, channel uint8, volume int16) error
	VolumeRange(unit, channel uint8) (transfers.VolumeRange, error)
	Selector(unit uint8) (uint8, error)
	SetSelector(unit, pin uint8) error
	AcknowledgeStatus(originator uint8) error
}

type Kind uint8

const (
	KindVolume Kind = iota
	KindMute
	KindSelector
)

func (k Kind) String() string {
	switch k {
	case KindMute:
		return "mute"
	case KindSelector:
		return "selector"
	}
	return "volume"
}

// Key identifies a control. Selector controls use channel 0.
type Key struct {
	Kind    Kind
	Unit    uint8
	Channel uint8
}

func (k Key) String() string {
	return fmt.Sprintf("%s unit %d channel %d", k.Kind, k.Unit, k.Channel)
}

// Control is a snapshot of one control.
type Control struct {
	Key
	Usage topology.Usage
	// Scale is set for volume controls.
	Scale VolumeScale
	// Pins are the sources of a selector, pin 1 first.
	Pins  []uint8
	Value int32
}

type state uint8

const (
	stateIdle state = iota
	stateFormatChange
)

type Surface struct {
	dev    Device
	graph  *topology.Graph
	model  *descriptors.Model
	logger *slog.Logger

	onChange func(Control)
	onClock  func(requests.StatusMessage)

	mu       sync.Mutex
	controls map[Key]*Control
	order    []Key
	state    state
	saved    map[Key]int32
	queued   []requests.StatusMessage
}

type Option func(*Surface)

func WithLogger(l *slog.Logger) Option {
	return func(s *Surface) { s.logger = l }
}

// WithChangeHandler is called for every control whose value changed on the device.
func WithChangeHandler(fn func(Control)) Option {
	return func(s *Surface) { s.onChange = fn }
}

// WithClockHandler receives UAC2 status messages raised by clock entities.
func WithClockHandler(fn func(requests.StatusMessage)) Option {
	return func(s *Surface) { s.onClock = fn }
}

func NewSurface(dev Device, g *topology.Graph, opts ...Option) *Surface {
	s := &Surface{
		dev:      dev,
		graph:    g,
		model:    g.Model(),
		logger:   slog.Default(),
		controls: map[Key]*Control{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "controls")
	return s
}

func (s *Surface) add(c *Control) {
	if _, ok := s.controls[c.Key]; !ok {
		s.order = append(s.order, c.Key)
	}
	s.controls[c.Key] = c
}

// AddFeatureUnitControls reads and adds the mute and volume controls of every channel of a
// feature unit. A channel that cannot be read or reports a zero volume resolution is left
// out; the errors of all such channels are joined.
func (s *Surface) AddFeatureUnitControls(unit uint8, usage topology.Usage) error {
	if s.model.SubType(unit) != descriptors.UnitKindFeature {
		return fmt.Errorf("%w: unit %d is not a feature unit", ErrNoSuchControl, unit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for i := 0; i < s.model.NumControls(unit); i++ {
		ch := uint8(i)
		if s.model.ChannelHasMuteControl(unit, i) {
			mute, err := s.dev.Mute(unit, ch)
			if err != nil {
				errs = append(errs, fmt.Errorf("mute of unit %d channel %d: %w", unit, ch, err))
			} else {
				s.add(&Control{Key: Key{KindMute, unit, ch}, Usage: usage, Value: boolValue(mute)})
			}
		}
		if s.model.ChannelHasVolumeControl(unit, i) {
			c, err := s.readVolume(unit, ch, usage)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			s.add(c)
		}
	}
	s.logger.Debug("feature unit controls added", "unit", unit, "usage", usage, "failed", len(errs))
	return errors.Join(errs...)
}

func (s *Surface) readVolume(unit, ch uint8, usage topology.Usage) (*Control, error) {
	r, err := s.dev.VolumeRange(unit, ch)
	if err != nil {
		return nil, fmt.Errorf("volume range of unit %d channel %d: %w", unit, ch, err)
	}
	scale, err := NewVolumeScale(r)
	if err != nil {
		return nil, fmt.Errorf("unit %d channel %d: %w", unit, ch, err)
	}
	v, err := s.dev.Volume(unit, ch)
	if err != nil {
		return nil, fmt.Errorf("volume of unit %d channel %d: %w", unit, ch, err)
	}
	return &Control{Key: Key{KindVolume, unit, ch}, Usage: usage, Scale: scale, Value: scale.ControlValue(v)}, nil
}

// AddSelectorControl adds the input source control of a selector unit.
func (s *Surface) AddSelectorControl(unit uint8, usage topology.Usage) error {
	if s.model.SubType(unit) != descriptors.UnitKindSelector {
		return fmt.Errorf("%w: unit %d is not a selector unit", ErrNoSuchControl, unit)
	}
	pin, err := s.dev.Selector(unit)
	if err != nil {
		return fmt.Errorf("selector %d: %w", unit, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(&Control{
		Key:   Key{KindSelector, unit, 0},
		Usage: usage,
		Pins:  slices.Clone(s.model.Sources(unit)),
		Value: int32(pin),
	})
	return nil
}

// PathUsage classifies a control path by the terminals at its ends.
func PathUsage(m *descriptors.Model, p topology.Path) topology.Usage {
	switch {
	case m.TerminalType(p.First()) == descriptors.TerminalTypeUSBStreaming:
		return topology.UsageInput
	case m.TerminalType(p.Last()) == descriptors.TerminalTypeUSBStreaming:
		return topology.UsageOutput
	}
	return topology.UsagePlaythrough
}

// Populate places controls on every control path: one feature unit per path and control type,
// plus the selector of each input path.
func (s *Surface) Populate() error {
	var errs []error
	done := map[uint8]bool{}
	for _, paths := range s.graph.ControlPaths() {
		for _, p := range paths {
			usage := PathUsage(s.model, p)
			for _, want := range []topology.Control{topology.ControlVolume, topology.ControlMute} {
				fu, ok := s.graph.BestFeatureUnitInPath(p, usage, want)
				if !ok || done[fu] {
					continue
				}
				done[fu] = true
				if err := s.AddFeatureUnitControls(fu, usage); err != nil {
					errs = append(errs, err)
				}
			}
			if usage != topology.UsageInput {
				continue
			}
			for _, id := range p {
				if s.model.SubType(id) == descriptors.UnitKindSelector && !done[id] {
					done[id] = true
					if err := s.AddSelectorControl(id, usage); err != nil {
						errs = append(errs, err)
					}
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Controls returns a snapshot of every control in the order they were added.
func (s *Surface) Controls() []Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Control, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.controls[k])
	}
	return out
}

func (s *Surface) Control(k Key) (Control, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controls[k]
	if !ok {
		return Control{}, false
	}
	return *c, true
}

// SelectorPosition reports the pin of a selector control. It matches the position callback of
// topology.Graph.ActivePaths.
func (s *Surface) SelectorPosition(unit uint8) (uint8, bool) {
	c, ok := s.Control(Key{KindSelector, unit, 0})
	return uint8(c.Value), ok
}

// SetValue writes a control value to the device.
func (s *Surface) SetValue(k Key, value int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controls[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchControl, k)
	}
	if err := s.write(c, value); err != nil {
		return err
	}
	c.Value = value
	return nil
}

func (s *Surface) write(c *Control, value int32) error {
	switch c.Kind {
	case KindMute:
		return s.dev.SetMute(c.Unit, c.Channel, value != 0)
	case KindVolume:
		if value < 0 || value > c.Scale.MaxValue() {
			return fmt.Errorf("%w: volume %d outside 0..%d", ErrNoSuchControl, value, c.Scale.MaxValue())
		}
		return s.dev.SetVolume(c.Unit, c.Channel, c.Scale.DeviceVolume(value))
	case KindSelector:
		if value < 1 || int(value) > len(c.Pins) {
			return fmt.Errorf("%w: selector %d has no pin %d", ErrNoSuchControl, c.Unit, value)
		}
		return s.dev.SetSelector(c.Unit, uint8(value))
	}
	return nil
}

func (s *Surface) read(c *Control) (int32, error) {
	switch c.Kind {
	case KindMute:
		mute, err := s.dev.Mute(c.Unit, c.Channel)
		return boolValue(mute), err
	case KindVolume:
		v, err := s.dev.Volume(c.Unit, c.Channel)
		return c.Scale.ControlValue(v), err
	case KindSelector:
		pin, err := s.dev.Selector(c.Unit)
		return int32(pin), err
	}
	return 0, nil
}

// Refresh re-reads every control of a unit and reports the ones that changed.
func (s *Surface) Refresh(unit uint8) error {
	s.mu.Lock()
	changed, err := s.refreshLocked(unit)
	s.mu.Unlock()
	s.notify(changed)
	return err
}

func (s *Surface) refreshLocked(unit uint8) ([]Control, error) {
	var changed []Control
	var errs []error
	for _, k := range s.order {
		if k.Unit != unit {
			continue
		}
		c := s.controls[k]
		v, err := s.read(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		if v != c.Value {
			c.Value = v
			changed = append(changed, *c)
		}
	}
	return changed, errors.Join(errs...)
}

func (s *Surface) notify(changed []Control) {
	if s.onChange == nil {
		return
	}
	for _, c := range changed {
		s.onChange(c)
	}
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
