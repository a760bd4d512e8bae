// Package topology enumerates the signal and clock paths of an audio function.
//
// A control path runs from an output terminal back to an input terminal, so index 0 is
// always the output terminal. A clock path runs from the clock entity a terminal references
// back to a clock source.
package topology

import (
	"slices"

	"github.com/kevmo314/go-uac/pkg/descriptors"
)

// Path is an ordered list of entity ids.
type Path []uint8

func (p Path) First() uint8 { return p[0] }
func (p Path) Last() uint8  { return p[len(p)-1] }

func (p Path) Contains(id uint8) bool { return slices.Contains(p, id) }

// Graph is built once from an immutable model.
type Graph struct {
	model *descriptors.Model

	outputs []uint8
	control map[uint8][]Path

	clockRoots []uint8
	clocks     map[uint8][]Path
}

func Build(m *descriptors.Model) *Graph {
	g := &Graph{
		model:   m,
		control: map[uint8][]Path{},
		clocks:  map[uint8][]Path{},
	}
	for _, u := range m.Units() {
		if u.Kind() != descriptors.UnitKindOutputTerminal {
			continue
		}
		g.outputs = append(g.outputs, u.ID())
		g.control[u.ID()] = g.walkControl(Path{u.ID()}, nil)
	}
	for _, u := range m.Units() {
		if u.Kind() != descriptors.UnitKindInputTerminal && u.Kind() != descriptors.UnitKindOutputTerminal {
			continue
		}
		clock := m.TerminalClock(u.ID())
		if clock == 0 || slices.Contains(g.clockRoots, clock) {
			continue
		}
		g.clockRoots = append(g.clockRoots, clock)
		g.clocks[clock] = g.walkClock(Path{clock}, nil)
	}
	return g
}

func (g *Graph) walkControl(p Path, out []Path) []Path {
	id := p.Last()
	kind := g.model.SubType(id)
	if kind == descriptors.UnitKindInputTerminal {
		return append(out, slices.Clone(p))
	}
	if kind.IsClock() {
		return out
	}
	for _, src := range g.model.Sources(id) {
		if p.Contains(src) {
			continue
		}
		out = g.walkControl(append(p, src), out)
	}
	return out
}

func (g *Graph) walkClock(p Path, out []Path) []Path {
	id := p.Last()
	switch g.model.SubType(id) {
	case descriptors.UnitKindClockSource:
		return append(out, slices.Clone(p))
	case descriptors.UnitKindClockSelector, descriptors.UnitKindClockMultiplier:
		for _, src := range g.model.Sources(id) {
			if p.Contains(src) {
				continue
			}
			out = g.walkClock(append(p, src), out)
		}
	}
	return out
}

func (g *Graph) Model() *descriptors.Model { return g.model }

// OutputTerminals lists output terminals in descriptor order.
func (g *Graph) OutputTerminals() []uint8 { return g.outputs }

// ControlPaths returns every control path grouped by output terminal, in the order of
// OutputTerminals.
func (g *Graph) ControlPaths() [][]Path {
	out := make([][]Path, 0, len(g.outputs))
	for _, id := range g.outputs {
		out = append(out, g.control[id])
	}
	return out
}

// PathsFrom returns the control paths that start at an output terminal.
func (g *Graph) PathsFrom(output uint8) []Path { return g.control[output] }

// PathsForTerminal returns the control paths that start or end at a terminal. This is how a
// streaming interface finds its paths from its terminal link.
func (g *Graph) PathsForTerminal(id uint8) []Path {
	var out []Path
	for _, p := range g.all() {
		if p.First() == id || p.Last() == id {
			out = append(out, p)
		}
	}
	return out
}

func (g *Graph) all() []Path {
	var out []Path
	for _, id := range g.outputs {
		out = append(out, g.control[id]...)
	}
	return out
}

// ClockEntities lists the clock entities referenced by terminals.
func (g *Graph) ClockEntities() []uint8 { return g.clockRoots }

// ClockPaths returns the clock paths starting at a terminal-linked clock entity.
func (g *Graph) ClockPaths(entity uint8) []Path { return g.clocks[entity] }

// ActivePaths keeps the paths that agree with the current selector positions. position
// returns the 1-based input pin of a selector unit; selectors it does not know pass.
func (g *Graph) ActivePaths(paths []Path, position func(selector uint8) (uint8, bool)) []Path {
	var out []Path
	for _, p := range paths {
		if g.agrees(p, position) {
			out = append(out, p)
		}
	}
	return out
}

func (g *Graph) agrees(p Path, position func(uint8) (uint8, bool)) bool {
	for i := 0; i < len(p)-1; i++ {
		if g.model.SubType(p[i]) != descriptors.UnitKindSelector {
			continue
		}
		pin, ok := position(p[i])
		if !ok {
			continue
		}
		src := g.model.Sources(p[i])
		if pin == 0 || int(pin) > len(src) || src[pin-1] != p[i+1] {
			return false
		}
	}
	return true
}

// PathsContaining counts the control paths touching a unit.
func (g *Graph) PathsContaining(id uint8) int {
	n := 0
	for _, p := range g.all() {
		if p.Contains(id) {
			n++
		}
	}
	return n
}

// PathsContainingFeatureUnitButNotMixer counts the control paths through a feature unit that
// bypass a mixer.
func (g *Graph) PathsContainingFeatureUnitButNotMixer(fu, mixer uint8) int {
	n := 0
	for _, p := range g.all() {
		if p.Contains(fu) && !p.Contains(mixer) {
			n++
		}
	}
	return n
}

// connectedOutputs lists the non-streaming output terminals with a path back to an input
// terminal.
func (g *Graph) connectedOutputs(input uint8) []uint8 {
	var out []uint8
	for _, id := range g.outputs {
		if g.model.TerminalType(id) == descriptors.TerminalTypeUSBStreaming {
			continue
		}
		for _, p := range g.control[id] {
			if p.Last() == input {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// NumConnectedOutputTerminals decides whether an output selector is worth publishing.
func (g *Graph) NumConnectedOutputTerminals(input uint8) int {
	return len(g.connectedOutputs(input))
}

// DefaultOutputTerminal picks the output an input terminal plays to: a speaker, then
// headphones, then a line connector, then the first one found. It returns 0 when nothing is
// connected.
func (g *Graph) DefaultOutputTerminal(input uint8) uint8 {
	outs := g.connectedOutputs(input)
	if len(outs) == 0 {
		return 0
	}
	for _, want := range []func(descriptors.TerminalType) bool{
		isSpeaker,
		func(t descriptors.TerminalType) bool { return t == descriptors.TerminalTypeHeadphones },
		func(t descriptors.TerminalType) bool { return t == descriptors.TerminalTypeLineConnector },
	} {
		for _, id := range outs {
			if want(g.model.TerminalType(id)) {
				return id
			}
		}
	}
	return outs[0]
}

func isSpeaker(t descriptors.TerminalType) bool {
	switch t {
	case descriptors.TerminalTypeSpeaker, descriptors.TerminalTypeDesktopSpeaker,
		descriptors.TerminalTypeRoomSpeaker, descriptors.TerminalTypeCommunicationSpeaker:
		return true
	}
	return false
}

// Usage is what a control path carries from the host's point of view.
type Usage uint8

const (
	UsageOutput Usage = iota
	UsageInput
	UsagePlaythrough
)

func (u Usage) String() string {
	switch u {
	case UsageInput:
		return "input"
	case UsagePlaythrough:
		return "playthrough"
	}
	return "output"
}

// Control is the feature unit control a caller is placing.
type Control uint8

const (
	ControlVolume Control = iota
	ControlMute
)

func (g *Graph) hasControl(id uint8, control Control) bool {
	if g.model.SubType(id) != descriptors.UnitKindFeature {
		return false
	}
	for ch := 0; ch < g.model.NumControls(id); ch++ {
		switch control {
		case ControlVolume:
			if g.model.ChannelHasVolumeControl(id, ch) {
				return true
			}
		case ControlMute:
			if g.model.ChannelHasMuteControl(id, ch) {
				return true
			}
		}
	}
	return false
}

func (g *Graph) indexOf(p Path, kind descriptors.UnitKind) int {
	for i, id := range p {
		if g.model.SubType(id) == kind {
			return i
		}
	}
	return -1
}

// BestFeatureUnitInPath places a control on a path.
//
// Output controls go on the feature unit closest to the output terminal. Input controls go on
// the one closest to a selector on its output side, or closest to the input terminal when
// there is no selector. Playthrough controls sit between the input terminal and the mixer
// on a unit no mixer-bypassing path shares, or on a unit no other path shares at all.
func (g *Graph) BestFeatureUnitInPath(p Path, usage Usage, control Control) (uint8, bool) {
	fromInput := func(lo int, accept func(uint8) bool) (uint8, bool) {
		for i := len(p) - 1; i >= lo; i-- {
			if g.hasControl(p[i], control) && accept(p[i]) {
				return p[i], true
			}
		}
		return 0, false
	}
	always := func(uint8) bool { return true }

	switch usage {
	case UsageOutput:
		for _, id := range p {
			if g.hasControl(id, control) {
				return id, true
			}
		}
		return 0, false
	case UsageInput:
		if sel := g.indexOf(p, descriptors.UnitKindSelector); sel >= 0 {
			for i := sel - 1; i >= 0; i-- {
				if g.hasControl(p[i], control) {
					return p[i], true
				}
			}
		}
		return fromInput(0, always)
	case UsagePlaythrough:
		if mx := g.indexOf(p, descriptors.UnitKindMixer); mx >= 0 {
			mixer := p[mx]
			return fromInput(mx+1, func(id uint8) bool {
				return g.PathsContainingFeatureUnitButNotMixer(id, mixer) == 0
			})
		}
		return fromInput(0, func(id uint8) bool { return g.PathsContaining(id) == 1 })
	}
	return 0, false
}
