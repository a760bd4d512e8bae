package topology_test

import (
	"testing"

	"github.com/kevmo314/go-uac/internal/fakedevice"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, raw []byte) *topology.Graph {
	t.Helper()
	m, err := descriptors.ParseConfiguration(raw)
	require.NoError(t, err)
	return topology.Build(m)
}

func TestControlPaths(t *testing.T) {
	g := build(t, fakedevice.UAC1StudioConfig())

	assert.Equal(t, []uint8{3, 11, 6}, g.OutputTerminals())
	assert.Equal(t, [][]topology.Path{
		{{3, 10, 9, 2, 1}, {3, 10, 9, 8, 13, 4}},
		{{11, 9, 2, 1}, {11, 9, 8, 13, 4}},
		{{6, 5, 12, 13, 4}, {6, 5, 12, 7}},
	}, g.ControlPaths())

	for _, group := range g.ControlPaths() {
		for _, p := range group {
			m := g.Model()
			assert.Equal(t, descriptors.UnitKindOutputTerminal, m.SubType(p.First()))
			assert.Equal(t, descriptors.UnitKindInputTerminal, m.SubType(p.Last()))
			seen := map[uint8]bool{}
			for _, id := range p {
				assert.False(t, seen[id], "unit %d repeats in %v", id, p)
				seen[id] = true
			}
		}
	}

	assert.Len(t, g.PathsForTerminal(fakedevice.SpeakerStreamingTerminal), 2)
	assert.Len(t, g.PathsForTerminal(fakedevice.MicrophoneStreamingTerminal), 2)
}

func TestPathCounts(t *testing.T) {
	g := build(t, fakedevice.UAC1StudioConfig())

	assert.Equal(t, 4, g.PathsContaining(fakedevice.MonitorMixer))
	assert.Equal(t, 3, g.PathsContaining(fakedevice.MicrophoneTerminal))
	assert.Equal(t, 2, g.PathsContaining(fakedevice.SpeakerFeatureUnit))
	assert.Equal(t, 1, g.PathsContaining(fakedevice.LineInTerminal))
	assert.Zero(t, g.PathsContaining(0x40))

	assert.Equal(t, 1, g.PathsContainingFeatureUnitButNotMixer(fakedevice.MicrophonePreampUnit, fakedevice.MonitorMixer))
	assert.Zero(t, g.PathsContainingFeatureUnitButNotMixer(fakedevice.MonitorFeatureUnit, fakedevice.MonitorMixer))
}

func TestDefaultOutputTerminal(t *testing.T) {
	g := build(t, fakedevice.UAC1StudioConfig())

	assert.Equal(t, fakedevice.SpeakerOutputTerminal, g.DefaultOutputTerminal(fakedevice.SpeakerStreamingTerminal))
	assert.Equal(t, 2, g.NumConnectedOutputTerminals(fakedevice.SpeakerStreamingTerminal))
	assert.Equal(t, fakedevice.SpeakerOutputTerminal, g.DefaultOutputTerminal(fakedevice.MicrophoneTerminal))

	// the line input only reaches the streaming terminal
	assert.Zero(t, g.DefaultOutputTerminal(fakedevice.LineInTerminal))
	assert.Zero(t, g.NumConnectedOutputTerminals(fakedevice.LineInTerminal))
}

func TestBestFeatureUnitInPath(t *testing.T) {
	g := build(t, fakedevice.UAC1StudioConfig())

	playback := topology.Path{3, 10, 9, 2, 1}
	monitor := topology.Path{3, 10, 9, 8, 13, 4}
	record := topology.Path{6, 5, 12, 13, 4}
	line := topology.Path{6, 5, 12, 7}

	cases := []struct {
		name    string
		path    topology.Path
		usage   topology.Usage
		control topology.Control
		want    uint8
		ok      bool
	}{
		{"output mute at the output terminal", playback, topology.UsageOutput, topology.ControlMute, fakedevice.MasterFeatureUnit, true},
		{"output volume skips mute-only unit", playback, topology.UsageOutput, topology.ControlVolume, fakedevice.SpeakerFeatureUnit, true},
		{"input after the selector", record, topology.UsageInput, topology.ControlVolume, fakedevice.MicrophoneFeatureUnit, true},
		{"input without selector", playback, topology.UsageInput, topology.ControlVolume, fakedevice.SpeakerFeatureUnit, true},
		{"playthrough skips shared unit", monitor, topology.UsagePlaythrough, topology.ControlVolume, fakedevice.MonitorFeatureUnit, true},
		{"playthrough without mixer needs a unique unit", line, topology.UsagePlaythrough, topology.ControlVolume, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := g.BestFeatureUnitInPath(c.path, c.usage, c.control)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestActivePaths(t *testing.T) {
	g := build(t, fakedevice.UAC1StudioConfig())
	paths := g.PathsFrom(fakedevice.MicrophoneStreamingTerminal)

	position := func(pin uint8) func(uint8) (uint8, bool) {
		return func(id uint8) (uint8, bool) { return pin, id == fakedevice.RecordSelector }
	}
	assert.Equal(t, []topology.Path{{6, 5, 12, 13, 4}}, g.ActivePaths(paths, position(1)))
	assert.Equal(t, []topology.Path{{6, 5, 12, 7}}, g.ActivePaths(paths, position(2)))
	assert.Empty(t, g.ActivePaths(paths, position(3)))
}

func TestClockPaths(t *testing.T) {
	g := build(t, fakedevice.UAC2DuplexConfig())

	assert.Equal(t, []uint8{fakedevice.ClockSwitch}, g.ClockEntities())
	assert.Equal(t, []topology.Path{
		{fakedevice.ClockSwitch, fakedevice.InternalClock},
		{fakedevice.ClockSwitch, fakedevice.ExternalClock},
	}, g.ClockPaths(fakedevice.ClockSwitch))
	assert.Empty(t, g.ClockPaths(fakedevice.InternalClock))
}

func TestClockPathsThroughMultiplier(t *testing.T) {
	const multiplier = 0x13
	b := fakedevice.NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC2, 0).
		HeaderUAC2(0x40).
		ClockSource(fakedevice.InternalClock, 0x03, 0x07, 0).
		ClockSource(fakedevice.ExternalClock, 0x00, 0x04, 0).
		ClockMultiplier(multiplier, fakedevice.InternalClock).
		ClockSelector(fakedevice.ClockSwitch, multiplier, fakedevice.ExternalClock).
		InputTerminalUAC2(fakedevice.SpeakerStreamingTerminal, descriptors.TerminalTypeUSBStreaming, fakedevice.ClockSwitch, 2).
		OutputTerminalUAC2(fakedevice.SpeakerOutputTerminal, descriptors.TerminalTypeSpeaker, fakedevice.SpeakerStreamingTerminal, fakedevice.InternalClock)
	g := build(t, b.Bytes())

	assert.Equal(t, []uint8{fakedevice.ClockSwitch, fakedevice.InternalClock}, g.ClockEntities())
	paths := g.ClockPaths(fakedevice.ClockSwitch)
	assert.Equal(t, []topology.Path{
		{fakedevice.ClockSwitch, multiplier, fakedevice.InternalClock},
		{fakedevice.ClockSwitch, fakedevice.ExternalClock},
	}, paths)
	for _, p := range paths {
		assert.Equal(t, descriptors.UnitKindClockSource, g.Model().SubType(p.Last()))
	}
	assert.Equal(t, []topology.Path{{fakedevice.InternalClock}}, g.ClockPaths(fakedevice.InternalClock))
}
