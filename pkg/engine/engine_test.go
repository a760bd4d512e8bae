package engine_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kevmo314/go-uac/internal/fakedevice"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/engine"
	"github.com/kevmo314/go-uac/pkg/resolver"
	"github.com/kevmo314/go-uac/pkg/topology"
	"github.com/kevmo314/go-uac/pkg/transfers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	internalPath = topology.Path{fakedevice.ClockSwitch, fakedevice.InternalClock}
	externalPath = topology.Path{fakedevice.ClockSwitch, fakedevice.ExternalClock}
)

// uac1Duplex is a UAC1 device with a stereo output on interface 1 and a stereo input on
// interface 2, both with sampling frequency control.
func uac1Duplex(outAttributes, inAttributes uint8, inRates ...uint32) []byte {
	b := fakedevice.NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC1, 0).
		HeaderUAC1(0x80, 1, 2).
		InputTerminalUAC1(fakedevice.SpeakerStreamingTerminal, descriptors.TerminalTypeUSBStreaming, 2, 0x0003).
		OutputTerminalUAC1(fakedevice.SpeakerOutputTerminal, descriptors.TerminalTypeSpeaker, fakedevice.SpeakerStreamingTerminal).
		InputTerminalUAC1(fakedevice.MicrophoneTerminal, descriptors.TerminalTypeMicrophone, 2, 0x0003).
		OutputTerminalUAC1(fakedevice.MicrophoneStreamingTerminal, descriptors.TerminalTypeUSBStreaming, fakedevice.MicrophoneTerminal)
	b.Interface(1, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(1, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(fakedevice.SpeakerStreamingTerminal, descriptors.FormatCodePCM).
		FormatTypeIUAC1(2, 2, 16, 44100, 48000).
		Endpoint(0x01, outAttributes, 196, 1, 0).
		EndpointGeneralUAC1(0x01)
	b.Interface(2, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(2, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(fakedevice.MicrophoneStreamingTerminal, descriptors.FormatCodePCM).
		FormatTypeIUAC1(2, 2, 16, inRates...).
		Endpoint(0x82, inAttributes, 196, 1, 0).
		EndpointGeneralUAC1(0x01)
	return b.Bytes()
}

func uac1DuplexDevice() *fakedevice.Device {
	return fakedevice.NewDevice(descriptors.ProtocolUAC1).AddEndpoint(0x01, 44100).AddEndpoint(0x82, 44100)
}

const (
	syncAsync    = 0x05
	syncAdaptive = 0x09
	syncSync     = 0x0D
)

type recorder struct {
	events   []string
	changed  [][]uint8
	restores []engine.Restore
}

func (r *recorder) hooks() engine.Hooks {
	return engine.Hooks{
		Lock: func(*engine.Engine) error {
			r.events = append(r.events, "lock")
			return nil
		},
		Unlock: func(_ *engine.Engine, changed []*engine.Member) error {
			r.events = append(r.events, "unlock")
			var ifaces []uint8
			for _, m := range changed {
				ifaces = append(ifaces, m.Interface)
			}
			r.changed = append(r.changed, ifaces)
			return nil
		},
		RatesChanged: func(*engine.Engine) { r.events = append(r.events, "rates") },
		RestoreSelector: func(selector, pin uint8) {
			r.restores = append(r.restores, engine.Restore{Selector: selector, Pin: pin})
		},
	}
}

func newCoordinator(t *testing.T, raw []byte, dev *fakedevice.Device, opts ...engine.Option) *engine.Coordinator {
	t.Helper()
	m, err := descriptors.ParseConfiguration(raw)
	require.NoError(t, err)
	req := transfers.NewRequester(dev, m.ControlInterface, transfers.WithRetries(1, 0))
	var clocks resolver.ClockController
	if m.Protocol == descriptors.ProtocolUAC2 {
		clocks = transfers.NewUAC2ClockControl(req)
	}
	r := resolver.New(m, topology.Build(m), clocks)
	opts = append([]engine.Option{engine.WithEndpointRates(transfers.NewUACControl(req, m.Protocol))}, opts...)
	return engine.NewCoordinator(r, dev, opts...)
}

func build(t *testing.T, c *engine.Coordinator) []*engine.Engine {
	t.Helper()
	engines, err := c.Build()
	require.NoError(t, err)
	for _, e := range engines {
		require.NoError(t, c.Activate(e))
	}
	return engines
}

func TestBuildUAC2Duplex(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	id := engine.Identity{Vendor: "Acme", Product: "Duplex", Serial: "1234"}
	c := newCoordinator(t, fakedevice.UAC2DuplexConfig(), dev, engine.WithIdentity(id))
	engines := build(t, c)

	require.Len(t, engines, 1)
	e := engines[0]
	assert.Equal(t, []uint8{1, 2}, e.Interfaces())
	assert.True(t, e.SingleRate)
	require.NotNil(t, e.Master)
	assert.Equal(t, uint8(2), e.Master.Interface)
	for _, m := range e.Members {
		assert.Equal(t, engine.Format{Channels: 2, BitDepth: 16, Rate: 44100}, m.Format)
		assert.Equal(t, internalPath, m.ClockPath)
		assert.Equal(t, uint8(1), dev.AltSetting(m.Interface))
	}
	assert.Equal(t, uint32(44100), dev.Clock(fakedevice.InternalClock).Freq)
	assert.Equal(t, uint8(1), dev.Selector(fakedevice.ClockSwitch))

	// the output runs against an asynchronous input master
	out := e.Member(1)
	assert.Equal(t, uint32(3*45), out.SampleOffset)
	assert.Equal(t, uint32(9*45), out.Latency)
	assert.Zero(t, e.Master.SampleOffset)
	assert.Zero(t, e.Master.Latency)

	assert.Equal(t, "AppleUSBAudioEngine:Acme:Duplex:1234:1,2", e.GUID)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte(e.GUID)), e.UUID)
}

func TestRateChangeMovesBothStreams(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	rec := &recorder{}
	c := newCoordinator(t, fakedevice.UAC2DuplexConfig(), dev, engine.WithHooks(rec.hooks()))
	build(t, c)
	require.NoError(t, c.ChangeRate(0, 48000))
	rec.events, rec.changed = nil, nil

	require.NoError(t, c.ChangeFormat(1, engine.Format{Rate: 96000}))
	assert.Equal(t, []string{"lock", "unlock", "rates"}, rec.events)
	assert.Equal(t, [][]uint8{{1, 2}}, rec.changed)
	assert.Equal(t, uint32(96000), dev.Clock(fakedevice.InternalClock).Freq)
	for _, iface := range []uint8{1, 2} {
		_, m := c.Engine(iface)
		require.NotNil(t, m)
		assert.Equal(t, uint32(96000), m.Format.Rate)
	}

	// a deeper format on the output keeps the input where it is
	require.NoError(t, c.ChangeFormat(1, engine.Format{BitDepth: 24}))
	assert.Equal(t, uint8(2), dev.AltSetting(1))
	assert.Equal(t, uint8(1), dev.AltSetting(2))
	assert.Equal(t, [][]uint8{{1, 2}, {1}}, rec.changed)

	err := c.ChangeFormat(1, engine.Format{Rate: 50000})
	assert.ErrorIs(t, err, engine.ErrFormatChangeRejected)
	_, m := c.Engine(1)
	assert.Equal(t, engine.Format{Channels: 2, BitDepth: 24, Rate: 96000}, m.Format)

	assert.ErrorIs(t, c.ChangeFormat(9, engine.Format{Rate: 48000}), engine.ErrFormatChangeRejected)
}

func TestClockSourceSwitchRefusesInvalidClock(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	rec := &recorder{}
	c := newCoordinator(t, fakedevice.UAC2DuplexConfig(), dev, engine.WithHooks(rec.hooks()))
	build(t, c)

	selectors := c.ClockSelectors()
	require.Len(t, selectors, 1)
	assert.Equal(t, fakedevice.ClockSwitch, selectors[0].Unit)
	assert.Equal(t, uint8(1), selectors[0].Current)
	assert.Equal(t, []engine.ClockOption{
		{Pin: 1, Source: fakedevice.InternalClock, Name: "Device", Valid: true},
		{Pin: 2, Source: fakedevice.ExternalClock, Name: "External", Valid: false},
	}, selectors[0].Options)

	err := c.SelectClockSource(fakedevice.ClockSwitch, 2)
	assert.ErrorIs(t, err, engine.ErrClockInvalid)
	assert.Equal(t, uint8(1), dev.Selector(fakedevice.ClockSwitch))
	assert.Equal(t, uint32(44100), dev.Clock(fakedevice.InternalClock).Freq)
	assert.Empty(t, rec.events)

	assert.Equal(t, []engine.Restore{{Selector: fakedevice.ClockSwitch, Pin: 1}}, c.FlushRestores())
	assert.Equal(t, []engine.Restore{{Selector: fakedevice.ClockSwitch, Pin: 1}}, rec.restores)
	assert.Empty(t, c.FlushRestores())
}

func TestClockSourceSwitch(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	dev.SetClockValid(fakedevice.ExternalClock, true)
	c := newCoordinator(t, fakedevice.UAC2DuplexConfig(), dev)
	build(t, c)

	require.NoError(t, c.SelectClockSource(fakedevice.ClockSwitch, 2))
	assert.Equal(t, uint8(2), dev.Selector(fakedevice.ClockSwitch))
	// the old path is aligned to the new rate
	assert.Equal(t, uint32(48000), dev.Clock(fakedevice.InternalClock).Freq)
	for _, iface := range []uint8{1, 2} {
		_, m := c.Engine(iface)
		assert.Equal(t, uint32(48000), m.Format.Rate)
		assert.Equal(t, externalPath, m.ClockPath)
	}
	assert.Empty(t, c.FlushRestores())

	// the external clock drops out: fall back to the internal clock
	dev.SetClockValid(fakedevice.ExternalClock, false)
	require.NoError(t, c.PollClockValidity())
	assert.Equal(t, uint8(1), dev.Selector(fakedevice.ClockSwitch))
	_, m := c.Engine(2)
	assert.Equal(t, internalPath, m.ClockPath)
}

func TestBuildSplitsBySyncType(t *testing.T) {
	c := newCoordinator(t, uac1Duplex(syncAsync, syncSync, 44100, 48000), uac1DuplexDevice())
	engines := build(t, c)
	require.Len(t, engines, 2)
	assert.Equal(t, []uint8{1}, engines[0].Interfaces())
	assert.Equal(t, []uint8{2}, engines[1].Interfaces())
	assert.Equal(t, uint8(2), engines[1].Master.Interface)

	c = newCoordinator(t, uac1Duplex(syncAsync, syncSync, 44100, 48000), uac1DuplexDevice(), engine.WithSingleEngine(true))
	engines = build(t, c)
	require.Len(t, engines, 1)
	assert.Equal(t, []uint8{1, 2}, engines[0].Interfaces())
	assert.Equal(t, uint8(2), engines[0].Master.Interface)

	c = newCoordinator(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex(), engine.WithSeparateEngines(true))
	assert.Len(t, build(t, c), 2)
}

func TestAdaptiveOutputIsMaster(t *testing.T) {
	c := newCoordinator(t, uac1Duplex(syncAdaptive, syncSync, 44100, 48000), uac1DuplexDevice())
	engines := build(t, c)
	require.Len(t, engines, 1)
	assert.Equal(t, uint8(1), engines[0].Master.Interface)
	assert.False(t, engines[0].SingleRate)
}

func TestBuildExcludesUnusableInterface(t *testing.T) {
	b := fakedevice.NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC1, 0).
		HeaderUAC1(0x80, 1, 2).
		InputTerminalUAC1(fakedevice.SpeakerStreamingTerminal, descriptors.TerminalTypeUSBStreaming, 2, 0x0003).
		OutputTerminalUAC1(fakedevice.SpeakerOutputTerminal, descriptors.TerminalTypeSpeaker, fakedevice.SpeakerStreamingTerminal)
	b.Interface(1, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(1, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(fakedevice.SpeakerStreamingTerminal, descriptors.FormatCodePCM).
		FormatTypeIUAC1(2, 2, 16, 44100).
		Endpoint(0x01, syncAdaptive, 196, 1, 0).
		EndpointGeneralUAC1(0x01)
	b.Interface(2, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(2, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(fakedevice.SpeakerStreamingTerminal, descriptors.FormatCodeALaw).
		FormatTypeIUAC1(1, 1, 8, 8000).
		Endpoint(0x02, syncAdaptive, 16, 1, 0).
		EndpointGeneralUAC1(0x01)

	c := newCoordinator(t, b.Bytes(), fakedevice.NewDevice(descriptors.ProtocolUAC1).AddEndpoint(0x01, 44100))
	engines := build(t, c)
	require.Len(t, engines, 1)
	assert.Equal(t, []uint8{1}, engines[0].Interfaces())
	e, m := c.Engine(2)
	assert.Nil(t, e)
	assert.Nil(t, m)
}

func TestUAC1ChangeFormat(t *testing.T) {
	dev := uac1DuplexDevice()
	c := newCoordinator(t, uac1Duplex(syncSync, syncSync, 44100), dev)
	engines := build(t, c)
	require.Len(t, engines, 1)
	require.False(t, engines[0].SingleRate)

	require.NoError(t, c.ChangeFormat(1, engine.Format{Rate: 48000}))
	assert.Equal(t, uint32(48000), dev.EndpointRate(0x01))
	assert.Equal(t, uint32(44100), dev.EndpointRate(0x82))

	dev = uac1DuplexDevice()
	c = newCoordinator(t, uac1Duplex(syncSync, syncSync, 44100), dev, engine.WithSingleSampleRate(true))
	engines = build(t, c)
	require.True(t, engines[0].SingleRate)
	err := c.ChangeFormat(1, engine.Format{Rate: 48000})
	assert.ErrorIs(t, err, engine.ErrFormatChangeRejected)
	assert.Equal(t, uint32(44100), dev.EndpointRate(0x01))
	_, m := c.Engine(1)
	assert.Equal(t, uint32(44100), m.Format.Rate)
}

func TestChangeRate(t *testing.T) {
	dev := uac1DuplexDevice()
	c := newCoordinator(t, uac1Duplex(syncSync, syncSync, 44100), dev, engine.WithSingleSampleRate(true))
	build(t, c)

	// only the output runs at 48 kHz
	require.NoError(t, c.ChangeRate(0, 48000))
	assert.Equal(t, uint32(48000), dev.EndpointRate(0x01))
	assert.Equal(t, uint32(44100), dev.EndpointRate(0x82))

	// nothing runs at 96 kHz: back to the defaults
	err := c.ChangeRate(0, 96000)
	assert.ErrorIs(t, err, engine.ErrFormatChangeRejected)
	assert.Equal(t, uint32(44100), dev.EndpointRate(0x01))
	_, m := c.Engine(1)
	assert.Equal(t, uint32(44100), m.Format.Rate)

	assert.ErrorIs(t, c.ChangeRate(3, 48000), engine.ErrFormatChangeRejected)
}

func TestCorrectionFollowsRate(t *testing.T) {
	c := newCoordinator(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex(), engine.WithStreamTiming(2, 4))
	e := build(t, c)[0]
	require.NoError(t, c.ChangeRate(0, 96000))

	out := e.Member(1)
	assert.Equal(t, uint32(96000), out.Format.Rate)
	assert.Equal(t, uint32(2*96), out.SampleOffset)
	assert.Equal(t, uint32(5*96), out.Latency)
}

func TestChangeFormatMovesOtherStream(t *testing.T) {
	dev := uac1DuplexDevice()
	c := newCoordinator(t, uac1Duplex(syncSync, syncSync, 44100, 48000, 96000), dev)
	engines := build(t, c)
	require.Len(t, engines, 1)
	require.False(t, engines[0].SingleRate)

	// the output cannot run 96 kHz, the input can
	require.NoError(t, c.ChangeFormat(1, engine.Format{Rate: 96000}))
	assert.Equal(t, uint32(44100), dev.EndpointRate(0x01))
	assert.Equal(t, uint32(96000), dev.EndpointRate(0x82))

	// neither runs 32 kHz
	err := c.ChangeFormat(1, engine.Format{Rate: 32000})
	assert.ErrorIs(t, err, engine.ErrFormatChangeRejected)
	assert.Equal(t, uint32(44100), dev.EndpointRate(0x01))
	assert.Equal(t, uint32(44100), dev.EndpointRate(0x82))
	_, in := c.Engine(2)
	assert.Equal(t, uint32(44100), in.Format.Rate)
}
