package resolver_test

import (
	"testing"

	"github.com/kevmo314/go-uac/internal/fakedevice"
	"github.com/kevmo314/go-uac/pkg/descriptors"
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

func newResolver(t *testing.T, raw []byte, dev *fakedevice.Device) *resolver.Resolver {
	t.Helper()
	m, err := descriptors.ParseConfiguration(raw)
	require.NoError(t, err)
	clocks := transfers.NewUAC2ClockControl(transfers.NewRequester(dev, m.ControlInterface, transfers.WithRetries(1, 0)))
	return resolver.New(m, topology.Build(m), clocks)
}

func TestSampleRatesFollowClockPaths(t *testing.T) {
	r := newResolver(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex())

	set, err := r.SampleRates(1, 1)
	require.NoError(t, err)
	for _, rate := range []uint32{44100, 48000, 88200, 96000} {
		assert.True(t, set.Supports(rate), "%d Hz", rate)
	}
	assert.False(t, set.Supports(50000))
	assert.True(t, r.SupportsRate(2, 1, 96000))
	assert.False(t, r.SupportsRate(2, 1, 192000))

	rates, err := r.PathRates(externalPath)
	require.NoError(t, err)
	assert.Equal(t, []uint32{48000}, rates.Discrete)
}

func TestOptimalClockPath(t *testing.T) {
	r := newResolver(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex())

	p, err := r.OptimalClockPath(1, 1, 96000)
	require.NoError(t, err)
	assert.Equal(t, internalPath, p)

	// both paths run at 48 kHz: prefer the one the other interface is not on
	r.SetActiveClockPath(2, internalPath)
	p, err = r.OptimalClockPath(1, 1, 48000)
	require.NoError(t, err)
	assert.Equal(t, externalPath, p)

	r.SetActiveClockPath(2, externalPath)
	p, err = r.OptimalClockPath(1, 1, 48000)
	require.NoError(t, err)
	assert.Equal(t, internalPath, p)

	// the interface's own active path does not count against it
	r.SetActiveClockPath(1, internalPath)
	p, err = r.OptimalClockPath(1, 1, 48000)
	require.NoError(t, err)
	assert.Equal(t, internalPath, p)

	_, err = r.OptimalClockPath(1, 1, 50000)
	assert.ErrorIs(t, err, resolver.ErrUnsupportedFormat)
}

func TestSetClockPathRateRoundTrips(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	r := newResolver(t, fakedevice.UAC2DuplexConfig(), dev)

	for _, rate := range []uint32{44100, 48000, 88200, 96000} {
		require.NoError(t, r.SetClockPathRate(internalPath, rate, true))
		got, err := r.ClockPathRate(internalPath)
		require.NoError(t, err)
		assert.Equal(t, rate, got)
	}
	assert.Equal(t, uint8(1), dev.Selector(fakedevice.ClockSwitch))

	// the external clock cannot be programmed but already runs at 48 kHz
	require.NoError(t, r.SetClockPathRate(externalPath, 48000, true))
	assert.Equal(t, uint8(2), dev.Selector(fakedevice.ClockSwitch))

	err := r.SetClockPathRate(externalPath, 96000, true)
	assert.ErrorIs(t, err, resolver.ErrUnsupportedFormat)
	assert.NoError(t, r.SetClockPathRate(externalPath, 96000, false))

	err = r.SetClockPathRate(internalPath, 50000, true)
	assert.ErrorIs(t, err, fakedevice.ErrStall)
}

func TestSetClockPathRateKeepsRoutedSelector(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	r := newResolver(t, fakedevice.UAC2DuplexConfig(), dev)

	require.Equal(t, uint8(1), dev.Selector(fakedevice.ClockSwitch))
	require.NoError(t, r.SetClockPathRate(internalPath, 96000, true))
	assert.Equal(t, uint8(1), dev.Selector(fakedevice.ClockSwitch))
	for _, req := range dev.Requests() {
		if req.UnitID() == fakedevice.ClockSwitch {
			assert.True(t, req.RequestType.IsGet(), "selector written: %s", req)
		}
	}

	got, err := r.ClockPathRate(internalPath)
	require.NoError(t, err)
	assert.Equal(t, uint32(96000), got)
}

func TestClockPathValid(t *testing.T) {
	dev := fakedevice.UAC2Duplex()
	r := newResolver(t, fakedevice.UAC2DuplexConfig(), dev)

	ok, err := r.ClockPathValid(internalPath)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.ClockPathValid(externalPath)
	require.NoError(t, err)
	assert.False(t, ok)

	dev.SetClockValid(fakedevice.ExternalClock, true)
	ok, err = r.ClockPathValid(externalPath)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClockMultiplier(t *testing.T) {
	const multiplier = 0x13
	b := fakedevice.NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC2, 0).
		HeaderUAC2(0x40).
		ClockSource(fakedevice.InternalClock, 0x03, 0x07, 0).
		ClockMultiplier(multiplier, fakedevice.InternalClock).
		InputTerminalUAC2(fakedevice.SpeakerStreamingTerminal, descriptors.TerminalTypeUSBStreaming, multiplier, 2).
		OutputTerminalUAC2(fakedevice.SpeakerOutputTerminal, descriptors.TerminalTypeSpeaker, fakedevice.SpeakerStreamingTerminal, multiplier)
	dev := fakedevice.UAC2Duplex()
	dev.AddMultiplier(multiplier, 2, 1)
	r := newResolver(t, b.Bytes(), dev)
	path := topology.Path{multiplier, fakedevice.InternalClock}

	set, err := r.PathRates(path)
	require.NoError(t, err)
	assert.True(t, set.Supports(96000))
	assert.True(t, set.Supports(192000))
	assert.False(t, set.Supports(48000))

	require.NoError(t, r.SetClockPathRate(path, 176400, true))
	assert.Equal(t, uint32(88200), dev.Clock(fakedevice.InternalClock).Freq)
	got, err := r.ClockPathRate(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(176400), got)

	assert.ErrorIs(t, r.SetClockPathRate(path, 96001, true), resolver.ErrUnsupportedFormat)
}

func TestFindAltSetting(t *testing.T) {
	r := newResolver(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex())

	alt, err := r.FindAltSetting(1, 2, 24, 96000)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), alt)

	alt, err = r.FindAltSetting(1, 2, 16, 44100)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), alt)

	_, err = r.FindAltSetting(1, 2, 16, 50000)
	assert.ErrorIs(t, err, resolver.ErrUnsupportedFormat)
	_, err = r.FindAltSetting(2, 2, 24, 48000)
	assert.ErrorIs(t, err, resolver.ErrUnsupportedFormat)
	_, err = r.FindAltSetting(9, 2, 16, 48000)
	assert.ErrorIs(t, err, resolver.ErrUnsupportedFormat)
}

func TestDefaultSampleRate(t *testing.T) {
	r := newResolver(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex())
	alt, rate, err := r.DefaultSampleRate(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), alt)
	assert.Equal(t, uint32(44100), rate)

	m, err := descriptors.ParseConfiguration(fakedevice.UAC1SpeakerConfig())
	require.NoError(t, err)
	uac1 := resolver.New(m, topology.Build(m), nil)
	alt, rate, err = uac1.DefaultSampleRate(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), alt)
	assert.Equal(t, uint32(44100), rate)

	b := fakedevice.NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC1, 0).
		HeaderUAC1(0x28, 1).
		InputTerminalUAC1(1, descriptors.TerminalTypeUSBStreaming, 2, 0x0003).
		OutputTerminalUAC1(3, descriptors.TerminalTypeSpeaker, 1)
	b.Interface(1, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(1, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(1, descriptors.FormatCodePCM).
		FormatTypeIUAC1(2, 3, 24, 44100, 48000).
		Endpoint(0x01, 0x09, 294, 1, 0).
		EndpointGeneralUAC1(0x01)
	b.Interface(1, 2, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(1, descriptors.FormatCodePCM).
		FormatTypeIUAC1(1, 2, 16, 8000, 16000).
		Endpoint(0x01, 0x09, 34, 1, 0).
		EndpointGeneralUAC1(0x01)
	m, err = descriptors.ParseConfiguration(b.Bytes())
	require.NoError(t, err)
	alt, rate, err = resolver.New(m, topology.Build(m), nil).DefaultSampleRate(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), alt)
	assert.Equal(t, uint32(16000), rate)
}

func TestFormats(t *testing.T) {
	r := newResolver(t, fakedevice.UAC2DuplexConfig(), fakedevice.UAC2Duplex())
	formats, err := r.Formats(1)
	require.NoError(t, err)
	require.Len(t, formats, 2)
	assert.Equal(t, resolver.Format{
		Alt:      1,
		Code:     descriptors.FormatCodePCM,
		Channels: 2,
		BitDepth: 16,
		Rates:    []uint32{44100, 48000, 88200, 96000},
	}, formats[0])
	assert.Equal(t, uint8(24), formats[1].BitDepth)
}

func TestPublishedRates(t *testing.T) {
	fine := descriptors.RateSet{Ranges: []descriptors.RateRange{{Min: 8000, Max: 96000, Res: 1}}}
	assert.Equal(t, []uint32{8000, 11025, 16000, 22050, 32000, 44100, 48000, 64000, 88200, 96000}, resolver.PublishedRates(fine))

	coarse := descriptors.RateSet{
		Discrete: []uint32{32000},
		Ranges:   []descriptors.RateRange{{Min: 44100, Max: 48000, Res: 3900}},
	}
	assert.Equal(t, []uint32{32000, 44100, 48000}, resolver.PublishedRates(coarse))
}
