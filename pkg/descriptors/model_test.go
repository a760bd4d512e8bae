package descriptors_test

import (
	"errors"
	"math"
	"testing"

	"github.com/kevmo314/go-uac/internal/fakedevice"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigurationUAC1(t *testing.T) {
	m, err := descriptors.ParseConfiguration(fakedevice.UAC1SpeakerConfig())
	require.NoError(t, err)

	assert.Equal(t, descriptors.ProtocolUAC1, m.Protocol)
	assert.Equal(t, uint8(0), m.ControlInterface)
	assert.Equal(t, []uint8{1}, m.Header.InterfaceNr)
	assert.Nil(t, m.InterruptEndpoint)

	require.Len(t, m.StreamingInterfaces(), 1)
	assert.Equal(t, 2, m.NumAltSettings(1))
	assert.False(t, m.AltSettingZeroCanStream(1))

	assert.Equal(t, descriptors.FormatCodePCM, m.Format(1, 1))
	assert.Equal(t, uint8(2), m.Channels(1, 1))
	assert.Equal(t, uint8(16), m.BitDepth(1, 1))
	assert.Equal(t, uint8(1), m.TerminalLink(1, 1))
	assert.Equal(t, []uint32{44100, 48000}, m.SampleRates(1, 1).Discrete)

	alt := m.AltSetting(1, 1)
	require.NotNil(t, alt.DataEndpoint)
	assert.Equal(t, descriptors.SyncTypeAdaptive, alt.SyncType())
	assert.Equal(t, descriptors.DirectionOut, alt.Direction())
	assert.Equal(t, 4, alt.BytesPerFrame())
	require.NotNil(t, alt.DataEndpoint.Audio)
	assert.True(t, alt.DataEndpoint.Audio.HasSamplingFrequencyControl())
	assert.Nil(t, alt.FeedbackEndpoint)

	assert.Equal(t, descriptors.UnitKindFeature, m.SubType(2))
	assert.Equal(t, []uint8{1}, m.Sources(2))
	assert.Equal(t, 3, m.NumControls(2))
	assert.True(t, m.ChannelHasMuteControl(2, 0))
	assert.False(t, m.ChannelHasMuteControl(2, 1))
	assert.True(t, m.ChannelHasVolumeControl(2, 1))
	assert.Equal(t, descriptors.TerminalTypeSpeaker, m.TerminalType(3))

	cluster, ok := m.AudioCluster(3)
	require.True(t, ok)
	assert.Equal(t, uint8(2), cluster.NrChannels)
	assert.Equal(t, uint32(0x3), cluster.ChannelConfig)
}

func TestParseConfigurationUAC2(t *testing.T) {
	m, err := descriptors.ParseConfiguration(fakedevice.UAC2DuplexConfig())
	require.NoError(t, err)

	assert.Equal(t, descriptors.ProtocolUAC2, m.Protocol)
	require.NotNil(t, m.InterruptEndpoint)
	assert.Equal(t, uint8(0x83), m.InterruptEndpoint.Address)

	assert.Equal(t, descriptors.UnitKindClockSource, m.SubType(fakedevice.InternalClock))
	assert.Equal(t, descriptors.ClockTypeInternalProgrammable, m.ClockSourceClockType(fakedevice.InternalClock))
	assert.True(t, m.ClockSourceHasFrequencyControl(fakedevice.InternalClock))
	assert.True(t, m.ClockSourceHasValidityControl(fakedevice.InternalClock))
	assert.Equal(t, descriptors.ClockTypeExternal, m.ClockSourceClockType(fakedevice.ExternalClock))
	assert.False(t, m.ClockSourceHasFrequencyControl(fakedevice.ExternalClock))
	assert.Equal(t, []uint8{fakedevice.InternalClock, fakedevice.ExternalClock}, m.ClockSelectorSources(fakedevice.ClockSwitch))
	assert.Equal(t, fakedevice.ClockSwitch, m.TerminalClock(fakedevice.SpeakerStreamingTerminal))

	out := m.AltSetting(1, 1)
	require.True(t, out.Streamable)
	assert.Equal(t, descriptors.SyncTypeAsynchronous, out.SyncType())
	require.NotNil(t, out.FeedbackEndpoint)
	assert.Equal(t, uint8(0x81), out.FeedbackEndpoint.Address)
	assert.Equal(t, uint8(2), out.Channels)
	assert.True(t, out.Rates.Empty())

	hi := m.AltSetting(1, 2)
	assert.Equal(t, uint8(24), hi.BitDepth)
	assert.Equal(t, uint8(3), hi.SubframeSize)

	in := m.StreamingInterface(2)
	require.NotNil(t, in)
	assert.Equal(t, descriptors.DirectionIn, in.Direction())
	assert.Nil(t, in.Alt(1).FeedbackEndpoint)

	assert.True(t, m.ChannelHasMuteControl(fakedevice.MicrophoneFeatureUnit, 0))
	assert.True(t, m.ChannelHasVolumeControl(fakedevice.MicrophoneFeatureUnit, 2))
	assert.False(t, m.ChannelHasVolumeControl(fakedevice.MicrophoneFeatureUnit, 3))
}

func TestParseConfigurationMissingHeader(t *testing.T) {
	b := fakedevice.NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC1, 0).
		InputTerminalUAC1(1, descriptors.TerminalTypeUSBStreaming, 2, 3)
	_, err := descriptors.ParseConfiguration(b.Bytes())
	assert.True(t, errors.Is(err, descriptors.ErrMalformedDescriptor))
}

func TestParseConfigurationMissingSource(t *testing.T) {
	b := fakedevice.NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC1, 0).
		HeaderUAC1(0).
		OutputTerminalUAC1(3, descriptors.TerminalTypeSpeaker, 9)
	_, err := descriptors.ParseConfiguration(b.Bytes())
	assert.ErrorIs(t, err, descriptors.ErrMalformedDescriptor)
}

func TestParseConfigurationInconsistentLength(t *testing.T) {
	raw := fakedevice.UAC1SpeakerConfig()
	// the input terminal claims to run past the end of the configuration
	raw[9+9+9] = 0xF0
	_, err := descriptors.ParseConfiguration(raw)
	assert.ErrorIs(t, err, descriptors.ErrMalformedDescriptor)
}

func TestParseConfigurationShortTotalLength(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(raw []byte)
	}{
		{"zero total length", func(raw []byte) { raw[2], raw[3] = 0, 0 }},
		{"total length inside the header", func(raw []byte) { raw[2], raw[3] = 5, 0 }},
		{"header longer than total length", func(raw []byte) { raw[0], raw[2], raw[3] = 12, 9, 0 }},
		{"header shorter than nine bytes", func(raw []byte) { raw[0] = 2 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw := fakedevice.UAC1SpeakerConfig()
			tc.mutate(raw)
			require.NotPanics(t, func() {
				_, err := descriptors.ParseConfiguration(raw)
				assert.ErrorIs(t, err, descriptors.ErrMalformedDescriptor)
			})
		})
	}
}

func TestAltWithoutClassDescriptorsIsNotStreamable(t *testing.T) {
	b := fakedevice.NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC1, 0).
		HeaderUAC1(0, 1).
		InputTerminalUAC1(1, descriptors.TerminalTypeUSBStreaming, 2, 3).
		OutputTerminalUAC1(2, descriptors.TerminalTypeSpeaker, 1)
	b.Interface(1, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(1, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		Endpoint(0x01, 0x09, 196, 1, 0)
	m, err := descriptors.ParseConfiguration(b.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumAltSettings(1))
	assert.False(t, m.AltSetting(1, 1).Streamable)
	assert.False(t, m.StreamingInterface(1).Streamable())
}

func TestRateSet(t *testing.T) {
	s := descriptors.RateSet{Ranges: []descriptors.RateRange{{Min: 8000, Max: 48000, Res: 4000}}}
	assert.True(t, s.Supports(8000))
	assert.True(t, s.Supports(48000))
	assert.True(t, s.Supports(44000))
	assert.False(t, s.Supports(44100))
	assert.Equal(t, uint32(48000), s.Highest())

	doubled := s.Scale(2, 1)
	assert.True(t, doubled.Supports(96000))
	assert.False(t, doubled.Supports(8000))

	assert.True(t, s.Intersects(descriptors.RateSet{Discrete: []uint32{32000}}))
	assert.False(t, s.Intersects(descriptors.RateSet{Discrete: []uint32{44100}}))
	assert.True(t, s.Intersects(descriptors.RateSet{Ranges: []descriptors.RateRange{{Min: 47000, Max: 96000, Res: 1000}}}))
}

func TestRateSetIntersectsAtTopOfRange(t *testing.T) {
	assert.Equal(t, uint32(math.MaxUint32), descriptors.RateRange{Min: 0, Max: math.MaxUint32, Res: 1}.Steps())

	top := descriptors.RateSet{Ranges: []descriptors.RateRange{{Min: math.MaxUint32 - 10, Max: math.MaxUint32 - 1, Res: 7}}}
	assert.False(t, top.Intersects(descriptors.RateSet{Ranges: []descriptors.RateRange{{Min: math.MaxUint32 - 2, Max: math.MaxUint32}}}))
	assert.True(t, top.Intersects(descriptors.RateSet{Ranges: []descriptors.RateRange{{Min: math.MaxUint32 - 5, Max: math.MaxUint32, Res: 2}}}))
}
