package fakedevice

import (
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/requests"
)

// Entity ids of the canned devices.
const (
	SpeakerStreamingTerminal uint8 = 1
	SpeakerFeatureUnit       uint8 = 2
	SpeakerOutputTerminal    uint8 = 3

	MicrophoneTerminal          uint8 = 4
	MicrophoneFeatureUnit       uint8 = 5
	MicrophoneStreamingTerminal uint8 = 6

	InternalClock uint8 = 0x10
	ExternalClock uint8 = 0x11
	ClockSwitch   uint8 = 0x12
)

// UAC1SpeakerConfig is a full speed UAC1 stereo 16-bit speaker with an adaptive output
// endpoint at 44100 and 48000 Hz.
func UAC1SpeakerConfig() []byte {
	b := NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC1, 0).
		HeaderUAC1(0x28, 1).
		InputTerminalUAC1(SpeakerStreamingTerminal, descriptors.TerminalTypeUSBStreaming, 2, 0x0003).
		FeatureUnitUAC1(SpeakerFeatureUnit, SpeakerStreamingTerminal, 0x03, 0x02, 0x02).
		OutputTerminalUAC1(SpeakerOutputTerminal, descriptors.TerminalTypeSpeaker, SpeakerFeatureUnit)
	b.Interface(1, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(1, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(SpeakerStreamingTerminal, descriptors.FormatCodePCM).
		FormatTypeIUAC1(2, 2, 16, 44100, 48000).
		Endpoint(0x01, 0x09, 196, 1, 0).
		EndpointGeneralUAC1(0x01)
	return b.Bytes()
}

// UAC1Speaker returns the control endpoint of UAC1SpeakerConfig.
func UAC1Speaker() *Device {
	d := NewDevice(descriptors.ProtocolUAC1)
	for ch := uint8(0); ch <= 2; ch++ {
		d.AddChannel(SpeakerFeatureUnit, ch, &Channel{Volume: -0x0A00, Min: -0x3C00, Max: 0, Res: 0x0100})
	}
	d.AddEndpoint(0x01, 44100)
	return d
}

// UAC2DuplexConfig is a high speed UAC2 device with a stereo output (async, explicit feedback)
// and a stereo input (async), both clocked through a selector choosing between an internal
// programmable clock and an external clock.
func UAC2DuplexConfig() []byte {
	b := NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC2, 1).
		HeaderUAC2(0x80).
		ClockSource(InternalClock, 0x03, 0x07, 0).
		ClockSource(ExternalClock, 0x00, 0x04, 0).
		ClockSelector(ClockSwitch, InternalClock, ExternalClock).
		InputTerminalUAC2(SpeakerStreamingTerminal, descriptors.TerminalTypeUSBStreaming, ClockSwitch, 2).
		FeatureUnitUAC2(SpeakerFeatureUnit, SpeakerStreamingTerminal, 0x0F, 0x0C, 0x0C).
		OutputTerminalUAC2(SpeakerOutputTerminal, descriptors.TerminalTypeSpeaker, SpeakerFeatureUnit, ClockSwitch).
		InputTerminalUAC2(MicrophoneTerminal, descriptors.TerminalTypeMicrophone, ClockSwitch, 2).
		FeatureUnitUAC2(MicrophoneFeatureUnit, MicrophoneTerminal, 0x0F, 0x0C, 0x0C).
		OutputTerminalUAC2(MicrophoneStreamingTerminal, descriptors.TerminalTypeUSBStreaming, MicrophoneFeatureUnit, ClockSwitch).
		Endpoint7(0x83, 0x03, 6, 4)
	b.Interface(1, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC2, 0)
	b.Interface(1, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC2, 2).
		GeneralUAC2(SpeakerStreamingTerminal, 2, 0x01).
		FormatTypeIUAC2(2, 16).
		Endpoint7(0x01, 0x05, 104, 1).
		EndpointGeneralUAC2().
		Endpoint7(0x81, 0x11, 4, 4)
	b.Interface(1, 2, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC2, 2).
		GeneralUAC2(SpeakerStreamingTerminal, 2, 0x01).
		FormatTypeIUAC2(3, 24).
		Endpoint7(0x01, 0x05, 156, 1).
		EndpointGeneralUAC2().
		Endpoint7(0x81, 0x11, 4, 4)
	b.Interface(2, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC2, 0)
	b.Interface(2, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC2, 1).
		GeneralUAC2(MicrophoneStreamingTerminal, 2, 0x01).
		FormatTypeIUAC2(2, 16).
		Endpoint7(0x82, 0x05, 104, 1).
		EndpointGeneralUAC2()
	return b.Bytes()
}

// UAC2DuplexRates are the rates of the internal clock of UAC2DuplexConfig.
var UAC2DuplexRates = []requests.SubRange{
	{Min: 44100, Max: 48000, Res: 3900},
	{Min: 88200, Max: 96000, Res: 7800},
}

// UAC2Duplex returns the control endpoint of UAC2DuplexConfig running at 48000 Hz on the
// internal clock. The external clock is locked at 48000 Hz but reports invalid.
func UAC2Duplex() *Device {
	d := NewDevice(descriptors.ProtocolUAC2)
	d.AddClock(InternalClock, &Clock{Ranges: UAC2DuplexRates, Freq: 48000, Valid: true, Writable: true})
	d.AddClock(ExternalClock, &Clock{Ranges: []requests.SubRange{{Min: 48000, Max: 48000}}, Freq: 48000})
	d.AddSelector(ClockSwitch, 1)
	for _, unit := range []uint8{SpeakerFeatureUnit, MicrophoneFeatureUnit} {
		for ch := uint8(0); ch <= 2; ch++ {
			d.AddChannel(unit, ch, &Channel{Volume: 0, Min: -0x7F00, Max: 0, Res: 0x0080})
		}
	}
	return d
}

// Entity ids of UAC1StudioConfig in addition to the speaker and microphone ids above.
const (
	LineInTerminal       uint8 = 7
	MonitorFeatureUnit   uint8 = 8
	MonitorMixer         uint8 = 9
	MasterFeatureUnit    uint8 = 10
	HeadphoneTerminal    uint8 = 11
	RecordSelector       uint8 = 12
	MicrophonePreampUnit uint8 = 13
)

// UAC1StudioConfig is a UAC1 device with a monitor mix and a record source selector:
//
//	USB(1) -> FU(2) ---------------\
//	                                Mixer(9) -> FU(10) -> Speaker(3)
//	Mic(4) -> FU(13) -> FU(8) -----/         \-> Headphones(11)
//	             \
//	              Selector(12) -> FU(5) -> USB(6)
//	LineIn(7) ---/
//
// The master unit 10 only has mute.
func UAC1StudioConfig() []byte {
	b := NewConfig()
	b.Interface(0, 0, descriptors.SubclassCodeAudioControl, descriptors.ProtocolUAC1, 0).
		HeaderUAC1(0x80, 1, 2).
		InputTerminalUAC1(SpeakerStreamingTerminal, descriptors.TerminalTypeUSBStreaming, 2, 0x0003).
		InputTerminalUAC1(MicrophoneTerminal, descriptors.TerminalTypeMicrophone, 1, 0x0000).
		InputTerminalUAC1(LineInTerminal, descriptors.TerminalTypeLineConnector, 2, 0x0003).
		FeatureUnitUAC1(SpeakerFeatureUnit, SpeakerStreamingTerminal, 0x00, 0x03, 0x03).
		FeatureUnitUAC1(MicrophonePreampUnit, MicrophoneTerminal, 0x02, 0x00).
		FeatureUnitUAC1(MonitorFeatureUnit, MicrophonePreampUnit, 0x03, 0x00).
		MixerUnitUAC1(MonitorMixer, 2, SpeakerFeatureUnit, MonitorFeatureUnit).
		FeatureUnitUAC1(MasterFeatureUnit, MonitorMixer, 0x01).
		OutputTerminalUAC1(SpeakerOutputTerminal, descriptors.TerminalTypeSpeaker, MasterFeatureUnit).
		OutputTerminalUAC1(HeadphoneTerminal, descriptors.TerminalTypeHeadphones, MonitorMixer).
		SelectorUnitUAC1(RecordSelector, MicrophonePreampUnit, LineInTerminal).
		FeatureUnitUAC1(MicrophoneFeatureUnit, RecordSelector, 0x03, 0x00, 0x00).
		OutputTerminalUAC1(MicrophoneStreamingTerminal, descriptors.TerminalTypeUSBStreaming, MicrophoneFeatureUnit)
	b.Interface(1, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(1, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(SpeakerStreamingTerminal, descriptors.FormatCodePCM).
		FormatTypeIUAC1(2, 2, 16, 44100, 48000).
		Endpoint(0x01, 0x0D, 196, 1, 0).
		EndpointGeneralUAC1(0x01)
	b.Interface(2, 0, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 0)
	b.Interface(2, 1, descriptors.SubclassCodeAudioStreaming, descriptors.ProtocolUAC1, 1).
		GeneralUAC1(MicrophoneStreamingTerminal, descriptors.FormatCodePCM).
		FormatTypeIUAC1(2, 2, 16, 44100, 48000).
		Endpoint(0x82, 0x0D, 196, 1, 0).
		EndpointGeneralUAC1(0x01)
	return b.Bytes()
}

// UAC1Studio returns the control endpoint of UAC1StudioConfig with the selector on the
// microphone.
func UAC1Studio() *Device {
	d := NewDevice(descriptors.ProtocolUAC1)
	for ch := uint8(1); ch <= 2; ch++ {
		d.AddChannel(SpeakerFeatureUnit, ch, &Channel{Volume: -0x0A00, Min: -0x3C00, Max: 0, Res: 0x0100})
		d.AddChannel(MicrophoneFeatureUnit, ch, &Channel{Volume: 0, Min: -0x3C00, Max: 0x0C00, Res: 0x0100})
	}
	d.AddChannel(MicrophoneFeatureUnit, 0, &Channel{Volume: 0, Min: -0x3C00, Max: 0x0C00, Res: 0x0100})
	d.AddChannel(MicrophonePreampUnit, 0, &Channel{Volume: 0, Min: 0, Max: 0x1E00, Res: 0x0100})
	d.AddChannel(MonitorFeatureUnit, 0, &Channel{Volume: -0x1400, Min: -0x3C00, Max: 0, Res: 0x0100})
	d.AddChannel(MasterFeatureUnit, 0, &Channel{})
	d.AddSelector(RecordSelector, 1)
	d.AddEndpoint(0x01, 44100)
	d.AddEndpoint(0x82, 44100)
	return d
}
