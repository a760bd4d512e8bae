package descriptors

type ClassCode byte

const (
	ClassCodeAudio ClassCode = 0x01
)

type SubclassCode byte

const (
	SubclassCodeUndefined      SubclassCode = 0x00
	SubclassCodeAudioControl   SubclassCode = 0x01
	SubclassCodeAudioStreaming SubclassCode = 0x02
	SubclassCodeMIDIStreaming  SubclassCode = 0x03
)

// Protocol is the audio function class protocol carried in bInterfaceProtocol.
type Protocol byte

const (
	ProtocolUAC1 Protocol = 0x00
	ProtocolUAC2 Protocol = 0x20
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUAC2:
		return "UAC 2.0"
	default:
		return "UAC 1.0"
	}
}

type DescriptorType byte

const (
	DescriptorTypeConfiguration          DescriptorType = 0x02
	DescriptorTypeString                 DescriptorType = 0x03
	DescriptorTypeInterface              DescriptorType = 0x04
	DescriptorTypeEndpoint               DescriptorType = 0x05
	DescriptorTypeInterfaceAssociation   DescriptorType = 0x0B
	DescriptorTypeClassSpecificInterface DescriptorType = 0x24
	DescriptorTypeClassSpecificEndpoint  DescriptorType = 0x25
)

// TerminalType values from the USB Audio Terminal Types document.
type TerminalType uint16

const (
	TerminalTypeUSBUndefined      TerminalType = 0x0100
	TerminalTypeUSBStreaming      TerminalType = 0x0101
	TerminalTypeUSBVendorSpecific TerminalType = 0x01FF

	TerminalTypeInputUndefined            TerminalType = 0x0200
	TerminalTypeMicrophone                TerminalType = 0x0201
	TerminalTypeDesktopMicrophone         TerminalType = 0x0202
	TerminalTypePersonalMicrophone        TerminalType = 0x0203
	TerminalTypeOmniDirectionalMicrophone TerminalType = 0x0204
	TerminalTypeMicrophoneArray           TerminalType = 0x0205
	TerminalTypeProcessingMicrophoneArray TerminalType = 0x0206

	TerminalTypeOutputUndefined            TerminalType = 0x0300
	TerminalTypeSpeaker                    TerminalType = 0x0301
	TerminalTypeHeadphones                 TerminalType = 0x0302
	TerminalTypeHeadMountedDisplayAudio    TerminalType = 0x0303
	TerminalTypeDesktopSpeaker             TerminalType = 0x0304
	TerminalTypeRoomSpeaker                TerminalType = 0x0305
	TerminalTypeCommunicationSpeaker       TerminalType = 0x0306
	TerminalTypeLowFrequencyEffectsSpeaker TerminalType = 0x0307

	TerminalTypeBidirectionalUndefined TerminalType = 0x0400
	TerminalTypeHandset                TerminalType = 0x0401
	TerminalTypeHeadset                TerminalType = 0x0402

	TerminalTypeTelephonyUndefined TerminalType = 0x0500
	TerminalTypePhoneLine          TerminalType = 0x0501

	TerminalTypeExternalUndefined      TerminalType = 0x0600
	TerminalTypeAnalogConnector        TerminalType = 0x0601
	TerminalTypeDigitalAudioInterface  TerminalType = 0x0602
	TerminalTypeLineConnector          TerminalType = 0x0603
	TerminalTypeLegacyAudioConnector   TerminalType = 0x0604
	TerminalTypeSPDIFInterface         TerminalType = 0x0605
	TerminalType1394DAStream           TerminalType = 0x0606
	TerminalType1394DVStreamSoundtrack TerminalType = 0x0607
	TerminalTypeADATLightpipe          TerminalType = 0x0608
	TerminalTypeTDIF                   TerminalType = 0x0609
	TerminalTypeMADI                   TerminalType = 0x060A

	TerminalTypeEmbeddedUndefined TerminalType = 0x0700
)

func (t TerminalType) String() string {
	switch t {
	case TerminalTypeUSBStreaming:
		return "USB Streaming"
	case TerminalTypeMicrophone, TerminalTypeDesktopMicrophone, TerminalTypePersonalMicrophone,
		TerminalTypeOmniDirectionalMicrophone, TerminalTypeMicrophoneArray, TerminalTypeProcessingMicrophoneArray:
		return "Microphone"
	case TerminalTypeSpeaker, TerminalTypeDesktopSpeaker, TerminalTypeRoomSpeaker,
		TerminalTypeCommunicationSpeaker, TerminalTypeLowFrequencyEffectsSpeaker:
		return "Speaker"
	case TerminalTypeHeadphones:
		return "Headphones"
	case TerminalTypeHeadset:
		return "Headset"
	case TerminalTypeHandset:
		return "Handset"
	case TerminalTypePhoneLine:
		return "Phone Line"
	case TerminalTypeAnalogConnector:
		return "Analog"
	case TerminalTypeDigitalAudioInterface:
		return "Digital"
	case TerminalTypeLineConnector:
		return "Line"
	case TerminalTypeLegacyAudioConnector:
		return "Legacy"
	case TerminalTypeSPDIFInterface:
		return "S/PDIF"
	case TerminalType1394DAStream, TerminalType1394DVStreamSoundtrack:
		return "FireWire"
	case TerminalTypeADATLightpipe:
		return "ADAT"
	case TerminalTypeTDIF:
		return "TDIF"
	case TerminalTypeMADI:
		return "MADI"
	}
	switch t & 0xFF00 {
	case 0x0200:
		return "Input"
	case 0x0300:
		return "Output"
	case 0x0600:
		return "External"
	case 0x0700:
		return "Embedded"
	}
	return "Unknown"
}

// FormatCode identifies the sample encoding of an alternate setting. UAC1
// wFormatTag values are used as is and UAC2 bmFormats bits are mapped onto them.
type FormatCode uint16

const (
	FormatCodeUndefined FormatCode = 0x0000
	FormatCodePCM       FormatCode = 0x0001
	FormatCodePCM8      FormatCode = 0x0002
	FormatCodeIEEEFloat FormatCode = 0x0003
	FormatCodeALaw      FormatCode = 0x0004
	FormatCodeMuLaw     FormatCode = 0x0005
	FormatCodeMPEG      FormatCode = 0x1001
	FormatCodeAC3       FormatCode = 0x1002
)

func (f FormatCode) String() string {
	switch f {
	case FormatCodePCM:
		return "PCM"
	case FormatCodePCM8:
		return "PCM8"
	case FormatCodeIEEEFloat:
		return "IEEE_FLOAT"
	case FormatCodeALaw:
		return "ALAW"
	case FormatCodeMuLaw:
		return "MULAW"
	case FormatCodeMPEG:
		return "MPEG"
	case FormatCodeAC3:
		return "AC3"
	}
	return "UNDEFINED"
}

// SyncType is the isochronous synchronization type from bits 2..3 of bmAttributes.
type SyncType uint8

const (
	SyncTypeNone         SyncType = 0x00
	SyncTypeAsynchronous SyncType = 0x01
	SyncTypeAdaptive     SyncType = 0x02
	SyncTypeSynchronous  SyncType = 0x03
	// SyncTypeUnknown marks an alternate setting without a usable data endpoint.
	SyncTypeUnknown SyncType = 0xFF
)

func (s SyncType) String() string {
	switch s {
	case SyncTypeNone:
		return "none"
	case SyncTypeAsynchronous:
		return "asynchronous"
	case SyncTypeAdaptive:
		return "adaptive"
	case SyncTypeSynchronous:
		return "synchronous"
	}
	return "unknown"
}

type Direction uint8

const (
	DirectionOut Direction = 0
	DirectionIn  Direction = 1
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// ClockType is the clock source type from bits 0..1 of a clock source bmAttributes.
type ClockType uint8

const (
	ClockTypeExternal             ClockType = 0x00
	ClockTypeInternalFixed        ClockType = 0x01
	ClockTypeInternalVariable     ClockType = 0x02
	ClockTypeInternalProgrammable ClockType = 0x03
)

func (c ClockType) String() string {
	switch c {
	case ClockTypeExternal:
		return "external"
	case ClockTypeInternalFixed:
		return "internal-fixed"
	case ClockTypeInternalVariable:
		return "internal-variable"
	}
	return "internal-programmable"
}

func (c ClockType) Internal() bool {
	return c != ClockTypeExternal
}
