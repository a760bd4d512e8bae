// This file implements the class-specific AudioControl interface descriptors as defined in
// the UAC spec 1.0, section 4.3.2 and the UAC spec 2.0, section 4.7.2.
package descriptors

import (
	"encoding/binary"
	"io"
)

type AudioControlInterfaceDescriptorSubtype byte

const (
	AudioControlInterfaceDescriptorSubtypeUndefined      AudioControlInterfaceDescriptorSubtype = 0x00
	AudioControlInterfaceDescriptorSubtypeHeader         AudioControlInterfaceDescriptorSubtype = 0x01
	AudioControlInterfaceDescriptorSubtypeInputTerminal  AudioControlInterfaceDescriptorSubtype = 0x02
	AudioControlInterfaceDescriptorSubtypeOutputTerminal AudioControlInterfaceDescriptorSubtype = 0x03
	AudioControlInterfaceDescriptorSubtypeMixerUnit      AudioControlInterfaceDescriptorSubtype = 0x04
	AudioControlInterfaceDescriptorSubtypeSelectorUnit   AudioControlInterfaceDescriptorSubtype = 0x05
	AudioControlInterfaceDescriptorSubtypeFeatureUnit    AudioControlInterfaceDescriptorSubtype = 0x06

	// UAC1 numbering
	AudioControlInterfaceDescriptorSubtypeProcessingUnitV1 AudioControlInterfaceDescriptorSubtype = 0x07
	AudioControlInterfaceDescriptorSubtypeExtensionUnitV1  AudioControlInterfaceDescriptorSubtype = 0x08

	// UAC2 numbering
	AudioControlInterfaceDescriptorSubtypeEffectUnit          AudioControlInterfaceDescriptorSubtype = 0x07
	AudioControlInterfaceDescriptorSubtypeProcessingUnit      AudioControlInterfaceDescriptorSubtype = 0x08
	AudioControlInterfaceDescriptorSubtypeExtensionUnit       AudioControlInterfaceDescriptorSubtype = 0x09
	AudioControlInterfaceDescriptorSubtypeClockSource         AudioControlInterfaceDescriptorSubtype = 0x0A
	AudioControlInterfaceDescriptorSubtypeClockSelector       AudioControlInterfaceDescriptorSubtype = 0x0B
	AudioControlInterfaceDescriptorSubtypeClockMultiplier     AudioControlInterfaceDescriptorSubtype = 0x0C
	AudioControlInterfaceDescriptorSubtypeSampleRateConverter AudioControlInterfaceDescriptorSubtype = 0x0D
)

// UnitKind is the protocol independent subtype of an entity in the audio function.
type UnitKind uint8

const (
	UnitKindUndefined UnitKind = iota
	UnitKindInputTerminal
	UnitKindOutputTerminal
	UnitKindMixer
	UnitKindSelector
	UnitKindFeature
	UnitKindProcessing
	UnitKindExtension
	UnitKindEffect
	UnitKindClockSource
	UnitKindClockSelector
	UnitKindClockMultiplier
	UnitKindSampleRateConverter
)

func (k UnitKind) String() string {
	switch k {
	case UnitKindInputTerminal:
		return "input-terminal"
	case UnitKindOutputTerminal:
		return "output-terminal"
	case UnitKindMixer:
		return "mixer"
	case UnitKindSelector:
		return "selector"
	case UnitKindFeature:
		return "feature"
	case UnitKindProcessing:
		return "processing"
	case UnitKindExtension:
		return "extension"
	case UnitKindEffect:
		return "effect"
	case UnitKindClockSource:
		return "clock-source"
	case UnitKindClockSelector:
		return "clock-selector"
	case UnitKindClockMultiplier:
		return "clock-multiplier"
	case UnitKindSampleRateConverter:
		return "sample-rate-converter"
	}
	return "undefined"
}

// IsClock reports whether the kind belongs to the clock domain rather than the signal path.
func (k UnitKind) IsClock() bool {
	return k == UnitKindClockSource || k == UnitKindClockSelector || k == UnitKindClockMultiplier
}

// Unit is any addressable entity of the audio function: terminals, units and clock entities.
type Unit interface {
	ID() uint8
	Kind() UnitKind
	// Sources lists the entities feeding this one. Clock entities list clock entity ids.
	Sources() []uint8
}

func kindOf(protocol Protocol, subtype AudioControlInterfaceDescriptorSubtype) UnitKind {
	switch subtype {
	case AudioControlInterfaceDescriptorSubtypeInputTerminal:
		return UnitKindInputTerminal
	case AudioControlInterfaceDescriptorSubtypeOutputTerminal:
		return UnitKindOutputTerminal
	case AudioControlInterfaceDescriptorSubtypeMixerUnit:
		return UnitKindMixer
	case AudioControlInterfaceDescriptorSubtypeSelectorUnit:
		return UnitKindSelector
	case AudioControlInterfaceDescriptorSubtypeFeatureUnit:
		return UnitKindFeature
	}
	if protocol == ProtocolUAC2 {
		switch subtype {
		case AudioControlInterfaceDescriptorSubtypeEffectUnit:
			return UnitKindEffect
		case AudioControlInterfaceDescriptorSubtypeProcessingUnit:
			return UnitKindProcessing
		case AudioControlInterfaceDescriptorSubtypeExtensionUnit:
			return UnitKindExtension
		case AudioControlInterfaceDescriptorSubtypeClockSource:
			return UnitKindClockSource
		case AudioControlInterfaceDescriptorSubtypeClockSelector:
			return UnitKindClockSelector
		case AudioControlInterfaceDescriptorSubtypeClockMultiplier:
			return UnitKindClockMultiplier
		case AudioControlInterfaceDescriptorSubtypeSampleRateConverter:
			return UnitKindSampleRateConverter
		}
		return UnitKindUndefined
	}
	switch subtype {
	case AudioControlInterfaceDescriptorSubtypeProcessingUnitV1:
		return UnitKindProcessing
	case AudioControlInterfaceDescriptorSubtypeExtensionUnitV1:
		return UnitKindExtension
	}
	return UnitKindUndefined
}

// UnmarshalUnit decodes one class-specific AudioControl descriptor other than the header.
// Unknown subtypes return a nil unit and no error.
func UnmarshalUnit(protocol Protocol, buf []byte) (Unit, error) {
	if len(buf) < 4 {
		return nil, io.ErrShortBuffer
	}
	var desc interface {
		Unit
		unmarshal(Protocol, []byte) error
	}
	switch kindOf(protocol, AudioControlInterfaceDescriptorSubtype(buf[2])) {
	case UnitKindInputTerminal:
		desc = &InputTerminalDescriptor{}
	case UnitKindOutputTerminal:
		desc = &OutputTerminalDescriptor{}
	case UnitKindMixer:
		desc = &MixerUnitDescriptor{}
	case UnitKindSelector:
		desc = &SelectorUnitDescriptor{}
	case UnitKindFeature:
		desc = &FeatureUnitDescriptor{}
	case UnitKindProcessing:
		desc = &ProcessingUnitDescriptor{}
	case UnitKindExtension:
		desc = &ExtensionUnitDescriptor{}
	case UnitKindEffect:
		desc = &EffectUnitDescriptor{}
	case UnitKindClockSource:
		desc = &ClockSourceDescriptor{}
	case UnitKindClockSelector:
		desc = &ClockSelectorDescriptor{}
	case UnitKindClockMultiplier:
		desc = &ClockMultiplierDescriptor{}
	case UnitKindSampleRateConverter:
		desc = &SampleRateConverterDescriptor{}
	default:
		return nil, nil
	}
	return desc, desc.unmarshal(protocol, buf)
}

// AudioClusterDescriptor describes the logical channels leaving a unit.
type AudioClusterDescriptor struct {
	NrChannels    uint8
	ChannelConfig uint32
	ChannelNames  uint8
}

// AudioControlHeaderDescriptor as defined in UAC spec 1.0, 4.3.2 and UAC spec 2.0, 4.7.2.
type AudioControlHeaderDescriptor struct {
	BcdADC      BinaryCodedDecimal
	TotalLength uint16
	// InterfaceNr lists the streaming interfaces of the collection. UAC1 only.
	InterfaceNr []uint8
	// Category and Controls are UAC2 only.
	Category uint8
	Controls uint8
}

func (achd *AudioControlHeaderDescriptor) UnmarshalBinary(buf []byte) error {
	return achd.unmarshal(ProtocolUAC1, buf)
}

func (achd *AudioControlHeaderDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	if protocol == ProtocolUAC2 {
		if len(buf) < 9 {
			return io.ErrShortBuffer
		}
		achd.BcdADC = BinaryCodedDecimal(binary.LittleEndian.Uint16(buf[3:5]))
		achd.Category = buf[5]
		achd.TotalLength = binary.LittleEndian.Uint16(buf[6:8])
		achd.Controls = buf[8]
		return nil
	}
	if len(buf) < 8 {
		return io.ErrShortBuffer
	}
	achd.BcdADC = BinaryCodedDecimal(binary.LittleEndian.Uint16(buf[3:5]))
	achd.TotalLength = binary.LittleEndian.Uint16(buf[5:7])
	n := int(buf[7])
	if len(buf) < 8+n {
		return io.ErrShortBuffer
	}
	achd.InterfaceNr = make([]uint8, n)
	copy(achd.InterfaceNr, buf[8:8+n])
	return nil
}

// InputTerminalDescriptor as defined in UAC spec 1.0, 4.3.2.1 and UAC spec 2.0, 4.7.2.4.
type InputTerminalDescriptor struct {
	TerminalID    uint8
	TerminalType  TerminalType
	AssocTerminal uint8
	ClockSourceID uint8 // UAC2
	Cluster       AudioClusterDescriptor
	Controls      uint16 // UAC2
	Terminal      uint8
}

func (d *InputTerminalDescriptor) ID() uint8        { return d.TerminalID }
func (d *InputTerminalDescriptor) Kind() UnitKind   { return UnitKindInputTerminal }
func (d *InputTerminalDescriptor) Sources() []uint8 { return nil }

func (d *InputTerminalDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	if protocol == ProtocolUAC2 {
		if len(buf) < 17 {
			return io.ErrShortBuffer
		}
		d.TerminalID = buf[3]
		d.TerminalType = TerminalType(binary.LittleEndian.Uint16(buf[4:6]))
		d.AssocTerminal = buf[6]
		d.ClockSourceID = buf[7]
		d.Cluster = AudioClusterDescriptor{
			NrChannels:    buf[8],
			ChannelConfig: binary.LittleEndian.Uint32(buf[9:13]),
			ChannelNames:  buf[13],
		}
		d.Controls = binary.LittleEndian.Uint16(buf[14:16])
		d.Terminal = buf[16]
		return nil
	}
	if len(buf) < 12 {
		return io.ErrShortBuffer
	}
	d.TerminalID = buf[3]
	d.TerminalType = TerminalType(binary.LittleEndian.Uint16(buf[4:6]))
	d.AssocTerminal = buf[6]
	d.Cluster = AudioClusterDescriptor{
		NrChannels:    buf[7],
		ChannelConfig: uint32(binary.LittleEndian.Uint16(buf[8:10])),
		ChannelNames:  buf[10],
	}
	d.Terminal = buf[11]
	return nil
}

// OutputTerminalDescriptor as defined in UAC spec 1.0, 4.3.2.2 and UAC spec 2.0, 4.7.2.5.
type OutputTerminalDescriptor struct {
	TerminalID    uint8
	TerminalType  TerminalType
	AssocTerminal uint8
	SourceID      uint8
	ClockSourceID uint8  // UAC2
	Controls      uint16 // UAC2
	Terminal      uint8
}

func (d *OutputTerminalDescriptor) ID() uint8        { return d.TerminalID }
func (d *OutputTerminalDescriptor) Kind() UnitKind   { return UnitKindOutputTerminal }
func (d *OutputTerminalDescriptor) Sources() []uint8 { return []uint8{d.SourceID} }

func (d *OutputTerminalDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	if protocol == ProtocolUAC2 {
		if len(buf) < 12 {
			return io.ErrShortBuffer
		}
		d.TerminalID = buf[3]
		d.TerminalType = TerminalType(binary.LittleEndian.Uint16(buf[4:6]))
		d.AssocTerminal = buf[6]
		d.SourceID = buf[7]
		d.ClockSourceID = buf[8]
		d.Controls = binary.LittleEndian.Uint16(buf[9:11])
		d.Terminal = buf[11]
		return nil
	}
	if len(buf) < 9 {
		return io.ErrShortBuffer
	}
	d.TerminalID = buf[3]
	d.TerminalType = TerminalType(binary.LittleEndian.Uint16(buf[4:6]))
	d.AssocTerminal = buf[6]
	d.SourceID = buf[7]
	d.Terminal = buf[8]
	return nil
}

// readPins reads bNrInPins at buf[at] followed by the source ids.
func readPins(buf []byte, at int) ([]uint8, int, error) {
	if len(buf) <= at {
		return nil, 0, io.ErrShortBuffer
	}
	n := int(buf[at])
	if len(buf) < at+1+n {
		return nil, 0, io.ErrShortBuffer
	}
	pins := make([]uint8, n)
	copy(pins, buf[at+1:at+1+n])
	return pins, at + 1 + n, nil
}

// readCluster reads bNrChannels, w/bmChannelConfig and iChannelNames at buf[at].
func readCluster(protocol Protocol, buf []byte, at int) (AudioClusterDescriptor, int, error) {
	if protocol == ProtocolUAC2 {
		if len(buf) < at+6 {
			return AudioClusterDescriptor{}, 0, io.ErrShortBuffer
		}
		return AudioClusterDescriptor{
			NrChannels:    buf[at],
			ChannelConfig: binary.LittleEndian.Uint32(buf[at+1 : at+5]),
			ChannelNames:  buf[at+5],
		}, at + 6, nil
	}
	if len(buf) < at+4 {
		return AudioClusterDescriptor{}, 0, io.ErrShortBuffer
	}
	return AudioClusterDescriptor{
		NrChannels:    buf[at],
		ChannelConfig: uint32(binary.LittleEndian.Uint16(buf[at+1 : at+3])),
		ChannelNames:  buf[at+3],
	}, at + 4, nil
}

// MixerUnitDescriptor as defined in UAC spec 1.0, 4.3.2.3 and UAC spec 2.0, 4.7.2.6.
type MixerUnitDescriptor struct {
	UnitID   uint8
	SourceID []uint8
	Cluster  AudioClusterDescriptor
	Controls []byte
	Mixer    uint8
}

func (d *MixerUnitDescriptor) ID() uint8        { return d.UnitID }
func (d *MixerUnitDescriptor) Kind() UnitKind   { return UnitKindMixer }
func (d *MixerUnitDescriptor) Sources() []uint8 { return d.SourceID }

func (d *MixerUnitDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	d.UnitID = buf[3]
	pins, at, err := readPins(buf, 4)
	if err != nil {
		return err
	}
	d.SourceID = pins
	if d.Cluster, at, err = readCluster(protocol, buf, at); err != nil {
		return err
	}
	// bmControls runs up to the trailing iMixer (and the UAC2 bmControls byte)
	tail := 1
	if protocol == ProtocolUAC2 {
		tail = 2
	}
	if len(buf) < at+tail {
		return io.ErrShortBuffer
	}
	d.Controls = append([]byte(nil), buf[at:len(buf)-tail]...)
	d.Mixer = buf[len(buf)-1]
	return nil
}

// SelectorUnitDescriptor as defined in UAC spec 1.0, 4.3.2.4 and UAC spec 2.0, 4.7.2.7.
type SelectorUnitDescriptor struct {
	UnitID   uint8
	SourceID []uint8
	Controls uint8 // UAC2
	Selector uint8
}

func (d *SelectorUnitDescriptor) ID() uint8        { return d.UnitID }
func (d *SelectorUnitDescriptor) Kind() UnitKind   { return UnitKindSelector }
func (d *SelectorUnitDescriptor) Sources() []uint8 { return d.SourceID }

func (d *SelectorUnitDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	d.UnitID = buf[3]
	pins, at, err := readPins(buf, 4)
	if err != nil {
		return err
	}
	d.SourceID = pins
	if protocol == ProtocolUAC2 {
		if len(buf) < at+2 {
			return io.ErrShortBuffer
		}
		d.Controls = buf[at]
		d.Selector = buf[at+1]
		return nil
	}
	if len(buf) < at+1 {
		return io.ErrShortBuffer
	}
	d.Selector = buf[at]
	return nil
}

// FeatureControl is a feature unit control in UAC1 bit order. Bit (n-1) of a
// channel's control bitmap is set when control n is present.
type FeatureControl uint8

const (
	FeatureControlMute FeatureControl = iota + 1
	FeatureControlVolume
	FeatureControlBass
	FeatureControlMid
	FeatureControlTreble
	FeatureControlGraphicEqualizer
	FeatureControlAutomaticGain
	FeatureControlDelay
	FeatureControlBassBoost
	FeatureControlLoudness
	FeatureControlInputGain    // UAC2
	FeatureControlInputGainPad // UAC2
	FeatureControlPhaseInverter
	FeatureControlUnderflow
	FeatureControlOverflow
)

// FeatureUnitDescriptor as defined in UAC spec 1.0, 4.3.2.5 and UAC spec 2.0, 4.7.2.8.
// ChannelControls[0] is the master channel.
type FeatureUnitDescriptor struct {
	UnitID          uint8
	SourceID        uint8
	ChannelControls []uint32
	// Writable carries the UAC2 host-programmable bit per control; UAC1 controls are all writable.
	Writable []uint32
	Feature  uint8
}

func (d *FeatureUnitDescriptor) ID() uint8        { return d.UnitID }
func (d *FeatureUnitDescriptor) Kind() UnitKind   { return UnitKindFeature }
func (d *FeatureUnitDescriptor) Sources() []uint8 { return []uint8{d.SourceID} }

// NumChannels excludes the master channel.
func (d *FeatureUnitDescriptor) NumChannels() int {
	if len(d.ChannelControls) == 0 {
		return 0
	}
	return len(d.ChannelControls) - 1
}

func (d *FeatureUnitDescriptor) HasControl(channel int, control FeatureControl) bool {
	if channel < 0 || channel >= len(d.ChannelControls) || control == 0 {
		return false
	}
	return d.ChannelControls[channel]&(1<<(control-1)) != 0
}

func (d *FeatureUnitDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	d.UnitID = buf[3]
	if protocol == ProtocolUAC2 {
		if len(buf) < 10 {
			return io.ErrShortBuffer
		}
		d.SourceID = buf[4]
		n := (len(buf) - 6) / 4
		d.ChannelControls = make([]uint32, n)
		d.Writable = make([]uint32, n)
		for i := 0; i < n; i++ {
			bm := binary.LittleEndian.Uint32(buf[5+4*i:])
			for c := 0; c < 16; c++ {
				switch (bm >> (2 * c)) & 0x3 {
				case 0x1:
					d.ChannelControls[i] |= 1 << c
				case 0x3:
					d.ChannelControls[i] |= 1 << c
					d.Writable[i] |= 1 << c
				}
			}
		}
		d.Feature = buf[len(buf)-1]
		return nil
	}
	if len(buf) < 7 {
		return io.ErrShortBuffer
	}
	d.SourceID = buf[4]
	size := int(buf[5])
	if size == 0 || size > 4 {
		return ErrInvalidDescriptor
	}
	n := (len(buf) - 7) / size
	if n == 0 {
		return io.ErrShortBuffer
	}
	d.ChannelControls = make([]uint32, n)
	d.Writable = make([]uint32, n)
	for i := 0; i < n; i++ {
		var bm uint32
		for b := 0; b < size; b++ {
			bm |= uint32(buf[6+i*size+b]) << (8 * b)
		}
		d.ChannelControls[i] = bm
		d.Writable[i] = bm
	}
	d.Feature = buf[len(buf)-1]
	return nil
}

// ProcessingUnitDescriptor as defined in UAC spec 1.0, 4.3.2.6 and UAC spec 2.0, 4.7.2.11.
type ProcessingUnitDescriptor struct {
	UnitID      uint8
	ProcessType uint16
	SourceID    []uint8
	Cluster     AudioClusterDescriptor
	Controls    []byte
}

func (d *ProcessingUnitDescriptor) ID() uint8        { return d.UnitID }
func (d *ProcessingUnitDescriptor) Kind() UnitKind   { return UnitKindProcessing }
func (d *ProcessingUnitDescriptor) Sources() []uint8 { return d.SourceID }

func (d *ProcessingUnitDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	if len(buf) < 7 {
		return io.ErrShortBuffer
	}
	d.UnitID = buf[3]
	d.ProcessType = binary.LittleEndian.Uint16(buf[4:6])
	pins, at, err := readPins(buf, 6)
	if err != nil {
		return err
	}
	d.SourceID = pins
	if d.Cluster, at, err = readCluster(protocol, buf, at); err != nil {
		return err
	}
	if protocol == ProtocolUAC2 {
		if len(buf) < at+2 {
			return io.ErrShortBuffer
		}
		d.Controls = append([]byte(nil), buf[at:at+2]...)
		return nil
	}
	if len(buf) <= at {
		return io.ErrShortBuffer
	}
	size := int(buf[at])
	if len(buf) < at+1+size {
		return io.ErrShortBuffer
	}
	d.Controls = append([]byte(nil), buf[at+1:at+1+size]...)
	return nil
}

// ExtensionUnitDescriptor as defined in UAC spec 1.0, 4.3.2.7 and UAC spec 2.0, 4.7.2.12.
type ExtensionUnitDescriptor struct {
	UnitID        uint8
	ExtensionCode uint16
	SourceID      []uint8
	Cluster       AudioClusterDescriptor
	Controls      []byte
}

func (d *ExtensionUnitDescriptor) ID() uint8        { return d.UnitID }
func (d *ExtensionUnitDescriptor) Kind() UnitKind   { return UnitKindExtension }
func (d *ExtensionUnitDescriptor) Sources() []uint8 { return d.SourceID }

func (d *ExtensionUnitDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	if len(buf) < 7 {
		return io.ErrShortBuffer
	}
	d.UnitID = buf[3]
	d.ExtensionCode = binary.LittleEndian.Uint16(buf[4:6])
	pins, at, err := readPins(buf, 6)
	if err != nil {
		return err
	}
	d.SourceID = pins
	if d.Cluster, at, err = readCluster(protocol, buf, at); err != nil {
		return err
	}
	if protocol == ProtocolUAC2 {
		if len(buf) <= at {
			return io.ErrShortBuffer
		}
		d.Controls = []byte{buf[at]}
		return nil
	}
	if len(buf) <= at {
		return io.ErrShortBuffer
	}
	size := int(buf[at])
	if len(buf) < at+1+size {
		return io.ErrShortBuffer
	}
	d.Controls = append([]byte(nil), buf[at+1:at+1+size]...)
	return nil
}

// EffectUnitDescriptor as defined in UAC spec 2.0, 4.7.2.10.
type EffectUnitDescriptor struct {
	UnitID     uint8
	EffectType uint16
	SourceID   uint8
	Controls   []uint32
}

func (d *EffectUnitDescriptor) ID() uint8        { return d.UnitID }
func (d *EffectUnitDescriptor) Kind() UnitKind   { return UnitKindEffect }
func (d *EffectUnitDescriptor) Sources() []uint8 { return []uint8{d.SourceID} }

func (d *EffectUnitDescriptor) unmarshal(_ Protocol, buf []byte) error {
	if len(buf) < 8 {
		return io.ErrShortBuffer
	}
	d.UnitID = buf[3]
	d.EffectType = binary.LittleEndian.Uint16(buf[4:6])
	d.SourceID = buf[6]
	n := (len(buf) - 8) / 4
	d.Controls = make([]uint32, n)
	for i := range d.Controls {
		d.Controls[i] = binary.LittleEndian.Uint32(buf[7+4*i:])
	}
	return nil
}

// ClockSourceDescriptor as defined in UAC spec 2.0, 4.7.2.1.
type ClockSourceDescriptor struct {
	ClockID       uint8
	Attributes    uint8
	Controls      uint8
	AssocTerminal uint8
	ClockSource   uint8
}

func (d *ClockSourceDescriptor) ID() uint8        { return d.ClockID }
func (d *ClockSourceDescriptor) Kind() UnitKind   { return UnitKindClockSource }
func (d *ClockSourceDescriptor) Sources() []uint8 { return nil }

func (d *ClockSourceDescriptor) ClockType() ClockType { return ClockType(d.Attributes & 0x3) }

// SyncedToSOF reports whether an internal clock is synchronized to the USB start of frame.
func (d *ClockSourceDescriptor) SyncedToSOF() bool { return d.Attributes&0x4 != 0 }

func (d *ClockSourceDescriptor) HasFrequencyControl() bool { return d.Controls&0x3 != 0 }

func (d *ClockSourceDescriptor) FrequencyControlWritable() bool { return d.Controls&0x3 == 0x3 }

func (d *ClockSourceDescriptor) HasValidityControl() bool { return d.Controls&0xC != 0 }

func (d *ClockSourceDescriptor) unmarshal(_ Protocol, buf []byte) error {
	if len(buf) < 8 {
		return io.ErrShortBuffer
	}
	d.ClockID = buf[3]
	d.Attributes = buf[4]
	d.Controls = buf[5]
	d.AssocTerminal = buf[6]
	d.ClockSource = buf[7]
	return nil
}

// ClockSelectorDescriptor as defined in UAC spec 2.0, 4.7.2.2.
type ClockSelectorDescriptor struct {
	ClockID       uint8
	CSourceID     []uint8
	Controls      uint8
	ClockSelector uint8
}

func (d *ClockSelectorDescriptor) ID() uint8        { return d.ClockID }
func (d *ClockSelectorDescriptor) Kind() UnitKind   { return UnitKindClockSelector }
func (d *ClockSelectorDescriptor) Sources() []uint8 { return d.CSourceID }

func (d *ClockSelectorDescriptor) HasSelectorControl() bool { return d.Controls&0x3 != 0 }

func (d *ClockSelectorDescriptor) unmarshal(_ Protocol, buf []byte) error {
	d.ClockID = buf[3]
	pins, at, err := readPins(buf, 4)
	if err != nil {
		return err
	}
	if len(buf) < at+2 {
		return io.ErrShortBuffer
	}
	d.CSourceID = pins
	d.Controls = buf[at]
	d.ClockSelector = buf[at+1]
	return nil
}

// ClockMultiplierDescriptor as defined in UAC spec 2.0, 4.7.2.3. The ratio itself is read
// through the numerator and denominator controls.
type ClockMultiplierDescriptor struct {
	ClockID         uint8
	CSourceID       uint8
	Controls        uint8
	ClockMultiplier uint8
}

func (d *ClockMultiplierDescriptor) ID() uint8        { return d.ClockID }
func (d *ClockMultiplierDescriptor) Kind() UnitKind   { return UnitKindClockMultiplier }
func (d *ClockMultiplierDescriptor) Sources() []uint8 { return []uint8{d.CSourceID} }

func (d *ClockMultiplierDescriptor) unmarshal(_ Protocol, buf []byte) error {
	if len(buf) < 7 {
		return io.ErrShortBuffer
	}
	d.ClockID = buf[3]
	d.CSourceID = buf[4]
	d.Controls = buf[5]
	d.ClockMultiplier = buf[6]
	return nil
}

// SampleRateConverterDescriptor as defined in UAC spec 2.0, 4.7.2.9.
type SampleRateConverterDescriptor struct {
	UnitID       uint8
	SourceID     uint8
	CSourceInID  uint8
	CSourceOutID uint8
}

func (d *SampleRateConverterDescriptor) ID() uint8        { return d.UnitID }
func (d *SampleRateConverterDescriptor) Kind() UnitKind   { return UnitKindSampleRateConverter }
func (d *SampleRateConverterDescriptor) Sources() []uint8 { return []uint8{d.SourceID} }

func (d *SampleRateConverterDescriptor) unmarshal(_ Protocol, buf []byte) error {
	if len(buf) < 8 {
		return io.ErrShortBuffer
	}
	d.UnitID = buf[3]
	d.SourceID = buf[4]
	d.CSourceInID = buf[5]
	d.CSourceOutID = buf[6]
	return nil
}
