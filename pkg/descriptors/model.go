package descriptors

// Endpoint is an isochronous endpoint of a streaming alternate setting.
type Endpoint struct {
	Address       uint8
	Direction     Direction
	SyncType      SyncType
	MaxPacketSize uint16
	Interval      uint8
	Refresh       uint8
	SynchAddress  uint8
	// Audio is the class-specific endpoint descriptor, nil when the device omits it.
	Audio *AudioEndpointDescriptor
}

func (e *Endpoint) PacketSize() int {
	return EndpointDesc{MaxPacketSize: e.MaxPacketSize}.PacketSize()
}

// AltSetting is one alternate setting of an AudioStreaming interface.
type AltSetting struct {
	Number uint8
	// Streamable is false for zero-bandwidth settings and for settings whose class-specific
	// descriptors are missing.
	Streamable    bool
	TerminalLink  uint8
	Format        FormatCode
	FormatType    FormatType
	Channels      uint8
	ChannelConfig uint32
	SubframeSize  uint8
	BitDepth      uint8
	// Rates is only populated for UAC1; UAC2 rates come from the clock domain.
	Rates            RateSet
	Delay            uint8
	DataEndpoint     *Endpoint
	FeedbackEndpoint *Endpoint
}

func (a *AltSetting) SyncType() SyncType {
	if a == nil || a.DataEndpoint == nil {
		return SyncTypeUnknown
	}
	return a.DataEndpoint.SyncType
}

func (a *AltSetting) Direction() Direction {
	if a == nil || a.DataEndpoint == nil {
		return DirectionOut
	}
	return a.DataEndpoint.Direction
}

// BytesPerFrame is the size of one sample frame (one sample for every channel) on the wire.
func (a *AltSetting) BytesPerFrame() int {
	return int(a.Channels) * int(a.SubframeSize)
}

// StreamingInterface is an AudioStreaming interface with all of its alternate settings.
type StreamingInterface struct {
	Number      uint8
	Protocol    Protocol
	AltSettings []*AltSetting
}

func (s *StreamingInterface) Alt(n uint8) *AltSetting {
	for _, a := range s.AltSettings {
		if a.Number == n {
			return a
		}
	}
	return nil
}

// Direction reports the direction of the first streamable setting.
func (s *StreamingInterface) Direction() Direction {
	for _, a := range s.AltSettings {
		if a.Streamable {
			return a.Direction()
		}
	}
	return DirectionOut
}

func (s *StreamingInterface) Streamable() bool {
	for _, a := range s.AltSettings {
		if a.Streamable {
			return true
		}
	}
	return false
}

// Model is the immutable description of an audio function. Units and clock entities are held
// in an arena indexed by entity id.
type Model struct {
	Protocol          Protocol
	ControlInterface  uint8
	Header            AudioControlHeaderDescriptor
	InterruptEndpoint *EndpointDesc

	units   [256]Unit
	order   []uint8
	streams []*StreamingInterface
}

// NewModel builds the model from the interfaces of a configuration. The first AudioControl
// interface found defines the audio function.
func NewModel(ifaces []InterfaceDesc) (*Model, error) {
	m := &Model{}
	var control *InterfaceDesc
	for i := range ifaces {
		d := &ifaces[i]
		if d.Class == ClassCodeAudio && d.SubClass == SubclassCodeAudioControl && d.AlternateSetting == 0 {
			control = d
			break
		}
	}
	if control == nil {
		return nil, malformed("no audio control interface")
	}
	m.Protocol = control.Protocol
	m.ControlInterface = control.Number
	if err := m.parseControl(control); err != nil {
		return nil, err
	}

	for i := range ifaces {
		d := &ifaces[i]
		if d.Class != ClassCodeAudio || d.SubClass != SubclassCodeAudioStreaming {
			continue
		}
		s := m.StreamingInterface(d.Number)
		if s == nil {
			s = &StreamingInterface{Number: d.Number, Protocol: d.Protocol}
			m.streams = append(m.streams, s)
		}
		alt, err := parseAlt(m.Protocol, d)
		if err != nil {
			return nil, err
		}
		s.AltSettings = append(s.AltSettings, alt)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) parseControl(d *InterfaceDesc) error {
	var header bool
	err := blocks(d.Extra, func(block []byte) error {
		if DescriptorType(block[1]) != DescriptorTypeClassSpecificInterface || len(block) < 3 {
			return nil
		}
		if AudioControlInterfaceDescriptorSubtype(block[2]) == AudioControlInterfaceDescriptorSubtypeHeader {
			if err := m.Header.unmarshal(m.Protocol, block); err != nil {
				return malformed("audio control header: %v", err)
			}
			header = true
			return nil
		}
		unit, err := UnmarshalUnit(m.Protocol, block)
		if err != nil {
			return malformed("audio control subtype 0x%02x: %v", block[2], err)
		}
		if unit == nil {
			return nil
		}
		if unit.ID() == 0 {
			return malformed("%s with id 0", unit.Kind())
		}
		if m.units[unit.ID()] != nil {
			return malformed("duplicate entity id %d", unit.ID())
		}
		m.units[unit.ID()] = unit
		m.order = append(m.order, unit.ID())
		return nil
	})
	if err != nil {
		return err
	}
	if !header {
		return malformed("audio control interface %d has no header", d.Number)
	}
	for i := range d.Endpoints {
		ep := d.Endpoints[i]
		if ep.Direction() == DirectionIn && ep.Attributes&0x3 == 0x3 {
			m.InterruptEndpoint = &ep
			break
		}
	}
	return nil
}

func parseAlt(protocol Protocol, d *InterfaceDesc) (*AltSetting, error) {
	alt := &AltSetting{Number: d.AlternateSetting}
	var (
		general *AudioStreamingGeneralDescriptor
		format  *FormatTypeDescriptor
		audioEP *AudioEndpointDescriptor
	)
	parseClass := func(block []byte) error {
		if len(block) < 3 {
			return nil
		}
		switch DescriptorType(block[1]) {
		case DescriptorTypeClassSpecificInterface:
			switch AudioStreamingInterfaceDescriptorSubtype(block[2]) {
			case AudioStreamingInterfaceDescriptorSubtypeGeneral:
				general = &AudioStreamingGeneralDescriptor{}
				return general.unmarshal(protocol, block)
			case AudioStreamingInterfaceDescriptorSubtypeFormatType:
				if format != nil {
					return nil
				}
				format = &FormatTypeDescriptor{}
				return format.unmarshal(protocol, block)
			}
		case DescriptorTypeClassSpecificEndpoint:
			if audioEP == nil {
				audioEP = &AudioEndpointDescriptor{}
				return audioEP.unmarshal(protocol, block)
			}
		}
		return nil
	}
	if err := blocks(d.Extra, parseClass); err != nil {
		return nil, malformed("interface %d alt %d: %v", d.Number, d.AlternateSetting, err)
	}

	var data, feedback *EndpointDesc
	for i := range d.Endpoints {
		ep := &d.Endpoints[i]
		if !ep.IsIsochronous() {
			continue
		}
		switch {
		case ep.IsFeedback():
			feedback = ep
		case data == nil:
			data = ep
		case data.SynchAddress == ep.Address || (data.SynchAddress == 0 && ep.Direction() != data.Direction()):
			feedback = ep
		}
	}
	if data != nil {
		if err := blocks(data.Extra, parseClass); err != nil {
			return nil, malformed("interface %d alt %d endpoint 0x%02x: %v", d.Number, d.AlternateSetting, data.Address, err)
		}
		alt.DataEndpoint = newEndpoint(data)
		alt.DataEndpoint.Audio = audioEP
	}
	if feedback != nil {
		alt.FeedbackEndpoint = newEndpoint(feedback)
	}

	if general == nil || format == nil || data == nil {
		return alt, nil
	}
	alt.Streamable = true
	alt.TerminalLink = general.TerminalLink
	alt.Delay = general.Delay
	alt.Format = general.FormatCode(protocol)
	alt.FormatType = format.FormatType
	alt.SubframeSize = format.SubframeSize
	alt.BitDepth = format.BitResolution
	if protocol == ProtocolUAC2 {
		alt.Channels = general.Cluster.NrChannels
		alt.ChannelConfig = general.Cluster.ChannelConfig
	} else {
		alt.Channels = format.NrChannels
		alt.Rates = format.Rates
	}
	return alt, nil
}

func newEndpoint(d *EndpointDesc) *Endpoint {
	return &Endpoint{
		Address:       d.Address,
		Direction:     d.Direction(),
		SyncType:      d.SyncType(),
		MaxPacketSize: d.MaxPacketSize,
		Interval:      d.Interval,
		Refresh:       d.Refresh,
		SynchAddress:  d.SynchAddress,
	}
}

func (m *Model) validate() error {
	for _, id := range m.order {
		u := m.units[id]
		for _, src := range u.Sources() {
			s := m.units[src]
			if s == nil {
				return malformed("%s %d references missing entity %d", u.Kind(), id, src)
			}
			if u.Kind().IsClock() != s.Kind().IsClock() {
				return malformed("%s %d references %s %d across domains", u.Kind(), id, s.Kind(), src)
			}
		}
		if m.Protocol != ProtocolUAC2 {
			continue
		}
		if clock := m.TerminalClock(id); clock != 0 {
			if c := m.units[clock]; c == nil || !c.Kind().IsClock() {
				return malformed("terminal %d references missing clock entity %d", id, clock)
			}
		}
	}
	for _, s := range m.streams {
		for _, a := range s.AltSettings {
			if !a.Streamable {
				continue
			}
			t := m.units[a.TerminalLink]
			if t == nil || (t.Kind() != UnitKindInputTerminal && t.Kind() != UnitKindOutputTerminal) {
				return malformed("interface %d alt %d links to missing terminal %d", s.Number, a.Number, a.TerminalLink)
			}
		}
	}
	return nil
}

// StreamingInterfaces returns the AudioStreaming interfaces in descriptor order.
func (m *Model) StreamingInterfaces() []*StreamingInterface {
	return m.streams
}

func (m *Model) StreamingInterface(n uint8) *StreamingInterface {
	for _, s := range m.streams {
		if s.Number == n {
			return s
		}
	}
	return nil
}

func (m *Model) alt(iface, alt uint8) *AltSetting {
	s := m.StreamingInterface(iface)
	if s == nil {
		return nil
	}
	return s.Alt(alt)
}

// AltSetting returns nil when the interface or setting does not exist.
func (m *Model) AltSetting(iface, alt uint8) *AltSetting {
	return m.alt(iface, alt)
}

func (m *Model) NumAltSettings(iface uint8) int {
	s := m.StreamingInterface(iface)
	if s == nil {
		return 0
	}
	return len(s.AltSettings)
}

// AltSettingZeroCanStream reports devices whose default setting already carries bandwidth.
func (m *Model) AltSettingZeroCanStream(iface uint8) bool {
	a := m.alt(iface, 0)
	return a != nil && a.Streamable
}

func (m *Model) SampleRates(iface, alt uint8) RateSet {
	if a := m.alt(iface, alt); a != nil {
		return a.Rates
	}
	return RateSet{}
}

func (m *Model) Format(iface, alt uint8) FormatCode {
	if a := m.alt(iface, alt); a != nil {
		return a.Format
	}
	return FormatCodeUndefined
}

func (m *Model) Channels(iface, alt uint8) uint8 {
	if a := m.alt(iface, alt); a != nil {
		return a.Channels
	}
	return 0
}

func (m *Model) BitDepth(iface, alt uint8) uint8 {
	if a := m.alt(iface, alt); a != nil {
		return a.BitDepth
	}
	return 0
}

func (m *Model) TerminalLink(iface, alt uint8) uint8 {
	if a := m.alt(iface, alt); a != nil {
		return a.TerminalLink
	}
	return 0
}

// Unit returns the entity with the given id, or nil.
func (m *Model) Unit(id uint8) Unit {
	return m.units[id]
}

// Units returns all entities in descriptor order.
func (m *Model) Units() []Unit {
	units := make([]Unit, 0, len(m.order))
	for _, id := range m.order {
		units = append(units, m.units[id])
	}
	return units
}

func (m *Model) SubType(id uint8) UnitKind {
	if u := m.units[id]; u != nil {
		return u.Kind()
	}
	return UnitKindUndefined
}

func (m *Model) Sources(id uint8) []uint8 {
	if u := m.units[id]; u != nil {
		return u.Sources()
	}
	return nil
}

func (m *Model) featureUnit(id uint8) *FeatureUnitDescriptor {
	fu, _ := m.units[id].(*FeatureUnitDescriptor)
	return fu
}

// NumControls is the number of per-channel control entries of a feature unit, master included.
func (m *Model) NumControls(id uint8) int {
	if fu := m.featureUnit(id); fu != nil {
		return len(fu.ChannelControls)
	}
	return 0
}

func (m *Model) ChannelHasVolumeControl(id uint8, channel int) bool {
	fu := m.featureUnit(id)
	return fu != nil && fu.HasControl(channel, FeatureControlVolume)
}

func (m *Model) ChannelHasMuteControl(id uint8, channel int) bool {
	fu := m.featureUnit(id)
	return fu != nil && fu.HasControl(channel, FeatureControlMute)
}

// AudioCluster returns the cluster leaving an entity. Units that do not alter the cluster
// inherit it from their first source.
func (m *Model) AudioCluster(id uint8) (AudioClusterDescriptor, bool) {
	for seen := 0; seen < len(m.order); seen++ {
		switch u := m.units[id].(type) {
		case *InputTerminalDescriptor:
			return u.Cluster, true
		case *MixerUnitDescriptor:
			return u.Cluster, true
		case *ProcessingUnitDescriptor:
			return u.Cluster, true
		case *ExtensionUnitDescriptor:
			return u.Cluster, true
		case nil:
			return AudioClusterDescriptor{}, false
		default:
			src := u.Sources()
			if len(src) == 0 || u.Kind().IsClock() {
				return AudioClusterDescriptor{}, false
			}
			id = src[0]
		}
	}
	return AudioClusterDescriptor{}, false
}

func (m *Model) TerminalType(id uint8) TerminalType {
	switch u := m.units[id].(type) {
	case *InputTerminalDescriptor:
		return u.TerminalType
	case *OutputTerminalDescriptor:
		return u.TerminalType
	}
	return 0
}

// TerminalClock returns the clock entity a UAC2 terminal is clocked from, or 0.
func (m *Model) TerminalClock(id uint8) uint8 {
	switch u := m.units[id].(type) {
	case *InputTerminalDescriptor:
		return u.ClockSourceID
	case *OutputTerminalDescriptor:
		return u.ClockSourceID
	}
	return 0
}

func (m *Model) ClockSelectorSources(id uint8) []uint8 {
	if cx, ok := m.units[id].(*ClockSelectorDescriptor); ok {
		return cx.CSourceID
	}
	return nil
}

func (m *Model) clockSource(id uint8) *ClockSourceDescriptor {
	cs, _ := m.units[id].(*ClockSourceDescriptor)
	return cs
}

func (m *Model) ClockSourceClockType(id uint8) ClockType {
	if cs := m.clockSource(id); cs != nil {
		return cs.ClockType()
	}
	return ClockTypeExternal
}

func (m *Model) ClockSourceHasFrequencyControl(id uint8) bool {
	cs := m.clockSource(id)
	return cs != nil && cs.HasFrequencyControl()
}

func (m *Model) ClockSourceHasValidityControl(id uint8) bool {
	cs := m.clockSource(id)
	return cs != nil && cs.HasValidityControl()
}

func (m *Model) ClockSourceAssocTerminal(id uint8) uint8 {
	if cs := m.clockSource(id); cs != nil {
		return cs.AssocTerminal
	}
	return 0
}

// StringIndex returns the iXxx string descriptor index of an entity, or 0.
func (m *Model) StringIndex(id uint8) uint8 {
	switch u := m.units[id].(type) {
	case *InputTerminalDescriptor:
		return u.Terminal
	case *OutputTerminalDescriptor:
		return u.Terminal
	case *SelectorUnitDescriptor:
		return u.Selector
	case *FeatureUnitDescriptor:
		return u.Feature
	case *MixerUnitDescriptor:
		return u.Mixer
	case *ClockSourceDescriptor:
		return u.ClockSource
	case *ClockSelectorDescriptor:
		return u.ClockSelector
	case *ClockMultiplierDescriptor:
		return u.ClockMultiplier
	}
	return 0
}
