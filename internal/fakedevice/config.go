// Package fakedevice simulates USB Audio devices: raw configuration descriptors, a control
// endpoint answering class requests, and a host clock paired with a USB frame counter.
package fakedevice

import (
	"encoding/binary"

	"github.com/kevmo314/go-uac/pkg/descriptors"
)

// ConfigBuilder assembles a raw configuration descriptor.
type ConfigBuilder struct {
	body []byte
	n    uint8
	seen map[uint8]bool
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{seen: map[uint8]bool{}}
}

// Desc appends a descriptor, prefixing bLength.
func (b *ConfigBuilder) Desc(fields ...byte) *ConfigBuilder {
	b.body = append(b.body, byte(len(fields)+1))
	b.body = append(b.body, fields...)
	return b
}

// Interface appends a standard audio interface descriptor.
func (b *ConfigBuilder) Interface(number, alt uint8, subclass descriptors.SubclassCode, protocol descriptors.Protocol, numEndpoints uint8) *ConfigBuilder {
	if !b.seen[number] {
		b.seen[number] = true
		b.n++
	}
	return b.Desc(byte(descriptors.DescriptorTypeInterface), number, alt, numEndpoints,
		byte(descriptors.ClassCodeAudio), byte(subclass), byte(protocol), 0)
}

// Endpoint appends a 9 byte audio endpoint descriptor.
func (b *ConfigBuilder) Endpoint(address, attributes uint8, maxPacketSize uint16, interval, synchAddress uint8) *ConfigBuilder {
	return b.Desc(byte(descriptors.DescriptorTypeEndpoint), address, attributes,
		byte(maxPacketSize), byte(maxPacketSize>>8), interval, 0, synchAddress)
}

// Endpoint7 appends a 7 byte endpoint descriptor as used by UAC2.
func (b *ConfigBuilder) Endpoint7(address, attributes uint8, maxPacketSize uint16, interval uint8) *ConfigBuilder {
	return b.Desc(byte(descriptors.DescriptorTypeEndpoint), address, attributes,
		byte(maxPacketSize), byte(maxPacketSize>>8), interval)
}

// CS appends a class-specific interface descriptor.
func (b *ConfigBuilder) CS(subtype byte, fields ...byte) *ConfigBuilder {
	return b.Desc(append([]byte{byte(descriptors.DescriptorTypeClassSpecificInterface), subtype}, fields...)...)
}

// CSEndpoint appends a class-specific endpoint descriptor.
func (b *ConfigBuilder) CSEndpoint(fields ...byte) *ConfigBuilder {
	return b.Desc(append([]byte{byte(descriptors.DescriptorTypeClassSpecificEndpoint), 0x01}, fields...)...)
}

// Bytes returns the configuration descriptor with its header.
func (b *ConfigBuilder) Bytes() []byte {
	out := make([]byte, 9, 9+len(b.body))
	out[0] = 9
	out[1] = byte(descriptors.DescriptorTypeConfiguration)
	binary.LittleEndian.PutUint16(out[2:4], uint16(9+len(b.body)))
	out[4] = b.n
	out[5] = 1
	out[7] = 0x80
	out[8] = 50
	return append(out, b.body...)
}

func le16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

func le24(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16)} }

func le32(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// UAC1 class-specific AudioControl descriptors.

func (b *ConfigBuilder) HeaderUAC1(totalLength uint16, streaming ...uint8) *ConfigBuilder {
	return b.CS(0x01, cat(le16(0x0100), le16(totalLength), []byte{byte(len(streaming))}, streaming)...)
}

func (b *ConfigBuilder) InputTerminalUAC1(id uint8, typ descriptors.TerminalType, channels uint8, config uint16) *ConfigBuilder {
	return b.CS(0x02, cat([]byte{id}, le16(uint16(typ)), []byte{0, channels}, le16(config), []byte{0, 0})...)
}

func (b *ConfigBuilder) OutputTerminalUAC1(id uint8, typ descriptors.TerminalType, source uint8) *ConfigBuilder {
	return b.CS(0x03, cat([]byte{id}, le16(uint16(typ)), []byte{0, source, 0})...)
}

// FeatureUnitUAC1 takes one control bitmap per channel, master first, with bControlSize 1.
func (b *ConfigBuilder) FeatureUnitUAC1(id, source uint8, controls ...byte) *ConfigBuilder {
	return b.CS(0x06, cat([]byte{id, source, 1}, controls, []byte{0})...)
}

func (b *ConfigBuilder) MixerUnitUAC1(id uint8, channels uint8, sources ...uint8) *ConfigBuilder {
	return b.CS(0x04, cat([]byte{id, byte(len(sources))}, sources, []byte{channels}, le16(0x0003), []byte{0, 0x00, 0})...)
}

func (b *ConfigBuilder) SelectorUnitUAC1(id uint8, sources ...uint8) *ConfigBuilder {
	return b.CS(0x05, cat([]byte{id, byte(len(sources))}, sources, []byte{0})...)
}

func (b *ConfigBuilder) GeneralUAC1(terminalLink uint8, format descriptors.FormatCode) *ConfigBuilder {
	return b.CS(0x01, cat([]byte{terminalLink, 1}, le16(uint16(format)))...)
}

// FormatTypeIUAC1 lists discrete rates; with no rates it encodes the continuous range lo..hi.
func (b *ConfigBuilder) FormatTypeIUAC1(channels, subframe, bits uint8, rates ...uint32) *ConfigBuilder {
	fields := []byte{0x01, channels, subframe, bits, byte(len(rates))}
	for _, r := range rates {
		fields = append(fields, le24(r)...)
	}
	return b.CS(0x02, fields...)
}

func (b *ConfigBuilder) FormatTypeIContinuousUAC1(channels, subframe, bits uint8, lo, hi uint32) *ConfigBuilder {
	return b.CS(0x02, cat([]byte{0x01, channels, subframe, bits, 0}, le24(lo), le24(hi))...)
}

func (b *ConfigBuilder) EndpointGeneralUAC1(attributes uint8) *ConfigBuilder {
	return b.CSEndpoint(attributes, 0, 0, 0)
}

// UAC2 class-specific AudioControl descriptors.

func (b *ConfigBuilder) HeaderUAC2(totalLength uint16) *ConfigBuilder {
	return b.CS(0x01, cat(le16(0x0200), []byte{0x08}, le16(totalLength), []byte{0})...)
}

func (b *ConfigBuilder) ClockSource(id, attributes, controls, assocTerminal uint8) *ConfigBuilder {
	return b.CS(0x0A, id, attributes, controls, assocTerminal, 0)
}

func (b *ConfigBuilder) ClockSelector(id uint8, sources ...uint8) *ConfigBuilder {
	return b.CS(0x0B, cat([]byte{id, byte(len(sources))}, sources, []byte{0x03, 0})...)
}

func (b *ConfigBuilder) ClockMultiplier(id, source uint8) *ConfigBuilder {
	return b.CS(0x0C, id, source, 0x05, 0)
}

func (b *ConfigBuilder) InputTerminalUAC2(id uint8, typ descriptors.TerminalType, clock, channels uint8) *ConfigBuilder {
	return b.CS(0x02, cat([]byte{id}, le16(uint16(typ)), []byte{0, clock, channels}, le32(0x3), []byte{0}, le16(0), []byte{0})...)
}

func (b *ConfigBuilder) OutputTerminalUAC2(id uint8, typ descriptors.TerminalType, source, clock uint8) *ConfigBuilder {
	return b.CS(0x03, cat([]byte{id}, le16(uint16(typ)), []byte{0, source, clock}, le16(0), []byte{0})...)
}

// FeatureUnitUAC2 takes one 32-bit control bitmap per channel, master first.
func (b *ConfigBuilder) FeatureUnitUAC2(id, source uint8, controls ...uint32) *ConfigBuilder {
	fields := []byte{id, source}
	for _, c := range controls {
		fields = append(fields, le32(c)...)
	}
	return b.CS(0x06, append(fields, 0)...)
}

func (b *ConfigBuilder) SelectorUnitUAC2(id uint8, sources ...uint8) *ConfigBuilder {
	return b.CS(0x05, cat([]byte{id, byte(len(sources))}, sources, []byte{0x03, 0})...)
}

func (b *ConfigBuilder) MixerUnitUAC2(id uint8, channels uint8, sources ...uint8) *ConfigBuilder {
	return b.CS(0x04, cat([]byte{id, byte(len(sources))}, sources, []byte{channels}, le32(0x3), []byte{0, 0x00, 0, 0})...)
}

func (b *ConfigBuilder) GeneralUAC2(terminalLink, channels uint8, formats uint32) *ConfigBuilder {
	return b.CS(0x01, cat([]byte{terminalLink, 0, 0x01}, le32(formats), []byte{channels}, le32(0x3), []byte{0})...)
}

func (b *ConfigBuilder) FormatTypeIUAC2(subslot, bits uint8) *ConfigBuilder {
	return b.CS(0x02, 0x01, subslot, bits)
}

func (b *ConfigBuilder) EndpointGeneralUAC2() *ConfigBuilder {
	return b.CSEndpoint(0, 0, 0, 0, 0)
}
