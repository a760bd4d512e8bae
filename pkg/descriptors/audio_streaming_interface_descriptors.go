// This file implements the class-specific AudioStreaming descriptors as defined in the UAC spec
// 1.0, section 4.5.2 and 4.6.1, the UAC spec 2.0, section 4.9.2 and 4.10.1, and the matching
// Audio Data Formats documents.
package descriptors

import (
	"encoding/binary"
	"io"
)

type AudioStreamingInterfaceDescriptorSubtype byte

const (
	AudioStreamingInterfaceDescriptorSubtypeUndefined      AudioStreamingInterfaceDescriptorSubtype = 0x00
	AudioStreamingInterfaceDescriptorSubtypeGeneral        AudioStreamingInterfaceDescriptorSubtype = 0x01
	AudioStreamingInterfaceDescriptorSubtypeFormatType     AudioStreamingInterfaceDescriptorSubtype = 0x02
	AudioStreamingInterfaceDescriptorSubtypeFormatSpecific AudioStreamingInterfaceDescriptorSubtype = 0x03
)

type FormatType uint8

const (
	FormatTypeUndefined FormatType = 0x00
	FormatTypeI         FormatType = 0x01
	FormatTypeII        FormatType = 0x02
	FormatTypeIII       FormatType = 0x03
	FormatTypeIV        FormatType = 0x04
)

// AudioStreamingGeneralDescriptor as defined in UAC spec 1.0, 4.5.2 and UAC spec 2.0, 4.9.2.
type AudioStreamingGeneralDescriptor struct {
	TerminalLink uint8
	Delay        uint8 // UAC1
	FormatTag    uint16
	// UAC2 fields
	Controls   uint8
	FormatType FormatType
	Formats    uint32
	Cluster    AudioClusterDescriptor
}

// FormatCode maps either wFormatTag or the lowest set bmFormats bit to a FormatCode.
func (d *AudioStreamingGeneralDescriptor) FormatCode(protocol Protocol) FormatCode {
	if protocol != ProtocolUAC2 {
		return FormatCode(d.FormatTag)
	}
	if d.FormatType == FormatTypeI || d.FormatType == FormatTypeIII || d.FormatType == FormatTypeUndefined {
		for bit, code := range []FormatCode{FormatCodePCM, FormatCodePCM8, FormatCodeIEEEFloat, FormatCodeALaw, FormatCodeMuLaw} {
			if d.Formats&(1<<bit) != 0 {
				return code
			}
		}
		return FormatCodeUndefined
	}
	if d.FormatType == FormatTypeII {
		if d.Formats&0x1 != 0 {
			return FormatCodeMPEG
		}
		if d.Formats&0x2 != 0 {
			return FormatCodeAC3
		}
	}
	return FormatCodeUndefined
}

func (d *AudioStreamingGeneralDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	if protocol == ProtocolUAC2 {
		if len(buf) < 16 {
			return io.ErrShortBuffer
		}
		d.TerminalLink = buf[3]
		d.Controls = buf[4]
		d.FormatType = FormatType(buf[5])
		d.Formats = binary.LittleEndian.Uint32(buf[6:10])
		d.Cluster = AudioClusterDescriptor{
			NrChannels:    buf[10],
			ChannelConfig: binary.LittleEndian.Uint32(buf[11:15]),
			ChannelNames:  buf[15],
		}
		return nil
	}
	if len(buf) < 7 {
		return io.ErrShortBuffer
	}
	d.TerminalLink = buf[3]
	d.Delay = buf[4]
	d.FormatTag = binary.LittleEndian.Uint16(buf[5:7])
	return nil
}

// FormatTypeDescriptor covers Type I, II and III format type descriptors. UAC1 descriptors carry
// the sampling frequencies; UAC2 rates come from the clock domain instead.
type FormatTypeDescriptor struct {
	FormatType      FormatType
	NrChannels      uint8 // UAC1 Type I/III
	SubframeSize    uint8
	BitResolution   uint8
	MaxBitRate      uint16 // Type II
	SamplesPerFrame uint16
	Rates           RateSet
}

func readFrequencies(buf []byte, at int) (RateSet, error) {
	if len(buf) <= at {
		return RateSet{}, io.ErrShortBuffer
	}
	n := int(buf[at])
	at++
	if n == 0 {
		if len(buf) < at+6 {
			return RateSet{}, io.ErrShortBuffer
		}
		lo := uint24(buf[at:])
		hi := uint24(buf[at+3:])
		return RateSet{Ranges: []RateRange{{Min: lo, Max: hi, Res: 1}}}, nil
	}
	if len(buf) < at+3*n {
		return RateSet{}, io.ErrShortBuffer
	}
	rates := make([]uint32, n)
	for i := range rates {
		rates[i] = uint24(buf[at+3*i:])
	}
	return RateSet{Discrete: rates}, nil
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func (d *FormatTypeDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	if len(buf) < 4 {
		return io.ErrShortBuffer
	}
	d.FormatType = FormatType(buf[3])
	if protocol == ProtocolUAC2 {
		switch d.FormatType {
		case FormatTypeI, FormatTypeIII:
			if len(buf) < 6 {
				return io.ErrShortBuffer
			}
			d.SubframeSize = buf[4]
			d.BitResolution = buf[5]
		case FormatTypeII:
			if len(buf) < 8 {
				return io.ErrShortBuffer
			}
			d.MaxBitRate = binary.LittleEndian.Uint16(buf[4:6])
			d.SamplesPerFrame = binary.LittleEndian.Uint16(buf[6:8])
		}
		return nil
	}
	var err error
	switch d.FormatType {
	case FormatTypeI, FormatTypeIII:
		if len(buf) < 8 {
			return io.ErrShortBuffer
		}
		d.NrChannels = buf[4]
		d.SubframeSize = buf[5]
		d.BitResolution = buf[6]
		d.Rates, err = readFrequencies(buf, 7)
	case FormatTypeII:
		if len(buf) < 9 {
			return io.ErrShortBuffer
		}
		d.MaxBitRate = binary.LittleEndian.Uint16(buf[4:6])
		d.SamplesPerFrame = binary.LittleEndian.Uint16(buf[6:8])
		d.Rates, err = readFrequencies(buf, 8)
	}
	return err
}

// AudioEndpointDescriptor is the class-specific isochronous endpoint descriptor,
// UAC spec 1.0, 4.6.1.2 and UAC spec 2.0, 4.10.1.2.
type AudioEndpointDescriptor struct {
	Attributes     uint8
	Controls       uint8 // UAC2
	LockDelayUnits uint8
	LockDelay      uint16
}

// HasSamplingFrequencyControl is only meaningful on UAC1 endpoints.
func (d *AudioEndpointDescriptor) HasSamplingFrequencyControl() bool {
	return d.Attributes&0x01 != 0
}

func (d *AudioEndpointDescriptor) HasPitchControl(protocol Protocol) bool {
	if protocol == ProtocolUAC2 {
		return d.Controls&0x03 != 0
	}
	return d.Attributes&0x02 != 0
}

func (d *AudioEndpointDescriptor) MaxPacketsOnly() bool {
	return d.Attributes&0x80 != 0
}

func (d *AudioEndpointDescriptor) unmarshal(protocol Protocol, buf []byte) error {
	if protocol == ProtocolUAC2 {
		if len(buf) < 8 {
			return io.ErrShortBuffer
		}
		d.Attributes = buf[3]
		d.Controls = buf[4]
		d.LockDelayUnits = buf[5]
		d.LockDelay = binary.LittleEndian.Uint16(buf[6:8])
		return nil
	}
	if len(buf) < 7 {
		return io.ErrShortBuffer
	}
	d.Attributes = buf[3]
	d.LockDelayUnits = buf[4]
	d.LockDelay = binary.LittleEndian.Uint16(buf[5:7])
	return nil
}
