package descriptors

import (
	"encoding/binary"
	"fmt"
)

// InterfaceDesc is one standard interface descriptor (one alternate setting) together with the
// descriptors that followed it in the configuration.
type InterfaceDesc struct {
	Number           uint8
	AlternateSetting uint8
	Class            ClassCode
	SubClass         SubclassCode
	Protocol         Protocol
	StringIndex      uint8
	Endpoints        []EndpointDesc
	// Extra holds the class-specific descriptors between this interface and its first endpoint.
	Extra []byte
}

// EndpointDesc is a standard endpoint descriptor. Audio class endpoints are 9 bytes long and
// carry bRefresh and bSynchAddress; both are zero on 7 byte descriptors.
type EndpointDesc struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
	Refresh       uint8
	SynchAddress  uint8
	// Extra holds the class-specific endpoint descriptors that followed this endpoint.
	Extra []byte
}

func (e EndpointDesc) Direction() Direction {
	if e.Address&0x80 != 0 {
		return DirectionIn
	}
	return DirectionOut
}

func (e EndpointDesc) IsIsochronous() bool {
	return e.Attributes&0x3 == 0x1
}

func (e EndpointDesc) SyncType() SyncType {
	return SyncType((e.Attributes >> 2) & 0x3)
}

// IsFeedback reports the explicit feedback usage type from bits 4..5 of bmAttributes.
func (e EndpointDesc) IsFeedback() bool {
	return (e.Attributes>>4)&0x3 == 0x1
}

// PacketSize is the number of bytes one service interval can carry, including high-bandwidth
// additional transactions.
func (e EndpointDesc) PacketSize() int {
	base := int(e.MaxPacketSize & 0x07FF)
	mult := int((e.MaxPacketSize>>11)&0x3) + 1
	return base * mult
}

// WalkConfiguration splits a raw configuration descriptor into interface descriptors in the
// order they appear.
func WalkConfiguration(raw []byte) ([]InterfaceDesc, error) {
	if len(raw) < 9 || DescriptorType(raw[1]) != DescriptorTypeConfiguration {
		return nil, malformed("configuration descriptor too short or wrong type")
	}
	total := int(binary.LittleEndian.Uint16(raw[2:4]))
	if total > len(raw) {
		return nil, malformed("wTotalLength %d exceeds %d bytes", total, len(raw))
	}
	if total < 9 || total < int(raw[0]) || raw[0] < 9 {
		return nil, malformed("wTotalLength %d shorter than the %d byte header", total, raw[0])
	}
	raw = raw[:total]

	var (
		ifaces []InterfaceDesc
		cur    *InterfaceDesc
	)
	for pos := int(raw[0]); pos < len(raw); {
		length := int(raw[pos])
		if length < 2 || pos+length > len(raw) {
			return nil, malformed("descriptor at offset %d has length %d", pos, length)
		}
		block := raw[pos : pos+length]
		switch DescriptorType(block[1]) {
		case DescriptorTypeInterface:
			if length < 9 {
				return nil, malformed("interface descriptor of %d bytes", length)
			}
			ifaces = append(ifaces, InterfaceDesc{
				Number:           block[2],
				AlternateSetting: block[3],
				Class:            ClassCode(block[5]),
				SubClass:         SubclassCode(block[6]),
				Protocol:         Protocol(block[7]),
				StringIndex:      block[8],
			})
			cur = &ifaces[len(ifaces)-1]
		case DescriptorTypeEndpoint:
			if cur == nil {
				return nil, malformed("endpoint descriptor before any interface")
			}
			if length < 7 {
				return nil, malformed("endpoint descriptor of %d bytes", length)
			}
			ep := EndpointDesc{
				Address:       block[2],
				Attributes:    block[3],
				MaxPacketSize: binary.LittleEndian.Uint16(block[4:6]),
				Interval:      block[6],
			}
			if length >= 9 {
				ep.Refresh = block[7]
				ep.SynchAddress = block[8]
			}
			cur.Endpoints = append(cur.Endpoints, ep)
		default:
			if cur == nil {
				break
			}
			if n := len(cur.Endpoints); n > 0 {
				cur.Endpoints[n-1].Extra = append(cur.Endpoints[n-1].Extra, block...)
			} else {
				cur.Extra = append(cur.Extra, block...)
			}
		}
		pos += length
	}
	return ifaces, nil
}

// ParseConfiguration builds a Model from a raw configuration descriptor.
func ParseConfiguration(raw []byte) (*Model, error) {
	ifaces, err := WalkConfiguration(raw)
	if err != nil {
		return nil, err
	}
	return NewModel(ifaces)
}

// blocks iterates over the descriptors packed in buf, stopping at the first inconsistent length.
func blocks(buf []byte, fn func(block []byte) error) error {
	for i := 0; i < len(buf); {
		length := int(buf[i])
		if length < 2 || i+length > len(buf) {
			return fmt.Errorf("%w: descriptor length %d at offset %d", ErrMalformedDescriptor, length, i)
		}
		if err := fn(buf[i : i+length]); err != nil {
			return err
		}
		i += length
	}
	return nil
}
