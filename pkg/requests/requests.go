// Package requests encodes USB Audio class-specific requests and the messages exchanged with
// the audio control interface.
package requests

import (
	"encoding/binary"
	"fmt"
)

type RequestType uint8

const (
	RequestTypeAudioInterfaceSetRequest RequestType = 0b00100001
	RequestTypeDataEndpointSetRequest   RequestType = 0b00100010
	RequestTypeAudioInterfaceGetRequest RequestType = 0b10100001
	RequestTypeDataEndpointGetRequest   RequestType = 0b10100010
)

// NewRequestType builds bmRequestType = dir<<7 | class<<5 | recipient.
func NewRequestType(in bool, recipient Recipient) RequestType {
	rt := RequestType(0b01<<5) | RequestType(recipient)
	if in {
		rt |= 0x80
	}
	return rt
}

type Recipient uint8

const (
	RecipientInterface Recipient = 0x01
	RecipientEndpoint  Recipient = 0x02
)

func (rt RequestType) IsGet() bool { return rt&0x80 != 0 }

func (rt RequestType) Recipient() Recipient { return Recipient(rt & 0x1F) }

type RequestCode uint8

// UAC1 request codes, UAC spec 1.0, A.9.
const (
	RequestCodeUndefined RequestCode = 0x00
	RequestCodeSetCur    RequestCode = 0x01
	RequestCodeGetCur    RequestCode = 0x81
	RequestCodeSetMin    RequestCode = 0x02
	RequestCodeGetMin    RequestCode = 0x82
	RequestCodeSetMax    RequestCode = 0x03
	RequestCodeGetMax    RequestCode = 0x83
	RequestCodeSetRes    RequestCode = 0x04
	RequestCodeGetRes    RequestCode = 0x84
	RequestCodeSetMem    RequestCode = 0x05
	RequestCodeGetMem    RequestCode = 0x85
	RequestCodeGetStat   RequestCode = 0xFF
)

// UAC2 request codes, UAC spec 2.0, A.14. Direction comes from bmRequestType.
const (
	RequestCodeCur   RequestCode = 0x01
	RequestCodeRange RequestCode = 0x02
	RequestCodeMem   RequestCode = 0x03
)

// Control selectors used by the driver.
const (
	// Feature unit, UAC1 A.10.2 and UAC2 A.17.7.
	FeatureUnitMuteControl   uint8 = 0x01
	FeatureUnitVolumeControl uint8 = 0x02

	// Selector unit, UAC2 A.17.6. UAC1 selector units use control selector 0.
	SelectorUnitSelectorControl uint8 = 0x01

	// Clock source, UAC2 A.17.1.
	ClockSourceSamplingFreqControl uint8 = 0x01
	ClockSourceClockValidControl   uint8 = 0x02

	// Clock selector, UAC2 A.17.2.
	ClockSelectorSelectorControl uint8 = 0x01

	// Clock multiplier, UAC2 A.17.3.
	ClockMultiplierNumeratorControl   uint8 = 0x01
	ClockMultiplierDenominatorControl uint8 = 0x02

	// Endpoint, UAC1 A.10.5.
	EndpointSamplingFreqControl uint8 = 0x01
	EndpointPitchControl        uint8 = 0x02
)

// Request is one class-specific control request.
type Request struct {
	RequestType RequestType
	Request     RequestCode
	Value       uint16
	Index       uint16
}

// Value encodes wValue = control_selector<<8 | channel_number.
func Value(selector, channel uint8) uint16 {
	return uint16(selector)<<8 | uint16(channel)
}

// Index encodes wIndex = unit_id<<8 | interface_number.
func Index(unitID, iface uint8) uint16 {
	return uint16(unitID)<<8 | uint16(iface)
}

// UnitRequest addresses a control of an entity on the audio control interface.
func UnitRequest(get bool, code RequestCode, selector, channel, unitID, iface uint8) Request {
	return Request{
		RequestType: NewRequestType(get, RecipientInterface),
		Request:     code,
		Value:       Value(selector, channel),
		Index:       Index(unitID, iface),
	}
}

// EndpointRequest addresses a control of an isochronous endpoint; wIndex is the endpoint address.
func EndpointRequest(get bool, code RequestCode, selector, endpoint uint8) Request {
	return Request{
		RequestType: NewRequestType(get, RecipientEndpoint),
		Request:     code,
		Value:       Value(selector, 0),
		Index:       uint16(endpoint),
	}
}

func (r Request) Selector() uint8 { return uint8(r.Value >> 8) }
func (r Request) Channel() uint8  { return uint8(r.Value) }
func (r Request) UnitID() uint8   { return uint8(r.Index >> 8) }
func (r Request) Interface() uint8 {
	return uint8(r.Index)
}

func (r Request) String() string {
	return fmt.Sprintf("bmRequestType=0x%02x bRequest=0x%02x wValue=0x%04x wIndex=0x%04x", uint8(r.RequestType), uint8(r.Request), r.Value, r.Index)
}

// SubRange is one {MIN, MAX, RES} triplet of a UAC2 RANGE response.
type SubRange struct {
	Min uint32
	Max uint32
	Res uint32
}

// UnmarshalRange decodes a RANGE payload with elements of size bytes (1, 2 or 4). Signed
// 2-byte ranges, such as volume, are returned in their raw two's complement form.
func UnmarshalRange(buf []byte, size int) ([]SubRange, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("range payload of %d bytes", len(buf))
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) < 2+3*size*n {
		return nil, fmt.Errorf("range payload declares %d subranges in %d bytes", n, len(buf))
	}
	out := make([]SubRange, n)
	for i := range out {
		at := 2 + 3*size*i
		out[i] = SubRange{
			Min: readN(buf[at:], size),
			Max: readN(buf[at+size:], size),
			Res: readN(buf[at+2*size:], size),
		}
	}
	return out, nil
}

// MarshalRange encodes subranges into a RANGE payload.
func MarshalRange(ranges []SubRange, size int) []byte {
	buf := make([]byte, 2+3*size*len(ranges))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(ranges)))
	for i, r := range ranges {
		at := 2 + 3*size*i
		writeN(buf[at:], size, r.Min)
		writeN(buf[at+size:], size, r.Max)
		writeN(buf[at+2*size:], size, r.Res)
	}
	return buf
}

// RangeLength is the wLength needed to read n subranges of size byte elements.
func RangeLength(n, size int) int {
	return 2 + 3*size*n
}

func readN(b []byte, size int) uint32 {
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

func writeN(b []byte, size int, v uint32) {
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// PutUint24 writes a 3-byte little endian value, as used for UAC1 sampling frequencies.
func PutUint24(b []byte, v uint32) {
	writeN(b, 3, v)
}

func Uint24(b []byte) uint32 {
	return readN(b, 3)
}
