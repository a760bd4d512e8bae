package requests

import (
	"encoding/binary"
	"fmt"
	"io"
)

// StatusOrigin is where a status interrupt originated.
type StatusOrigin uint8

const (
	StatusOriginControlInterface StatusOrigin = 0x0
	StatusOriginStreamInterface  StatusOrigin = 0x1
	StatusOriginStreamEndpoint   StatusOrigin = 0x2
)

// StatusMessage is the protocol independent form of a status interrupt.
type StatusMessage struct {
	Origin StatusOrigin
	// Originator is the entity id, or the endpoint address for endpoint originated messages.
	Originator uint8
	Interface  uint8
	// Selector and Channel are only carried by UAC2 messages.
	Selector uint8
	Channel  uint8
	// Pending is the UAC1 interrupt pending bit.
	Pending bool
	// MemoryChanged marks a memory rather than control change.
	MemoryChanged bool
	// VendorSpecific UAC2 messages are ignored by the driver.
	VendorSpecific bool
	Attribute      RequestCode
}

// UnmarshalStatusUAC1 decodes a 2 byte AudioStatusWord, UAC spec 1.0, 3.7.1.2.
func UnmarshalStatusUAC1(buf []byte) (StatusMessage, error) {
	if len(buf) < 2 {
		return StatusMessage{}, io.ErrShortBuffer
	}
	return StatusMessage{
		Pending:       buf[0]&0x80 != 0,
		MemoryChanged: buf[0]&0x40 != 0,
		Origin:        StatusOrigin(buf[0] & 0x0F),
		Originator:    buf[1],
	}, nil
}

func MarshalStatusUAC1(m StatusMessage) []byte {
	b := byte(m.Origin & 0x0F)
	if m.Pending {
		b |= 0x80
	}
	if m.MemoryChanged {
		b |= 0x40
	}
	return []byte{b, m.Originator}
}

// UnmarshalStatusUAC2 decodes a 6 byte interrupt data message, UAC spec 2.0, 6.1.
func UnmarshalStatusUAC2(buf []byte) (StatusMessage, error) {
	if len(buf) < 6 {
		return StatusMessage{}, io.ErrShortBuffer
	}
	value := binary.LittleEndian.Uint16(buf[2:4])
	index := binary.LittleEndian.Uint16(buf[4:6])
	m := StatusMessage{
		VendorSpecific: buf[0]&0x01 != 0,
		Attribute:      RequestCode(buf[1]),
		Selector:       uint8(value >> 8),
		Channel:        uint8(value),
		MemoryChanged:  RequestCode(buf[1]) == RequestCodeMem,
	}
	if buf[0]&0x02 != 0 {
		m.Origin = StatusOriginStreamEndpoint
		m.Originator = uint8(index)
	} else {
		m.Origin = StatusOriginControlInterface
		m.Originator = uint8(index >> 8)
		m.Interface = uint8(index)
	}
	return m, nil
}

func MarshalStatusUAC2(m StatusMessage) []byte {
	buf := make([]byte, 6)
	if m.VendorSpecific {
		buf[0] |= 0x01
	}
	attr := m.Attribute
	if attr == 0 {
		attr = RequestCodeCur
	}
	buf[1] = byte(attr)
	binary.LittleEndian.PutUint16(buf[2:4], Value(m.Selector, m.Channel))
	if m.Origin == StatusOriginStreamEndpoint {
		buf[0] |= 0x02
		binary.LittleEndian.PutUint16(buf[4:6], uint16(m.Originator))
	} else {
		binary.LittleEndian.PutUint16(buf[4:6], Index(m.Originator, m.Interface))
	}
	return buf
}

func (m StatusMessage) String() string {
	return fmt.Sprintf("origin=%d originator=%d selector=%d channel=%d", m.Origin, m.Originator, m.Selector, m.Channel)
}
