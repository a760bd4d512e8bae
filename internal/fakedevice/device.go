package fakedevice

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/requests"
)

var (
	ErrStall   = errors.New("fakedevice: request stalled")
	ErrTimeout = errors.New("fakedevice: request timed out")
)

// Clock is a simulated UAC2 clock source.
type Clock struct {
	Ranges   []requests.SubRange
	Freq     uint32
	Valid    bool
	Writable bool
}

// Channel is a simulated feature unit channel.
type Channel struct {
	Mute   bool
	Volume int16
	Min    int16
	Max    int16
	Res    int16
}

type channelKey struct {
	unit    uint8
	channel uint8
}

// Device answers audio class control requests from memory. It satisfies
// transfers.ControlTransferer.
type Device struct {
	Protocol descriptors.Protocol

	mu          sync.Mutex
	clocks      map[uint8]*Clock
	selectors   map[uint8]uint8
	multipliers map[uint8][2]uint16
	channels    map[channelKey]*Channel
	endpoints   map[uint8]uint32
	log         []requests.Request
	acks        []uint8
	failures    int
	alts        map[uint8]uint8
	halted      []uint8
}

func NewDevice(protocol descriptors.Protocol) *Device {
	return &Device{
		Protocol:    protocol,
		clocks:      map[uint8]*Clock{},
		selectors:   map[uint8]uint8{},
		multipliers: map[uint8][2]uint16{},
		channels:    map[channelKey]*Channel{},
		endpoints:   map[uint8]uint32{},
		alts:        map[uint8]uint8{},
	}
}

func (d *Device) AddClock(id uint8, c *Clock) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clocks[id] = c
	return d
}

func (d *Device) AddSelector(id, pin uint8) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selectors[id] = pin
	return d
}

func (d *Device) AddMultiplier(id uint8, num, den uint16) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.multipliers[id] = [2]uint16{num, den}
	return d
}

func (d *Device) AddChannel(unit, channel uint8, c *Channel) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channelKey{unit, channel}] = c
	return d
}

func (d *Device) AddEndpoint(address uint8, rate uint32) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[address] = rate
	return d
}

// Clock returns the live state of a clock source.
func (d *Device) Clock(id uint8) *Clock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clocks[id]
}

func (d *Device) SetClockValid(id uint8, valid bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clocks[id]; ok {
		c.Valid = valid
	}
}

func (d *Device) Selector(id uint8) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selectors[id]
}

func (d *Device) Channel(unit, channel uint8) *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[channelKey{unit, channel}]
}

func (d *Device) EndpointRate(address uint8) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoints[address]
}

// FailNext makes the next n requests fail.
func (d *Device) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

// Requests returns every request received so far.
func (d *Device) Requests() []requests.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.log)
}

// Acks returns the originators acknowledged with GET_STAT.
func (d *Device) Acks() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.acks)
}

// SetInterfaceAltSetting records the alternate setting selected for an interface.
func (d *Device) SetInterfaceAltSetting(iface, alt uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alts[iface] = alt
	return nil
}

func (d *Device) AltSetting(iface uint8) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alts[iface]
}

func (d *Device) ClearHalt(endpoint uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.halted = append(d.halted, endpoint)
	return nil
}

// Cleared returns the endpoints a halt was cleared on.
func (d *Device) Cleared() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.halted)
}

func (d *Device) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, _ time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	req := requests.Request{
		RequestType: requests.RequestType(requestType),
		Request:     requests.RequestCode(request),
		Value:       value,
		Index:       index,
	}
	d.log = append(d.log, req)
	if d.failures > 0 {
		d.failures--
		return 0, ErrTimeout
	}
	if req.RequestType.Recipient() == requests.RecipientEndpoint {
		return d.endpoint(req, data)
	}
	if req.Request == requests.RequestCodeGetStat {
		d.acks = append(d.acks, req.UnitID())
		return 0, nil
	}
	id := req.UnitID()
	if c, ok := d.clocks[id]; ok {
		return d.clock(c, req, data)
	}
	if pin, ok := d.selectors[id]; ok {
		if req.RequestType.IsGet() {
			return put(data, []byte{pin})
		}
		if len(data) < 1 || data[0] == 0 {
			return 0, ErrStall
		}
		d.selectors[id] = data[0]
		return 1, nil
	}
	if m, ok := d.multipliers[id]; ok && req.RequestType.IsGet() {
		switch req.Selector() {
		case requests.ClockMultiplierNumeratorControl:
			return put(data, le16(m[0]))
		case requests.ClockMultiplierDenominatorControl:
			return put(data, le16(m[1]))
		}
		return 0, ErrStall
	}
	if ch, ok := d.channels[channelKey{id, req.Channel()}]; ok {
		return d.feature(ch, req, data)
	}
	return 0, fmt.Errorf("%w: %s", ErrStall, req)
}

func (d *Device) endpoint(req requests.Request, data []byte) (int, error) {
	addr := uint8(req.Index)
	if _, ok := d.endpoints[addr]; !ok || req.Selector() != requests.EndpointSamplingFreqControl {
		return 0, ErrStall
	}
	if req.RequestType.IsGet() {
		return put(data, le24(d.endpoints[addr]))
	}
	if len(data) < 3 {
		return 0, ErrStall
	}
	d.endpoints[addr] = requests.Uint24(data)
	return 3, nil
}

func (d *Device) clock(c *Clock, req requests.Request, data []byte) (int, error) {
	switch req.Selector() {
	case requests.ClockSourceSamplingFreqControl:
		if !req.RequestType.IsGet() {
			if !c.Writable || len(data) < 4 {
				return 0, ErrStall
			}
			rate := binary.LittleEndian.Uint32(data)
			supported := false
			for _, r := range c.Ranges {
				supported = supported || descriptors.RateRange(r).Contains(rate)
			}
			if !supported {
				return 0, ErrStall
			}
			c.Freq = rate
			return 4, nil
		}
		if req.Request == requests.RequestCodeRange {
			return put(data, requests.MarshalRange(c.Ranges, 4))
		}
		return put(data, le32(c.Freq))
	case requests.ClockSourceClockValidControl:
		if !req.RequestType.IsGet() {
			return 0, ErrStall
		}
		v := byte(0)
		if c.Valid {
			v = 1
		}
		return put(data, []byte{v})
	}
	return 0, ErrStall
}

func (d *Device) feature(ch *Channel, req requests.Request, data []byte) (int, error) {
	get := req.RequestType.IsGet()
	switch req.Selector() {
	case requests.FeatureUnitMuteControl:
		if !get {
			if len(data) < 1 {
				return 0, ErrStall
			}
			ch.Mute = data[0] != 0
			return 1, nil
		}
		v := byte(0)
		if ch.Mute {
			v = 1
		}
		return put(data, []byte{v})
	case requests.FeatureUnitVolumeControl:
		if !get {
			if len(data) < 2 {
				return 0, ErrStall
			}
			ch.Volume = int16(binary.LittleEndian.Uint16(data))
			return 2, nil
		}
		switch req.Request {
		case requests.RequestCodeGetCur, requests.RequestCodeCur:
			return put(data, le16(uint16(ch.Volume)))
		case requests.RequestCodeGetMin:
			return put(data, le16(uint16(ch.Min)))
		case requests.RequestCodeGetMax:
			return put(data, le16(uint16(ch.Max)))
		case requests.RequestCodeGetRes:
			return put(data, le16(uint16(ch.Res)))
		case requests.RequestCodeRange:
			return put(data, requests.MarshalRange([]requests.SubRange{{
				Min: uint32(uint16(ch.Min)), Max: uint32(uint16(ch.Max)), Res: uint32(uint16(ch.Res)),
			}}, 2))
		}
	}
	return 0, ErrStall
}

// put copies a response into the host buffer, truncating like a real device would.
func put(dst, src []byte) (int, error) {
	return copy(dst, src), nil
}
