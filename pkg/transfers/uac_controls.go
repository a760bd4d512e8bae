package transfers

import (
	"encoding/binary"
	"fmt"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/requests"
)

// VolumeRange is a feature unit volume range in 1/256 dB steps.
type VolumeRange struct {
	Min int16
	Max int16
	Res int16
}

// UACControl provides feature unit, selector unit and endpoint controls for both protocol
// versions. UAC1 uses GET_CUR/GET_MIN/GET_MAX/GET_RES, UAC2 uses CUR and RANGE.
type UACControl struct {
	r        *Requester
	protocol descriptors.Protocol
}

func NewUACControl(r *Requester, protocol descriptors.Protocol) *UACControl {
	return &UACControl{r: r, protocol: protocol}
}

func (c *UACControl) Protocol() descriptors.Protocol {
	return c.protocol
}

func (c *UACControl) unit(get bool, code requests.RequestCode, selector, channel, unitID uint8) requests.Request {
	if c.protocol == descriptors.ProtocolUAC2 && code&0x80 != 0 {
		// UAC1 GET codes map onto CUR and RANGE in UAC2.
		if code == requests.RequestCodeGetCur {
			code = requests.RequestCodeCur
		} else {
			code = requests.RequestCodeRange
		}
	}
	return requests.UnitRequest(get, code, selector, channel, unitID, c.r.Interface())
}

// Mute gets the mute state of a feature unit channel.
func (c *UACControl) Mute(unitID, channel uint8) (bool, error) {
	data := make([]byte, 1)
	err := c.r.get(c.unit(true, requests.RequestCodeGetCur, requests.FeatureUnitMuteControl, channel, unitID), data)
	return data[0] != 0, err
}

func (c *UACControl) SetMute(unitID, channel uint8, mute bool) error {
	data := []byte{0x00}
	if mute {
		data[0] = 0x01
	}
	return c.r.set(c.unit(false, requests.RequestCodeSetCur, requests.FeatureUnitMuteControl, channel, unitID), data)
}

// Volume gets the current volume in 1/256 dB. 0x8000 (math.MinInt16) is negative infinity.
func (c *UACControl) Volume(unitID, channel uint8) (int16, error) {
	data := make([]byte, 2)
	err := c.r.get(c.unit(true, requests.RequestCodeGetCur, requests.FeatureUnitVolumeControl, channel, unitID), data)
	return int16(binary.LittleEndian.Uint16(data)), err
}

func (c *UACControl) SetVolume(unitID, channel uint8, volume int16) error {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, uint16(volume))
	return c.r.set(c.unit(false, requests.RequestCodeSetCur, requests.FeatureUnitVolumeControl, channel, unitID), data)
}

// VolumeRange reads the min, max and resolution of a volume control. UAC2 devices may report
// several subranges; the first minimum, last maximum and first resolution are used.
func (c *UACControl) VolumeRange(unitID, channel uint8) (VolumeRange, error) {
	if c.protocol == descriptors.ProtocolUAC2 {
		// a single subrange is the common case; read room for a few more
		data := make([]byte, requests.RangeLength(4, 2))
		n, err := c.r.Do(c.unit(true, requests.RequestCodeGetMin, requests.FeatureUnitVolumeControl, channel, unitID), data)
		if err != nil {
			return VolumeRange{}, err
		}
		ranges, err := requests.UnmarshalRange(data[:n], 2)
		if err != nil {
			return VolumeRange{}, fmt.Errorf("volume range of unit %d channel %d: %w", unitID, channel, err)
		}
		if len(ranges) == 0 {
			return VolumeRange{}, fmt.Errorf("volume range of unit %d channel %d is empty", unitID, channel)
		}
		return VolumeRange{
			Min: int16(ranges[0].Min),
			Max: int16(ranges[len(ranges)-1].Max),
			Res: int16(ranges[0].Res),
		}, nil
	}
	var vr VolumeRange
	for _, q := range []struct {
		code requests.RequestCode
		dst  *int16
	}{
		{requests.RequestCodeGetMin, &vr.Min},
		{requests.RequestCodeGetMax, &vr.Max},
		{requests.RequestCodeGetRes, &vr.Res},
	} {
		data := make([]byte, 2)
		if err := c.r.get(c.unit(true, q.code, requests.FeatureUnitVolumeControl, channel, unitID), data); err != nil {
			return VolumeRange{}, err
		}
		*q.dst = int16(binary.LittleEndian.Uint16(data))
	}
	return vr, nil
}

// Selector Unit Controls

// Selector returns the 1-based input pin a selector unit is set to.
func (c *UACControl) Selector(unitID uint8) (uint8, error) {
	data := make([]byte, 1)
	err := c.r.get(c.unit(true, requests.RequestCodeGetCur, c.selectorControl(), 0, unitID), data)
	return data[0], err
}

func (c *UACControl) SetSelector(unitID, pin uint8) error {
	return c.r.set(c.unit(false, requests.RequestCodeSetCur, c.selectorControl(), 0, unitID), []byte{pin})
}

func (c *UACControl) selectorControl() uint8 {
	if c.protocol == descriptors.ProtocolUAC2 {
		return requests.SelectorUnitSelectorControl
	}
	return 0
}

// Endpoint Controls

// SetEndpointSampleRate sets the sampling frequency of a UAC1 isochronous endpoint.
func (c *UACControl) SetEndpointSampleRate(endpoint uint8, rate uint32) error {
	data := make([]byte, 3)
	requests.PutUint24(data, rate)
	return c.r.set(requests.EndpointRequest(false, requests.RequestCodeSetCur, requests.EndpointSamplingFreqControl, endpoint), data)
}

func (c *UACControl) EndpointSampleRate(endpoint uint8) (uint32, error) {
	data := make([]byte, 3)
	err := c.r.get(requests.EndpointRequest(true, requests.RequestCodeGetCur, requests.EndpointSamplingFreqControl, endpoint), data)
	return requests.Uint24(data), err
}

// AcknowledgeStatus issues the zero-length GET_STAT a UAC1 device expects after raising a
// status interrupt for originator.
func (c *UACControl) AcknowledgeStatus(originator uint8) error {
	_, err := c.r.Do(requests.UnitRequest(true, requests.RequestCodeGetStat, 0, 0, originator, c.r.Interface()), nil)
	return err
}
