package transfers

import (
	"encoding/binary"
	"fmt"

	"github.com/kevmo314/go-uac/pkg/requests"
)

// UAC2ClockControl provides clock domain control for UAC2 devices
type UAC2ClockControl struct {
	r *Requester
}

func NewUAC2ClockControl(r *Requester) *UAC2ClockControl {
	return &UAC2ClockControl{r: r}
}

func (c *UAC2ClockControl) request(get bool, code requests.RequestCode, selector, clockID uint8) requests.Request {
	return requests.UnitRequest(get, code, selector, 0, clockID, c.r.Interface())
}

// Clock Source Controls

// SetClockFrequency sets the sampling frequency for a clock source
func (c *UAC2ClockControl) SetClockFrequency(clockID uint8, freq uint32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, freq)
	return c.r.set(c.request(false, requests.RequestCodeCur, requests.ClockSourceSamplingFreqControl, clockID), data)
}

// ClockFrequency gets the current sampling frequency from a clock source
func (c *UAC2ClockControl) ClockFrequency(clockID uint8) (uint32, error) {
	data := make([]byte, 4)
	err := c.r.get(c.request(true, requests.RequestCodeCur, requests.ClockSourceSamplingFreqControl, clockID), data)
	return binary.LittleEndian.Uint32(data), err
}

// ClockFrequencyRanges reads every {min, max, res} subrange of a clock source. The subrange
// count is read first so the full payload can be requested.
func (c *UAC2ClockControl) ClockFrequencyRanges(clockID uint8) ([]requests.SubRange, error) {
	req := c.request(true, requests.RequestCodeRange, requests.ClockSourceSamplingFreqControl, clockID)
	head := make([]byte, 2)
	if err := c.r.get(req, head); err != nil {
		return nil, err
	}
	count := int(binary.LittleEndian.Uint16(head))
	data := make([]byte, requests.RangeLength(count, 4))
	n, err := c.r.Do(req, data)
	if err != nil {
		return nil, err
	}
	ranges, err := requests.UnmarshalRange(data[:n], 4)
	if err != nil {
		return nil, fmt.Errorf("clock %d frequency range: %w", clockID, err)
	}
	return ranges, nil
}

// ClockValid reads the clock validity control.
func (c *UAC2ClockControl) ClockValid(clockID uint8) (bool, error) {
	data := make([]byte, 1)
	err := c.r.get(c.request(true, requests.RequestCodeCur, requests.ClockSourceClockValidControl, clockID), data)
	return data[0] != 0, err
}

// Clock Selector Controls

// ClockSelector returns the 1-based pin the selector currently routes.
func (c *UAC2ClockControl) ClockSelector(selectorID uint8) (uint8, error) {
	data := make([]byte, 1)
	err := c.r.get(c.request(true, requests.RequestCodeCur, requests.ClockSelectorSelectorControl, selectorID), data)
	return data[0], err
}

func (c *UAC2ClockControl) SetClockSelector(selectorID, pin uint8) error {
	return c.r.set(c.request(false, requests.RequestCodeCur, requests.ClockSelectorSelectorControl, selectorID), []byte{pin})
}

// Clock Multiplier Controls

// ClockMultiplierRatio reads the numerator and denominator of a clock multiplier.
func (c *UAC2ClockControl) ClockMultiplierRatio(multiplierID uint8) (num, den uint16, err error) {
	data := make([]byte, 2)
	if err = c.r.get(c.request(true, requests.RequestCodeCur, requests.ClockMultiplierNumeratorControl, multiplierID), data); err != nil {
		return
	}
	num = binary.LittleEndian.Uint16(data)
	if err = c.r.get(c.request(true, requests.RequestCodeCur, requests.ClockMultiplierDenominatorControl, multiplierID), data); err != nil {
		return
	}
	den = binary.LittleEndian.Uint16(data)
	if den == 0 {
		err = fmt.Errorf("clock multiplier %d reports a zero denominator", multiplierID)
	}
	return
}
