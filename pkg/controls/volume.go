package controls

import (
	"fmt"
	"math"

	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/transfers"
)

// NegativeInfinity is the device volume that silences a channel.
const NegativeInfinity int16 = math.MinInt16

// VolumeScale maps device volumes in 1/256 dB onto control values counting resolution steps
// up from the minimum. Control value 0 is the minimum, which is silence when the device
// reports negative infinity as its minimum.
type VolumeScale struct {
	Min int16
	Max int16
	Res int16
}

// NewVolumeScale checks a range read from a device.
func NewVolumeScale(r transfers.VolumeRange) (VolumeScale, error) {
	if r.Res == 0 {
		return VolumeScale{}, fmt.Errorf("%w: volume resolution is zero", descriptors.ErrMalformedDescriptor)
	}
	res := r.Res
	if res < 0 {
		res = -res
	}
	if r.Max < r.Min {
		r.Min, r.Max = r.Max, r.Min
	}
	return VolumeScale{Min: r.Min, Max: r.Max, Res: res}, nil
}

// floor is the lowest finite volume of the range.
func (s VolumeScale) floor() int32 {
	if s.Min == NegativeInfinity {
		return int32(NegativeInfinity) + 1
	}
	return int32(s.Min)
}

// MaxValue is the control value of the maximum volume.
func (s VolumeScale) MaxValue() int32 {
	return (int32(s.Max) - s.floor()) / int32(s.Res)
}

// ControlValue converts a device volume. Negative infinity and anything at or below the
// minimum map to 0.
func (s VolumeScale) ControlValue(v int16) int32 {
	if v == NegativeInfinity || int32(v) <= s.floor() {
		return 0
	}
	if v >= s.Max {
		return s.MaxValue()
	}
	return (int32(v) - s.floor()) / int32(s.Res)
}

// DeviceVolume converts a control value back, clamping to the range.
func (s VolumeScale) DeviceVolume(value int32) int16 {
	if value <= 0 {
		if s.Min == NegativeInfinity {
			return NegativeInfinity
		}
		return s.Min
	}
	if value >= s.MaxValue() {
		return s.Max
	}
	return int16(s.floor() + value*int32(s.Res))
}

// Decibels is the gain of a control value.
func (s VolumeScale) Decibels(value int32) float64 {
	v := s.DeviceVolume(value)
	if v == NegativeInfinity {
		return math.Inf(-1)
	}
	return float64(v) / 256
}
