package descriptors

import (
	"math"
	"slices"
)

// RateRange is a sampling frequency subrange. A rate is in the range when it equals Min or Max
// or lies on the Res grid anchored at Min.
type RateRange struct {
	Min uint32
	Max uint32
	Res uint32
}

func (r RateRange) Contains(rate uint32) bool {
	if rate == r.Min || rate == r.Max {
		return true
	}
	if rate < r.Min || rate > r.Max || r.Res == 0 {
		return false
	}
	return (rate-r.Min)%r.Res == 0
}

// Steps is the number of grid points in the range, counting both ends. It saturates at
// math.MaxUint32.
func (r RateRange) Steps() uint32 {
	if r.Max <= r.Min {
		return 1
	}
	if r.Res == 0 {
		return 2
	}
	return uint32(min(uint64(r.Max-r.Min)/uint64(r.Res)+1, math.MaxUint32))
}

// RateSet is either a discrete list of rates, a set of continuous subranges, or both.
type RateSet struct {
	Discrete []uint32
	Ranges   []RateRange
}

func (s RateSet) Empty() bool {
	return len(s.Discrete) == 0 && len(s.Ranges) == 0
}

func (s RateSet) Supports(rate uint32) bool {
	if slices.Contains(s.Discrete, rate) {
		return true
	}
	for _, r := range s.Ranges {
		if r.Contains(rate) {
			return true
		}
	}
	return false
}

// Highest returns the largest rate in the set, or 0 if it is empty.
func (s RateSet) Highest() uint32 {
	var hi uint32
	for _, r := range s.Discrete {
		hi = max(hi, r)
	}
	for _, r := range s.Ranges {
		hi = max(hi, r.Max)
	}
	return hi
}

// Scale multiplies every rate by num/den, as done by a clock multiplier.
func (s RateSet) Scale(num, den uint32) RateSet {
	if den == 0 || num == den {
		return s
	}
	scale := func(v uint32) uint32 { return uint32(uint64(v) * uint64(num) / uint64(den)) }
	out := RateSet{}
	for _, r := range s.Discrete {
		out.Discrete = append(out.Discrete, scale(r))
	}
	for _, r := range s.Ranges {
		out.Ranges = append(out.Ranges, RateRange{Min: scale(r.Min), Max: scale(r.Max), Res: scale(r.Res)})
	}
	return out
}

// Intersects reports whether at least one rate is supported by both sets. Ranges are compared
// on their grid points up to a bounded number of steps, beyond which the overlap of the
// endpoints decides.
func (s RateSet) Intersects(o RateSet) bool {
	for _, r := range s.Discrete {
		if o.Supports(r) {
			return true
		}
	}
	for _, r := range o.Discrete {
		if s.Supports(r) {
			return true
		}
	}
	for _, a := range s.Ranges {
		for _, b := range o.Ranges {
			lo, hi := max(a.Min, b.Min), min(a.Max, b.Max)
			if lo > hi {
				continue
			}
			if a.Steps() > 4096 {
				return true
			}
			for i := range uint64(a.Steps()) {
				v := uint64(a.Min) + i*uint64(a.Res)
				if v > uint64(hi) {
					break
				}
				if v >= uint64(lo) && b.Contains(uint32(v)) {
					return true
				}
				if a.Res == 0 {
					break
				}
			}
			if b.Contains(a.Max) {
				return true
			}
		}
	}
	return false
}
