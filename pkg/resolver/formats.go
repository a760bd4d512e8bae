package resolver

import (
	"fmt"
	"slices"

	"github.com/kevmo314/go-uac/pkg/descriptors"
)

// StandardRates are published in place of ranges too fine to enumerate.
var StandardRates = []uint32{
	8000, 11025, 16000, 22050, 32000, 44100, 48000, 64000,
	88200, 96000, 128000, 176400, 192000, 352800, 384000,
}

// maxRangeSteps is the largest range published point by point.
const maxRangeSteps = 64

// PublishedRates lists the rates of a set the way they are offered to clients. Fine ranges
// collapse to their endpoints plus the standard rates inside them.
func PublishedRates(set descriptors.RateSet) []uint32 {
	out := slices.Clone(set.Discrete)
	for _, r := range set.Ranges {
		out = append(out, r.Min, r.Max)
		if r.Steps() > maxRangeSteps || r.Res == 0 {
			for _, std := range StandardRates {
				if std > r.Min && std < r.Max {
					out = append(out, std)
				}
			}
			continue
		}
		for v := r.Min + r.Res; v < r.Max; v += r.Res {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Format is one alternate setting as offered to clients.
type Format struct {
	Alt      uint8
	Code     descriptors.FormatCode
	Channels uint8
	BitDepth uint8
	Rates    []uint32
}

func streamableCode(c descriptors.FormatCode) bool {
	switch c {
	case descriptors.FormatCodePCM, descriptors.FormatCodePCM8, descriptors.FormatCodeIEEEFloat:
		return true
	}
	return false
}

// Formats lists the usable alternate settings of an interface. An alt with an encoding the
// stream engine cannot carry or without rates is hidden; the rest of the interface stays usable.
func (r *Resolver) Formats(iface uint8) ([]Format, error) {
	s := r.model.StreamingInterface(iface)
	if s == nil {
		return nil, fmt.Errorf("%w: no streaming interface %d", ErrUnsupportedFormat, iface)
	}
	var out []Format
	for _, a := range s.AltSettings {
		if !a.Streamable {
			continue
		}
		if !streamableCode(a.Format) {
			r.logger.Info("alt hidden", "interface", iface, "alt", a.Number, "format", a.Format)
			continue
		}
		set, err := r.SampleRates(iface, a.Number)
		if err != nil || set.Empty() {
			r.logger.Info("alt hidden", "interface", iface, "alt", a.Number, "error", err)
			continue
		}
		out = append(out, Format{
			Alt:      a.Number,
			Code:     a.Format,
			Channels: a.Channels,
			BitDepth: a.BitDepth,
			Rates:    PublishedRates(set),
		})
	}
	return out, nil
}
