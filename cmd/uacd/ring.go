package main

import (
	"fmt"
	"math"

	uac "github.com/kevmo314/go-uac"
	"github.com/kevmo314/go-uac/pkg/descriptors"
	"github.com/kevmo314/go-uac/pkg/stream"
)

// absoluteFrame turns a ring position into a sample frame count since the stream started.
func absoluteFrame(cursor int, loops uint64, size, bpf int) int64 {
	frames := int64(size / bpf)
	return int64(loops)*frames + int64(cursor/bpf)
}

func streamFrame(s *stream.Stream) (frame int64, ringFrames int) {
	cursor, loops := s.Position()
	bpf := s.Config().Format.BytesPerFrame()
	return absoluteFrame(cursor, loops, s.BufferSize(), bpf), s.BufferSize() / bpf
}

// pickStream finds the engine and interface to stream on: iface when set, otherwise the first
// interface running in dir.
func pickStream(d *uac.Driver, iface uint8, dir descriptors.Direction) (int, uint8, error) {
	for _, e := range d.Engines() {
		for _, m := range e.Members {
			if iface != 0 && m.Interface == iface {
				if m.Direction != dir {
					return 0, 0, fmt.Errorf("interface %d is %s, not %s", iface, m.Direction, dir)
				}
				return e.Index, m.Interface, nil
			}
			if iface == 0 && m.Direction == dir {
				return e.Index, m.Interface, nil
			}
		}
	}
	if iface != 0 {
		return 0, 0, fmt.Errorf("%w: interface %d", uac.ErrNoSuchStream, iface)
	}
	return 0, 0, fmt.Errorf("%w: no %s interface", uac.ErrNoSuchStream, dir)
}

// tone is a sine generator that keeps its phase across calls.
type tone struct {
	step  float64
	phase float64
	amp   float32
}

func newTone(freq float64, rate uint32, gain float64) *tone {
	return &tone{step: 2 * math.Pi * freq / float64(rate), amp: float32(gain)}
}

// fill writes frames interleaved frames of the tone on every channel.
func (t *tone) fill(dst []float32, frames, channels int) []float32 {
	dst = dst[:0]
	for range frames {
		v := t.amp * float32(math.Sin(t.phase))
		for range channels {
			dst = append(dst, v)
		}
		t.phase += t.step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return dst
}
