package main

import (
	"math"
	"math/cmplx"
	"strings"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	floorDB = -90.0
	ceilDB  = 0.0
)

// levels returns the peak and RMS of samples in dBFS.
func levels(samples []float64) (peak, rms float64) {
	if len(samples) == 0 {
		return floorDB, floorDB
	}
	var p, sum float64
	for _, v := range samples {
		p = max(p, math.Abs(v))
		sum += v * v
	}
	return dB(p), dB(math.Sqrt(sum / float64(len(samples))))
}

func dB(v float64) float64 {
	if v <= 0 {
		return floorDB
	}
	return max(floorDB, 20*math.Log10(v))
}

// spectrum renders the magnitude spectrum of samples as height rows of width columns, low
// frequencies on the left. The bins are spaced logarithmically.
func spectrum(samples []float64, width, height int) []string {
	rows := make([]string, height)
	if len(samples) < 2 || width <= 0 || height <= 0 {
		return rows
	}
	in := append([]float64(nil), samples...)
	window.Apply(in, window.Hann)
	out := fft.FFTReal(in)
	bins := len(out) / 2
	norm := float64(len(samples)) / 4

	columns := make([]float64, width)
	for x := range width {
		lo := logBin(x, width, bins)
		hi := max(lo+1, logBin(x+1, width, bins))
		m := 0.0
		for i := lo; i < hi && i < bins; i++ {
			m = max(m, cmplx.Abs(out[i])/norm)
		}
		columns[x] = (dB(m) - floorDB) / (ceilDB - floorDB) * float64(height)
	}

	var b strings.Builder
	for y := range height {
		b.Reset()
		level := float64(height - y)
		for _, c := range columns {
			switch {
			case c >= level:
				b.WriteRune('█')
			case c >= level-0.5:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
		rows[y] = b.String()
	}
	return rows
}

// logBin is the first FFT bin of column x, skipping DC.
func logBin(x, width, bins int) int {
	if bins <= 1 {
		return 0
	}
	return int(math.Pow(float64(bins), float64(x)/float64(width)))
}
