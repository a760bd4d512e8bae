package stream

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kevmo314/go-uac/pkg/descriptors"
)

// WireFormat is the sample layout on the bus.
type WireFormat struct {
	Code         descriptors.FormatCode
	Channels     int
	SubframeSize int
	BitDepth     int
}

// FormatOf reads the wire format of a streaming alternate setting.
func FormatOf(alt *descriptors.AltSetting) WireFormat {
	return WireFormat{
		Code:         alt.Format,
		Channels:     int(alt.Channels),
		SubframeSize: int(alt.SubframeSize),
		BitDepth:     int(alt.BitDepth),
	}
}

// BytesPerFrame is the size of one sample for every channel.
func (f WireFormat) BytesPerFrame() int {
	return f.Channels * f.SubframeSize
}

func (f WireFormat) validate() error {
	if f.Channels <= 0 || f.SubframeSize <= 0 || f.SubframeSize > 4 {
		return fmt.Errorf("unsupported wire format: %d channels of %d bytes", f.Channels, f.SubframeSize)
	}
	switch f.Code {
	case descriptors.FormatCodeIEEEFloat:
		if f.SubframeSize != 4 {
			return fmt.Errorf("unsupported float subframe of %d bytes", f.SubframeSize)
		}
	case descriptors.FormatCodePCM8:
		if f.SubframeSize != 1 {
			return fmt.Errorf("unsupported PCM8 subframe of %d bytes", f.SubframeSize)
		}
	case descriptors.FormatCodePCM:
		if f.BitDepth <= 0 || f.BitDepth > f.SubframeSize*8 {
			return fmt.Errorf("unsupported PCM bit depth %d in %d bytes", f.BitDepth, f.SubframeSize)
		}
	default:
		return fmt.Errorf("unsupported format %v", f.Code)
	}
	return nil
}

func (f WireFormat) bits() int {
	if f.Code == descriptors.FormatCodePCM && f.BitDepth > 0 {
		return f.BitDepth
	}
	return f.SubframeSize * 8
}

// encode writes one sample at dst, clipping to full scale. Integer samples are left justified
// in their subframe.
func (f WireFormat) encode(dst []byte, v float32) {
	switch f.Code {
	case descriptors.FormatCodeIEEEFloat:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
		return
	case descriptors.FormatCodePCM8:
		dst[0] = byte(int8(quantize(v, 8)) ^ -128)
		return
	}
	bits := f.bits()
	s := uint32(quantize(v, bits)) << (f.SubframeSize*8 - bits)
	for i := 0; i < f.SubframeSize; i++ {
		dst[i] = byte(s >> (8 * i))
	}
}

func (f WireFormat) decode(src []byte) float32 {
	switch f.Code {
	case descriptors.FormatCodeIEEEFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(src))
	case descriptors.FormatCodePCM8:
		return float32(int8(src[0]^0x80)) / 128
	}
	var s uint32
	for i := 0; i < f.SubframeSize; i++ {
		s |= uint32(src[i]) << (8 * i)
	}
	// sign extend from the top of the subframe, then drop the padding bits
	shift := 32 - f.SubframeSize*8
	v := int32(s<<shift) >> (shift + f.SubframeSize*8 - f.bits())
	return float32(v) / float32(int64(1)<<(f.bits()-1))
}

func quantize(v float32, bits int) int32 {
	scale := float64(int64(1) << (bits - 1))
	x := math.Round(float64(v) * scale)
	return int32(max(-scale, min(scale-1, x)))
}
