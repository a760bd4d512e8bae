package descriptors

import "fmt"

type BinaryCodedDecimal uint16

func (bcd BinaryCodedDecimal) Uint16Value() uint16 {
	// read as little endian bcd
	return ((uint16(bcd&0x00f0) >> 4) * 1000) + (uint16(bcd&0x000f) * 100) + ((uint16(bcd&0xf000) >> 12) * 10) + (uint16(bcd&0x0f00) >> 8)
}

// String renders the release number as major.minor, e.g. 0x0200 as "2.00".
func (bcd BinaryCodedDecimal) String() string {
	return fmt.Sprintf("%x.%02x", uint16(bcd)>>8, uint16(bcd)&0xff)
}
