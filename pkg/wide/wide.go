// Package wide implements the fixed-width integer arithmetic behind the anchor regression.
// An Int is a 512-bit two's complement integer; every operation wraps modulo 2^512 like the
// native integer types do.
package wide

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

const words = 8

// Int is a 512-bit two's complement integer, least significant word first. The zero value is 0.
type Int [words]uint64

func FromInt64(v int64) Int {
	var z Int
	z[0] = uint64(v)
	if v < 0 {
		for i := 1; i < words; i++ {
			z[i] = ^uint64(0)
		}
	}
	return z
}

func FromUint64(v uint64) Int {
	var z Int
	z[0] = v
	return z
}

func (x Int) Add(y Int) Int {
	var z Int
	var c uint64
	for i := range z {
		z[i], c = bits.Add64(x[i], y[i], c)
	}
	return z
}

func (x Int) Sub(y Int) Int {
	var z Int
	var b uint64
	for i := range z {
		z[i], b = bits.Sub64(x[i], y[i], b)
	}
	return z
}

func (x Int) Neg() Int {
	return Int{}.Sub(x)
}

// Mul returns the low 512 bits of x*y.
func (x Int) Mul(y Int) Int {
	var z Int
	for i := 0; i < words; i++ {
		if x[i] == 0 {
			continue
		}
		var carry uint64
		for j := 0; i+j < words; j++ {
			hi, lo := bits.Mul64(x[i], y[j])
			var c uint64
			lo, c = bits.Add64(lo, z[i+j], 0)
			hi += c
			lo, c = bits.Add64(lo, carry, 0)
			hi += c
			z[i+j] = lo
			carry = hi
		}
	}
	return z
}

func (x Int) IsZero() bool {
	return x == Int{}
}

func (x Int) Negative() bool {
	return x[words-1]>>63 == 1
}

// Sign returns -1, 0 or +1.
func (x Int) Sign() int {
	switch {
	case x.Negative():
		return -1
	case x.IsZero():
		return 0
	}
	return 1
}

func (x Int) Abs() Int {
	if x.Negative() {
		return x.Neg()
	}
	return x
}

// Cmp compares x and y as signed integers.
func (x Int) Cmp(y Int) int {
	xn, yn := x.Negative(), y.Negative()
	if xn != yn {
		if xn {
			return -1
		}
		return 1
	}
	return ucmp(x, y)
}

func ucmp(x, y Int) int {
	for i := words - 1; i >= 0; i-- {
		switch {
		case x[i] < y[i]:
			return -1
		case x[i] > y[i]:
			return 1
		}
	}
	return 0
}

// BitLen is the length of the absolute value of x in bits.
func (x Int) BitLen() int {
	a := x.Abs()
	for i := words - 1; i >= 0; i-- {
		if a[i] != 0 {
			return i*64 + bits.Len64(a[i])
		}
	}
	return 0
}

// Quo returns x/y truncated toward zero. It panics when y is zero.
func (x Int) Quo(y Int) Int {
	q, _ := x.QuoRem(y)
	return q
}

// QuoRem returns the truncated quotient and the remainder, which carries the sign of x.
func (x Int) QuoRem(y Int) (q, r Int) {
	if y.IsZero() {
		panic("wide: division by zero")
	}
	q, r = udivmod(x.Abs(), y.Abs())
	if x.Negative() != y.Negative() {
		q = q.Neg()
	}
	if x.Negative() {
		r = r.Neg()
	}
	return q, r
}

// udivmod is restoring binary long division on magnitudes below 2^512.
func udivmod(n, d Int) (q, r Int) {
	top := -1
	for i := words - 1; i >= 0; i-- {
		if n[i] != 0 {
			top = i*64 + bits.Len64(n[i]) - 1
			break
		}
	}
	for i := top; i >= 0; i-- {
		r = r.lsh1()
		r[0] |= (n[i/64] >> (i % 64)) & 1
		if ucmp(r, d) >= 0 {
			r = r.Sub(d)
			q[i/64] |= 1 << (i % 64)
		}
	}
	return q, r
}

func (x Int) lsh1() Int {
	var z Int
	for i := words - 1; i > 0; i-- {
		z[i] = x[i]<<1 | x[i-1]>>63
	}
	z[0] = x[0] << 1
	return z
}

// IsInt64 reports whether x fits in an int64.
func (x Int) IsInt64() bool {
	ext := uint64(0)
	if int64(x[0]) < 0 {
		ext = ^uint64(0)
	}
	for i := 1; i < words; i++ {
		if x[i] != ext {
			return false
		}
	}
	return true
}

// Int64 returns the low 64 bits of x as an int64.
func (x Int) Int64() int64 {
	return int64(x[0])
}

// Uint64 returns the low 64 bits of x.
func (x Int) Uint64() uint64 {
	return x[0]
}

func (x Int) String() string {
	if x.IsZero() {
		return "0"
	}
	m := x.Abs()
	base := FromUint64(1e19)
	var parts []uint64
	for !m.IsZero() {
		var r Int
		m, r = udivmod(m, base)
		parts = append(parts, r[0])
	}
	var b strings.Builder
	if x.Negative() {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatUint(parts[len(parts)-1], 10))
	for i := len(parts) - 2; i >= 0; i-- {
		fmt.Fprintf(&b, "%019d", parts[i])
	}
	return b.String()
}
