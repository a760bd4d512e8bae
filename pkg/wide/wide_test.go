package wide

import (
	"math/big"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var two512 = new(big.Int).Lsh(big.NewInt(1), 512)

func toBig(x Int) *big.Int {
	b := new(big.Int)
	for i := words - 1; i >= 0; i-- {
		b.Lsh(b, 64)
		b.Or(b, new(big.Int).SetUint64(x[i]))
	}
	if x.Negative() {
		b.Sub(b, two512)
	}
	return b
}

// random returns a signed value of up to nbits bits.
func random(r *rand.Rand, nbits int) Int {
	var x Int
	for i := 0; i*64 < nbits; i++ {
		x[i] = r.Uint64()
	}
	if rem := nbits % 64; rem != 0 {
		x[nbits/64] &= 1<<rem - 1
	}
	if r.IntN(2) == 0 {
		x = x.Neg()
	}
	return x
}

func TestArithmeticMatchesBig(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		a := random(r, 1+r.IntN(250))
		b := random(r, 1+r.IntN(250))
		ba, bb := toBig(a), toBig(b)

		require.Equal(t, new(big.Int).Add(ba, bb).String(), a.Add(b).String(), "add %s %s", ba, bb)
		require.Equal(t, new(big.Int).Sub(ba, bb).String(), a.Sub(b).String(), "sub %s %s", ba, bb)
		require.Equal(t, new(big.Int).Mul(ba, bb).String(), a.Mul(b).String(), "mul %s %s", ba, bb)
		require.Equal(t, ba.Cmp(bb), a.Cmp(b))
		if !b.IsZero() {
			q, rem := a.QuoRem(b)
			bq, br := new(big.Int).QuoRem(ba, bb, new(big.Int))
			require.Equal(t, bq.String(), q.String(), "quo %s %s", ba, bb)
			require.Equal(t, br.String(), rem.String(), "rem %s %s", ba, bb)
		}
	}
}

func TestConversions(t *testing.T) {
	assert.Equal(t, "-1", FromInt64(-1).String())
	assert.Equal(t, int64(-42), FromInt64(-42).Int64())
	assert.True(t, FromInt64(-42).IsInt64())
	assert.False(t, FromUint64(1<<63).IsInt64())
	assert.Equal(t, "18446744073709551615", FromUint64(^uint64(0)).String())
	assert.Equal(t, 64, FromUint64(1<<63).BitLen())
	assert.Equal(t, 0, Int{}.Sign())

	v := FromUint64(1e18).Mul(FromUint64(1e18)).Mul(FromUint64(1e18))
	assert.Equal(t, "1000000000000000000000000000000000000000000000000000000", v.String())
	assert.Equal(t, "-1000000000000000000000000000000000000", v.Quo(FromInt64(-1e18)).String())
}

func TestQuoByZeroPanics(t *testing.T) {
	assert.Panics(t, func() { FromInt64(1).Quo(Int{}) })
}
