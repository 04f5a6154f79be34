package signed

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// MaxScale bounds the number of decimal places a model may declare. 10^19 already exceeds u64.
const MaxScale = 18

var maxU64 = decimal.NewFromUint64(math.MaxUint64)

// Quantize converts v into the ledger's fixed-point form: each magnitude becomes
// floor(|x| * 10^scale) as a u64 and signs become 0/1 u64 flags.
func Quantize(v Vector, scale uint64) (mags []uint64, signs []uint64, err error) {
	if scale > MaxScale {
		return nil, nil, errors.ConfigInvalid.Explain("scale %d exceeds %d decimal places", scale, MaxScale)
	}
	mags = make([]uint64, v.Len())
	signs = make([]uint64, v.Len())
	for i := range v.Magnitudes {
		q := v.Magnitudes[i].Shift(int32(scale)).Floor()
		if q.GreaterThan(maxU64) {
			return nil, nil, errors.InputInvalid.Explain("value %s does not fit at scale %d", v.At(i), scale)
		}
		mags[i] = q.BigInt().Uint64()
		signs[i] = uint64(v.Signs[i])
	}
	return mags, signs, nil
}

// Dequantize reverses Quantize. Any non-zero sign flag is treated as negative.
func Dequantize(mags, signs []uint64, scale uint64) (Vector, error) {
	if len(mags) != len(signs) {
		return Vector{}, errors.InputInvalid.Explain("magnitude and sign arrays differ in length (%d != %d)", len(mags), len(signs))
	}
	v := Vector{
		Magnitudes: make([]decimal.Decimal, len(mags)),
		Signs:      make([]Sign, len(mags)),
	}
	for i := range mags {
		v.Magnitudes[i] = decimal.NewFromUint64(mags[i]).Shift(-int32(scale))
		if signs[i] != 0 {
			v.Signs[i] = Negative
		}
	}
	return v, nil
}
