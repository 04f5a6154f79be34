// Package signed implements sign-magnitude scalars and vectors. The ledger only has unsigned
// integers, so every value crossing it is carried as a non-negative magnitude plus a sign flag.
package signed

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// Sign is 0 for non-negative values and 1 for negative values.
type Sign uint8

const (
	Positive Sign = 0
	Negative Sign = 1
)

// Valid reports whether s is one of the two encodable signs.
func (s Sign) Valid() bool {
	return s == Positive || s == Negative
}

// Value is a single sign-magnitude scalar. Magnitude is never negative.
type Value struct {
	Magnitude decimal.Decimal `json:"magnitude"`
	Sign      Sign            `json:"sign"`
}

// Encode splits d into its absolute value and sign.
func Encode(d decimal.Decimal) Value {
	if d.IsNegative() {
		return Value{Magnitude: d.Abs(), Sign: Negative}
	}
	return Value{Magnitude: d, Sign: Positive}
}

// Decimal reverses Encode.
func (v Value) Decimal() decimal.Decimal {
	if v.Sign == Negative {
		return v.Magnitude.Neg()
	}
	return v.Magnitude
}

func (v Value) String() string {
	return v.Decimal().String()
}

// Vector holds index-aligned magnitudes and signs.
type Vector struct {
	Magnitudes []decimal.Decimal `json:"magnitudes"`
	Signs      []Sign            `json:"signs"`
}

// NewVector pairs magnitudes with signs, rejecting mismatched lengths, negative magnitudes
// and signs outside {0,1}.
func NewVector(magnitudes []decimal.Decimal, signs []Sign) (Vector, error) {
	if len(magnitudes) != len(signs) {
		return Vector{}, errors.InputInvalid.Explain("magnitude and sign arrays differ in length (%d != %d)", len(magnitudes), len(signs))
	}
	for i := range magnitudes {
		if magnitudes[i].IsNegative() {
			return Vector{}, errors.InputInvalid.Explain("negative magnitude at index %d", i)
		}
		if !signs[i].Valid() {
			return Vector{}, errors.InputInvalid.Explain("invalid sign %d at index %d", signs[i], i)
		}
	}
	return Vector{Magnitudes: magnitudes, Signs: signs}, nil
}

// FromDecimals encodes every element of ds.
func FromDecimals(ds []decimal.Decimal) Vector {
	v := Vector{
		Magnitudes: make([]decimal.Decimal, len(ds)),
		Signs:      make([]Sign, len(ds)),
	}
	for i, d := range ds {
		e := Encode(d)
		v.Magnitudes[i] = e.Magnitude
		v.Signs[i] = e.Sign
	}
	return v
}

// Len returns the number of elements.
func (v Vector) Len() int {
	return len(v.Magnitudes)
}

// At returns element i.
func (v Vector) At(i int) Value {
	return Value{Magnitude: v.Magnitudes[i], Sign: v.Signs[i]}
}

// Append adds one element to the end of the vector.
func (v *Vector) Append(val Value) {
	v.Magnitudes = append(v.Magnitudes, val.Magnitude)
	v.Signs = append(v.Signs, val.Sign)
}

// Decimals decodes every element.
func (v Vector) Decimals() []decimal.Decimal {
	out := make([]decimal.Decimal, v.Len())
	for i := range out {
		out[i] = v.At(i).Decimal()
	}
	return out
}

// Clone returns a deep copy.
func (v Vector) Clone() Vector {
	return Vector{
		Magnitudes: append([]decimal.Decimal(nil), v.Magnitudes...),
		Signs:      append([]Sign(nil), v.Signs...),
	}
}

// Equal compares element-wise by decoded value.
func (v Vector) Equal(o Vector) bool {
	if v.Len() != o.Len() {
		return false
	}
	for i := range v.Magnitudes {
		if !v.At(i).Decimal().Equal(o.At(i).Decimal()) {
			return false
		}
	}
	return true
}

// Argmax returns the index of the largest-magnitude positive element, or -1 if the vector has
// no positive element. Ties resolve to the lowest index.
func Argmax(v Vector) int {
	best := -1
	for i := range v.Magnitudes {
		if v.Signs[i] != Positive {
			continue
		}
		if best < 0 || v.Magnitudes[i].GreaterThan(v.Magnitudes[best]) {
			best = i
		}
	}
	return best
}

// Format renders the decoded vector as "[1.00, -4.56]".
func Format(v Vector) string {
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = v.At(i).Decimal().StringFixed(2)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}
