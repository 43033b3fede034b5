// Package decimal converts between arbitrary-precision decimals and the fixed
// (mantissa, scale) representation stored in on-chain accounts.
//
// The wire form is a borsh i128 mantissa followed by a u32 scale, 20 bytes in
// total, and the value it denotes is mantissa × 10^-scale.
package decimal

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// MaxScale bounds the scale a Decimal may carry on the wire.
	MaxScale = 28

	// RoundPlaces is the number of fractional digits FromDecimal keeps.
	RoundPlaces = 20

	// WireSize is the encoded length of a Decimal.
	WireSize = 20
)

// tolerance is the largest accepted difference between a converted Decimal
// and the rounded value it was built from.
var tolerance = decimal.New(5, -5)

var (
	ten     = big.NewInt(10)
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
)

// Decimal is an immutable fixed-point number. Equality is structural: two
// Decimals denoting the same number with different scales are not Equal.
type Decimal struct {
	mantissa *big.Int
	scale    uint32
}

// New validates mantissa and scale and returns the Decimal they describe.
func New(mantissa *big.Int, scale uint32) (Decimal, error) {
	if scale > MaxScale {
		return Decimal{}, &ExcessiveScaleError{Scale: int64(scale)}
	}
	if mantissa == nil {
		return Decimal{scale: scale}, nil
	}
	if !fitsI128(mantissa) {
		return Decimal{}, fmt.Errorf("%w: %s", ErrMantissaOverflow, mantissa.String())
	}
	return Decimal{mantissa: new(big.Int).Set(mantissa), scale: scale}, nil
}

// MustNew is like New but panics on invalid input. Intended for constants and tests.
func MustNew(mantissa int64, scale uint32) Decimal {
	d, err := New(big.NewInt(mantissa), scale)
	if err != nil {
		panic(err)
	}
	return d
}

// FromDecimal rounds value to at most min(RoundPlaces, maxScale) fractional
// digits and converts it. A value that would need a negative scale is stored
// with an integer mantissa and scale 0. Digits dropped by rounding are not an
// error; the round-trip check compares against the rounded value.
func FromDecimal(value decimal.Decimal, maxScale uint32) (Decimal, error) {
	places := int32(RoundPlaces)
	if maxScale < RoundPlaces {
		places = int32(maxScale)
	}
	return convert(value.Round(places))
}

// FromDecimalExact converts value without rounding, so any value with
// MaxScale or more fractional digits fails with ErrExcessiveScale.
func FromDecimalExact(value decimal.Decimal) (Decimal, error) {
	return convert(value)
}

// FromString parses s and converts it with FromDecimal at MaxScale.
func FromString(s string) (Decimal, error) {
	value, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("failed to parse decimal %q: %w", s, err)
	}
	return FromDecimal(value, MaxScale)
}

// FromFloat64 converts f with FromDecimal at MaxScale.
func FromFloat64(f float64) (Decimal, error) {
	return FromDecimal(decimal.NewFromFloat(f), MaxScale)
}

func convert(input decimal.Decimal) (Decimal, error) {
	coefficient := input.Coefficient()
	exponent := int64(input.Exponent())
	negative := coefficient.Sign() < 0
	coefficient.Abs(coefficient)

	if coefficient.Sign() == 0 {
		exponent = 0
	} else {
		q, r := new(big.Int), new(big.Int)
		for {
			q.QuoRem(coefficient, ten, r)
			if r.Sign() != 0 {
				break
			}
			coefficient.Set(q)
			exponent++
		}
	}

	scale := -exponent
	if scale < 0 {
		coefficient.Mul(coefficient, new(big.Int).Exp(ten, big.NewInt(-scale), nil))
		scale = 0
	}
	if scale >= MaxScale {
		return Decimal{}, &ExcessiveScaleError{Scale: scale}
	}
	if negative {
		coefficient.Neg(coefficient)
	}
	if !fitsI128(coefficient) {
		return Decimal{}, fmt.Errorf("%w: %s", ErrMantissaOverflow, coefficient.String())
	}

	result := Decimal{mantissa: coefficient, scale: uint32(scale)}
	if err := checkRoundTrip(input, result); err != nil {
		return Decimal{}, err
	}
	return result, nil
}

// checkRoundTrip fails with a *ConversionMismatchError when result does not
// reconstruct input within tolerance.
func checkRoundTrip(input decimal.Decimal, result Decimal) error {
	if input.Sub(result.ToDecimal()).Abs().GreaterThan(tolerance) {
		return &ConversionMismatchError{Input: input, Output: result}
	}
	return nil
}

// ToDecimal reconstructs the arbitrary-precision value of mantissa × 10^-scale.
func ToDecimal(mantissa *big.Int, scale uint32) decimal.Decimal {
	if mantissa == nil || mantissa.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(mantissa, -int32(scale))
}

// ToDecimal returns the value d denotes.
func (d Decimal) ToDecimal() decimal.Decimal {
	return ToDecimal(d.mantissa, d.scale)
}

// Mantissa returns a copy of the signed mantissa.
func (d Decimal) Mantissa() *big.Int {
	return new(big.Int).Set(d.mantissaOrZero())
}

// Scale returns the number of implied fractional digits.
func (d Decimal) Scale() uint32 {
	return d.scale
}

// IsZero reports whether the mantissa is zero.
func (d Decimal) IsZero() bool {
	return d.mantissa == nil || d.mantissa.Sign() == 0
}

// Equal compares mantissa and scale, not numeric value.
func (d Decimal) Equal(other Decimal) bool {
	return Equal(d, other)
}

// Equal reports whether a and b have the same mantissa and the same scale.
func Equal(a, b Decimal) bool {
	return a.scale == b.scale && a.mantissaOrZero().Cmp(b.mantissaOrZero()) == 0
}

// NumericEqual reports whether a and b denote the same number, whatever their scales.
func NumericEqual(a, b Decimal) bool {
	return a.ToDecimal().Equal(b.ToDecimal())
}

func (d Decimal) String() string {
	return d.ToDecimal().String()
}

func (d Decimal) mantissaOrZero() *big.Int {
	if d.mantissa == nil {
		return new(big.Int)
	}
	return d.mantissa
}

func fitsI128(v *big.Int) bool {
	return v.Cmp(minI128) >= 0 && v.Cmp(maxI128) <= 0
}
