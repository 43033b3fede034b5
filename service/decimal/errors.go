package decimal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrExcessiveScale is matched by every *ExcessiveScaleError.
	ErrExcessiveScale = errors.New("decimal: excessive scale")

	// ErrConversionMismatch is matched by every *ConversionMismatchError.
	// It signals a codec defect and should not be retried.
	ErrConversionMismatch = errors.New("decimal: converted value does not match input")

	// ErrMantissaOverflow is returned when the mantissa does not fit in a signed 128-bit integer.
	ErrMantissaOverflow = errors.New("decimal: mantissa overflows i128")
)

// ExcessiveScaleError reports a derived scale that the wire format cannot carry.
type ExcessiveScaleError struct {
	Scale int64
}

func (e *ExcessiveScaleError) Error() string {
	return fmt.Sprintf("decimal: excessive scale %d (max %d)", e.Scale, MaxScale)
}

func (e *ExcessiveScaleError) Is(target error) bool {
	return target == ErrExcessiveScale
}

// ConversionMismatchError carries both sides of a failed round-trip check.
type ConversionMismatchError struct {
	Input  decimal.Decimal
	Output Decimal
}

func (e *ConversionMismatchError) Error() string {
	return fmt.Sprintf("decimal: converted decimal does not match original: out %s (mantissa %s, scale %d) vs in %s",
		e.Output.String(), e.Output.mantissaOrZero().String(), e.Output.scale, e.Input.String())
}

func (e *ConversionMismatchError) Is(target error) bool {
	return target == ErrConversionMismatch
}
