package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DefaultPrecision is the number of decimal places kept by division.
	DefaultPrecision int32 = 28

	// StorageScale is the scale used for integer-only persistence (value × 10^10).
	StorageScale int32 = 10

	// DefaultDisplayPrecision is used for currencies without an entry in the display table.
	DefaultDisplayPrecision int32 = 2
)

var (
	ErrInvalidNumber  = errors.New("invalid number")
	ErrDivisionByZero = errors.New("division by zero")
	ErrPrecisionLoss  = errors.New("value not representable at scale")
	ErrOverflow       = errors.New("scaled value overflows int64")
)

// ParseError reports malformed numeric input.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%q is not a valid number", e.Input)
}

func (e *ParseError) Unwrap() error { return ErrInvalidNumber }

// ParseAmount parses a decimal string exactly. Empty input, thousands separators
// and other malformed strings are rejected.
func ParseAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s == "" || strings.Contains(s, ",") {
		return decimal.Zero, &ParseError{Input: value}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ParseError{Input: value}
	}
	return d, nil
}

// MustParseAmount is ParseAmount for constants; it panics on malformed input.
func MustParseAmount(value string) decimal.Decimal {
	d, err := ParseAmount(value)
	if err != nil {
		panic(err)
	}
	return d
}

// Money carries the decimal precision used for division. Addition, subtraction
// and multiplication on decimal.Decimal are exact and need no context.
type Money struct {
	Precision int32
}

// NewMoney returns a Money context; non-positive precision selects DefaultPrecision.
func NewMoney(precision int32) Money {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return Money{Precision: precision}
}

// Div divides a by b, rounding half-up to the configured precision.
func (m Money) Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.DivRound(b, m.precision()), nil
}

// Share returns value × part / whole. The multiplication happens first so only
// the final division rounds.
func (m Money) Share(value, part, whole decimal.Decimal) (decimal.Decimal, error) {
	return m.Div(value.Mul(part), whole)
}

// Round rounds d half-up to the configured precision.
func (m Money) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(m.precision())
}

func (m Money) precision() int32 {
	if m.Precision <= 0 {
		return DefaultPrecision
	}
	return m.Precision
}

// ToScaled converts d to d × 10^scale as an int64. Digits beyond scale and
// values outside the int64 range are errors; callers round explicitly first.
func ToScaled(d decimal.Decimal, scale int32) (int64, error) {
	if !d.Round(scale).Equal(d) {
		return 0, fmt.Errorf("%s at scale %d: %w", d, scale, ErrPrecisionLoss)
	}
	scaled := d.Shift(scale)
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%s at scale %d: %w", d, scale, ErrOverflow)
	}
	return bi.Int64(), nil
}

// FromScaled converts an integer produced by ToScaled back to a decimal.
func FromScaled(v int64, scale int32) decimal.Decimal {
	return decimal.New(v, -scale)
}

// Formatter renders amounts with a currency-specific number of decimals.
type Formatter struct {
	Default    int32
	Precisions map[string]int32
}

// DefaultFormatter shows BTC and ETH with 5 decimals and everything else with 2.
func DefaultFormatter() Formatter {
	return Formatter{
		Default: DefaultDisplayPrecision,
		Precisions: map[string]int32{
			"BTC": 5,
			"ETH": 5,
		},
	}
}

// PrecisionFor returns the display precision of currency.
func (f Formatter) PrecisionFor(currency string) int32 {
	if p, ok := f.Precisions[currency]; ok {
		return p
	}
	return f.Default
}

// Number renders d with the display precision of currency and no symbol.
func (f Formatter) Number(d decimal.Decimal, currency string) string {
	return d.StringFixed(f.PrecisionFor(currency))
}

// Format renders d followed by the currency symbol, e.g. "192.50000 BTC".
// An empty currency renders the number only.
func (f Formatter) Format(d decimal.Decimal, currency string) string {
	s := f.Number(d, currency)
	if currency == "" {
		return s
	}
	return s + " " + currency
}
