package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts flow through the system as exact decimal strings and are computed
// on decimal.Decimal. Binary floats never touch a monetary value.

var (
	// ErrInvalidAmount occurs when an amount string cannot be parsed.
	ErrInvalidAmount = errors.New("money: invalid amount")

	// ErrNegativeAmount occurs when a negative amount is invalid for an operation.
	ErrNegativeAmount = errors.New("money: negative amount not allowed")
)

// Parse converts an exact decimal string into a Decimal.
//
// Examples:
//   - Parse("10.50")      → 10.5
//   - Parse("0.00000001") → 1e-8 held exactly
func Parse(amount string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return d, nil
}

// MustParse converts an exact decimal string and panics on failure (for tests/constants).
func MustParse(amount string) decimal.Decimal {
	d, err := Parse(amount)
	if err != nil {
		panic(err)
	}
	return d
}

// RoundHalfUp rounds to the given number of fractional digits using standard
// round-half-up decimal semantics: 10.555 at 2 digits → 10.56.
func RoundHalfUp(d decimal.Decimal, precision int32) decimal.Decimal {
	return d.Round(precision)
}

// FixedString renders the amount with exactly precision fractional digits,
// rounding half-up. This is the canonical storage representation.
func FixedString(d decimal.Decimal, precision int32) string {
	return d.StringFixed(precision)
}

// ToMinorUnits converts a major-unit amount into an integer minor-unit string
// scaled by 10^decimals. The fractional part is truncated (never rounded) to
// at most decimals digits first, so amounts carrying more fractional digits
// than the token supports cannot underflow the conversion.
//
// Examples:
//   - ToMinorUnits("1.5", 6)          → "1500000"
//   - ToMinorUnits("0.1234567891", 6) → "123456"
func ToMinorUnits(d decimal.Decimal, decimals int32) (string, error) {
	if decimals < 0 || decimals > 18 {
		return "", fmt.Errorf("money: decimals must be between 0 and 18, got %d", decimals)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("%w: %s", ErrNegativeAmount, d.String())
	}
	return d.Truncate(decimals).Shift(decimals).BigInt().String(), nil
}
