// Package money provides a fixed-point decimal amount type used on the bid
// hot path so that monetary comparisons never touch floating point.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value with exactly two fractional digits.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{d: decimal.Zero}

// FromCents builds an Amount from an integer cent count, avoiding any
// decimal parsing on call sites that already work in cents.
func FromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -2)}
}

// Parse parses a decimal string, rejecting values with more than two
// fractional digits and rounding half-even at two decimals otherwise.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return fromDecimal(d)
}

// FromFloat builds an Amount from a wire-level JSON number, which this
// package treats as a convenience boundary conversion only — all internal
// comparisons happen on the Decimal, never on the float.
func FromFloat(f float64) (Amount, error) {
	return fromDecimal(decimal.NewFromFloat(f))
}

func fromDecimal(d decimal.Decimal) (Amount, error) {
	if d.Exponent() < -2 {
		// More than two fractional digits were supplied verbatim; the
		// spec requires rejecting these rather than silently truncating.
		if !d.Equal(d.Round(2)) {
			return Amount{}, fmt.Errorf("amount %s has more than two fractional digits", d.String())
		}
	}
	return Amount{d: d.Round(2)}, nil
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.d.LessThan(b.d) }

// GreaterThanOrEqual reports whether a >= b.
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool { return a.d.IsPositive() }

// String renders the amount with exactly two fractional digits.
func (a Amount) String() string { return a.d.StringFixed(2) }

// Float64 returns the amount as a float64, for wire serialization only.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// MarshalJSON renders the amount as a JSON number via Float64; trailing
// fractional zeros are not kept (110.00 encodes as 110).
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Float64())
}

// UnmarshalJSON parses a JSON number into an Amount, applying the same
// half-even rounding and fractional-digit rejection as Parse.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	parsed, err := FromFloat(f)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer so Amount can be written directly by sqlx.
func (a Amount) Value() (driver.Value, error) {
	return a.d.StringFixed(2), nil
}

// Scan implements sql.Scanner so Amount can be read directly by sqlx from a
// NUMERIC column.
func (a *Amount) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scanning amount: %w", err)
	}
	a.d = d
	return nil
}
