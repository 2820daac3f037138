/*
Package money provides the fixed-scale decimal primitives used on every
monetary path in the system.

PURPOSE:
  All amounts flowing through the ledger, documents, and inventory are
  fixed-scale decimals. Money is always scale 2; tax rates are scale 4 and
  constrained to [0, 1]. Floats are forbidden anywhere on a money path.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: a scale-2 decimal amount
  - Rate:  a scale-4 decimal in [0, 1] (tax rates, discount rates)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Explicit rescaling: every arithmetic result is re-rounded to scale 2
     at the computation boundary, so comparisons are always exact
  3. String parsing: amounts arrive as JSON numbers or numeric strings;
     both parse through the same constructor

SEE ALSO:
  - date.go: day-normalized dates
  - ledger: journal entries sum Money values and must balance to 2dp
*/
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Scale-2 decimal amount
// =============================================================================

const (
	// MoneyScale is the number of decimal places carried by every amount.
	MoneyScale = 2

	// RateScale is the number of decimal places carried by rates.
	RateScale = 4
)

// Money is a monetary amount at a fixed scale of 2.
type Money struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{d: decimal.Zero}

// New builds a Money from a decimal, rescaling to 2 places.
func New(d decimal.Decimal) Money {
	return Money{d: d.Round(MoneyScale)}
}

// FromString parses a Money from a numeric string ("100.00", "-3.5").
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return New(d), nil
}

// MustParse parses a Money and panics on failure. Test and constant use only.
func MustParse(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

// FromInt builds a Money from a whole number of currency units.
func FromInt(n int64) Money {
	return Money{d: decimal.NewFromInt(n)}
}

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money        { return Money{d: m.d.Abs()} }

// Mul multiplies by a bare decimal (quantity, rate) and rescales to 2dp.
func (m Money) Mul(q decimal.Decimal) Money {
	return Money{d: m.d.Mul(q).Round(MoneyScale)}
}

// MulRate applies a Rate and rescales to 2dp.
func (m Money) MulRate(r Rate) Money {
	return Money{d: m.d.Mul(r.d).Round(MoneyScale)}
}

// Div divides by a bare decimal and rescales to 2dp.
func (m Money) Div(q decimal.Decimal) Money {
	return Money{d: m.d.Div(q).Round(MoneyScale)}
}

func (m Money) IsZero() bool            { return m.d.IsZero() }
func (m Money) IsNegative() bool        { return m.d.IsNegative() }
func (m Money) IsPositive() bool        { return m.d.IsPositive() }
func (m Money) Equal(o Money) bool      { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int { return m.d.Cmp(o.d) }

// Decimal exposes the underlying decimal for storage and WAC math.
func (m Money) Decimal() decimal.Decimal { return m.d }

// String renders with exactly two decimal places ("100.00").
func (m Money) String() string { return m.d.StringFixed(MoneyScale) }

// MarshalJSON renders Money as a JSON string at fixed scale.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both JSON numbers and numeric strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Sum adds a slice of amounts.
func Sum(ms ...Money) Money {
	total := Zero
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// =============================================================================
// RATE - Scale-4 decimal in [0, 1]
// =============================================================================

// Rate is a fractional rate (tax rate) at scale 4, constrained to [0, 1].
type Rate struct {
	d decimal.Decimal
}

var (
	ZeroRate = Rate{d: decimal.Zero}
	one      = decimal.NewFromInt(1)
)

// NewRate builds a Rate, rejecting values outside [0, 1].
func NewRate(d decimal.Decimal) (Rate, error) {
	r := d.Round(RateScale)
	if r.IsNegative() || r.GreaterThan(one) {
		return Rate{}, fmt.Errorf("rate %s outside [0,1]", r)
	}
	return Rate{d: r}, nil
}

// RateFromString parses a Rate from a numeric string ("0.1000").
func RateFromString(s string) (Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return NewRate(d)
}

// MustParseRate parses a Rate and panics on failure. Test use only.
func MustParseRate(s string) Rate {
	r, err := RateFromString(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rate) IsZero() bool              { return r.d.IsZero() }
func (r Rate) Decimal() decimal.Decimal  { return r.d }
func (r Rate) String() string            { return r.d.StringFixed(RateScale) }

// MarshalJSON renders Rate as a JSON string at fixed scale.
func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON accepts both JSON numbers and numeric strings.
func (r *Rate) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := RateFromString(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
