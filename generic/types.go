/*
Package generic provides the domain-agnostic primitives of the finance engine.

PURPOSE:
  Everything in here is shared by the ledger (donations), the expense
  workflow (gestion) and the persistence layer: exact money arithmetic,
  identifiers, the hierarchical type taxonomy, capability checks, the
  transition machine and the error taxonomy.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a single-currency amount, exact to the cent
  - Identifiers: uuid entity ids, human reference codes, end-to-end ids

DESIGN PRINCIPLES:
  1. Precision: Money wraps decimal.Decimal, always rounded to cents
  2. Storage: Money is persisted as integer minor units (cents)
  3. No floats anywhere on the money path

USAGE:
  price := generic.MustMoney("120.00")
  half := generic.NewMoneyFromCents(6000)
  rest := price.Sub(half) // 60.00

SEE ALSO:
  - ledger.go: Invariant checks over Money sums
  - ids.go: Identifier generation
*/
package generic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Single-currency amount, exact to the cent
// =============================================================================

// Money is an amount in the ledger currency. The zero value is 0.00.
type Money struct {
	value decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

func NewMoneyFromCents(cents int64) Money {
	return Money{value: decimal.New(cents, -2)}
}

func NewMoneyFromDecimal(d decimal.Decimal) Money {
	return Money{value: d.Round(2)}
}

// ParseMoney parses "12", "12.3" or "12.34". More than two decimals is an
// error rather than a silent rounding.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: amount %q", ErrInvalidAmount, s)
	}
	if !d.Equal(d.Round(2)) {
		return Money{}, fmt.Errorf("%w: amount %q has more than two decimals", ErrInvalidAmount, s)
	}
	return Money{value: d}, nil
}

// MustMoney is ParseMoney for literals in code and tests.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Cents returns the amount in minor units.
func (m Money) Cents() int64 { return m.value.Shift(2).IntPart() }

// Decimal returns the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.value }

func (m Money) Add(o Money) Money            { return Money{value: m.value.Add(o.value)} }
func (m Money) Sub(o Money) Money            { return Money{value: m.value.Sub(o.value)} }
func (m Money) Neg() Money                   { return Money{value: m.value.Neg()} }
func (m Money) Abs() Money                   { return Money{value: m.value.Abs()} }
func (m Money) Cmp(o Money) int              { return m.value.Cmp(o.value) }
func (m Money) Equal(o Money) bool           { return m.value.Equal(o.value) }
func (m Money) GreaterThan(o Money) bool     { return m.value.GreaterThan(o.value) }
func (m Money) LessThan(o Money) bool        { return m.value.LessThan(o.value) }
func (m Money) LessThanOrEqual(o Money) bool { return m.value.LessThanOrEqual(o.value) }
func (m Money) IsNegative() bool             { return m.value.IsNegative() }
func (m Money) IsPositive() bool             { return m.value.IsPositive() }
func (m Money) IsZero() bool                 { return m.value.IsZero() }

// String renders the amount with exactly two decimals ("1234.50").
func (m Money) String() string { return m.value.StringFixed(2) }

// Sum adds amounts.
func Sum(amounts ...Money) Money {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.34" and 12.34.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// UnmarshalText lets typology files write ceilings as plain scalars.
func (m *Money) UnmarshalText(text []byte) error {
	parsed, err := ParseMoney(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
