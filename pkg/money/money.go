// Package money centralizes the arithmetic rules for monetary amounts:
// parsing, cent-level rounding and rate conversion. All amounts in the
// system are shopspring decimals; this package is where their precision
// and rounding behavior is decided, so no caller rounds on its own.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	twelve  = decimal.NewFromInt(12)
	hundred = decimal.NewFromInt(100)
)

// Parse converts a spreadsheet-style amount string to a decimal. Currency
// symbols, thousands separators and surrounding whitespace are tolerated
// because imported cells frequently carry them.
func Parse(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", s)
	}
	return d, nil
}

// ParsePositive parses an amount and requires it to be strictly positive.
// Ledger entries store magnitudes; direction is carried by the entry kind.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", d)
	}
	return d, nil
}

// ParseRate parses an interest rate. Values above 1 are treated as
// percentages ("5" and "5%" both mean 0.05); values at or below 1 are
// taken as fractions.
func ParseRate(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a rate: %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("rate must not be negative, got %s", d)
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		d = d.Div(hundred)
	}
	return d, nil
}

// RoundCents rounds to the currency's minor unit using round-half-even,
// so repeated accruals do not drift systematically in one direction.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// MonthlyFromAnnual converts an annual rate to its monthly compounding
// rate. The result is kept at full precision; rounding happens only when
// an event amount is computed.
func MonthlyFromAnnual(annual decimal.Decimal) decimal.Decimal {
	return annual.Div(twelve)
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
