package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// StellarPrecision is the number of fractional digits the ledger stores for amounts.
const StellarPrecision = 7

// maxAmount is the largest amount representable by the ledger (int64 max in stroops).
var maxAmount = decimal.RequireFromString("922337203685.4775807")

// SafeParse parses a string into a decimal, returning zero for invalid or empty input.
func SafeParse(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ValidateAmount checks that d is non-negative, has at most 7 fractional digits and
// fits the ledger's int64 stroop representation.
func ValidateAmount(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, d)
	}
	if !d.Equal(d.Truncate(StellarPrecision)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d, StellarPrecision)
	}
	if d.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, d, maxAmount)
	}
	return nil
}

// FormatAmount renders d with ledger precision (7 decimal places), stripping trailing zeros.
func FormatAmount(d decimal.Decimal) string {
	s := d.Round(StellarPrecision).StringFixed(StellarPrecision)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
