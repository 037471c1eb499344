// Package tokenomics derives the price, market cap and minimum-investment token count of a
// new asset from the three values the issuer enters.
package tokenomics

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/tokenize/internal/domain"
)

// PricePrecision is the display precision of the per-token price.
const PricePrecision = 2

// minTradableUnit is the smallest amount the ledger can hold (one stroop).
var minTradableUnit = decimal.New(1, -domain.StellarPrecision)

// Quote is always recomputed from its inputs and never stored on its own.
type Quote struct {
	PricePerToken       decimal.Decimal `json:"pricePerToken"`
	MarketCap           decimal.Decimal `json:"marketCap"`
	MinInvestmentTokens decimal.Decimal `json:"minInvestmentTokens"`
}

// Compute derives a Quote. It is pure and safe to call before any ledger action.
//
// Price per token is totalValue / totalSupply rounded half-up to two places, so a price
// under 0.005 displays as 0. A price below one stroop is rejected. The minimum
// investment in tokens is ceil(minInvestment * totalSupply / totalValue), 0 when
// minInvestment is zero.
func Compute(totalValue, totalSupply, minInvestment decimal.Decimal) (Quote, error) {
	if !totalSupply.IsPositive() {
		return Quote{}, invalid("totalSupply", "must be positive")
	}
	if !totalValue.IsPositive() {
		return Quote{}, invalid("totalValue", "must be positive")
	}
	if minInvestment.IsNegative() {
		return Quote{}, invalid("minInvestment", "must not be negative")
	}
	if err := domain.ValidateAmount(totalSupply); err != nil {
		return Quote{}, invalid("totalSupply", err.Error())
	}

	if totalValue.LessThan(totalSupply.Mul(minTradableUnit)) {
		return Quote{}, invalid("totalValue", fmt.Sprintf("price per token is below the ledger minimum %s", minTradableUnit))
	}

	// DivRound rounds half away from zero, which is half-up for positive values.
	price := totalValue.DivRound(totalSupply, PricePrecision)

	minTokens := decimal.Zero
	if minInvestment.IsPositive() {
		q, r := minInvestment.Mul(totalSupply).QuoRem(totalValue, 0)
		if r.IsPositive() {
			q = q.Add(decimal.NewFromInt(1))
		}
		minTokens = q
	}

	return Quote{
		PricePerToken:       price,
		MarketCap:           totalValue,
		MinInvestmentTokens: minTokens,
	}, nil
}

// Inputs are the parsed economic parameters of an asset.
type Inputs struct {
	TotalValue    decimal.Decimal
	TotalSupply   decimal.Decimal
	MinInvestment decimal.Decimal
}

// ParseInputs parses user-entered strings. An empty minInvestment means zero.
func ParseInputs(totalValue, totalSupply, minInvestment string) (Inputs, error) {
	value, err := parseField("totalValue", totalValue)
	if err != nil {
		return Inputs{}, err
	}
	supply, err := parseField("totalSupply", totalSupply)
	if err != nil {
		return Inputs{}, err
	}
	minInv := decimal.Zero
	if minInvestment != "" {
		if minInv, err = parseField("minInvestment", minInvestment); err != nil {
			return Inputs{}, err
		}
	}
	return Inputs{TotalValue: value, TotalSupply: supply, MinInvestment: minInv}, nil
}

// Parse parses user-entered strings and computes the Quote.
func Parse(totalValue, totalSupply, minInvestment string) (Quote, error) {
	in, err := ParseInputs(totalValue, totalSupply, minInvestment)
	if err != nil {
		return Quote{}, err
	}
	return Compute(in.TotalValue, in.TotalSupply, in.MinInvestment)
}

func parseField(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid(field, fmt.Sprintf("%q is not a decimal number", s))
	}
	return d, nil
}

func invalid(field, reason string) error {
	return &domain.ValidationError{Field: field, Reason: reason, Err: domain.ErrInvalidInput}
}
