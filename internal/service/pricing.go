package service

import (
	"fmt"
	"strconv"
	"strings"
)

// PricingRules holds the merchant's tax rate and discount-code table. Totals
// are always recomputed from these rules; amounts in client input are never
// trusted.
type PricingRules struct {
	// TaxBasisPoints is the tax rate in basis points applied to the taxable
	// amount (subtotal plus shipping). 850 means 8.5%.
	TaxBasisPoints int64

	// Discounts maps discount code to a flat amount in minor units.
	Discounts map[string]int64
}

// NewPricingRules builds pricing rules from configuration. Discount pairs are
// CODE=amount strings, amounts in minor units.
func NewPricingRules(taxBasisPoints int, discountPairs []string) (PricingRules, error) {
	rules := PricingRules{
		TaxBasisPoints: int64(taxBasisPoints),
		Discounts:      make(map[string]int64, len(discountPairs)),
	}
	for _, pair := range discountPairs {
		if pair == "" {
			continue
		}
		code, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return PricingRules{}, fmt.Errorf("malformed discount pair %q, want CODE=amount", pair)
		}
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || amount < 0 {
			return PricingRules{}, fmt.Errorf("invalid discount amount in %q", pair)
		}
		rules.Discounts[strings.ToUpper(strings.TrimSpace(code))] = amount
	}
	return rules, nil
}

// Tax computes the tax for the given taxable amount, rounded down.
func (p PricingRules) Tax(taxable int64) int64 {
	if taxable <= 0 {
		return 0
	}
	return taxable * p.TaxBasisPoints / 10000
}

// Discount sums the discount amounts for the given codes. Codes are matched
// case-insensitively; unknown codes are returned for the caller to reject.
func (p PricingRules) Discount(codes []string) (total int64, unknown []string) {
	for _, code := range codes {
		amount, ok := p.Discounts[strings.ToUpper(strings.TrimSpace(code))]
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		total += amount
	}
	return total, unknown
}
