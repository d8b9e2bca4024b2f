package service

import (
	"strings"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

// ShippingTable computes the deliverable shipping options for an address.
// Options are keyed by destination country with a fallback set for countries
// without a dedicated entry. The computed set is what a session's shipping
// selection must come from; an address change recomputes the set and clears
// any selection it invalidates.
type ShippingTable struct {
	byCountry map[string][]domain.ShippingOption
	fallback  []domain.ShippingOption
}

// NewShippingTable creates a shipping table.
func NewShippingTable(byCountry map[string][]domain.ShippingOption, fallback []domain.ShippingOption) *ShippingTable {
	return &ShippingTable{byCountry: byCountry, fallback: fallback}
}

// DefaultShippingTable returns the built-in option table used when no
// merchant-specific table is configured.
func DefaultShippingTable() *ShippingTable {
	return NewShippingTable(
		map[string][]domain.ShippingOption{
			"US": {
				{ID: "standard", Label: "Standard (5-7 days)", Amount: 500},
				{ID: "express", Label: "Express (1-2 days)", Amount: 1500},
			},
			"CA": {
				{ID: "standard", Label: "Standard (7-10 days)", Amount: 900},
			},
		},
		[]domain.ShippingOption{
			{ID: "intl", Label: "International (10-20 days)", Amount: 2500},
		},
	)
}

// OptionsFor returns the option set for the address. A nil address has no
// deliverable options. The returned slice is a copy.
func (t *ShippingTable) OptionsFor(addr *domain.Address) []domain.ShippingOption {
	if addr == nil {
		return nil
	}
	opts, ok := t.byCountry[strings.ToUpper(addr.Country)]
	if !ok {
		opts = t.fallback
	}
	out := make([]domain.ShippingOption, len(opts))
	copy(out, opts)
	return out
}
