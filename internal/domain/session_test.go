package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// LineItem Tests
// ============================================================================

func TestLineItemLineTotal_BasicCalculation(t *testing.T) {
	item := LineItem{UnitPrice: 1999, Quantity: 3}
	assert.Equal(t, int64(5997), item.LineTotal())
}

func TestLineItemLineTotal_ZeroQuantity(t *testing.T) {
	item := LineItem{UnitPrice: 1999, Quantity: 0}
	assert.Equal(t, int64(0), item.LineTotal())
}

// ============================================================================
// Session State Machine Tests
// ============================================================================

func TestValidSessionStatuses_ContainsAllStatuses(t *testing.T) {
	assert.ElementsMatch(t, []string{
		SessionStatusOpen, SessionStatusCompleted, SessionStatusCanceled, SessionStatusExpired,
	}, ValidSessionStatuses())
}

func TestCanTransitionTo_OpenAllowsAllForwardStates(t *testing.T) {
	s := &CheckoutSession{Status: SessionStatusOpen}
	assert.True(t, s.CanTransitionTo(SessionStatusOpen))
	assert.True(t, s.CanTransitionTo(SessionStatusCompleted))
	assert.True(t, s.CanTransitionTo(SessionStatusCanceled))
	assert.True(t, s.CanTransitionTo(SessionStatusExpired))
}

func TestCanTransitionTo_TerminalStatesAreImmutable(t *testing.T) {
	for _, status := range []string{SessionStatusCompleted, SessionStatusCanceled, SessionStatusExpired} {
		s := &CheckoutSession{Status: status}
		for _, target := range ValidSessionStatuses() {
			assert.False(t, s.CanTransitionTo(target), "expected %s -> %s to be rejected", status, target)
		}
	}
}

func TestCanTransitionTo_UnknownCurrentStatus(t *testing.T) {
	s := &CheckoutSession{Status: "nonexistent"}
	assert.False(t, s.CanTransitionTo(SessionStatusCompleted))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, (&CheckoutSession{Status: SessionStatusOpen}).IsTerminal())
	assert.True(t, (&CheckoutSession{Status: SessionStatusCompleted}).IsTerminal())
	assert.True(t, (&CheckoutSession{Status: SessionStatusCanceled}).IsTerminal())
	assert.True(t, (&CheckoutSession{Status: SessionStatusExpired}).IsTerminal())
}

// ============================================================================
// Totals Tests
// ============================================================================

func TestRecalculate_SumsLinesShippingAndTax(t *testing.T) {
	s := &CheckoutSession{
		LineItems: []LineItem{
			{UnitPrice: 2000, Quantity: 2},
			{UnitPrice: 1000, Quantity: 1},
		},
		ShippingSelection: &ShippingSelection{OptionID: "standard", Amount: 500},
	}

	s.Recalculate(450, 300)

	assert.Equal(t, int64(5000), s.Totals.Subtotal)
	assert.Equal(t, int64(500), s.Totals.Shipping)
	assert.Equal(t, int64(450), s.Totals.Tax)
	assert.Equal(t, int64(300), s.Totals.Discount)
	assert.Equal(t, int64(5650), s.Totals.Total)
}

func TestRecalculate_TotalIdentityHolds(t *testing.T) {
	s := &CheckoutSession{
		LineItems:         []LineItem{{UnitPrice: 1234, Quantity: 3}},
		ShippingSelection: &ShippingSelection{OptionID: "express", Amount: 999},
	}

	s.Recalculate(200, 150)

	tt := s.Totals
	assert.Equal(t, tt.Total, tt.Subtotal+tt.Shipping+tt.Tax-tt.Discount)
}

func TestRecalculate_NoShippingSelection(t *testing.T) {
	s := &CheckoutSession{LineItems: []LineItem{{UnitPrice: 1000, Quantity: 1}}}

	s.Recalculate(0, 0)

	assert.Equal(t, int64(0), s.Totals.Shipping)
	assert.Equal(t, int64(1000), s.Totals.Total)
}

func TestRecalculate_OversizedDiscountClampsAtZero(t *testing.T) {
	s := &CheckoutSession{LineItems: []LineItem{{UnitPrice: 100, Quantity: 1}}}

	s.Recalculate(0, 500)

	assert.Equal(t, int64(0), s.Totals.Total)
}

// ============================================================================
// Shipping Option Tests
// ============================================================================

func TestHasShippingOption(t *testing.T) {
	s := &CheckoutSession{
		ShippingOptions: []ShippingOption{
			{ID: "standard", Label: "Standard", Amount: 500},
			{ID: "express", Label: "Express", Amount: 1500},
		},
	}
	assert.True(t, s.HasShippingOption("express"))
	assert.False(t, s.HasShippingOption("overnight"))
}

func TestClearShippingSelection(t *testing.T) {
	s := &CheckoutSession{ShippingSelection: &ShippingSelection{OptionID: "standard"}}
	s.ClearShippingSelection()
	assert.Nil(t, s.ShippingSelection)
}
