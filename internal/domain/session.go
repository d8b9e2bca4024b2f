package domain

import "time"

// Checkout session status constants.
const (
	SessionStatusOpen      = "open"
	SessionStatusCompleted = "completed"
	SessionStatusCanceled  = "canceled"
	SessionStatusExpired   = "expired"
)

// LineItem is a single cart entry. The unit price is snapshotted from the
// catalog at resolution time and never trusted from client input.
type LineItem struct {
	CatalogRef string `json:"catalog_ref"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price_snapshot"`
}

// LineTotal returns the extended price for this line in minor units.
func (li LineItem) LineTotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Buyer holds the contact details supplied by the agent.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Address represents a shipping or billing address.
type Address struct {
	FullName    string `json:"full_name"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	Phone       string `json:"phone,omitempty"`
}

// ShippingOption is a deliverable fulfillment choice for a given address.
type ShippingOption struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// ShippingSelection records the option chosen from the computed set.
type ShippingSelection struct {
	OptionID string `json:"option_id"`
	Label    string `json:"label"`
	Amount   int64  `json:"amount"`
}

// Totals is always derived from line items, shipping selection, and the
// applicable tax and discount rules. It is never independently mutated.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

// CompletionClaimWindow bounds how long a persisted completion claim blocks
// other writers. A crashed process frees the session once the window passes.
const CompletionClaimWindow = 30 * time.Second

// CheckoutSession is the unit of in-progress-purchase state shared between
// the agent platform and the merchant system.
type CheckoutSession struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Currency          string             `json:"currency"`
	LineItems         []LineItem         `json:"line_items"`
	Buyer             *Buyer             `json:"buyer,omitempty"`
	BillingAddress    *Address           `json:"billing_address,omitempty"`
	ShippingAddress   *Address           `json:"shipping_address,omitempty"`
	ShippingOptions   []ShippingOption   `json:"shipping_options,omitempty"`
	ShippingSelection *ShippingSelection `json:"shipping_selection,omitempty"`
	DiscountCodes     []string           `json:"discount_codes,omitempty"`
	Totals            Totals             `json:"totals"`
	PaymentReference  string             `json:"payment_reference,omitempty"`
	OrderID           string             `json:"order_id,omitempty"`

	// CompletionClaimedAt marks a payment capture in flight. It is persisted
	// so every writer sees the claim, but never exposed on the protocol
	// surface.
	CompletionClaimedAt time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int64     `json:"version"`
}

// ValidSessionStatuses returns all valid session statuses.
func ValidSessionStatuses() []string {
	return []string{
		SessionStatusOpen,
		SessionStatusCompleted,
		SessionStatusCanceled,
		SessionStatusExpired,
	}
}

// AllowedSessionTransitions defines which status transitions are valid.
// Terminal states allow no transitions.
func AllowedSessionTransitions() map[string][]string {
	return map[string][]string{
		SessionStatusOpen: {
			SessionStatusOpen,
			SessionStatusCompleted,
			SessionStatusCanceled,
			SessionStatusExpired,
		},
		SessionStatusCompleted: {},
		SessionStatusCanceled:  {},
		SessionStatusExpired:   {},
	}
}

// IsTerminal reports whether the session is in a terminal state.
func (s *CheckoutSession) IsTerminal() bool {
	switch s.Status {
	case SessionStatusCompleted, SessionStatusCanceled, SessionStatusExpired:
		return true
	}
	return false
}

// CompletionInProgress reports whether a payment capture claimed within the
// claim window is still awaiting its outcome.
func (s *CheckoutSession) CompletionInProgress(now time.Time) bool {
	return !s.CompletionClaimedAt.IsZero() && now.Sub(s.CompletionClaimedAt) < CompletionClaimWindow
}

// CanTransitionTo checks if the session can move to the target status.
func (s *CheckoutSession) CanTransitionTo(target string) bool {
	allowed, ok := AllowedSessionTransitions()[s.Status]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == target {
			return true
		}
	}
	return false
}

// Subtotal sums the extended line item prices in minor units.
func (s *CheckoutSession) Subtotal() int64 {
	var sum int64
	for _, li := range s.LineItems {
		sum += li.LineTotal()
	}
	return sum
}

// Recalculate rebuilds the totals block from the current line items and
// shipping selection plus the given tax and discount amounts. The total is
// clamped at zero so an oversized discount can never produce a negative
// charge amount.
func (s *CheckoutSession) Recalculate(tax, discount int64) {
	subtotal := s.Subtotal()
	var shipping int64
	if s.ShippingSelection != nil {
		shipping = s.ShippingSelection.Amount
	}
	total := subtotal + shipping + tax - discount
	if total < 0 {
		total = 0
	}
	s.Totals = Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Discount: discount,
		Total:    total,
	}
}

// ClearShippingSelection drops the chosen option, requiring re-selection
// before the session can complete.
func (s *CheckoutSession) ClearShippingSelection() {
	s.ShippingSelection = nil
}

// HasShippingOption reports whether the given option id is in the currently
// computed option set.
func (s *CheckoutSession) HasShippingOption(optionID string) bool {
	for _, opt := range s.ShippingOptions {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}
