package domain

import "time"

// Order status constants. An order is created when a session completes and
// afterwards only moves through gateway-driven lifecycle changes.
const (
	OrderStatusPlaced   = "placed"
	OrderStatusRefunded = "refunded"
	OrderStatusDisputed = "disputed"
	OrderStatusCanceled = "canceled"
)

// Order is the durable record materialized from a completed checkout session.
type Order struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	Status           string     `json:"status"`
	Currency         string     `json:"currency"`
	LineItems        []LineItem `json:"line_items"`
	Totals           Totals     `json:"totals"`
	Buyer            *Buyer     `json:"buyer,omitempty"`
	ShippingAddress  *Address   `json:"shipping_address,omitempty"`
	PaymentReference string     `json:"payment_reference"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AllowedOrderTransitions defines the gateway-driven order lifecycle.
func AllowedOrderTransitions() map[string][]string {
	return map[string][]string{
		OrderStatusPlaced:   {OrderStatusRefunded, OrderStatusDisputed, OrderStatusCanceled},
		OrderStatusDisputed: {OrderStatusRefunded, OrderStatusPlaced},
		OrderStatusRefunded: {},
		OrderStatusCanceled: {},
	}
}

// CanTransitionTo checks if the order can move to the target status.
func (o *Order) CanTransitionTo(target string) bool {
	allowed, ok := AllowedOrderTransitions()[o.Status]
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
