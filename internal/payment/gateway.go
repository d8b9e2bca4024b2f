// Package payment exchanges a single-use delegated payment token for a
// captured payment through an external gateway.
package payment

import (
	"context"
	"errors"
	"sync"
)

// Payment outcomes.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeDeclined     = "declined"
	OutcomeGatewayError = "gateway_error"
)

// ErrTokenConsumed is returned when a delegated token is used a second time.
var ErrTokenConsumed = errors.New("payment: delegated token already consumed")

// ChargeInput holds the parameters for a capture call. DelegatedToken and
// DefaultMethod are mutually exclusive on the outgoing request: when a
// delegated token is present the default method must not be sent.
type ChargeInput struct {
	Amount         int64
	Currency       string
	DelegatedToken string
	DefaultMethod  string
	SessionID      string
}

// Result holds the gateway's answer to a capture call.
type Result struct {
	Outcome          string
	GatewayReference string
	DeclineReason    string
}

// Gateway is the external payment processor boundary. A non-nil error means
// the gateway could not give an answer (infrastructure failure); declines
// come back as a Result with OutcomeDeclined and a nil error.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, input *ChargeInput) (*Result, error)
}

// DelegatedToken wraps the agent-issued single-use token. Use returns the
// raw value exactly once and clears the stored copy, so the token cannot be
// retained or replayed after the gateway call resolves.
type DelegatedToken struct {
	mu    sync.Mutex
	value string
	used  bool
}

// NewDelegatedToken wraps a raw token value.
func NewDelegatedToken(value string) *DelegatedToken {
	return &DelegatedToken{value: value}
}

// Use consumes the token. The second and later calls fail.
func (t *DelegatedToken) Use() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.used {
		return "", ErrTokenConsumed
	}
	t.used = true
	v := t.value
	t.value = ""
	return v, nil
}

// Consumed reports whether the token has been used.
func (t *DelegatedToken) Consumed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}
