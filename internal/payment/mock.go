package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// MockGateway simulates a payment processor for development and testing.
// Behavior is driven by the token value: tokens prefixed "tok_declined"
// decline, tokens prefixed "tok_unavailable" fail with an infrastructure
// error, everything else succeeds.
type MockGateway struct{}

// NewMockGateway creates a mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Name returns the gateway name.
func (g *MockGateway) Name() string {
	return "mock"
}

// CreatePayment simulates a capture call.
func (g *MockGateway) CreatePayment(_ context.Context, input *ChargeInput) (*Result, error) {
	switch {
	case strings.HasPrefix(input.DelegatedToken, "tok_unavailable"):
		return nil, errors.New("mock gateway unavailable")
	case strings.HasPrefix(input.DelegatedToken, "tok_declined"):
		return &Result{
			Outcome:          OutcomeDeclined,
			GatewayReference: "mock_pay_" + uuid.New().String(),
			DeclineReason:    "card_declined",
		}, nil
	default:
		return &Result{
			Outcome:          OutcomeSucceeded,
			GatewayReference: "mock_pay_" + uuid.New().String(),
		}, nil
	}
}
