package payment

import (
	"context"
	"log/slog"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

// Adapter is the payment completion boundary used by the session service.
// It substitutes the delegated token for the merchant's default payment
// method on the outgoing charge and guarantees the token is consumed exactly
// once regardless of outcome.
type Adapter struct {
	gateway       Gateway
	defaultMethod string
	logger        *slog.Logger
}

// NewAdapter creates a payment completion adapter.
func NewAdapter(gateway Gateway, defaultMethod string, logger *slog.Logger) *Adapter {
	return &Adapter{
		gateway:       gateway,
		defaultMethod: defaultMethod,
		logger:        logger,
	}
}

// CompletePayment captures the session total using the delegated token. The
// token is consumed before the gateway call and never retained afterwards.
// A gateway infrastructure failure returns a Result with OutcomeGatewayError
// alongside the error so callers can distinguish it from a decline.
func (a *Adapter) CompletePayment(ctx context.Context, session *domain.CheckoutSession, token *DelegatedToken) (*Result, error) {
	raw, err := token.Use()
	if err != nil {
		return nil, err
	}

	input := &ChargeInput{
		Amount:         session.Totals.Total,
		Currency:       session.Currency,
		DelegatedToken: raw,
		SessionID:      session.ID,
	}
	if raw == "" {
		// No delegated token supplied: fall back to the merchant's default
		// method. The two are mutually exclusive on the wire.
		input.DefaultMethod = a.defaultMethod
	}

	result, err := a.gateway.CreatePayment(ctx, input)

	// Drop the cached token reference as soon as the call resolves.
	input.DelegatedToken = ""

	if err != nil {
		a.logger.ErrorContext(ctx, "payment gateway call failed",
			slog.String("session_id", session.ID),
			slog.String("gateway", a.gateway.Name()),
			slog.String("error", err.Error()),
		)
		return &Result{Outcome: OutcomeGatewayError}, err
	}

	a.logger.InfoContext(ctx, "payment resolved",
		slog.String("session_id", session.ID),
		slog.String("gateway", a.gateway.Name()),
		slog.String("outcome", result.Outcome),
		slog.String("gateway_reference", result.GatewayReference),
	)
	return result, nil
}
