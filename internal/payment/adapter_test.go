package payment

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string { return "test" }

func (m *mockGateway) CreatePayment(ctx context.Context, input *ChargeInput) (*Result, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Result), args.Error(1)
}

func testSession() *domain.CheckoutSession {
	return &domain.CheckoutSession{
		ID:       "cs_1",
		Status:   domain.SessionStatusOpen,
		Currency: "USD",
		Totals:   domain.Totals{Total: 5500},
	}
}

// ============================================================================
// DelegatedToken Tests
// ============================================================================

func TestDelegatedToken_SingleUse(t *testing.T) {
	tok := NewDelegatedToken("tok_abc")

	v, err := tok.Use()
	require.NoError(t, err)
	assert.Equal(t, "tok_abc", v)
	assert.True(t, tok.Consumed())

	_, err = tok.Use()
	assert.ErrorIs(t, err, ErrTokenConsumed)
}

// ============================================================================
// Adapter Tests
// ============================================================================

func TestCompletePayment_SendsTokenNotDefaultMethod(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreatePayment", mock.Anything, mock.MatchedBy(func(in *ChargeInput) bool {
		return in.DelegatedToken == "tok_abc" && in.DefaultMethod == ""
	})).Return(&Result{Outcome: OutcomeSucceeded, GatewayReference: "pay_1"}, nil)

	a := NewAdapter(gw, "pm_default", newTestLogger())
	res, err := a.CompletePayment(context.Background(), testSession(), NewDelegatedToken("tok_abc"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, "pay_1", res.GatewayReference)
	gw.AssertExpectations(t)
}

func TestCompletePayment_FallsBackToDefaultMethodWithoutToken(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreatePayment", mock.Anything, mock.MatchedBy(func(in *ChargeInput) bool {
		return in.DelegatedToken == "" && in.DefaultMethod == "pm_default"
	})).Return(&Result{Outcome: OutcomeSucceeded, GatewayReference: "pay_2"}, nil)

	a := NewAdapter(gw, "pm_default", newTestLogger())
	_, err := a.CompletePayment(context.Background(), testSession(), NewDelegatedToken(""))

	require.NoError(t, err)
	gw.AssertExpectations(t)
}

func TestCompletePayment_TokenConsumedEvenOnGatewayError(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	a := NewAdapter(gw, "", newTestLogger())
	tok := NewDelegatedToken("tok_abc")

	res, err := a.CompletePayment(context.Background(), testSession(), tok)
	require.Error(t, err)
	assert.Equal(t, OutcomeGatewayError, res.Outcome)
	assert.True(t, tok.Consumed())

	_, err = a.CompletePayment(context.Background(), testSession(), tok)
	assert.ErrorIs(t, err, ErrTokenConsumed)
}

func TestCompletePayment_DeclineIsNotAnError(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreatePayment", mock.Anything, mock.Anything).
		Return(&Result{Outcome: OutcomeDeclined, GatewayReference: "pay_3", DeclineReason: "card_declined"}, nil)

	a := NewAdapter(gw, "", newTestLogger())
	res, err := a.CompletePayment(context.Background(), testSession(), NewDelegatedToken("tok_x"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, res.Outcome)
	assert.Equal(t, "card_declined", res.DeclineReason)
}

func TestCompletePayment_ChargesSessionTotal(t *testing.T) {
	gw := new(mockGateway)
	gw.On("CreatePayment", mock.Anything, mock.MatchedBy(func(in *ChargeInput) bool {
		return in.Amount == 5500 && in.Currency == "USD" && in.SessionID == "cs_1"
	})).Return(&Result{Outcome: OutcomeSucceeded}, nil)

	a := NewAdapter(gw, "", newTestLogger())
	_, err := a.CompletePayment(context.Background(), testSession(), NewDelegatedToken("tok_abc"))

	require.NoError(t, err)
	gw.AssertExpectations(t)
}
