package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewGatewayClient(2*time.Second, newTestLogger())
	return NewHTTPGateway(HTTPGatewayConfig{BaseURL: srv.URL, APIKey: "sk_test"}, client)
}

func TestHTTPGateway_Succeeded(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body chargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok_abc", body.DelegatedToken)
		assert.Empty(t, body.PaymentMethod)
		assert.Equal(t, int64(5500), body.Amount)

		_ = json.NewEncoder(w).Encode(chargeResponse{ID: "pay_1", Status: "succeeded"})
	})

	res, err := gw.CreatePayment(context.Background(), &ChargeInput{
		Amount: 5500, Currency: "USD", DelegatedToken: "tok_abc", SessionID: "cs_1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, "pay_1", res.GatewayReference)
}

func TestHTTPGateway_Declined(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(chargeResponse{ID: "pay_2", Status: "declined", DeclineReason: "insufficient_funds"})
	})

	res, err := gw.CreatePayment(context.Background(), &ChargeInput{Amount: 100, Currency: "USD", DelegatedToken: "tok_x"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeclined, res.Outcome)
	assert.Equal(t, "insufficient_funds", res.DeclineReason)
}

func TestHTTPGateway_ServerErrorIsInfrastructureFailure(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gw.CreatePayment(context.Background(), &ChargeInput{Amount: 100, Currency: "USD", DelegatedToken: "tok_x"})
	assert.Error(t, err)
}

func TestHTTPGateway_DefaultMethodWhenNoToken(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var body chargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, body.DelegatedToken)
		assert.Equal(t, "pm_card", body.PaymentMethod)

		_ = json.NewEncoder(w).Encode(chargeResponse{ID: "pay_3", Status: "succeeded"})
	})

	_, err := gw.CreatePayment(context.Background(), &ChargeInput{Amount: 100, Currency: "USD", DefaultMethod: "pm_card"})
	require.NoError(t, err)
}
