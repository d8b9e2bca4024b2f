package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/carticy-dev/agentic-checkout/pkg/httpclient"
)

// HTTPGatewayConfig holds configuration for the HTTP payment gateway client.
type HTTPGatewayConfig struct {
	BaseURL string
	APIKey  string
}

// HTTPGateway talks to an external payment processor over HTTPS. Calls run
// through a circuit breaker so a failing gateway sheds load quickly instead
// of tying up request handlers.
type HTTPGateway struct {
	cfg    HTTPGatewayConfig
	client *httpclient.CircuitBreakerClient
}

// NewHTTPGateway creates an HTTP payment gateway client.
func NewHTTPGateway(cfg HTTPGatewayConfig, client *httpclient.CircuitBreakerClient) *HTTPGateway {
	return &HTTPGateway{cfg: cfg, client: client}
}

// Name returns the gateway name.
func (g *HTTPGateway) Name() string {
	return "http"
}

type chargeRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	DelegatedToken string `json:"delegated_token,omitempty"`
	PaymentMethod  string `json:"payment_method,omitempty"`
	Reference      string `json:"reference"`
}

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	DeclineReason string `json:"decline_reason,omitempty"`
}

// CreatePayment issues a capture call. Declines are a normal Result; network
// errors, 5xx responses, and an open circuit breaker return an error.
func (g *HTTPGateway) CreatePayment(ctx context.Context, input *ChargeInput) (*Result, error) {
	payload := chargeRequest{
		Amount:    input.Amount,
		Currency:  input.Currency,
		Reference: input.SessionID,
	}
	// Delegated token and default method are mutually exclusive.
	if input.DelegatedToken != "" {
		payload.DelegatedToken = input.DelegatedToken
	} else {
		payload.PaymentMethod = input.DefaultMethod
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		if errors.Is(err, httpclient.ErrCircuitOpen) {
			return nil, fmt.Errorf("payment gateway circuit open: %w", err)
		}
		return nil, fmt.Errorf("payment gateway request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 4xx from the gateway is a decline-shaped answer, not an outage.
		var cr chargeResponse
		if jerr := json.Unmarshal(data, &cr); jerr == nil && cr.Status == "declined" {
			return &Result{
				Outcome:          OutcomeDeclined,
				GatewayReference: cr.ID,
				DeclineReason:    cr.DeclineReason,
			}, nil
		}
		return nil, fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}

	var cr chargeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("unmarshal gateway response: %w", err)
	}

	switch cr.Status {
	case "succeeded":
		return &Result{Outcome: OutcomeSucceeded, GatewayReference: cr.ID}, nil
	case "declined":
		return &Result{
			Outcome:          OutcomeDeclined,
			GatewayReference: cr.ID,
			DeclineReason:    cr.DeclineReason,
		}, nil
	default:
		return nil, fmt.Errorf("payment gateway returned unknown status %q", cr.Status)
	}
}

// NewGatewayClient builds the circuit-breaker-wrapped HTTP client used by
// the gateway. Retries stay at zero: a capture call must never be replayed
// by the transport once it has been issued.
func NewGatewayClient(timeout time.Duration, logger *slog.Logger) *httpclient.CircuitBreakerClient {
	base := httpclient.New(httpclient.Config{
		Timeout:         timeout,
		MaxRetries:      0,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 50,
	})
	return httpclient.NewCircuitBreakerClient(base, httpclient.DefaultCircuitBreakerConfig("payment_gateway"), logger)
}
