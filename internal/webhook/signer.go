// Package webhook signs and delivers order lifecycle notifications to the
// agent platform's registered endpoint, with retry, backoff, and permanent
// failure retention.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

// Signature headers carried on every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// OrderSummary is the order snapshot carried in webhook payloads.
type OrderSummary struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"checkout_session_id"`
	Status           string            `json:"status"`
	Currency         string            `json:"currency"`
	LineItems        []domain.LineItem `json:"line_items"`
	Totals           domain.Totals     `json:"totals"`
	PaymentReference string            `json:"payment_reference"`
}

// Payload is the webhook body. Marshaling a struct gives a deterministic
// field order, which makes the serialized form canonical for signing.
type Payload struct {
	EventType string       `json:"event_type"`
	Order     OrderSummary `json:"order"`
}

// CanonicalPayload serializes the payload for an order event.
func CanonicalPayload(eventType string, order *domain.Order) ([]byte, error) {
	p := Payload{
		EventType: eventType,
		Order: OrderSummary{
			ID:               order.ID,
			SessionID:        order.SessionID,
			Status:           order.Status,
			Currency:         order.Currency,
			LineItems:        order.LineItems,
			Totals:           order.Totals,
			PaymentReference: order.PaymentReference,
		},
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return data, nil
}

// Signer computes HMAC-SHA256 signatures over canonical payloads using the
// merchant's shared secret. The timestamp is part of the signed input to
// bound the replay window.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the given merchant secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex signature for a payload at the given timestamp. The
// signed input is "<unix-seconds>.<payload>".
func (s *Signer) Sign(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func (s *Signer) Verify(payload []byte, ts time.Time, signature string) bool {
	expected := s.Sign(payload, ts)
	return hmac.Equal([]byte(expected), []byte(signature))
}
