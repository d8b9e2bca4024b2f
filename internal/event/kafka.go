package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
	pkgkafka "github.com/carticy-dev/agentic-checkout/pkg/kafka"
)

// Aggregate type and event source identifiers for the reporting stream.
const (
	AggregateTypeOrder = "order"
	SourceCheckout     = "checkout-engine"
)

// OrderEventData is the Kafka payload for order lifecycle events.
type OrderEventData struct {
	OrderID          string            `json:"order_id"`
	SessionID        string            `json:"session_id"`
	Status           string            `json:"status"`
	Currency         string            `json:"currency"`
	LineItems        []domain.LineItem `json:"line_items"`
	Totals           domain.Totals     `json:"totals"`
	PaymentReference string            `json:"payment_reference"`
}

// KafkaSink forwards order events to the Kafka reporting topic.
type KafkaSink struct {
	producer *pkgkafka.Producer
	topic    string
	logger   *slog.Logger
}

// NewKafkaSink creates a reporting sink publishing to the given topic.
func NewKafkaSink(producer *pkgkafka.Producer, topic string, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic, logger: logger}
}

// Name returns the sink name.
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Handle publishes the event with the order id as aggregate key so all
// events for one order land on the same partition in order.
func (s *KafkaSink) Handle(ctx context.Context, evt OrderEvent) error {
	data := OrderEventData{
		OrderID:          evt.Order.ID,
		SessionID:        evt.Order.SessionID,
		Status:           evt.Order.Status,
		Currency:         evt.Order.Currency,
		LineItems:        evt.Order.LineItems,
		Totals:           evt.Order.Totals,
		PaymentReference: evt.Order.PaymentReference,
	}

	kevt, err := pkgkafka.NewEvent(evt.Type, evt.Order.ID, AggregateTypeOrder, SourceCheckout, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", evt.Type, err)
	}
	if evt.CorrelationID != "" {
		kevt.WithCorrelationID(evt.CorrelationID)
	}

	if err := s.producer.Publish(ctx, s.topic, kevt); err != nil {
		return fmt.Errorf("publish %s event: %w", evt.Type, err)
	}
	return nil
}
