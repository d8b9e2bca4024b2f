package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
	"github.com/carticy-dev/agentic-checkout/internal/event"
	"github.com/carticy-dev/agentic-checkout/internal/repository"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
	"github.com/carticy-dev/agentic-checkout/pkg/logger"
)

// Gateway-initiated event types accepted on the payment event intake.
const (
	GatewayEventRefund       = "refund"
	GatewayEventDispute      = "dispute"
	GatewayEventDisputeWon   = "dispute_closed"
	GatewayEventCancellation = "cancellation"
)

// orderStatusForGatewayEvent maps a gateway notification to the order status
// it drives the order toward.
var orderStatusForGatewayEvent = map[string]string{
	GatewayEventRefund:       domain.OrderStatusRefunded,
	GatewayEventDispute:      domain.OrderStatusDisputed,
	GatewayEventDisputeWon:   domain.OrderStatusPlaced,
	GatewayEventCancellation: domain.OrderStatusCanceled,
}

// PaymentEventInput is a gateway-initiated notification. Correlation happens
// exclusively through the stored gateway reference; a caller-supplied
// session or order id is never trusted.
type PaymentEventInput struct {
	GatewayReference string `json:"gateway_reference" validate:"required"`
	EventType        string `json:"event_type" validate:"required,oneof=refund dispute dispute_closed cancellation"`
}

// PaymentEventService applies asynchronous gateway events to materialized
// orders and fires order_updated notifications.
type PaymentEventService struct {
	orders repository.OrderRepository
	bus    EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewPaymentEventService creates the gateway event intake service.
func NewPaymentEventService(orders repository.OrderRepository, bus EventPublisher, log *slog.Logger) *PaymentEventService {
	return &PaymentEventService{orders: orders, bus: bus, logger: log, now: time.Now}
}

// Apply correlates the event to an order by gateway reference and advances
// the order lifecycle. A repeated notification for a state the order already
// holds is a no-op.
func (s *PaymentEventService) Apply(ctx context.Context, input *PaymentEventInput) (*domain.Order, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	target := orderStatusForGatewayEvent[input.EventType]

	order, err := s.orders.GetByPaymentReference(ctx, input.GatewayReference)
	if err != nil {
		return nil, err
	}
	if order.Status == target {
		return order, nil
	}
	if !order.CanTransitionTo(target) {
		return nil, apperrors.StateConflict(fmt.Sprintf("order is %s and cannot move to %s", order.Status, target))
	}

	if err := s.orders.UpdateStatus(ctx, order.ID, target); err != nil {
		return nil, fmt.Errorf("apply gateway event: %w", err)
	}
	order.Status = target
	order.UpdatedAt = s.now().UTC()

	evt := event.OrderEvent{
		Type:          event.TypeOrderUpdated,
		Order:         order,
		CorrelationID: logger.CorrelationIDFromContext(ctx),
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.ErrorContext(ctx, "event publish failed",
			slog.String("event_type", evt.Type),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "gateway event applied",
		slog.String("order_id", order.ID),
		slog.String("event_type", input.EventType),
		slog.String("status", order.Status),
	)
	return order, nil
}
