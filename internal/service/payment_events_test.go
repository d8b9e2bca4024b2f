package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
	"github.com/carticy-dev/agentic-checkout/internal/event"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
)

func placedOrder() *domain.Order {
	now := time.Now().UTC()
	return &domain.Order{
		ID:               "ord-001",
		SessionID:        "cs-001",
		Status:           domain.OrderStatusPlaced,
		Currency:         "USD",
		LineItems:        []domain.LineItem{{CatalogRef: "sku-tee", Quantity: 1, UnitPrice: 2000}},
		Totals:           domain.Totals{Subtotal: 2000, Total: 2000},
		PaymentReference: "pay_abc",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestPaymentEventService_RefundFiresOrderUpdated(t *testing.T) {
	orders := new(mockOrderRepo)
	bus := new(recordingBus)
	svc := NewPaymentEventService(orders, bus, newTestLogger())

	order := placedOrder()
	orders.On("GetByPaymentReference", mock.Anything, "pay_abc").Return(order, nil)
	orders.On("UpdateStatus", mock.Anything, order.ID, domain.OrderStatusRefunded).Return(nil)

	got, err := svc.Apply(context.Background(), &PaymentEventInput{
		GatewayReference: "pay_abc",
		EventType:        GatewayEventRefund,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, got.Status)

	events := bus.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeOrderUpdated, events[0].Type)
	assert.Equal(t, order.ID, events[0].Order.ID)
	orders.AssertExpectations(t)
}

func TestPaymentEventService_RepeatedEventIsNoOp(t *testing.T) {
	orders := new(mockOrderRepo)
	bus := new(recordingBus)
	svc := NewPaymentEventService(orders, bus, newTestLogger())

	order := placedOrder()
	order.Status = domain.OrderStatusRefunded
	orders.On("GetByPaymentReference", mock.Anything, "pay_abc").Return(order, nil)

	got, err := svc.Apply(context.Background(), &PaymentEventInput{
		GatewayReference: "pay_abc",
		EventType:        GatewayEventRefund,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, got.Status)
	assert.Empty(t, bus.all())
	orders.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentEventService_IllegalTransitionConflicts(t *testing.T) {
	orders := new(mockOrderRepo)
	bus := new(recordingBus)
	svc := NewPaymentEventService(orders, bus, newTestLogger())

	order := placedOrder()
	order.Status = domain.OrderStatusRefunded
	orders.On("GetByPaymentReference", mock.Anything, "pay_abc").Return(order, nil)

	_, err := svc.Apply(context.Background(), &PaymentEventInput{
		GatewayReference: "pay_abc",
		EventType:        GatewayEventDispute,
	})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeStateConflict, appErr.Code)
	assert.Empty(t, bus.all())
}

func TestPaymentEventService_UnknownReferenceNotFound(t *testing.T) {
	orders := new(mockOrderRepo)
	svc := NewPaymentEventService(orders, new(recordingBus), newTestLogger())

	orders.On("GetByPaymentReference", mock.Anything, "pay_missing").
		Return(nil, apperrors.NotFound("order", "pay_missing"))

	_, err := svc.Apply(context.Background(), &PaymentEventInput{
		GatewayReference: "pay_missing",
		EventType:        GatewayEventRefund,
	})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
}

func TestPaymentEventService_RejectsUnknownEventType(t *testing.T) {
	svc := NewPaymentEventService(new(mockOrderRepo), new(recordingBus), newTestLogger())

	_, err := svc.Apply(context.Background(), &PaymentEventInput{
		GatewayReference: "pay_abc",
		EventType:        "chargeback_reversal_reversal",
	})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeValidation, appErr.Code)
}
