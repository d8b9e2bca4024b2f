package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/carticy-dev/agentic-checkout/internal/event"
)

// Sink subscribes the dispatcher to the order event bus. Each event becomes
// a pending delivery record picked up by the background loop, so enqueueing
// never blocks the triggering request.
type Sink struct {
	store     Store
	targetURL string
	logger    *slog.Logger
	now       func() time.Time
}

// NewSink creates the event bus subscriber for the registered endpoint.
// An empty target URL disables webhook delivery entirely.
func NewSink(store Store, targetURL string, logger *slog.Logger) *Sink {
	return &Sink{
		store:     store,
		targetURL: targetURL,
		logger:    logger,
		now:       time.Now,
	}
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "webhook"
}

// Handle converts an order event into a pending delivery record.
func (s *Sink) Handle(ctx context.Context, evt event.OrderEvent) error {
	if s.targetURL == "" {
		return nil
	}

	payload, err := CanonicalPayload(evt.Type, evt.Order)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	rec := &DeliveryRecord{
		ID:          uuid.New().String(),
		EventType:   evt.Type,
		OrderID:     evt.Order.ID,
		TargetURL:   s.targetURL,
		Payload:     payload,
		Outcome:     OutcomePending,
		NextRetryAt: now,
		CreatedAt:   now,
	}

	if err := s.store.Enqueue(ctx, rec); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "webhook delivery enqueued",
		slog.String("delivery_id", rec.ID),
		slog.String("event_type", evt.Type),
		slog.String("order_id", evt.Order.ID),
	)
	return nil
}
