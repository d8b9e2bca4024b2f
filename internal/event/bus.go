// Package event carries order lifecycle notifications from the protocol
// handlers to their consumers. Handlers publish to a typed bus; the webhook
// dispatcher and the Kafka reporting sink subscribe. Delivery runs off the
// request path on a dedicated dispatch goroutine.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

// Order lifecycle event types. order_created fires exactly once, the first
// time a session completes; order_updated fires on every later status
// change to the resulting order.
const (
	TypeOrderCreated = "order_created"
	TypeOrderUpdated = "order_updated"
)

// OrderEvent is the bus message. Order is always set; Session is set only
// for events triggered by a session completing.
type OrderEvent struct {
	Type          string
	Order         *domain.Order
	Session       *domain.CheckoutSession
	OccurredAt    time.Time
	CorrelationID string
}

// Sink consumes order events. Handle is called sequentially per event in
// enqueue order, so a sink that needs FIFO per order gets it for free.
type Sink interface {
	Name() string
	Handle(ctx context.Context, evt OrderEvent) error
}

// Bus fans events out to all registered sinks from a single dispatch
// goroutine. Publish never blocks the caller.
type Bus struct {
	sinks  []Sink
	queue  chan OrderEvent
	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Bool
	done      chan struct{}
}

// NewBus creates an event bus with the given queue capacity.
func NewBus(capacity int, logger *slog.Logger, sinks ...Sink) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		sinks:  sinks,
		queue:  make(chan OrderEvent, capacity),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Publish enqueues an event for dispatch. It fails fast when the queue is
// full rather than blocking a request handler.
func (b *Bus) Publish(_ context.Context, evt OrderEvent) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	select {
	case b.queue <- evt:
		return nil
	default:
		return fmt.Errorf("event bus queue full, dropping %s for order %s", evt.Type, evt.Order.ID)
	}
}

// Start launches the dispatch goroutine. Dispatch continues until Stop is
// called and the queue has drained.
func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		b.running.Store(true)
		go b.dispatch(ctx)
	})
}

func (b *Bus) dispatch(ctx context.Context) {
	defer close(b.done)
	for evt := range b.queue {
		for _, sink := range b.sinks {
			if err := sink.Handle(ctx, evt); err != nil {
				b.logger.ErrorContext(ctx, "event sink failed",
					slog.String("sink", sink.Name()),
					slog.String("event_type", evt.Type),
					slog.String("order_id", evt.Order.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Stop closes the queue and waits for in-flight dispatch to finish.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.queue)
		if b.running.Load() {
			<-b.done
		}
	})
}
