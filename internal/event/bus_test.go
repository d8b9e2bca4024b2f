package event

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	name   string
	events []OrderEvent
	err    error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, evt OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) recorded() []OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OrderEvent(nil), s.events...)
}

func orderEvent(eventType, orderID string) OrderEvent {
	return OrderEvent{
		Type:  eventType,
		Order: &domain.Order{ID: orderID, Status: domain.OrderStatusPlaced},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestBus_FansOutToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	bus := NewBus(8, newTestLogger(), a, b)
	bus.Start(context.Background())
	defer bus.Stop()

	require.NoError(t, bus.Publish(context.Background(), orderEvent(TypeOrderCreated, "ord_1")))

	waitFor(t, func() bool { return len(a.recorded()) == 1 && len(b.recorded()) == 1 })
	assert.Equal(t, TypeOrderCreated, a.recorded()[0].Type)
}

func TestBus_PreservesEnqueueOrder(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	bus := NewBus(8, newTestLogger(), sink)
	bus.Start(context.Background())
	defer bus.Stop()

	require.NoError(t, bus.Publish(context.Background(), orderEvent(TypeOrderCreated, "ord_1")))
	require.NoError(t, bus.Publish(context.Background(), orderEvent(TypeOrderUpdated, "ord_1")))

	waitFor(t, func() bool { return len(sink.recorded()) == 2 })
	events := sink.recorded()
	assert.Equal(t, TypeOrderCreated, events[0].Type)
	assert.Equal(t, TypeOrderUpdated, events[1].Type)
}

func TestBus_FailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSink{name: "bad", err: assert.AnError}
	good := &recordingSink{name: "good"}
	bus := NewBus(8, newTestLogger(), bad, good)
	bus.Start(context.Background())
	defer bus.Stop()

	require.NoError(t, bus.Publish(context.Background(), orderEvent(TypeOrderCreated, "ord_1")))

	waitFor(t, func() bool { return len(good.recorded()) == 1 })
}

func TestBus_PublishFailsWhenQueueFull(t *testing.T) {
	bus := NewBus(1, newTestLogger()) // never started, queue fills up
	require.NoError(t, bus.Publish(context.Background(), orderEvent(TypeOrderCreated, "ord_1")))
	assert.Error(t, bus.Publish(context.Background(), orderEvent(TypeOrderCreated, "ord_2")))
}

func TestBus_StopDrainsQueue(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	bus := NewBus(8, newTestLogger(), sink)
	bus.Start(context.Background())

	require.NoError(t, bus.Publish(context.Background(), orderEvent(TypeOrderCreated, "ord_1")))
	require.NoError(t, bus.Publish(context.Background(), orderEvent(TypeOrderUpdated, "ord_1")))
	bus.Stop()

	assert.Len(t, sink.recorded(), 2)
}

func TestBus_PublishStampsOccurredAt(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	bus := NewBus(8, newTestLogger(), sink)
	bus.Start(context.Background())

	require.NoError(t, bus.Publish(context.Background(), orderEvent(TypeOrderCreated, "ord_1")))
	bus.Stop()

	require.Len(t, sink.recorded(), 1)
	assert.False(t, sink.recorded()[0].OccurredAt.IsZero())
}
