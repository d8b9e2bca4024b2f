package repository

import (
	"context"
	"errors"
	"time"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

// ErrVersionConflict is returned when an optimistic-concurrency update loses
// the race: the stored version no longer matches the caller's snapshot.
var ErrVersionConflict = errors.New("repository: session version conflict")

// SessionRepository defines persistence for checkout sessions.
type SessionRepository interface {
	// Create inserts a new session at version 1.
	Create(ctx context.Context, session *domain.CheckoutSession) error

	// GetByID retrieves a session by its identifier.
	GetByID(ctx context.Context, id string) (*domain.CheckoutSession, error)

	// Update persists the session guarded by its version: the write succeeds
	// only if the stored version equals session.Version, and bumps it by one.
	// A stale snapshot yields ErrVersionConflict.
	Update(ctx context.Context, session *domain.CheckoutSession) error

	// ListExpirable returns up to limit open sessions that have either
	// passed their hard expiry or been inactive since before the abandoned
	// cutoff.
	ListExpirable(ctx context.Context, now, abandonedBefore time.Time, limit int) ([]*domain.CheckoutSession, error)
}

// OrderRepository defines persistence for materialized orders.
type OrderRepository interface {
	// Create inserts a new order.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its identifier.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetByPaymentReference looks an order up by its gateway reference.
	// This is the only correlation path for gateway-initiated events.
	GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error)

	// UpdateStatus changes the order status.
	UpdateStatus(ctx context.Context, id, status string) error
}
