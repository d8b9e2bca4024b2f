// Package memory provides in-memory repository implementations with the
// same optimistic-concurrency semantics as the PostgreSQL backend. They
// serve local development and end-to-end tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
	"github.com/carticy-dev/agentic-checkout/internal/repository"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
)

// SessionStore implements repository.SessionRepository in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.CheckoutSession
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*domain.CheckoutSession)}
}

// Create inserts a new session at version 1.
func (s *SessionStore) Create(_ context.Context, sess *domain.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Version = 1
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// GetByID retrieves a copy of the session.
func (s *SessionStore) GetByID(_ context.Context, id string) (*domain.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("checkout_session", id)
	}
	cp := *stored
	return &cp, nil
}

// Update persists the session guarded by its version.
func (s *SessionStore) Update(_ context.Context, sess *domain.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.ID]
	if !ok {
		return apperrors.NotFound("checkout_session", sess.ID)
	}
	if stored.Version != sess.Version {
		return repository.ErrVersionConflict
	}
	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// ListExpirable returns open sessions past either expiry threshold, oldest
// activity first.
func (s *SessionStore) ListExpirable(_ context.Context, now, abandonedBefore time.Time, limit int) ([]*domain.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.CheckoutSession
	for _, stored := range s.sessions {
		if stored.Status != domain.SessionStatusOpen {
			continue
		}
		if stored.ExpiresAt.After(now) && stored.UpdatedAt.After(abandonedBefore) {
			continue
		}
		cp := *stored
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OrderStore implements repository.OrderRepository in memory.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	byRef  map[string]string
}

// NewOrderStore creates an empty order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]*domain.Order),
		byRef:  make(map[string]string),
	}
}

// Create inserts a new order.
func (s *OrderStore) Create(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	if o.PaymentReference != "" {
		s.byRef[o.PaymentReference] = o.ID
	}
	return nil
}

// GetByID retrieves a copy of the order.
func (s *OrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	cp := *stored
	return &cp, nil
}

// GetByPaymentReference looks an order up by its gateway reference.
func (s *OrderStore) GetByPaymentReference(_ context.Context, ref string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, apperrors.NotFound("order", ref)
	}
	cp := *s.orders[id]
	return &cp, nil
}

// UpdateStatus changes the order status.
func (s *OrderStore) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[id]
	if !ok {
		return apperrors.NotFound("order", id)
	}
	stored.Status = status
	stored.UpdatedAt = time.Now().UTC()
	return nil
}
