package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Delivery outcomes.
const (
	OutcomePending   = "pending"
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// DeliveryRecord tracks one webhook delivery through its retry lifecycle.
// Only the dispatcher mutates records after creation.
type DeliveryRecord struct {
	ID            string
	EventType     string
	OrderID       string
	TargetURL     string
	Payload       []byte
	Signature     string
	AttemptCount  int
	LastAttemptAt time.Time
	NextRetryAt   time.Time
	Outcome       string
	LastError     string
	CreatedAt     time.Time
}

// Store persists delivery records. Due must return records in creation
// order so deliveries for one order stay FIFO.
type Store interface {
	Enqueue(ctx context.Context, rec *DeliveryRecord) error

	// Due returns up to limit records ready for an attempt: pending, past
	// NextRetryAt, and with no older pending record for the same order. The
	// last condition keeps per-order delivery FIFO while an older delivery
	// waits out its backoff.
	Due(ctx context.Context, now time.Time, limit int) ([]*DeliveryRecord, error)

	// Update persists retry bookkeeping and outcome changes.
	Update(ctx context.Context, rec *DeliveryRecord) error

	// Delete removes a record. Called after successful delivery; permanently
	// failed records are kept for operator inspection.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a thread-safe in-memory delivery store for tests and
// single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*DeliveryRecord
}

// NewMemoryStore creates an empty in-memory delivery store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*DeliveryRecord)}
}

// Enqueue adds a record.
func (s *MemoryStore) Enqueue(_ context.Context, rec *DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// Due returns pending records ready for an attempt, oldest first. Only the
// oldest pending record per order is eligible, so a younger delivery cannot
// overtake one waiting out its backoff.
func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]*DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*DeliveryRecord
	for _, rec := range s.records {
		if rec.Outcome == OutcomePending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	var due []*DeliveryRecord
	heads := make(map[string]bool)
	for _, rec := range pending {
		if heads[rec.OrderID] {
			continue
		}
		heads[rec.OrderID] = true
		if rec.NextRetryAt.After(now) {
			continue
		}
		cp := *rec
		due = append(due, &cp)
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Update replaces a stored record.
func (s *MemoryStore) Update(_ context.Context, rec *DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		cp := *rec
		s.records[rec.ID] = &cp
	}
	return nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Failed returns permanently failed records, for operator inspection.
func (s *MemoryStore) Failed(_ context.Context) ([]*DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []*DeliveryRecord
	for _, rec := range s.records {
		if rec.Outcome == OutcomeFailed {
			cp := *rec
			failed = append(failed, &cp)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].CreatedAt.Before(failed[j].CreatedAt) })
	return failed, nil
}
