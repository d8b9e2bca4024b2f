package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	fingerprint string
	done        bool
	statusCode  int
	body        []byte
	createdAt   time.Time
}

// MemoryStore is a thread-safe in-memory ledger backend for tests and
// single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]*memoryRecord
	now     func() time.Time
}

// NewMemoryStore creates an in-memory ledger with the given record TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

func ledgerKey(scope, key string) string {
	return scope + ":" + key
}

// Begin claims the key or classifies the replay.
func (s *MemoryStore) Begin(_ context.Context, scope, key, fingerprint string) (BeginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := ledgerKey(scope, key)
	rec, ok := s.records[k]
	if ok && s.now().Sub(rec.createdAt) > s.ttl {
		delete(s.records, k)
		ok = false
	}

	if !ok {
		s.records[k] = &memoryRecord{
			fingerprint: fingerprint,
			createdAt:   s.now(),
		}
		return BeginResult{State: StateNew}, nil
	}

	if rec.fingerprint != fingerprint {
		return BeginResult{State: StateConflict}, nil
	}
	if !rec.done {
		return BeginResult{State: StateInProgress}, nil
	}
	return BeginResult{
		State:        StateReplay,
		StoredStatus: rec.statusCode,
		StoredBody:   rec.body,
	}, nil
}

// Complete stores the response for replay.
func (s *MemoryStore) Complete(_ context.Context, scope, key string, statusCode int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[ledgerKey(scope, key)]
	if !ok {
		return nil
	}
	rec.done = true
	rec.statusCode = statusCode
	rec.body = append([]byte(nil), body...)
	return nil
}

// Abandon releases an unfinished claim.
func (s *MemoryStore) Abandon(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := ledgerKey(scope, key)
	if rec, ok := s.records[k]; ok && !rec.done {
		delete(s.records, k)
	}
	return nil
}
