package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
	"github.com/carticy-dev/agentic-checkout/internal/repository"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
)

func newOpenSession(id string) *domain.CheckoutSession {
	now := time.Now().UTC()
	return &domain.CheckoutSession{
		ID:        id,
		Status:    domain.SessionStatusOpen,
		Currency:  "USD",
		LineItems: []domain.LineItem{{CatalogRef: "sku-tee", Quantity: 1, UnitPrice: 2000}},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := NewSessionStore()
	sess := newOpenSession("cs-1")

	require.NoError(t, store.Create(context.Background(), sess))
	assert.Equal(t, int64(1), sess.Version)

	got, err := store.GetByID(context.Background(), "cs-1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	// Mutating the returned copy does not touch the stored session.
	got.Status = domain.SessionStatusCanceled
	again, err := store.GetByID(context.Background(), "cs-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusOpen, again.Status)
}

func TestSessionStore_UpdateBumpsVersion(t *testing.T) {
	store := NewSessionStore()
	sess := newOpenSession("cs-1")
	require.NoError(t, store.Create(context.Background(), sess))

	require.NoError(t, store.Update(context.Background(), sess))
	assert.Equal(t, int64(2), sess.Version)

	stale := newOpenSession("cs-1")
	stale.Version = 1
	err := store.Update(context.Background(), stale)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
}

func TestSessionStore_ConcurrentUpdatesOneWinner(t *testing.T) {
	store := NewSessionStore()
	sess := newOpenSession("cs-1")
	require.NoError(t, store.Create(context.Background(), sess))

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := store.GetByID(context.Background(), "cs-1")
			if err != nil {
				results <- err
				return
			}
			snapshot.Version = 1 // all racers start from the same snapshot
			results <- store.Update(context.Background(), snapshot)
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, repository.ErrVersionConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestSessionStore_ListExpirable(t *testing.T) {
	store := NewSessionStore()
	now := time.Now().UTC()

	past := newOpenSession("cs-past")
	past.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, store.Create(context.Background(), past))

	idle := newOpenSession("cs-idle")
	require.NoError(t, store.Create(context.Background(), idle))

	fresh := newOpenSession("cs-fresh")
	require.NoError(t, store.Create(context.Background(), fresh))

	// Only cs-past qualifies: the others were just touched.
	got, err := store.ListExpirable(context.Background(), now, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cs-past", got[0].ID)
}

func TestOrderStore_PaymentReferenceLookup(t *testing.T) {
	store := NewOrderStore()
	order := &domain.Order{ID: "ord-1", Status: domain.OrderStatusPlaced, PaymentReference: "pay_abc"}
	require.NoError(t, store.Create(context.Background(), order))

	got, err := store.GetByPaymentReference(context.Background(), "pay_abc")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", got.ID)

	_, err = store.GetByPaymentReference(context.Background(), "pay_nope")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)

	require.NoError(t, store.UpdateStatus(context.Background(), "ord-1", domain.OrderStatusRefunded))
	got, err = store.GetByID(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, got.Status)
}
