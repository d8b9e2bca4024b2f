package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

// Item is a catalog entry held by the in-memory catalog.
type Item struct {
	Ref       string
	Title     string
	UnitPrice int64
	Stock     int
}

// MemoryCatalog is a thread-safe in-memory catalog implementing both
// Resolver and Reserver. It backs local development and tests.
type MemoryCatalog struct {
	mu           sync.RWMutex
	items        map[string]Item
	reservations map[string]map[string]int // sessionID -> ref -> qty
}

// NewMemoryCatalog creates an in-memory catalog seeded with the given items.
func NewMemoryCatalog(items ...Item) *MemoryCatalog {
	c := &MemoryCatalog{
		items:        make(map[string]Item, len(items)),
		reservations: make(map[string]map[string]int),
	}
	for _, it := range items {
		c.items[it.Ref] = it
	}
	return c
}

// Put adds or replaces a catalog entry.
func (c *MemoryCatalog) Put(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.Ref] = item
}

// Resolve returns price and availability for a reference.
func (c *MemoryCatalog) Resolve(_ context.Context, ref string) (*Resolution, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, ref)
	}
	return &Resolution{
		Ref:       item.Ref,
		Title:     item.Title,
		Available: item.Stock-c.reservedLocked(ref) > 0,
		UnitPrice: item.UnitPrice,
	}, nil
}

// reservedLocked sums reserved quantity for a ref across all sessions.
// Caller must hold at least the read lock.
func (c *MemoryCatalog) reservedLocked(ref string) int {
	var total int
	for _, held := range c.reservations {
		total += held[ref]
	}
	return total
}

// Reserve holds stock for the session, replacing any prior reservation.
func (c *MemoryCatalog) Reserve(_ context.Context, sessionID string, items []domain.LineItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior := c.reservations[sessionID]
	delete(c.reservations, sessionID)

	held := make(map[string]int, len(items))
	for _, li := range items {
		item, ok := c.items[li.CatalogRef]
		if !ok {
			c.reservations[sessionID] = prior
			return fmt.Errorf("%w: %s", ErrUnknownItem, li.CatalogRef)
		}
		if item.Stock-c.reservedLocked(li.CatalogRef)-held[li.CatalogRef] < li.Quantity {
			c.reservations[sessionID] = prior
			return fmt.Errorf("catalog: insufficient stock for %s", li.CatalogRef)
		}
		held[li.CatalogRef] += li.Quantity
	}

	c.reservations[sessionID] = held
	return nil
}

// Release drops any reservation held for the session.
func (c *MemoryCatalog) Release(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reservations, sessionID)
	return nil
}
