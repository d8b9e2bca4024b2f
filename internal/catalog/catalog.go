// Package catalog defines the lookup boundary to the merchant's product
// catalog. The engine never owns catalog data; it resolves references for
// price and availability and, when the backing catalog supports it, holds
// short-lived reservations for open sessions.
package catalog

import (
	"context"
	"errors"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
)

// ErrUnknownItem is returned when a catalog reference does not resolve.
var ErrUnknownItem = errors.New("catalog: unknown item reference")

// Resolution is the catalog's answer for one item reference.
type Resolution struct {
	Ref       string
	Title     string
	Available bool
	UnitPrice int64
}

// Resolver looks up availability and unit pricing for catalog references.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*Resolution, error)
}

// Reserver is implemented by catalogs that can hold stock for an open
// session. Reserve replaces any prior reservation for the session.
type Reserver interface {
	Reserve(ctx context.Context, sessionID string, items []domain.LineItem) error
	Release(ctx context.Context, sessionID string) error
}
