package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
	"github.com/carticy-dev/agentic-checkout/pkg/database"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	db database.DBTX
}

// NewOrderRepository creates a PostgreSQL-backed order repository.
func NewOrderRepository(db database.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, session_id, status, currency, line_items, buyer, shipping_address, subtotal_amount, shipping_amount, tax_amount, discount_amount, total_amount, payment_reference, created_at, updated_at`

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	lineItems, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}
	buyer, err := marshalNullable(o.Buyer)
	if err != nil {
		return fmt.Errorf("marshal buyer: %w", err)
	}
	shipping, err := marshalNullable(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.Exec(ctx, query,
		o.ID, o.SessionID, o.Status, o.Currency,
		lineItems, buyer, shipping,
		o.Totals.Subtotal, o.Totals.Shipping, o.Totals.Tax, o.Totals.Discount, o.Totals.Total,
		o.PaymentReference, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID retrieves an order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetByPaymentReference looks an order up by its gateway reference.
func (r *OrderRepository) GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_reference = $1`

	o, err := scanOrder(r.db.QueryRow(ctx, query, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", ref)
		}
		return nil, fmt.Errorf("get order by payment reference: %w", err)
	}
	return o, nil
}

// UpdateStatus changes the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`

	ct, err := r.db.Exec(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// scanOrder reads one order row.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var lineItems, buyer, shipping []byte

	err := row.Scan(
		&o.ID, &o.SessionID, &o.Status, &o.Currency,
		&lineItems, &buyer, &shipping,
		&o.Totals.Subtotal, &o.Totals.Shipping, &o.Totals.Tax, &o.Totals.Discount, &o.Totals.Total,
		&o.PaymentReference, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lineItems, &o.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	if len(buyer) > 0 {
		if err := json.Unmarshal(buyer, &o.Buyer); err != nil {
			return nil, fmt.Errorf("unmarshal buyer: %w", err)
		}
	}
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	return &o, nil
}
