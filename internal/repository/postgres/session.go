package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/carticy-dev/agentic-checkout/internal/domain"
	"github.com/carticy-dev/agentic-checkout/internal/repository"
	"github.com/carticy-dev/agentic-checkout/pkg/database"
	apperrors "github.com/carticy-dev/agentic-checkout/pkg/errors"
)

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db database.DBTX
}

// NewSessionRepository creates a PostgreSQL-backed session repository.
func NewSessionRepository(db database.DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, status, currency, line_items, buyer, billing_address, shipping_address, shipping_options, shipping_selection, discount_codes, subtotal_amount, shipping_amount, tax_amount, discount_amount, total_amount, payment_reference, order_id, completion_claimed_at, created_at, updated_at, expires_at, version`

// Create inserts a new session at version 1.
func (r *SessionRepository) Create(ctx context.Context, s *domain.CheckoutSession) error {
	lineItems, buyer, billing, shipping, options, selection, codes, err := marshalSessionFields(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO checkout_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	s.Version = 1
	_, err = r.db.Exec(ctx, query,
		s.ID, s.Status, s.Currency,
		lineItems, buyer, billing, shipping, options, selection, codes,
		s.Totals.Subtotal, s.Totals.Shipping, s.Totals.Tax, s.Totals.Discount, s.Totals.Total,
		s.PaymentReference, s.OrderID, nullableTimestamp(s.CompletionClaimedAt),
		s.CreatedAt, s.UpdatedAt, s.ExpiresAt, s.Version,
	)
	if err != nil {
		return fmt.Errorf("insert checkout session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its identifier.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetSession", query)
	row := r.db.QueryRow(ctx, query, id)
	s, err := scanSession(row)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("checkout_session", id)
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return s, nil
}

// Update persists the session guarded by its version.
func (r *SessionRepository) Update(ctx context.Context, s *domain.CheckoutSession) error {
	lineItems, buyer, billing, shipping, options, selection, codes, err := marshalSessionFields(s)
	if err != nil {
		return err
	}

	s.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE checkout_sessions
		SET status = $1, line_items = $2, buyer = $3, billing_address = $4,
		    shipping_address = $5, shipping_options = $6, shipping_selection = $7,
		    discount_codes = $8, subtotal_amount = $9, shipping_amount = $10,
		    tax_amount = $11, discount_amount = $12, total_amount = $13,
		    payment_reference = $14, order_id = $15, completion_claimed_at = $16,
		    updated_at = $17, expires_at = $18, version = version + 1
		WHERE id = $19 AND version = $20`

	ct, err := r.db.Exec(ctx, query,
		s.Status, lineItems, buyer, billing, shipping, options, selection, codes,
		s.Totals.Subtotal, s.Totals.Shipping, s.Totals.Tax, s.Totals.Discount, s.Totals.Total,
		s.PaymentReference, s.OrderID, nullableTimestamp(s.CompletionClaimedAt),
		s.UpdatedAt, s.ExpiresAt,
		s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("update checkout session: %w", err)
	}

	if ct.RowsAffected() == 0 {
		// Distinguish a stale version from a missing session.
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM checkout_sessions WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check checkout session existence: %w", err)
		}
		if !exists {
			return apperrors.NotFound("checkout_session", s.ID)
		}
		return repository.ErrVersionConflict
	}

	s.Version++
	return nil
}

// ListExpirable returns open sessions past either expiry threshold.
func (r *SessionRepository) ListExpirable(ctx context.Context, now, abandonedBefore time.Time, limit int) ([]*domain.CheckoutSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM checkout_sessions
		WHERE status = $1 AND (expires_at <= $2 OR updated_at <= $3)
		ORDER BY updated_at ASC
		LIMIT $4`

	ctx, end := database.TraceQuery(ctx, "ListExpirableSessions", query)
	rows, err := r.db.Query(ctx, query, domain.SessionStatusOpen, now, abandonedBefore, limit)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("query expirable sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expirable session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expirable sessions: %w", err)
	}
	return sessions, nil
}

// marshalSessionFields serializes the jsonb columns.
func marshalSessionFields(s *domain.CheckoutSession) (lineItems, buyer, billing, shipping, options, selection, codes []byte, err error) {
	if lineItems, err = json.Marshal(s.LineItems); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal line items: %w", err)
	}
	if buyer, err = marshalNullable(s.Buyer); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal buyer: %w", err)
	}
	if billing, err = marshalNullable(s.BillingAddress); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal billing address: %w", err)
	}
	if shipping, err = marshalNullable(s.ShippingAddress); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	if options, err = json.Marshal(s.ShippingOptions); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal shipping options: %w", err)
	}
	if selection, err = marshalNullable(s.ShippingSelection); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal shipping selection: %w", err)
	}
	if codes, err = json.Marshal(s.DiscountCodes); err != nil {
		return nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal discount codes: %w", err)
	}
	return lineItems, buyer, billing, shipping, options, selection, codes, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case *domain.Buyer:
		if t == nil {
			return nil, nil
		}
	case *domain.Address:
		if t == nil {
			return nil, nil
		}
	case *domain.ShippingSelection:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullableTimestamp(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// scanSession reads one session row.
func scanSession(row pgx.Row) (*domain.CheckoutSession, error) {
	var s domain.CheckoutSession
	var lineItems, buyer, billing, shipping, options, selection, codes []byte
	var claimedAt *time.Time

	err := row.Scan(
		&s.ID, &s.Status, &s.Currency,
		&lineItems, &buyer, &billing, &shipping, &options, &selection, &codes,
		&s.Totals.Subtotal, &s.Totals.Shipping, &s.Totals.Tax, &s.Totals.Discount, &s.Totals.Total,
		&s.PaymentReference, &s.OrderID, &claimedAt,
		&s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	if claimedAt != nil {
		s.CompletionClaimedAt = *claimedAt
	}

	if err := json.Unmarshal(lineItems, &s.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	if len(buyer) > 0 {
		if err := json.Unmarshal(buyer, &s.Buyer); err != nil {
			return nil, fmt.Errorf("unmarshal buyer: %w", err)
		}
	}
	if len(billing) > 0 {
		if err := json.Unmarshal(billing, &s.BillingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal billing address: %w", err)
		}
	}
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &s.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &s.ShippingOptions); err != nil {
			return nil, fmt.Errorf("unmarshal shipping options: %w", err)
		}
	}
	if len(selection) > 0 {
		if err := json.Unmarshal(selection, &s.ShippingSelection); err != nil {
			return nil, fmt.Errorf("unmarshal shipping selection: %w", err)
		}
	}
	if len(codes) > 0 {
		if err := json.Unmarshal(codes, &s.DiscountCodes); err != nil {
			return nil, fmt.Errorf("unmarshal discount codes: %w", err)
		}
	}
	return &s, nil
}
