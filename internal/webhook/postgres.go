package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/carticy-dev/agentic-checkout/pkg/database"
)

// PostgresStore persists delivery records in the webhook_deliveries table.
type PostgresStore struct {
	db database.DBTX
}

// NewPostgresStore creates a PostgreSQL-backed delivery store.
func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Enqueue inserts a pending delivery record.
func (s *PostgresStore) Enqueue(ctx context.Context, rec *DeliveryRecord) error {
	query := `
		INSERT INTO webhook_deliveries (id, event_type, order_id, target_url, payload, signature, attempt_count, last_attempt_at, next_retry_at, outcome, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.EventType,
		rec.OrderID,
		rec.TargetURL,
		rec.Payload,
		rec.Signature,
		rec.AttemptCount,
		nullableTime(rec.LastAttemptAt),
		nullableTime(rec.NextRetryAt),
		rec.Outcome,
		rec.LastError,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// Due returns pending records ready for an attempt, oldest first. A record
// with an older pending sibling for the same order is held back so per-order
// delivery stays FIFO across retries.
func (s *PostgresStore) Due(ctx context.Context, now time.Time, limit int) ([]*DeliveryRecord, error) {
	query := `
		SELECT id, event_type, order_id, target_url, payload, signature, attempt_count, last_attempt_at, next_retry_at, outcome, last_error, created_at
		FROM webhook_deliveries d
		WHERE outcome = $1 AND next_retry_at <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM webhook_deliveries older
			WHERE older.order_id = d.order_id
			  AND older.outcome = $1
			  AND older.created_at < d.created_at
		  )
		ORDER BY created_at ASC
		LIMIT $3`

	ctx, end := database.TraceQuery(ctx, "DueWebhookDeliveries", query)
	rows, err := s.db.Query(ctx, query, OutcomePending, now, limit)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("query due webhook deliveries: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		var lastAttempt, nextRetry *time.Time
		if err := rows.Scan(
			&rec.ID,
			&rec.EventType,
			&rec.OrderID,
			&rec.TargetURL,
			&rec.Payload,
			&rec.Signature,
			&rec.AttemptCount,
			&lastAttempt,
			&nextRetry,
			&rec.Outcome,
			&rec.LastError,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		if lastAttempt != nil {
			rec.LastAttemptAt = *lastAttempt
		}
		if nextRetry != nil {
			rec.NextRetryAt = *nextRetry
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook deliveries: %w", err)
	}
	return records, nil
}

// Update persists retry bookkeeping and outcome changes.
func (s *PostgresStore) Update(ctx context.Context, rec *DeliveryRecord) error {
	query := `
		UPDATE webhook_deliveries
		SET signature = $1, attempt_count = $2, last_attempt_at = $3, next_retry_at = $4, outcome = $5, last_error = $6
		WHERE id = $7`

	_, err := s.db.Exec(ctx, query,
		rec.Signature,
		rec.AttemptCount,
		nullableTime(rec.LastAttemptAt),
		nullableTime(rec.NextRetryAt),
		rec.Outcome,
		rec.LastError,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	return nil
}

// Delete removes a record after successful delivery.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM webhook_deliveries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete webhook delivery: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
