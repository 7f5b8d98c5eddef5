package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

// PaymentLogRepository appends webhook audit entries. The table is write-only
// for the service; it exists for offline audit and debugging.
type PaymentLogRepository struct {
	db *sql.DB
}

func NewPaymentLogRepository(db *sql.DB) *PaymentLogRepository {
	return &PaymentLogRepository{db: db}
}

func (r *PaymentLogRepository) Append(ctx context.Context, log *models.PaymentLog) error {
	const query = `
INSERT INTO payment_logs (payment_id, event, payload, processed_at)
VALUES (?, ?, ?, ?)`
	at := log.ProcessedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, query, log.PaymentID, log.Event, log.Payload, at)
	if err != nil {
		return fmt.Errorf("insert payment log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("payment log last insert id: %w", err)
	}
	log.ID = id
	return nil
}
