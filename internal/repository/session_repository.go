package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) DB() *sql.DB {
	return r.db
}

const sessionColumns = `id, username, room_id, rewards_left, device_id, last_updated, promo_code_used,
payment_id, payment_verified, payment_failed, COALESCE(payment_failed_reason, ''), payment_refunded,
refund_amount, refund_id, refunded_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (*models.UserSession, error) {
	var s models.UserSession
	var verified, failed, refunded int
	var refundedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.Username, &s.RoomID, &s.RewardsLeft, &s.DeviceID, &s.LastUpdated,
		&s.PromoCodeUsed, &s.PaymentID, &verified, &failed, &s.FailedReason, &refunded,
		&s.RefundAmount, &s.RefundID, &refundedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.PaymentVerified = verified != 0
	s.PaymentFailed = failed != 0
	s.PaymentRefunded = refunded != 0
	if refundedAt.Valid {
		s.RefundedAt = &refundedAt.Time
	}
	return &s, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE id = ?`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) FindByUserAndRoom(ctx context.Context, username, roomID string) (*models.UserSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE username = ? AND room_id = ?`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, username, roomID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *models.UserSession) error {
	const query = `
INSERT INTO user_sessions (username, room_id, rewards_left, device_id, last_updated, promo_code_used, payment_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, s.Username, s.RoomID, s.RewardsLeft, s.DeviceID,
		s.LastUpdated, s.PromoCodeUsed, s.PaymentID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("session last insert id: %w", err)
	}
	s.ID = id
	return nil
}

// UpdateRewards writes back the countdown state. Last-write-wins by design:
// the countdown owns rewards_left and last_updated, nothing else.
func (r *SessionRepository) UpdateRewards(ctx context.Context, id int64, rewardsLeft int, lastUpdated time.Time) error {
	const query = `UPDATE user_sessions SET rewards_left = ?, last_updated = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, rewardsLeft, lastUpdated, id); err != nil {
		return fmt.Errorf("update session rewards: %w", err)
	}
	return nil
}

// ClaimDevice hands the session to a new device on resume.
func (r *SessionRepository) ClaimDevice(ctx context.Context, id int64, deviceID string, now time.Time) error {
	const query = `UPDATE user_sessions SET device_id = ?, last_updated = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, deviceID, now, id); err != nil {
		return fmt.Errorf("claim session device: %w", err)
	}
	return nil
}

// MarkPaymentCaptured flips the verification flags on every session row
// matching the payment id. Pure overwrite; replaying the event converges.
func (r *SessionRepository) MarkPaymentCaptured(ctx context.Context, paymentID string) (int64, error) {
	const query = `UPDATE user_sessions SET payment_verified = 1, payment_failed = 0 WHERE payment_id = ?`
	res, err := r.db.ExecContext(ctx, query, paymentID)
	if err != nil {
		return 0, fmt.Errorf("mark payment captured: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("captured rows affected: %w", err)
	}
	return affected, nil
}

func (r *SessionRepository) MarkPaymentFailed(ctx context.Context, paymentID, reason string) (int64, error) {
	const query = `
UPDATE user_sessions SET payment_verified = 0, payment_failed = 1, payment_failed_reason = ?
WHERE payment_id = ?`
	res, err := r.db.ExecContext(ctx, query, reason, paymentID)
	if err != nil {
		return 0, fmt.Errorf("mark payment failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed rows affected: %w", err)
	}
	return affected, nil
}

func (r *SessionRepository) MarkPaymentRefunded(ctx context.Context, paymentID string, amount float64, refundID string, at time.Time) (int64, error) {
	const query = `
UPDATE user_sessions SET payment_refunded = 1, refund_amount = ?, refund_id = ?, refunded_at = ?
WHERE payment_id = ?`
	res, err := r.db.ExecContext(ctx, query, amount, refundID, at, paymentID)
	if err != nil {
		return 0, fmt.Errorf("mark payment refunded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refunded rows affected: %w", err)
	}
	return affected, nil
}
