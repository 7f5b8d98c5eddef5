package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

type PromoRepository struct {
	db *sql.DB
}

func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) DB() *sql.DB {
	return r.db
}

const promoColumns = `id, code, discount_amount, max_uses, total_uses, expiry_date, active, created_at`

// scanPromo normalizes the tinyint active column to a bool at the store
// boundary so no polymorphic flag handling leaks into the services.
func scanPromo(row interface{ Scan(...any) error }) (*models.PromoCode, error) {
	var promo models.PromoCode
	var expiry sql.NullTime
	var active int
	if err := row.Scan(&promo.ID, &promo.Code, &promo.DiscountAmount, &promo.MaxUses,
		&promo.TotalUses, &expiry, &active, &promo.CreatedAt); err != nil {
		return nil, err
	}
	if expiry.Valid {
		promo.ExpiryDate = &expiry.Time
	}
	promo.Active = active != 0
	return &promo, nil
}

func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = ?`
	promo, err := scanPromo(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan promo: %w", err)
	}
	return promo, nil
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE id = ?`
	promo, err := scanPromo(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get promo by id: %w", err)
	}
	return promo, nil
}

func (r *PromoRepository) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
INSERT INTO promo_codes (code, discount_amount, max_uses, total_uses, expiry_date, active)
VALUES (?, ?, ?, 0, ?, ?)`
	active := 0
	if promo.Active {
		active = 1
	}
	res, err := r.db.ExecContext(ctx, query, promo.Code, promo.DiscountAmount, promo.MaxUses, promo.ExpiryDate, active)
	if err != nil {
		return nil, fmt.Errorf("create promo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promo last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

// RedeemOnce increments the usage counter and records the referral for a
// payment id inside one transaction. The unique key on referrals.payment_id
// makes the whole step idempotent: a second call with the same payment id
// reports alreadyRedeemed without touching the counter.
func (r *PromoRepository) RedeemOnce(ctx context.Context, promoID int64, roomID, username, paymentID string) (alreadyRedeemed bool, err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var dummy int
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM referrals WHERE payment_id = ?`, paymentID)
	if err := row.Scan(&dummy); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("check referral: %w", err)
		}
	} else {
		return true, nil
	}

	var uses, maxUses int
	row = tx.QueryRowContext(ctx, `SELECT total_uses, max_uses FROM promo_codes WHERE id = ? FOR UPDATE`, promoID)
	if err := row.Scan(&uses, &maxUses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("promo code not found")
		}
		return false, fmt.Errorf("lock promo: %w", err)
	}
	if maxUses > 0 && uses >= maxUses {
		return false, fmt.Errorf("promo code exhausted")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO referrals (promo_code_id, room_id, username, payment_id) VALUES (?, ?, ?, ?)`,
		promoID, roomID, username, paymentID); err != nil {
		return false, fmt.Errorf("insert referral: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE promo_codes SET total_uses = total_uses + 1 WHERE id = ?`, promoID); err != nil {
		return false, fmt.Errorf("increment promo uses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit redeem tx: %w", err)
	}
	return false, nil
}

func (r *PromoRepository) FindReferralByPayment(ctx context.Context, paymentID string) (*models.Referral, error) {
	const query = `
SELECT id, promo_code_id, room_id, username, payment_id, created_at
FROM referrals WHERE payment_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, paymentID)
	var ref models.Referral
	if err := row.Scan(&ref.ID, &ref.PromoCodeID, &ref.RoomID, &ref.Username, &ref.PaymentID, &ref.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan referral: %w", err)
	}
	return &ref, nil
}
