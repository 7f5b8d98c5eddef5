package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

// Rejection reasons in check order. Each maps to the inline message the
// storefront shows next to the promo input.
var ErrPromoInvalid = errors.New("invalid promo code")
var ErrPromoInactive = errors.New("promo code is inactive")
var ErrPromoExpired = errors.New("promo code has expired")
var ErrPromoExhausted = errors.New("no uses left for this promo code")

// PromoStore is the persistence surface the promo engine needs.
type PromoStore interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetByID(ctx context.Context, id int64) (*models.PromoCode, error)
	RedeemOnce(ctx context.Context, promoID int64, roomID, username, paymentID string) (bool, error)
}

type PromoService struct {
	log    *slog.Logger
	promos PromoStore
}

func NewPromoService(log *slog.Logger, promos PromoStore) *PromoService {
	return &PromoService{log: log, promos: promos}
}

// Validation is the successful result of Validate: the matched code and the
// discounted room price, clamped at zero.
type Validation struct {
	Promo           *models.PromoCode
	DiscountedPrice int
}

// Validate checks a code against the usage, expiry and activity rules, in
// that order, and computes the discounted price for the room. It has no side
// effects: the usage counter moves only in Redeem, after a payment is
// verified.
func (s *PromoService) Validate(ctx context.Context, code string, room *models.Room, now time.Time) (*Validation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrPromoInvalid
	}

	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return nil, ErrPromoInvalid
	}
	if !promo.Active {
		return nil, ErrPromoInactive
	}
	if promo.Expired(now) {
		return nil, ErrPromoExpired
	}
	if promo.Exhausted() {
		return nil, ErrPromoExhausted
	}

	discounted := room.PriceINR - promo.DiscountAmount
	if discounted < 0 {
		discounted = 0
	}
	return &Validation{Promo: promo, DiscountedPrice: discounted}, nil
}

// Redeem burns one use of the code for a verified payment: it re-validates
// the code, then increments the usage counter and records the referral in
// one transaction keyed by payment id. Calling it again with the same
// payment id is a no-op; the persisted referral row is the idempotency
// guard, so a page reload or a duplicate client call never double-counts.
func (s *PromoService) Redeem(ctx context.Context, promoID int64, roomID, username, paymentID string, now time.Time) error {
	if paymentID == "" {
		return fmt.Errorf("payment id is required")
	}

	promo, err := s.promos.GetByID(ctx, promoID)
	if err != nil {
		return fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return ErrPromoInvalid
	}
	if !promo.Active {
		return ErrPromoInactive
	}
	if promo.Expired(now) {
		return ErrPromoExpired
	}
	if promo.Exhausted() {
		return ErrPromoExhausted
	}

	already, err := s.promos.RedeemOnce(ctx, promoID, roomID, username, paymentID)
	if err != nil {
		return fmt.Errorf("redeem promo: %w", err)
	}
	if already {
		s.log.Info("promo already redeemed for payment", "promo_id", promoID, "payment_id", paymentID)
	}
	return nil
}
