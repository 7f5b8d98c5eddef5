package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

func testPromo() *models.PromoCode {
	return &models.PromoCode{
		ID:             1,
		Code:           "SAVE100",
		DiscountAmount: 100,
		MaxUses:        10,
		Active:         true,
	}
}

func TestValidatePromo(t *testing.T) {
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)

	tests := []struct {
		name    string
		mutate  func(*models.PromoCode)
		code    string
		wantErr error
	}{
		{"valid", nil, "SAVE100", nil},
		{"unknown code", nil, "NOPE", ErrPromoInvalid},
		{"blank code", nil, "  ", ErrPromoInvalid},
		{"inactive", func(p *models.PromoCode) { p.Active = false }, "SAVE100", ErrPromoInactive},
		{"expired", func(p *models.PromoCode) { p.ExpiryDate = &yesterday }, "SAVE100", ErrPromoExpired},
		{"exhausted", func(p *models.PromoCode) { p.TotalUses = p.MaxUses }, "SAVE100", ErrPromoExhausted},
		// Inactive wins over expired: the check order is fixed.
		{"inactive and expired", func(p *models.PromoCode) {
			p.Active = false
			p.ExpiryDate = &yesterday
		}, "SAVE100", ErrPromoInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			promo := testPromo()
			if tt.mutate != nil {
				tt.mutate(promo)
			}
			svc := NewPromoService(testLogger(), newFakePromoStore(promo))

			result, err := svc.Validate(context.Background(), tt.code, testRoom("r1"), now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 400, result.DiscountedPrice)
		})
	}
}

func TestValidatePromoDiscountClamp(t *testing.T) {
	promo := testPromo()
	promo.DiscountAmount = 800
	svc := NewPromoService(testLogger(), newFakePromoStore(promo))

	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	result, err := svc.Validate(context.Background(), "SAVE100", testRoom("r1"), now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.DiscountedPrice)
}

func TestRedeemIdempotentPerPayment(t *testing.T) {
	store := newFakePromoStore(testPromo())
	svc := NewPromoService(testLogger(), store)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

	require.NoError(t, svc.Redeem(ctx, 1, "r1", "alice", "pay_1", now))
	require.NoError(t, svc.Redeem(ctx, 1, "r1", "alice", "pay_1", now))
	assert.Equal(t, 1, store.uses(1))

	require.NoError(t, svc.Redeem(ctx, 1, "r1", "bob", "pay_2", now))
	assert.Equal(t, 2, store.uses(1))
}

func TestRedeemRequiresPaymentID(t *testing.T) {
	svc := NewPromoService(testLogger(), newFakePromoStore(testPromo()))

	err := svc.Redeem(context.Background(), 1, "r1", "alice", "", time.Now())
	assert.Error(t, err)
}

func TestRedeemExhausted(t *testing.T) {
	promo := testPromo()
	promo.TotalUses = promo.MaxUses
	svc := NewPromoService(testLogger(), newFakePromoStore(promo))

	err := svc.Redeem(context.Background(), 1, "r1", "alice", "pay_1", time.Now())
	assert.ErrorIs(t, err, ErrPromoExhausted)
}
