package models

import "time"

// Room is a time-boxed, capacity-limited session users can buy access to.
// session_date plus the start/end wall-clock times define the single daily
// window in which the room is bookable.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	URL          string    `json:"url"`
	PriceINR     int       `json:"price_inr"`
	CurrentUsers int       `json:"current_users"`
	MaxUsers     int       `json:"max_users"`
	SessionDate  string    `json:"session_date"`       // YYYY-MM-DD
	StartTime    string    `json:"session_start_time"` // HH:MM:SS
	EndTime      string    `json:"session_end_time"`   // HH:MM:SS
	CreatedAt    time.Time `json:"created_at"`
}

type PromoCode struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	DiscountAmount int        `json:"discount_amount"`
	MaxUses        int        `json:"max_uses"`
	TotalUses      int        `json:"total_uses"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Expired reports whether the code's expiry, if any, lies in the past.
func (p *PromoCode) Expired(now time.Time) bool {
	return p.ExpiryDate != nil && p.ExpiryDate.Before(now)
}

// Exhausted reports whether a capped code has no uses left. MaxUses of zero
// means unlimited.
func (p *PromoCode) Exhausted() bool {
	return p.MaxUses > 0 && p.TotalUses >= p.MaxUses
}

// Referral links a promo code to the payment that redeemed it. At most one
// referral exists per payment id; the unique key on payment_id is the
// persisted idempotency guard for usage counting.
type Referral struct {
	ID          int64     `json:"id"`
	PromoCodeID int64     `json:"promo_code_id"`
	RoomID      string    `json:"room_id"`
	Username    string    `json:"username"`
	PaymentID   string    `json:"payment_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserSession is a per-user per-room access grant. RewardsLeft counts down in
// minutes of access remaining; the payment_* fields are owned by the webhook
// reconciler and the verification path, never by the countdown.
type UserSession struct {
	ID              int64      `json:"id"`
	Username        string     `json:"username"`
	RoomID          string     `json:"room_id"`
	RewardsLeft     int        `json:"rewards_left"`
	DeviceID        string     `json:"device_id"`
	LastUpdated     time.Time  `json:"last_updated"`
	PromoCodeUsed   string     `json:"promo_code_used,omitempty"`
	PaymentID       string     `json:"payment_id,omitempty"`
	PaymentVerified bool       `json:"payment_verified"`
	PaymentFailed   bool       `json:"payment_failed"`
	FailedReason    string     `json:"payment_failed_reason,omitempty"`
	PaymentRefunded bool       `json:"payment_refunded"`
	RefundAmount    float64    `json:"refund_amount,omitempty"`
	RefundID        string     `json:"refund_id,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Expired reports whether the grant has run out of reward minutes.
func (s *UserSession) Expired() bool {
	return s.RewardsLeft <= 0
}

// PaymentLog is an append-only audit entry per received webhook event. It is
// write-only from this service's perspective.
type PaymentLog struct {
	ID          int64     `json:"id"`
	PaymentID   string    `json:"payment_id"`
	Event       string    `json:"event"`
	Payload     string    `json:"payload"`
	ProcessedAt time.Time `json:"processed_at"`
}
