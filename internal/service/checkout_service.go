package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neobuddy/neobuddy-api/internal/config"
	"github.com/neobuddy/neobuddy-api/internal/razorpay"
)

// PaymentProcessor is the slice of the Razorpay client the checkout path
// uses.
type PaymentProcessor interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*razorpay.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
}

// CheckoutService creates processor orders and confirms captures. It never
// marks a session valid itself; it only hands verified payment ids onward.
type CheckoutService struct {
	cfg       config.Config
	log       *slog.Logger
	processor PaymentProcessor
	promos    *PromoService
}

func NewCheckoutService(cfg config.Config, log *slog.Logger, processor PaymentProcessor, promos *PromoService) *CheckoutService {
	return &CheckoutService{
		cfg:       cfg,
		log:       log,
		processor: processor,
		promos:    promos,
	}
}

// NewReceipt generates the short unique order receipt. Always server-side;
// any client-supplied receipt is discarded.
func NewReceipt(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ts) > 10 {
		ts = ts[len(ts)-10:]
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:3]
	return "rcpt_" + ts + "_" + random
}

// CreateOrder opens a processor order for the given amount in minor currency
// units. No local state is persisted; losing the order id is terminal for
// this purchase attempt and the user retries from the start.
func (s *CheckoutService) CreateOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (*razorpay.Order, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if currency == "" {
		currency = s.cfg.PaymentCurrency
	}

	receipt := NewReceipt(time.Now())
	order, err := s.processor.CreateOrder(ctx, amount, currency, receipt, notes)
	if err != nil {
		return nil, err
	}

	s.log.Info("created payment order", "order_id", order.ID, "amount", order.Amount, "currency", order.Currency, "receipt", order.Receipt)
	return order, nil
}

// VerificationResult reports the processor's view of a payment.
type VerificationResult struct {
	Verified  bool
	PaymentID string
	Status    string
	Amount    int64
	Currency  string
	Reason    string
}

// VerifyPayment asks the processor whether a payment was actually captured.
// Only verified==true authorizes promo redemption and session creation
// downstream. Safe to call repeatedly for the same payment id; it reads
// state and writes nothing.
func (s *CheckoutService) VerifyPayment(ctx context.Context, paymentID string) (*VerificationResult, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	payment, err := s.processor.FetchPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Verified:  payment.IsCaptured(),
		PaymentID: payment.ID,
		Status:    payment.Status,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	}
	if !result.Verified {
		if payment.Status == "authorized" {
			result.Reason = "Payment is authorized but not captured"
		} else {
			result.Reason = "Payment status is " + payment.Status
		}
	}
	return result, nil
}

// FinalizePromo burns the promo use for a verified payment. Callers invoke it
// only after VerifyPayment reported captured; the redeem step carries its own
// per-payment idempotency guard, so retries are harmless.
func (s *CheckoutService) FinalizePromo(ctx context.Context, promoID int64, roomID, username, paymentID string) error {
	return s.promos.Redeem(ctx, promoID, roomID, username, paymentID, time.Now())
}

// VerifySignature checks the checkout callback signature against the order
// and payment ids.
func (s *CheckoutService) VerifySignature(orderID, paymentID, signature string) bool {
	return s.processor.VerifyPaymentSignature(orderID, paymentID, signature)
}
