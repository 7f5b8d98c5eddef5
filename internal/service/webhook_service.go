package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/models"
)

var ErrBadSignature = errors.New("invalid webhook signature")
var ErrBadPayload = errors.New("invalid webhook payload")

// SessionReconciler is the slice of the session store the webhook path
// touches: payment-status fields only, never rewards_left.
type SessionReconciler interface {
	MarkPaymentCaptured(ctx context.Context, paymentID string) (int64, error)
	MarkPaymentFailed(ctx context.Context, paymentID, reason string) (int64, error)
	MarkPaymentRefunded(ctx context.Context, paymentID string, amount float64, refundID string, at time.Time) (int64, error)
}

// PaymentLogAppender records the audit trail entry for each authenticated
// event.
type PaymentLogAppender interface {
	Append(ctx context.Context, log *models.PaymentLog) error
}

// WebhookVerifier authenticates the raw body against the header signature.
type WebhookVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) bool
}

// PayloadArchiver stores the raw event body off-box for audit. Failures are
// tolerated.
type PayloadArchiver interface {
	Archive(ctx context.Context, paymentID, event string, body []byte) (string, error)
}

// OpsNotifier pushes a human-readable alert for events that usually need
// operator attention.
type OpsNotifier interface {
	Alert(message string)
}

// WebhookService reconciles processor-pushed events with the session records.
// It runs independently of the client's synchronous verification call; both
// paths perform idempotent overwrites keyed by payment id, so either ordering
// converges to the same state.
type WebhookService struct {
	log      *slog.Logger
	sessions SessionReconciler
	audit    PaymentLogAppender
	verifier WebhookVerifier
	archiver PayloadArchiver
	notifier OpsNotifier
}

func NewWebhookService(log *slog.Logger, sessions SessionReconciler, audit PaymentLogAppender, verifier WebhookVerifier) *WebhookService {
	return &WebhookService{
		log:      log,
		sessions: sessions,
		audit:    audit,
		verifier: verifier,
	}
}

// SetArchiver enables raw payload archival.
func (s *WebhookService) SetArchiver(archiver PayloadArchiver) {
	s.archiver = archiver
}

// SetNotifier enables ops alerts for failed and refunded payments.
func (s *WebhookService) SetNotifier(notifier OpsNotifier) {
	s.notifier = notifier
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				Amount           int64  `json:"amount"`
				Status           string `json:"status"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				Amount    int64  `json:"amount"`
				PaymentID string `json:"payment_id"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// HandleEvent authenticates, audits and applies one webhook delivery.
// Signature verification happens before anything else: an unauthenticated
// request is rejected without parsing, without an audit row, without any
// session mutation. Re-delivery of an authenticated event converges to the
// same field values because every handler is a pure overwrite.
func (s *WebhookService) HandleEvent(ctx context.Context, body []byte, signature string) error {
	if !s.verifier.VerifyWebhookSignature(body, signature) {
		return ErrBadSignature
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if envelope.Event == "" {
		return fmt.Errorf("%w: missing event name", ErrBadPayload)
	}

	paymentID := envelope.Payload.Payment.Entity.ID
	if paymentID == "" {
		paymentID = envelope.Payload.Refund.Entity.PaymentID
	}
	if paymentID == "" {
		return fmt.Errorf("%w: missing payment id", ErrBadPayload)
	}

	now := time.Now().UTC()
	if err := s.audit.Append(ctx, &models.PaymentLog{
		PaymentID:   paymentID,
		Event:       envelope.Event,
		Payload:     string(body),
		ProcessedAt: now,
	}); err != nil {
		return fmt.Errorf("append payment log: %w", err)
	}

	s.archive(ctx, paymentID, envelope.Event, body)

	switch envelope.Event {
	case "payment.captured":
		updated, err := s.sessions.MarkPaymentCaptured(ctx, paymentID)
		if err != nil {
			return err
		}
		s.log.Info("payment captured", "payment_id", paymentID, "sessions_updated", updated)

	case "payment.failed":
		reason := envelope.Payload.Payment.Entity.ErrorDescription
		if reason == "" {
			reason = "Payment failed"
		}
		updated, err := s.sessions.MarkPaymentFailed(ctx, paymentID, reason)
		if err != nil {
			return err
		}
		s.log.Info("payment failed", "payment_id", paymentID, "reason", reason, "sessions_updated", updated)
		s.alert(fmt.Sprintf("Payment %s failed: %s", paymentID, reason))

	case "payment.refunded", "refund.created":
		refund := envelope.Payload.Refund.Entity
		// Processor amounts arrive in minor currency units.
		amount := float64(refund.Amount) / 100
		updated, err := s.sessions.MarkPaymentRefunded(ctx, paymentID, amount, refund.ID, now)
		if err != nil {
			return err
		}
		s.log.Info("payment refunded", "payment_id", paymentID, "refund_id", refund.ID, "amount", amount, "sessions_updated", updated)
		s.alert(fmt.Sprintf("Payment %s refunded: %.2f (refund %s)", paymentID, amount, refund.ID))

	default:
		// Unknown events are audited above and otherwise ignored, so new
		// processor event types never break delivery.
		s.log.Info("unhandled webhook event", "event", envelope.Event, "payment_id", paymentID)
	}

	return nil
}

func (s *WebhookService) archive(ctx context.Context, paymentID, event string, body []byte) {
	if s.archiver == nil {
		return
	}
	key, err := s.archiver.Archive(ctx, paymentID, event, body)
	if err != nil {
		s.log.Error("archive webhook payload", "payment_id", paymentID, "event", event, "err", err)
		return
	}
	s.log.Info("archived webhook payload", "payment_id", paymentID, "event", event, "key", key)
}

func (s *WebhookService) alert(message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Alert(message)
}
