package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/config"
)

// Client talks to the Razorpay REST API with basic auth. It also owns the
// HMAC signature checks so the secret never leaves this package.
type Client struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	log           *slog.Logger
}

type Order struct {
	ID       string         `json:"id"`
	Entity   string         `json:"entity"`
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	Receipt  string         `json:"receipt"`
	Status   string         `json:"status"`
	Notes    map[string]any `json:"notes"`
}

type Payment struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	OrderID  string `json:"order_id"`
	Captured bool   `json:"captured"`
}

// IsCaptured reports whether the processor considers the payment final.
func (p *Payment) IsCaptured() bool {
	return p.Status == "captured" && p.Captured
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		keyID:         cfg.RazorpayKeyID,
		keySecret:     cfg.RazorpayKeySecret,
		webhookSecret: cfg.RazorpayWebhookSecret,
		baseURL:       strings.TrimRight(cfg.RazorpayBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// CreateOrder creates a capture-on-payment order. The receipt must be the
// server-generated token, never a client-supplied value.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (*Order, error) {
	payload := map[string]any{
		"amount":          amount,
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new order request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	var order Order
	if err := c.do(req, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, fmt.Errorf("invalid order response (missing id)")
	}
	return &order, nil
}

// FetchPayment reads the payment's current state from the processor. Callers
// must trust this, not any client-supplied "I paid" flag.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("new payment request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")

	var payment Payment
	if err := c.do(req, &payment); err != nil {
		return nil, err
	}
	if payment.ID == "" {
		return nil, fmt.Errorf("invalid payment response (missing id)")
	}
	return &payment, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read razorpay response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		reason := "unknown error"
		if json.Unmarshal(rawBody, &apiErr) == nil && apiErr.Error.Description != "" {
			reason = apiErr.Error.Description
		}
		if c.log != nil {
			c.log.Error("razorpay API error", "status", resp.StatusCode, "url", req.URL.String(), "body", truncateBody(rawBody))
		}
		return &APIError{Status: resp.StatusCode, Reason: reason}
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode razorpay response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

// APIError carries the processor's status and human-readable reason through
// to the HTTP layer.
type APIError struct {
	Status int
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay error: status=%d reason=%s", e.Status, e.Reason)
}

// VerifyPaymentSignature checks the checkout callback signature: HMAC-SHA256
// over "order_id|payment_id" with the key secret, constant-time compare.
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return verifyHMAC([]byte(orderID+"|"+paymentID), signature, c.keySecret)
}

// VerifyWebhookSignature checks the webhook signature: HMAC-SHA256 over the
// raw request body with the webhook secret, constant-time compare.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	return verifyHMAC(body, signature, c.webhookSecret)
}

func verifyHMAC(message []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
