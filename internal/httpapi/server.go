package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neobuddy/neobuddy-api/internal/config"
	"github.com/neobuddy/neobuddy-api/internal/razorpay"
	"github.com/neobuddy/neobuddy-api/internal/service"
)

const signatureHeader = "X-Razorpay-Signature"

type Server struct {
	cfg      config.Config
	log      *slog.Logger
	rooms    *service.RoomService
	promos   *service.PromoService
	checkout *service.CheckoutService
	sessions *service.SessionService
	webhooks *service.WebhookService
	router   *chi.Mux
	limiter  *rateLimiter
	baseCtx  context.Context
}

func NewServer(cfg config.Config, log *slog.Logger, rooms *service.RoomService, promos *service.PromoService, checkout *service.CheckoutService, sessions *service.SessionService, webhooks *service.WebhookService) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log,
		rooms:    rooms,
		promos:   promos,
		checkout: checkout,
		sessions: sessions,
		webhooks: webhooks,
		limiter:  newRateLimiter(5, 30),
		baseCtx:  context.Background(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(monitorMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.With(s.metricsAuthMiddleware).Get("/metrics", promhttp.Handler().ServeHTTP)

	// The webhook route stays outside the rate limiter; the processor
	// retries deliveries and a 429 would count as a failed attempt.
	r.Post("/webhooks/razorpay", s.handleWebhook)

	r.Group(func(public chi.Router) {
		public.Use(s.limiter.middleware)
		public.Use(middleware.Timeout(cfg.RequestTimeout))
		public.Route("/api/v1", func(r chi.Router) {
			r.Get("/rooms", s.handleListRooms)
			r.Get("/rooms/{id}", s.handleGetRoom)
			r.Post("/promo/validate", s.handleValidatePromo)
			r.Post("/payments/order", s.handleCreateOrder)
			r.Post("/payments/verify", s.handleVerifyPayment)
			r.Post("/payments/verify-signature", s.handleVerifySignature)
			r.Post("/sessions", s.handleAuthenticate)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", s.handleReadSession)
				r.Post("/tick", s.handleTickSession)
				r.Post("/flush", s.handleFlushSession)
			})
		})
	})

	s.router = r
	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx

	done := make(chan struct{})
	defer close(done)
	go s.limiter.cleanup(done)

	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.rooms.Visible(r.Context(), time.Now())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"rooms":   rooms,
	})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"room":    room,
	})
}

type validatePromoRequest struct {
	Code   string `json:"code"`
	RoomID string `json:"room_id"`
}

func (s *Server) handleValidatePromo(w http.ResponseWriter, r *http.Request) {
	var req validatePromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, errors.New("invalid json"))
		return
	}
	if strings.TrimSpace(req.Code) == "" || req.RoomID == "" {
		s.badRequest(w, errors.New("code and room_id required"))
		return
	}

	room, err := s.rooms.Get(r.Context(), req.RoomID)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	result, err := s.promos.Validate(r.Context(), req.Code, room, time.Now())
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"promo_id":         result.Promo.ID,
		"code":             result.Promo.Code,
		"discount_amount":  result.Promo.DiscountAmount,
		"discounted_price": result.DiscountedPrice,
	})
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Notes    map[string]string `json:"notes"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, errors.New("invalid json"))
		return
	}
	if req.Amount <= 0 {
		s.badRequest(w, errors.New("amount must be positive"))
		return
	}
	if req.Currency == "" {
		req.Currency = s.cfg.PaymentCurrency
	}

	order, err := s.checkout.CreateOrder(r.Context(), req.Amount, req.Currency, req.Notes)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"order_id": order.ID,
		"amount":   order.Amount,
		"currency": order.Currency,
		"receipt":  order.Receipt,
	})
}

type verifyPaymentRequest struct {
	PaymentID string `json:"payment_id"`

	// Optional promo finalization, applied only when the payment verifies.
	PromoID  int64  `json:"promo_id,omitempty"`
	RoomID   string `json:"room_id,omitempty"`
	Username string `json:"username,omitempty"`
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, errors.New("invalid json"))
		return
	}
	if req.PaymentID == "" {
		s.badRequest(w, errors.New("payment_id required"))
		return
	}

	result, err := s.checkout.VerifyPayment(r.Context(), req.PaymentID)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	if result.Verified && req.PromoID != 0 {
		if err := s.checkout.FinalizePromo(r.Context(), req.PromoID, req.RoomID, req.Username, req.PaymentID); err != nil {
			s.serviceError(w, err)
			return
		}
	}

	resp := map[string]any{
		"success":    true,
		"verified":   result.Verified,
		"payment_id": result.PaymentID,
		"status":     result.Status,
		"amount":     result.Amount,
		"currency":   result.Currency,
	}
	if !result.Verified {
		resp["reason"] = result.Reason
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type verifySignatureRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (s *Server) handleVerifySignature(w http.ResponseWriter, r *http.Request) {
	var req verifySignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, errors.New("invalid json"))
		return
	}
	if req.OrderID == "" || req.PaymentID == "" {
		s.badRequest(w, errors.New("order_id and payment_id required"))
		return
	}

	verified := s.checkout.VerifySignature(req.OrderID, req.PaymentID, req.Signature)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"verified": verified,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		webhookEventsTotal.WithLabelValues("read_error").Inc()
		s.badRequest(w, errors.New("read body error"))
		return
	}

	err = s.webhooks.HandleEvent(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		webhookEventsTotal.WithLabelValues("ok").Inc()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	case errors.Is(err, service.ErrBadSignature):
		webhookEventsTotal.WithLabelValues("bad_signature").Inc()
		http.Error(w, "invalid signature", http.StatusUnauthorized)
	case errors.Is(err, service.ErrBadPayload):
		webhookEventsTotal.WithLabelValues("bad_payload").Inc()
		s.badRequest(w, err)
	default:
		webhookEventsTotal.WithLabelValues("error").Inc()
		s.internalError(w, err)
	}
}

type authenticateRequest struct {
	Username  string `json:"username"`
	RoomID    string `json:"room_id"`
	DeviceID  string `json:"device_id"`
	PaymentID string `json:"payment_id,omitempty"`
	PromoCode string `json:"promo_code,omitempty"`
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, errors.New("invalid json"))
		return
	}
	if req.Username == "" || req.RoomID == "" || req.DeviceID == "" {
		s.badRequest(w, errors.New("username, room_id and device_id required"))
		return
	}

	session, err := s.sessions.Authenticate(r.Context(), service.AuthenticateInput{
		Username:  req.Username,
		RoomID:    req.RoomID,
		DeviceID:  req.DeviceID,
		PaymentID: req.PaymentID,
		PromoCode: req.PromoCode,
	}, time.Now())
	if err != nil {
		s.serviceError(w, err)
		return
	}

	// The countdown outlives this request, so it runs off the server's
	// lifetime context rather than the request context.
	s.sessions.StartCountdown(s.baseCtx, session.ID)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": session,
	})
}

func (s *Server) handleReadSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, errors.New("invalid id"))
		return
	}

	session, err := s.sessions.Read(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSessionExpired) && session != nil {
			s.writeJSON(w, http.StatusGone, map[string]any{
				"success": false,
				"error":   err.Error(),
				"session": session,
			})
			return
		}
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": session,
	})
}

func (s *Server) handleTickSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, errors.New("invalid id"))
		return
	}

	session, err := s.sessions.Tick(r.Context(), id, time.Now())
	if err != nil {
		if errors.Is(err, service.ErrSessionExpired) && session != nil {
			s.writeJSON(w, http.StatusGone, map[string]any{
				"success": false,
				"error":   err.Error(),
				"session": session,
			})
			return
		}
		s.serviceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": session,
	})
}

func (s *Server) handleFlushSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, errors.New("invalid id"))
		return
	}

	if err := s.sessions.Teardown(r.Context(), id); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+signatureHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.cfg.MetricsUsername || pass != s.cfg.MetricsPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serviceError maps service sentinels onto HTTP statuses. Anything
// unrecognized is treated as internal.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	var apiErr *razorpay.APIError

	switch {
	case errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, service.ErrPromoInvalid),
		errors.Is(err, service.ErrPromoInactive),
		errors.Is(err, service.ErrPromoExpired),
		errors.Is(err, service.ErrPromoExhausted):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrRoomFull),
		errors.Is(err, service.ErrDeviceInUse):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrSessionExpired):
		s.writeError(w, http.StatusGone, err)
	case errors.As(err, &apiErr):
		s.log.Error("payment processor error", "status", apiErr.Status, "reason", apiErr.Reason)
		s.writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   "payment processor error",
			"reason":  apiErr.Reason,
		})
	default:
		s.internalError(w, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeError(w, http.StatusBadRequest, err)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
