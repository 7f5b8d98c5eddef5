package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/neobuddy/neobuddy-api/internal/config"
	"github.com/neobuddy/neobuddy-api/internal/database"
	"github.com/neobuddy/neobuddy-api/internal/httpapi"
	"github.com/neobuddy/neobuddy-api/internal/notify"
	"github.com/neobuddy/neobuddy-api/internal/razorpay"
	"github.com/neobuddy/neobuddy-api/internal/repository"
	"github.com/neobuddy/neobuddy-api/internal/service"
	"github.com/neobuddy/neobuddy-api/internal/storage"
	"github.com/neobuddy/neobuddy-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	roomRepo := repository.NewRoomRepository(db)
	promoRepo := repository.NewPromoRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	paymentLogRepo := repository.NewPaymentLogRepository(db)

	rzpClient := razorpay.NewClient(cfg, logr)

	roomService := service.NewRoomService(cfg, logr, roomRepo)
	promoService := service.NewPromoService(logr, promoRepo)
	checkoutService := service.NewCheckoutService(cfg, logr, rzpClient, promoService)
	sessionService := service.NewSessionService(cfg, logr, sessionRepo, roomService)
	webhookService := service.NewWebhookService(logr, sessionRepo, paymentLogRepo, rzpClient)

	if cfg.ArchiveEnabled() {
		archiver, err := storage.NewArchiver(storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			Prefix:       cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage archiver: %v", err)
		}
		webhookService.SetArchiver(archiver)
	}

	if cfg.OpsAlertsEnabled() {
		notifier, err := notify.NewTelegramNotifier(cfg.OpsBotToken, cfg.OpsChatID, logr)
		if err != nil {
			log.Fatalf("telegram notifier: %v", err)
		}
		webhookService.SetNotifier(notifier)
	}

	go roomService.Run(ctx)

	server := httpapi.NewServer(cfg, logr, roomService, promoService, checkoutService, sessionService, webhookService)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}

	// Drain cached session state before the process exits so the backend
	// does not lose up to a minute of countdown progress.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sessionService.Shutdown(flushCtx)
}
