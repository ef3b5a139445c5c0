package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pi-merchant/backend/internal/config"
	"github.com/pi-merchant/backend/internal/db"
	"github.com/pi-merchant/backend/internal/events"
	"github.com/pi-merchant/backend/internal/notify"
	"github.com/pi-merchant/backend/internal/repositories"
	"github.com/pi-merchant/backend/internal/services"
	"go.uber.org/zap"
)

// Dashboard notifier: keeps one merchant subscribed to the payment stream,
// marks confirmed invoices paid and tells the dashboard to refresh.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)
	if cfg.MerchantID == "" {
		log.Fatal("MERCHANT_ID is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	invoiceRepo := repositories.NewInvoiceRepo(pool)
	refresher := services.NewDashboardRefresher(events.NewRedisPublisher(rdb, log), cfg.MerchantID, log)

	targets := []services.PaymentNotifier{services.NewLogNotifier(log)}
	if cfg.BotInternalURL != "" && cfg.NotifyTelegramUserID != 0 {
		targets = append(targets, services.NewBotNotifier(cfg.BotInternalURL, cfg.NotifyTelegramUserID, log))
	}
	// delivery runs off the stream reader so a slow bot cannot stall it
	notifier := services.NewQueuedNotifier(services.NewFanoutNotifier(targets...), 64, 20*time.Second, log)

	closed := make(chan struct{}, 1)
	client, err := notify.NewClient(
		notify.Config{
			Endpoint:   cfg.StreamURL,
			MerchantID: cfg.MerchantID,
			Policy: notify.Policy{
				BaseDelay:   cfg.ReconnectBaseDelay,
				MaxAttempts: cfg.MaxReconnectAttempts,
			},
		},
		invoiceRepo, refresher, notifier, log,
		notify.WithStateListener(func(s notify.State) {
			log.Debug("notification stream state", zap.Stringer("state", s))
			if s == notify.StateClosed {
				select {
				case closed <- struct{}{}:
				default:
				}
			}
		}),
	)
	if err != nil {
		log.Fatal("invalid notifier configuration", zap.Error(err))
	}

	client.Connect(ctx)
	log.Info("dashboard-notify started", zap.String("merchant_id", cfg.MerchantID), zap.String("stream_url", cfg.StreamURL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down dashboard-notify")
	case <-closed:
		log.Error("notification stream closed, exiting")
	}

	client.Disconnect()
	notifier.Close()
	cancel()
	log.Info("dashboard-notify stopped", zap.Stringer("state", client.State()))
}
