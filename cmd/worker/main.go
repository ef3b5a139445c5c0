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
	"github.com/pi-merchant/backend/internal/repositories"
	"github.com/pi-merchant/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
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

	invoiceService := services.NewInvoiceService(
		repositories.NewInvoiceRepo(pool),
		events.NewRedisPublisher(rdb, log),
		log,
	)

	log.Info("worker started",
		zap.Duration("invoice_ttl", cfg.InvoiceTTL),
		zap.Duration("sweep_interval", cfg.ExpirySweepInterval),
	)

	interval := cfg.ExpirySweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	expiryTicker := time.NewTicker(interval)
	defer expiryTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-expiryTicker.C:
			runInvoiceExpiry(ctx, invoiceService, cfg.InvoiceTTL, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runInvoiceExpiry(ctx context.Context, invoiceService *services.InvoiceService, ttl time.Duration, log *zap.Logger) {
	n, err := invoiceService.ExpireStale(ctx, ttl)
	if err != nil {
		log.Error("failed to expire invoices", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("expired stale invoices", zap.Int("count", n))
	}
}
