package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/pi-merchant/backend/internal/config"
	"github.com/pi-merchant/backend/internal/db"
	"github.com/pi-merchant/backend/internal/events"
	apphttp "github.com/pi-merchant/backend/internal/http"
	"github.com/pi-merchant/backend/internal/http/handlers"
	"github.com/pi-merchant/backend/internal/middleware"
	"github.com/pi-merchant/backend/internal/repositories"
	"github.com/pi-merchant/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	invoiceRepo := repositories.NewInvoiceRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	invoiceService := services.NewInvoiceService(invoiceRepo, publisher, log)

	// Handlers
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService, log)
	notificationHandler := handlers.NewNotificationHandler(publisher, log)
	streamHub := handlers.NewStreamHub(subscriber, cfg.StreamHeartbeat, cfg.StreamBufferSize, log)

	if err := streamHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe stream hub", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: apphttp.ErrorHandler,
	})

	apphttp.SetupRouter(app, cfg, log, middleware.NewRedisCounter(rdb), invoiceHandler, notificationHandler, streamHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		streamHub.Close()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
