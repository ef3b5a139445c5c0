package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pi-merchant/backend/internal/config"
	"github.com/pi-merchant/backend/internal/http/dto"
	"github.com/pi-merchant/backend/internal/http/handlers"
	"github.com/pi-merchant/backend/internal/middleware"
	"go.uber.org/zap"
)

// ErrorHandler renders errors that escape handlers as dto.ErrorResponse.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)})
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	counter middleware.Counter,
	invoiceHandler *handlers.InvoiceHandler,
	notificationHandler *handlers.NotificationHandler,
	streamHub *handlers.StreamHub,
) {
	origins := "*"
	if list := cfg.CORSOrigins(); len(list) > 0 {
		origins = strings.Join(list, ",")
	}

	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Cache-Control, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(dto.HealthResponse{Status: "ok", Connections: streamHub.Connections()})
	})

	api := app.Group("/api/v1")

	// Notifications
	api.Get("/notifications/stream", streamHub.HandleStream)
	api.Post("/notifications/test",
		middleware.RateLimitMiddleware(counter, cfg.TestNotifyPerMin, time.Minute, log),
		notificationHandler.SendTest,
	)

	// Invoices
	invoices := api.Group("/invoices")
	invoices.Post("", middleware.RateLimitMiddleware(counter, 100, time.Minute, log), invoiceHandler.CreateInvoice)
	invoices.Get("", invoiceHandler.ListInvoices)
	invoices.Get("/:id", invoiceHandler.GetInvoice)
	invoices.Post("/:id/status", invoiceHandler.SetStatus)
}
