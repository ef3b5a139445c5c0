package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pi-merchant/backend/internal/events"
	"github.com/pi-merchant/backend/internal/http/dto"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewNotificationHandler(publisher events.Publisher, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{publisher: publisher, log: log, now: time.Now}
}

// SendTest publishes a payment_confirmed event for development dashboards.
func (h *NotificationHandler) SendTest(c *fiber.Ctx) error {
	merchantID := c.Query("merchant_id")
	invoiceID := c.Query("invoice_id")
	if merchantID == "" || invoiceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "merchant_id and invoice_id are required"})
	}

	fields := map[string]any{
		"invoice_id":       invoiceID,
		"merchant_id":      merchantID,
		"status":           "paid",
		"transaction_hash": "test_" + uuid.NewString(),
		"timestamp":        h.now().UTC().Format(time.RFC3339),
		"message":          "Payment confirmed successfully",
	}
	if v := c.Query("amount"); v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil || amount < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount"})
		}
		fields["amount"] = amount
	}

	ev, err := events.NewEvent(events.EventPaymentConfirmed, fields)
	if err != nil {
		return fiber.ErrInternalServerError
	}
	if err := h.publisher.Publish(c.Context(), events.StreamPayments, ev); err != nil {
		h.log.Error("failed to publish test notification", zap.String("invoice_id", invoiceID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "notification bus unavailable"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NotificationSentResponse{Status: "notification_sent"}})
}
