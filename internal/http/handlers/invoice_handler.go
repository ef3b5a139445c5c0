package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/pi-merchant/backend/internal/http/dto"
	"github.com/pi-merchant/backend/internal/models"
	"github.com/pi-merchant/backend/internal/services"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	invoiceService *services.InvoiceService
	log            *zap.Logger
}

func NewInvoiceHandler(invoiceService *services.InvoiceService, log *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService, log: log}
}

func (h *InvoiceHandler) CreateInvoice(c *fiber.Ctx) error {
	var req dto.CreateInvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	inv, err := h.invoiceService.CreateInvoice(c.Context(), services.CreateInvoiceInput{
		InvoiceID:   req.InvoiceID,
		MerchantID:  req.MerchantID,
		AmountPi:    req.AmountPi,
		Description: req.Description,
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: inv})
}

func (h *InvoiceHandler) GetInvoice(c *fiber.Ctx) error {
	inv, err := h.invoiceService.GetInvoice(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: inv})
}

func (h *InvoiceHandler) ListInvoices(c *fiber.Ctx) error {
	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	invoices, err := h.invoiceService.ListInvoices(c.Context(), c.Query("merchant_id"), limit, offset)
	if err != nil {
		return h.fail(c, err)
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: invoices})
}

func (h *InvoiceHandler) SetStatus(c *fiber.Ctx) error {
	var req dto.SetInvoiceStatusRequest
	if err := c.BodyParser(&req); err != nil || req.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "status is required"})
	}

	inv, err := h.invoiceService.SetStatus(c.Context(), c.Params("id"), req.Status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: inv})
}

func (h *InvoiceHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrInvoiceNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "invoice not found"})
	case errors.Is(err, models.ErrInvoiceStatusConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "invoice status changed, retry"})
	case errors.Is(err, services.ErrInvalidInvoice):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("invoice request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
}
