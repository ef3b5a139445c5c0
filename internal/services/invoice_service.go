package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pi-merchant/backend/internal/events"
	"github.com/pi-merchant/backend/internal/models"
	"go.uber.org/zap"
)

var ErrInvalidInvoice = errors.New("invalid invoice")

// InvoiceStore is the persistence the invoice service needs.
type InvoiceStore interface {
	Create(ctx context.Context, inv *models.Invoice) error
	GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error)
	UpdateStatus(ctx context.Context, invoiceID, from, to string, updatedAt time.Time) error
	ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]models.Invoice, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Invoice, error)
}

const expireBatchSize = 100

type InvoiceService struct {
	store     InvoiceStore
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// NewInvoiceService builds the service. publisher may be nil when nothing
// listens for invoice lifecycle events.
func NewInvoiceService(store InvoiceStore, publisher events.Publisher, log *zap.Logger) *InvoiceService {
	return &InvoiceService{store: store, publisher: publisher, log: log, now: time.Now}
}

type CreateInvoiceInput struct {
	InvoiceID   string
	MerchantID  string
	AmountPi    string
	Description *string
}

func (s *InvoiceService) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*models.Invoice, error) {
	if strings.TrimSpace(in.MerchantID) == "" {
		return nil, fmt.Errorf("%w: merchant_id is required", ErrInvalidInvoice)
	}
	amount, err := strconv.ParseFloat(in.AmountPi, 64)
	if err != nil || amount <= 0 {
		return nil, fmt.Errorf("%w: amount_pi must be a positive number", ErrInvalidInvoice)
	}

	invoiceID := strings.TrimSpace(in.InvoiceID)
	if invoiceID == "" {
		invoiceID = "INV-" + strings.ToUpper(uuid.NewString()[:8])
	}

	inv := &models.Invoice{
		InvoiceID:   invoiceID,
		MerchantID:  in.MerchantID,
		AmountPi:    in.AmountPi,
		Description: in.Description,
		Status:      models.InvoiceStatusPending,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", inv.InvoiceID),
		zap.String("merchant_id", inv.MerchantID),
		zap.String("amount_pi", inv.AmountPi),
	)
	return inv, nil
}

func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	return s.store.GetByID(ctx, invoiceID)
}

func (s *InvoiceService) ListInvoices(ctx context.Context, merchantID string, limit, offset int) ([]models.Invoice, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchant_id is required", ErrInvalidInvoice)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByMerchant(ctx, merchantID, limit, offset)
}

// SetStatus moves an invoice to a new status if the transition is allowed.
func (s *InvoiceService) SetStatus(ctx context.Context, invoiceID, status string) (*models.Invoice, error) {
	inv, err := s.store.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !models.IsValidInvoiceTransition(inv.Status, status) {
		return nil, fmt.Errorf("%w: invalid transition from %s to %s", ErrInvalidInvoice, inv.Status, status)
	}

	now := s.now()
	if err := s.store.UpdateStatus(ctx, invoiceID, inv.Status, status, now); err != nil {
		return nil, fmt.Errorf("update invoice status: %w", err)
	}

	s.log.Info("invoice status changed",
		zap.String("invoice_id", invoiceID),
		zap.String("from", inv.Status),
		zap.String("to", status),
	)
	inv.Status = status
	inv.UpdatedAt = now
	return inv, nil
}

// ExpireStale moves pending invoices older than ttl to expired and announces
// each one on the payment stream. It returns how many were expired.
func (s *InvoiceService) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := s.store.ListStalePending(ctx, s.now().Add(-ttl), expireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale invoices: %w", err)
	}

	expired := 0
	for _, inv := range stale {
		_, err := s.SetStatus(ctx, inv.InvoiceID, models.InvoiceStatusExpired)
		if errors.Is(err, models.ErrInvoiceStatusConflict) || errors.Is(err, ErrInvalidInvoice) {
			s.log.Info("invoice changed before expiry, skipped", zap.String("invoice_id", inv.InvoiceID))
			continue
		}
		if err != nil {
			s.log.Error("failed to expire invoice", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
			continue
		}
		expired++
		s.announceExpired(ctx, inv)
	}
	return expired, nil
}

func (s *InvoiceService) announceExpired(ctx context.Context, inv models.Invoice) {
	if s.publisher == nil {
		return
	}
	ev, err := events.NewEvent(events.EventInvoiceExpired, map[string]any{
		"invoice_id":  inv.InvoiceID,
		"merchant_id": inv.MerchantID,
		"status":      models.InvoiceStatusExpired,
		"timestamp":   s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.StreamPayments, ev); err != nil {
		s.log.Warn("failed to publish invoice expiry", zap.String("invoice_id", inv.InvoiceID), zap.Error(err))
	}
}
