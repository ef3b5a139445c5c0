package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pi-merchant/backend/internal/events"
	"github.com/pi-merchant/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memInvoiceStore struct {
	invoices map[string]*models.Invoice
	limit    int
	afterGet func(inv *models.Invoice)
}

func newMemInvoiceStore() *memInvoiceStore {
	return &memInvoiceStore{invoices: make(map[string]*models.Invoice)}
}

func (m *memInvoiceStore) Create(ctx context.Context, inv *models.Invoice) error {
	if _, ok := m.invoices[inv.InvoiceID]; ok {
		return errors.New("duplicate invoice_id")
	}
	cp := *inv
	m.invoices[inv.InvoiceID] = &cp
	return nil
}

func (m *memInvoiceStore) GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, models.ErrInvoiceNotFound
	}
	cp := *inv
	if m.afterGet != nil {
		m.afterGet(inv)
	}
	return &cp, nil
}

func (m *memInvoiceStore) UpdateStatus(ctx context.Context, invoiceID, from, to string, updatedAt time.Time) error {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return models.ErrInvoiceNotFound
	}
	if inv.Status != from {
		return models.ErrInvoiceStatusConflict
	}
	inv.Status = to
	inv.UpdatedAt = updatedAt
	return nil
}

func (m *memInvoiceStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Invoice, error) {
	var out []models.Invoice
	for _, inv := range m.invoices {
		if inv.Status == models.InvoiceStatusPending && inv.CreatedAt.Before(cutoff) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memInvoiceStore) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]models.Invoice, error) {
	m.limit = limit
	var out []models.Invoice
	for _, inv := range m.invoices {
		if inv.MerchantID == merchantID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func TestInvoiceService_Create(t *testing.T) {
	svc := NewInvoiceService(newMemInvoiceStore(), nil, zap.NewNop())

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{MerchantID: "m-1", AmountPi: "3.1415926"})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPending, inv.Status)
	assert.Regexp(t, `^INV-[0-9A-F]{8}$`, inv.InvoiceID)

	inv, err = svc.CreateInvoice(context.Background(), CreateInvoiceInput{InvoiceID: "INV-1", MerchantID: "m-1", AmountPi: "1"})
	require.NoError(t, err)
	assert.Equal(t, "INV-1", inv.InvoiceID)
}

func TestInvoiceService_CreateValidation(t *testing.T) {
	svc := NewInvoiceService(newMemInvoiceStore(), nil, zap.NewNop())

	tests := []struct {
		name string
		in   CreateInvoiceInput
	}{
		{"no merchant", CreateInvoiceInput{AmountPi: "1"}},
		{"zero amount", CreateInvoiceInput{MerchantID: "m", AmountPi: "0"}},
		{"negative amount", CreateInvoiceInput{MerchantID: "m", AmountPi: "-2"}},
		{"not a number", CreateInvoiceInput{MerchantID: "m", AmountPi: "pi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateInvoice(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrInvalidInvoice)
		})
	}
}

func TestInvoiceService_SetStatus(t *testing.T) {
	store := newMemInvoiceStore()
	svc := NewInvoiceService(store, nil, zap.NewNop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceInput{InvoiceID: "INV-1", MerchantID: "m", AmountPi: "1"})
	require.NoError(t, err)

	inv, err := svc.SetStatus(context.Background(), "INV-1", models.InvoiceStatusExpired)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusExpired, inv.Status)
	assert.Equal(t, now, store.invoices["INV-1"].UpdatedAt)

	_, err = svc.SetStatus(context.Background(), "INV-1", models.InvoiceStatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidInvoice)

	_, err = svc.SetStatus(context.Background(), "INV-1", models.InvoiceStatusPaid)
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), "INV-404", models.InvoiceStatusPaid)
	assert.ErrorIs(t, err, models.ErrInvoiceNotFound)
}

func TestInvoiceService_ListClampsLimit(t *testing.T) {
	store := newMemInvoiceStore()
	svc := NewInvoiceService(store, nil, zap.NewNop())

	_, err := svc.ListInvoices(context.Background(), "", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidInvoice)

	_, err = svc.ListInvoices(context.Background(), "m", 1000, -1)
	require.NoError(t, err)
	assert.Equal(t, 20, store.limit)
}

func TestInvoiceService_ExpireStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newMemInvoiceStore()
	store.invoices["old"] = &models.Invoice{InvoiceID: "old", MerchantID: "m-1", Status: models.InvoiceStatusPending, CreatedAt: now.Add(-2 * time.Hour)}
	store.invoices["fresh"] = &models.Invoice{InvoiceID: "fresh", MerchantID: "m-1", Status: models.InvoiceStatusPending, CreatedAt: now.Add(-time.Minute)}
	store.invoices["paid"] = &models.Invoice{InvoiceID: "paid", MerchantID: "m-1", Status: models.InvoiceStatusPaid, CreatedAt: now.Add(-3 * time.Hour)}

	pub := &recordingPublisher{}
	svc := NewInvoiceService(store, pub, zap.NewNop())
	svc.now = func() time.Time { return now }

	n, err := svc.ExpireStale(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, models.InvoiceStatusExpired, store.invoices["old"].Status)
	assert.Equal(t, models.InvoiceStatusPending, store.invoices["fresh"].Status)
	assert.Equal(t, models.InvoiceStatusPaid, store.invoices["paid"].Status)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.StreamPayments, pub.stream)
	assert.Equal(t, events.EventInvoiceExpired, pub.events[0].Type)
	assert.Contains(t, string(pub.events[0].Payload), `"merchant_id":"m-1"`)
}

func TestInvoiceService_ExpireStaleSkipsInvoicePaidMeanwhile(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newMemInvoiceStore()
	store.invoices["INV-1"] = &models.Invoice{InvoiceID: "INV-1", MerchantID: "m-1", Status: models.InvoiceStatusPending, CreatedAt: now.Add(-2 * time.Hour)}
	store.afterGet = func(inv *models.Invoice) { inv.Status = models.InvoiceStatusPaid }

	pub := &recordingPublisher{}
	svc := NewInvoiceService(store, pub, zap.NewNop())
	svc.now = func() time.Time { return now }

	n, err := svc.ExpireStale(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Zero(t, n)
	assert.Equal(t, models.InvoiceStatusPaid, store.invoices["INV-1"].Status)
	assert.Empty(t, pub.events)
}

func TestInvoiceService_SetStatusConflict(t *testing.T) {
	store := newMemInvoiceStore()
	store.invoices["INV-1"] = &models.Invoice{InvoiceID: "INV-1", MerchantID: "m-1", Status: models.InvoiceStatusPending}
	store.afterGet = func(inv *models.Invoice) { inv.Status = models.InvoiceStatusCancelled }
	svc := NewInvoiceService(store, nil, zap.NewNop())

	_, err := svc.SetStatus(context.Background(), "INV-1", models.InvoiceStatusPaid)

	assert.ErrorIs(t, err, models.ErrInvoiceStatusConflict)
	assert.Equal(t, models.InvoiceStatusCancelled, store.invoices["INV-1"].Status)
}
