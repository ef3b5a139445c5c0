package notify

import (
	"context"
	"errors"
	"time"

	"github.com/pi-merchant/backend/internal/events"
	"github.com/pi-merchant/backend/internal/models"
	"go.uber.org/zap"
)

// notifyTimeout bounds how long a notifier may hold the stream reader.
const notifyTimeout = 5 * time.Second

// handlePaymentConfirmed marks the invoice paid and, only when the store
// accepted the change, refreshes the dashboard and notifies the merchant.
// Store failures are logged and never retried: the event counts as
// delivered once routed.
func (c *Client) handlePaymentConfirmed(ctx context.Context, ev events.Event) error {
	p, err := events.DecodePaymentConfirmed(ev)
	if err != nil {
		return err
	}
	log := c.log.With(zap.String("invoice_id", p.InvoiceID))

	if p.MerchantID != "" && p.MerchantID != c.merchantID {
		log.Warn("payment for another merchant ignored", zap.String("event_merchant_id", p.MerchantID))
		return nil
	}

	amount, err := p.AmountOrZero()
	if err != nil {
		log.Warn("unreadable payment amount, showing zero", zap.String("amount", p.Amount.String()), zap.Error(err))
		amount = 0
	}

	inv, err := c.store.GetByID(ctx, p.InvoiceID)
	if err != nil {
		log.Error("failed to find invoice for payment", zap.Error(err))
		return nil
	}

	if inv.Status == models.InvoiceStatusPaid {
		log.Info("duplicate payment confirmation ignored")
		return nil
	}
	if !models.IsValidInvoiceTransition(inv.Status, models.InvoiceStatusPaid) {
		log.Warn("payment for invoice that cannot be paid", zap.String("status", inv.Status))
		return nil
	}

	err = c.store.UpdateStatus(ctx, p.InvoiceID, inv.Status, models.InvoiceStatusPaid, c.now())
	if errors.Is(err, models.ErrInvoiceStatusConflict) {
		log.Info("invoice changed before payment was applied, skipped", zap.String("read_status", inv.Status))
		return nil
	}
	if err != nil {
		log.Error("failed to mark invoice paid", zap.Error(err))
		return nil
	}

	c.refresher.RefreshInvoices()
	c.refresher.RefreshStats()

	n := models.PaymentNotification{InvoiceID: p.InvoiceID, Amount: amount}
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	c.notifier.Notify(nctx, n)
	cancel()

	log.Info("payment confirmed", zap.String("amount", n.FormattedAmount()))
	return nil
}
