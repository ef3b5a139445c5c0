package services

import (
	"context"

	"github.com/pi-merchant/backend/internal/models"
	"go.uber.org/zap"
)

// PaymentNotifier is anything that can show a payment notification to the
// merchant. Implementations report their own failures.
type PaymentNotifier interface {
	Notify(ctx context.Context, n models.PaymentNotification)
}

// LogNotifier writes notifications to the service log.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n models.PaymentNotification) {
	l.log.Info(n.Text(),
		zap.String("invoice_id", n.InvoiceID),
		zap.String("amount", n.FormattedAmount()),
	)
}

// FanoutNotifier passes each notification to every target in order.
type FanoutNotifier struct {
	targets []PaymentNotifier
}

func NewFanoutNotifier(targets ...PaymentNotifier) *FanoutNotifier {
	var ts []PaymentNotifier
	for _, t := range targets {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return &FanoutNotifier{targets: ts}
}

func (f *FanoutNotifier) Notify(ctx context.Context, n models.PaymentNotification) {
	for _, t := range f.targets {
		t.Notify(ctx, n)
	}
}
