package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pi-merchant/backend/internal/events"
	"go.uber.org/zap"
)

// Dashboard views that can be asked to reload.
const (
	RefreshTargetInvoices = "invoices"
	RefreshTargetStats    = "stats"
)

const refreshPublishTimeout = 2 * time.Second

// DashboardRefresher asks the merchant dashboard to reload a view by
// publishing a dashboard_refresh event. Publishing failures are logged.
type DashboardRefresher struct {
	publisher  events.Publisher
	merchantID string
	log        *zap.Logger
	now        func() time.Time
}

func NewDashboardRefresher(publisher events.Publisher, merchantID string, log *zap.Logger) *DashboardRefresher {
	return &DashboardRefresher{
		publisher:  publisher,
		merchantID: merchantID,
		log:        log,
		now:        time.Now,
	}
}

func (r *DashboardRefresher) RefreshInvoices() { r.refresh(RefreshTargetInvoices) }

func (r *DashboardRefresher) RefreshStats() { r.refresh(RefreshTargetStats) }

func (r *DashboardRefresher) refresh(target string) {
	ev, err := events.NewEvent(events.EventDashboardRefresh, map[string]any{
		"event_id":    uuid.NewString(),
		"merchant_id": r.merchantID,
		"target":      target,
		"timestamp":   r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		r.log.Error("failed to build refresh event", zap.String("target", target), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshPublishTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, events.StreamDashboard, ev); err != nil {
		r.log.Warn("failed to request dashboard refresh", zap.String("target", target), zap.Error(err))
		return
	}
	r.log.Debug("dashboard refresh requested", zap.String("target", target))
}
