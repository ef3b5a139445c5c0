package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pi-merchant/backend/internal/events"
	"github.com/pi-merchant/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	stream string
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, stream string, ev events.Event) error {
	if p.err != nil {
		return p.err
	}
	p.stream = stream
	p.events = append(p.events, ev)
	return nil
}

type recordingNotifier struct {
	got []models.PaymentNotification
}

func (r *recordingNotifier) Notify(_ context.Context, n models.PaymentNotification) {
	r.got = append(r.got, n)
}

func TestDashboardRefresher_PublishesTargets(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewDashboardRefresher(pub, "merchant-1", zap.NewNop())
	r.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	r.RefreshInvoices()
	r.RefreshStats()

	assert.Equal(t, events.StreamDashboard, pub.stream)
	require.Len(t, pub.events, 2)

	var body struct {
		Type       string `json:"type"`
		EventID    string `json:"event_id"`
		MerchantID string `json:"merchant_id"`
		Target     string `json:"target"`
		Timestamp  string `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(pub.events[0].Payload, &body))
	assert.Equal(t, events.EventDashboardRefresh, body.Type)
	assert.Equal(t, "merchant-1", body.MerchantID)
	assert.Equal(t, RefreshTargetInvoices, body.Target)
	assert.Equal(t, "2024-05-01T12:00:00Z", body.Timestamp)
	assert.NotEmpty(t, body.EventID)

	require.NoError(t, json.Unmarshal(pub.events[1].Payload, &body))
	assert.Equal(t, RefreshTargetStats, body.Target)
}

func TestDashboardRefresher_PublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewDashboardRefresher(&recordingPublisher{err: errors.New("redis down")}, "m", zap.New(core))

	assert.NotPanics(t, r.RefreshStats)
	assert.Equal(t, 1, logs.FilterMessage("failed to request dashboard refresh").Len())
}

func TestFanoutNotifier(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	f := NewFanoutNotifier(a, nil, b)

	f.Notify(context.Background(), models.PaymentNotification{InvoiceID: "INV-1", Amount: 2})

	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	NewLogNotifier(zap.New(core)).Notify(context.Background(), models.PaymentNotification{InvoiceID: "INV-1", Amount: 3.1415926535})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Payment received: π3.1415927 for invoice INV-1", entries[0].Message)
	assert.Equal(t, "3.1415927", entries[0].ContextMap()["amount"])
}

func TestBotNotifier(t *testing.T) {
	var got notifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/notify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	NewBotNotifier(srv.URL+"/", 42, zap.NewNop()).
		Notify(context.Background(), models.PaymentNotification{InvoiceID: "INV-9", Amount: 1.5})

	assert.Equal(t, int64(42), got.TelegramUserID)
	assert.Equal(t, "INV-9", got.InvoiceID)
	assert.Equal(t, "Payment received: π1.5000000 for invoice INV-9", got.Text)
}

func TestBotNotifier_ErrorStatusIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	NewBotNotifier(srv.URL, 42, zap.New(core)).
		Notify(context.Background(), models.PaymentNotification{InvoiceID: "INV-9"})

	require.Equal(t, 1, logs.FilterMessage("failed to send bot notification").Len())
	assert.Contains(t, logs.All()[0].ContextMap()["error"], "502")
}
