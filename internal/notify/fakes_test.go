package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pi-merchant/backend/internal/models"
	"github.com/pi-merchant/backend/internal/stream"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeChannel struct {
	cb     stream.Callbacks
	url    string
	opens  int
	closes int
	state  stream.State
}

func (f *fakeChannel) Open(ctx context.Context, url string) {
	if f.state == stream.StateConnecting || f.state == stream.StateOpen {
		return
	}
	f.opens++
	f.url = url
	f.state = stream.StateConnecting
}

func (f *fakeChannel) Close() {
	f.closes++
	f.state = stream.StateClosed
}

func (f *fakeChannel) State() stream.State { return f.state }

func (f *fakeChannel) open() {
	f.state = stream.StateOpen
	f.cb.OnOpen()
}

func (f *fakeChannel) fail(err error) {
	f.state = stream.StateClosed
	f.cb.OnError(err)
}

func (f *fakeChannel) send(data string) {
	f.cb.OnMessage([]byte(data))
}

// fakeDialer records every channel and counts dials made while another
// channel was still live.
type fakeDialer struct {
	channels []*fakeChannel
	overlaps int
}

func (d *fakeDialer) dial(cb stream.Callbacks) stream.Channel {
	for _, ch := range d.channels {
		if ch.state == stream.StateConnecting || ch.state == stream.StateOpen {
			d.overlaps++
		}
	}
	ch := &fakeChannel{cb: cb}
	d.channels = append(d.channels, ch)
	return ch
}

func (d *fakeDialer) last() *fakeChannel {
	return d.channels[len(d.channels)-1]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// fireLast runs the newest timer even if it was stopped, which is what a
// timer racing a Disconnect looks like.
func (s *fakeScheduler) fireLast() {
	t := s.timers[len(s.timers)-1]
	t.fired = true
	t.fn()
}

type fakeStore struct {
	mu        sync.Mutex
	invoices  map[string]*models.Invoice
	getErr    error
	updateErr error
	updates   int
	// afterGet runs once the read has been served, standing in for another
	// writer that commits between the read and the update.
	afterGet func(inv *models.Invoice)
}

func newFakeStore(invoices ...*models.Invoice) *fakeStore {
	s := &fakeStore{invoices: make(map[string]*models.Invoice)}
	for _, inv := range invoices {
		s.invoices[inv.InvoiceID] = inv
	}
	return s
}

func (s *fakeStore) GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, models.ErrInvoiceNotFound
	}
	cp := *inv
	if s.afterGet != nil {
		s.afterGet(inv)
	}
	return &cp, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, invoiceID, from, to string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return models.ErrInvoiceNotFound
	}
	if inv.Status != from {
		return models.ErrInvoiceStatusConflict
	}
	inv.Status = to
	inv.UpdatedAt = updatedAt
	s.updates++
	return nil
}

type fakeRefresher struct {
	invoices int
	stats    int
}

func (r *fakeRefresher) RefreshInvoices() { r.invoices++ }
func (r *fakeRefresher) RefreshStats()    { r.stats++ }

type fakeNotifier struct {
	sent      []models.PaymentNotification
	deadlines []time.Time
}

func (n *fakeNotifier) Notify(ctx context.Context, p models.PaymentNotification) {
	n.sent = append(n.sent, p)
	if d, ok := ctx.Deadline(); ok {
		n.deadlines = append(n.deadlines, d)
	}
}

var errTransport = errors.New("connection reset")

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	client    *Client
	dialer    *fakeDialer
	sched     *fakeScheduler
	store     *fakeStore
	refresher *fakeRefresher
	notifier  *fakeNotifier
	logs      *observer.ObservedLogs
	states    []State
}

func newHarness(t *testing.T, invoices ...*models.Invoice) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		dialer:    &fakeDialer{},
		sched:     &fakeScheduler{},
		store:     newFakeStore(invoices...),
		refresher: &fakeRefresher{},
		notifier:  &fakeNotifier{},
		logs:      logs,
	}
	c, err := NewClient(
		Config{Endpoint: "http://localhost:3000/api/v1/notifications/stream", MerchantID: "merchant-1", Policy: DefaultPolicy()},
		h.store, h.refresher, h.notifier, zap.New(core),
		WithDialer(h.dialer.dial),
		WithScheduler(h.sched),
		WithClock(func() time.Time { return fixedNow }),
		WithStateListener(func(s State) { h.states = append(h.states, s) }),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	h.client = c
	return h
}

func pendingInvoice(id string) *models.Invoice {
	return &models.Invoice{InvoiceID: id, MerchantID: "merchant-1", AmountPi: "3.1415926", Status: models.InvoiceStatusPending}
}
