// Package notify keeps a merchant dashboard subscribed to the payment
// notification stream and applies payment confirmations to the local
// invoice store.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pi-merchant/backend/internal/events"
	"github.com/pi-merchant/backend/internal/models"
	"github.com/pi-merchant/backend/internal/stream"
	"go.uber.org/zap"
)

// State of the client connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RetryState counts consecutive failures since the last successful open.
type RetryState struct {
	Attempts  int
	LastDelay time.Duration
}

// InvoiceStore is the persistent invoice store payment confirmations are applied to.
type InvoiceStore interface {
	GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error)
	UpdateStatus(ctx context.Context, invoiceID, from, to string, updatedAt time.Time) error
}

// Refresher is signalled after a payment was written to the store.
type Refresher interface {
	RefreshInvoices()
	RefreshStats()
}

// Notifier shows a payment to the merchant.
type Notifier interface {
	Notify(ctx context.Context, n models.PaymentNotification)
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Config struct {
	Endpoint   string
	MerchantID string
	Policy     Policy
}

type Option func(*Client)

// WithDialer replaces the default SSE transport.
func WithDialer(d stream.Dialer) Option {
	return func(c *Client) { c.dial = d }
}

func WithScheduler(s Scheduler) Option {
	return func(c *Client) { c.sched = s }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithStateListener registers fn to observe every state change. Changes are
// delivered one at a time in the order they happened. fn is called outside
// the client lock and may call back into the client.
func WithStateListener(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// Client owns at most one live stream channel for one merchant. Its public
// surface is Connect, Disconnect, On, Off and the read-only State.
type Client struct {
	merchantID string
	url        string
	policy     Policy

	router    *events.Router
	store     InvoiceStore
	refresher Refresher
	notifier  Notifier
	log       *zap.Logger

	dial    stream.Dialer
	sched   Scheduler
	now     func() time.Time
	onState func(State)

	mu      sync.Mutex
	ctx     context.Context
	state   State
	retry   RetryState
	channel stream.Channel
	timer   Timer
	// gen changes whenever the channel slot is replaced or released; callbacks
	// and timers carrying an older value are ignored.
	gen uint64

	// state changes waiting for onState, delivered by flushStates
	pending  []State
	emitting bool
}

func NewClient(cfg Config, store InvoiceStore, refresher Refresher, notifier Notifier, log *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.MerchantID == "" {
		return nil, errors.New("merchant id is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse stream endpoint: %w", err)
	}
	q := u.Query()
	q.Set("merchant_id", cfg.MerchantID)
	u.RawQuery = q.Encode()

	policy := cfg.Policy
	if policy.BaseDelay <= 0 || policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}

	log = log.With(zap.String("merchant_id", cfg.MerchantID))
	c := &Client{
		merchantID: cfg.MerchantID,
		url:        u.String(),
		policy:     policy,
		router:     events.NewRouter(log),
		store:      store,
		refresher:  refresher,
		notifier:   notifier,
		log:        log,
		sched:      realScheduler{},
		now:        time.Now,
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		// no client timeout: the stream stays open indefinitely
		c.dial = stream.NewSSEDialer(&http.Client{}, log)
	}

	c.router.Register(events.EventPaymentConfirmed, c.handlePaymentConfirmed)
	return c, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers h for eventType. The returned ID is what Off takes.
func (c *Client) On(eventType string, h events.HandlerFunc) events.ListenerID {
	return c.router.Register(eventType, h)
}

// Off removes a registration made with On and reports whether it existed.
func (c *Client) Off(eventType string, id events.ListenerID) bool {
	return c.router.Unregister(eventType, id)
}

// Connect opens the stream from Idle or Closed with a fresh retry budget.
// It is a no-op in every other state. Cancelling ctx closes the client at
// the next transport error instead of retrying.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.ctx = ctx
	c.retry = RetryState{}
	c.openLocked()
	c.mu.Unlock()

	c.log.Info("connecting to notification stream", zap.String("url", c.url))
	c.flushStates()
}

// Disconnect closes the channel, cancels a pending reconnect and clears the
// retry state. Safe to call from any state, any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.retry = RetryState{}
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.closeLocked()
	c.mu.Unlock()

	c.log.Info("disconnected from notification stream")
	c.flushStates()
}

func (c *Client) retryState() RetryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry
}

// openLocked puts a new channel in the slot. The previous one must already
// be closed.
func (c *Client) openLocked() {
	c.gen++
	gen := c.gen
	ch := c.dial(stream.Callbacks{
		OnOpen:    func() { c.handleOpen(gen) },
		OnMessage: func(data []byte) { c.handleMessage(gen, data) },
		OnError:   func(err error) { c.handleError(gen, err) },
	})
	c.channel = ch
	c.setStateLocked(StateConnecting)
	ch.Open(c.ctx, c.url)
}

func (c *Client) closeLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	c.gen++
	c.setStateLocked(StateClosed)
}

func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	previous := c.retry.Attempts
	c.retry = RetryState{}
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.log.Info("notification stream open", zap.Int("failed_attempts", previous))
	c.flushStates()
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	c.mu.Lock()
	live := gen == c.gen && c.state == StateOpen
	ctx := c.ctx
	c.mu.Unlock()

	if !live {
		return
	}
	c.router.Route(ctx, data)
}

func (c *Client) handleError(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || (c.state != StateConnecting && c.state != StateOpen) {
		c.mu.Unlock()
		return
	}
	c.retry.Attempts++
	attempts := c.retry.Attempts

	if err := c.ctx.Err(); err != nil {
		c.closeLocked()
		c.mu.Unlock()
		c.log.Info("notification stream stopped", zap.Error(err))
		c.flushStates()
		return
	}

	if c.policy.ShouldGiveUp(attempts) {
		c.closeLocked()
		c.mu.Unlock()
		c.log.Error("notification stream unavailable, giving up",
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
		c.flushStates()
		return
	}

	delay := c.policy.NextDelay(attempts)
	c.retry.LastDelay = delay
	c.setStateLocked(StateReconnecting)
	c.timer = c.sched.AfterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.log.Warn("notification stream error, reconnecting",
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	c.flushStates()
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	attempt := c.retry.Attempts
	c.openLocked()
	c.mu.Unlock()

	c.log.Info("reopening notification stream", zap.Int("attempt", attempt))
	c.flushStates()
}

func (c *Client) setStateLocked(s State) {
	c.state = s
	if c.onState != nil {
		c.pending = append(c.pending, s)
	}
}

// flushStates delivers queued state changes in the order they happened.
// Only one goroutine delivers at a time; others leave their changes queued
// for it.
func (c *Client) flushStates() {
	c.mu.Lock()
	if c.emitting {
		c.mu.Unlock()
		return
	}
	c.emitting = true
	for len(c.pending) > 0 {
		s := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.onState(s)
		c.mu.Lock()
	}
	c.emitting = false
	c.mu.Unlock()
}
