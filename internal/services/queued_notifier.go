package services

import (
	"context"
	"sync"
	"time"

	"github.com/pi-merchant/backend/internal/models"
	"go.uber.org/zap"
)

// QueuedNotifier hands notifications to a background goroutine so a slow
// target never holds up the caller. When the queue is full the notification
// is dropped and logged.
type QueuedNotifier struct {
	next    PaymentNotifier
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan models.PaymentNotification
	done   chan struct{}
}

func NewQueuedNotifier(next PaymentNotifier, size int, timeout time.Duration, log *zap.Logger) *QueuedNotifier {
	if size <= 0 {
		size = 64
	}
	q := &QueuedNotifier{
		next:    next,
		timeout: timeout,
		log:     log,
		queue:   make(chan models.PaymentNotification, size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *QueuedNotifier) Notify(_ context.Context, n models.PaymentNotification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.Warn("notifier closed, dropping notification", zap.String("invoice_id", n.InvoiceID))
		return
	}
	select {
	case q.queue <- n:
	default:
		q.log.Warn("notification queue full, dropping notification", zap.String("invoice_id", n.InvoiceID))
	}
}

// Close stops accepting notifications and waits for queued ones to go out.
func (q *QueuedNotifier) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *QueuedNotifier) run() {
	defer close(q.done)
	for n := range q.queue {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		q.next.Notify(ctx, n)
		cancel()
	}
}
