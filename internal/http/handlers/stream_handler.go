package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pi-merchant/backend/internal/events"
	"github.com/pi-merchant/backend/internal/http/dto"
	"go.uber.org/zap"
)

// streamSub is one open SSE response. ch is closed by the hub when the
// subscriber is removed.
type streamSub struct {
	ch chan []byte
}

// StreamHub fans published events out to the SSE subscribers of the merchant
// named in each event.
type StreamHub struct {
	subscriber events.Subscriber
	log        *zap.Logger
	heartbeat  time.Duration
	bufferSize int
	now        func() time.Time

	mu   sync.RWMutex
	subs map[string]map[*streamSub]struct{}
}

func NewStreamHub(subscriber events.Subscriber, heartbeat time.Duration, bufferSize int, log *zap.Logger) *StreamHub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &StreamHub{
		subscriber: subscriber,
		log:        log,
		heartbeat:  heartbeat,
		bufferSize: bufferSize,
		now:        time.Now,
		subs:       make(map[string]map[*streamSub]struct{}),
	}
}

// Start forwards payment and dashboard events from the bus until ctx ends.
func (h *StreamHub) Start(ctx context.Context) error {
	for _, stream := range []string{events.StreamPayments, events.StreamDashboard} {
		if err := h.subscriber.Subscribe(ctx, stream, h.Broadcast); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast queues event for every subscriber of its merchant. A subscriber
// that cannot keep up is disconnected.
func (h *StreamHub) Broadcast(event events.Event) {
	var target struct {
		MerchantID string `json:"merchant_id"`
	}
	if err := json.Unmarshal(event.Payload, &target); err != nil || target.MerchantID == "" {
		h.log.Warn("dropping event without merchant_id", zap.String("type", event.Type))
		return
	}

	frame, err := sseFrame(event)
	if err != nil {
		h.log.Error("failed to encode event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[target.MerchantID] {
		select {
		case sub.ch <- frame:
		default:
			h.log.Warn("stream subscriber too slow, disconnecting", zap.String("merchant_id", target.MerchantID))
			h.removeLocked(target.MerchantID, sub)
		}
	}
}

// Close disconnects every open stream so their responses can finish.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for merchantID, set := range h.subs {
		for sub := range set {
			h.removeLocked(merchantID, sub)
		}
	}
}

// Subscribers returns the number of open streams for merchantID.
func (h *StreamHub) Subscribers(merchantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[merchantID])
}

// Connections returns the number of open streams across all merchants.
func (h *StreamHub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

func (h *StreamHub) subscribe(merchantID string) *streamSub {
	sub := &streamSub{ch: make(chan []byte, h.bufferSize)}

	h.mu.Lock()
	if h.subs[merchantID] == nil {
		h.subs[merchantID] = make(map[*streamSub]struct{})
	}
	h.subs[merchantID][sub] = struct{}{}
	n := len(h.subs[merchantID])
	h.mu.Unlock()

	h.log.Info("stream connection added", zap.String("merchant_id", merchantID), zap.Int("connections", n))
	return sub
}

func (h *StreamHub) unsubscribe(merchantID string, sub *streamSub) {
	h.mu.Lock()
	removed := h.removeLocked(merchantID, sub)
	h.mu.Unlock()

	if removed {
		h.log.Info("stream connection removed", zap.String("merchant_id", merchantID))
	}
}

func (h *StreamHub) removeLocked(merchantID string, sub *streamSub) bool {
	set, ok := h.subs[merchantID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.subs, merchantID)
	}
	return true
}

// HandleStream serves GET /notifications/stream?merchant_id=.
func (h *StreamHub) HandleStream(c *fiber.Ctx) error {
	merchantID := c.Query("merchant_id")
	if merchantID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "merchant_id is required"})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.subscribe(merchantID)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.unsubscribe(merchantID, sub)
		h.serve(w, sub)
	})
	return nil
}

// serve writes the connected greeting, then queued events, with a heartbeat
// after each idle period. It returns when the subscriber is removed or the
// client stops reading.
func (h *StreamHub) serve(w *bufio.Writer, sub *streamSub) {
	if err := h.writeControl(w, events.EventConnected); err != nil {
		return
	}

	idle := time.NewTimer(h.heartbeat)
	defer idle.Stop()

	for {
		select {
		case frame, ok := <-sub.ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		case <-idle.C:
			if err := h.writeControl(w, events.EventHeartbeat); err != nil {
				return
			}
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(h.heartbeat)
	}
}

func (h *StreamHub) writeControl(w *bufio.Writer, eventType string) error {
	ev, err := events.NewEvent(eventType, map[string]any{
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	frame, err := sseFrame(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return w.Flush()
}

func sseFrame(event events.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("data: %s\n\n", buf.Bytes())), nil
}
