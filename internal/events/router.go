package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc handles one domain event. A returned error is logged by the
// Router and never stops other handlers.
type HandlerFunc func(ctx context.Context, ev Event) error

// ListenerID identifies one registration. Registering the same function
// twice yields two IDs and two invocations per event.
type ListenerID uint64

type listener struct {
	id ListenerID
	fn HandlerFunc
}

// Router decodes raw messages, drops control events and dispatches the
// rest to the handlers registered for their type.
type Router struct {
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]listener
	nextID   ListenerID
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{
		log:      log,
		handlers: make(map[string][]listener),
	}
}

func (r *Router) Register(eventType string, h HandlerFunc) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.handlers[eventType] = append(r.handlers[eventType], listener{id: r.nextID, fn: h})
	return r.nextID
}

// Unregister removes one registration and reports whether it existed.
func (r *Router) Unregister(eventType string, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls := r.handlers[eventType]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		// copy so a Dispatch snapshot taken earlier is left intact
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, eventType)
		} else {
			r.handlers[eventType] = next
		}
		return true
	}
	return false
}

// Route runs one raw message through decode, classify and dispatch.
func (r *Router) Route(ctx context.Context, raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		r.log.Warn("dropping malformed event", zap.Error(err), zap.Int("size", len(raw)))
		return
	}

	if Classify(ev) == KindControl {
		r.log.Debug("control event", zap.String("type", ev.Type))
		return
	}

	r.Dispatch(ctx, ev)
}

// Dispatch invokes every handler registered for ev.Type in registration order.
func (r *Router) Dispatch(ctx context.Context, ev Event) {
	r.mu.RLock()
	ls := r.handlers[ev.Type]
	r.mu.RUnlock()

	for _, l := range ls {
		if err := r.invoke(ctx, l, ev); err != nil {
			r.log.Error("event handler failed",
				zap.String("type", ev.Type),
				zap.Uint64("listener_id", uint64(l.id)),
				zap.Error(err),
			)
		}
	}
}

var errHandlerPanic = errors.New("handler panicked")

func (r *Router) invoke(ctx context.Context, l listener, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, p)
		}
	}()
	return l.fn(ctx, ev)
}
