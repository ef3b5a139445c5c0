package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event types
const (
	EventConnected        = "connected"
	EventHeartbeat        = "heartbeat"
	EventPaymentConfirmed = "payment_confirmed"
	EventDashboardRefresh = "dashboard_refresh"
	EventInvoiceExpired   = "invoice_expired"
)

// Redis streams
const (
	StreamPayments  = "events:payment"
	StreamDashboard = "events:dashboard"
)

var ErrMissingType = errors.New("event has no type")

// Event is one inbound message. Payload holds the complete JSON object the
// type was read from, so typed decoders see every field.
type Event struct {
	Type    string
	Payload json.RawMessage
}

// NewEvent builds an Event from a type and a flat set of fields.
func NewEvent(eventType string, fields map[string]any) (Event, error) {
	obj := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		obj[k] = v
	}
	obj["type"] = eventType

	data, err := json.Marshal(obj)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: data}, nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Payload) > 0 {
		return e.Payload, nil
	}
	return json.Marshal(struct {
		Type string `json:"type"`
	}{e.Type})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Type == "" {
		return ErrMissingType
	}
	e.Type = head.Type
	e.Payload = append(json.RawMessage(nil), data...)
	return nil
}

// DecodeError reports a message that could not be turned into an Event.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one raw message. Any failure is returned as *DecodeError.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, &DecodeError{Raw: raw, Err: err}
	}
	if ev.Type == "" {
		return Event{}, &DecodeError{Raw: raw, Err: ErrMissingType}
	}
	return ev, nil
}

// Kind separates protocol housekeeping from business events.
type Kind int

const (
	KindDomain Kind = iota
	KindControl
)

func (k Kind) String() string {
	if k == KindControl {
		return "control"
	}
	return "domain"
}

func Classify(ev Event) Kind {
	switch ev.Type {
	case EventHeartbeat, EventConnected:
		return KindControl
	default:
		return KindDomain
	}
}

// PaymentConfirmed is the payload of a payment_confirmed event.
type PaymentConfirmed struct {
	InvoiceID       string      `json:"invoice_id"`
	MerchantID      string      `json:"merchant_id,omitempty"`
	Status          string      `json:"status,omitempty"`
	Amount          json.Number `json:"amount,omitempty"`
	TransactionHash string      `json:"transaction_hash,omitempty"`
	Timestamp       string      `json:"timestamp,omitempty"`
	Message         string      `json:"message,omitempty"`
}

// AmountOrZero returns the amount, or 0 when it is absent.
func (p PaymentConfirmed) AmountOrZero() (float64, error) {
	if p.Amount == "" {
		return 0, nil
	}
	return p.Amount.Float64()
}

func DecodePaymentConfirmed(ev Event) (PaymentConfirmed, error) {
	var p PaymentConfirmed
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	if p.InvoiceID == "" {
		return p, fmt.Errorf("decode %s: missing invoice_id", ev.Type)
	}
	return p, nil
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
