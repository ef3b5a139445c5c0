package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Invoice statuses
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusExpired   = "expired"
	InvoiceStatusCancelled = "cancelled"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrInvoiceStatusConflict means the invoice left the expected status
	// before the update landed.
	ErrInvoiceStatusConflict = errors.New("invoice status changed concurrently")
)

// Valid status transitions: from -> []to
// A late payment on an expired invoice is still accepted.
var ValidInvoiceTransitions = map[string][]string{
	InvoiceStatusPending:   {InvoiceStatusPaid, InvoiceStatusExpired, InvoiceStatusCancelled},
	InvoiceStatusExpired:   {InvoiceStatusPaid},
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
}

func IsValidInvoiceTransition(from, to string) bool {
	allowed, ok := ValidInvoiceTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

type Invoice struct {
	ID          uuid.UUID `json:"-"`
	InvoiceID   string    `json:"invoice_id"`
	MerchantID  string    `json:"merchant_id"`
	AmountPi    string    `json:"amount_pi"` // numeric as string
	Description *string   `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
