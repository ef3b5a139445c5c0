package models

import (
	"fmt"
	"strconv"
)

// CurrencyGlyph prefixes every rendered Pi amount.
const CurrencyGlyph = "π"

// AmountPrecision is the number of fractional digits Pi amounts are shown with.
const AmountPrecision = 7

// PaymentNotification is the user-visible artifact emitted once per confirmed payment.
type PaymentNotification struct {
	InvoiceID string  `json:"invoice_id"`
	Amount    float64 `json:"amount"`
}

// FormattedAmount renders the amount with AmountPrecision fractional digits.
func (n PaymentNotification) FormattedAmount() string {
	return strconv.FormatFloat(n.Amount, 'f', AmountPrecision, 64)
}

func (n PaymentNotification) Text() string {
	return fmt.Sprintf("Payment received: %s%s for invoice %s", CurrencyGlyph, n.FormattedAmount(), n.InvoiceID)
}
