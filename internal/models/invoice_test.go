package models

import "testing"

func TestIsValidInvoiceTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{InvoiceStatusPending, InvoiceStatusPaid, true},
		{InvoiceStatusPending, InvoiceStatusExpired, true},
		{InvoiceStatusPending, InvoiceStatusCancelled, true},
		{InvoiceStatusExpired, InvoiceStatusPaid, true},

		{InvoiceStatusPaid, InvoiceStatusPaid, false},
		{InvoiceStatusPaid, InvoiceStatusPending, false},
		{InvoiceStatusCancelled, InvoiceStatusPaid, false},
		{InvoiceStatusExpired, InvoiceStatusPending, false},
		{"nonexistent", InvoiceStatusPaid, false},
		{InvoiceStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidInvoiceTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidInvoiceTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllInvoiceStatusesHaveTransitionEntry(t *testing.T) {
	all := []string{InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusExpired, InvoiceStatusCancelled}
	for _, status := range all {
		if _, ok := ValidInvoiceTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidInvoiceTransitions map", status)
		}
	}
}

func TestTerminalInvoiceStatusesHaveNoTransitions(t *testing.T) {
	for _, status := range []string{InvoiceStatusPaid, InvoiceStatusCancelled} {
		if n := len(ValidInvoiceTransitions[status]); n != 0 {
			t.Errorf("terminal status %q should have no transitions, got %d", status, n)
		}
	}
}
