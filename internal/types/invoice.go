package types

import (
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/samber/lo"
)

type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusBilled    InvoiceStatus = "billed"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusFailed    InvoiceStatus = "failed"
	InvoiceStatusPastDue   InvoiceStatus = "past_due"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

func (s InvoiceStatus) Validate() error {
	allowed := []InvoiceStatus{
		InvoiceStatusPending,
		InvoiceStatusBilled,
		InvoiceStatusPaid,
		InvoiceStatusFailed,
		InvoiceStatusPastDue,
		InvoiceStatusCancelled,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewErrorf("invalid invoice status: %s", s).
			WithHint("Invalid invoice status").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsTerminal reports whether no further transition is possible.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// IsOpen reports whether the invoice still blocks a new billing cycle.
func (s InvoiceStatus) IsOpen() bool {
	return !s.IsTerminal()
}

// OpenInvoiceStatuses lists every non terminal status.
var OpenInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusPending,
	InvoiceStatusBilled,
	InvoiceStatusFailed,
	InvoiceStatusPastDue,
}
