package invoice

import (
	"fmt"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Invoice is the bill for one cycle of a subscription. Its dunning fields
// are only populated once the initial charge failed.
type Invoice struct {
	ID                string                 `db:"id" json:"id"`
	SubscriptionID    string                 `db:"subscription_id" json:"subscription_id"`
	CustomerID        string                 `db:"customer_id" json:"customer_id"`
	InvoiceNumber     string                 `db:"invoice_number" json:"invoice_number"`
	CycleNumber       int                    `db:"cycle_number" json:"cycle_number"`
	PeriodStart       time.Time              `db:"period_start" json:"period_start"`
	PeriodEnd         time.Time              `db:"period_end" json:"period_end"`
	Currency          string                 `db:"currency" json:"currency"`
	LineItems         []LineItem             `db:"line_items" json:"line_items"`
	Subtotal          decimal.Decimal        `db:"subtotal" json:"subtotal"`
	LateFee           decimal.Decimal        `db:"late_fee" json:"late_fee"`
	AmountDue         decimal.Decimal        `db:"amount_due" json:"amount_due"`
	AmountPaid        decimal.Decimal        `db:"amount_paid" json:"amount_paid"`
	InvoiceStatus     types.InvoiceStatus    `db:"invoice_status" json:"invoice_status"`
	FailedAttempts    int                    `db:"failed_attempts" json:"failed_attempts"`
	RetryCount        int                    `db:"retry_count" json:"retry_count"`
	NextRetryAt       *time.Time             `db:"next_retry_at" json:"next_retry_at,omitempty"`
	GracePeriodEndsAt *time.Time             `db:"grace_period_ends_at" json:"grace_period_ends_at,omitempty"`
	DunningStartedAt  *time.Time             `db:"dunning_started_at" json:"dunning_started_at,omitempty"`
	PolicySnapshot    *dunning.RetryPolicy   `db:"policy_snapshot" json:"policy_snapshot,omitempty"`
	PolicySource      *types.PolicySource    `db:"policy_source" json:"policy_source,omitempty"`
	LastErrorCode     string                 `db:"last_error_code" json:"last_error_code,omitempty"`
	LastErrorMessage  string                 `db:"last_error_message" json:"last_error_message,omitempty"`
	PaidAt            *time.Time             `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt       *time.Time             `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Version           int                    `db:"version" json:"version"`
	types.BaseModel
}

var allowedTransitions = map[types.InvoiceStatus][]types.InvoiceStatus{
	types.InvoiceStatusPending: {types.InvoiceStatusBilled},
	types.InvoiceStatusBilled:  {types.InvoiceStatusPaid, types.InvoiceStatusFailed},
	types.InvoiceStatusFailed:  {types.InvoiceStatusPastDue},
	types.InvoiceStatusPastDue: {types.InvoiceStatusPaid, types.InvoiceStatusCancelled, types.InvoiceStatusPastDue},
}

// CanTransition reports whether from -> to is an edge of the invoice
// lifecycle. Paid and cancelled have no outgoing edges.
func CanTransition(from, to types.InvoiceStatus) bool {
	return lo.Contains(allowedTransitions[from], to)
}

// TransitionTo moves the invoice to status, stamping terminal timestamps.
func (i *Invoice) TransitionTo(status types.InvoiceStatus, at time.Time) error {
	if !CanTransition(i.InvoiceStatus, status) {
		return ierr.NewErrorf("invalid invoice transition from %s to %s", i.InvoiceStatus, status).
			WithHint("The invoice cannot move to the requested status").
			WithReportableDetails(map[string]any{
				"invoice_id": i.ID,
				"from":       i.InvoiceStatus,
				"to":         status,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	i.InvoiceStatus = status
	switch status {
	case types.InvoiceStatusPaid:
		i.PaidAt = &at
		i.AmountPaid = i.AmountDue
		i.NextRetryAt = nil
	case types.InvoiceStatusCancelled:
		i.CancelledAt = &at
		i.NextRetryAt = nil
	}
	return nil
}

// AmountRemaining is what the next charge should collect.
func (i *Invoice) AmountRemaining() decimal.Decimal {
	remaining := i.AmountDue.Sub(i.AmountPaid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// ApplyLateFee adds the fee once. It returns false if a fee already exists.
func (i *Invoice) ApplyLateFee(amount decimal.Decimal, retryCount int) bool {
	amount = types.RoundToCurrencyPrecision(amount, i.Currency)
	if i.LateFee.IsPositive() || !amount.IsPositive() {
		return false
	}
	i.LateFee = amount
	i.LineItems = append(i.LineItems, LineItem{
		Kind:        LineItemKindLateFee,
		Description: fmt.Sprintf("Late fee after %d failed retries", retryCount),
		Amount:      amount,
	})
	i.AmountDue = i.Subtotal.Add(i.LateFee)
	return true
}

// IsInDunning reports whether the invoice is waiting for a retry.
func (i *Invoice) IsInDunning() bool {
	return i.InvoiceStatus == types.InvoiceStatusPastDue
}

func (i *Invoice) Validate() error {
	if i.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").Mark(ierr.ErrValidation)
	}
	if i.CycleNumber < 1 {
		return ierr.NewError("cycle_number must be at least 1").Mark(ierr.ErrValidation)
	}
	if !i.PeriodEnd.After(i.PeriodStart) {
		return ierr.NewError("period_end must be after period_start").Mark(ierr.ErrValidation)
	}
	if i.AmountDue.IsNegative() {
		return ierr.NewError("amount_due must not be negative").Mark(ierr.ErrValidation)
	}
	return i.InvoiceStatus.Validate()
}
