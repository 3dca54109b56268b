package dto

import (
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/invoice"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/flexprice/dunning/internal/validator"
	"github.com/shopspring/decimal"
)

// DunningStatusResponse is the dunning view of one subscription
type DunningStatusResponse struct {
	SubscriptionID     string                   `json:"subscription_id"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	CancelReason       *types.CancelReason      `json:"cancel_reason,omitempty"`
	InDunning          bool                     `json:"in_dunning"`

	// Invoice is the open invoice, or the latest one when none is open
	Invoice           *DunningCaseResponse    `json:"invoice,omitempty"`
	RetryCount        int                     `json:"retry_count"`
	MaxRetries        int                     `json:"max_retries"`
	NextRetryAt       *time.Time              `json:"next_retry_at,omitempty"`
	GracePeriodEndsAt *time.Time              `json:"grace_period_ends_at,omitempty"`
	LastErrorCode     string                  `json:"last_error_code,omitempty"`
	LastErrorMessage  string                  `json:"last_error_message,omitempty"`
	Policy            *dunning.RetryPolicy    `json:"policy,omitempty"`
	PolicySource      *types.PolicySource     `json:"policy_source,omitempty"`
	Attempts          []*dunning.RetryAttempt `json:"attempts"`
	Emails            []*dunning.DunningEmail `json:"emails"`
	Actions           []*dunning.Action       `json:"actions"`
}

// DunningCaseResponse summarises an invoice in dunning
type DunningCaseResponse struct {
	InvoiceID         string              `json:"invoice_id"`
	InvoiceNumber     string              `json:"invoice_number"`
	SubscriptionID    string              `json:"subscription_id"`
	CustomerID        string              `json:"customer_id"`
	CycleNumber       int                 `json:"cycle_number"`
	InvoiceStatus     types.InvoiceStatus `json:"invoice_status"`
	AmountDue         decimal.Decimal     `json:"amount_due"`
	AmountPaid        decimal.Decimal     `json:"amount_paid"`
	LateFee           decimal.Decimal     `json:"late_fee"`
	Currency          string              `json:"currency"`
	RetryCount        int                 `json:"retry_count"`
	FailedAttempts    int                 `json:"failed_attempts"`
	NextRetryAt       *time.Time          `json:"next_retry_at,omitempty"`
	GracePeriodEndsAt *time.Time          `json:"grace_period_ends_at,omitempty"`
	DunningStartedAt  *time.Time          `json:"dunning_started_at,omitempty"`
	LastErrorCode     string              `json:"last_error_code,omitempty"`
	LastErrorMessage  string              `json:"last_error_message,omitempty"`
}

func NewDunningCaseResponse(inv *invoice.Invoice) *DunningCaseResponse {
	if inv == nil {
		return nil
	}
	return &DunningCaseResponse{
		InvoiceID:         inv.ID,
		InvoiceNumber:     inv.InvoiceNumber,
		SubscriptionID:    inv.SubscriptionID,
		CustomerID:        inv.CustomerID,
		CycleNumber:       inv.CycleNumber,
		InvoiceStatus:     inv.InvoiceStatus,
		AmountDue:         inv.AmountDue,
		AmountPaid:        inv.AmountPaid,
		LateFee:           inv.LateFee,
		Currency:          inv.Currency,
		RetryCount:        inv.RetryCount,
		FailedAttempts:    inv.FailedAttempts,
		NextRetryAt:       inv.NextRetryAt,
		GracePeriodEndsAt: inv.GracePeriodEndsAt,
		DunningStartedAt:  inv.DunningStartedAt,
		LastErrorCode:     inv.LastErrorCode,
		LastErrorMessage:  inv.LastErrorMessage,
	}
}

// ListDunningCasesResponse is a page of invoices in dunning
type ListDunningCasesResponse struct {
	Items      []*DunningCaseResponse    `json:"items"`
	Pagination *types.PaginationResponse `json:"pagination"`
}

// ForceRetryRequest triggers an immediate retry outside the schedule
type ForceRetryRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

func (r *ForceRetryRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ExtendGracePeriodRequest pushes the grace deadline and the next retry
type ExtendGracePeriodRequest struct {
	Days   int    `json:"days" validate:"required,min=1,max=365"`
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r *ExtendGracePeriodRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CancelDunningRequest cancels a subscription in dunning right away
type CancelDunningRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (r *CancelDunningRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// DunningActionResponse is returned by every manual operation
type DunningActionResponse struct {
	Action  *dunning.Action       `json:"action"`
	Invoice *DunningCaseResponse  `json:"invoice,omitempty"`
	Attempt *dunning.RetryAttempt `json:"attempt,omitempty"`
}

// RecoveryMetricsRequest bounds the metrics period to [from, to)
type RecoveryMetricsRequest struct {
	From   *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Format string     `form:"format" validate:"omitempty,oneof=json csv"`
}

// Validate defaults the period to the last 30 days ending at now.
func (r *RecoveryMetricsRequest) Validate(now time.Time) error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.To == nil {
		r.To = &now
	}
	if r.From == nil {
		from := r.To.AddDate(0, 0, -30)
		r.From = &from
	}
	if !r.To.After(*r.From) {
		return ierr.NewError("to must be after from").
			WithHint("The end of the period must be after its start").
			Mark(ierr.ErrValidation)
	}
	if r.Format == "" {
		r.Format = "json"
	}
	return nil
}

// RecordEmailEngagementRequest is sent by the email tracking provider
type RecordEmailEngagementRequest struct {
	Engagement string `json:"engagement" validate:"required,oneof=opened clicked"`
}

func (r *RecordEmailEngagementRequest) Validate() error {
	return validator.ValidateRequest(r)
}
