package webhookDto

import (
	"time"

	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
)

// InternalDunningEvent is written to the outbox by the state machine. It
// holds a snapshot of the invoice at the moment the event happened so the
// webhook handler never has to read mutable state.
type InternalDunningEvent struct {
	EventType         types.DunningEventName `json:"event_type"`
	SubscriptionID    string                 `json:"subscription_id"`
	CustomerID        string                 `json:"customer_id"`
	InvoiceID         string                 `json:"invoice_id"`
	InvoiceNumber     string                 `json:"invoice_number"`
	AttemptNumber     int                    `json:"attempt_number,omitempty"`
	RetryCount        int                    `json:"retry_count"`
	AmountDue         decimal.Decimal        `json:"amount_due"`
	AmountPaid        decimal.Decimal        `json:"amount_paid"`
	Currency          string                 `json:"currency"`
	ErrorCode         string                 `json:"error_code,omitempty"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	NextRetryAt       *time.Time             `json:"next_retry_at,omitempty"`
	GracePeriodEndsAt *time.Time             `json:"grace_period_ends_at,omitempty"`
	CancelReason      *types.CancelReason    `json:"cancel_reason,omitempty"`
	OccurredAt        time.Time              `json:"occurred_at"`
}

type DunningSubscriptionPayload struct {
	ID           string              `json:"id"`
	CustomerID   string              `json:"customer_id"`
	CancelReason *types.CancelReason `json:"cancel_reason,omitempty"`
}

type DunningInvoicePayload struct {
	ID                string          `json:"id"`
	InvoiceNumber     string          `json:"invoice_number"`
	AmountDue         decimal.Decimal `json:"amount_due"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	Currency          string          `json:"currency"`
	RetryCount        int             `json:"retry_count"`
	NextRetryAt       *time.Time      `json:"next_retry_at,omitempty"`
	GracePeriodEndsAt *time.Time      `json:"grace_period_ends_at,omitempty"`
}

type DunningAttemptPayload struct {
	AttemptNumber int    `json:"attempt_number"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// DunningWebhookPayload is the body delivered to webhook consumers.
type DunningWebhookPayload struct {
	EventType    types.DunningEventName      `json:"event_type"`
	OccurredAt   time.Time                   `json:"occurred_at"`
	Subscription *DunningSubscriptionPayload `json:"subscription"`
	Invoice      *DunningInvoicePayload      `json:"invoice"`
	Attempt      *DunningAttemptPayload      `json:"attempt,omitempty"`
}

func NewDunningWebhookPayload(event *InternalDunningEvent) *DunningWebhookPayload {
	payload := &DunningWebhookPayload{
		EventType:  event.EventType,
		OccurredAt: event.OccurredAt,
		Subscription: &DunningSubscriptionPayload{
			ID:           event.SubscriptionID,
			CustomerID:   event.CustomerID,
			CancelReason: event.CancelReason,
		},
		Invoice: &DunningInvoicePayload{
			ID:                event.InvoiceID,
			InvoiceNumber:     event.InvoiceNumber,
			AmountDue:         event.AmountDue,
			AmountPaid:        event.AmountPaid,
			Currency:          event.Currency,
			RetryCount:        event.RetryCount,
			NextRetryAt:       event.NextRetryAt,
			GracePeriodEndsAt: event.GracePeriodEndsAt,
		},
	}
	if event.AttemptNumber > 0 {
		payload.Attempt = &DunningAttemptPayload{
			AttemptNumber: event.AttemptNumber,
			ErrorCode:     event.ErrorCode,
			ErrorMessage:  event.ErrorMessage,
		}
	}
	return payload
}
