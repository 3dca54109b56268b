package dunning

import (
	"fmt"
	"time"

	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
)

// RetryAttempt records one charge against an invoice. Attempt 1 is the
// initial charge of the cycle, attempt k+1 is the k-th retry. Rows are
// append-only.
type RetryAttempt struct {
	ID                string               `db:"id" json:"id"`
	InvoiceID         string               `db:"invoice_id" json:"invoice_id"`
	SubscriptionID    string               `db:"subscription_id" json:"subscription_id"`
	AttemptNumber     int                  `db:"attempt_number" json:"attempt_number"`
	Trigger           types.AttemptTrigger `db:"trigger" json:"trigger"`
	Outcome           types.AttemptOutcome `db:"outcome" json:"outcome"`
	FailureKind       *types.FailureKind   `db:"failure_kind" json:"failure_kind,omitempty"`
	ErrorCode         string               `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage      string               `db:"error_message" json:"error_message,omitempty"`
	Amount            decimal.Decimal      `db:"amount" json:"amount"`
	Currency          string               `db:"currency" json:"currency"`
	Gateway           types.PaymentGateway `db:"gateway" json:"gateway"`
	GatewayPaymentRef string               `db:"gateway_payment_ref" json:"gateway_payment_ref,omitempty"`
	IdempotencyKey    string               `db:"idempotency_key" json:"idempotency_key"`
	AttemptedAt       time.Time            `db:"attempted_at" json:"attempted_at"`
	NextRetryAt       *time.Time           `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CreatedAt         time.Time            `db:"created_at" json:"created_at"`
}

// IdempotencyKey is derived from the invoice and the attempt number so a
// crashed attempt that is replayed reuses the same gateway key.
func IdempotencyKey(invoiceID string, attemptNumber int) string {
	return fmt.Sprintf("%s:%d", invoiceID, attemptNumber)
}

func (a *RetryAttempt) Succeeded() bool {
	return a.Outcome == types.AttemptOutcomeSucceeded
}

// RetryIndex is zero for the initial charge and k for the k-th retry.
func (a *RetryAttempt) RetryIndex() int {
	return a.AttemptNumber - 1
}
