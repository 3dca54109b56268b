package payment

import (
	"context"

	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ChargeRequest is one charge against a stored payment method.
type ChargeRequest struct {
	Amount           decimal.Decimal
	Currency         string
	PaymentMethodRef string
	CustomerRef      string
	CustomerEmail    string
	// IdempotencyKey is forwarded to the gateway so a replayed attempt never
	// charges twice.
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// ChargeResult is the normalized outcome of a charge. Declines and gateway
// failures are results, not errors.
type ChargeResult struct {
	Outcome     types.AttemptOutcome
	FailureKind *types.FailureKind
	Code        string
	Message     string
	PaymentRef  string
}

func (r *ChargeResult) Succeeded() bool {
	return r.Outcome == types.AttemptOutcomeSucceeded
}

// Gateway charges a customer through one payment provider. Implementations
// return an error only when the outcome of the charge is unknown, the
// registry then records the attempt as a transient failure.
type Gateway interface {
	Name() types.PaymentGateway
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
}

func Succeeded(paymentRef string) *ChargeResult {
	return &ChargeResult{
		Outcome:    types.AttemptOutcomeSucceeded,
		PaymentRef: paymentRef,
	}
}

func Failed(kind types.FailureKind, code, message string) *ChargeResult {
	return &ChargeResult{
		Outcome:     types.AttemptOutcomeFailed,
		FailureKind: lo.ToPtr(kind),
		Code:        code,
		Message:     message,
	}
}

// Error codes used when the failure does not come from the provider.
const (
	CodeTimeout              = "gateway_timeout"
	CodeGatewayError         = "gateway_error"
	CodeGatewayNotConfigured = "gateway_not_configured"
	CodeMissingPaymentMethod = "missing_payment_method"
)

// toMinorUnits converts an amount to the smallest unit of currency
func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	return types.RoundToCurrencyPrecision(amount, currency).Shift(types.GetCurrencyPrecision(currency)).IntPart()
}
