package payment

import (
	"context"
	"strings"

	"github.com/flexprice/dunning/internal/types"
)

// Payment method refs understood by the mock gateway.
const (
	MockMethodDecline   = "pm_mock_decline"
	MockMethodTransient = "pm_mock_transient"
	MockMethodSlow      = "pm_mock_slow"
)

// MockGateway is a deterministic gateway for local runs. The outcome is
// derived from the payment method ref prefix, everything else succeeds.
type MockGateway struct{}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (g *MockGateway) Name() types.PaymentGateway {
	return types.PaymentGatewayMock
}

func (g *MockGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	switch {
	case strings.HasPrefix(req.PaymentMethodRef, MockMethodDecline):
		return Failed(types.FailureKindHardDecline, "card_declined", "Your card was declined."), nil
	case strings.HasPrefix(req.PaymentMethodRef, MockMethodTransient):
		return Failed(types.FailureKindTransient, "processing_error", "An error occurred while processing your card."), nil
	case strings.HasPrefix(req.PaymentMethodRef, MockMethodSlow):
		<-ctx.Done()
		return nil, ctx.Err()
	default:
		return Succeeded("mock_" + req.IdempotencyKey), nil
	}
}
