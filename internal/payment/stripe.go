package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/types"
	"github.com/stripe/stripe-go/v82"
)

type paymentIntentCreator interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
}

// StripeGateway confirms an off session PaymentIntent against the saved
// payment method of the customer.
type StripeGateway struct {
	intents paymentIntentCreator
	logger  *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) *StripeGateway {
	sc := stripe.NewClient(secretKey)
	return &StripeGateway{
		intents: sc.V1PaymentIntents,
		logger:  log,
	}
}

func (g *StripeGateway) Name() types.PaymentGateway {
	return types.PaymentGatewayStripe
}

func (g *StripeGateway) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(toMinorUnits(req.Amount, req.Currency)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata:      req.Metadata,
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.intents.Create(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if !errors.As(err, &stripeErr) {
			return nil, err
		}
		g.logger.Debugw("stripe rejected payment intent",
			"idempotency_key", req.IdempotencyKey,
			"type", stripeErr.Type,
			"code", stripeErr.Code,
			"decline_code", stripeErr.DeclineCode)
		return stripeErrorResult(stripeErr), nil
	}
	return stripeIntentResult(pi), nil
}

func stripeErrorResult(e *stripe.Error) *ChargeResult {
	code := string(e.Code)
	if e.DeclineCode != "" {
		code = string(e.DeclineCode)
	}
	if code == "" {
		code = string(e.Type)
	}

	switch {
	case e.Type == stripe.ErrorTypeCard:
		return Failed(types.FailureKindHardDecline, code, e.Msg)
	case e.HTTPStatusCode == http.StatusTooManyRequests, e.HTTPStatusCode >= http.StatusInternalServerError:
		return Failed(types.FailureKindTransient, code, e.Msg)
	case e.Type == stripe.ErrorTypeInvalidRequest:
		return Failed(types.FailureKindHardDecline, code, e.Msg)
	default:
		return Failed(types.FailureKindTransient, code, e.Msg)
	}
}

func stripeIntentResult(pi *stripe.PaymentIntent) *ChargeResult {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Succeeded(pi.ID)
	case stripe.PaymentIntentStatusRequiresAction:
		r := Failed(types.FailureKindHardDecline, "authentication_required", "The payment requires customer authentication.")
		r.PaymentRef = pi.ID
		return r
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		r := Failed(types.FailureKindHardDecline, "requires_payment_method", "The payment method was declined.")
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			r.Message = pi.LastPaymentError.Msg
		}
		r.PaymentRef = pi.ID
		return r
	default:
		r := Failed(types.FailureKindTransient, "payment_"+string(pi.Status), "The payment did not complete.")
		r.PaymentRef = pi.ID
		return r
	}
}
