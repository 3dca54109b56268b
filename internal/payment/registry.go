package payment

import (
	"context"
	"errors"
	"time"

	"github.com/flexprice/dunning/internal/config"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/types"
	"golang.org/x/time/rate"
)

const defaultChargeTimeout = 30 * time.Second

// Registry routes charges to the gateway of a subscription. It bounds every
// call with the charge timeout and throttles throughput across gateways.
type Registry struct {
	gateways map[types.PaymentGateway]Gateway
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *logger.Logger
}

// NewRegistry builds a registry from explicit gateways. A zero rate limit
// disables throttling.
func NewRegistry(log *logger.Logger, timeout time.Duration, ratePerSecond float64, burst int, gateways ...Gateway) *Registry {
	if timeout <= 0 {
		timeout = defaultChargeTimeout
	}

	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}

	r := &Registry{
		gateways: make(map[types.PaymentGateway]Gateway, len(gateways)),
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  timeout,
		logger:   log,
	}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// NewRegistryFromConfig registers every gateway that has credentials. The
// mock gateway is only available in local mode or when it is the default.
func NewRegistryFromConfig(cfg *config.Configuration, log *logger.Logger) *Registry {
	r := NewRegistry(log, cfg.Dunning.ChargeTimeout, cfg.Gateway.RateLimitPerSecond, cfg.Gateway.RateLimitBurst)

	if cfg.Gateway.Stripe.SecretKey != "" {
		r.Register(NewStripeGateway(cfg.Gateway.Stripe.SecretKey, log))
	}
	if cfg.Gateway.Razorpay.KeyID != "" && cfg.Gateway.Razorpay.KeySecret != "" {
		r.Register(NewRazorpayGateway(cfg.Gateway.Razorpay.KeyID, cfg.Gateway.Razorpay.KeySecret, log))
	}
	if cfg.Gateway.Moyasar.SecretKey != "" {
		r.Register(NewMoyasarGateway(cfg.Gateway.Moyasar, log))
	}
	if cfg.Deployment.Mode == types.ModeLocal || cfg.Gateway.Default == types.PaymentGatewayMock {
		r.Register(NewMockGateway())
	}

	log.Infow("payment gateways registered", "gateways", r.Names())
	return r
}

func (r *Registry) Register(g Gateway) {
	r.gateways[g.Name()] = g
}

func (r *Registry) Get(name types.PaymentGateway) (Gateway, bool) {
	g, ok := r.gateways[name]
	return g, ok
}

func (r *Registry) Names() []types.PaymentGateway {
	names := make([]types.PaymentGateway, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}

// Charge performs exactly one call to the gateway. Provider declines, gateway
// errors and timeouts are all reported as failed results. An error is only
// returned when the charge was never sent, so no attempt must be recorded.
func (r *Registry) Charge(ctx context.Context, name types.PaymentGateway, req *ChargeRequest) (*ChargeResult, error) {
	g, ok := r.gateways[name]
	if !ok {
		r.logger.Warnw("charge requested on unconfigured gateway",
			"gateway", name,
			"idempotency_key", req.IdempotencyKey)
		return Failed(types.FailureKindTransient, CodeGatewayNotConfigured,
			"payment gateway "+string(name)+" is not configured"), nil
	}
	if req.PaymentMethodRef == "" {
		return Failed(types.FailureKindHardDecline, CodeMissingPaymentMethod,
			"no payment method on file"), nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Payment gateway is busy, try again later").
			Mark(ierr.ErrServiceUnavailable)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := g.Charge(chargeCtx, req)
	duration := time.Since(start)

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(chargeCtx.Err(), context.DeadlineExceeded)):
		r.logger.Warnw("gateway charge timed out",
			"gateway", name,
			"idempotency_key", req.IdempotencyKey,
			"timeout", r.timeout)
		return Failed(types.FailureKindTimeout, CodeTimeout, "gateway did not respond in time"), nil
	case err != nil:
		r.logger.Warnw("gateway charge failed",
			"gateway", name,
			"idempotency_key", req.IdempotencyKey,
			"error", err)
		return Failed(types.FailureKindTransient, CodeGatewayError, err.Error()), nil
	case result == nil:
		return Failed(types.FailureKindTransient, CodeGatewayError, "gateway returned no result"), nil
	}

	r.logger.Infow("gateway charge completed",
		"gateway", name,
		"idempotency_key", req.IdempotencyKey,
		"outcome", result.Outcome,
		"code", result.Code,
		"duration_ms", duration.Milliseconds())
	return result, nil
}
