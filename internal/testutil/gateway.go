package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/dunning/internal/payment"
	"github.com/flexprice/dunning/internal/types"
)

// ScriptedGateway replays queued results in order and records every charge.
// When the script is empty it succeeds. A non nil Block channel makes each
// charge wait until it is closed.
type ScriptedGateway struct {
	mu       sync.Mutex
	name     types.PaymentGateway
	script   []*payment.ChargeResult
	requests []*payment.ChargeRequest

	Block   chan struct{}
	Started chan struct{}
}

func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{name: types.PaymentGatewayMock}
}

func (g *ScriptedGateway) Name() types.PaymentGateway {
	return g.name
}

// Queue appends results returned by the next charges.
func (g *ScriptedGateway) Queue(results ...*payment.ChargeResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, results...)
}

// QueueDeclines appends n hard declines.
func (g *ScriptedGateway) QueueDeclines(n int) {
	for i := 0; i < n; i++ {
		g.Queue(payment.Failed(types.FailureKindHardDecline, "card_declined", "Your card was declined."))
	}
}

func (g *ScriptedGateway) Charge(ctx context.Context, req *payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	var result *payment.ChargeResult
	if len(g.script) > 0 {
		result = g.script[0]
		g.script = g.script[1:]
	}
	block, started := g.Block, g.Started
	g.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if result == nil {
		return payment.Succeeded("pay_" + req.IdempotencyKey), nil
	}
	return result, nil
}

// Requests returns every charge request received so far.
func (g *ScriptedGateway) Requests() []*payment.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*payment.ChargeRequest(nil), g.requests...)
}

func (g *ScriptedGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *ScriptedGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = nil
	g.requests = nil
	g.Block = nil
	g.Started = nil
}
