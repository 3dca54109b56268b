package service

import (
	"context"
	"fmt"

	"github.com/flexprice/dunning/internal/domain/invoice"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
)

// GenerateResult describes the outcome of one generation run.
type GenerateResult struct {
	Invoice    *invoice.Invoice `json:"invoice,omitempty"`
	Charge     *ProcessResult   `json:"charge,omitempty"`
	Expired    bool             `json:"expired"`
	Skipped    bool             `json:"skipped"`
	SkipReason string           `json:"skip_reason,omitempty"`
}

// InvoiceGenerator opens billing cycles for subscriptions that are due.
type InvoiceGenerator interface {
	// GenerateNextInvoice creates the invoice of the next cycle and hands it
	// to the dunning engine for the initial charge. Running it twice for the
	// same cycle creates one invoice.
	GenerateNextInvoice(ctx context.Context, subscriptionID string) (*GenerateResult, error)
}

type invoiceGenerator struct {
	ServiceParams
	engine DunningEngine
}

func NewInvoiceGenerator(params ServiceParams, engine DunningEngine) InvoiceGenerator {
	return &invoiceGenerator{ServiceParams: params, engine: engine}
}

func (g *invoiceGenerator) GenerateNextInvoice(ctx context.Context, subscriptionID string) (*GenerateResult, error) {
	result := &GenerateResult{}

	err := withSubscriptionGuard(ctx, g.ServiceParams, subscriptionID, func(ctx context.Context) error {
		sub, err := g.SubRepo.Get(ctx, subscriptionID)
		if err != nil {
			return err
		}

		now := g.Clock.Now()
		if !sub.IsDueForBilling(now) {
			result.Skipped = true
			result.SkipReason = "subscription is not due for billing"
			return nil
		}

		open, err := g.InvoiceRepo.GetOpenBySubscription(ctx, sub.ID)
		if err != nil && !ierr.IsNotFound(err) {
			return err
		}
		if open != nil {
			result.Skipped = true
			result.SkipReason = fmt.Sprintf("invoice %s is still open", open.ID)
			return nil
		}

		if sub.ReachedMaxCycles() {
			sub.SubscriptionStatus = types.SubscriptionStatusExpired
			if err := g.SubRepo.Update(ctx, sub); err != nil {
				return err
			}
			result.Expired = true
			g.Logger.Infow("subscription reached max cycles, expired",
				"subscription_id", sub.ID,
				"current_cycle", sub.CurrentCycle,
			)
			return nil
		}

		periodStart, periodEnd, err := sub.AdvanceCycle()
		if err != nil {
			return err
		}

		amount := types.RoundToCurrencyPrecision(sub.Amount, sub.Currency)
		inv := &invoice.Invoice{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			InvoiceNumber:  types.GenerateInvoiceNumber(sub.CurrentCycle),
			CycleNumber:    sub.CurrentCycle,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			Currency:       sub.Currency,
			LineItems: []invoice.LineItem{{
				Kind:        invoice.LineItemKindSubscription,
				Description: fmt.Sprintf("Subscription %s cycle %d", sub.ID, sub.CurrentCycle),
				Amount:      amount,
			}},
			Subtotal:      amount,
			AmountDue:     amount,
			AmountPaid:    decimal.Zero,
			InvoiceStatus: types.InvoiceStatusPending,
			BaseModel:     types.GetDefaultBaseModel(ctx),
		}
		if err := inv.Validate(); err != nil {
			return err
		}

		if err := g.InvoiceRepo.Create(ctx, inv); err != nil {
			return err
		}
		if err := g.SubRepo.Update(ctx, sub); err != nil {
			return err
		}

		result.Invoice = inv
		g.Logger.Infow("invoice generated",
			"subscription_id", sub.ID,
			"invoice_id", inv.ID,
			"cycle_number", inv.CycleNumber,
			"period_start", periodStart,
			"period_end", periodEnd,
			"amount_due", inv.AmountDue,
		)
		return nil
	})
	if err != nil {
		// the unique cycle constraint fired, another run already billed it
		if ierr.IsAlreadyExists(err) {
			g.Logger.Infow("invoice for cycle already exists, skipping",
				"subscription_id", subscriptionID,
				"error", err,
			)
			return &GenerateResult{Skipped: true, SkipReason: "invoice for cycle already exists"}, nil
		}
		return nil, err
	}

	if result.Invoice == nil {
		return result, nil
	}

	charge, err := g.engine.ProcessInvoice(ctx, result.Invoice.ID, ProcessOptions{
		Trigger: types.AttemptTriggerInitial,
	})
	if err != nil {
		// the invoice stays pending and the next sweep charges it
		if ierr.IsLockConflict(err) {
			g.Logger.Infow("initial charge deferred, subscription is locked",
				"invoice_id", result.Invoice.ID,
			)
			return result, nil
		}
		return nil, err
	}
	result.Charge = charge
	result.Invoice = charge.Invoice
	return result, nil
}
