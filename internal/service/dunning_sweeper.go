package service

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/dunning/internal/domain/invoice"
	"github.com/flexprice/dunning/internal/domain/subscription"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

type sweepWorkKind string

const (
	sweepWorkRetry   sweepWorkKind = "retry"
	sweepWorkCharge  sweepWorkKind = "initial_charge"
	sweepWorkBilling sweepWorkKind = "billing"
)

type sweepWork struct {
	kind           sweepWorkKind
	subscriptionID string
	invoiceID      string
}

// SweepResult counts what a sweep dispatched and how it went.
type SweepResult struct {
	StartedAt      time.Time `json:"started_at"`
	Retries        int       `json:"retries"`
	InitialCharges int       `json:"initial_charges"`
	Generated      int       `json:"generated"`
	Skipped        int       `json:"skipped"`
	Conflicts      int       `json:"conflicts"`
	Failed         int       `json:"failed"`
}

// DunningSweeper finds every subscription with due work and dispatches it.
type DunningSweeper interface {
	// RunOnce dispatches due retries, pending initial charges and due billing
	// cycles. Each subscription gets at most one work item per sweep. Work
	// that loses the subscription lock is left for the next sweep.
	RunOnce(ctx context.Context) (*SweepResult, error)
}

type dunningSweeper struct {
	ServiceParams
	engine    DunningEngine
	generator InvoiceGenerator
}

func NewDunningSweeper(params ServiceParams, engine DunningEngine, generator InvoiceGenerator) DunningSweeper {
	return &dunningSweeper{
		ServiceParams: params,
		engine:        engine,
		generator:     generator,
	}
}

func (s *dunningSweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	now := s.Clock.Now()
	result := &SweepResult{StartedAt: now}

	work, err := s.collect(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(work) == 0 {
		return result, nil
	}

	workers := s.Config.Scheduler.Workers
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(workers)
	for _, item := range work {
		p.Go(func() {
			outcome, err := s.dispatch(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				s.count(result, item.kind, outcome)
			case ierr.IsLockConflict(err):
				// another worker or an operator holds the subscription
				result.Conflicts++
			default:
				result.Failed++
				s.Logger.Errorw("sweep work failed",
					"error", err,
					"kind", item.kind,
					"subscription_id", item.subscriptionID,
					"invoice_id", item.invoiceID,
				)
				s.Sentry.CaptureException(ctx, err, map[string]string{
					"component":       "dunning_sweeper",
					"kind":            string(item.kind),
					"subscription_id": item.subscriptionID,
				})
			}
		})
	}
	p.Wait()

	s.Logger.Infow("dunning sweep finished",
		"retries", result.Retries,
		"initial_charges", result.InitialCharges,
		"generated", result.Generated,
		"skipped", result.Skipped,
		"conflicts", result.Conflicts,
		"failed", result.Failed,
		"duration_ms", time.Since(now).Milliseconds(),
	)
	return result, nil
}

// collect loads due work, retries first. A subscription that already has a
// work item is not picked again by a later source.
func (s *dunningSweeper) collect(ctx context.Context, now time.Time) ([]sweepWork, error) {
	limit := s.Config.Scheduler.BatchSize
	seen := make(map[string]bool)
	var work []sweepWork

	add := func(item sweepWork) {
		if seen[item.subscriptionID] {
			return
		}
		seen[item.subscriptionID] = true
		work = append(work, item)
	}

	retries, err := s.InvoiceRepo.ListDueForRetry(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	lo.ForEach(retries, func(inv *invoice.Invoice, _ int) {
		add(sweepWork{kind: sweepWorkRetry, subscriptionID: inv.SubscriptionID, invoiceID: inv.ID})
	})

	pending, err := s.InvoiceRepo.ListAwaitingCharge(ctx, limit)
	if err != nil {
		return nil, err
	}
	lo.ForEach(pending, func(inv *invoice.Invoice, _ int) {
		add(sweepWork{kind: sweepWorkCharge, subscriptionID: inv.SubscriptionID, invoiceID: inv.ID})
	})

	due, err := s.SubRepo.ListDueForBilling(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	lo.ForEach(due, func(sub *subscription.Subscription, _ int) {
		add(sweepWork{kind: sweepWorkBilling, subscriptionID: sub.ID})
	})

	return work, nil
}

// dispatch runs one work item and reports whether it did something.
func (s *dunningSweeper) dispatch(ctx context.Context, item sweepWork) (bool, error) {
	switch item.kind {
	case sweepWorkRetry:
		result, err := s.engine.ProcessInvoice(ctx, item.invoiceID, ProcessOptions{Trigger: types.AttemptTriggerScheduled})
		if err != nil {
			return false, err
		}
		return !result.Skipped, nil
	case sweepWorkCharge:
		result, err := s.engine.ProcessInvoice(ctx, item.invoiceID, ProcessOptions{Trigger: types.AttemptTriggerInitial})
		if err != nil {
			return false, err
		}
		return !result.Skipped, nil
	default:
		result, err := s.generator.GenerateNextInvoice(ctx, item.subscriptionID)
		if err != nil {
			return false, err
		}
		return result.Invoice != nil || result.Expired, nil
	}
}

func (s *dunningSweeper) count(result *SweepResult, kind sweepWorkKind, acted bool) {
	if !acted {
		result.Skipped++
		return
	}
	switch kind {
	case sweepWorkRetry:
		result.Retries++
	case sweepWorkCharge:
		result.InitialCharges++
	default:
		result.Generated++
	}
}
