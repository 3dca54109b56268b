package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/domain/invoice"
	"github.com/flexprice/dunning/internal/domain/subscription"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/payment"
	"github.com/flexprice/dunning/internal/types"
	webhookDto "github.com/flexprice/dunning/internal/webhook/dto"
	"github.com/samber/lo"
)

// ProcessOptions controls a single dispatch of an invoice.
type ProcessOptions struct {
	// Trigger defaults to scheduled. Manual dispatches skip the due time check.
	Trigger types.AttemptTrigger
}

// ProcessResult describes what a dispatch did. Skipped is set when the
// invoice needed no work, Attempt is nil when no charge was made.
type ProcessResult struct {
	Invoice    *invoice.Invoice      `json:"invoice"`
	Attempt    *dunning.RetryAttempt `json:"attempt,omitempty"`
	Decision   *dunning.Decision     `json:"-"`
	Skipped    bool                  `json:"skipped"`
	SkipReason string                `json:"skip_reason,omitempty"`
}

// DunningEngine drives invoices through the dunning state machine.
type DunningEngine interface {
	// ProcessInvoice charges an invoice that is due and commits the outcome
	// together with its RetryAttempt, emails and events. It fails with
	// ErrLockConflict when another worker holds the subscription.
	ProcessInvoice(ctx context.Context, invoiceID string, opts ProcessOptions) (*ProcessResult, error)

	// CancelInvoice ends the dunning run of a past due invoice without
	// charging. It joins the caller's transaction when there is one.
	CancelInvoice(ctx context.Context, invoiceID string, reason types.CancelReason) (*ProcessResult, error)
}

type dunningEngine struct {
	ServiceParams
	resolver  PolicyResolver
	emails    EmailSequencer
	publisher EventPublisher
}

func NewDunningEngine(params ServiceParams, resolver PolicyResolver, emails EmailSequencer, publisher EventPublisher) DunningEngine {
	return &dunningEngine{
		ServiceParams: params,
		resolver:      resolver,
		emails:        emails,
		publisher:     publisher,
	}
}

// withSubscriptionGuard runs fn in a transaction that holds the advisory lock
// of the subscription. The lock is taken without waiting.
func withSubscriptionGuard(ctx context.Context, params ServiceParams, subscriptionID string, fn func(ctx context.Context) error) error {
	return params.DB.WithTx(ctx, func(ctx context.Context) error {
		key := types.SubscriptionLockKey(ctx, subscriptionID)
		ok, err := params.DB.TryLockKey(ctx, key)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to acquire subscription lock").
				Mark(ierr.ErrDatabase)
		}
		if !ok {
			return ierr.NewError("subscription is being processed by another worker").
				WithHint("Another operation is in progress for this subscription, try again later").
				WithReportableDetails(map[string]any{
					"subscription_id": subscriptionID,
				}).
				Mark(ierr.ErrLockConflict)
		}
		return fn(ctx)
	})
}

func (e *dunningEngine) ProcessInvoice(ctx context.Context, invoiceID string, opts ProcessOptions) (*ProcessResult, error) {
	if opts.Trigger == "" {
		opts.Trigger = types.AttemptTriggerScheduled
	}

	inv, err := e.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	var result *ProcessResult
	err = withSubscriptionGuard(ctx, e.ServiceParams, inv.SubscriptionID, func(ctx context.Context) error {
		var err error
		result, err = e.processLocked(ctx, invoiceID, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *dunningEngine) CancelInvoice(ctx context.Context, invoiceID string, reason types.CancelReason) (*ProcessResult, error) {
	inv, err := e.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	var result *ProcessResult
	err = withSubscriptionGuard(ctx, e.ServiceParams, inv.SubscriptionID, func(ctx context.Context) error {
		inv, err := e.InvoiceRepo.Get(ctx, invoiceID)
		if err != nil {
			return err
		}
		sub, err := e.SubRepo.Get(ctx, inv.SubscriptionID)
		if err != nil {
			return err
		}
		result, err = e.cancelLocked(ctx, inv, sub, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *dunningEngine) processLocked(ctx context.Context, invoiceID string, opts ProcessOptions) (*ProcessResult, error) {
	// state may have moved while we waited for the lock
	inv, err := e.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	sub, err := e.SubRepo.Get(ctx, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}

	now := e.Clock.Now()
	manual := opts.Trigger == types.AttemptTriggerManual

	if inv.InvoiceStatus.IsTerminal() {
		if manual {
			return nil, ierr.NewErrorf("invoice is already %s", inv.InvoiceStatus).
				WithHint("The invoice is no longer in dunning").
				WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
				Mark(ierr.ErrInvalidOperation)
		}
		return skipped(inv, "invoice is "+string(inv.InvoiceStatus)), nil
	}

	switch dunning.EvaluateDue(inv.InvoiceStatus, inv.NextRetryAt, inv.GracePeriodEndsAt, now) {
	case dunning.DueNone:
		if !manual {
			return skipped(inv, "invoice is not due"), nil
		}
	case dunning.DueGraceExpired:
		if !manual {
			e.Logger.Infow("grace period expired, cancelling dunning run",
				"invoice_id", inv.ID,
				"subscription_id", sub.ID,
				"grace_period_ends_at", inv.GracePeriodEndsAt,
			)
			return e.cancelLocked(ctx, inv, sub, types.CancelReasonGraceExpired)
		}
	}

	if inv.InvoiceStatus == types.InvoiceStatusPending {
		if err := inv.TransitionTo(types.InvoiceStatusBilled, now); err != nil {
			return nil, err
		}
	}

	policy, source := e.policyFor(ctx, inv, sub)
	if inv.InvoiceStatus == types.InvoiceStatusPastDue && inv.RetryCount >= policy.MaxRetries {
		return nil, ierr.NewError("retry budget already exhausted").
			WithHint("The invoice has used all of its retries").
			WithReportableDetails(map[string]any{
				"invoice_id":  inv.ID,
				"retry_count": inv.RetryCount,
				"max_retries": policy.MaxRetries,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	latest, err := e.RetryAttemptRepo.GetLatestAttemptNumber(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	attemptNumber := latest + 1

	attempt, err := e.charge(ctx, inv, sub, attemptNumber, opts.Trigger, now)
	if err != nil {
		return nil, err
	}

	decision, err := dunning.Decide(dunning.DecisionInput{
		InvoiceStatus:  inv.InvoiceStatus,
		RetryCount:     inv.RetryCount,
		AttemptNumber:  attemptNumber,
		Outcome:        attempt.Outcome,
		Trigger:        opts.Trigger,
		Policy:         policy,
		Now:            now,
		ScheduledAt:    inv.NextRetryAt,
		LateFeeApplied: inv.LateFee.IsPositive(),
	})
	if err != nil {
		return nil, err
	}
	attempt.NextRetryAt = decision.NextRetryAt

	if err := e.RetryAttemptRepo.Create(ctx, attempt); err != nil {
		return nil, err
	}
	if err := e.applyDecision(ctx, inv, sub, policy, source, decision, attempt, now); err != nil {
		return nil, err
	}

	e.Logger.Infow("invoice processed",
		"invoice_id", inv.ID,
		"subscription_id", sub.ID,
		"attempt_number", attemptNumber,
		"trigger", opts.Trigger,
		"outcome", attempt.Outcome,
		"invoice_status", inv.InvoiceStatus,
		"retry_count", inv.RetryCount,
		"next_retry_at", inv.NextRetryAt,
	)

	return &ProcessResult{Invoice: inv, Attempt: attempt, Decision: decision}, nil
}

// charge makes the single gateway call of an attempt. Declines and timeouts
// come back as failed attempts, not errors.
func (e *dunningEngine) charge(
	ctx context.Context,
	inv *invoice.Invoice,
	sub *subscription.Subscription,
	attemptNumber int,
	trigger types.AttemptTrigger,
	now time.Time,
) (*dunning.RetryAttempt, error) {
	gateway := sub.Gateway
	if gateway == "" {
		gateway = e.Config.Gateway.Default
	}

	req := &payment.ChargeRequest{
		Amount:           inv.AmountRemaining(),
		Currency:         inv.Currency,
		PaymentMethodRef: sub.PaymentMethodRef,
		CustomerRef:      sub.GatewayCustomerRef,
		CustomerEmail:    sub.CustomerEmail,
		IdempotencyKey:   dunning.IdempotencyKey(inv.ID, attemptNumber),
		Description:      fmt.Sprintf("Invoice %s", inv.InvoiceNumber),
		Metadata: map[string]string{
			"invoice_id":      inv.ID,
			"subscription_id": sub.ID,
			"attempt_number":  strconv.Itoa(attemptNumber),
		},
	}

	var result *payment.ChargeResult
	if req.Amount.IsZero() {
		// nothing to collect
		result = payment.Succeeded("")
	} else {
		var err error
		result, err = e.Gateways.Charge(ctx, gateway, req)
		if err != nil {
			return nil, err
		}
	}

	return &dunning.RetryAttempt{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RETRY_ATTEMPT),
		InvoiceID:         inv.ID,
		SubscriptionID:    sub.ID,
		AttemptNumber:     attemptNumber,
		Trigger:           trigger,
		Outcome:           result.Outcome,
		FailureKind:       result.FailureKind,
		ErrorCode:         result.Code,
		ErrorMessage:      result.Message,
		Amount:            req.Amount,
		Currency:          inv.Currency,
		Gateway:           gateway,
		GatewayPaymentRef: result.PaymentRef,
		IdempotencyKey:    req.IdempotencyKey,
		AttemptedAt:       now,
		CreatedAt:         now,
	}, nil
}

func (e *dunningEngine) cancelLocked(ctx context.Context, inv *invoice.Invoice, sub *subscription.Subscription, reason types.CancelReason) (*ProcessResult, error) {
	policy, source := e.policyFor(ctx, inv, sub)
	decision, err := dunning.DecideCancellation(inv.InvoiceStatus, policy, reason)
	if err != nil {
		return nil, err
	}
	decision.RetryCount = inv.RetryCount

	if err := e.applyDecision(ctx, inv, sub, policy, source, decision, nil, e.Clock.Now()); err != nil {
		return nil, err
	}

	e.Logger.Infow("dunning run cancelled",
		"invoice_id", inv.ID,
		"subscription_id", sub.ID,
		"reason", reason,
	)
	return &ProcessResult{Invoice: inv, Decision: decision}, nil
}

// policyFor returns the policy pinned on the invoice, or resolves one when
// the run has not started yet.
func (e *dunningEngine) policyFor(ctx context.Context, inv *invoice.Invoice, sub *subscription.Subscription) (*dunning.RetryPolicy, *types.PolicySource) {
	if inv.PolicySnapshot != nil {
		return inv.PolicySnapshot, inv.PolicySource
	}
	resolved := e.resolver.Resolve(ctx, sub)
	return resolved.Policy, lo.ToPtr(resolved.Source)
}

func (e *dunningEngine) applyDecision(
	ctx context.Context,
	inv *invoice.Invoice,
	sub *subscription.Subscription,
	policy *dunning.RetryPolicy,
	source *types.PolicySource,
	decision *dunning.Decision,
	attempt *dunning.RetryAttempt,
	now time.Time,
) error {
	wasInDunning := inv.IsInDunning()

	for _, status := range decision.Transitions {
		if err := inv.TransitionTo(status, now); err != nil {
			return err
		}
	}

	inv.RetryCount = decision.RetryCount
	if attempt != nil && !attempt.Succeeded() {
		inv.FailedAttempts++
		inv.LastErrorCode = attempt.ErrorCode
		inv.LastErrorMessage = attempt.ErrorMessage
	}
	if decision.StartsDunning {
		inv.DunningStartedAt = &now
		inv.PolicySnapshot = policy.Clone()
		inv.PolicySource = source
	}
	if inv.InvoiceStatus == types.InvoiceStatusPastDue {
		inv.NextRetryAt = decision.NextRetryAt
		if decision.GracePeriodEndsAt != nil {
			inv.GracePeriodEndsAt = decision.GracePeriodEndsAt
		}
	}
	if decision.ApplyLateFee && policy.LateFeeAmount != nil {
		if inv.ApplyLateFee(*policy.LateFeeAmount, inv.RetryCount) {
			e.Logger.Infow("late fee applied",
				"invoice_id", inv.ID,
				"late_fee", inv.LateFee,
				"amount_due", inv.AmountDue,
			)
		}
	}

	if err := e.InvoiceRepo.Update(ctx, inv); err != nil {
		return err
	}

	if decision.SubscriptionStatus != nil && sub.SubscriptionStatus != *decision.SubscriptionStatus {
		if *decision.SubscriptionStatus == types.SubscriptionStatusCancelled {
			sub.Cancel(lo.FromPtrOr(decision.CancelReason, types.CancelReasonPaymentFailed), now)
		} else if !sub.SubscriptionStatus.IsTerminal() && sub.SubscriptionStatus != types.SubscriptionStatusPaused {
			// a paused subscription stays paused until an operator resumes it
			sub.SubscriptionStatus = *decision.SubscriptionStatus
		}
		if err := e.SubRepo.Update(ctx, sub); err != nil {
			return err
		}
	}

	if decision.StartsDunning || wasInDunning {
		if err := e.trackAssignment(ctx, inv, sub, decision, now); err != nil {
			return err
		}
	}

	attemptNumber := 0
	if attempt != nil {
		attemptNumber = attempt.AttemptNumber
	}

	if decision.Email != nil {
		req := &EmailRequest{
			EmailType:     *decision.Email,
			Invoice:       inv,
			Subscription:  sub,
			AttemptNumber: attemptNumber,
			ErrorCode:     inv.LastErrorCode,
			ErrorMessage:  inv.LastErrorMessage,
		}
		if _, err := e.emails.Enqueue(ctx, req); err != nil {
			return err
		}
	}

	for _, name := range decision.Events {
		if err := e.publisher.Append(ctx, e.buildEvent(name, inv, sub, attempt, now)); err != nil {
			return err
		}
	}
	return nil
}

// trackAssignment records the progress of the run on the campaign
// assignment of the subscription. Subscriptions without an assignment fall
// under the default campaign, and nothing is tracked when there is none.
func (e *dunningEngine) trackAssignment(ctx context.Context, inv *invoice.Invoice, sub *subscription.Subscription, decision *dunning.Decision, now time.Time) error {
	assignment, err := e.CampaignRepo.GetAssignment(ctx, sub.ID)
	if err != nil {
		if !ierr.IsNotFound(err) {
			return err
		}
		campaign, err := e.CampaignRepo.GetDefault(ctx)
		if err != nil {
			if ierr.IsNotFound(err) {
				return nil
			}
			return err
		}
		assignment = &dunning.Assignment{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ASSIGNMENT),
			SubscriptionID: sub.ID,
			CampaignID:     campaign.ID,
		}
	}

	if decision.StartsDunning {
		assignment.InvoiceID = lo.ToPtr(inv.ID)
		assignment.StartedAt = &now
		assignment.CompletedAt = nil
	}
	assignment.CurrentRetryStep = inv.RetryCount
	if inv.InvoiceStatus.IsTerminal() {
		assignment.CompletedAt = &now
	}
	assignment.UpdatedAt = now

	return e.CampaignRepo.UpsertAssignment(ctx, assignment)
}

func (e *dunningEngine) buildEvent(
	name types.DunningEventName,
	inv *invoice.Invoice,
	sub *subscription.Subscription,
	attempt *dunning.RetryAttempt,
	now time.Time,
) *webhookDto.InternalDunningEvent {
	event := &webhookDto.InternalDunningEvent{
		EventType:         name,
		SubscriptionID:    sub.ID,
		CustomerID:        sub.CustomerID,
		InvoiceID:         inv.ID,
		InvoiceNumber:     inv.InvoiceNumber,
		RetryCount:        inv.RetryCount,
		AmountDue:         inv.AmountDue,
		AmountPaid:        inv.AmountPaid,
		Currency:          inv.Currency,
		NextRetryAt:       inv.NextRetryAt,
		GracePeriodEndsAt: inv.GracePeriodEndsAt,
		OccurredAt:        now,
	}
	if attempt != nil {
		event.AttemptNumber = attempt.AttemptNumber
		if !attempt.Succeeded() {
			event.ErrorCode = attempt.ErrorCode
			event.ErrorMessage = attempt.ErrorMessage
		}
	}
	if name == types.EventDunningSubscriptionCancelled {
		event.CancelReason = sub.CancelReason
	}
	return event
}

func skipped(inv *invoice.Invoice, reason string) *ProcessResult {
	return &ProcessResult{Invoice: inv, Skipped: true, SkipReason: reason}
}
