package dunning

import (
	"time"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
)

// DueAction is what a dispatch should do with an invoice at a given time.
type DueAction int

const (
	DueNone DueAction = iota
	// DueCharge means a charge must be attempted, either the initial one or
	// a scheduled retry.
	DueCharge
	// DueGraceExpired means the grace period ended before the next retry.
	DueGraceExpired
)

// EvaluateDue decides whether an invoice needs work at now. A retry that is
// scheduled at or before the end of the grace period still runs, a grace
// period that ends before the next retry cancels the run.
func EvaluateDue(status types.InvoiceStatus, nextRetryAt, graceEndsAt *time.Time, now time.Time) DueAction {
	switch status {
	case types.InvoiceStatusPending, types.InvoiceStatusBilled:
		return DueCharge
	case types.InvoiceStatusPastDue:
		retryDue := nextRetryAt != nil && !now.Before(*nextRetryAt)
		graceExpired := graceEndsAt != nil && !now.Before(*graceEndsAt)
		if graceExpired && (nextRetryAt == nil || graceEndsAt.Before(*nextRetryAt)) {
			return DueGraceExpired
		}
		if retryDue {
			return DueCharge
		}
		return DueNone
	default:
		return DueNone
	}
}

// DecisionInput is everything the state machine needs to judge one attempt.
type DecisionInput struct {
	InvoiceStatus types.InvoiceStatus
	RetryCount    int
	AttemptNumber int
	Outcome       types.AttemptOutcome
	Trigger       types.AttemptTrigger
	Policy        *RetryPolicy
	Now           time.Time
	// ScheduledAt is the next_retry_at the dispatch was planned for.
	ScheduledAt    *time.Time
	LateFeeApplied bool
}

// Decision is the set of state changes that must be committed atomically
// with the RetryAttempt.
type Decision struct {
	// Transitions lists the invoice statuses to walk through in order.
	Transitions        []types.InvoiceStatus
	RetryCount         int
	NextRetryAt        *time.Time
	StartsDunning      bool
	GracePeriodEndsAt  *time.Time
	SubscriptionStatus *types.SubscriptionStatus
	CancelReason       *types.CancelReason
	Email              *types.DunningEmailType
	Events             []types.DunningEventName
	ApplyLateFee       bool
}

// FinalStatus is the invoice status after every transition.
func (d *Decision) FinalStatus() types.InvoiceStatus {
	return d.Transitions[len(d.Transitions)-1]
}

func (d *Decision) Cancels() bool {
	return d.FinalStatus() == types.InvoiceStatusCancelled
}

func (d *Decision) Recovers() bool {
	return lo.Contains(d.Events, types.EventDunningPaymentRecovered)
}

// Decide applies the dunning rules to the outcome of a charge. It never
// performs I/O.
func Decide(in DecisionInput) (*Decision, error) {
	if in.Policy == nil {
		return nil, ierr.NewError("retry policy is required").Mark(ierr.ErrInternal)
	}

	switch in.InvoiceStatus {
	case types.InvoiceStatusBilled:
		if in.Outcome == types.AttemptOutcomeSucceeded {
			return &Decision{Transitions: []types.InvoiceStatus{types.InvoiceStatusPaid}}, nil
		}
		return decideFirstFailure(in), nil

	case types.InvoiceStatusPastDue:
		if in.Outcome == types.AttemptOutcomeSucceeded {
			return &Decision{
				Transitions:        []types.InvoiceStatus{types.InvoiceStatusPaid},
				RetryCount:         in.RetryCount,
				SubscriptionStatus: lo.ToPtr(types.SubscriptionStatusActive),
				Email:              SelectEmail(in.AttemptNumber, in.Policy, in.Outcome, true, false),
				Events:             []types.DunningEventName{types.EventDunningPaymentRecovered},
			}, nil
		}
		if in.RetryCount >= in.Policy.MaxRetries {
			return nil, ierr.NewError("retry budget already exhausted").
				WithReportableDetails(map[string]any{
					"retry_count": in.RetryCount,
					"max_retries": in.Policy.MaxRetries,
				}).
				Mark(ierr.ErrInvalidOperation)
		}
		return decideRetryFailure(in), nil

	default:
		return nil, ierr.NewErrorf("invoice in status %s cannot be charged", in.InvoiceStatus).
			WithHint("Only billed or past due invoices can be charged").
			Mark(ierr.ErrInvalidOperation)
	}
}

func decideFirstFailure(in DecisionInput) *Decision {
	d := &Decision{
		StartsDunning: true,
		Events:        []types.DunningEventName{types.EventDunningPaymentFailed},
	}

	// no retries allowed, the first failure ends the subscription
	if in.Policy.MaxRetries == 0 {
		d.Transitions = []types.InvoiceStatus{
			types.InvoiceStatusFailed,
			types.InvoiceStatusPastDue,
			types.InvoiceStatusCancelled,
		}
		d.SubscriptionStatus = lo.ToPtr(types.SubscriptionStatusCancelled)
		d.CancelReason = lo.ToPtr(types.CancelReasonPaymentFailed)
		d.Email = SelectEmail(in.AttemptNumber, in.Policy, in.Outcome, false, true)
		d.Events = append(d.Events, types.EventDunningSubscriptionCancelled)
		return d
	}

	d.Transitions = []types.InvoiceStatus{types.InvoiceStatusFailed, types.InvoiceStatusPastDue}
	d.NextRetryAt = lo.ToPtr(in.Now.Add(in.Policy.IntervalForRetry(1)))
	if grace := in.Policy.GracePeriod(); grace > 0 {
		d.GracePeriodEndsAt = lo.ToPtr(in.Now.Add(grace))
	}
	d.SubscriptionStatus = lo.ToPtr(types.SubscriptionStatusPastDue)
	d.Email = SelectEmail(in.AttemptNumber, in.Policy, in.Outcome, false, false)
	return d
}

func decideRetryFailure(in DecisionInput) *Decision {
	retryCount := in.RetryCount + 1
	d := &Decision{
		RetryCount: retryCount,
		Events:     []types.DunningEventName{types.EventDunningPaymentFailed},
	}

	if retryCount == in.Policy.MaxRetries {
		d.Transitions = []types.InvoiceStatus{types.InvoiceStatusCancelled}
		d.SubscriptionStatus = lo.ToPtr(types.SubscriptionStatusCancelled)
		d.CancelReason = lo.ToPtr(types.CancelReasonPaymentFailed)
		d.Email = SelectEmail(in.AttemptNumber, in.Policy, in.Outcome, true, true)
		d.Events = append(d.Events, types.EventDunningSubscriptionCancelled)
		return d
	}

	// scheduled retries keep the cadence of the original plan, manual ones
	// restart it from now
	base := in.Now
	if in.Trigger == types.AttemptTriggerScheduled && in.ScheduledAt != nil {
		base = *in.ScheduledAt
	}
	interval := in.Policy.IntervalForRetry(retryCount + 1)
	next := base.Add(interval)
	if !next.After(in.Now) {
		next = in.Now.Add(interval)
	}

	d.Transitions = []types.InvoiceStatus{types.InvoiceStatusPastDue}
	d.NextRetryAt = &next
	d.Email = SelectEmail(in.AttemptNumber, in.Policy, in.Outcome, true, false)
	d.ApplyLateFee = !in.LateFeeApplied && in.Policy.LateFeeDue(retryCount)
	return d
}

// DecideCancellation ends a run without charging, after an expired grace
// period or a manual cancel.
func DecideCancellation(status types.InvoiceStatus, policy *RetryPolicy, reason types.CancelReason) (*Decision, error) {
	if status != types.InvoiceStatusPastDue {
		return nil, ierr.NewErrorf("invoice in status %s cannot be cancelled", status).
			WithHint("Only past due invoices can be cancelled").
			Mark(ierr.ErrInvalidOperation)
	}
	return &Decision{
		Transitions:        []types.InvoiceStatus{types.InvoiceStatusCancelled},
		SubscriptionStatus: lo.ToPtr(types.SubscriptionStatusCancelled),
		CancelReason:       &reason,
		Email:              CancellationEmail(policy),
		Events:             []types.DunningEventName{types.EventDunningSubscriptionCancelled},
	}, nil
}
