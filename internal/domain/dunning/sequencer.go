package dunning

import (
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
)

// SelectEmail maps the outcome of an attempt to at most one customer email.
//
// Failures: attempt 1 sends first_failure, attempts 2 to max_retries-1 send
// retry_failure and attempt max_retries sends final_notice. The failure that
// cancels the subscription sends cancellation_notice instead. first_failure
// takes precedence when max_retries is 1. A success while the invoice was
// past due sends payment_recovered.
func SelectEmail(attemptNumber int, policy *RetryPolicy, outcome types.AttemptOutcome, wasPastDue, cancelled bool) *types.DunningEmailType {
	if outcome == types.AttemptOutcomeSucceeded {
		if wasPastDue {
			return lo.ToPtr(types.DunningEmailTypePaymentRecovered)
		}
		return nil
	}

	if cancelled {
		if policy.EmailOnFinalFailure {
			return lo.ToPtr(types.DunningEmailTypeCancellationNotice)
		}
		return nil
	}

	switch {
	case attemptNumber == 1:
		if policy.EmailOnFirstFailure {
			return lo.ToPtr(types.DunningEmailTypeFirstFailure)
		}
		return nil
	case attemptNumber == policy.MaxRetries:
		return lo.ToPtr(types.DunningEmailTypeFinalNotice)
	case attemptNumber > 1 && attemptNumber < policy.MaxRetries:
		return lo.ToPtr(types.DunningEmailTypeRetryFailure)
	default:
		return nil
	}
}

// CancellationEmail is the email sent when a run ends without a charge, such
// as an expired grace period or a manual cancel.
func CancellationEmail(policy *RetryPolicy) *types.DunningEmailType {
	if policy == nil || policy.EmailOnFinalFailure {
		return lo.ToPtr(types.DunningEmailTypeCancellationNotice)
	}
	return nil
}
