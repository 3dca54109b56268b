package types

import (
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/samber/lo"
)

// AttemptOutcome is the result recorded on a RetryAttempt.
type AttemptOutcome string

const (
	AttemptOutcomeSucceeded AttemptOutcome = "succeeded"
	AttemptOutcomeFailed    AttemptOutcome = "failed"
)

// AttemptTrigger records what caused a charge.
type AttemptTrigger string

const (
	// AttemptTriggerInitial is the first charge of a billing cycle.
	AttemptTriggerInitial   AttemptTrigger = "initial"
	AttemptTriggerScheduled AttemptTrigger = "scheduled"
	AttemptTriggerManual    AttemptTrigger = "manual"
)

func (t AttemptTrigger) Validate() error {
	allowed := []AttemptTrigger{
		AttemptTriggerInitial,
		AttemptTriggerScheduled,
		AttemptTriggerManual,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewErrorf("invalid attempt trigger: %s", t).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// FailureKind classifies a failed charge.
type FailureKind string

const (
	FailureKindTimeout     FailureKind = "timeout"
	FailureKindTransient   FailureKind = "transient"
	FailureKindHardDecline FailureKind = "hard_decline"
)

type DunningEmailType string

const (
	DunningEmailTypeFirstFailure       DunningEmailType = "first_failure"
	DunningEmailTypeRetryFailure       DunningEmailType = "retry_failure"
	DunningEmailTypeFinalNotice        DunningEmailType = "final_notice"
	DunningEmailTypeCancellationNotice DunningEmailType = "cancellation_notice"
	DunningEmailTypePaymentRecovered   DunningEmailType = "payment_recovered"
)

func (t DunningEmailType) Validate() error {
	allowed := []DunningEmailType{
		DunningEmailTypeFirstFailure,
		DunningEmailTypeRetryFailure,
		DunningEmailTypeFinalNotice,
		DunningEmailTypeCancellationNotice,
		DunningEmailTypePaymentRecovered,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewErrorf("invalid dunning email type: %s", t).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AllowsRepeat reports whether more than one email of this type may exist
// for a single invoice.
func (t DunningEmailType) AllowsRepeat() bool {
	return t == DunningEmailTypeRetryFailure
}

type EmailDeliveryStatus string

const (
	EmailDeliveryStatusQueued  EmailDeliveryStatus = "queued"
	EmailDeliveryStatusSent    EmailDeliveryStatus = "sent"
	EmailDeliveryStatusFailed  EmailDeliveryStatus = "failed"
	EmailDeliveryStatusSkipped EmailDeliveryStatus = "skipped"
)

type DunningActionType string

const (
	DunningActionForceRetry  DunningActionType = "force_retry"
	DunningActionExtendGrace DunningActionType = "extend_grace"
	DunningActionCancel      DunningActionType = "cancel"
)

// PolicySource tells which level of the resolution chain produced a policy.
type PolicySource string

const (
	PolicySourceSubscriptionOverride PolicySource = "subscription_override"
	PolicySourceSegment              PolicySource = "segment"
	PolicySourceCampaign             PolicySource = "campaign"
	PolicySourceGlobalDefault        PolicySource = "global_default"
)

type PaymentGateway string

const (
	PaymentGatewayStripe   PaymentGateway = "stripe"
	PaymentGatewayRazorpay PaymentGateway = "razorpay"
	PaymentGatewayMoyasar  PaymentGateway = "moyasar"
	PaymentGatewayMock     PaymentGateway = "mock"
)

func (g PaymentGateway) Validate() error {
	allowed := []PaymentGateway{
		PaymentGatewayStripe,
		PaymentGatewayRazorpay,
		PaymentGatewayMoyasar,
		PaymentGatewayMock,
	}
	if !lo.Contains(allowed, g) {
		return ierr.NewErrorf("invalid payment gateway: %s", g).
			WithHint("Payment gateway must be one of stripe, razorpay, moyasar or mock").
			Mark(ierr.ErrValidation)
	}
	return nil
}
