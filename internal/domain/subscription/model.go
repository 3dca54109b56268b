package subscription

import (
	"time"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
)

// Subscription is a recurring billing agreement with one customer.
type Subscription struct {
	ID                 string                   `db:"id" json:"id"`
	CustomerID         string                   `db:"customer_id" json:"customer_id"`
	CustomerEmail      string                   `db:"customer_email" json:"customer_email"`
	CustomerSegment    string                   `db:"customer_segment" json:"customer_segment,omitempty"`
	Currency           string                   `db:"currency" json:"currency"`
	Amount             decimal.Decimal          `db:"amount" json:"amount"`
	BillingPeriod      types.BillingPeriod      `db:"billing_period" json:"billing_period"`
	BillingPeriodCount int                      `db:"billing_period_count" json:"billing_period_count"`
	BillingAnchor      time.Time                `db:"billing_anchor" json:"billing_anchor"`
	StartDate          time.Time                `db:"start_date" json:"start_date"`
	TrialStart         *time.Time               `db:"trial_start" json:"trial_start,omitempty"`
	TrialEnd           *time.Time               `db:"trial_end" json:"trial_end,omitempty"`
	CurrentCycle       int                      `db:"current_cycle" json:"current_cycle"`
	MinCycles          int                      `db:"min_cycles" json:"min_cycles"`
	MaxCycles          *int                     `db:"max_cycles" json:"max_cycles,omitempty"`
	CurrentPeriodStart *time.Time               `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time               `db:"current_period_end" json:"current_period_end,omitempty"`
	NextBillingAt      time.Time                `db:"next_billing_at" json:"next_billing_at"`
	LastBillingAt      *time.Time               `db:"last_billing_at" json:"last_billing_at,omitempty"`
	Gateway            types.PaymentGateway     `db:"gateway" json:"gateway"`
	PaymentMethodRef   string                   `db:"payment_method_ref" json:"payment_method_ref,omitempty"`
	GatewayCustomerRef string                   `db:"gateway_customer_ref" json:"gateway_customer_ref,omitempty"`
	PolicyOverrideID   *string                  `db:"policy_override_id" json:"policy_override_id,omitempty"`
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	CancelReason       *types.CancelReason      `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt        *time.Time               `db:"cancelled_at" json:"cancelled_at,omitempty"`
	Version            int                      `db:"version" json:"version"`
	types.BaseModel
}

func (s *Subscription) Validate() error {
	if s.CustomerID == "" {
		return ierr.NewError("customer_id is required").Mark(ierr.ErrValidation)
	}
	if s.Currency == "" {
		return ierr.NewError("currency is required").Mark(ierr.ErrValidation)
	}
	if s.Amount.IsNegative() {
		return ierr.NewError("amount must not be negative").
			WithHint("Subscription amount must not be negative").
			Mark(ierr.ErrValidation)
	}
	if s.BillingPeriodCount <= 0 {
		return ierr.NewError("billing_period_count must be positive").Mark(ierr.ErrValidation)
	}
	if err := s.BillingPeriod.Validate(); err != nil {
		return err
	}
	if err := s.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	if s.MaxCycles != nil && *s.MaxCycles < s.MinCycles {
		return ierr.NewError("max_cycles must not be lower than min_cycles").
			WithReportableDetails(map[string]any{
				"min_cycles": s.MinCycles,
				"max_cycles": *s.MaxCycles,
			}).
			Mark(ierr.ErrValidation)
	}
	if s.TrialEnd != nil && s.TrialStart != nil && s.TrialEnd.Before(*s.TrialStart) {
		return ierr.NewError("trial_end must not be before trial_start").Mark(ierr.ErrValidation)
	}
	return nil
}

// IsDueForBilling reports whether a new cycle should be opened at now.
func (s *Subscription) IsDueForBilling(now time.Time) bool {
	switch s.SubscriptionStatus {
	case types.SubscriptionStatusActive:
		return !now.Before(s.NextBillingAt)
	case types.SubscriptionStatusTrialing:
		if s.TrialEnd != nil && now.Before(*s.TrialEnd) {
			return false
		}
		return !now.Before(s.NextBillingAt)
	default:
		return false
	}
}

// ReachedMaxCycles reports whether every allowed cycle was already invoiced.
func (s *Subscription) ReachedMaxCycles() bool {
	return s.MaxCycles != nil && s.CurrentCycle >= *s.MaxCycles
}

// AdvanceCycle opens the next cycle starting at NextBillingAt and returns its
// bounds. NextBillingAt strictly increases and CurrentCycle grows by one.
func (s *Subscription) AdvanceCycle() (periodStart, periodEnd time.Time, err error) {
	periodStart = s.NextBillingAt
	periodEnd, err = types.NextBillingDate(periodStart, s.BillingAnchor, s.BillingPeriodCount, s.BillingPeriod)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !periodEnd.After(periodStart) {
		return time.Time{}, time.Time{}, ierr.NewError("next billing date must advance").
			Mark(ierr.ErrInternal)
	}

	s.CurrentCycle++
	s.LastBillingAt = &periodStart
	s.CurrentPeriodStart = &periodStart
	s.CurrentPeriodEnd = &periodEnd
	s.NextBillingAt = periodEnd
	if s.SubscriptionStatus == types.SubscriptionStatusTrialing {
		s.SubscriptionStatus = types.SubscriptionStatusActive
	}
	return periodStart, periodEnd, nil
}

// Cancel moves the subscription to cancelled. Cancelling twice is a no-op.
func (s *Subscription) Cancel(reason types.CancelReason, at time.Time) {
	if s.SubscriptionStatus == types.SubscriptionStatusCancelled {
		return
	}
	s.SubscriptionStatus = types.SubscriptionStatusCancelled
	s.CancelReason = &reason
	s.CancelledAt = &at
}
