package types

import (
	"time"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/samber/lo"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusPending,
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusPaused,
		SubscriptionStatusCancelled,
		SubscriptionStatusExpired,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewErrorf("invalid subscription status: %s", s).
			WithHint("Invalid subscription status").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsBillable reports whether the generator may open a new cycle.
func (s SubscriptionStatus) IsBillable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

type CancelReason string

const (
	CancelReasonPaymentFailed CancelReason = "payment_failed"
	CancelReasonGraceExpired  CancelReason = "grace_period_expired"
	CancelReasonManual        CancelReason = "manual"
)

type BillingPeriod string

const (
	BillingPeriodDaily    BillingPeriod = "day"
	BillingPeriodWeekly   BillingPeriod = "week"
	BillingPeriodMonthly  BillingPeriod = "month"
	BillingPeriodAnnually BillingPeriod = "year"
)

func (p BillingPeriod) Validate() error {
	allowed := []BillingPeriod{
		BillingPeriodDaily,
		BillingPeriodWeekly,
		BillingPeriodMonthly,
		BillingPeriodAnnually,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewErrorf("invalid billing period: %s", p).
			WithHint("Billing period must be one of day, week, month or year").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NextBillingDate advances current by count periods. For monthly and annual
// periods the day of month follows the anchor and is clamped to the last day
// of shorter months, so Jan 31 becomes Feb 28 and then Mar 31.
func NextBillingDate(current, anchor time.Time, count int, period BillingPeriod) (time.Time, error) {
	if count <= 0 {
		return time.Time{}, ierr.NewError("billing period count must be positive").
			Mark(ierr.ErrValidation)
	}

	switch period {
	case BillingPeriodDaily:
		return current.AddDate(0, 0, count), nil
	case BillingPeriodWeekly:
		return current.AddDate(0, 0, 7*count), nil
	case BillingPeriodMonthly:
		return addMonthsClamped(current, anchor, count), nil
	case BillingPeriodAnnually:
		return addMonthsClamped(current, anchor, 12*count), nil
	default:
		return time.Time{}, ierr.NewErrorf("unsupported billing period: %s", period).
			Mark(ierr.ErrValidation)
	}
}

func addMonthsClamped(current, anchor time.Time, months int) time.Time {
	y, m, _ := current.Date()
	target := time.Date(y, m+time.Month(months), 1,
		current.Hour(), current.Minute(), current.Second(), current.Nanosecond(), current.Location())

	day := anchor.Day()
	if last := daysIn(target.Month(), target.Year()); day > last {
		day = last
	}
	return target.AddDate(0, 0, day-1)
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
