package dunning

import (
	"time"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/shopspring/decimal"
)

// DefaultRetryIntervalDays is used when a policy allows retries but lists no
// intervals.
const DefaultRetryIntervalDays = 1

// RetryPolicy governs one dunning run. A copy is pinned on the invoice at
// the first failure and never re-resolved for that run.
type RetryPolicy struct {
	ID                  string           `db:"id" json:"id"`
	Name                string           `db:"name" json:"name"`
	Segment             string           `db:"segment" json:"segment,omitempty"`
	MaxRetries          int              `db:"max_retries" json:"max_retries"`
	RetryIntervalsDays  []int            `db:"retry_intervals_days" json:"retry_intervals_days"`
	GracePeriodDays     int              `db:"grace_period_days" json:"grace_period_days"`
	LateFeeAfterRetry   *int             `db:"late_fee_after_retry" json:"late_fee_after_retry,omitempty"`
	LateFeeAmount       *decimal.Decimal `db:"late_fee_amount" json:"late_fee_amount,omitempty"`
	EmailOnFirstFailure bool             `db:"email_on_first_failure" json:"email_on_first_failure"`
	EmailOnFinalFailure bool             `db:"email_on_final_failure" json:"email_on_final_failure"`
	types.BaseModel     `json:"-"`
}

func (p *RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return ierr.NewError("max_retries must not be negative").
			WithHint("Max retries must be zero or more").
			Mark(ierr.ErrValidation)
	}
	if p.GracePeriodDays < 0 {
		return ierr.NewError("grace_period_days must not be negative").
			Mark(ierr.ErrValidation)
	}
	for _, d := range p.RetryIntervalsDays {
		if d < 0 {
			return ierr.NewError("retry intervals must not be negative").
				WithReportableDetails(map[string]any{"retry_intervals_days": p.RetryIntervalsDays}).
				Mark(ierr.ErrValidation)
		}
	}
	if p.LateFeeAfterRetry != nil {
		if *p.LateFeeAfterRetry < 1 {
			return ierr.NewError("late_fee_after_retry must be at least 1").
				Mark(ierr.ErrValidation)
		}
		if p.LateFeeAmount == nil || !p.LateFeeAmount.IsPositive() {
			return ierr.NewError("late_fee_amount must be positive when late_fee_after_retry is set").
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// Normalize fills the interval list when retries are allowed but no interval
// was configured.
func (p *RetryPolicy) Normalize() {
	if p.MaxRetries > 0 && len(p.RetryIntervalsDays) == 0 {
		p.RetryIntervalsDays = []int{DefaultRetryIntervalDays}
	}
}

// IntervalForRetry returns the wait before the k-th retry (k starts at 1).
// When k exceeds the configured list the last interval repeats.
func (p *RetryPolicy) IntervalForRetry(k int) time.Duration {
	if len(p.RetryIntervalsDays) == 0 {
		return DefaultRetryIntervalDays * 24 * time.Hour
	}
	idx := k - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.RetryIntervalsDays) {
		idx = len(p.RetryIntervalsDays) - 1
	}
	return time.Duration(p.RetryIntervalsDays[idx]) * 24 * time.Hour
}

// GracePeriod is zero when the policy sets no grace limit.
func (p *RetryPolicy) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodDays) * 24 * time.Hour
}

// LateFeeDue reports whether the late fee applies once retryCount retries
// have failed.
func (p *RetryPolicy) LateFeeDue(retryCount int) bool {
	return p.LateFeeAfterRetry != nil && p.LateFeeAmount != nil && retryCount == *p.LateFeeAfterRetry
}

// Clone returns a deep copy suitable for pinning on an invoice.
func (p *RetryPolicy) Clone() *RetryPolicy {
	if p == nil {
		return nil
	}
	c := *p
	c.RetryIntervalsDays = append([]int(nil), p.RetryIntervalsDays...)
	if p.LateFeeAfterRetry != nil {
		v := *p.LateFeeAfterRetry
		c.LateFeeAfterRetry = &v
	}
	if p.LateFeeAmount != nil {
		v := *p.LateFeeAmount
		c.LateFeeAmount = &v
	}
	return &c
}

// ResolvedPolicy is a policy together with the level that produced it.
type ResolvedPolicy struct {
	Policy *RetryPolicy       `json:"policy"`
	Source types.PolicySource `json:"source"`
}
