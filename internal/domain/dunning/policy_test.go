package dunning

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const day = 24 * time.Hour

func defaultPolicy() *RetryPolicy {
	return &RetryPolicy{
		ID:                  "rpol_default",
		Name:                "default",
		MaxRetries:          3,
		RetryIntervalsDays:  []int{1, 3, 7},
		GracePeriodDays:     14,
		EmailOnFirstFailure: true,
		EmailOnFinalFailure: true,
	}
}

func TestRetryPolicy_IntervalForRetry(t *testing.T) {
	p := defaultPolicy()
	assert.Equal(t, 1*day, p.IntervalForRetry(1))
	assert.Equal(t, 3*day, p.IntervalForRetry(2))
	assert.Equal(t, 7*day, p.IntervalForRetry(3))

	t.Run("short list repeats the last interval", func(t *testing.T) {
		p := defaultPolicy()
		p.MaxRetries = 5
		p.RetryIntervalsDays = []int{2, 4}
		assert.Equal(t, 4*day, p.IntervalForRetry(3))
		assert.Equal(t, 4*day, p.IntervalForRetry(5))
	})

	t.Run("empty list normalizes to one day", func(t *testing.T) {
		p := defaultPolicy()
		p.RetryIntervalsDays = nil
		p.Normalize()
		assert.Equal(t, []int{DefaultRetryIntervalDays}, p.RetryIntervalsDays)
		assert.Equal(t, day, p.IntervalForRetry(2))
	})
}

func TestRetryPolicy_Validate(t *testing.T) {
	assert.NoError(t, defaultPolicy().Validate())

	p := defaultPolicy()
	p.MaxRetries = -1
	assert.Error(t, p.Validate())

	p = defaultPolicy()
	p.RetryIntervalsDays = []int{1, -3}
	assert.Error(t, p.Validate())

	p = defaultPolicy()
	p.LateFeeAfterRetry = lo.ToPtr(2)
	assert.Error(t, p.Validate(), "late fee step without amount")

	p.LateFeeAmount = lo.ToPtr(decimal.NewFromInt(5))
	assert.NoError(t, p.Validate())
	assert.True(t, p.LateFeeDue(2))
	assert.False(t, p.LateFeeDue(1))
}

func TestRetryPolicy_Clone(t *testing.T) {
	p := defaultPolicy()
	p.LateFeeAfterRetry = lo.ToPtr(1)
	c := p.Clone()

	c.RetryIntervalsDays[0] = 10
	*c.LateFeeAfterRetry = 3
	assert.Equal(t, 1, p.RetryIntervalsDays[0])
	assert.Equal(t, 1, *p.LateFeeAfterRetry)
}
