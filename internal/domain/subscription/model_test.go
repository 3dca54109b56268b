package subscription

import (
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonthly(start time.Time) *Subscription {
	return &Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Currency:           "usd",
		Amount:             decimal.NewFromInt(30),
		BillingPeriod:      types.BillingPeriodMonthly,
		BillingPeriodCount: 1,
		BillingAnchor:      start,
		StartDate:          start,
		NextBillingAt:      start,
		SubscriptionStatus: types.SubscriptionStatusActive,
	}
}

func TestSubscription_IsDueForBilling(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Run("active and due", func(t *testing.T) {
		sub := newMonthly(start)
		assert.True(t, sub.IsDueForBilling(start))
		assert.False(t, sub.IsDueForBilling(start.Add(-time.Second)))
	})

	t.Run("trialing waits for trial end", func(t *testing.T) {
		sub := newMonthly(start)
		sub.SubscriptionStatus = types.SubscriptionStatusTrialing
		sub.TrialEnd = lo.ToPtr(start.AddDate(0, 0, 14))
		assert.False(t, sub.IsDueForBilling(start.AddDate(0, 0, 1)))
		assert.True(t, sub.IsDueForBilling(start.AddDate(0, 0, 14)))
	})

	t.Run("past due is never billed", func(t *testing.T) {
		sub := newMonthly(start)
		sub.SubscriptionStatus = types.SubscriptionStatusPastDue
		assert.False(t, sub.IsDueForBilling(start.AddDate(1, 0, 0)))
	})
}

func TestSubscription_AdvanceCycle(t *testing.T) {
	start := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	sub := newMonthly(start)
	sub.SubscriptionStatus = types.SubscriptionStatusTrialing

	prev := sub.NextBillingAt
	for i := 1; i <= 4; i++ {
		periodStart, periodEnd, err := sub.AdvanceCycle()
		require.NoError(t, err)
		assert.Equal(t, i, sub.CurrentCycle)
		assert.True(t, periodStart.Equal(prev))
		assert.True(t, periodEnd.After(periodStart))
		assert.True(t, sub.NextBillingAt.After(prev), "next billing must strictly increase")
		prev = sub.NextBillingAt
	}
	assert.Equal(t, types.SubscriptionStatusActive, sub.SubscriptionStatus)
	assert.Equal(t, time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC), sub.NextBillingAt)
}

func TestSubscription_MaxCyclesAndCancel(t *testing.T) {
	sub := newMonthly(time.Now().UTC())
	sub.MaxCycles = lo.ToPtr(1)
	assert.False(t, sub.ReachedMaxCycles())

	_, _, err := sub.AdvanceCycle()
	require.NoError(t, err)
	assert.True(t, sub.ReachedMaxCycles())

	at := time.Now().UTC()
	sub.Cancel(types.CancelReasonPaymentFailed, at)
	sub.Cancel(types.CancelReasonManual, at.Add(time.Hour))
	assert.Equal(t, types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	assert.Equal(t, types.CancelReasonPaymentFailed, *sub.CancelReason)
	assert.Equal(t, at, *sub.CancelledAt)
}

func TestSubscription_Validate(t *testing.T) {
	sub := newMonthly(time.Now().UTC())
	require.NoError(t, sub.Validate())

	sub.MaxCycles = lo.ToPtr(1)
	sub.MinCycles = 2
	assert.Error(t, sub.Validate())
}
