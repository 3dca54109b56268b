package dunning

import (
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide_InitialCharge(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)

	t.Run("success pays the invoice", func(t *testing.T) {
		d, err := Decide(DecisionInput{
			InvoiceStatus: types.InvoiceStatusBilled,
			AttemptNumber: 1,
			Outcome:       types.AttemptOutcomeSucceeded,
			Trigger:       types.AttemptTriggerInitial,
			Policy:        defaultPolicy(),
			Now:           now,
		})
		require.NoError(t, err)
		assert.Equal(t, types.InvoiceStatusPaid, d.FinalStatus())
		assert.Nil(t, d.Email)
		assert.Empty(t, d.Events)
		assert.Nil(t, d.SubscriptionStatus)
	})

	t.Run("failure starts dunning without retrying the same tick", func(t *testing.T) {
		d, err := Decide(DecisionInput{
			InvoiceStatus: types.InvoiceStatusBilled,
			AttemptNumber: 1,
			Outcome:       types.AttemptOutcomeFailed,
			Trigger:       types.AttemptTriggerInitial,
			Policy:        defaultPolicy(),
			Now:           now,
		})
		require.NoError(t, err)
		assert.Equal(t, []types.InvoiceStatus{types.InvoiceStatusFailed, types.InvoiceStatusPastDue}, d.Transitions)
		assert.True(t, d.StartsDunning)
		assert.Equal(t, now.Add(day), *d.NextRetryAt)
		assert.Equal(t, now.Add(14*day), *d.GracePeriodEndsAt)
		assert.Equal(t, types.SubscriptionStatusPastDue, *d.SubscriptionStatus)
		assert.Equal(t, types.DunningEmailTypeFirstFailure, *d.Email)
		assert.Equal(t, []types.DunningEventName{types.EventDunningPaymentFailed}, d.Events)
	})

	t.Run("zero retries cancels on first failure", func(t *testing.T) {
		p := defaultPolicy()
		p.MaxRetries = 0
		d, err := Decide(DecisionInput{
			InvoiceStatus: types.InvoiceStatusBilled,
			AttemptNumber: 1,
			Outcome:       types.AttemptOutcomeFailed,
			Policy:        p,
			Now:           now,
		})
		require.NoError(t, err)
		assert.True(t, d.Cancels())
		assert.Equal(t, types.CancelReasonPaymentFailed, *d.CancelReason)
		assert.Equal(t, types.DunningEmailTypeCancellationNotice, *d.Email)
		assert.Contains(t, d.Events, types.EventDunningSubscriptionCancelled)
		assert.Nil(t, d.NextRetryAt)
	})

	t.Run("no grace period leaves the deadline open", func(t *testing.T) {
		p := defaultPolicy()
		p.GracePeriodDays = 0
		d, err := Decide(DecisionInput{
			InvoiceStatus: types.InvoiceStatusBilled,
			AttemptNumber: 1,
			Outcome:       types.AttemptOutcomeFailed,
			Policy:        p,
			Now:           now,
		})
		require.NoError(t, err)
		assert.Nil(t, d.GracePeriodEndsAt)
	})
}

// The documented timeline for intervals [1,3,7] and three retries.
func TestDecide_Timeline(t *testing.T) {
	t0 := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	p := defaultPolicy()

	d, err := Decide(DecisionInput{
		InvoiceStatus: types.InvoiceStatusBilled,
		AttemptNumber: 1,
		Outcome:       types.AttemptOutcomeFailed,
		Trigger:       types.AttemptTriggerInitial,
		Policy:        p,
		Now:           t0,
	})
	require.NoError(t, err)
	require.Equal(t, t0.Add(1*day), *d.NextRetryAt)

	expected := []time.Time{t0.Add(4 * day), t0.Add(11 * day)}
	emails := []types.DunningEmailType{types.DunningEmailTypeRetryFailure, types.DunningEmailTypeFinalNotice}

	retryCount := 0
	scheduled := *d.NextRetryAt
	for i := 0; i < 2; i++ {
		d, err = Decide(DecisionInput{
			InvoiceStatus: types.InvoiceStatusPastDue,
			RetryCount:    retryCount,
			AttemptNumber: retryCount + 2,
			Outcome:       types.AttemptOutcomeFailed,
			Trigger:       types.AttemptTriggerScheduled,
			Policy:        p,
			Now:           scheduled.Add(30 * time.Second),
			ScheduledAt:   lo.ToPtr(scheduled),
		})
		require.NoError(t, err)
		assert.Equal(t, types.InvoiceStatusPastDue, d.FinalStatus())
		assert.Equal(t, retryCount+1, d.RetryCount)
		assert.Equal(t, expected[i], *d.NextRetryAt)
		assert.Equal(t, emails[i], *d.Email)
		retryCount = d.RetryCount
		scheduled = *d.NextRetryAt
	}

	d, err = Decide(DecisionInput{
		InvoiceStatus: types.InvoiceStatusPastDue,
		RetryCount:    retryCount,
		AttemptNumber: retryCount + 2,
		Outcome:       types.AttemptOutcomeFailed,
		Trigger:       types.AttemptTriggerScheduled,
		Policy:        p,
		Now:           scheduled,
		ScheduledAt:   lo.ToPtr(scheduled),
	})
	require.NoError(t, err)
	assert.True(t, d.Cancels())
	assert.Equal(t, p.MaxRetries, d.RetryCount)
	assert.Equal(t, types.SubscriptionStatusCancelled, *d.SubscriptionStatus)
	assert.Equal(t, types.CancelReasonPaymentFailed, *d.CancelReason)
	assert.Equal(t, types.DunningEmailTypeCancellationNotice, *d.Email)
	assert.Equal(t, []types.DunningEventName{
		types.EventDunningPaymentFailed,
		types.EventDunningSubscriptionCancelled,
	}, d.Events)

	_, err = Decide(DecisionInput{
		InvoiceStatus: types.InvoiceStatusPastDue,
		RetryCount:    p.MaxRetries,
		AttemptNumber: p.MaxRetries + 2,
		Outcome:       types.AttemptOutcomeFailed,
		Policy:        p,
		Now:           scheduled,
	})
	assert.Error(t, err, "retry count must never exceed max retries")
}

func TestDecide_Recovery(t *testing.T) {
	now := time.Date(2024, time.May, 3, 9, 0, 0, 0, time.UTC)

	d, err := Decide(DecisionInput{
		InvoiceStatus: types.InvoiceStatusPastDue,
		RetryCount:    2,
		AttemptNumber: 4,
		Outcome:       types.AttemptOutcomeSucceeded,
		Trigger:       types.AttemptTriggerManual,
		Policy:        defaultPolicy(),
		Now:           now,
	})
	require.NoError(t, err)
	assert.Equal(t, types.InvoiceStatusPaid, d.FinalStatus())
	assert.True(t, d.Recovers())
	assert.Nil(t, d.NextRetryAt)
	assert.Equal(t, types.SubscriptionStatusActive, *d.SubscriptionStatus)
	assert.Equal(t, types.DunningEmailTypePaymentRecovered, *d.Email)
}

func TestDecide_ManualRetryRestartsCadence(t *testing.T) {
	now := time.Date(2024, time.May, 3, 9, 0, 0, 0, time.UTC)
	scheduled := now.Add(2 * day)

	d, err := Decide(DecisionInput{
		InvoiceStatus: types.InvoiceStatusPastDue,
		RetryCount:    0,
		AttemptNumber: 2,
		Outcome:       types.AttemptOutcomeFailed,
		Trigger:       types.AttemptTriggerManual,
		Policy:        defaultPolicy(),
		Now:           now,
		ScheduledAt:   &scheduled,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.RetryCount)
	assert.Equal(t, now.Add(3*day), *d.NextRetryAt)
}

func TestDecide_LateScheduledRetryNeverLandsInThePast(t *testing.T) {
	scheduled := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	now := scheduled.Add(10 * day)

	d, err := Decide(DecisionInput{
		InvoiceStatus: types.InvoiceStatusPastDue,
		AttemptNumber: 2,
		Outcome:       types.AttemptOutcomeFailed,
		Trigger:       types.AttemptTriggerScheduled,
		Policy:        defaultPolicy(),
		Now:           now,
		ScheduledAt:   &scheduled,
	})
	require.NoError(t, err)
	assert.Equal(t, now.Add(3*day), *d.NextRetryAt)
}

func TestDecide_LateFee(t *testing.T) {
	p := defaultPolicy()
	p.LateFeeAfterRetry = lo.ToPtr(1)
	p.LateFeeAmount = lo.ToPtr(decimal.NewFromInt(5))
	now := time.Now().UTC()

	d, err := Decide(DecisionInput{
		InvoiceStatus: types.InvoiceStatusPastDue,
		AttemptNumber: 2,
		Outcome:       types.AttemptOutcomeFailed,
		Policy:        p,
		Now:           now,
	})
	require.NoError(t, err)
	assert.True(t, d.ApplyLateFee)

	d, err = Decide(DecisionInput{
		InvoiceStatus:  types.InvoiceStatusPastDue,
		AttemptNumber:  2,
		Outcome:        types.AttemptOutcomeFailed,
		Policy:         p,
		Now:            now,
		LateFeeApplied: true,
	})
	require.NoError(t, err)
	assert.False(t, d.ApplyLateFee)
}

func TestDecide_RejectsTerminalInvoices(t *testing.T) {
	for _, status := range []types.InvoiceStatus{types.InvoiceStatusPaid, types.InvoiceStatusCancelled, types.InvoiceStatusPending} {
		_, err := Decide(DecisionInput{
			InvoiceStatus: status,
			AttemptNumber: 1,
			Outcome:       types.AttemptOutcomeFailed,
			Policy:        defaultPolicy(),
			Now:           time.Now(),
		})
		assert.Error(t, err, status)
	}
}

func TestEvaluateDue(t *testing.T) {
	now := time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.Equal(t, DueCharge, EvaluateDue(types.InvoiceStatusPending, nil, nil, now))
	assert.Equal(t, DueCharge, EvaluateDue(types.InvoiceStatusBilled, nil, nil, now))
	assert.Equal(t, DueNone, EvaluateDue(types.InvoiceStatusPaid, &past, nil, now))
	assert.Equal(t, DueNone, EvaluateDue(types.InvoiceStatusPastDue, &future, &future, now))
	assert.Equal(t, DueCharge, EvaluateDue(types.InvoiceStatusPastDue, &past, &future, now))
	assert.Equal(t, DueCharge, EvaluateDue(types.InvoiceStatusPastDue, &past, &now, now), "retry scheduled before grace end still runs")
	assert.Equal(t, DueGraceExpired, EvaluateDue(types.InvoiceStatusPastDue, &future, &past, now))
	assert.Equal(t, DueGraceExpired, EvaluateDue(types.InvoiceStatusPastDue, nil, &past, now))
}

func TestDecideCancellation(t *testing.T) {
	d, err := DecideCancellation(types.InvoiceStatusPastDue, defaultPolicy(), types.CancelReasonManual)
	require.NoError(t, err)
	assert.True(t, d.Cancels())
	assert.Equal(t, types.CancelReasonManual, *d.CancelReason)
	assert.Equal(t, types.DunningEmailTypeCancellationNotice, *d.Email)

	_, err = DecideCancellation(types.InvoiceStatusPaid, defaultPolicy(), types.CancelReasonManual)
	assert.Error(t, err)
}
