package dunning

import (
	"testing"

	"github.com/flexprice/dunning/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestSelectEmail(t *testing.T) {
	failed := types.AttemptOutcomeFailed
	succeeded := types.AttemptOutcomeSucceeded

	tests := []struct {
		name       string
		attempt    int
		maxRetries int
		outcome    types.AttemptOutcome
		wasPastDue bool
		cancelled  bool
		want       *types.DunningEmailType
	}{
		{"first failure", 1, 3, failed, false, false, emailPtr(types.DunningEmailTypeFirstFailure)},
		{"middle retry", 2, 3, failed, true, false, emailPtr(types.DunningEmailTypeRetryFailure)},
		{"about to cancel", 3, 3, failed, true, false, emailPtr(types.DunningEmailTypeFinalNotice)},
		{"cancelled", 4, 3, failed, true, true, emailPtr(types.DunningEmailTypeCancellationNotice)},
		{"recovered", 3, 3, succeeded, true, false, emailPtr(types.DunningEmailTypePaymentRecovered)},
		{"initial success", 1, 3, succeeded, false, false, nil},
		{"first failure wins when max is one", 1, 1, failed, false, false, emailPtr(types.DunningEmailTypeFirstFailure)},
		{"several retry failures", 4, 6, failed, true, false, emailPtr(types.DunningEmailTypeRetryFailure)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultPolicy()
			p.MaxRetries = tt.maxRetries
			assert.Equal(t, tt.want, SelectEmail(tt.attempt, p, tt.outcome, tt.wasPastDue, tt.cancelled))
		})
	}

	t.Run("flags suppress first and cancellation emails", func(t *testing.T) {
		p := defaultPolicy()
		p.EmailOnFirstFailure = false
		p.EmailOnFinalFailure = false
		assert.Nil(t, SelectEmail(1, p, failed, false, false))
		assert.Nil(t, SelectEmail(4, p, failed, true, true))
		assert.Nil(t, CancellationEmail(p))
		assert.Equal(t, emailPtr(types.DunningEmailTypeFinalNotice), SelectEmail(3, p, failed, true, false))
	})
}

func emailPtr(t types.DunningEmailType) *types.DunningEmailType {
	return &t
}
