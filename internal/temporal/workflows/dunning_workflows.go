package workflows

import (
	"time"

	"github.com/flexprice/dunning/internal/service"
	"github.com/flexprice/dunning/internal/temporal/activities"
	"github.com/flexprice/dunning/internal/temporal/models"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// WorkflowDunningSweep must match the function name
const WorkflowDunningSweep = "DunningSweepWorkflow"

// DunningSweepWorkflow runs on the temporal cron schedule in place of the in
// process ticker. The sweep itself is idempotent, so a retried activity only
// picks up what is still due.
func DunningSweepWorkflow(ctx workflow.Context, input models.DunningSweepWorkflowInput) (*models.DunningSweepWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var sweep service.SweepResult
	if err := workflow.ExecuteActivity(ctx, activities.ActivityRunDunningSweep).Get(ctx, &sweep); err != nil {
		logger.Error("Dunning sweep failed", "error", err)
		return nil, err
	}

	result := &models.DunningSweepWorkflowResult{
		Retries:        sweep.Retries,
		InitialCharges: sweep.InitialCharges,
		Generated:      sweep.Generated,
		Skipped:        sweep.Skipped,
		Conflicts:      sweep.Conflicts,
		Failed:         sweep.Failed,
	}

	if input.RelayOutbox {
		var relay service.RelayResult
		if err := workflow.ExecuteActivity(ctx, activities.ActivityRelayOutbox).Get(ctx, &relay); err != nil {
			// the relay tick delivers the messages later
			logger.Warn("Outbox relay after sweep failed", "error", err)
		} else {
			result.Published = relay.Published
		}
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("Dunning sweep workflow completed",
		"retries", result.Retries,
		"initial_charges", result.InitialCharges,
		"generated", result.Generated,
		"conflicts", result.Conflicts,
		"failed", result.Failed,
	)
	return result, nil
}
