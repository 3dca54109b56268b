package activities

import (
	"context"

	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/service"
	"github.com/flexprice/dunning/internal/types"
	"go.temporal.io/sdk/activity"
)

const (
	ActivityRunDunningSweep = "RunDunningSweep"
	ActivityRelayOutbox     = "RelayOutbox"
)

// DunningActivities exposes the dunning services to temporal workflows
type DunningActivities struct {
	sweeper service.DunningSweeper
	relay   service.OutboxRelay
	logger  *logger.Logger
}

func NewDunningActivities(
	sweeper service.DunningSweeper,
	relay service.OutboxRelay,
	logger *logger.Logger,
) *DunningActivities {
	return &DunningActivities{
		sweeper: sweeper,
		relay:   relay,
		logger:  logger,
	}
}

// RunDunningSweep runs one sweep. Failed work items are reported in the
// result, only a failure to load work fails the activity.
func (a *DunningActivities) RunDunningSweep(ctx context.Context) (*service.SweepResult, error) {
	ctx = types.SetActor(ctx, types.DefaultActor)
	info := activity.GetInfo(ctx)

	result, err := a.sweeper.RunOnce(ctx)
	if err != nil {
		a.logger.Errorw("dunning sweep activity failed",
			"error", err,
			"workflow_id", info.WorkflowExecution.ID,
			"attempt", info.Attempt,
		)
		return nil, err
	}
	return result, nil
}

func (a *DunningActivities) RelayOutbox(ctx context.Context) (*service.RelayResult, error) {
	return a.relay.RelayOnce(ctx)
}
