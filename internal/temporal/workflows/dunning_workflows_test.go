package workflows

import (
	"context"
	"testing"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/service"
	"github.com/flexprice/dunning/internal/temporal/activities"
	"github.com/flexprice/dunning/internal/temporal/models"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

type stubSweeper struct {
	result *service.SweepResult
	err    error
}

func (s *stubSweeper) RunOnce(ctx context.Context) (*service.SweepResult, error) {
	return s.result, s.err
}

type stubRelay struct {
	calls int
}

func (r *stubRelay) RelayOnce(ctx context.Context) (*service.RelayResult, error) {
	r.calls++
	return &service.RelayResult{Claimed: 2, Published: 2}, nil
}

type DunningWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env     *testsuite.TestWorkflowEnvironment
	sweeper *stubSweeper
	relay   *stubRelay
}

func TestDunningWorkflows(t *testing.T) {
	suite.Run(t, new(DunningWorkflowSuite))
}

func (s *DunningWorkflowSuite) SetupTest() {
	s.sweeper = &stubSweeper{result: &service.SweepResult{Retries: 2, Generated: 3, Conflicts: 1}}
	s.relay = &stubRelay{}

	s.env = s.NewTestWorkflowEnvironment()
	acts := activities.NewDunningActivities(s.sweeper, s.relay, logger.NewNoopLogger())
	s.env.RegisterWorkflowWithOptions(DunningSweepWorkflow, workflow.RegisterOptions{Name: WorkflowDunningSweep})
	s.env.RegisterActivityWithOptions(acts.RunDunningSweep, activity.RegisterOptions{Name: activities.ActivityRunDunningSweep})
	s.env.RegisterActivityWithOptions(acts.RelayOutbox, activity.RegisterOptions{Name: activities.ActivityRelayOutbox})
}

func (s *DunningWorkflowSuite) TearDownTest() {
	s.env.AssertExpectations(s.T())
}

func (s *DunningWorkflowSuite) TestSweepWithRelay() {
	s.env.ExecuteWorkflow(WorkflowDunningSweep, models.DunningSweepWorkflowInput{RelayOutbox: true})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var result models.DunningSweepWorkflowResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(2, result.Retries)
	s.Equal(3, result.Generated)
	s.Equal(1, result.Conflicts)
	s.Equal(2, result.Published)
	s.Equal(1, s.relay.calls)
}

func (s *DunningWorkflowSuite) TestSweepWithoutRelay() {
	s.env.ExecuteWorkflow(WorkflowDunningSweep, models.DunningSweepWorkflowInput{})

	s.NoError(s.env.GetWorkflowError())
	var result models.DunningSweepWorkflowResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(0, result.Published)
	s.Equal(0, s.relay.calls)
}

func (s *DunningWorkflowSuite) TestSweepFailure() {
	s.sweeper.result = nil
	s.sweeper.err = ierr.NewError("database unavailable").Mark(ierr.ErrDatabase)

	s.env.ExecuteWorkflow(WorkflowDunningSweep, models.DunningSweepWorkflowInput{RelayOutbox: true})

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
	s.Equal(0, s.relay.calls)
}
