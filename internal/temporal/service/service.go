package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/flexprice/dunning/internal/config"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/sentry"
	"github.com/flexprice/dunning/internal/temporal/activities"
	temporalInterceptor "github.com/flexprice/dunning/internal/temporal/interceptor"
	"github.com/flexprice/dunning/internal/temporal/models"
	"github.com/flexprice/dunning/internal/temporal/workflows"
	"github.com/flexprice/dunning/internal/types"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/fx"
)

// TemporalService runs the dunning worker and starts dunning workflows
type TemporalService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsHealthy(ctx context.Context) bool

	// ScheduleSweep starts the cron sweep workflow. Starting it again while a
	// run exists is a no-op.
	ScheduleSweep(ctx context.Context) (client.WorkflowRun, error)
}

type temporalService struct {
	cfg        *config.TemporalConfig
	client     client.Client
	worker     worker.Worker
	activities *activities.DunningActivities
	logger     *logger.Logger
	sentry     *sentry.Service
}

func NewTemporalService(
	cfg *config.Configuration,
	dunningActivities *activities.DunningActivities,
	logger *logger.Logger,
	sentryService *sentry.Service,
) TemporalService {
	return &temporalService{
		cfg:        &cfg.Temporal,
		activities: dunningActivities,
		logger:     logger,
		sentry:     sentryService,
	}
}

// Start dials the server, registers the dunning workflows and activities on
// the configured task queue and starts polling.
func (s *temporalService) Start(ctx context.Context) error {
	c, err := client.Dial(client.Options{
		HostPort:  s.cfg.Address,
		Namespace: s.cfg.Namespace,
		Logger:    s.logger.GetTemporalLogger(),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to temporal: %w", err)
	}
	s.client = c

	w := worker.New(c, s.cfg.TaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{
			temporalInterceptor.NewSentryInterceptor(s.sentry),
		},
	})
	s.register(w)
	if err := w.Start(); err != nil {
		c.Close()
		return fmt.Errorf("failed to start temporal worker: %w", err)
	}
	s.worker = w

	s.logger.Infow("temporal worker started",
		"address", s.cfg.Address,
		"namespace", s.cfg.Namespace,
		"task_queue", s.cfg.TaskQueue,
	)
	return nil
}

func (s *temporalService) register(w worker.Registry) {
	w.RegisterWorkflowWithOptions(workflows.DunningSweepWorkflow, workflow.RegisterOptions{
		Name: types.TemporalDunningSweepWorkflow.String(),
	})

	w.RegisterActivityWithOptions(s.activities.RunDunningSweep, activity.RegisterOptions{
		Name: activities.ActivityRunDunningSweep,
	})
	w.RegisterActivityWithOptions(s.activities.RelayOutbox, activity.RegisterOptions{
		Name: activities.ActivityRelayOutbox,
	})
}

func (s *temporalService) Stop(ctx context.Context) error {
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.client != nil {
		s.client.Close()
	}
	s.logger.Infow("temporal service stopped")
	return nil
}

func (s *temporalService) IsHealthy(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	_, err := s.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err == nil
}

func (s *temporalService) ScheduleSweep(ctx context.Context) (client.WorkflowRun, error) {
	if s.cfg.SweepCron == "" {
		return nil, ierr.NewError("sweep cron is not configured").
			WithHint("Set temporal.sweep_cron to schedule the dunning sweep").
			Mark(ierr.ErrValidation)
	}

	workflowID := types.TemporalDunningSweepWorkflow.WorkflowID("")
	run, err := s.execute(ctx, client.StartWorkflowOptions{
		ID:                                       workflowID,
		CronSchedule:                             s.cfg.SweepCron,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, types.TemporalDunningSweepWorkflow, models.DunningSweepWorkflowInput{RelayOutbox: true})

	var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &alreadyStarted) {
		s.logger.Infow("dunning sweep already scheduled",
			"workflow_id", workflowID,
			"run_id", alreadyStarted.RunId,
		)
		return s.client.GetWorkflow(ctx, workflowID, alreadyStarted.RunId), nil
	}
	return run, err
}

func (s *temporalService) execute(ctx context.Context, options client.StartWorkflowOptions, workflowType types.TemporalWorkflowType, input interface{}) (client.WorkflowRun, error) {
	if err := workflowType.Validate(); err != nil {
		return nil, err
	}
	if s.client == nil {
		return nil, ierr.NewError("temporal service is not started").
			WithHint("Enable temporal to run dunning workflows").
			Mark(ierr.ErrSystem)
	}

	options.TaskQueue = s.cfg.TaskQueue
	run, err := s.client.ExecuteWorkflow(ctx, options, workflowType.String(), input)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to start workflow").
			WithReportableDetails(map[string]interface{}{
				"workflow_type": workflowType,
				"workflow_id":   options.ID,
			}).
			Mark(ierr.ErrSystem)
	}

	s.logger.Infow("started workflow",
		"workflow_type", workflowType,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run, nil
}

// Module runs the temporal worker with the application when temporal is
// enabled and, in temporal scheduler mode, starts the cron sweep.
func Module(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger, s TemporalService) {
	if !cfg.Temporal.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Start(ctx); err != nil {
				return err
			}
			if cfg.Scheduler.Enabled && cfg.Scheduler.Mode == "temporal" {
				if _, err := s.ScheduleSweep(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
	log.Infow("temporal enabled", "task_queue", cfg.Temporal.TaskQueue)
}
