package scheduler

import (
	"context"
	"fmt"

	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
)

// Scheduler runs the dunning sweep and the outbox relay in process on a
// fixed tick. A tick that is still running when the next one fires is
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	sweeper service.DunningSweeper
	relay   service.OutboxRelay
	config  *config.Configuration
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(
	cfg *config.Configuration,
	log *logger.Logger,
	sweeper service.DunningSweeper,
	relay service.OutboxRelay,
) *Scheduler {
	cronLogger := log.GetCronLogger()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		), cron.WithLogger(cronLogger)),
		sweeper: sweeper,
		relay:   relay,
		config:  cfg,
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the sweep and relay jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	sweepSpec := fmt.Sprintf("@every %s", s.config.Scheduler.TickInterval)
	if _, err := s.cron.AddFunc(sweepSpec, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule dunning sweep: %w", err)
	}
	s.logger.Infow("scheduled dunning sweep", "schedule", sweepSpec)

	return s.StartRelayOnly()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) sweep() {
	if _, err := s.sweeper.RunOnce(s.ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Errorw("dunning sweep failed", "error", err)
	}
}

func (s *Scheduler) relayOnce() {
	if _, err := s.relay.RelayOnce(s.ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Errorw("outbox relay failed", "error", err)
	}
}

// Module starts the scheduler with the application when it is enabled in
// cron mode. In temporal mode the sweep runs as a workflow instead and only
// the relay is left to this scheduler.
func Module(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger, s *Scheduler) {
	if !cfg.Scheduler.Enabled {
		log.Infow("dunning scheduler disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Scheduler.Mode == "temporal" {
				return s.StartRelayOnly()
			}
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}

// StartRelayOnly schedules the outbox relay without the sweep.
func (s *Scheduler) StartRelayOnly() error {
	relaySpec := fmt.Sprintf("@every %s", s.config.Outbox.PollInterval)
	if _, err := s.cron.AddFunc(relaySpec, s.relayOnce); err != nil {
		return fmt.Errorf("failed to schedule outbox relay: %w", err)
	}
	s.logger.Infow("scheduled outbox relay", "schedule", relaySpec)
	s.cron.Start()
	return nil
}
