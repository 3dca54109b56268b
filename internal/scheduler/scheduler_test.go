package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) RunOnce(ctx context.Context) (*service.SweepResult, error) {
	s.calls.Add(1)
	return &service.SweepResult{}, nil
}

type countingRelay struct {
	calls atomic.Int32
}

func (r *countingRelay) RelayOnce(ctx context.Context) (*service.RelayResult, error) {
	r.calls.Add(1)
	return &service.RelayResult{}, nil
}

func testConfig() *config.Configuration {
	cfg := config.GetDefaultConfig()
	cfg.Scheduler.TickInterval = time.Second
	cfg.Outbox.PollInterval = time.Second
	return cfg
}

func TestScheduler_RunsSweepAndRelay(t *testing.T) {
	sweeper := &countingSweeper{}
	relay := &countingRelay{}
	s := NewScheduler(testConfig(), logger.NewNoopLogger(), sweeper, relay)

	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Stop(ctx))
	}()

	assert.Eventually(t, func() bool {
		return sweeper.calls.Load() > 0 && relay.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_RelayOnly(t *testing.T) {
	sweeper := &countingSweeper{}
	relay := &countingRelay{}
	s := NewScheduler(testConfig(), logger.NewNoopLogger(), sweeper, relay)

	require.NoError(t, s.StartRelayOnly())
	assert.Eventually(t, func() bool {
		return relay.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(0), sweeper.calls.Load())
}
