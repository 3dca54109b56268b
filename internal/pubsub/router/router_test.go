package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/pubsub/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_RetriesFailedHandler(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.PubSub.MaxRetries = 2
	cfg.PubSub.InitialInterval = time.Millisecond
	cfg.PubSub.MaxInterval = 5 * time.Millisecond
	log := logger.NewNoopLogger()

	ps := memory.NewPubSub(cfg, log)
	r, err := NewRouter(cfg, log)
	require.NoError(t, err)

	var calls atomic.Int32
	done := make(chan struct{})
	r.AddNoPublisherHandler("test_handler", "dunning.webhooks", ps, func(msg *message.Message) error {
		if calls.Add(1) == 1 {
			return errors.New("temporary failure")
		}
		close(done)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	<-r.Running()

	require.NoError(t, ps.Publish(ctx, "dunning.webhooks", message.NewMessage("obx_1", []byte(`{}`))))

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("handler did not succeed after retry")
	}
	assert.Equal(t, int32(2), calls.Load())
	require.NoError(t, r.Close())
}

func TestRouter_RecoversPanics(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.PubSub.MaxRetries = 1
	cfg.PubSub.InitialInterval = time.Millisecond
	cfg.PubSub.MaxInterval = time.Millisecond
	log := logger.NewNoopLogger()

	ps := memory.NewPubSub(cfg, log)
	r, err := NewRouter(cfg, log)
	require.NoError(t, err)

	var calls atomic.Int32
	done := make(chan struct{})
	r.AddNoPublisherHandler("panicking_handler", "dunning.emails", ps, func(msg *message.Message) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		close(done)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	<-r.Running()

	require.NoError(t, ps.Publish(ctx, "dunning.emails", message.NewMessage("obx_2", []byte(`{}`))))

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("handler was not retried after panic")
	}
	require.NoError(t, r.Close())
}

func TestRouter_DropsExhaustedMessages(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.PubSub.MaxRetries = 1
	cfg.PubSub.InitialInterval = time.Millisecond
	cfg.PubSub.MaxInterval = time.Millisecond
	log := logger.NewNoopLogger()

	ps := memory.NewPubSub(cfg, log)
	r, err := NewRouter(cfg, log)
	require.NoError(t, err)

	var failing, healthy atomic.Int32
	done := make(chan struct{})
	r.AddNoPublisherHandler("failing_handler", "dunning.webhooks", ps, func(msg *message.Message) error {
		if msg.UUID == "obx_bad" {
			failing.Add(1)
			return errors.New("endpoint down")
		}
		healthy.Add(1)
		close(done)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = r.Run(ctx) }()
	<-r.Running()

	require.NoError(t, ps.Publish(ctx, "dunning.webhooks", message.NewMessage("obx_bad", []byte(`{}`))))
	require.NoError(t, ps.Publish(ctx, "dunning.webhooks", message.NewMessage("obx_good", []byte(`{}`))))

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("the next message was blocked by the failing one")
	}
	// one try plus one retry, then the message is acked
	assert.Equal(t, int32(2), failing.Load())
	assert.Equal(t, int32(1), healthy.Load())
	require.NoError(t, r.Close())
}
