package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/dunning/internal/domain/outbox"
	"github.com/flexprice/dunning/internal/pubsub"
	"github.com/flexprice/dunning/internal/types"
)

// RelayResult counts what one relay pass did with the claimed messages.
type RelayResult struct {
	Claimed   int `json:"claimed"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// OutboxRelay moves committed outbox messages onto the pubsub topics.
type OutboxRelay interface {
	// RelayOnce claims and publishes one batch of due messages.
	RelayOnce(ctx context.Context) (*RelayResult, error)
}

type outboxRelay struct {
	ServiceParams
	pubSub pubsub.PubSub
}

func NewOutboxRelay(params ServiceParams, pubSub pubsub.PubSub) OutboxRelay {
	return &outboxRelay{ServiceParams: params, pubSub: pubSub}
}

func (r *outboxRelay) RelayOnce(ctx context.Context) (*RelayResult, error) {
	result := &RelayResult{}

	err := r.DB.WithTx(ctx, func(ctx context.Context) error {
		now := r.Clock.Now()
		messages, err := r.OutboxRepo.ClaimDue(ctx, now, r.Config.Outbox.BatchSize)
		if err != nil {
			return err
		}
		result.Claimed = len(messages)

		for _, msg := range messages {
			if err := r.publish(ctx, msg); err != nil {
				abandoned, markErr := r.markFailed(ctx, msg, err, now)
				if markErr != nil {
					return markErr
				}
				if abandoned {
					result.Abandoned++
				} else {
					result.Failed++
				}
				continue
			}

			if err := r.OutboxRepo.MarkPublished(ctx, msg.ID, now); err != nil {
				return err
			}
			result.Published++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Claimed > 0 {
		r.Logger.Debugw("outbox relay pass finished",
			"claimed", result.Claimed,
			"published", result.Published,
			"failed", result.Failed,
			"abandoned", result.Abandoned,
		)
	}
	return result, nil
}

func (r *outboxRelay) publish(ctx context.Context, msg *outbox.Message) error {
	// the outbox id doubles as the message uuid so consumers can dedupe
	wm := message.NewMessage(msg.ID, message.Payload(msg.Payload))
	wm.Metadata.Set(pubsub.MetadataEventName, msg.EventName)
	wm.Metadata.Set(pubsub.MetadataAggregateID, msg.AggregateID)
	if requestID := types.GetRequestID(ctx); requestID != "" {
		wm.Metadata.Set(pubsub.MetadataRequestID, requestID)
	}
	return r.pubSub.Publish(ctx, string(msg.Topic), wm)
}

// markFailed reschedules a message with exponential backoff, or gives up
// once max_attempts publishes failed.
func (r *outboxRelay) markFailed(ctx context.Context, msg *outbox.Message, cause error, now time.Time) (bool, error) {
	attempts := msg.Attempts + 1
	if attempts >= r.Config.Outbox.MaxAttempts {
		r.Logger.Errorw("outbox message abandoned after max attempts",
			"outbox_id", msg.ID,
			"topic", msg.Topic,
			"event_name", msg.EventName,
			"attempts", attempts,
			"error", cause,
		)
		return true, r.OutboxRepo.MarkFailed(ctx, msg.ID, cause.Error(), nil)
	}

	next := now.Add(r.backoffFor(attempts))
	r.Logger.Warnw("outbox publish failed, rescheduling",
		"outbox_id", msg.ID,
		"topic", msg.Topic,
		"attempts", attempts,
		"next_attempt_at", next,
		"error", cause,
	)
	return false, r.OutboxRepo.MarkFailed(ctx, msg.ID, cause.Error(), &next)
}

// backoffFor returns the wait before the publish that follows the given
// number of failures.
func (r *outboxRelay) backoffFor(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Config.Outbox.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	if r.Config.Outbox.MaxBackoff > 0 {
		b.MaxInterval = r.Config.Outbox.MaxBackoff
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	wait := b.InitialInterval
	for i := 0; i < attempts; i++ {
		wait = b.NextBackOff()
	}
	return wait
}
