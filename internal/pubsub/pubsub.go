package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// PubSub is the message bus used between the outbox relay and the webhook
// and email handlers. Implementations satisfy message.Subscriber so they can
// be handed to the router directly.
type PubSub interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

const (
	// MetadataEventName carries the outbox event name of a message.
	MetadataEventName = "event_name"
	// MetadataAggregateID carries the invoice or subscription id the message
	// belongs to. The kafka backend partitions on it.
	MetadataAggregateID = "aggregate_id"
	MetadataRequestID   = "request_id"
)
