package memory

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/pubsub"
)

type PubSub struct {
	channel *gochannel.GoChannel
	logger  *logger.Logger
}

// NewPubSub returns an in process pubsub backed by watermill's gochannel.
// Messages published to a topic without subscribers are dropped, which is
// fine because the outbox keeps the source of truth.
func NewPubSub(cfg *config.Configuration, log *logger.Logger) pubsub.PubSub {
	channel := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.PubSub.OutputBuffer,
		Persistent:          false,
	}, log.GetWatermillLogger())

	return &PubSub{
		channel: channel,
		logger:  log,
	}
}

func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	msg.SetContext(ctx)
	p.logger.Debugw("publishing message to memory pubsub",
		"topic", topic,
		"message_uuid", msg.UUID,
	)
	return p.channel.Publish(topic, msg)
}

func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.channel.Subscribe(ctx, topic)
}

func (p *PubSub) Close() error {
	return p.channel.Close()
}
