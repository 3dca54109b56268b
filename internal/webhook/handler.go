package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/pubsub"
	pubsubRouter "github.com/flexprice/dunning/internal/pubsub/router"
	"github.com/flexprice/dunning/internal/sentry"
	"github.com/flexprice/dunning/internal/types"
	"github.com/flexprice/dunning/internal/webhook/payload"
)

// Handler consumes dunning events from the webhook topic and delivers them.
type Handler struct {
	pubSub   pubsub.PubSub
	sender   Sender
	builders payload.PayloadBuilderFactory
	sentry   *sentry.Service
	logger   *logger.Logger
}

func NewHandler(
	pubSub pubsub.PubSub,
	sender Sender,
	builders payload.PayloadBuilderFactory,
	sentrySvc *sentry.Service,
	log *logger.Logger,
) *Handler {
	return &Handler{
		pubSub:   pubSub,
		sender:   sender,
		builders: builders,
		sentry:   sentrySvc,
		logger:   log,
	}
}

// RegisterHandler registers the webhook delivery handler with the router
func (h *Handler) RegisterHandler(router *pubsubRouter.Router, cfg *config.Configuration) {
	if h.sender == nil {
		h.logger.Infow("webhook delivery disabled by configuration")
		return
	}

	throttle := middleware.NewThrottle(cfg.PubSub.RateLimit, time.Second)
	router.AddNoPublisherHandler(
		"dunning_webhook_delivery_handler",
		string(types.OutboxTopicWebhook),
		h.pubSub,
		h.processMessage,
		throttle.Middleware,
	)
}

func (h *Handler) processMessage(msg *message.Message) error {
	var event types.WebhookEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		h.logger.Errorw("failed to unmarshal webhook event",
			"error", err,
			"message_uuid", msg.UUID,
		)
		return nil
	}

	err := h.Deliver(msg.Context(), &event)
	if err != nil {
		h.sentry.CaptureException(msg.Context(), err, map[string]string{
			"event_name": string(event.EventName),
			"event_id":   event.ID,
		})
	}
	return err
}

// Deliver builds the public payload of an event and sends it. Errors are
// returned so the router retries the message.
func (h *Handler) Deliver(ctx context.Context, event *types.WebhookEvent) error {
	builder, err := h.builders.GetBuilder(event.EventName)
	if err != nil {
		h.logger.Warnw("dropping webhook event without builder", "event_name", event.EventName)
		return nil
	}

	body, err := builder.BuildPayload(ctx, event.EventName, event.Payload)
	if err != nil {
		h.logger.Errorw("failed to build webhook payload",
			"error", err,
			"event_id", event.ID,
			"event_name", event.EventName,
		)
		return nil
	}

	if err := h.sender.Send(ctx, event, body); err != nil {
		h.logger.Errorw("failed to deliver webhook",
			"error", err,
			"event_id", event.ID,
			"event_name", event.EventName,
		)
		return err
	}

	h.logger.Infow("webhook delivered", "event_id", event.ID, "event_name", event.EventName)
	return nil
}
