package payload

import (
	"context"
	"encoding/json"

	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	webhookDto "github.com/flexprice/dunning/internal/webhook/dto"
)

// PayloadBuilder turns an internal outbox event into the public webhook body.
type PayloadBuilder interface {
	BuildPayload(ctx context.Context, eventType types.DunningEventName, data json.RawMessage) (json.RawMessage, error)
}

// PayloadBuilderFactory picks the builder of an event type.
type PayloadBuilderFactory interface {
	GetBuilder(eventType types.DunningEventName) (PayloadBuilder, error)
}

type payloadBuilderFactory struct {
	builders map[types.DunningEventName]PayloadBuilder
}

func NewPayloadBuilderFactory() PayloadBuilderFactory {
	dunningBuilder := NewDunningPayloadBuilder()
	return &payloadBuilderFactory{
		builders: map[types.DunningEventName]PayloadBuilder{
			types.EventDunningPaymentFailed:         dunningBuilder,
			types.EventDunningPaymentRecovered:      dunningBuilder,
			types.EventDunningSubscriptionCancelled: dunningBuilder,
		},
	}
}

func (f *payloadBuilderFactory) GetBuilder(eventType types.DunningEventName) (PayloadBuilder, error) {
	builder, ok := f.builders[eventType]
	if !ok {
		return nil, ierr.NewErrorf("no payload builder for event %s", eventType).
			Mark(ierr.ErrValidation)
	}
	return builder, nil
}

// DunningPayloadBuilder builds webhook payloads for dunning events
type DunningPayloadBuilder struct{}

func NewDunningPayloadBuilder() PayloadBuilder {
	return &DunningPayloadBuilder{}
}

func (b *DunningPayloadBuilder) BuildPayload(ctx context.Context, eventType types.DunningEventName, data json.RawMessage) (json.RawMessage, error) {
	var internalEvent webhookDto.InternalDunningEvent
	if err := json.Unmarshal(data, &internalEvent); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid dunning event payload").
			Mark(ierr.ErrValidation)
	}
	if internalEvent.EventType == "" {
		internalEvent.EventType = eventType
	}

	return json.Marshal(webhookDto.NewDunningWebhookPayload(&internalEvent))
}
