package service

import (
	"context"
	"encoding/json"

	"github.com/flexprice/dunning/internal/domain/outbox"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	webhookDto "github.com/flexprice/dunning/internal/webhook/dto"
)

// EventPublisher appends dunning events to the outbox. Events are written in
// the transaction of the state change that produced them and delivered later
// by the outbox relay.
type EventPublisher interface {
	Append(ctx context.Context, event *webhookDto.InternalDunningEvent) error
}

type eventPublisher struct {
	ServiceParams
}

func NewEventPublisher(params ServiceParams) EventPublisher {
	return &eventPublisher{ServiceParams: params}
}

func (p *eventPublisher) Append(ctx context.Context, event *webhookDto.InternalDunningEvent) error {
	now := p.Clock.Now()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}

	data, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to marshal dunning event").
			Mark(ierr.ErrInternal)
	}

	envelope := types.WebhookEvent{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		EventName: event.EventType,
		UserID:    types.GetActor(ctx),
		Timestamp: event.OccurredAt,
		Payload:   data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to marshal webhook event").
			Mark(ierr.ErrInternal)
	}

	msg := &outbox.Message{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OUTBOX_MESSAGE),
		Topic:         types.OutboxTopicWebhook,
		EventName:     string(event.EventType),
		AggregateID:   event.InvoiceID,
		Payload:       payload,
		Status:        types.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	if err := p.OutboxRepo.Create(ctx, msg); err != nil {
		return err
	}

	p.Logger.Debugw("dunning event appended to outbox",
		"event_name", event.EventType,
		"invoice_id", event.InvoiceID,
		"outbox_id", msg.ID,
	)
	return nil
}
