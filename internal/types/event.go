package types

import (
	"encoding/json"
	"time"
)

// DunningEventName identifies an event emitted to the webhook collaborator.
type DunningEventName string

const (
	EventDunningPaymentFailed         DunningEventName = "dunning.payment_failed"
	EventDunningPaymentRecovered      DunningEventName = "dunning.payment_recovered"
	EventDunningSubscriptionCancelled DunningEventName = "dunning.subscription_cancelled"
)

// WebhookEvent is the envelope published on the webhook topic.
type WebhookEvent struct {
	ID        string           `json:"id"`
	EventName DunningEventName `json:"event_name"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

type OutboxTopic string

const (
	OutboxTopicWebhook OutboxTopic = "dunning.webhooks"
	OutboxTopicEmail   OutboxTopic = "dunning.emails"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)
