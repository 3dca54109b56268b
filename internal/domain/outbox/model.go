package outbox

import (
	"encoding/json"
	"time"

	"github.com/flexprice/dunning/internal/types"
)

// Message is a pending publication written in the same transaction as the
// state change that produced it.
type Message struct {
	ID            string             `db:"id" json:"id"`
	Topic         types.OutboxTopic  `db:"topic" json:"topic"`
	EventName     string             `db:"event_name" json:"event_name"`
	AggregateID   string             `db:"aggregate_id" json:"aggregate_id"`
	Payload       json.RawMessage    `db:"payload" json:"payload"`
	Status        types.OutboxStatus `db:"status" json:"status"`
	Attempts      int                `db:"attempts" json:"attempts"`
	NextAttemptAt time.Time          `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     string             `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	PublishedAt   *time.Time         `db:"published_at" json:"published_at,omitempty"`
}
