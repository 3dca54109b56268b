package pgsql

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/domain/outbox"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
	"github.com/flexprice/dunning/internal/types"
)

const outboxColumns = `
	id, topic, event_name, aggregate_id, payload, status, attempts, next_attempt_at,
	COALESCE(last_error, ''), created_at, published_at`

type outboxRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewOutboxRepository(client postgres.IClient, logger *logger.Logger) outbox.Repository {
	return &outboxRepository{
		client: client,
		logger: logger,
	}
}

func (r *outboxRepository) Create(ctx context.Context, msg *outbox.Message) error {
	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, topic, event_name, aggregate_id, payload, status, attempts, next_attempt_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.Topic, msg.EventName, msg.AggregateID, string(msg.Payload), msg.Status,
		msg.Attempts, msg.NextAttemptAt, msg.CreatedAt,
	)
	if err != nil {
		return dbError(err, "Failed to write outbox message", map[string]any{
			"topic":        msg.Topic,
			"aggregate_id": msg.AggregateID,
		})
	}
	return nil
}

func (r *outboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Message, error) {
	span := StartRepositorySpan(ctx, "outbox", "claim_due", map[string]interface{}{
		"limit": limit,
	})
	defer FinishSpan(span)

	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_messages
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC, created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, types.OutboxStatusPending, now, limit)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "Failed to claim outbox messages", nil)
	}
	defer rows.Close()

	var msgs []*outbox.Message
	for rows.Next() {
		var (
			m       outbox.Message
			payload []byte
		)
		if err := rows.Scan(
			&m.ID, &m.Topic, &m.EventName, &m.AggregateID, &payload, &m.Status, &m.Attempts,
			&m.NextAttemptAt, &m.LastError, &m.CreatedAt, &m.PublishedAt,
		); err != nil {
			return nil, dbError(err, "Failed to read outbox message", nil)
		}
		m.Payload = payload
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "Failed to claim outbox messages", nil)
	}
	return msgs, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, published_at = $3, attempts = attempts + 1, last_error = NULL
		WHERE id = $1`, id, types.OutboxStatusPublished, at)
	if err != nil {
		return dbError(err, "Failed to mark outbox message published", map[string]any{"id": id})
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, lastError string, nextAttemptAt *time.Time) error {
	var err error
	if nextAttemptAt == nil {
		_, err = r.client.Querier(ctx).ExecContext(ctx, `
			UPDATE outbox_messages
			SET status = $2, attempts = attempts + 1, last_error = $3
			WHERE id = $1`, id, types.OutboxStatusFailed, lastError)
	} else {
		_, err = r.client.Querier(ctx).ExecContext(ctx, `
			UPDATE outbox_messages
			SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
			WHERE id = $1`, id, lastError, *nextAttemptAt)
	}
	if err != nil {
		return dbError(err, "Failed to reschedule outbox message", map[string]any{"id": id})
	}
	return nil
}
