package outbox

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, msg *Message) error
	// ClaimDue locks up to limit pending messages due at now. Messages locked
	// by another relay are skipped. Must run inside a transaction.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	// MarkFailed records a failed publish. A nil nextAttemptAt gives up.
	MarkFailed(ctx context.Context, id string, lastError string, nextAttemptAt *time.Time) error
}
