package invoice

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/types"
)

// Repository defines persistence for invoices. Update performs an optimistic
// version check and bumps Version on success.
type Repository interface {
	// Create fails with ErrAlreadyExists when the subscription already has an
	// invoice for the cycle.
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error

	// GetOpenBySubscription returns the single non terminal invoice of a
	// subscription or ErrNotFound.
	GetOpenBySubscription(ctx context.Context, subscriptionID string) (*Invoice, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Invoice, error)

	// ListDueForRetry returns past due invoices whose next retry or grace
	// deadline is at or before now.
	ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*Invoice, error)
	// ListAwaitingCharge returns pending or billed invoices that never got
	// their initial charge recorded.
	ListAwaitingCharge(ctx context.Context, limit int) ([]*Invoice, error)

	ListInDunning(ctx context.Context, filter *types.DunningCaseFilter) ([]*Invoice, error)
	CountInDunning(ctx context.Context, filter *types.DunningCaseFilter) (int, error)
	// CountCancelledBetween counts dunning runs that ended in cancellation.
	CountCancelledBetween(ctx context.Context, from, to time.Time) (int, error)
}
