package subscription

import (
	"context"
	"time"
)

// Repository defines persistence for subscriptions. Update performs an
// optimistic version check and bumps Version on success.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error

	// ListDueForBilling returns active or trialing subscriptions whose
	// next_billing_at is at or before now, oldest first.
	ListDueForBilling(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}
