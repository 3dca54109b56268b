package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/dunning/internal/domain/subscription"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
)

// InMemorySubscriptionStore implements subscription.Repository
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]
	mu sync.Mutex
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscription.Subscription](),
	}
}

func copySubscription(s *subscription.Subscription) *subscription.Subscription {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").Mark(ierr.ErrValidation)
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	if err := s.InMemoryStore.Create(ctx, sub.ID, copySubscription(sub)); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			WithReportableDetails(map[string]interface{}{"subscription_id": sub.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			WithReportableDetails(map[string]interface{}{"subscription_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copySubscription(sub), nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.InMemoryStore.Get(ctx, sub.ID)
	if err != nil {
		return ierr.NewError("subscription not found").Mark(ierr.ErrNotFound)
	}
	if existing.Version != sub.Version {
		return ierr.NewErrorf("subscription %s was modified concurrently", sub.ID).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	sub.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, sub.ID, copySubscription(sub))
}

func (s *InMemorySubscriptionStore) ListDueForBilling(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	items, err := s.InMemoryStore.List(ctx, now, subscriptionDueFilterFn, func(a, b *subscription.Subscription) bool {
		return a.NextBillingAt.Before(b.NextBillingAt)
	})
	if err != nil {
		return nil, err
	}

	items = paginate(items, limit, 0)
	out := make([]*subscription.Subscription, len(items))
	for i, sub := range items {
		out[i] = copySubscription(sub)
	}
	return out, nil
}

func subscriptionDueFilterFn(_ context.Context, sub *subscription.Subscription, filter interface{}) bool {
	now, ok := filter.(time.Time)
	if !ok || sub.Status != types.StatusPublished {
		return false
	}
	return sub.IsDueForBilling(now)
}
