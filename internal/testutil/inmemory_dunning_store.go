package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/flexprice/dunning/internal/domain/dunning"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
)

// InMemoryPolicyStore implements dunning.PolicyRepository
type InMemoryPolicyStore struct {
	*InMemoryStore[*dunning.RetryPolicy]
	mu sync.Mutex
}

func NewInMemoryPolicyStore() *InMemoryPolicyStore {
	return &InMemoryPolicyStore{InMemoryStore: NewInMemoryStore[*dunning.RetryPolicy]()}
}

func (s *InMemoryPolicyStore) Create(ctx context.Context, p *dunning.RetryPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Segment != "" {
		if _, err := s.getBySegment(ctx, p.Segment); err == nil {
			return ierr.NewError("a policy already exists for the segment").
				WithReportableDetails(map[string]interface{}{"segment": p.Segment}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	return s.InMemoryStore.Create(ctx, p.ID, p.Clone())
}

func (s *InMemoryPolicyStore) Get(ctx context.Context, id string) (*dunning.RetryPolicy, error) {
	p, err := s.InMemoryStore.Get(ctx, id)
	if err != nil || p.Status != types.StatusPublished {
		return nil, ierr.NewError("retry policy not found").
			WithHint("Retry policy not found").
			WithReportableDetails(map[string]interface{}{"policy_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *InMemoryPolicyStore) GetBySegment(ctx context.Context, segment string) (*dunning.RetryPolicy, error) {
	return s.getBySegment(ctx, segment)
}

func (s *InMemoryPolicyStore) getBySegment(ctx context.Context, segment string) (*dunning.RetryPolicy, error) {
	items, _ := s.InMemoryStore.List(ctx, segment, func(_ context.Context, p *dunning.RetryPolicy, filter interface{}) bool {
		return p.Status == types.StatusPublished && strings.EqualFold(p.Segment, filter.(string))
	}, nil)
	if len(items) == 0 {
		return nil, ierr.NewError("retry policy not found for segment").
			WithReportableDetails(map[string]interface{}{"segment": segment}).
			Mark(ierr.ErrNotFound)
	}
	return items[0].Clone(), nil
}

func (s *InMemoryPolicyStore) Update(ctx context.Context, p *dunning.RetryPolicy) error {
	p.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, p.ID, p.Clone())
}

func (s *InMemoryPolicyStore) List(ctx context.Context) ([]*dunning.RetryPolicy, error) {
	items, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, p *dunning.RetryPolicy, _ interface{}) bool {
		return p.Status == types.StatusPublished
	}, func(a, b *dunning.RetryPolicy) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(p *dunning.RetryPolicy, _ int) *dunning.RetryPolicy { return p.Clone() }), nil
}

// InMemoryCampaignStore implements dunning.CampaignRepository
type InMemoryCampaignStore struct {
	*InMemoryStore[*dunning.Campaign]
	assignments *InMemoryStore[*dunning.Assignment]
	mu          sync.Mutex
}

func NewInMemoryCampaignStore() *InMemoryCampaignStore {
	return &InMemoryCampaignStore{
		InMemoryStore: NewInMemoryStore[*dunning.Campaign](),
		assignments:   NewInMemoryStore[*dunning.Assignment](),
	}
}

func copyCampaign(c *dunning.Campaign) *dunning.Campaign {
	out := *c
	return &out
}

func copyAssignment(a *dunning.Assignment) *dunning.Assignment {
	out := *a
	return &out
}

func (s *InMemoryCampaignStore) Create(ctx context.Context, c *dunning.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.IsDefault {
		if _, err := s.GetDefault(ctx); err == nil {
			return ierr.NewError("a default campaign already exists").Mark(ierr.ErrAlreadyExists)
		}
	}
	return s.InMemoryStore.Create(ctx, c.ID, copyCampaign(c))
}

func (s *InMemoryCampaignStore) Get(ctx context.Context, id string) (*dunning.Campaign, error) {
	c, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("dunning campaign not found").
			WithReportableDetails(map[string]interface{}{"campaign_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyCampaign(c), nil
}

func (s *InMemoryCampaignStore) GetDefault(ctx context.Context) (*dunning.Campaign, error) {
	items, _ := s.InMemoryStore.List(ctx, nil, func(_ context.Context, c *dunning.Campaign, _ interface{}) bool {
		return c.IsDefault && c.Status == types.StatusPublished
	}, nil)
	if len(items) == 0 {
		return nil, ierr.NewError("no default dunning campaign").Mark(ierr.ErrNotFound)
	}
	return copyCampaign(items[0]), nil
}

func (s *InMemoryCampaignStore) GetAssignment(ctx context.Context, subscriptionID string) (*dunning.Assignment, error) {
	a, err := s.assignments.Get(ctx, subscriptionID)
	if err != nil {
		return nil, ierr.NewError("subscription has no dunning assignment").
			WithReportableDetails(map[string]interface{}{"subscription_id": subscriptionID}).
			Mark(ierr.ErrNotFound)
	}
	return copyAssignment(a), nil
}

func (s *InMemoryCampaignStore) UpsertAssignment(ctx context.Context, a *dunning.Assignment) error {
	a.UpdatedAt = time.Now().UTC()
	if _, err := s.assignments.Get(ctx, a.SubscriptionID); err != nil {
		return s.assignments.Create(ctx, a.SubscriptionID, copyAssignment(a))
	}
	return s.assignments.Update(ctx, a.SubscriptionID, copyAssignment(a))
}

// InMemoryRetryAttemptStore implements dunning.RetryAttemptRepository
type InMemoryRetryAttemptStore struct {
	*InMemoryStore[*dunning.RetryAttempt]
	mu sync.Mutex
}

func NewInMemoryRetryAttemptStore() *InMemoryRetryAttemptStore {
	return &InMemoryRetryAttemptStore{InMemoryStore: NewInMemoryStore[*dunning.RetryAttempt]()}
}

func copyAttempt(a *dunning.RetryAttempt) *dunning.RetryAttempt {
	out := *a
	return &out
}

func (s *InMemoryRetryAttemptStore) Create(ctx context.Context, a *dunning.RetryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.InMemoryStore.List(ctx, a.InvoiceID, attemptInvoiceFilterFn, nil)
	for _, other := range existing {
		if other.AttemptNumber == a.AttemptNumber {
			return ierr.NewError("retry attempt already recorded").
				WithReportableDetails(map[string]interface{}{
					"invoice_id":     a.InvoiceID,
					"attempt_number": a.AttemptNumber,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	return s.InMemoryStore.Create(ctx, a.ID, copyAttempt(a))
}

func (s *InMemoryRetryAttemptStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*dunning.RetryAttempt, error) {
	items, err := s.InMemoryStore.List(ctx, invoiceID, attemptInvoiceFilterFn, func(a, b *dunning.RetryAttempt) bool {
		return a.AttemptNumber < b.AttemptNumber
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(a *dunning.RetryAttempt, _ int) *dunning.RetryAttempt { return copyAttempt(a) }), nil
}

func (s *InMemoryRetryAttemptStore) GetLatestAttemptNumber(ctx context.Context, invoiceID string) (int, error) {
	items, _ := s.InMemoryStore.List(ctx, invoiceID, attemptInvoiceFilterFn, nil)
	latest := 0
	for _, a := range items {
		latest = max(latest, a.AttemptNumber)
	}
	return latest, nil
}

func (s *InMemoryRetryAttemptStore) ListAttemptedBetween(ctx context.Context, from, to time.Time) ([]*dunning.RetryAttempt, error) {
	items, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, a *dunning.RetryAttempt, _ interface{}) bool {
		return !a.AttemptedAt.Before(from) && a.AttemptedAt.Before(to)
	}, func(a, b *dunning.RetryAttempt) bool {
		return a.AttemptedAt.Before(b.AttemptedAt)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(a *dunning.RetryAttempt, _ int) *dunning.RetryAttempt { return copyAttempt(a) }), nil
}

func attemptInvoiceFilterFn(_ context.Context, a *dunning.RetryAttempt, filter interface{}) bool {
	return a.InvoiceID == filter.(string)
}

// InMemoryEmailStore implements dunning.EmailRepository and enforces the
// email dedup slots.
type InMemoryEmailStore struct {
	*InMemoryStore[*dunning.DunningEmail]
	mu    sync.Mutex
	slots map[string]string
}

func NewInMemoryEmailStore() *InMemoryEmailStore {
	return &InMemoryEmailStore{
		InMemoryStore: NewInMemoryStore[*dunning.DunningEmail](),
		slots:         make(map[string]string),
	}
}

func copyEmail(e *dunning.DunningEmail) *dunning.DunningEmail {
	out := *e
	return &out
}

func (s *InMemoryEmailStore) Create(ctx context.Context, e *dunning.DunningEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.DedupKey()
	if _, taken := s.slots[key]; taken {
		return ierr.NewError("dunning email already recorded").
			WithReportableDetails(map[string]interface{}{
				"invoice_id": e.InvoiceID,
				"email_type": e.EmailType,
			}).
			Mark(ierr.ErrAlreadyExists)
	}
	if err := s.InMemoryStore.Create(ctx, e.ID, copyEmail(e)); err != nil {
		return err
	}
	s.slots[key] = e.ID
	return nil
}

func (s *InMemoryEmailStore) Get(ctx context.Context, id string) (*dunning.DunningEmail, error) {
	e, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("dunning email not found").
			WithReportableDetails(map[string]interface{}{"email_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyEmail(e), nil
}

func (s *InMemoryEmailStore) Update(ctx context.Context, e *dunning.DunningEmail) error {
	e.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, e.ID, copyEmail(e))
}

func (s *InMemoryEmailStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*dunning.DunningEmail, error) {
	items, err := s.InMemoryStore.List(ctx, invoiceID, func(_ context.Context, e *dunning.DunningEmail, filter interface{}) bool {
		return e.InvoiceID == filter.(string)
	}, func(a, b *dunning.DunningEmail) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.AttemptNumber < b.AttemptNumber
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(e *dunning.DunningEmail, _ int) *dunning.DunningEmail { return copyEmail(e) }), nil
}

// InMemoryActionStore implements dunning.ActionRepository
type InMemoryActionStore struct {
	*InMemoryStore[*dunning.Action]
}

func NewInMemoryActionStore() *InMemoryActionStore {
	return &InMemoryActionStore{InMemoryStore: NewInMemoryStore[*dunning.Action]()}
}

func (s *InMemoryActionStore) Create(ctx context.Context, a *dunning.Action) error {
	c := *a
	c.Details = lo.Assign(map[string]any{}, a.Details)
	return s.InMemoryStore.Create(ctx, a.ID, &c)
}

func (s *InMemoryActionStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*dunning.Action, error) {
	return s.InMemoryStore.List(ctx, subscriptionID, func(_ context.Context, a *dunning.Action, filter interface{}) bool {
		return a.SubscriptionID == filter.(string)
	}, func(a, b *dunning.Action) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
