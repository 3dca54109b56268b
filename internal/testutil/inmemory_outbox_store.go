package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/dunning/internal/domain/outbox"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
)

// InMemoryOutboxStore implements outbox.Repository. ClaimDue hides claimed
// messages from concurrent claimers until they are marked.
type InMemoryOutboxStore struct {
	*InMemoryStore[*outbox.Message]
	mu      sync.Mutex
	claimed map[string]bool
}

func NewInMemoryOutboxStore() *InMemoryOutboxStore {
	return &InMemoryOutboxStore{
		InMemoryStore: NewInMemoryStore[*outbox.Message](),
		claimed:       make(map[string]bool),
	}
}

func copyMessage(m *outbox.Message) *outbox.Message {
	out := *m
	out.Payload = append([]byte(nil), m.Payload...)
	return &out
}

func (s *InMemoryOutboxStore) Create(ctx context.Context, m *outbox.Message) error {
	return s.InMemoryStore.Create(ctx, m.ID, copyMessage(m))
}

func (s *InMemoryOutboxStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, m *outbox.Message, _ interface{}) bool {
		return m.Status == types.OutboxStatusPending && !m.NextAttemptAt.After(now) && !s.claimed[m.ID]
	}, func(a, b *outbox.Message) bool {
		if a.NextAttemptAt.Equal(b.NextAttemptAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.NextAttemptAt.Before(b.NextAttemptAt)
	})
	if err != nil {
		return nil, err
	}

	items = paginate(items, limit, 0)
	for _, m := range items {
		s.claimed[m.ID] = true
	}
	return lo.Map(items, func(m *outbox.Message, _ int) *outbox.Message { return copyMessage(m) }), nil
}

func (s *InMemoryOutboxStore) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return s.mark(ctx, id, func(m *outbox.Message) {
		m.Status = types.OutboxStatusPublished
		m.PublishedAt = &at
		m.Attempts++
		m.LastError = ""
	})
}

func (s *InMemoryOutboxStore) MarkFailed(ctx context.Context, id string, lastError string, nextAttemptAt *time.Time) error {
	return s.mark(ctx, id, func(m *outbox.Message) {
		m.Attempts++
		m.LastError = lastError
		if nextAttemptAt == nil {
			m.Status = types.OutboxStatusFailed
			return
		}
		m.NextAttemptAt = *nextAttemptAt
	})
}

func (s *InMemoryOutboxStore) mark(ctx context.Context, id string, fn func(m *outbox.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return ierr.NewError("outbox message not found").
			WithReportableDetails(map[string]interface{}{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	updated := copyMessage(m)
	fn(updated)
	delete(s.claimed, id)
	return s.InMemoryStore.Update(ctx, id, updated)
}

// ListByTopic returns every message of a topic, oldest first.
func (s *InMemoryOutboxStore) ListByTopic(ctx context.Context, topic types.OutboxTopic) []*outbox.Message {
	items, _ := s.InMemoryStore.List(ctx, topic, func(_ context.Context, m *outbox.Message, filter interface{}) bool {
		return m.Topic == filter.(types.OutboxTopic)
	}, func(a, b *outbox.Message) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return items
}
