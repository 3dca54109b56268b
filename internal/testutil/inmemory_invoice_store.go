package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/dunning/internal/domain/invoice"
	ierr "github.com/flexprice/dunning/internal/errors"
	"github.com/flexprice/dunning/internal/types"
	"github.com/samber/lo"
)

// InMemoryInvoiceStore implements invoice.Repository. It enforces the same
// unique constraints as the invoices table: one invoice per cycle and one
// open invoice per subscription.
type InMemoryInvoiceStore struct {
	*InMemoryStore[*invoice.Invoice]
	mu sync.Mutex
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InMemoryStore: NewInMemoryStore[*invoice.Invoice](),
	}
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	if inv == nil {
		return nil
	}
	c := *inv
	c.LineItems = append([]invoice.LineItem(nil), inv.LineItems...)
	c.PolicySnapshot = inv.PolicySnapshot.Clone()
	return &c
}

func copyInvoices(items []*invoice.Invoice) []*invoice.Invoice {
	return lo.Map(items, func(inv *invoice.Invoice, _ int) *invoice.Invoice {
		return copyInvoice(inv)
	})
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	if inv == nil {
		return ierr.NewError("invoice cannot be nil").Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.InMemoryStore.List(ctx, inv.SubscriptionID, invoiceSubscriptionFilterFn, nil)
	for _, other := range existing {
		if other.CycleNumber == inv.CycleNumber {
			return ierr.NewError("invoice already exists for cycle").
				WithHint("An invoice already exists for this billing cycle").
				WithReportableDetails(map[string]interface{}{
					"subscription_id": inv.SubscriptionID,
					"cycle_number":    inv.CycleNumber,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		if other.InvoiceStatus.IsOpen() && inv.InvoiceStatus.IsOpen() {
			return ierr.NewError("subscription already has an open invoice").
				WithReportableDetails(map[string]interface{}{
					"subscription_id": inv.SubscriptionID,
					"invoice_id":      other.ID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	if inv.Version == 0 {
		inv.Version = 1
	}
	return s.InMemoryStore.Create(ctx, inv.ID, copyInvoice(inv))
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("invoice not found").
			WithHint("Invoice not found").
			WithReportableDetails(map[string]interface{}{"invoice_id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.InMemoryStore.Get(ctx, inv.ID)
	if err != nil {
		return ierr.NewError("invoice not found").Mark(ierr.ErrNotFound)
	}
	if existing.Version != inv.Version {
		return ierr.NewErrorf("invoice %s was modified concurrently", inv.ID).
			Mark(ierr.ErrVersionConflict)
	}

	inv.Version++
	inv.UpdatedAt = time.Now().UTC()
	return s.InMemoryStore.Update(ctx, inv.ID, copyInvoice(inv))
}

func (s *InMemoryInvoiceStore) GetOpenBySubscription(ctx context.Context, subscriptionID string) (*invoice.Invoice, error) {
	items, _ := s.InMemoryStore.List(ctx, subscriptionID, invoiceSubscriptionFilterFn, invoiceCycleDescSortFn)
	for _, inv := range items {
		if inv.InvoiceStatus.IsOpen() {
			return copyInvoice(inv), nil
		}
	}
	return nil, ierr.NewError("open invoice not found").
		WithHint("Subscription has no open invoice").
		WithReportableDetails(map[string]interface{}{"subscription_id": subscriptionID}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryInvoiceStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*invoice.Invoice, error) {
	items, err := s.InMemoryStore.List(ctx, subscriptionID, invoiceSubscriptionFilterFn, func(a, b *invoice.Invoice) bool {
		return a.CycleNumber < b.CycleNumber
	})
	if err != nil {
		return nil, err
	}
	return copyInvoices(items), nil
}

func (s *InMemoryInvoiceStore) ListDueForRetry(ctx context.Context, now time.Time, limit int) ([]*invoice.Invoice, error) {
	items, err := s.InMemoryStore.List(ctx, now,
		func(_ context.Context, inv *invoice.Invoice, filter interface{}) bool {
			now := filter.(time.Time)
			if inv.InvoiceStatus != types.InvoiceStatusPastDue {
				return false
			}
			retryDue := inv.NextRetryAt != nil && !now.Before(*inv.NextRetryAt)
			graceDue := inv.GracePeriodEndsAt != nil && !now.Before(*inv.GracePeriodEndsAt)
			return retryDue || graceDue
		},
		func(a, b *invoice.Invoice) bool {
			return earliestDeadline(a).Before(earliestDeadline(b))
		})
	if err != nil {
		return nil, err
	}
	return copyInvoices(paginate(items, limit, 0)), nil
}

func (s *InMemoryInvoiceStore) ListAwaitingCharge(ctx context.Context, limit int) ([]*invoice.Invoice, error) {
	items, err := s.InMemoryStore.List(ctx, nil,
		func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
			return inv.InvoiceStatus == types.InvoiceStatusPending || inv.InvoiceStatus == types.InvoiceStatusBilled
		},
		func(a, b *invoice.Invoice) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		})
	if err != nil {
		return nil, err
	}
	return copyInvoices(paginate(items, limit, 0)), nil
}

func (s *InMemoryInvoiceStore) ListInDunning(ctx context.Context, filter *types.DunningCaseFilter) ([]*invoice.Invoice, error) {
	if filter == nil {
		filter = types.NewDunningCaseFilter()
	}
	items, err := s.InMemoryStore.List(ctx, filter, dunningCaseFilterFn, func(a, b *invoice.Invoice) bool {
		switch {
		case a.NextRetryAt == nil:
			return false
		case b.NextRetryAt == nil:
			return true
		case a.NextRetryAt.Equal(*b.NextRetryAt):
			return a.ID < b.ID
		default:
			return a.NextRetryAt.Before(*b.NextRetryAt)
		}
	})
	if err != nil {
		return nil, err
	}
	return copyInvoices(paginate(items, filter.GetLimit(), filter.GetOffset())), nil
}

func (s *InMemoryInvoiceStore) CountInDunning(ctx context.Context, filter *types.DunningCaseFilter) (int, error) {
	items, err := s.InMemoryStore.List(ctx, filter, dunningCaseFilterFn, nil)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (s *InMemoryInvoiceStore) CountCancelledBetween(ctx context.Context, from, to time.Time) (int, error) {
	items, err := s.InMemoryStore.List(ctx, nil,
		func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
			return inv.InvoiceStatus == types.InvoiceStatusCancelled &&
				inv.DunningStartedAt != nil &&
				inv.CancelledAt != nil &&
				!inv.CancelledAt.Before(from) && inv.CancelledAt.Before(to)
		}, nil)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func invoiceSubscriptionFilterFn(_ context.Context, inv *invoice.Invoice, filter interface{}) bool {
	subscriptionID, _ := filter.(string)
	return inv.SubscriptionID == subscriptionID && inv.Status != types.StatusArchived
}

func invoiceCycleDescSortFn(a, b *invoice.Invoice) bool {
	return a.CycleNumber > b.CycleNumber
}

func dunningCaseFilterFn(_ context.Context, inv *invoice.Invoice, filter interface{}) bool {
	if inv.InvoiceStatus != types.InvoiceStatusPastDue {
		return false
	}
	f, ok := filter.(*types.DunningCaseFilter)
	if !ok || f == nil {
		return true
	}
	if len(f.SubscriptionIDs) > 0 && !lo.Contains(f.SubscriptionIDs, inv.SubscriptionID) {
		return false
	}
	if f.CustomerID != "" && inv.CustomerID != f.CustomerID {
		return false
	}
	if f.DueBefore != nil && (inv.NextRetryAt == nil || inv.NextRetryAt.After(*f.DueBefore)) {
		return false
	}
	return true
}

func earliestDeadline(inv *invoice.Invoice) time.Time {
	var deadlines []time.Time
	if inv.NextRetryAt != nil {
		deadlines = append(deadlines, *inv.NextRetryAt)
	}
	if inv.GracePeriodEndsAt != nil {
		deadlines = append(deadlines, *inv.GracePeriodEndsAt)
	}
	if len(deadlines) == 0 {
		return time.Time{}
	}
	return lo.MinBy(deadlines, func(a, b time.Time) bool { return a.Before(b) })
}
