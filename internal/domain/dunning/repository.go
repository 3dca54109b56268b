package dunning

import (
	"context"
	"time"
)

type PolicyRepository interface {
	Create(ctx context.Context, policy *RetryPolicy) error
	Get(ctx context.Context, id string) (*RetryPolicy, error)
	// GetBySegment returns the published policy bound to a customer segment.
	GetBySegment(ctx context.Context, segment string) (*RetryPolicy, error)
	Update(ctx context.Context, policy *RetryPolicy) error
	List(ctx context.Context) ([]*RetryPolicy, error)
}

type CampaignRepository interface {
	Create(ctx context.Context, campaign *Campaign) error
	Get(ctx context.Context, id string) (*Campaign, error)
	GetDefault(ctx context.Context) (*Campaign, error)

	GetAssignment(ctx context.Context, subscriptionID string) (*Assignment, error)
	// UpsertAssignment creates or replaces the assignment of a subscription.
	UpsertAssignment(ctx context.Context, assignment *Assignment) error
}

type RetryAttemptRepository interface {
	// Create fails with ErrAlreadyExists when (invoice_id, attempt_number)
	// is taken.
	Create(ctx context.Context, attempt *RetryAttempt) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*RetryAttempt, error)
	// GetLatestAttemptNumber returns 0 when the invoice has no attempts.
	GetLatestAttemptNumber(ctx context.Context, invoiceID string) (int, error)
	ListAttemptedBetween(ctx context.Context, from, to time.Time) ([]*RetryAttempt, error)
}

type EmailRepository interface {
	// Create fails with ErrAlreadyExists when the dedup slot is taken.
	Create(ctx context.Context, email *DunningEmail) error
	Get(ctx context.Context, id string) (*DunningEmail, error)
	Update(ctx context.Context, email *DunningEmail) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*DunningEmail, error)
}

type ActionRepository interface {
	Create(ctx context.Context, action *Action) error
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Action, error)
}
