package pgsql

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/domain/subscription"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
)

const subscriptionColumns = `
	id, customer_id, customer_email, COALESCE(customer_segment, ''), currency, amount,
	billing_period, billing_period_count, billing_anchor, start_date, trial_start, trial_end,
	current_cycle, min_cycles, max_cycles, current_period_start, current_period_end,
	next_billing_at, last_billing_at, gateway, COALESCE(payment_method_ref, ''),
	COALESCE(gateway_customer_ref, ''), policy_override_id, subscription_status,
	cancel_reason, cancelled_at, version, status, created_at, updated_at,
	COALESCE(created_by, ''), COALESCE(updated_by, '')`

type subscriptionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{
		client: client,
		logger: logger,
	}
}

func scanSubscription(row rowScanner) (*subscription.Subscription, error) {
	var s subscription.Subscription
	err := row.Scan(
		&s.ID, &s.CustomerID, &s.CustomerEmail, &s.CustomerSegment, &s.Currency, &s.Amount,
		&s.BillingPeriod, &s.BillingPeriodCount, &s.BillingAnchor, &s.StartDate, &s.TrialStart, &s.TrialEnd,
		&s.CurrentCycle, &s.MinCycles, &s.MaxCycles, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.NextBillingAt, &s.LastBillingAt, &s.Gateway, &s.PaymentMethodRef,
		&s.GatewayCustomerRef, &s.PolicyOverrideID, &s.SubscriptionStatus,
		&s.CancelReason, &s.CancelledAt, &s.Version, &s.Status, &s.CreatedAt, &s.UpdatedAt,
		&s.CreatedBy, &s.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	span := StartRepositorySpan(ctx, "subscription", "create", map[string]interface{}{
		"subscription_id": sub.ID,
	})
	defer FinishSpan(span)

	r.logger.Debugw("creating subscription", "subscription_id", sub.ID, "customer_id", sub.CustomerID)

	if sub.Version == 0 {
		sub.Version = 1
	}

	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, customer_id, customer_email, customer_segment, currency, amount,
			billing_period, billing_period_count, billing_anchor, start_date, trial_start, trial_end,
			current_cycle, min_cycles, max_cycles, current_period_start, current_period_end,
			next_billing_at, last_billing_at, gateway, payment_method_ref,
			gateway_customer_ref, policy_override_id, subscription_status,
			cancel_reason, cancelled_at, version, status, created_at, updated_at,
			created_by, updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32
		)`,
		sub.ID, sub.CustomerID, sub.CustomerEmail, nullIfEmpty(sub.CustomerSegment), sub.Currency, sub.Amount,
		sub.BillingPeriod, sub.BillingPeriodCount, sub.BillingAnchor, sub.StartDate, sub.TrialStart, sub.TrialEnd,
		sub.CurrentCycle, sub.MinCycles, sub.MaxCycles, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.NextBillingAt, sub.LastBillingAt, sub.Gateway, nullIfEmpty(sub.PaymentMethodRef),
		nullIfEmpty(sub.GatewayCustomerRef), sub.PolicyOverrideID, sub.SubscriptionStatus,
		sub.CancelReason, sub.CancelledAt, sub.Version, sub.Status, sub.CreatedAt, sub.UpdatedAt,
		sub.CreatedBy, sub.UpdatedBy,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to create subscription", map[string]any{"subscription_id": sub.ID})
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	span := StartRepositorySpan(ctx, "subscription", "get", map[string]interface{}{
		"subscription_id": id,
	})
	defer FinishSpan(span)

	row := r.client.Querier(ctx).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 AND status = 'published'`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "Subscription not found", map[string]any{"subscription_id": id})
	}
	return sub, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	span := StartRepositorySpan(ctx, "subscription", "update", map[string]interface{}{
		"subscription_id": sub.ID,
		"version":         sub.Version,
	})
	defer FinishSpan(span)

	sub.UpdatedAt = time.Now().UTC()
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE subscriptions SET
			customer_email = $3, customer_segment = $4, amount = $5,
			trial_end = $6, current_cycle = $7, max_cycles = $8,
			current_period_start = $9, current_period_end = $10,
			next_billing_at = $11, last_billing_at = $12,
			payment_method_ref = $13, gateway_customer_ref = $14, policy_override_id = $15,
			subscription_status = $16, cancel_reason = $17, cancelled_at = $18,
			status = $19, updated_at = $20, updated_by = $21,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		sub.ID, sub.Version,
		sub.CustomerEmail, nullIfEmpty(sub.CustomerSegment), sub.Amount,
		sub.TrialEnd, sub.CurrentCycle, sub.MaxCycles,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.NextBillingAt, sub.LastBillingAt,
		nullIfEmpty(sub.PaymentMethodRef), nullIfEmpty(sub.GatewayCustomerRef), sub.PolicyOverrideID,
		sub.SubscriptionStatus, sub.CancelReason, sub.CancelledAt,
		sub.Status, sub.UpdatedAt, sub.UpdatedBy,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to update subscription", map[string]any{"subscription_id": sub.ID})
	}
	if err := expectOneRow(res, "subscription", sub.ID); err != nil {
		SetSpanError(span, err)
		return err
	}
	sub.Version++
	return nil
}

func (r *subscriptionRepository) ListDueForBilling(ctx context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	span := StartRepositorySpan(ctx, "subscription", "list_due_for_billing", map[string]interface{}{
		"limit": limit,
	})
	defer FinishSpan(span)

	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'published'
			AND next_billing_at <= $1
			AND (
				subscription_status = 'active'
				OR (subscription_status = 'trialing' AND (trial_end IS NULL OR trial_end <= $1))
			)
		ORDER BY next_billing_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "Failed to list subscriptions due for billing", nil)
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, dbError(err, "Failed to read subscription", nil)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "Failed to list subscriptions due for billing", nil)
	}
	return subs, nil
}
