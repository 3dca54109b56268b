package pgsql

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/cache"
	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
	"github.com/lib/pq"
)

const retryPolicyColumns = `
	id, name, COALESCE(segment, ''), max_retries, retry_intervals_days, grace_period_days,
	late_fee_after_retry, late_fee_amount, email_on_first_failure, email_on_final_failure,
	status, created_at, updated_at, COALESCE(created_by, ''), COALESCE(updated_by, '')`

type retryPolicyRepository struct {
	client   postgres.IClient
	log      *logger.Logger
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewRetryPolicyRepository returns a policy repository that caches reads.
// Policies are read on every dunning decision and change rarely.
func NewRetryPolicyRepository(client postgres.IClient, log *logger.Logger, c cache.Cache, ttl time.Duration) dunning.PolicyRepository {
	return &retryPolicyRepository{
		client:   client,
		log:      log,
		cache:    c,
		cacheTTL: ttl,
	}
}

func scanRetryPolicy(row rowScanner) (*dunning.RetryPolicy, error) {
	var (
		p         dunning.RetryPolicy
		intervals pq.Int64Array
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Segment, &p.MaxRetries, &intervals, &p.GracePeriodDays,
		&p.LateFeeAfterRetry, &p.LateFeeAmount, &p.EmailOnFirstFailure, &p.EmailOnFinalFailure,
		&p.Status, &p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	p.RetryIntervalsDays = fromInt64Array(intervals)
	return &p, nil
}

func (r *retryPolicyRepository) Create(ctx context.Context, p *dunning.RetryPolicy) error {
	span := StartRepositorySpan(ctx, "retry_policy", "create", map[string]interface{}{
		"policy_id": p.ID,
	})
	defer FinishSpan(span)

	r.log.Debugw("creating retry policy", "policy_id", p.ID, "segment", p.Segment)

	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO retry_policies (
			id, name, segment, max_retries, retry_intervals_days, grace_period_days,
			late_fee_after_retry, late_fee_amount, email_on_first_failure, email_on_final_failure,
			status, created_at, updated_at, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.Name, nullIfEmpty(p.Segment), p.MaxRetries, toInt64Array(p.RetryIntervalsDays), p.GracePeriodDays,
		p.LateFeeAfterRetry, p.LateFeeAmount, p.EmailOnFirstFailure, p.EmailOnFinalFailure,
		p.Status, p.CreatedAt, p.UpdatedAt, p.CreatedBy, p.UpdatedBy,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to create retry policy", map[string]any{
			"policy_id": p.ID,
			"segment":   p.Segment,
		})
	}
	return nil
}

func (r *retryPolicyRepository) Get(ctx context.Context, id string) (*dunning.RetryPolicy, error) {
	span := StartRepositorySpan(ctx, "retry_policy", "get", map[string]interface{}{
		"policy_id": id,
	})
	defer FinishSpan(span)

	key := cache.GenerateKey(cache.PrefixRetryPolicy, id)
	if cached := r.getCache(ctx, key); cached != nil {
		return cached, nil
	}

	row := r.client.Querier(ctx).QueryRowContext(ctx,
		`SELECT `+retryPolicyColumns+` FROM retry_policies WHERE id = $1 AND status = 'published'`, id)
	p, err := scanRetryPolicy(row)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "Retry policy not found", map[string]any{"policy_id": id})
	}

	r.cache.Set(ctx, key, p.Clone(), r.cacheTTL)
	return p, nil
}

func (r *retryPolicyRepository) GetBySegment(ctx context.Context, segment string) (*dunning.RetryPolicy, error) {
	span := StartRepositorySpan(ctx, "retry_policy", "get_by_segment", map[string]interface{}{
		"segment": segment,
	})
	defer FinishSpan(span)

	key := cache.GenerateKey(cache.PrefixRetryPolicySegment, segment)
	if cached := r.getCache(ctx, key); cached != nil {
		return cached, nil
	}

	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+retryPolicyColumns+`
		FROM retry_policies
		WHERE LOWER(segment) = LOWER($1) AND status = 'published'`, segment)
	p, err := scanRetryPolicy(row)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "No retry policy for segment", map[string]any{"segment": segment})
	}

	r.cache.Set(ctx, key, p.Clone(), r.cacheTTL)
	return p, nil
}

func (r *retryPolicyRepository) Update(ctx context.Context, p *dunning.RetryPolicy) error {
	span := StartRepositorySpan(ctx, "retry_policy", "update", map[string]interface{}{
		"policy_id": p.ID,
	})
	defer FinishSpan(span)

	p.UpdatedAt = time.Now().UTC()
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE retry_policies SET
			name = $2, segment = $3, max_retries = $4, retry_intervals_days = $5,
			grace_period_days = $6, late_fee_after_retry = $7, late_fee_amount = $8,
			email_on_first_failure = $9, email_on_final_failure = $10,
			status = $11, updated_at = $12, updated_by = $13
		WHERE id = $1`,
		p.ID, p.Name, nullIfEmpty(p.Segment), p.MaxRetries, toInt64Array(p.RetryIntervalsDays),
		p.GracePeriodDays, p.LateFeeAfterRetry, p.LateFeeAmount,
		p.EmailOnFirstFailure, p.EmailOnFinalFailure,
		p.Status, p.UpdatedAt, p.UpdatedBy,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to update retry policy", map[string]any{"policy_id": p.ID})
	}
	if err := expectOneRow(res, "retry policy", p.ID); err != nil {
		return err
	}

	// segment keys may point at this policy under its old segment
	r.cache.Delete(ctx, cache.GenerateKey(cache.PrefixRetryPolicy, p.ID))
	r.cache.DeleteByPrefix(ctx, cache.PrefixRetryPolicySegment+":")
	return nil
}

func (r *retryPolicyRepository) List(ctx context.Context) ([]*dunning.RetryPolicy, error) {
	span := StartRepositorySpan(ctx, "retry_policy", "list", nil)
	defer FinishSpan(span)

	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+retryPolicyColumns+`
		FROM retry_policies
		WHERE status = 'published'
		ORDER BY created_at ASC`)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "Failed to list retry policies", nil)
	}
	defer rows.Close()

	var policies []*dunning.RetryPolicy
	for rows.Next() {
		p, err := scanRetryPolicy(rows)
		if err != nil {
			return nil, dbError(err, "Failed to read retry policy", nil)
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "Failed to list retry policies", nil)
	}
	return policies, nil
}

// getCache returns a copy so callers may mutate the policy freely.
func (r *retryPolicyRepository) getCache(ctx context.Context, key string) *dunning.RetryPolicy {
	value, found := r.cache.Get(ctx, key)
	if !found {
		return nil
	}
	p, ok := cache.UnmarshalCacheValue[dunning.RetryPolicy](value)
	if !ok {
		return nil
	}
	return p.Clone()
}
