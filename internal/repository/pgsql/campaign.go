package pgsql

import (
	"context"
	"time"

	"github.com/flexprice/dunning/internal/cache"
	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
)

const campaignColumns = `
	id, name, policy_id, is_default, status, created_at, updated_at,
	COALESCE(created_by, ''), COALESCE(updated_by, '')`

const assignmentColumns = `
	id, subscription_id, campaign_id, policy_id, invoice_id, current_retry_step,
	started_at, completed_at, updated_at`

type campaignRepository struct {
	client   postgres.IClient
	log      *logger.Logger
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewCampaignRepository(client postgres.IClient, log *logger.Logger, c cache.Cache, ttl time.Duration) dunning.CampaignRepository {
	return &campaignRepository{
		client:   client,
		log:      log,
		cache:    c,
		cacheTTL: ttl,
	}
}

func scanCampaign(row rowScanner) (*dunning.Campaign, error) {
	var c dunning.Campaign
	if err := row.Scan(
		&c.ID, &c.Name, &c.PolicyID, &c.IsDefault, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		&c.CreatedBy, &c.UpdatedBy,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepository) Create(ctx context.Context, c *dunning.Campaign) error {
	span := StartRepositorySpan(ctx, "dunning_campaign", "create", map[string]interface{}{
		"campaign_id": c.ID,
	})
	defer FinishSpan(span)

	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO dunning_campaigns (
			id, name, policy_id, is_default, status, created_at, updated_at, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Name, c.PolicyID, c.IsDefault, c.Status, c.CreatedAt, c.UpdatedAt, c.CreatedBy, c.UpdatedBy,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to create dunning campaign", map[string]any{"campaign_id": c.ID})
	}
	if c.IsDefault {
		r.cache.Delete(ctx, cache.GenerateKey(cache.PrefixDefaultCampaign))
	}
	return nil
}

func (r *campaignRepository) Get(ctx context.Context, id string) (*dunning.Campaign, error) {
	span := StartRepositorySpan(ctx, "dunning_campaign", "get", map[string]interface{}{
		"campaign_id": id,
	})
	defer FinishSpan(span)

	row := r.client.Querier(ctx).QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM dunning_campaigns WHERE id = $1 AND status = 'published'`, id)
	c, err := scanCampaign(row)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "Dunning campaign not found", map[string]any{"campaign_id": id})
	}
	return c, nil
}

func (r *campaignRepository) GetDefault(ctx context.Context) (*dunning.Campaign, error) {
	span := StartRepositorySpan(ctx, "dunning_campaign", "get_default", nil)
	defer FinishSpan(span)

	key := cache.GenerateKey(cache.PrefixDefaultCampaign)
	if value, found := r.cache.Get(ctx, key); found {
		if c, ok := cache.UnmarshalCacheValue[dunning.Campaign](value); ok {
			copied := *c
			return &copied, nil
		}
	}

	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM dunning_campaigns
		WHERE is_default AND status = 'published'
		LIMIT 1`)
	c, err := scanCampaign(row)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "No default dunning campaign", nil)
	}

	copied := *c
	r.cache.Set(ctx, key, &copied, r.cacheTTL)
	return c, nil
}

func (r *campaignRepository) GetAssignment(ctx context.Context, subscriptionID string) (*dunning.Assignment, error) {
	span := StartRepositorySpan(ctx, "dunning_assignment", "get", map[string]interface{}{
		"subscription_id": subscriptionID,
	})
	defer FinishSpan(span)

	var a dunning.Assignment
	err := r.client.Querier(ctx).QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM dunning_assignments WHERE subscription_id = $1`, subscriptionID,
	).Scan(
		&a.ID, &a.SubscriptionID, &a.CampaignID, &a.PolicyID, &a.InvoiceID, &a.CurrentRetryStep,
		&a.StartedAt, &a.CompletedAt, &a.UpdatedAt,
	)
	if err != nil {
		SetSpanError(span, err)
		return nil, dbError(err, "Subscription has no dunning assignment", map[string]any{"subscription_id": subscriptionID})
	}
	return &a, nil
}

func (r *campaignRepository) UpsertAssignment(ctx context.Context, a *dunning.Assignment) error {
	span := StartRepositorySpan(ctx, "dunning_assignment", "upsert", map[string]interface{}{
		"subscription_id": a.SubscriptionID,
		"campaign_id":     a.CampaignID,
	})
	defer FinishSpan(span)

	a.UpdatedAt = time.Now().UTC()
	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO dunning_assignments (
			id, subscription_id, campaign_id, policy_id, invoice_id, current_retry_step,
			started_at, completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subscription_id) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			policy_id = EXCLUDED.policy_id,
			invoice_id = EXCLUDED.invoice_id,
			current_retry_step = EXCLUDED.current_retry_step,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.SubscriptionID, a.CampaignID, a.PolicyID, a.InvoiceID, a.CurrentRetryStep,
		a.StartedAt, a.CompletedAt, a.UpdatedAt,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to save dunning assignment", map[string]any{"subscription_id": a.SubscriptionID})
	}
	return nil
}
