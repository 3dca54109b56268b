package pgsql

import (
	"context"
	"encoding/json"

	"github.com/flexprice/dunning/internal/domain/dunning"
	"github.com/flexprice/dunning/internal/logger"
	"github.com/flexprice/dunning/internal/postgres"
)

type dunningActionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewDunningActionRepository(client postgres.IClient, logger *logger.Logger) dunning.ActionRepository {
	return &dunningActionRepository{
		client: client,
		logger: logger,
	}
}

func (r *dunningActionRepository) Create(ctx context.Context, a *dunning.Action) error {
	span := StartRepositorySpan(ctx, "dunning_action", "create", map[string]interface{}{
		"subscription_id": a.SubscriptionID,
		"action":          a.Action,
	})
	defer FinishSpan(span)

	details, err := jsonValue(a.Details)
	if err != nil {
		return err
	}

	_, err = r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO dunning_actions (
			id, subscription_id, invoice_id, action, reason, actor, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.SubscriptionID, a.InvoiceID, a.Action, nullIfEmpty(a.Reason), a.Actor, details, a.CreatedAt,
	)
	if err != nil {
		SetSpanError(span, err)
		return dbError(err, "Failed to record dunning action", map[string]any{"subscription_id": a.SubscriptionID})
	}
	return nil
}

func (r *dunningActionRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*dunning.Action, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT id, subscription_id, invoice_id, action, COALESCE(reason, ''), actor, details, created_at
		FROM dunning_actions
		WHERE subscription_id = $1
		ORDER BY created_at ASC`, subscriptionID)
	if err != nil {
		return nil, dbError(err, "Failed to list dunning actions", map[string]any{"subscription_id": subscriptionID})
	}
	defer rows.Close()

	var actions []*dunning.Action
	for rows.Next() {
		var (
			a       dunning.Action
			details []byte
		)
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.InvoiceID, &a.Action, &a.Reason, &a.Actor, &details, &a.CreatedAt); err != nil {
			return nil, dbError(err, "Failed to read dunning action", nil)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, dbError(err, "Failed to decode dunning action details", nil)
			}
		}
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err, "Failed to list dunning actions", nil)
	}
	return actions, nil
}
