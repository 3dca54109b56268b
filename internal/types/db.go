package types

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// LockScope represents the scope of a database advisory lock
type LockScope string

const (
	// LockScopeSubscription guards every state change of one subscription
	// and its invoices.
	LockScopeSubscription LockScope = "subscription"
)

// GenerateLockKey builds a deterministic key in the form
// scope:key1=value1:key2=value2 with keys sorted. The request id is never
// part of the key so that every caller contends on the same lock.
func GenerateLockKey(_ context.Context, scope LockScope, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}
	return b.String()
}

// SubscriptionLockKey is the guard key for one subscription.
func SubscriptionLockKey(ctx context.Context, subscriptionID string) string {
	return GenerateLockKey(ctx, LockScopeSubscription, map[string]interface{}{
		"subscription_id": subscriptionID,
	})
}

// TableName represents a database table name
type TableName string

const (
	TableNameSubscriptions      TableName = "subscriptions"
	TableNameInvoices           TableName = "invoices"
	TableNameRetryAttempts      TableName = "retry_attempts"
	TableNameDunningEmails      TableName = "dunning_emails"
	TableNameRetryPolicies      TableName = "retry_policies"
	TableNameDunningCampaigns   TableName = "dunning_campaigns"
	TableNameDunningAssignments TableName = "dunning_assignments"
	TableNameDunningActions     TableName = "dunning_actions"
	TableNameOutboxMessages     TableName = "outbox_messages"
)
