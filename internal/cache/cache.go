package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache is a best effort key value store. Misses and backend errors look the
// same to callers, who must always be able to fall back to the database.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	Delete(ctx context.Context, key string)
	DeleteByPrefix(ctx context.Context, prefix string)
	Flush(ctx context.Context)
}

const (
	PrefixRetryPolicy        = "retry_policy"
	PrefixRetryPolicySegment = "retry_policy_segment"
	PrefixDefaultCampaign    = "dunning_campaign_default"
)

// GenerateKey joins the prefix and params with colons.
func GenerateKey(prefix string, params ...interface{}) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, prefix)
	for _, p := range params {
		parts = append(parts, strings.ToLower(fmt.Sprintf("%v", p)))
	}
	return strings.Join(parts, ":")
}
