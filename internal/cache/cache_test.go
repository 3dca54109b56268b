package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedPolicy struct {
	ID         string `json:"id"`
	MaxRetries int    `json:"max_retries"`
}

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	key := GenerateKey(PrefixRetryPolicy, "RPOL_1")
	assert.Equal(t, "retry_policy:rpol_1", key)

	c.Set(ctx, key, &cachedPolicy{ID: "rpol_1", MaxRetries: 3}, time.Minute)
	c.Set(ctx, GenerateKey(PrefixRetryPolicySegment, "enterprise"), &cachedPolicy{ID: "rpol_2"}, 0)

	value, ok := c.Get(ctx, key)
	require.True(t, ok)
	policy, ok := UnmarshalCacheValue[cachedPolicy](value)
	require.True(t, ok)
	assert.Equal(t, 3, policy.MaxRetries)

	c.DeleteByPrefix(ctx, PrefixRetryPolicy+":")
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
	_, ok = c.Get(ctx, GenerateKey(PrefixRetryPolicySegment, "enterprise"))
	assert.True(t, ok, "other prefixes survive")

	c.Flush(ctx)
	_, ok = c.Get(ctx, GenerateKey(PrefixRetryPolicySegment, "enterprise"))
	assert.False(t, ok)
}

func TestUnmarshalCacheValueFromJSON(t *testing.T) {
	policy, ok := UnmarshalCacheValue[cachedPolicy](`{"id":"rpol_1","max_retries":5}`)
	require.True(t, ok)
	assert.Equal(t, 5, policy.MaxRetries)

	_, ok = UnmarshalCacheValue[cachedPolicy](42)
	assert.False(t, ok)
	_, ok = UnmarshalCacheValue[cachedPolicy](nil)
	assert.False(t, ok)
}

func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	c := NewNoopCache()
	c.Set(ctx, "k", "v", time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}
