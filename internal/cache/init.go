package cache

import (
	"github.com/flexprice/dunning/internal/config"
	"github.com/flexprice/dunning/internal/logger"
	redisClient "github.com/flexprice/dunning/internal/redis"
)

// CacheType represents the type of cache to use
type CacheType string

const (
	// CacheTypeInMemory represents an in-memory cache
	CacheTypeInMemory CacheType = "inmemory"

	// CacheTypeRedis represents a Redis-backed cache
	CacheTypeRedis CacheType = "redis"
)

// Initialize picks the cache backend from config. A disabled cache is a
// no-op cache, and Redis falls back to memory when it cannot be reached.
func Initialize(cfg *config.Configuration, log *logger.Logger) Cache {
	log.Infow("initializing cache", "type", cfg.Cache.Type, "enabled", cfg.Cache.Enabled)

	if !cfg.Cache.Enabled {
		return NewNoopCache()
	}

	switch CacheType(cfg.Cache.Type) {
	case CacheTypeRedis:
		client, err := redisClient.NewClient(redisClient.ConfigFromConfiguration(cfg), log)
		if err != nil {
			log.Errorw("redis unavailable, falling back to in-memory cache", "error", err)
			break
		}
		InitializeRedisCache(client, log)
		return GetRedisCache()
	}

	InitializeInMemoryCache()
	return GetInMemoryCache()
}

type noopCache struct{}

// NewNoopCache returns a cache that never stores anything.
func NewNoopCache() Cache {
	return noopCache{}
}
