package cache

import (
	"github.com/redis/go-redis/v9"
)

// NewStore builds one tier's store. The memory backend is the default and
// carries the full LRU semantics; redis is opt-in for shared deployments.
func NewStore(cfg Config, redisClient *redis.Client) Store {
	switch cfg.Backend {
	case "redis":
		prefix := cfg.Prefix
		if prefix == "" {
			prefix = cfg.Tier
		} else {
			prefix = prefix + ":" + cfg.Tier
		}
		return NewRedisStore(redisClient, prefix, cfg.TTL)
	default:
		return NewMemoryStore(cfg.Capacity, cfg.TTL)
	}
}
