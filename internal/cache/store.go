package cache

import (
	"context"
	"time"
)

// Tier names for the four independent caches. Used for key prefixes,
// logging fields and metrics labels.
const (
	TierListing = "listing"
	TierDetail  = "detail"
	TierImage   = "image"
	TierCursor  = "cursor"
)

// Store is the interface used by the handlers and the pagination manager.
// Values are opaque byte slices; callers own serialization. Each tier gets
// its own Store instance with its own capacity and TTL; key namespaces are
// never shared.
//
// Implemented by the in-memory LRU store (default) and the Redis store
// (multi-replica deployments).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Config describes one cache tier.
type Config struct {
	Tier     string
	Backend  string // "memory" or "redis"
	Capacity int
	TTL      time.Duration
	Prefix   string
}
