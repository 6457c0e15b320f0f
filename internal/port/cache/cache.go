// Package cache defines the port interface for the team-name cache.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value cache. A miss is (nil, false, nil);
// errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TeamNameKey is the cache key under which a team's display name is stored.
// Dots keep it valid as a NATS KV key.
func TeamNameKey(teamID string) string {
	return "team-name." + teamID
}
