// Package cache provides the read-through cache used by the cache-aside
// pattern: an in-process TTL map for tests and single-node deployments,
// and a Redis backend for anything shared.
//
// Both backends report an absent key as portal.ErrCacheMiss. Callers
// treat any cache failure as a miss; the store remains the source of
// truth.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal contract the service layer needs.
type Cache interface {
	// Get returns the cached value for key, or portal.ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A non-positive ttl means no
	// expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}
