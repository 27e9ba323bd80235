// Package cache defines the cache contract used for short-lived vendor
// documents. Implementations live in sub packages.
package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned if a key is absent and cannot be loaded
var ErrCacheMiss = errors.New("cache miss")

// Cache is safe for concurrent use. Get either returns a cached value or
// loads it, Invalidate forces the next Get to load again.
type Cache[K comparable, V any] interface {
	Get(ctx context.Context, key K) (*V, error)
	Invalidate(ctx context.Context, key K)
	InvalidateAll(ctx context.Context)
}
