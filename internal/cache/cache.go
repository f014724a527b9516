// Package cache stores JSON-encoded values under string keys with a TTL.
package cache

import (
	"context"
	"time"
)

type Store interface {
	// Get decodes the value for key into result and reports whether it was found.
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}
