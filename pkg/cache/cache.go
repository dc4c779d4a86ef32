// Package cache provides a small byte cache with TTL semantics, backed
// either by process memory or by a NATS JetStream key-value bucket.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores opaque values under string keys with a lifetime.
type Cache interface {
	// Get returns the value and whether it was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key for at most ttl. A zero ttl means the
	// backend's default lifetime.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key if present.
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key and unmarshals it into T.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var v T
	data, ok := c.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false
	}
	return v, true
}

// SetJSON marshals v and stores it under key.
func SetJSON[T any](ctx context.Context, c Cache, key string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
