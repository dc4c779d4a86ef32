package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsKV is a Cache backed by a JetStream key-value bucket, shared across
// api replicas. The bucket TTL applies to every entry; the per-call ttl
// argument is accepted for interface compatibility and ignored.
type NatsKV struct {
	kv nats.KeyValue
}

// NewNatsKV opens (or creates) the bucket with the given entry TTL.
func NewNatsKV(nc *nats.Conn, bucket string, ttl time.Duration) (*NatsKV, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("cache: jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucket,
			TTL:    ttl,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("cache: open bucket %s: %w", bucket, err)
	}
	return &NatsKV{kv: kv}, nil
}

// Get implements Cache.
func (c *NatsKV) Get(_ context.Context, key string) ([]byte, bool) {
	entry, err := c.kv.Get(key)
	if err != nil {
		return nil, false
	}
	return entry.Value(), true
}

// Set implements Cache.
func (c *NatsKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := c.kv.Put(key, value); err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	return nil
}

// Delete implements Cache.
func (c *NatsKV) Delete(_ context.Context, key string) error {
	if err := c.kv.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}
