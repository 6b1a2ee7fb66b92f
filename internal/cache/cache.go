// Package cache keeps recomputed report snapshots in Redis. Reports are
// derived data keyed by project and catalog version, so a stale entry is
// only ever one invalidation behind; every committed state mutation
// invalidates the project's entries and announces it on a pub/sub channel.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "evalflow:report"
	// ChannelInvalidations carries project ids whose reports went stale.
	ChannelInvalidations = "evalflow:invalidations"
)

// Cache wraps the Redis client for report snapshots.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect creates a Cache from a Redis URL.
func Connect(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &Cache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// New wraps an existing client, for tests.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func key(kind, projectID, catalogVersion string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, kind, projectID, catalogVersion)
}

// Get loads a cached report into out. Returns false on miss; cache read
// failures count as misses so a Redis outage never blocks a report.
func (c *Cache) Get(ctx context.Context, kind, projectID, catalogVersion string, out any) bool {
	data, err := c.client.Get(ctx, key(kind, projectID, catalogVersion)).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// Set stores a report snapshot with the configured TTL. Best effort.
func (c *Cache) Set(ctx context.Context, kind, projectID, catalogVersion string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.client.Set(ctx, key(kind, projectID, catalogVersion), data, c.ttl)
}

// Invalidate drops every cached report for the project and publishes the
// project id on the invalidation channel.
func (c *Cache) Invalidate(ctx context.Context, projectID string) error {
	pattern := fmt.Sprintf("%s:*:%s:*", keyPrefix, projectID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("drop cache key: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if err := c.client.Publish(ctx, ChannelInvalidations, projectID).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}
