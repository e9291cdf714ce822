// Package cache adapts the reservation service's hold cache for cleanup.
//
// The service tracks in-flight holds as expiring keys (locker:hold:{id}).
// Resetting the store without dropping those keys would leave resources
// held in the service's view, so reset flushes them as well.
package cache

import (
	"context"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN and the DEL chunk size.
const scanBatch = 200

// Options configures a Redis hold cache.
type Options struct {
	Addr     string
	Password string
	DB       int

	// Pattern selects hold keys. Defaults to "locker:hold:*".
	Pattern string
}

// Redis flushes hold keys from a Redis instance.
type Redis struct {
	client  *redis.Client
	pattern string
}

// NewRedis creates a hold cache client. No connection is made until first
// use.
func NewRedis(opts Options) *Redis {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "locker:hold:*"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		pattern: pattern,
	}
}

// FlushHolds deletes every key matching the hold pattern and returns how many
// were removed. SCAN is used instead of KEYS so a large keyspace is never
// blocked. Keys are collected over the full iteration before any is deleted,
// since deleting mid-scan can shift keys past the cursor.
func (r *Redis) FlushHolds(ctx context.Context) (int, error) {
	seen := make(map[string]struct{})
	var keys []string
	var cursor uint64
	for {
		page, next, err := r.client.Scan(ctx, cursor, r.pattern, scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("scan %q: %w", r.pattern, err)
		}
		for _, k := range page {
			// SCAN may return a key more than once
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	removed := 0
	for chunk := range slices.Chunk(keys, scanBatch) {
		n, err := r.client.Del(ctx, chunk...).Result()
		if err != nil {
			return removed, fmt.Errorf("delete hold keys: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}

// Ping verifies the cache is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}
