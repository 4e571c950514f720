// Package idempotency provides marker stores that record which side effects already happened.
package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL keeps markers well past any retry window.
const DefaultTTL = 90 * 24 * time.Hour

// Store records side-effect markers. Implemented by persistence.MarkerRepository and RedisStore.
type Store interface {
	// SetMarker records key and reports whether this call created it.
	SetMarker(ctx context.Context, key string) (bool, error)
	HasMarker(ctx context.Context, key string) (bool, error)
}

// StepKey identifies the side effect of one visit of a node by an execution.
func StepKey(executionID, nodeID string, visit int) string {
	return fmt.Sprintf("%s:%s:%d", executionID, nodeID, visit)
}

// FailureKey identifies the failure notification of an execution.
func FailureKey(executionID string) string {
	return executionID + ":failure"
}

// RedisStore keeps markers as Redis keys:
//
//	<prefix>marker:<key> => creation time (RFC3339)
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. prefix defaults to "nurture:".
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "nurture:"
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisStoreFromURL parses a redis:// URL and returns a store using it.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return NewRedisStore(redis.NewClient(options), "", DefaultTTL), nil
}

func (s *RedisStore) key(marker string) string {
	return s.prefix + "marker:" + marker
}

// SetMarker uses SET NX so exactly one caller creates the marker.
func (s *RedisStore) SetMarker(ctx context.Context, key string) (bool, error) {
	created, err := s.client.SetNX(ctx, s.key(key), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set marker %s: %w", key, err)
	}

	return created, nil
}

// HasMarker reports whether the marker exists.
func (s *RedisStore) HasMarker(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check marker %s: %w", key, err)
	}

	return count == 1, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// IsRedisURL reports whether url selects the Redis store.
func IsRedisURL(url string) bool {
	return strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://")
}
