package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pa-policy-engine/internal/domain"
)

// RedisDiffCache memoizes computed policy diffs in Redis. Diffs are pure
// functions of their two version documents, so entries only expire to bound
// memory, never for correctness.
type RedisDiffCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDiffCache connects to Redis and verifies the connection.
func NewRedisDiffCache(config domain.CacheConfig) (*RedisDiffCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.DiffTTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisDiffCache{redis: client, ttl: ttl}, nil
}

// Get retrieves a cached diff. A corrupted entry is deleted and reported as a
// miss.
func (c *RedisDiffCache) Get(ctx context.Context, payer, medication, oldVersion, newVersion string) (*domain.PolicyDiff, bool, error) {
	key := diffKey(payer, medication, oldVersion, newVersion)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get diff cache entry: %w", err)
	}

	var diff domain.PolicyDiff
	if err := json.Unmarshal([]byte(val), &diff); err != nil {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}
	return &diff, true, nil
}

// Set stores a computed diff under its version-pair key.
func (c *RedisDiffCache) Set(ctx context.Context, diff *domain.PolicyDiff) error {
	key := diffKey(diff.PayerName, diff.MedicationName, diff.OldVersion, diff.NewVersion)

	data, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("failed to marshal diff for cache: %w", err)
	}
	return c.redis.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate removes all cached diffs for one (payer, medication) pair, for
// use when a stored version document is corrected in place. Keys are walked
// with SCAN so the sweep never blocks Redis on a large keyspace.
func (c *RedisDiffCache) Invalidate(ctx context.Context, payer, medication string) error {
	pattern := fmt.Sprintf("diff:%s:*", pairHash(payer, medication))

	var keys []string
	iter := c.redis.Scan(ctx, 0, pattern, 128).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan diff cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// Ping checks the Redis connection.
func (c *RedisDiffCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisDiffCache) Close() error {
	return c.redis.Close()
}

// diffKey builds the cache key. Payer and medication are hashed so arbitrary
// names never produce pathological keys; versions stay readable for
// debugging with redis-cli.
func diffKey(payer, medication, oldVersion, newVersion string) string {
	return fmt.Sprintf("diff:%s:%s:%s", pairHash(payer, medication), oldVersion, newVersion)
}

func pairHash(payer, medication string) string {
	data := strings.ToLower(payer) + "|" + strings.ToLower(medication)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:8])
}
