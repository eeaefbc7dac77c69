package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

const redisKeyPrefix = "siteint:query:"

// RedisCache shares responses between instances. Expiry is left to Redis.
// Read failures are logged and reported as misses.
type RedisCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client redis.Cmdable, ttl time.Duration, m *metrics.Metrics, log *logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &RedisCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  log.WithComponent("query_cache"),
	}
}

func (c *RedisCache) observe(op string, start time.Time, err error) {
	c.metrics.RedisOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.RedisOperationErrors.WithLabelValues(op).Inc()
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.IntegratedResponse, bool) {
	start := time.Now()
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.observe("cache_get", start, nil)
		return nil, false
	}
	c.observe("cache_get", start, err)
	if err != nil {
		c.logger.Warn("Query cache read failed", logger.Err(err))
		return nil, false
	}

	var resp models.IntegratedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", logger.String("key", key), logger.Err(err))
		return nil, false
	}
	return &resp, true
}

func (c *RedisCache) Set(ctx context.Context, key string, resp *models.IntegratedResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	start := time.Now()
	err = c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err()
	c.observe("cache_set", start, err)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// InvalidateAll deletes every cached response with SCAN and DEL
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	start := time.Now()
	var cursor uint64
	var err error
	for {
		var keys []string
		keys, cursor, err = c.client.Scan(ctx, cursor, redisKeyPrefix+"*", 200).Result()
		if err != nil {
			break
		}
		if len(keys) > 0 {
			if err = c.client.Del(ctx, keys...).Err(); err != nil {
				break
			}
		}
		if cursor == 0 {
			break
		}
	}
	c.observe("cache_invalidate", start, err)
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Len counts cached responses; it scans the keyspace and is meant for diagnostics
func (c *RedisCache) Len(ctx context.Context) int {
	n := 0
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("Query cache scan failed", logger.Err(err))
	}
	return n
}
