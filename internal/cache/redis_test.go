package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/davidmoltin/site-integrations/pkg/logger"
)

// unreachableClient points at a port nothing listens on
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisCache_DegradesToMiss(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	c := NewRedisCache(client, time.Minute, nil, logger.NewNop())
	ctx := context.Background()

	_, ok := c.Get(ctx, Key("site status", "pm-1"))
	assert.False(t, ok)

	err := c.Set(ctx, "k", response("r1"))
	assert.ErrorContains(t, err, "cache set")

	err = c.InvalidateAll(ctx)
	assert.ErrorContains(t, err, "cache invalidate")

	assert.Equal(t, 0, c.Len(ctx))
}
