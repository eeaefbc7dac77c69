package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/site-integrations/internal/models"
)

func response(id string) *models.IntegratedResponse {
	return &models.IntegratedResponse{ID: id, Query: "q-" + id}
}

func TestMemoryCache_TTL(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(5*time.Minute, 10).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", response("r1")))

	now = now.Add(5*time.Minute - time.Second)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "r1", got.ID)

	now = now.Add(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(ctx), "expired entries are removed on read")
}

func TestMemoryCache_InsertionOrderEviction(t *testing.T) {
	c := NewMemoryCache(time.Hour, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), response(fmt.Sprintf("r%d", i))))
	}

	// reading k1 does not protect it; eviction is not LRU
	_, ok := c.Get(ctx, "k1")
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "k4", response("r4")))

	_, ok = c.Get(ctx, "k1")
	assert.False(t, ok)
	for _, k := range []string{"k2", "k3", "k4"} {
		_, ok := c.Get(ctx, k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, c.Len(ctx))
}

func TestMemoryCache_OverwriteCountsAsNewest(t *testing.T) {
	c := NewMemoryCache(time.Hour, 2)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", response("a1")))
	require.NoError(t, c.Set(ctx, "b", response("b1")))
	require.NoError(t, c.Set(ctx, "a", response("a2")))
	require.NoError(t, c.Set(ctx, "c", response("c1")))

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok)

	got, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "a2", got.ID)
}

func TestMemoryCache_InvalidateAll(t *testing.T) {
	c := NewMemoryCache(0, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", response("a")))
	require.NoError(t, c.Set(ctx, "b", response("b")))
	require.NoError(t, c.InvalidateAll(ctx))

	assert.Equal(t, 0, c.Len(ctx))
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryCache_StoresCopies(t *testing.T) {
	c := NewMemoryCache(time.Hour, 10)
	ctx := context.Background()

	resp := response("r1")
	require.NoError(t, c.Set(ctx, "k", resp))
	resp.AggregatedSummary = "mutated"

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Empty(t, got.AggregatedSummary)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("site status", "pm-1"), Key("site status", "pm-1"))
	assert.NotEqual(t, Key("site status", "pm-1"), Key("site status", "pm-2"))
	assert.NotEqual(t, Key("ab", "c"), Key("b", "ca"), "user and text must not run together")
	assert.Len(t, Key("", ""), 64)
}
