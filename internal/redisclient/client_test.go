package redisclient

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"quickkart-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis (set TEST_REDIS_ADDR)")
	}
	c, err := NewClient(addr, "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSyncStockIgnoresStaleVersions(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	pid := time.Now().UnixNano()
	t.Cleanup(func() { c.rdb.Del(context.Background(), stockKey(pid)) })

	_, found, err := c.GetAvailable(ctx, pid)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SyncStock(ctx, models.StockLevel{ProductID: pid, Available: 4, Version: 2}))
	require.NoError(t, c.SyncStock(ctx, models.StockLevel{ProductID: pid, Available: 9, Version: 1}))

	available, found, err := c.GetAvailable(ctx, pid)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 4, available)

	require.NoError(t, c.SyncStock(ctx, models.StockLevel{ProductID: pid, Available: 3, Version: 3}))
	available, _, err = c.GetAvailable(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 3, available)
}

func TestSyncStockExpiresAndEvicts(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	pid := time.Now().UnixNano()
	t.Cleanup(func() { c.rdb.Del(context.Background(), stockKey(pid)) })

	require.NoError(t, c.SyncStock(ctx, models.StockLevel{ProductID: pid, Available: 4, Version: 1}))
	ttl, err := c.rdb.PTTL(ctx, stockKey(pid)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, c.Evict(ctx, pid))
	_, found, err := c.GetAvailable(ctx, pid)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRememberAndLookupOrder(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := fmt.Sprintf("place-order:test:%d", time.Now().UnixNano())

	_, found, err := c.LookupOrder(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.RememberOrder(ctx, key, 42, time.Minute))
	id, found, err := c.LookupOrder(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), id)
}
