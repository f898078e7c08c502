package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"quickkart-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/sync_stock.lua
var syncStockScript string

// DefaultStockTTL bounds how long a mirrored stock level outlives its last write.
const DefaultStockTTL = 30 * time.Second

type Client struct {
	rdb        *redis.Client
	syncScript *redis.Script
	stockTTL   time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded. Mirrored
// stock levels expire stockTTL after their last write; zero means
// DefaultStockTTL.
func NewClient(addr, password string, db int, stockTTL time.Duration) (*Client, error) {
	if stockTTL <= 0 {
		stockTTL = DefaultStockTTL
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:        rdb,
		syncScript: redis.NewScript(syncStockScript),
		stockTTL:   stockTTL,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("inventory:%d", productID)
}

// SyncStock writes the available count if level is newer than the mirrored one.
func (c *Client) SyncStock(ctx context.Context, level models.StockLevel) error {
	_, err := c.syncScript.Run(ctx, c.rdb, []string{stockKey(level.ProductID)},
		level.Available, level.Version, c.stockTTL.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("sync stock script failed: %w", err)
	}
	return nil
}

// Evict drops the mirrored level so reads go to the database.
func (c *Client) Evict(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// GetAvailable reads the mirrored available count.
func (c *Client) GetAvailable(ctx context.Context, productID int64) (int, bool, error) {
	raw, err := c.rdb.HGet(ctx, stockKey(productID), "available").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	available, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt mirror value for product %d: %w", productID, err)
	}
	return available, true, nil
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// RememberOrder stores the order produced for an idempotency key with TTL
func (c *Client) RememberOrder(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), orderID, ttl).Err()
}

// LookupOrder returns the order id remembered for key, if any.
func (c *Client) LookupOrder(ctx context.Context, key string) (int64, bool, error) {
	id, err := c.rdb.Get(ctx, idempotencyKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
