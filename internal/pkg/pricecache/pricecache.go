package pricecache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "caskwatch:pricecache:store:"

// Cache keeps the last seen price per (store, product name) in a Redis
// hash so the ingestor can detect price drops without a history table.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{
		rdb: rdb,
		ttl: ttl,
	}
}

// LastPrice returns the previously recorded price for the product, or
// ok=false when the name has not been seen yet.
func (c *Cache) LastPrice(ctx context.Context, storeID uint, name string) (int, bool, error) {
	if c == nil || c.rdb == nil || name == "" {
		return 0, false, nil
	}
	val, err := c.rdb.HGet(ctx, storeKey(storeID), name).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("pricecache hget: %w", err)
	}
	price, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("pricecache parse: %w", err)
	}
	return price, true, nil
}

// Remember stores the current price and refreshes the hash TTL.
func (c *Cache) Remember(ctx context.Context, storeID uint, name string, price int) error {
	if c == nil || c.rdb == nil || name == "" {
		return nil
	}
	key := storeKey(storeID)
	if err := c.rdb.HSet(ctx, key, name, price).Err(); err != nil {
		return fmt.Errorf("pricecache hset: %w", err)
	}
	if err := c.rdb.Expire(ctx, key, c.ttl).Err(); err != nil {
		return fmt.Errorf("pricecache expire: %w", err)
	}
	return nil
}

func storeKey(storeID uint) string {
	return keyPrefix + strconv.FormatUint(uint64(storeID), 10)
}
