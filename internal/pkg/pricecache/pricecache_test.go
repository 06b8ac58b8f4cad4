package pricecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func TestCache_RememberAndLastPrice(t *testing.T) {
	rdb := newMiniRedis(t)
	cache := NewCache(rdb, time.Hour)
	ctx := context.Background()

	if _, ok, err := cache.LastPrice(ctx, 1, "Ardbeg 10-year-old"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.Remember(ctx, 1, "Ardbeg 10-year-old", 5999); err != nil {
		t.Fatalf("remember: %v", err)
	}

	price, ok, err := cache.LastPrice(ctx, 1, "Ardbeg 10-year-old")
	if err != nil {
		t.Fatalf("last price: %v", err)
	}
	if !ok || price != 5999 {
		t.Fatalf("expected 5999, got ok=%v price=%d", ok, price)
	}
}

func TestCache_StoresAreIsolated(t *testing.T) {
	rdb := newMiniRedis(t)
	cache := NewCache(rdb, time.Hour)
	ctx := context.Background()

	if err := cache.Remember(ctx, 1, "Lagavulin 16", 9999); err != nil {
		t.Fatalf("remember: %v", err)
	}

	if _, ok, err := cache.LastPrice(ctx, 2, "Lagavulin 16"); err != nil || ok {
		t.Fatalf("expected miss for other store, got ok=%v err=%v", ok, err)
	}
}

func TestCache_NilReceiverIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	if err := cache.Remember(ctx, 1, "x", 1); err != nil {
		t.Fatalf("nil remember: %v", err)
	}
	if _, ok, err := cache.LastPrice(ctx, 1, "x"); err != nil || ok {
		t.Fatalf("nil last price: ok=%v err=%v", ok, err)
	}
}
