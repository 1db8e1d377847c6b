package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestDecrementStock_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "stock:test-deal")
	if err := adapter.SetStock(ctx, "test-deal", decimal.RequireFromString("10.5")); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	gate, err := adapter.DecrementStock(ctx, "test-deal", decimal.RequireFromString("3.25"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gate != port.GateAdmitted {
		t.Errorf("expected admitted, got %v", gate)
	}

	stock, ok, err := adapter.Stock(ctx, "test-deal")
	if err != nil || !ok {
		t.Fatalf("stock read failed: ok=%v err=%v", ok, err)
	}
	if !stock.Equal(decimal.RequireFromString("7.25")) {
		t.Errorf("expected stock 7.25, got %s", stock)
	}
}

func TestDecrementStock_InsufficientStock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "stock:test-deal")
	adapter.SetStock(ctx, "test-deal", decimal.NewFromInt(5))

	gate, err := adapter.DecrementStock(ctx, "test-deal", decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gate != port.GateRejected {
		t.Errorf("expected rejected, got %v", gate)
	}

	stock, _, _ := adapter.Stock(ctx, "test-deal")
	if !stock.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected stock 5, got %s", stock)
	}
}

func TestDecrementStock_KeyNotExists(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "stock:nonexistent")

	gate, err := adapter.DecrementStock(ctx, "nonexistent", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gate != port.GateMiss {
		t.Errorf("expected miss for nonexistent key, got %v", gate)
	}
}

func TestDecrementStock_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	initialStock := 20
	totalRequests := 50

	client.Del(ctx, "stock:concurrent-test")
	adapter.SetStock(ctx, "concurrent-test", decimal.NewFromInt(int64(initialStock)))

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gate, err := adapter.DecrementStock(ctx, "concurrent-test", decimal.NewFromInt(1))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if gate == port.GateAdmitted {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}

	stock, _, _ := adapter.Stock(ctx, "concurrent-test")
	if !stock.IsZero() {
		t.Errorf("expected stock 0, got %s", stock)
	}
}

func TestIncrementStock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "stock:test-deal")
	adapter.SetStock(ctx, "test-deal", decimal.NewFromInt(5))

	if err := adapter.IncrementStock(ctx, "test-deal", decimal.RequireFromString("0.5")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stock, _, _ := adapter.Stock(ctx, "test-deal")
	if !stock.Equal(decimal.RequireFromString("5.5")) {
		t.Errorf("expected stock 5.5, got %s", stock)
	}
}

func TestSetIdempotency(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "test-idem-key")

	ok, err := adapter.SetIdempotency(ctx, "test-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	ok, err = adapter.SetIdempotency(ctx, "test-idem-key", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}

	if err := adapter.ReleaseIdempotency(ctx, "test-idem-key"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, _ = adapter.SetIdempotency(ctx, "test-idem-key", time.Minute)
	if !ok {
		t.Error("expected claim after release to succeed")
	}
	client.Del(ctx, "test-idem-key")
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "concurrent-idem-key", time.Minute)
			if err == nil && ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
	client.Del(ctx, "concurrent-idem-key")
}
