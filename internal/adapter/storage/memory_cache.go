package storage

import (
	"context"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/port"
)

var _ port.CacheRepository = (*MemoryCache)(nil)

// MemoryCache mirrors RedisAdapter semantics in process. Used when no Redis
// address is configured and in tests.
type MemoryCache struct {
	mu    sync.Mutex
	clock clock.Clock
	stock map[string]decimal.Decimal
	keys  map[string]time.Time
}

// NewMemoryCache expires idempotency keys against clk; nil means the wall clock.
func NewMemoryCache(clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache{
		clock: clk,
		stock: make(map[string]decimal.Decimal),
		keys:  make(map[string]time.Time),
	}
}

func (c *MemoryCache) DecrementStock(_ context.Context, key string, quantity decimal.Decimal) (port.GateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.stock[key]
	if !ok {
		return port.GateMiss, nil
	}
	if cur.LessThan(quantity) {
		return port.GateRejected, nil
	}
	c.stock[key] = cur.Sub(quantity)
	return port.GateAdmitted, nil
}

func (c *MemoryCache) IncrementStock(_ context.Context, key string, quantity decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[key] = c.stock[key].Add(quantity)
	return nil
}

func (c *MemoryCache) SetStock(_ context.Context, key string, quantity decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[key] = quantity
	return nil
}

func (c *MemoryCache) Stock(_ context.Context, key string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.stock[key]
	return v, ok, nil
}

func (c *MemoryCache) SetIdempotency(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if exp, ok := c.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.keys[key] = now.Add(ttl)
	return true, nil
}

func (c *MemoryCache) ReleaseIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}
