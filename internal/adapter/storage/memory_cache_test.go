package storage

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/coop-exchange/internal/port"
)

func TestMemoryCache_Gate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(nil)

	gate, err := c.DecrementStock(ctx, "deal", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, port.GateMiss, gate)

	require.NoError(t, c.SetStock(ctx, "deal", decimal.NewFromInt(3)))
	gate, _ = c.DecrementStock(ctx, "deal", decimal.NewFromInt(2))
	assert.Equal(t, port.GateAdmitted, gate)
	gate, _ = c.DecrementStock(ctx, "deal", decimal.NewFromInt(2))
	assert.Equal(t, port.GateRejected, gate)

	require.NoError(t, c.IncrementStock(ctx, "deal", decimal.NewFromInt(2)))
	stock, ok, err := c.Stock(ctx, "deal")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stock.Equal(decimal.NewFromInt(3)))
}

func TestMemoryCache_IdempotencyExpires(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewMemoryCache(clk)

	ok, _ := c.SetIdempotency(ctx, "k", time.Second)
	assert.True(t, ok)
	ok, _ = c.SetIdempotency(ctx, "k", time.Second)
	assert.False(t, ok)

	clk.Add(2 * time.Second)
	ok, _ = c.SetIdempotency(ctx, "k", time.Second)
	assert.True(t, ok)
}
