package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAveragePrice_LastThreeTrades(t *testing.T) {
	f := newFixture(t)
	f.trades(t, "acetone", "500", "100", "110", "90")

	avg, ok, err := f.mp.Prices.AveragePrice(context.Background(), "acetone", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, avg.Equal(dec("100")), "got %s", avg)
}

func TestAveragePrice_FewerTradesThanWindow(t *testing.T) {
	f := newFixture(t)
	f.trades(t, "acetone", "100", "120")

	avg, ok, err := f.mp.Prices.AveragePrice(context.Background(), "acetone", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, avg.Equal(dec("110")), "got %s", avg)
}

func TestAveragePrice_NoHistory(t *testing.T) {
	f := newFixture(t)
	f.trades(t, "ethanol", "10")

	_, ok, err := f.mp.Prices.AveragePrice(context.Background(), "acetone", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}
