package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/rl1809/coop-exchange/internal/port"
)

const (
	stockKeyPrefix = "stock:"
	// Counters are kept in millionths so Lua only ever sees integers.
	stockScale = 6
)

var decrementStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return -1
end

current = tonumber(current)
if current >= quantity then
	redis.call('DECRBY', key, quantity)
	return 1
end

return 0
`)

var _ port.CacheRepository = (*RedisAdapter)(nil)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func toUnits(q decimal.Decimal) int64 {
	return q.Shift(stockScale).IntPart()
}

func fromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -stockScale)
}

func (r *RedisAdapter) DecrementStock(ctx context.Context, key string, quantity decimal.Decimal) (port.GateResult, error) {
	result, err := decrementStockScript.Run(ctx, r.client, []string{stockKeyPrefix + key}, toUnits(quantity)).Int()
	if err != nil {
		return port.GateMiss, xerrors.Errorf("decrement stock %s: %w", key, err)
	}

	switch result {
	case 1:
		return port.GateAdmitted, nil
	case 0:
		return port.GateRejected, nil
	default:
		return port.GateMiss, nil
	}
}

func (r *RedisAdapter) IncrementStock(ctx context.Context, key string, quantity decimal.Decimal) error {
	return r.client.IncrBy(ctx, stockKeyPrefix+key, toUnits(quantity)).Err()
}

func (r *RedisAdapter) SetStock(ctx context.Context, key string, quantity decimal.Decimal) error {
	return r.client.Set(ctx, stockKeyPrefix+key, toUnits(quantity), 0).Err()
}

// Stock reads the cached counter; ok is false when the key is absent.
func (r *RedisAdapter) Stock(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	units, err := r.client.Get(ctx, stockKeyPrefix+key).Int64()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return fromUnits(units), true, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
