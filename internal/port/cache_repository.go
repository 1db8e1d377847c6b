package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GateResult is the outcome of a cache stock reservation.
type GateResult int

const (
	GateAdmitted GateResult = iota
	GateRejected
	// GateMiss means the cache holds no counter; the database decides alone.
	GateMiss
)

type CacheRepository interface {
	// DecrementStock atomically reserves quantity from the cached counter
	DecrementStock(ctx context.Context, key string, quantity decimal.Decimal) (GateResult, error)

	// IncrementStock restores stock (for rollback on failure)
	IncrementStock(ctx context.Context, key string, quantity decimal.Decimal) error

	// SetStock seeds the cached counter
	SetStock(ctx context.Context, key string, quantity decimal.Decimal) error

	// Stock reads the cached counter; ok is false when the key is absent
	Stock(ctx context.Context, key string) (decimal.Decimal, bool, error)

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ReleaseIdempotency drops a key early once the guarded write has committed or failed
	ReleaseIdempotency(ctx context.Context, key string) error
}
