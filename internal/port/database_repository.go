package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
)

// OfferFilter narrows ListOffers. Empty fields match everything.
type OfferFilter struct {
	UserID      string
	SubstanceID string
	Type        domain.OfferType
	Status      domain.OfferStatus
	Limit       int
}

// ClaimWindow selects claims by timestamp, From inclusive and To exclusive.
// An empty MemberID sums every member.
type ClaimWindow struct {
	MemberID string
	From     time.Time
	To       time.Time
}

// Reader holds the non-locking reads. Get methods return a domain.ErrNotFound
// error when the row does not exist.
type Reader interface {
	GetLot(ctx context.Context, id string) (domain.InventoryLot, error)
	ListLotsByOwner(ctx context.Context, ownerID string) ([]domain.InventoryLot, error)

	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)

	GetOffer(ctx context.Context, id string) (domain.Offer, error)
	ListOffers(ctx context.Context, filter OfferFilter) ([]domain.Offer, error)
	// FindPendingOffers returns the member's draft or active offers for a substance.
	FindPendingOffers(ctx context.Context, userID, substanceID string, typ domain.OfferType) ([]domain.Offer, error)
	ListBids(ctx context.Context, offerID string) ([]domain.Bid, error)
	CountBids(ctx context.Context, offerID string) (int, error)

	// RecentTrades returns at most limit trades of the given types, newest first.
	RecentTrades(ctx context.Context, substanceID string, types []domain.TradeType, limit int) ([]domain.Trade, error)
	ListTradesByType(ctx context.Context, typ domain.TradeType) ([]domain.Trade, error)

	GetFlashDeal(ctx context.Context, id string) (domain.FlashDeal, error)
	ListFlashDeals(ctx context.Context) ([]domain.FlashDeal, error)
	// SumFlashClaims sums claim quantities for a deal, restricted to memberID when set.
	SumFlashClaims(ctx context.Context, dealID, memberID string) (decimal.Decimal, error)

	GetQuota(ctx context.Context, id string) (domain.StrategicQuota, error)
	ListQuotas(ctx context.Context) ([]domain.StrategicQuota, error)
	SumReserveClaims(ctx context.Context, quotaID string, window ClaimWindow) (decimal.Decimal, error)
	CountReserveClaimants(ctx context.Context, quotaID string, window ClaimWindow) (int, error)
}

// Tx is one serializable unit of work. Lock methods re-read the row and hold it
// until commit so the contested check is evaluated against committed state.
type Tx interface {
	Reader

	LockLot(ctx context.Context, id string) (domain.InventoryLot, error)
	LockProduct(ctx context.Context, id string) (domain.Product, error)
	LockOffer(ctx context.Context, id string) (domain.Offer, error)
	LockFlashDeal(ctx context.Context, id string) (domain.FlashDeal, error)
	LockQuota(ctx context.Context, id string) (domain.StrategicQuota, error)

	InsertLot(ctx context.Context, lot domain.InventoryLot) error
	UpdateLot(ctx context.Context, lot domain.InventoryLot) error
	DeleteLot(ctx context.Context, id string) error

	UpsertProduct(ctx context.Context, product domain.Product) error
	UpdateProductStock(ctx context.Context, id string, currentStock decimal.Decimal, at time.Time) error

	InsertOffer(ctx context.Context, offer domain.Offer) error
	// UpdateOffer writes offer if the stored version still equals offer.Version
	// and bumps it; a mismatch returns domain.ErrStaleVersion.
	UpdateOffer(ctx context.Context, offer domain.Offer) error
	DeleteOffer(ctx context.Context, id string) error
	InsertBid(ctx context.Context, bid domain.Bid) error

	InsertTrade(ctx context.Context, trade domain.Trade) error

	InsertFlashDeal(ctx context.Context, deal domain.FlashDeal) error
	InsertFlashClaim(ctx context.Context, claim domain.FlashClaim) error

	InsertQuota(ctx context.Context, quota domain.StrategicQuota) error
	UpdateQuotaPeriod(ctx context.Context, id string, resetDate time.Time, periodDays int) error
	InsertReserveClaim(ctx context.Context, claim domain.ReserveClaim) error
}

type DatabaseRepository interface {
	Reader

	// Atomic runs fn in one serializable transaction. Serialization failures
	// surface as domain.ErrConflict and are never retried here.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
