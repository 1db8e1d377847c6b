package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/obs"
	"github.com/rl1809/coop-exchange/internal/port"
)

var log = obs.Logger("marketplace")

const (
	DefaultPriceWindow    = 3
	DefaultSubmitGuardTTL = 10 * time.Second
)

// DefaultLiquidationDiscount is the haircut applied to the trailing average price.
var DefaultLiquidationDiscount = decimal.NewFromFloat(0.15)

// Deps carries the collaborators shared by every allocator.
type Deps struct {
	Repo           port.DatabaseRepository
	Cache          port.CacheRepository
	Directory      port.MemberDirectory
	Authorizations port.AuthorizationRegistry
	Clock          clock.Clock

	MarketMakerID string
	// LiquidationDiscount defaults to DefaultLiquidationDiscount when nil; a
	// zero discount is honoured.
	LiquidationDiscount *decimal.Decimal
	PriceWindow         int
	SubmitGuardTTL      time.Duration
}

func (d *Deps) setDefaults() {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.PriceWindow <= 0 {
		d.PriceWindow = DefaultPriceWindow
	}
	if d.LiquidationDiscount == nil {
		discount := DefaultLiquidationDiscount
		d.LiquidationDiscount = &discount
	}
	if d.SubmitGuardTTL <= 0 {
		d.SubmitGuardTTL = DefaultSubmitGuardTTL
	}
}

// Marketplace groups the allocators behind the transport handlers.
type Marketplace struct {
	Prices      *PriceHistory
	Transfers   *TransferService
	Offers      *OfferService
	Liquidation *LiquidationService
	FlashDeals  *FlashDealService
	Reserves    *ReserveService
	Inventory   *InventoryService
	Dashboard   *DashboardService
}

func NewMarketplace(deps Deps) *Marketplace {
	deps.setDefaults()

	guard := NewAuthorizationGuard(deps.Repo, deps.Authorizations, deps.Clock)
	prices := NewPriceHistory(deps.Repo)
	transfers := NewTransferService(deps.Repo, guard, deps.Clock)
	flash := NewFlashDealService(deps.Repo, deps.Cache, guard, deps.Clock)
	reserves := NewReserveService(deps.Repo, deps.Directory, guard, deps.Clock)
	return &Marketplace{
		Prices:    prices,
		Transfers: transfers,
		Offers:    NewOfferService(deps.Repo, deps.Cache, guard, deps.Clock, deps.SubmitGuardTTL),
		Liquidation: NewLiquidationService(deps.Repo, prices, deps.Clock, LiquidationConfig{
			MarketMakerID: deps.MarketMakerID,
			Discount:      *deps.LiquidationDiscount,
			Window:        deps.PriceWindow,
		}),
		FlashDeals: flash,
		Reserves:   reserves,
		Inventory:  NewInventoryService(deps.Repo, deps.Clock),
		Dashboard:  NewDashboardService(deps.Repo, flash, reserves, deps.Clock),
	}
}

func newID() string {
	return uuid.NewString()
}
