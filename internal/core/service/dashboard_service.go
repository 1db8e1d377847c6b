package service

import (
	"context"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

// DashboardService assembles the role-dependent stock overview.
type DashboardService struct {
	repo     port.DatabaseRepository
	flash    *FlashDealService
	reserves *ReserveService
	clock    clock.Clock
}

func NewDashboardService(repo port.DatabaseRepository, flash *FlashDealService, reserves *ReserveService, clk clock.Clock) *DashboardService {
	return &DashboardService{repo: repo, flash: flash, reserves: reserves, clock: clk}
}

type ProductView struct {
	domain.Product
	Gap decimal.Decimal
}

type LotView struct {
	domain.InventoryLot
	Gap          decimal.Decimal
	CanLiquidate bool
}

// StockDashboard is filled for admins (Products, FlashDeals, Quotas) or for
// members (Inventory, FlashDeals, Quotas).
type StockDashboard struct {
	Role       domain.Role
	Products   []ProductView
	Inventory  []LotView
	FlashDeals []FlashDealView
	Quotas     []QuotaView
}

func (s *DashboardService) Stock(ctx context.Context, actor domain.Actor) (StockDashboard, error) {
	if actor.IsAdmin() {
		return s.adminStock(ctx)
	}
	return s.memberStock(ctx, actor)
}

func (s *DashboardService) adminStock(ctx context.Context) (StockDashboard, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return StockDashboard{}, err
	}
	deals, err := s.flash.ListAll(ctx)
	if err != nil {
		return StockDashboard{}, err
	}
	quotas, err := s.reserves.ListAll(ctx)
	if err != nil {
		return StockDashboard{}, err
	}

	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, ProductView{Product: p, Gap: p.Gap()})
	}
	return StockDashboard{Role: domain.RoleAdmin, Products: views, FlashDeals: deals, Quotas: quotas}, nil
}

func (s *DashboardService) memberStock(ctx context.Context, actor domain.Actor) (StockDashboard, error) {
	lots, err := s.repo.ListLotsByOwner(ctx, actor.ID)
	if err != nil {
		return StockDashboard{}, err
	}

	gaps := make(map[string]decimal.Decimal)
	inventory := make([]LotView, 0, len(lots))
	for _, lot := range lots {
		gap, ok := gaps[lot.SubstanceID]
		if !ok {
			p, err := s.repo.GetProduct(ctx, lot.SubstanceID)
			switch {
			case err == nil:
				gap = p.Gap()
			case domain.KindOf(err) == domain.KindNotFound:
				gap = decimal.Zero
			default:
				return StockDashboard{}, err
			}
			gaps[lot.SubstanceID] = gap
		}
		inventory = append(inventory, LotView{
			InventoryLot: lot,
			Gap:          gap,
			CanLiquidate: lot.Excess && lot.HeldBy(actor.ID) && gap.IsPositive(),
		})
	}

	deals, err := s.flash.ListActive(ctx, actor.ID)
	if err != nil {
		return StockDashboard{}, err
	}
	quotas, err := s.reserves.ListForMember(ctx, actor.ID)
	if err != nil {
		return StockDashboard{}, err
	}
	return StockDashboard{Role: actor.Role, Inventory: inventory, FlashDeals: deals, Quotas: quotas}, nil
}
