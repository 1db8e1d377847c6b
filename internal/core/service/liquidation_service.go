package service

import (
	"context"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/obs"
	"github.com/rl1809/coop-exchange/internal/port"
)

type LiquidationConfig struct {
	MarketMakerID string
	// Discount is the fraction taken off the trailing average, e.g. 0.15.
	Discount decimal.Decimal
	// Window is the number of recent trades averaged.
	Window int
}

// LiquidationService buys members' excess stock for the market maker, capped
// by the market maker's unmet demand.
type LiquidationService struct {
	repo   port.DatabaseRepository
	prices *PriceHistory
	clock  clock.Clock
	cfg    LiquidationConfig
}

func NewLiquidationService(repo port.DatabaseRepository, prices *PriceHistory, clk clock.Clock, cfg LiquidationConfig) *LiquidationService {
	return &LiquidationService{repo: repo, prices: prices, clock: clk, cfg: cfg}
}

type LiquidationResult struct {
	Amount       decimal.Decimal
	PricePerUnit decimal.Decimal
	TotalPrice   decimal.Decimal
	ProductID    string
	LotDeleted   bool
}

// Quote returns the unit price the market maker pays for the substance today.
func (s *LiquidationService) Quote(ctx context.Context, substanceID string) (decimal.Decimal, error) {
	avg, ok, err := s.prices.AveragePrice(ctx, substanceID, s.cfg.Window)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, domain.ErrNoPriceHistory.With("no trades recorded for substance %s", substanceID)
	}
	price := avg.Mul(decimal.NewFromInt(1).Sub(s.cfg.Discount)).Round(2)
	if !price.IsPositive() {
		return decimal.Zero, domain.ErrNoPriceHistory.With("derived price for substance %s is not positive", substanceID)
	}
	return price, nil
}

// Liquidate sells up to quantity of the member's excess lot to the market
// maker. The sold amount is min(quantity, lot quantity, gap), where gap is read
// from the locked product row.
func (s *LiquidationService) Liquidate(ctx context.Context, memberID, lotID string, quantity decimal.Decimal) (LiquidationResult, error) {
	if s.cfg.MarketMakerID == "" {
		return LiquidationResult{}, domain.ErrInternal.With("market maker account is not configured")
	}

	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return LiquidationResult{}, err
	}
	if !lot.Excess {
		return LiquidationResult{}, domain.ErrNotExcess.With("lot %s is not marked as excess", lotID)
	}
	if !lot.HeldBy(memberID) {
		return LiquidationResult{}, domain.Forbiddenf("only a member who owns and holds lot %s may liquidate it", lotID)
	}
	if !quantity.IsPositive() || quantity.GreaterThan(lot.Quantity) {
		return LiquidationResult{}, domain.Validationf("quantity must be greater than 0 and at most %s", lot.Quantity)
	}

	price, err := s.Quote(ctx, lot.SubstanceID)
	if err != nil {
		return LiquidationResult{}, err
	}

	var result LiquidationResult
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		product, err := tx.LockProduct(ctx, lot.SubstanceID)
		if err != nil {
			return err
		}
		cur, err := tx.LockLot(ctx, lotID)
		if err != nil {
			return err
		}
		if !cur.Excess || !cur.HeldBy(memberID) {
			return domain.Conflictf("lot %s changed, retry with fresh data", lotID)
		}

		gap := product.Gap()
		if !gap.IsPositive() {
			return domain.ErrNoDemand.With("market maker has no demand for %s", product.ID)
		}
		amount := decimal.Min(quantity, gap, cur.Quantity)

		now := s.clock.Now()
		if err := tx.InsertTrade(ctx, domain.Trade{
			ID:          newID(),
			Type:        domain.TradeTypeLiquidation,
			SubstanceID: cur.SubstanceID,
			Quantity:    amount,
			Price:       price,
			SellerID:    memberID,
			BuyerID:     s.cfg.MarketMakerID,
			CompletedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.UpdateProductStock(ctx, product.ID, product.CurrentStock.Add(amount), now); err != nil {
			return err
		}

		deleted := amount.GreaterThanOrEqual(cur.Quantity)
		if deleted {
			err = tx.DeleteLot(ctx, lotID)
		} else {
			cur.Quantity = cur.Quantity.Sub(amount)
			cur.UpdatedAt = now
			err = tx.UpdateLot(ctx, cur)
		}
		if err != nil {
			return err
		}

		result = LiquidationResult{
			Amount:       amount,
			PricePerUnit: price,
			TotalPrice:   price.Mul(amount),
			ProductID:    product.ID,
			LotDeleted:   deleted,
		}
		return nil
	})
	if err != nil {
		obs.CountConflict("liquidation", err)
		return LiquidationResult{}, err
	}

	obs.TradesTotal.WithLabelValues(string(domain.TradeTypeLiquidation)).Inc()
	obs.LiquidatedQuantity.WithLabelValues(result.ProductID).Add(result.Amount.InexactFloat64())
	log.Infow("lot liquidated", "lot", lotID, "member", memberID, "amount", result.Amount.String(), "price", price.String())
	return result, nil
}

type LiquidationSavings struct {
	Total        decimal.Decimal
	Transactions int
}

// Savings totals the value of every liquidation trade.
func (s *LiquidationService) Savings(ctx context.Context) (LiquidationSavings, error) {
	trades, err := s.repo.ListTradesByType(ctx, domain.TradeTypeLiquidation)
	if err != nil {
		return LiquidationSavings{}, err
	}
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.Total())
	}
	return LiquidationSavings{Total: total, Transactions: len(trades)}, nil
}
