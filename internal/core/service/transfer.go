package service

import (
	"context"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/obs"
	"github.com/rl1809/coop-exchange/internal/port"
)

// TransferService moves legal ownership of lots between members.
type TransferService struct {
	repo  port.DatabaseRepository
	guard *AuthorizationGuard
	clock clock.Clock
}

func NewTransferService(repo port.DatabaseRepository, guard *AuthorizationGuard, clk clock.Clock) *TransferService {
	return &TransferService{repo: repo, guard: guard, clock: clk}
}

// TransferOwnership reassigns the lot's owner and records a MARKET trade for
// the whole lot at unitPrice. The holder is left alone: the goods stay with the
// seller until pickup.
func (s *TransferService) TransferOwnership(ctx context.Context, lotID, newOwnerID string, unitPrice decimal.Decimal) (domain.Trade, error) {
	var trade domain.Trade
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		lot, err := tx.LockLot(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.OwnerID == newOwnerID {
			return domain.ErrInvalidOperation.With("member %s already owns lot %s", newOwnerID, lotID)
		}

		now := s.clock.Now()
		seller := lot.OwnerID
		lot.OwnerID = newOwnerID
		lot.UpdatedAt = now
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return err
		}

		trade = domain.Trade{
			ID:          newID(),
			Type:        domain.TradeTypeMarket,
			SubstanceID: lot.SubstanceID,
			Quantity:    lot.Quantity,
			Price:       unitPrice,
			SellerID:    seller,
			BuyerID:     newOwnerID,
			CompletedAt: now,
		}
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		obs.CountConflict("transfer", err)
		return domain.Trade{}, err
	}

	obs.TradesTotal.WithLabelValues(string(trade.Type)).Inc()
	log.Infow("ownership transferred", "lot", lotID, "seller", trade.SellerID, "buyer", newOwnerID, "price", unitPrice.String())
	return trade, nil
}

type PurchaseResult struct {
	Success         bool
	InventoryItemID string
	BuyerID         string
	Trade           domain.Trade
}

// Purchase buys a whole lot for the actor at pricePerUnit.
func (s *TransferService) Purchase(ctx context.Context, actor domain.Actor, lotID string, pricePerUnit decimal.Decimal) (PurchaseResult, error) {
	if lotID == "" {
		return PurchaseResult{}, domain.Validationf("inventoryItemId is required")
	}
	if !pricePerUnit.IsPositive() {
		return PurchaseResult{}, domain.Validationf("pricePerUnit must be positive")
	}

	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return PurchaseResult{}, err
	}
	if err := s.guard.Check(ctx, actor.ID, lot.SubstanceID); err != nil {
		return PurchaseResult{}, err
	}

	trade, err := s.TransferOwnership(ctx, lotID, actor.ID, pricePerUnit)
	if err != nil {
		return PurchaseResult{}, err
	}
	return PurchaseResult{Success: true, InventoryItemID: lotID, BuyerID: actor.ID, Trade: trade}, nil
}
