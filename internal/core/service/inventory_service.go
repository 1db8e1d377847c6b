package service

import (
	"context"
	"strings"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

// InventoryService handles member stock entry and the market maker's product targets.
type InventoryService struct {
	repo  port.DatabaseRepository
	clock clock.Clock
}

func NewInventoryService(repo port.DatabaseRepository, clk clock.Clock) *InventoryService {
	return &InventoryService{repo: repo, clock: clk}
}

type AddLotInput struct {
	SubstanceID string
	Quantity    decimal.Decimal
	Unit        string
	Excess      bool
	ExpiresAt   *time.Time
}

func (s *InventoryService) AddLot(ctx context.Context, actor domain.Actor, in AddLotInput) (domain.InventoryLot, error) {
	switch {
	case strings.TrimSpace(in.SubstanceID) == "":
		return domain.InventoryLot{}, domain.Validationf("substanceId is required")
	case !in.Quantity.IsPositive():
		return domain.InventoryLot{}, domain.Validationf("quantity must be positive")
	case strings.TrimSpace(in.Unit) == "":
		return domain.InventoryLot{}, domain.Validationf("unit is required")
	}

	now := s.clock.Now()
	lot := domain.InventoryLot{
		ID:          newID(),
		SubstanceID: in.SubstanceID,
		Quantity:    in.Quantity,
		Unit:        in.Unit,
		OwnerID:     actor.ID,
		HolderID:    actor.ID,
		Excess:      in.Excess,
		ExpiresAt:   in.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertLot(ctx, lot)
	})
	if err != nil {
		return domain.InventoryLot{}, err
	}
	return lot, nil
}

// SetExcess flags or unflags a lot as surplus. Only the owner may do it.
func (s *InventoryService) SetExcess(ctx context.Context, actor domain.Actor, lotID string, excess bool) (domain.InventoryLot, error) {
	var lot domain.InventoryLot
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		l, err := tx.LockLot(ctx, lotID)
		if err != nil {
			return err
		}
		if l.OwnerID != actor.ID {
			return domain.Forbiddenf("only the owner may flag lot %s", lotID)
		}
		l.Excess = excess
		l.UpdatedAt = s.clock.Now()
		lot = l
		return tx.UpdateLot(ctx, l)
	})
	return lot, err
}

type UpsertProductInput struct {
	ID           string
	Name         string
	Unit         string
	TargetStock  decimal.Decimal
	CurrentStock *decimal.Decimal
	Controls     []domain.AuthorizationKind
}

// UpsertProduct sets the market maker's target for a substance. CurrentStock
// is only written when given; otherwise the stored counter is kept.
func (s *InventoryService) UpsertProduct(ctx context.Context, actor domain.Actor, in UpsertProductInput) (domain.Product, error) {
	if !actor.IsAdmin() {
		return domain.Product{}, domain.Forbiddenf("only the market maker may manage products")
	}
	switch {
	case in.ID == "":
		return domain.Product{}, domain.Validationf("product id is required")
	case strings.TrimSpace(in.Unit) == "":
		return domain.Product{}, domain.Validationf("unit is required")
	case in.TargetStock.IsNegative():
		return domain.Product{}, domain.Validationf("targetStock must not be negative")
	case in.CurrentStock != nil && in.CurrentStock.IsNegative():
		return domain.Product{}, domain.Validationf("currentStock must not be negative")
	}
	for _, k := range in.Controls {
		if !k.Valid() {
			return domain.Product{}, domain.Validationf("unknown authorization kind %q", k)
		}
	}

	var product domain.Product
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		current := decimal.Zero
		existing, err := tx.LockProduct(ctx, in.ID)
		switch {
		case err == nil:
			current = existing.CurrentStock
		case domain.KindOf(err) != domain.KindNotFound:
			return err
		}
		if in.CurrentStock != nil {
			current = *in.CurrentStock
		}
		name := in.Name
		if name == "" {
			name = in.ID
		}
		product = domain.Product{
			ID:           in.ID,
			Name:         name,
			Unit:         in.Unit,
			TargetStock:  in.TargetStock,
			CurrentStock: current,
			Controls:     in.Controls,
			UpdatedAt:    s.clock.Now(),
		}
		return tx.UpsertProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}
