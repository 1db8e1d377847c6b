package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryLot is a quantity of one substance. Owner holds the value, Holder
// holds the goods; they diverge after a sale that has not been picked up.
type InventoryLot struct {
	ID          string
	SubstanceID string
	Quantity    decimal.Decimal
	Unit        string
	OwnerID     string
	HolderID    string
	Excess      bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HeldBy reports whether memberID both owns and physically holds the lot.
func (l InventoryLot) HeldBy(memberID string) bool {
	return l.OwnerID == memberID && l.HolderID == memberID
}

// Product is the market maker's position in one substance. ID is the substance id.
type Product struct {
	ID           string
	Name         string
	Unit         string
	TargetStock  decimal.Decimal
	CurrentStock decimal.Decimal
	Controls     []AuthorizationKind
	UpdatedAt    time.Time
}

// Gap is the unmet market maker demand, never negative.
func (p Product) Gap() decimal.Decimal {
	return ClampZero(p.TargetStock.Sub(p.CurrentStock))
}
