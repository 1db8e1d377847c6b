package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DeliveryType string

const (
	DeliveryPickup   DeliveryType = "pickup"
	DeliveryShipping DeliveryType = "delivery"
)

func (d DeliveryType) Valid() bool {
	return d == DeliveryPickup || d == DeliveryShipping
}

// FlashDeal is a time-boxed, stock-capped special price issued by the market maker.
type FlashDeal struct {
	ID             string
	ProductID      string
	StartsAt       time.Time
	EndsAt         time.Time
	SpecialPrice   decimal.Decimal
	StockLimit     decimal.Decimal
	PerMemberLimit *decimal.Decimal
	CreatedAt      time.Time
}

// Open reports whether now falls inside the deal window, both ends inclusive.
func (d FlashDeal) Open(now time.Time) bool {
	return !now.Before(d.StartsAt) && !now.After(d.EndsAt)
}

func (d FlashDeal) Remaining(claimed decimal.Decimal) decimal.Decimal {
	return ClampZero(d.StockLimit.Sub(claimed))
}

type FlashClaim struct {
	ID           string
	DealID       string
	MemberID     string
	Quantity     decimal.Decimal
	DeliveryType DeliveryType
	CreatedAt    time.Time
}
