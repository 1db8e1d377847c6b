package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeType string

const (
	TradeTypeMarket      TradeType = "MARKET"
	TradeTypeLiquidation TradeType = "LIQUIDATION"
)

// Trade is an immutable record of a completed exchange. Price is per unit.
type Trade struct {
	ID          string
	Type        TradeType
	SubstanceID string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	SellerID    string
	BuyerID     string
	OfferID     string
	CompletedAt time.Time
}

func (t Trade) Total() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}
