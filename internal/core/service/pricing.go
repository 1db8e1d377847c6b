package service

import (
	"context"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

var pricedTradeTypes = []domain.TradeType{domain.TradeTypeMarket, domain.TradeTypeLiquidation}

// PriceHistory derives reference prices from completed trades.
type PriceHistory struct {
	trades port.Reader
}

func NewPriceHistory(trades port.Reader) *PriceHistory {
	return &PriceHistory{trades: trades}
}

// AveragePrice returns the mean unit price of the n most recent trades of the
// substance. ok is false when no trade exists.
func (p *PriceHistory) AveragePrice(ctx context.Context, substanceID string, n int) (price decimal.Decimal, ok bool, err error) {
	if n <= 0 {
		n = DefaultPriceWindow
	}
	trades, err := p.trades.RecentTrades(ctx, substanceID, pricedTradeTypes, n)
	if err != nil {
		return decimal.Zero, false, err
	}
	if len(trades) == 0 {
		return decimal.Zero, false, nil
	}

	sum := lo.Reduce(trades, func(acc decimal.Decimal, t domain.Trade, _ int) decimal.Decimal {
		return acc.Add(t.Price)
	}, decimal.Zero)
	return sum.Div(decimal.NewFromInt(int64(len(trades)))), true, nil
}
