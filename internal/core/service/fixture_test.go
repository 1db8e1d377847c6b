package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/coop-exchange/internal/adapter/storage"
	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

const marketMaker = "market-maker"

var (
	admin = domain.Actor{ID: marketMaker, Role: domain.RoleAdmin}
	alice = domain.Actor{ID: "alice", Role: domain.RoleMember}
	bob   = domain.Actor{ID: "bob", Role: domain.RoleMember}
	carol = domain.Actor{ID: "carol", Role: domain.RoleMember}
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *storage.MemoryStore
	cache *storage.MemoryCache
	dir   *storage.MemoryDirectory
	clock *clock.Mock
	mp    *Marketplace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	f := &fixture{
		store: storage.NewMemoryStore(),
		cache: storage.NewMemoryCache(clk),
		dir:   storage.NewMemoryDirectory(),
		clock: clk,
	}
	f.clock.Set(epoch)
	for _, a := range []domain.Actor{alice, bob, carol} {
		f.dir.PutMember(domain.Member{ID: a.ID, Email: a.ID + "@coop.example", TaxID: "TAX-" + a.ID, Active: true})
	}
	f.mp = NewMarketplace(Deps{
		Repo:           f.store,
		Cache:          f.cache,
		Directory:      f.dir,
		Authorizations: f.dir,
		Clock:          f.clock,
		MarketMakerID:  marketMaker,
	})
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func (f *fixture) seed(t *testing.T, fn func(ctx context.Context, tx port.Tx) error) {
	t.Helper()
	require.NoError(t, f.store.Atomic(context.Background(), fn))
}

func (f *fixture) product(t *testing.T, id, target, current string, controls ...domain.AuthorizationKind) {
	t.Helper()
	f.seed(t, func(ctx context.Context, tx port.Tx) error {
		return tx.UpsertProduct(ctx, domain.Product{
			ID:           id,
			Name:         id,
			Unit:         "kg",
			TargetStock:  dec(target),
			CurrentStock: dec(current),
			Controls:     controls,
			UpdatedAt:    epoch,
		})
	})
}

func (f *fixture) lot(t *testing.T, id, owner, substance, qty string, excess bool) {
	t.Helper()
	f.seed(t, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertLot(ctx, domain.InventoryLot{
			ID:          id,
			SubstanceID: substance,
			Quantity:    dec(qty),
			Unit:        "kg",
			OwnerID:     owner,
			HolderID:    owner,
			Excess:      excess,
			CreatedAt:   epoch,
			UpdatedAt:   epoch,
		})
	})
}

// trades records MARKET trades in order, one minute apart, oldest first.
func (f *fixture) trades(t *testing.T, substance string, prices ...string) {
	t.Helper()
	f.seed(t, func(ctx context.Context, tx port.Tx) error {
		for i, p := range prices {
			err := tx.InsertTrade(ctx, domain.Trade{
				ID:          substance + "-trade-" + p + "-" + time.Duration(i).String(),
				Type:        domain.TradeTypeMarket,
				SubstanceID: substance,
				Quantity:    dec("1"),
				Price:       dec(p),
				SellerID:    "seller",
				BuyerID:     "buyer",
				CompletedAt: epoch.Add(-time.Hour).Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func decInt(n int) string {
	return decimal.NewFromInt(int64(n)).String()
}

func errorsIsStale(err error) bool {
	return err != nil && errors.Is(err, domain.ErrStaleVersion)
}
