package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

func (f *fixture) flashDeal(t *testing.T, stock string, perMember *string) domain.FlashDeal {
	t.Helper()
	f.product(t, "acetone", "0", "0")
	in := CreateFlashDealInput{
		ProductID:    "acetone",
		StartsAt:     epoch,
		EndsAt:       epoch.Add(time.Hour),
		SpecialPrice: dec("80"),
		StockLimit:   dec(stock),
	}
	if perMember != nil {
		in.PerMemberLimit = decp(*perMember)
	}
	deal, err := f.mp.FlashDeals.Create(context.Background(), admin, in)
	require.NoError(t, err)
	return deal
}

func TestFlashClaim_PoolExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.flashDeal(t, "20", nil)

	res, err := f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("15"), domain.DeliveryPickup)
	require.NoError(t, err)
	assert.True(t, res.TotalPrice.Equal(dec("1200")))

	_, err = f.mp.FlashDeals.Claim(ctx, bob.ID, deal.ID, dec("10"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)

	_, err = f.mp.FlashDeals.Claim(ctx, bob.ID, deal.ID, dec("5"), domain.DeliveryShipping)
	require.NoError(t, err)

	stock, ok, err := f.cache.Stock(ctx, "flash:"+deal.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stock.IsZero(), "gate stock %s", stock)
}

func TestFlashClaim_PerMemberLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limit := "5"
	deal := f.flashDeal(t, "20", &limit)

	_, err := f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("4"), domain.DeliveryPickup)
	require.NoError(t, err)
	_, err = f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("2"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrMemberLimitExceeded)

	// a rejected claim gives its stock back to the gate
	stock, ok, err := f.cache.Stock(ctx, "flash:"+deal.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stock.Equal(dec("16")), "gate stock %s", stock)
}

func TestFlashClaim_MemberLimitBeforePool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limit := "20"
	deal := f.flashDeal(t, "100", &limit)

	_, err := f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("15"), domain.DeliveryPickup)
	require.NoError(t, err)
	_, err = f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("10"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrMemberLimitExceeded)

	_, err = f.mp.FlashDeals.Claim(ctx, bob.ID, deal.ID, dec("10"), domain.DeliveryShipping)
	require.NoError(t, err)
}

func TestFlashClaim_NeverOversells(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		stock := rapid.IntRange(1, 30).Draw(rt, "stock")
		deal := f.flashDeal(t, decInt(stock), nil)

		claims := rapid.SliceOfN(rapid.IntRange(1, 10), 1, 16).Draw(rt, "claims")
		var wg sync.WaitGroup
		for i, q := range claims {
			wg.Add(1)
			go func(member string, q int) {
				defer wg.Done()
				_, _ = f.mp.FlashDeals.Claim(ctx, member, deal.ID, dec(decInt(q)), domain.DeliveryPickup)
			}("member-"+decInt(i), q)
		}
		wg.Wait()

		claimed, err := f.store.SumFlashClaims(ctx, deal.ID, "")
		require.NoError(rt, err)
		if claimed.GreaterThan(deal.StockLimit) {
			rt.Fatalf("claimed %s exceeds stock %s", claimed, deal.StockLimit)
		}
		gate, ok, err := f.cache.Stock(ctx, "flash:"+deal.ID)
		require.NoError(rt, err)
		require.True(rt, ok)
		if !gate.Add(claimed).Equal(deal.StockLimit) {
			rt.Fatalf("gate %s plus claimed %s does not equal stock %s", gate, claimed, deal.StockLimit)
		}
	})
}

func TestFlashClaim_Window(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.flashDeal(t, "20", nil)

	f.clock.Set(epoch.Add(-time.Second))
	_, err := f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrNotStarted)

	f.clock.Set(epoch.Add(time.Hour))
	_, err = f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("1"), domain.DeliveryPickup)
	assert.NoError(t, err, "end instant is inclusive")

	f.clock.Add(time.Second)
	_, err = f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrEnded)
}

func TestFlashClaim_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.flashDeal(t, "20", nil)

	_, err := f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("0"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("1"), "drone")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.mp.FlashDeals.Claim(ctx, alice.ID, "missing", dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFlashClaim_CacheMissFallsBackToDatabase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(t, "acetone", "0", "0")

	// inserted directly, so the gate was never seeded
	deal := domain.FlashDeal{ID: "deal-1", ProductID: "acetone", StartsAt: epoch, EndsAt: epoch.Add(time.Hour), SpecialPrice: dec("1"), StockLimit: dec("3")}
	f.seed(t, func(ctx context.Context, tx port.Tx) error { return tx.InsertFlashDeal(ctx, deal) })

	_, err := f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("3"), domain.DeliveryPickup)
	require.NoError(t, err)
	_, err = f.mp.FlashDeals.Claim(ctx, bob.ID, deal.ID, dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
}

func TestFlashClaim_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.flashDeal(t, "20", nil)

	var success, failed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.mp.FlashDeals.Claim(ctx, "member-"+decInt(i), deal.ID, dec("1"), domain.DeliveryPickup)
			if err == nil {
				success.Add(1)
			} else {
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(20), success.Load())
	assert.Equal(t, int32(30), failed.Load())

	claimed, err := f.store.SumFlashClaims(ctx, deal.ID, "")
	require.NoError(t, err)
	assert.True(t, claimed.Equal(dec("20")))
}

func TestFlashDeal_CreateRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.product(t, "acetone", "0", "0")

	_, err := f.mp.FlashDeals.Create(context.Background(), alice, CreateFlashDealInput{
		ProductID: "acetone", StartsAt: epoch, EndsAt: epoch.Add(time.Hour), SpecialPrice: dec("1"), StockLimit: dec("1"),
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.mp.FlashDeals.Create(context.Background(), admin, CreateFlashDealInput{
		ProductID: "acetone", StartsAt: epoch, EndsAt: epoch, SpecialPrice: dec("1"), StockLimit: dec("1"),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFlashDeal_Listings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.flashDeal(t, "20", nil)

	_, err := f.mp.FlashDeals.Claim(ctx, alice.ID, deal.ID, dec("3"), domain.DeliveryPickup)
	require.NoError(t, err)

	views, err := f.mp.FlashDeals.ListActive(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsActive)
	assert.True(t, views[0].RemainingStock.Equal(dec("17")))
	assert.True(t, views[0].ClaimedByMe.Equal(dec("3")))

	f.clock.Add(2 * time.Hour)
	views, err = f.mp.FlashDeals.ListActive(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, views)

	all, err := f.mp.FlashDeals.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
	require.NotNil(t, all[0].GateStock)
	assert.True(t, all[0].GateStock.Equal(all[0].RemainingStock), "gate %s", all[0].GateStock)
}

func TestFlashDeal_ListAllReportsGateDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.flashDeal(t, "20", nil)

	require.NoError(t, f.cache.SetStock(ctx, "flash:"+deal.ID, dec("12")))

	all, err := f.mp.FlashDeals.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].GateStock)
	assert.True(t, all[0].GateStock.Equal(dec("12")))
	assert.True(t, all[0].RemainingStock.Equal(dec("20")))

	active, err := f.mp.FlashDeals.ListActive(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Nil(t, active[0].GateStock)
}
