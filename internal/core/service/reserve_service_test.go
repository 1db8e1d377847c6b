package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

func (f *fixture) quota(t *testing.T, total string) domain.StrategicQuota {
	t.Helper()
	f.product(t, "acetone", "0", "0")
	q, err := f.mp.Reserves.Create(context.Background(), admin, CreateQuotaInput{
		ProductID:     "acetone",
		TotalReserved: dec(total),
		ResetDate:     epoch.Add(-24 * time.Hour),
		PeriodDays:    30,
	})
	require.NoError(t, err)
	return q
}

func TestReserveClaim_PerMemberQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quota(t, "300")

	res, err := f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("60"), domain.DeliveryPickup)
	require.NoError(t, err)
	assert.True(t, res.RemainingQuotaAfter.Equal(dec("40")), "remaining %s", res.RemainingQuotaAfter)
	assert.True(t, res.RemainingInPeriodAfter.Equal(dec("240")))

	_, err = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("50"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	_, err = f.mp.Reserves.Claim(ctx, bob.ID, q.ID, dec("100"), domain.DeliveryShipping)
	require.NoError(t, err)
}

func TestReserveClaim_PoolExhaustedWhenMembersShrink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quota(t, "300")

	for _, m := range []string{alice.ID, bob.ID, carol.ID} {
		_, err := f.mp.Reserves.Claim(ctx, m, q.ID, dec("90"), domain.DeliveryPickup)
		require.NoError(t, err)
	}

	// two members leave: each share grows to 300 but only 30 is left
	f.dir.PutMember(domain.Member{ID: bob.ID, Active: false})
	f.dir.PutMember(domain.Member{ID: carol.ID, Active: false})

	_, err := f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("31"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrPoolExhausted)
	_, err = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("30"), domain.DeliveryPickup)
	assert.NoError(t, err)
}

func TestReserveClaim_ConcurrentSameMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quota(t, "300")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("15"), domain.DeliveryPickup)
		}()
	}
	wg.Wait()

	mine, err := f.store.SumReserveClaims(ctx, q.ID, port.ClaimWindow{MemberID: alice.ID, From: q.ResetDate, To: q.PeriodEnd()})
	require.NoError(t, err)
	perMember := q.PerMember(3)
	assert.True(t, mine.LessThanOrEqual(perMember), "consumed %s exceeds share %s", mine, perMember)
	assert.True(t, mine.Equal(dec("90")), "consumed %s", mine)
}

func TestReserveClaim_Period(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quota(t, "300")

	_, err := f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("100"), domain.DeliveryPickup)
	require.NoError(t, err)

	f.clock.Set(q.PeriodEnd())
	_, err = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrEnded)

	_, err = f.mp.Reserves.Reset(ctx, alice, q.ID, q.PeriodEnd(), 0)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	reset, err := f.mp.Reserves.Reset(ctx, admin, q.ID, q.PeriodEnd(), 0)
	require.NoError(t, err)
	assert.Equal(t, 30, reset.PeriodDays)

	// the new period starts with a full share
	_, err = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("100"), domain.DeliveryPickup)
	assert.NoError(t, err)

	f.clock.Set(q.PeriodEnd().Add(-time.Second))
	_, err = f.mp.Reserves.Reset(ctx, admin, q.ID, q.PeriodEnd(), 30)
	require.NoError(t, err)
	_, err = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrNotStarted)
}

func TestReserveClaim_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quota(t, "300")

	_, err := f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("-1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("1"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.mp.Reserves.Claim(ctx, alice.ID, "missing", dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReserveClaim_ControlledSubstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quota(t, "300")
	f.product(t, "acetone", "0", "0", domain.AuthorizationAE)

	_, err := f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedSubst)

	f.dir.Grant(domain.Authorization{
		ID: "expired", MemberID: alice.ID, Kind: domain.AuthorizationAE, Active: true,
		Validity: domain.ValidUntil(epoch.Add(-time.Hour)),
	})
	_, err = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("1"), domain.DeliveryPickup)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedSubst)

	f.dir.Grant(domain.Authorization{
		ID: "valid", MemberID: alice.ID, Kind: domain.AuthorizationAE, SubstanceID: "acetone", Active: true,
		Validity: domain.ValidUntil(epoch.Add(time.Hour)),
	})
	_, err = f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("1"), domain.DeliveryPickup)
	assert.NoError(t, err)
}

func TestReserve_Listings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.quota(t, "300")

	_, err := f.mp.Reserves.Claim(ctx, alice.ID, q.ID, dec("60"), domain.DeliveryPickup)
	require.NoError(t, err)
	_, err = f.mp.Reserves.Claim(ctx, bob.ID, q.ID, dec("10"), domain.DeliveryPickup)
	require.NoError(t, err)

	mine, err := f.mp.Reserves.ListForMember(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, 3, mine[0].ActiveMembers)
	assert.True(t, mine[0].QuotaPerMember.Equal(dec("100")))
	assert.True(t, mine[0].ConsumedByMe.Equal(dec("60")))
	assert.True(t, mine[0].RemainingForMe.Equal(dec("40")))
	assert.True(t, mine[0].RemainingInPeriod.Equal(dec("230")))

	all, err := f.mp.Reserves.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Claimants)
	assert.Nil(t, all[0].ConsumedByMe)
	assert.True(t, all[0].TotalConsumed.Equal(dec("70")))
}
