package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

func TestMemoryStore_RollbackRestoresState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	offer := domain.Offer{
		ID: "o1", UserID: "u", Type: domain.OfferTypeSell, SubstanceID: "acetone",
		Quantity: decimal.NewFromInt(5), Unit: "kg", Price: decimal.NewFromInt(1),
		Status: domain.OfferStatusActive, CreatedAt: now, UpdatedAt: now,
		Auction: &domain.AuctionTerms{StartingPrice: decimal.NewFromInt(1), EndsAt: now.Add(time.Hour)},
	}
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertOffer(ctx, offer)
	}))

	err := s.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		cur, err := tx.LockOffer(ctx, "o1")
		if err != nil {
			return err
		}
		cur.Auction.HasBid = true
		cur.Auction.CurrentBid = decimal.NewFromInt(9)
		if err := tx.UpdateOffer(ctx, cur); err != nil {
			return err
		}
		if err := tx.InsertBid(ctx, domain.Bid{ID: "b1", OfferID: "o1", BidderID: "x", Amount: decimal.NewFromInt(9), CreatedAt: now}); err != nil {
			return err
		}
		return domain.ErrConflict
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := s.GetOffer(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Version)
	assert.False(t, got.Auction.HasBid)
	n, err := s.CountBids(ctx, "o1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.UpsertProduct(ctx, domain.Product{ID: "p", Controls: []domain.AuthorizationKind{domain.AuthorizationAE}})
	}))

	p, err := s.GetProduct(ctx, "p")
	require.NoError(t, err)
	p.Controls[0] = domain.AuthorizationPF

	again, err := s.GetProduct(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationAE, again.Controls[0])
}

func TestMemoryStore_UpdateOfferVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	offer := domain.Offer{ID: "o1", Status: domain.OfferStatusActive}
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx port.Tx) error { return tx.InsertOffer(ctx, offer) }))
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx port.Tx) error { return tx.UpdateOffer(ctx, offer) }))

	err := s.Atomic(ctx, func(ctx context.Context, tx port.Tx) error { return tx.UpdateOffer(ctx, offer) })
	assert.ErrorIs(t, err, ErrOptimisticLock)
}
