package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/coopx"
	}
	dsn, err := DialectMySQL.NormalizeDSN(dsn)
	if err != nil {
		t.Fatalf("bad MYSQL_DSN: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	return db
}

func getPostgresDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	return db
}

func newSQLStores(t *testing.T) map[string]*SQLStore {
	return map[string]*SQLStore{
		"mysql":    migrated(t, DialectMySQL, getMySQLDB),
		"postgres": migrated(t, DialectPostgres, getPostgresDB),
	}
}

func migrated(t *testing.T, d Dialect, open func(*testing.T) *sql.DB) *SQLStore {
	var store *SQLStore
	t.Run("connect-"+d.String(), func(t *testing.T) {
		db := open(t)
		store = NewSQLStore(db, d)
		require.NoError(t, store.Migrate(context.Background()))
	})
	return store
}

func eachSQLStore(t *testing.T, fn func(t *testing.T, store *SQLStore)) {
	for name, store := range newSQLStores(t) {
		t.Run(name, func(t *testing.T) {
			if store == nil {
				t.Skip("database not available")
			}
			fn(t, store)
		})
	}
}

func testID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func TestSQLStore_OfferVersioning(t *testing.T) {
	eachSQLStore(t, func(t *testing.T, store *SQLStore) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)
		offer := domain.Offer{
			ID:          testID("offer"),
			UserID:      testID("user"),
			Type:        domain.OfferTypeSell,
			SubstanceID: "acetone",
			Quantity:    decimal.NewFromInt(10),
			Filled:      decimal.Zero,
			Unit:        "kg",
			Price:       decimal.RequireFromString("12.5"),
			Status:      domain.OfferStatusActive,
			Auction:     &domain.AuctionTerms{StartingPrice: decimal.NewFromInt(50), EndsAt: now.Add(time.Hour)},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		require.NoError(t, store.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
			return tx.InsertOffer(ctx, offer)
		}))

		got, err := store.GetOffer(ctx, offer.ID)
		require.NoError(t, err)
		assert.True(t, got.SameTerms(offer))
		assert.False(t, got.Auction.HasBid)

		err = store.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
			cur, err := tx.LockOffer(ctx, offer.ID)
			if err != nil {
				return err
			}
			cur.Auction.HasBid = true
			cur.Auction.CurrentBid = decimal.NewFromInt(55)
			cur.Auction.HighestBidder = "bidder"
			cur.Auction.BidCount = 1
			return tx.UpdateOffer(ctx, cur)
		})
		require.NoError(t, err)

		// stale version
		err = store.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
			return tx.UpdateOffer(ctx, got)
		})
		assert.ErrorIs(t, err, ErrOptimisticLock)

		got, err = store.GetOffer(ctx, offer.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.True(t, got.Auction.CurrentBid.Equal(decimal.NewFromInt(55)))
		assert.Equal(t, "bidder", got.Auction.HighestBidder)
	})
}

func TestSQLStore_RollbackOnError(t *testing.T) {
	eachSQLStore(t, func(t *testing.T, store *SQLStore) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)
		lot := domain.InventoryLot{
			ID: testID("lot"), SubstanceID: "acetone", Quantity: decimal.NewFromInt(3), Unit: "kg",
			OwnerID: "a", HolderID: "a", CreatedAt: now, UpdatedAt: now,
		}

		err := store.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
			if err := tx.InsertLot(ctx, lot); err != nil {
				return err
			}
			return domain.ErrPoolExhausted
		})
		assert.ErrorIs(t, err, domain.ErrPoolExhausted)

		_, err = store.GetLot(ctx, lot.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSQLStore_TradesAndClaims(t *testing.T) {
	eachSQLStore(t, func(t *testing.T, store *SQLStore) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)
		substance := testID("substance")
		quotaID := testID("quota")
		dealID := testID("deal")

		err := store.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
			for i, p := range []string{"500", "100", "110", "90"} {
				if err := tx.InsertTrade(ctx, domain.Trade{
					ID: testID("trade"), Type: domain.TradeTypeMarket, SubstanceID: substance,
					Quantity: decimal.NewFromInt(1), Price: decimal.RequireFromString(p),
					SellerID: "s", BuyerID: "b", CompletedAt: now.Add(time.Duration(i) * time.Minute),
				}); err != nil {
					return err
				}
			}
			if err := tx.InsertFlashDeal(ctx, domain.FlashDeal{
				ID: dealID, ProductID: substance, StartsAt: now, EndsAt: now.Add(time.Hour),
				SpecialPrice: decimal.NewFromInt(1), StockLimit: decimal.NewFromInt(20), CreatedAt: now,
			}); err != nil {
				return err
			}
			for _, m := range []string{"a", "a", "b"} {
				if err := tx.InsertFlashClaim(ctx, domain.FlashClaim{
					ID: testID("fc"), DealID: dealID, MemberID: m, Quantity: decimal.NewFromInt(2),
					DeliveryType: domain.DeliveryPickup, CreatedAt: now,
				}); err != nil {
					return err
				}
			}
			if err := tx.InsertQuota(ctx, domain.StrategicQuota{
				ID: quotaID, ProductID: substance, TotalReserved: decimal.NewFromInt(300),
				ResetDate: now.Add(-time.Hour), PeriodDays: 30, CreatedAt: now,
			}); err != nil {
				return err
			}
			for _, c := range []struct {
				member string
				at     time.Time
			}{{"a", now}, {"b", now}, {"a", now.Add(-2 * time.Hour)}} {
				if err := tx.InsertReserveClaim(ctx, domain.ReserveClaim{
					ID: testID("rc"), QuotaID: quotaID, MemberID: c.member, Quantity: decimal.NewFromInt(10),
					DeliveryType: domain.DeliveryPickup, CreatedAt: c.at,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		trades, err := store.RecentTrades(ctx, substance, []domain.TradeType{domain.TradeTypeMarket}, 3)
		require.NoError(t, err)
		require.Len(t, trades, 3)
		assert.True(t, trades[0].Price.Equal(decimal.NewFromInt(90)))

		total, err := store.SumFlashClaims(ctx, dealID, "")
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(6)))
		mine, err := store.SumFlashClaims(ctx, dealID, "a")
		require.NoError(t, err)
		assert.True(t, mine.Equal(decimal.NewFromInt(4)))

		window := port.ClaimWindow{From: now.Add(-time.Hour), To: now.Add(time.Hour)}
		sum, err := store.SumReserveClaims(ctx, quotaID, window)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.NewFromInt(20)))
		n, err := store.CountReserveClaimants(ctx, quotaID, window)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestSQLStore_ProductUpsert(t *testing.T) {
	eachSQLStore(t, func(t *testing.T, store *SQLStore) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)
		p := domain.Product{
			ID: testID("product"), Name: "Ephedrine", Unit: "kg",
			TargetStock: decimal.NewFromInt(100), CurrentStock: decimal.NewFromInt(10),
			Controls: []domain.AuthorizationKind{domain.AuthorizationAE, domain.AuthorizationPF}, UpdatedAt: now,
		}
		for i := 0; i < 2; i++ {
			require.NoError(t, store.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
				return tx.UpsertProduct(ctx, p)
			}))
		}
		require.NoError(t, store.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
			return tx.UpdateProductStock(ctx, p.ID, decimal.NewFromInt(40), now)
		}))

		got, err := store.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Controls, got.Controls)
		assert.True(t, got.Gap().Equal(decimal.NewFromInt(60)))
	})
}
