package handler

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/core/service"
)

func newGRPCClient(t *testing.T, mp *service.Marketplace) *MarketplaceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryServerInterceptor))
	RegisterMarketplaceServer(srv, NewGRPCHandler(mp))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewMarketplaceClient(conn)
}

func createFlashDeal(t *testing.T, mp *service.Marketplace, stock string, perMember *decimal.Decimal) domain.FlashDeal {
	t.Helper()
	ctx := context.Background()
	_, err := mp.Inventory.UpsertProduct(ctx, admin, service.UpsertProductInput{ID: "acetone", Unit: "l"})
	require.NoError(t, err)
	deal, err := mp.FlashDeals.Create(ctx, admin, service.CreateFlashDealInput{
		ProductID:      "acetone",
		StartsAt:       epoch.Add(-time.Minute),
		EndsAt:         epoch.Add(time.Hour),
		SpecialPrice:   decimal.NewFromInt(2),
		StockLimit:     decimal.RequireFromString(stock),
		PerMemberLimit: perMember,
	})
	require.NoError(t, err)
	return deal
}

func TestGRPC_ClaimFlashDeal(t *testing.T) {
	mp, _ := newTestMarketplace(t)
	client := newGRPCClient(t, mp)
	limit := decimal.NewFromInt(20)
	deal := createFlashDeal(t, mp, "100", &limit)

	ctx := WithActorMetadata(context.Background(), alice)
	reply, err := client.ClaimFlashDeal(ctx, &ClaimRequest{ID: deal.ID, Quantity: decimal.NewFromInt(15), DeliveryType: "pickup"})
	require.NoError(t, err)
	assert.Equal(t, deal.ID, reply.DealID)
	assert.True(t, reply.TotalPrice.Equal(decimal.NewFromInt(30)))

	_, err = client.ClaimFlashDeal(ctx, &ClaimRequest{ID: deal.ID, Quantity: decimal.NewFromInt(10), DeliveryType: "pickup"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.ClaimFlashDeal(ctx, &ClaimRequest{ID: "missing", Quantity: decimal.NewFromInt(1), DeliveryType: "pickup"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.ClaimFlashDeal(ctx, &ClaimRequest{ID: deal.ID, Quantity: decimal.NewFromInt(1), DeliveryType: "drone"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.ClaimFlashDeal(ctx, &ClaimRequest{ID: deal.ID, Quantity: decimal.RequireFromString("0.0000001"), DeliveryType: "pickup"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_RequiresActor(t *testing.T) {
	mp, _ := newTestMarketplace(t)
	client := newGRPCClient(t, mp)

	_, err := client.Purchase(context.Background(), &PurchaseRequest{InventoryItemID: "lot-1", PricePerUnit: decimal.NewFromInt(1)})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGRPC_ConcurrentClaimsNeverOversell(t *testing.T) {
	mp, _ := newTestMarketplace(t)
	client := newGRPCClient(t, mp)
	deal := createFlashDeal(t, mp, "20", nil)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := WithActorMetadata(context.Background(), []domain.Actor{alice, bob, carol}[i%3])
			_, err := client.ClaimFlashDeal(ctx, &ClaimRequest{ID: deal.ID, Quantity: decimal.NewFromInt(1), DeliveryType: "delivery"})
			switch status.Code(err) {
			case codes.OK:
				ok.Add(1)
			case codes.FailedPrecondition, codes.Aborted:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 20, ok.Load())
	assert.EqualValues(t, 30, rejected.Load())
}

func TestGRPC_PlaceBidConflict(t *testing.T) {
	mp, _ := newTestMarketplace(t)
	client := newGRPCClient(t, mp)

	res, err := mp.Offers.Create(context.Background(), alice, service.CreateOfferInput{
		Type:        domain.OfferTypeSell,
		SubstanceID: "ethanol",
		Quantity:    decimal.NewFromInt(100),
		Unit:        "l",
		Terms:       "ex works",
		Auction:     &service.AuctionInput{StartingPrice: decimal.NewFromInt(50), EndsAt: epoch.Add(time.Hour)},
	})
	require.NoError(t, err)

	reply, err := client.PlaceBid(WithActorMetadata(context.Background(), bob), &PlaceBidRequest{OfferID: res.Offer.ID, Amount: decimal.NewFromInt(60)})
	require.NoError(t, err)
	assert.Equal(t, "bob", reply.HighestBidder)
	assert.Equal(t, 1, reply.BidCount)

	_, err = client.PlaceBid(WithActorMetadata(context.Background(), carol), &PlaceBidRequest{OfferID: res.Offer.ID, Amount: decimal.NewFromInt(60)})
	assert.Equal(t, codes.Aborted, status.Code(err))

	_, err = client.PlaceBid(WithActorMetadata(context.Background(), alice), &PlaceBidRequest{OfferID: res.Offer.ID, Amount: decimal.NewFromInt(70)})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
