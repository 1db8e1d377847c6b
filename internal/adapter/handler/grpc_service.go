package handler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rl1809/coop-exchange/internal/core/domain"
)

const MarketplaceServiceName = "coopexchange.v1.Marketplace"

// Metadata keys carrying the gateway identity on RPCs.
const (
	MetadataActorID   = "x-actor-id"
	MetadataActorRole = "x-actor-role"
)

type PlaceBidRequest struct {
	OfferID string          `json:"offerId"`
	Amount  decimal.Decimal `json:"amount"`
}

func (req *PlaceBidRequest) validate() error {
	return checkScale(scaled{"amount", req.Amount})
}

type PlaceBidReply struct {
	OfferID       string          `json:"offerId"`
	CurrentBid    decimal.Decimal `json:"currentBid"`
	HighestBidder string          `json:"highestBidder"`
	BidCount      int             `json:"bidCount"`
	Version       int             `json:"version"`
}

// ClaimRequest targets a flash deal or a strategic quota by ID.
type ClaimRequest struct {
	ID           string          `json:"id"`
	Quantity     decimal.Decimal `json:"quantity"`
	DeliveryType string          `json:"deliveryType"`
}

func (req *ClaimRequest) validate() error {
	return checkScale(scaled{"quantity", req.Quantity})
}

type FlashClaimReply struct {
	ClaimID    string          `json:"claimId"`
	DealID     string          `json:"dealId"`
	Quantity   decimal.Decimal `json:"quantity"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type ReserveClaimReply struct {
	ClaimID                string          `json:"claimId"`
	QuotaID                string          `json:"quotaId"`
	Quantity               decimal.Decimal `json:"quantity"`
	RemainingQuotaAfter    decimal.Decimal `json:"remainingQuotaAfter"`
	RemainingInPeriodAfter decimal.Decimal `json:"remainingInPeriodAfter"`
	CreatedAt              time.Time       `json:"createdAt"`
}

type LiquidateRequest struct {
	InventoryItemID string          `json:"inventoryItemId"`
	Quantity        decimal.Decimal `json:"quantity"`
}

func (req *LiquidateRequest) validate() error {
	return checkScale(scaled{"quantity", req.Quantity})
}

type LiquidateReply struct {
	Amount       decimal.Decimal `json:"amount"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	LotDeleted   bool            `json:"lotDeleted"`
}

type PurchaseRequest struct {
	InventoryItemID string          `json:"inventoryItemId"`
	PricePerUnit    decimal.Decimal `json:"pricePerUnit"`
}

func (req *PurchaseRequest) validate() error {
	return checkScale(scaled{"pricePerUnit", req.PricePerUnit})
}

type PurchaseReply struct {
	TradeID     string          `json:"tradeId"`
	SellerID    string          `json:"sellerId"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	CompletedAt time.Time       `json:"completedAt"`
}

// MarketplaceServer is the contended subset of the marketplace exposed over gRPC.
type MarketplaceServer interface {
	PlaceBid(context.Context, *PlaceBidRequest) (*PlaceBidReply, error)
	ClaimFlashDeal(context.Context, *ClaimRequest) (*FlashClaimReply, error)
	ClaimReserve(context.Context, *ClaimRequest) (*ReserveClaimReply, error)
	Liquidate(context.Context, *LiquidateRequest) (*LiquidateReply, error)
	Purchase(context.Context, *PurchaseRequest) (*PurchaseReply, error)
}

func fullMethod(name string) string {
	return "/" + MarketplaceServiceName + "/" + name
}

func unaryMethod[Req, Resp any](name string, call func(MarketplaceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MarketplaceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(MarketplaceServer), ctx, req.(*Req))
			})
		},
	}
}

var MarketplaceServiceDesc = grpc.ServiceDesc{
	ServiceName: MarketplaceServiceName,
	HandlerType: (*MarketplaceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("PlaceBid", MarketplaceServer.PlaceBid),
		unaryMethod("ClaimFlashDeal", MarketplaceServer.ClaimFlashDeal),
		unaryMethod("ClaimReserve", MarketplaceServer.ClaimReserve),
		unaryMethod("Liquidate", MarketplaceServer.Liquidate),
		unaryMethod("Purchase", MarketplaceServer.Purchase),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coopexchange/v1/marketplace",
}

func RegisterMarketplaceServer(s grpc.ServiceRegistrar, srv MarketplaceServer) {
	s.RegisterService(&MarketplaceServiceDesc, srv)
}

// MarketplaceClient calls MarketplaceServer with the JSON codec.
type MarketplaceClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketplaceClient(cc grpc.ClientConnInterface) *MarketplaceClient {
	return &MarketplaceClient{cc: cc}
}

// WithActorMetadata attaches the caller identity to outgoing RPC metadata.
func WithActorMetadata(ctx context.Context, actor domain.Actor) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataActorID, actor.ID, MetadataActorRole, string(actor.Role))
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MarketplaceClient) PlaceBid(ctx context.Context, in *PlaceBidRequest, opts ...grpc.CallOption) (*PlaceBidReply, error) {
	return invoke[PlaceBidReply](ctx, c.cc, "PlaceBid", in, opts)
}

func (c *MarketplaceClient) ClaimFlashDeal(ctx context.Context, in *ClaimRequest, opts ...grpc.CallOption) (*FlashClaimReply, error) {
	return invoke[FlashClaimReply](ctx, c.cc, "ClaimFlashDeal", in, opts)
}

func (c *MarketplaceClient) ClaimReserve(ctx context.Context, in *ClaimRequest, opts ...grpc.CallOption) (*ReserveClaimReply, error) {
	return invoke[ReserveClaimReply](ctx, c.cc, "ClaimReserve", in, opts)
}

func (c *MarketplaceClient) Liquidate(ctx context.Context, in *LiquidateRequest, opts ...grpc.CallOption) (*LiquidateReply, error) {
	return invoke[LiquidateReply](ctx, c.cc, "Liquidate", in, opts)
}

func (c *MarketplaceClient) Purchase(ctx context.Context, in *PurchaseRequest, opts ...grpc.CallOption) (*PurchaseReply, error) {
	return invoke[PurchaseReply](ctx, c.cc, "Purchase", in, opts)
}
