package handler

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/core/service"
	"github.com/rl1809/coop-exchange/internal/obs"
)

var _ MarketplaceServer = (*GRPCHandler)(nil)

type GRPCHandler struct {
	mp *service.Marketplace
}

func NewGRPCHandler(mp *service.Marketplace) *GRPCHandler {
	return &GRPCHandler{mp: mp}
}

func grpcCode(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindForbidden:
		return codes.PermissionDenied
	case domain.KindConflict:
		return codes.Aborted
	case domain.KindBusinessRule:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func grpcError(method string, err error) error {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		log.Errorw("rpc failed", "method", method, "error", err)
		return status.Error(codes.Internal, "internal")
	}
	return status.Error(grpcCode(de.Kind), de.Error())
}

func actorFromMetadata(ctx context.Context) (domain.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	id := first(MetadataActorID)
	role := domain.Role(first(MetadataActorRole))
	if role == "" {
		role = domain.RoleMember
	}
	if id == "" || !role.Valid() {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "missing or invalid "+MetadataActorID+"/"+MetadataActorRole)
	}
	return domain.Actor{ID: id, Role: role}, nil
}

// UnaryServerInterceptor logs each RPC and observes its latency.
func UnaryServerInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	elapsed := time.Since(start)
	code := status.Code(err)
	obs.RequestDuration.WithLabelValues("grpc", info.FullMethod, code.String()).Observe(elapsed.Seconds())
	log.Infow("grpc_request",
		"method", info.FullMethod,
		"code", code.String(),
		"latency_ms", elapsed.Milliseconds(),
	)
	return resp, err
}

func (h *GRPCHandler) PlaceBid(ctx context.Context, req *PlaceBidRequest) (*PlaceBidReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, grpcError("PlaceBid", err)
	}
	offer, err := h.mp.Offers.PlaceBid(ctx, req.OfferID, actor.ID, req.Amount)
	if err != nil {
		return nil, grpcError("PlaceBid", err)
	}
	reply := &PlaceBidReply{OfferID: offer.ID, Version: offer.Version}
	if a := offer.Auction; a != nil {
		reply.CurrentBid = a.CurrentBid
		reply.HighestBidder = a.HighestBidder
		reply.BidCount = a.BidCount
	}
	return reply, nil
}

func (h *GRPCHandler) ClaimFlashDeal(ctx context.Context, req *ClaimRequest) (*FlashClaimReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, grpcError("ClaimFlashDeal", err)
	}
	res, err := h.mp.FlashDeals.Claim(ctx, actor.ID, req.ID, req.Quantity, domain.DeliveryType(req.DeliveryType))
	if err != nil {
		return nil, grpcError("ClaimFlashDeal", err)
	}
	return &FlashClaimReply{
		ClaimID:    res.Claim.ID,
		DealID:     res.Claim.DealID,
		Quantity:   res.Claim.Quantity,
		TotalPrice: res.TotalPrice,
		CreatedAt:  res.Claim.CreatedAt,
	}, nil
}

func (h *GRPCHandler) ClaimReserve(ctx context.Context, req *ClaimRequest) (*ReserveClaimReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, grpcError("ClaimReserve", err)
	}
	res, err := h.mp.Reserves.Claim(ctx, actor.ID, req.ID, req.Quantity, domain.DeliveryType(req.DeliveryType))
	if err != nil {
		return nil, grpcError("ClaimReserve", err)
	}
	return &ReserveClaimReply{
		ClaimID:                res.Claim.ID,
		QuotaID:                res.Claim.QuotaID,
		Quantity:               res.Claim.Quantity,
		RemainingQuotaAfter:    res.RemainingQuotaAfter,
		RemainingInPeriodAfter: res.RemainingInPeriodAfter,
		CreatedAt:              res.Claim.CreatedAt,
	}, nil
}

func (h *GRPCHandler) Liquidate(ctx context.Context, req *LiquidateRequest) (*LiquidateReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, grpcError("Liquidate", err)
	}
	res, err := h.mp.Liquidation.Liquidate(ctx, actor.ID, req.InventoryItemID, req.Quantity)
	if err != nil {
		return nil, grpcError("Liquidate", err)
	}
	return &LiquidateReply{
		Amount:       res.Amount,
		PricePerUnit: res.PricePerUnit,
		TotalPrice:   res.TotalPrice,
		LotDeleted:   res.LotDeleted,
	}, nil
}

func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseReply, error) {
	actor, err := actorFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, grpcError("Purchase", err)
	}
	res, err := h.mp.Transfers.Purchase(ctx, actor, req.InventoryItemID, req.PricePerUnit)
	if err != nil {
		return nil, grpcError("Purchase", err)
	}
	return &PurchaseReply{
		TradeID:     res.Trade.ID,
		SellerID:    res.Trade.SellerID,
		Quantity:    res.Trade.Quantity,
		Price:       res.Trade.Price,
		CompletedAt: res.Trade.CompletedAt,
	}, nil
}
