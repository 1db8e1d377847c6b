package handler

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/core/service"
)

// maxScale matches the NUMERIC(20,6) columns; finer inputs would be rounded
// on insert and no longer match what the allocator checked.
const maxScale = 6

type scaled struct {
	field string
	value decimal.Decimal
}

func optional(field string, v *decimal.Decimal) scaled {
	if v == nil {
		return scaled{field: field}
	}
	return scaled{field: field, value: *v}
}

func checkScale(values ...scaled) error {
	for _, v := range values {
		if !v.value.Equal(v.value.Truncate(maxScale)) {
			return domain.Validationf("%s allows at most %d decimal places", v.field, maxScale)
		}
	}
	return nil
}

type purchaseRequest struct {
	InventoryItemID string          `json:"inventoryItemId"`
	PricePerUnit    decimal.Decimal `json:"pricePerUnit"`
}

func (req purchaseRequest) validate() error {
	return checkScale(scaled{"pricePerUnit", req.PricePerUnit})
}

type purchaseResponse struct {
	Success         bool          `json:"success"`
	InventoryItemID string        `json:"inventoryItemId"`
	BuyerID         string        `json:"buyerId"`
	Trade           tradeResponse `json:"trade"`
}

type liquidationRequest struct {
	InventoryItemID string          `json:"inventoryItemId"`
	Quantity        decimal.Decimal `json:"quantity"`
}

func (req liquidationRequest) validate() error {
	return checkScale(scaled{"quantity", req.Quantity})
}

type liquidationResponse struct {
	Success      bool            `json:"success"`
	Amount       decimal.Decimal `json:"amount"`
	PricePerUnit decimal.Decimal `json:"pricePerUnit"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	ProductID    string          `json:"productId"`
	LotDeleted   bool            `json:"lotDeleted"`
}

type savingsResponse struct {
	Total        decimal.Decimal `json:"total"`
	Transactions int             `json:"transactions"`
}

type createOfferRequest struct {
	Type          string           `json:"type"`
	SubstanceID   string           `json:"substanceId"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Unit          string           `json:"unit"`
	Price         decimal.Decimal  `json:"price"`
	Terms         string           `json:"terms"`
	Draft         bool             `json:"draft"`
	IsAuction     bool             `json:"isAuction"`
	StartingPrice *decimal.Decimal `json:"startingPrice,omitempty"`
	AuctionEnd    *time.Time       `json:"auctionEnd,omitempty"`
}

func (req createOfferRequest) validate() error {
	return checkScale(scaled{"quantity", req.Quantity}, scaled{"price", req.Price}, optional("startingPrice", req.StartingPrice))
}

func (req createOfferRequest) input() (service.CreateOfferInput, error) {
	in := service.CreateOfferInput{
		Type:        domain.OfferType(req.Type),
		SubstanceID: req.SubstanceID,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		Price:       req.Price,
		Terms:       req.Terms,
		Draft:       req.Draft,
	}
	if req.IsAuction {
		if req.StartingPrice == nil || req.AuctionEnd == nil {
			return in, domain.Validationf("auctions require startingPrice and auctionEnd")
		}
		in.Auction = &service.AuctionInput{StartingPrice: *req.StartingPrice, EndsAt: *req.AuctionEnd}
	}
	return in, nil
}

type updateOfferRequest struct {
	Version  *int             `json:"version,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Unit     *string          `json:"unit,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Terms    *string          `json:"terms,omitempty"`
	Status   *string          `json:"status,omitempty"`
}

func (req updateOfferRequest) validate() error {
	return checkScale(optional("quantity", req.Quantity), optional("price", req.Price))
}

func (req updateOfferRequest) input() service.UpdateOfferInput {
	in := service.UpdateOfferInput{
		Version:  req.Version,
		Quantity: req.Quantity,
		Unit:     req.Unit,
		Price:    req.Price,
		Terms:    req.Terms,
	}
	if req.Status != nil {
		st := domain.OfferStatus(*req.Status)
		in.Status = &st
	}
	return in
}

type offerResponse struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	Type          string           `json:"type"`
	SubstanceID   string           `json:"substanceId"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Filled        decimal.Decimal  `json:"filled"`
	Unit          string           `json:"unit"`
	Price         decimal.Decimal  `json:"price"`
	Terms         string           `json:"terms"`
	Status        string           `json:"status"`
	IsAuction     bool             `json:"isAuction"`
	StartingPrice *decimal.Decimal `json:"startingPrice,omitempty"`
	AuctionEnd    *time.Time       `json:"auctionEnd,omitempty"`
	CurrentBid    *decimal.Decimal `json:"currentBid,omitempty"`
	HighestBidder string           `json:"highestBidder,omitempty"`
	BidCount      int              `json:"bidCount"`
	Version       int              `json:"version"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

func newOfferResponse(o domain.Offer) offerResponse {
	resp := offerResponse{
		ID:          o.ID,
		UserID:      o.UserID,
		Type:        string(o.Type),
		SubstanceID: o.SubstanceID,
		Quantity:    o.Quantity,
		Filled:      o.Filled,
		Unit:        o.Unit,
		Price:       o.Price,
		Terms:       o.Terms,
		Status:      string(o.Status),
		IsAuction:   o.IsAuction(),
		Version:     o.Version,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if a := o.Auction; a != nil {
		resp.StartingPrice = lo.ToPtr(a.StartingPrice)
		resp.AuctionEnd = lo.ToPtr(a.EndsAt)
		resp.BidCount = a.BidCount
		if a.HasBid {
			resp.CurrentBid = lo.ToPtr(a.CurrentBid)
			resp.HighestBidder = a.HighestBidder
		}
	}
	return resp
}

type createOfferResponse struct {
	offerResponse
	Duplicated bool `json:"duplicated"`
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type bidResultResponse struct {
	Success bool          `json:"success"`
	Offer   offerResponse `json:"offer"`
}

func (req bidRequest) validate() error {
	return checkScale(scaled{"amount", req.Amount})
}

type bidResponse struct {
	ID        string          `json:"id"`
	OfferID   string          `json:"offerId"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

type acceptRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

func (req acceptRequest) validate() error {
	return checkScale(scaled{"quantity", req.Quantity})
}

type acceptResponse struct {
	Offer offerResponse `json:"offer"`
	Trade tradeResponse `json:"trade"`
}

type tradeResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	SubstanceID string          `json:"substanceId"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	SellerID    string          `json:"sellerId"`
	BuyerID     string          `json:"buyerId"`
	OfferID     string          `json:"offerId,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

func newTradeResponse(t domain.Trade) tradeResponse {
	return tradeResponse{
		ID:          t.ID,
		Type:        string(t.Type),
		SubstanceID: t.SubstanceID,
		Quantity:    t.Quantity,
		Price:       t.Price,
		SellerID:    t.SellerID,
		BuyerID:     t.BuyerID,
		OfferID:     t.OfferID,
		CompletedAt: t.CompletedAt,
	}
}

type createFlashDealRequest struct {
	ProductID      string           `json:"productId"`
	StartTime      time.Time        `json:"startTime"`
	EndTime        time.Time        `json:"endTime"`
	SpecialPrice   decimal.Decimal  `json:"specialPrice"`
	StockLimit     decimal.Decimal  `json:"stockLimit"`
	PerMemberLimit *decimal.Decimal `json:"perMemberLimit,omitempty"`
}

func (req createFlashDealRequest) validate() error {
	return checkScale(scaled{"specialPrice", req.SpecialPrice}, scaled{"stockLimit", req.StockLimit}, optional("perMemberLimit", req.PerMemberLimit))
}

type flashDealResponse struct {
	ID             string           `json:"id"`
	ProductID      string           `json:"productId"`
	StartTime      time.Time        `json:"startTime"`
	EndTime        time.Time        `json:"endTime"`
	SpecialPrice   decimal.Decimal  `json:"specialPrice"`
	StockLimit     decimal.Decimal  `json:"stockLimit"`
	PerMemberLimit *decimal.Decimal `json:"perMemberLimit,omitempty"`
	RemainingStock *decimal.Decimal `json:"remainingStock,omitempty"`
	IsActive       *bool            `json:"isActive,omitempty"`
	ClaimedByMe    *decimal.Decimal `json:"claimedByMe,omitempty"`
	GateStock      *decimal.Decimal `json:"gateStock,omitempty"`
}

func newFlashDealResponse(d domain.FlashDeal) flashDealResponse {
	return flashDealResponse{
		ID:             d.ID,
		ProductID:      d.ProductID,
		StartTime:      d.StartsAt,
		EndTime:        d.EndsAt,
		SpecialPrice:   d.SpecialPrice,
		StockLimit:     d.StockLimit,
		PerMemberLimit: d.PerMemberLimit,
	}
}

func newFlashDealViewResponse(v service.FlashDealView, member bool) flashDealResponse {
	resp := newFlashDealResponse(v.FlashDeal)
	resp.RemainingStock = lo.ToPtr(v.RemainingStock)
	resp.IsActive = lo.ToPtr(v.IsActive)
	resp.GateStock = v.GateStock
	if member {
		resp.ClaimedByMe = lo.ToPtr(v.ClaimedByMe)
	}
	return resp
}

type claimRequest struct {
	Quantity     decimal.Decimal `json:"quantity"`
	DeliveryType string          `json:"deliveryType"`
}

func (req claimRequest) validate() error {
	return checkScale(scaled{"quantity", req.Quantity})
}

type flashClaimResponse struct {
	ID           string          `json:"id"`
	DealID       string          `json:"dealId"`
	MemberID     string          `json:"memberId"`
	Quantity     decimal.Decimal `json:"quantity"`
	DeliveryType string          `json:"deliveryType"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type createQuotaRequest struct {
	ProductID     string          `json:"productId"`
	TotalReserved decimal.Decimal `json:"totalReserved"`
	ResetDate     time.Time       `json:"resetDate"`
	PeriodDays    int             `json:"periodDays"`
}

func (req createQuotaRequest) validate() error {
	return checkScale(scaled{"totalReserved", req.TotalReserved})
}

type resetQuotaRequest struct {
	ResetDate  time.Time `json:"resetDate"`
	PeriodDays int       `json:"periodDays"`
}

type quotaResponse struct {
	ID                string           `json:"id"`
	ProductID         string           `json:"productId"`
	TotalReserved     decimal.Decimal  `json:"totalReserved"`
	ResetDate         time.Time        `json:"resetDate"`
	PeriodDays        int              `json:"periodDays"`
	PeriodEnd         time.Time        `json:"periodEnd"`
	QuotaPerMember    *decimal.Decimal `json:"quotaPerMember,omitempty"`
	ActiveMembers     int              `json:"activeMembers,omitempty"`
	TotalConsumed     *decimal.Decimal `json:"totalConsumed,omitempty"`
	RemainingInPeriod *decimal.Decimal `json:"remainingInPeriod,omitempty"`
	Claimants         *int             `json:"claimants,omitempty"`
	ConsumedByMe      *decimal.Decimal `json:"consumedByMe,omitempty"`
	RemainingForMe    *decimal.Decimal `json:"remainingForMe,omitempty"`
}

func newQuotaResponse(q domain.StrategicQuota) quotaResponse {
	return quotaResponse{
		ID:            q.ID,
		ProductID:     q.ProductID,
		TotalReserved: q.TotalReserved,
		ResetDate:     q.ResetDate,
		PeriodDays:    q.PeriodDays,
		PeriodEnd:     q.PeriodEnd(),
	}
}

func newQuotaViewResponse(v service.QuotaView) quotaResponse {
	resp := newQuotaResponse(v.StrategicQuota)
	resp.QuotaPerMember = lo.ToPtr(v.QuotaPerMember)
	resp.ActiveMembers = v.ActiveMembers
	resp.TotalConsumed = lo.ToPtr(v.TotalConsumed)
	resp.RemainingInPeriod = lo.ToPtr(v.RemainingInPeriod)
	resp.ConsumedByMe = v.ConsumedByMe
	resp.RemainingForMe = v.RemainingForMe
	if v.ConsumedByMe == nil {
		resp.Claimants = lo.ToPtr(v.Claimants)
	}
	return resp
}

type reserveClaimResponse struct {
	ID                     string          `json:"id"`
	QuotaID                string          `json:"quotaId"`
	MemberID               string          `json:"memberId"`
	Quantity               decimal.Decimal `json:"quantity"`
	DeliveryType           string          `json:"deliveryType"`
	RemainingQuotaAfter    decimal.Decimal `json:"remainingQuotaAfter"`
	RemainingInPeriodAfter decimal.Decimal `json:"remainingInPeriodAfter"`
	CreatedAt              time.Time       `json:"createdAt"`
}

type addLotRequest struct {
	SubstanceID string          `json:"substanceId"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	Excess      bool            `json:"excess"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

func (req addLotRequest) validate() error {
	return checkScale(scaled{"quantity", req.Quantity})
}

type excessRequest struct {
	Excess bool `json:"excess"`
}

type lotResponse struct {
	ID           string           `json:"id"`
	SubstanceID  string           `json:"substanceId"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Unit         string           `json:"unit"`
	OwnerID      string           `json:"ownerId"`
	HolderID     string           `json:"holderId"`
	Excess       bool             `json:"excess"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`
	Gap          *decimal.Decimal `json:"gap,omitempty"`
	CanLiquidate *bool            `json:"canLiquidate,omitempty"`
}

func newLotResponse(l domain.InventoryLot) lotResponse {
	return lotResponse{
		ID:          l.ID,
		SubstanceID: l.SubstanceID,
		Quantity:    l.Quantity,
		Unit:        l.Unit,
		OwnerID:     l.OwnerID,
		HolderID:    l.HolderID,
		Excess:      l.Excess,
		ExpiresAt:   l.ExpiresAt,
	}
}

type upsertProductRequest struct {
	Name         string           `json:"name"`
	Unit         string           `json:"unit"`
	TargetStock  decimal.Decimal  `json:"targetStock"`
	CurrentStock *decimal.Decimal `json:"currentStock,omitempty"`
	Controls     []string         `json:"controls"`
}

func (req upsertProductRequest) validate() error {
	return checkScale(scaled{"targetStock", req.TargetStock}, optional("currentStock", req.CurrentStock))
}

type productResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	TargetStock  decimal.Decimal `json:"targetStock"`
	CurrentStock decimal.Decimal `json:"currentStock"`
	Gap          decimal.Decimal `json:"gap"`
	Controls     []string        `json:"controls"`
}

func newProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:           p.ID,
		Name:         p.Name,
		Unit:         p.Unit,
		TargetStock:  p.TargetStock,
		CurrentStock: p.CurrentStock,
		Gap:          p.Gap(),
		Controls:     lo.Map(p.Controls, func(k domain.AuthorizationKind, _ int) string { return string(k) }),
	}
}

type stockResponse struct {
	Role       string              `json:"role"`
	Products   []productResponse   `json:"products,omitempty"`
	Inventory  []lotResponse       `json:"inventory,omitempty"`
	FlashDeals []flashDealResponse `json:"flashDeals"`
	Quotas     []quotaResponse     `json:"quotas"`
}

func newStockResponse(d service.StockDashboard, member bool) stockResponse {
	resp := stockResponse{
		Role:     string(d.Role),
		Products: lo.Map(d.Products, func(p service.ProductView, _ int) productResponse { return newProductResponse(p.Product) }),
		Inventory: lo.Map(d.Inventory, func(v service.LotView, _ int) lotResponse {
			l := newLotResponse(v.InventoryLot)
			l.Gap = lo.ToPtr(v.Gap)
			l.CanLiquidate = lo.ToPtr(v.CanLiquidate)
			return l
		}),
		FlashDeals: lo.Map(d.FlashDeals, func(v service.FlashDealView, _ int) flashDealResponse { return newFlashDealViewResponse(v, member) }),
		Quotas:     lo.Map(d.Quotas, func(v service.QuotaView, _ int) quotaResponse { return newQuotaViewResponse(v) }),
	}
	return resp
}
