package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/core/service"
	"github.com/rl1809/coop-exchange/internal/port"
)

type HTTPHandler struct {
	mp *service.Marketplace
}

func NewHTTPHandler(mp *service.Marketplace) *HTTPHandler {
	return &HTTPHandler{mp: mp}
}

// Router mounts the marketplace API. metrics, when non-nil, is served at /metrics.
func (h *HTTPHandler) Router(metrics http.Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(WithLogging)
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(h.HealthCheck)
	if metrics != nil {
		r.Methods(http.MethodGet).Path("/metrics").Handler(metrics)
	}

	m := r.PathPrefix("/marketplace").Subrouter()
	m.Use(WithActor)
	m.Methods(http.MethodGet).Path("/stock").HandlerFunc(h.stock)
	m.Methods(http.MethodPost).Path("/purchase").HandlerFunc(h.purchase)
	m.Methods(http.MethodPost).Path("/liquidation").HandlerFunc(h.liquidate)
	m.Methods(http.MethodGet).Path("/liquidation-savings").HandlerFunc(h.savings)

	m.Methods(http.MethodGet).Path("/offers").HandlerFunc(h.listOffers)
	m.Methods(http.MethodPost).Path("/offers").HandlerFunc(h.createOffer)
	m.Methods(http.MethodGet).Path("/offers/{id}").HandlerFunc(h.getOffer)
	m.Methods(http.MethodPatch).Path("/offers/{id}").HandlerFunc(h.updateOffer)
	m.Methods(http.MethodDelete).Path("/offers/{id}").HandlerFunc(h.deleteOffer)
	m.Methods(http.MethodPost).Path("/offers/{id}/bid").HandlerFunc(h.placeBid)
	m.Methods(http.MethodGet).Path("/offers/{id}/bids").HandlerFunc(h.listBids)
	m.Methods(http.MethodPost).Path("/offers/{id}/accept").HandlerFunc(h.acceptOffer)

	m.Methods(http.MethodGet).Path("/flash-deals").HandlerFunc(h.listFlashDeals)
	m.Methods(http.MethodPost).Path("/flash-deals").HandlerFunc(h.createFlashDeal)
	m.Methods(http.MethodPost).Path("/flash-deals/{id}/claim").HandlerFunc(h.claimFlashDeal)

	m.Methods(http.MethodGet).Path("/strategic-quotas").HandlerFunc(h.listQuotas)
	m.Methods(http.MethodPost).Path("/strategic-quotas").HandlerFunc(h.createQuota)
	m.Methods(http.MethodPost).Path("/strategic-quotas/{id}/claim").HandlerFunc(h.claimReserve)
	m.Methods(http.MethodPost).Path("/strategic-quotas/{id}/reset").HandlerFunc(h.resetQuota)

	m.Methods(http.MethodPost).Path("/inventory").HandlerFunc(h.addLot)
	m.Methods(http.MethodPatch).Path("/inventory/{id}/excess").HandlerFunc(h.setExcess)
	m.Methods(http.MethodPut).Path("/products/{id}").HandlerFunc(h.upsertProduct)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not supported on "+r.URL.Path)
	})
	return WithRequestID(r)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Validationf("invalid request body: %v", err)
	}
	if req, ok := v.(interface{ validate() error }); ok {
		return req.validate()
	}
	return nil
}

func actor(r *http.Request) domain.Actor {
	a, _ := ActorFromContext(r.Context())
	return a
}

func (h *HTTPHandler) stock(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	board, err := h.mp.Dashboard.Stock(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStockResponse(board, !a.IsAdmin()))
}

func (h *HTTPHandler) purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.mp.Transfers.Purchase(r.Context(), actor(r), req.InventoryItemID, req.PricePerUnit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchaseResponse{
		Success:         res.Success,
		InventoryItemID: res.InventoryItemID,
		BuyerID:         res.BuyerID,
		Trade:           newTradeResponse(res.Trade),
	})
}

func (h *HTTPHandler) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.InventoryItemID == "" {
		writeError(w, r, domain.Validationf("inventoryItemId is required"))
		return
	}
	res, err := h.mp.Liquidation.Liquidate(r.Context(), actor(r).ID, req.InventoryItemID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationResponse{
		Success:      true,
		Amount:       res.Amount,
		PricePerUnit: res.PricePerUnit,
		TotalPrice:   res.TotalPrice,
		ProductID:    res.ProductID,
		LotDeleted:   res.LotDeleted,
	})
}

func (h *HTTPHandler) savings(w http.ResponseWriter, r *http.Request) {
	s, err := h.mp.Liquidation.Savings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, savingsResponse{Total: s.Total, Transactions: s.Transactions})
}

func (h *HTTPHandler) listOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := port.OfferFilter{
		UserID:      q.Get("userId"),
		SubstanceID: q.Get("substanceId"),
		Type:        domain.OfferType(q.Get("type")),
		Status:      domain.OfferStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, domain.Validationf("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	offers, err := h.mp.Offers.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(offers, func(o domain.Offer, _ int) offerResponse { return newOfferResponse(o) }))
}

func (h *HTTPHandler) createOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.mp.Offers.Create(r.Context(), actor(r), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, createOfferResponse{offerResponse: newOfferResponse(res.Offer), Duplicated: res.Duplicated})
}

func (h *HTTPHandler) getOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.mp.Offers.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferResponse(offer))
}

func (h *HTTPHandler) updateOffer(w http.ResponseWriter, r *http.Request) {
	var req updateOfferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	offer, err := h.mp.Offers.Update(r.Context(), actor(r), mux.Vars(r)["id"], req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOfferResponse(offer))
}

func (h *HTTPHandler) deleteOffer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cancelled, err := h.mp.Offers.Delete(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": !cancelled, "cancelled": cancelled})
}

func (h *HTTPHandler) placeBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	offer, err := h.mp.Offers.PlaceBid(r.Context(), mux.Vars(r)["id"], actor(r).ID, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bidResultResponse{Success: true, Offer: newOfferResponse(offer)})
}

func (h *HTTPHandler) listBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.mp.Offers.ListBids(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(bids, func(b domain.Bid, _ int) bidResponse {
		return bidResponse{ID: b.ID, OfferID: b.OfferID, BidderID: b.BidderID, Amount: b.Amount, CreatedAt: b.CreatedAt}
	}))
}

func (h *HTTPHandler) acceptOffer(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.mp.Offers.Accept(r.Context(), actor(r), mux.Vars(r)["id"], req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{Offer: newOfferResponse(res.Offer), Trade: newTradeResponse(res.Trade)})
}

func (h *HTTPHandler) listFlashDeals(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	var (
		deals []service.FlashDealView
		err   error
	)
	if a.IsAdmin() {
		deals, err = h.mp.FlashDeals.ListAll(r.Context())
	} else {
		deals, err = h.mp.FlashDeals.ListActive(r.Context(), a.ID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(deals, func(v service.FlashDealView, _ int) flashDealResponse {
		return newFlashDealViewResponse(v, !a.IsAdmin())
	}))
}

func (h *HTTPHandler) createFlashDeal(w http.ResponseWriter, r *http.Request) {
	var req createFlashDealRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	deal, err := h.mp.FlashDeals.Create(r.Context(), actor(r), service.CreateFlashDealInput{
		ProductID:      req.ProductID,
		StartsAt:       req.StartTime,
		EndsAt:         req.EndTime,
		SpecialPrice:   req.SpecialPrice,
		StockLimit:     req.StockLimit,
		PerMemberLimit: req.PerMemberLimit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newFlashDealResponse(deal))
}

func (h *HTTPHandler) claimFlashDeal(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.mp.FlashDeals.Claim(r.Context(), actor(r).ID, mux.Vars(r)["id"], req.Quantity, domain.DeliveryType(req.DeliveryType))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flashClaimResponse{
		ID:           res.Claim.ID,
		DealID:       res.Claim.DealID,
		MemberID:     res.Claim.MemberID,
		Quantity:     res.Claim.Quantity,
		DeliveryType: string(res.Claim.DeliveryType),
		TotalPrice:   res.TotalPrice,
		CreatedAt:    res.Claim.CreatedAt,
	})
}

func (h *HTTPHandler) listQuotas(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	var (
		quotas []service.QuotaView
		err    error
	)
	if a.IsAdmin() {
		quotas, err = h.mp.Reserves.ListAll(r.Context())
	} else {
		quotas, err = h.mp.Reserves.ListForMember(r.Context(), a.ID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(quotas, func(v service.QuotaView, _ int) quotaResponse { return newQuotaViewResponse(v) }))
}

func (h *HTTPHandler) createQuota(w http.ResponseWriter, r *http.Request) {
	var req createQuotaRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.mp.Reserves.Create(r.Context(), actor(r), service.CreateQuotaInput{
		ProductID:     req.ProductID,
		TotalReserved: req.TotalReserved,
		ResetDate:     req.ResetDate,
		PeriodDays:    req.PeriodDays,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newQuotaResponse(q))
}

func (h *HTTPHandler) claimReserve(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.mp.Reserves.Claim(r.Context(), actor(r).ID, mux.Vars(r)["id"], req.Quantity, domain.DeliveryType(req.DeliveryType))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reserveClaimResponse{
		ID:                     res.Claim.ID,
		QuotaID:                res.Claim.QuotaID,
		MemberID:               res.Claim.MemberID,
		Quantity:               res.Claim.Quantity,
		DeliveryType:           string(res.Claim.DeliveryType),
		RemainingQuotaAfter:    res.RemainingQuotaAfter,
		RemainingInPeriodAfter: res.RemainingInPeriodAfter,
		CreatedAt:              res.Claim.CreatedAt,
	})
}

func (h *HTTPHandler) resetQuota(w http.ResponseWriter, r *http.Request) {
	var req resetQuotaRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.mp.Reserves.Reset(r.Context(), actor(r), mux.Vars(r)["id"], req.ResetDate, req.PeriodDays)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuotaResponse(q))
}

func (h *HTTPHandler) addLot(w http.ResponseWriter, r *http.Request) {
	var req addLotRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lot, err := h.mp.Inventory.AddLot(r.Context(), actor(r), service.AddLotInput{
		SubstanceID: req.SubstanceID,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		Excess:      req.Excess,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLotResponse(lot))
}

func (h *HTTPHandler) setExcess(w http.ResponseWriter, r *http.Request) {
	var req excessRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lot, err := h.mp.Inventory.SetExcess(r.Context(), actor(r), mux.Vars(r)["id"], req.Excess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLotResponse(lot))
}

func (h *HTTPHandler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req upsertProductRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.mp.Inventory.UpsertProduct(r.Context(), actor(r), service.UpsertProductInput{
		ID:           mux.Vars(r)["id"],
		Name:         req.Name,
		Unit:         req.Unit,
		TargetStock:  req.TargetStock,
		CurrentStock: req.CurrentStock,
		Controls:     lo.Map(req.Controls, func(c string, _ int) domain.AuthorizationKind { return domain.AuthorizationKind(c) }),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(p))
}
