package service

import (
	"context"
	"time"

	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/obs"
	"github.com/rl1809/coop-exchange/internal/port"
)

const flashStockKeyPrefix = "flash:"

// FlashDealService allocates the market maker's flash-deal stock.
type FlashDealService struct {
	repo  port.DatabaseRepository
	cache port.CacheRepository
	guard *AuthorizationGuard
	clock clock.Clock
}

func NewFlashDealService(repo port.DatabaseRepository, cache port.CacheRepository, guard *AuthorizationGuard, clk clock.Clock) *FlashDealService {
	return &FlashDealService{repo: repo, cache: cache, guard: guard, clock: clk}
}

type CreateFlashDealInput struct {
	ProductID      string
	StartsAt       time.Time
	EndsAt         time.Time
	SpecialPrice   decimal.Decimal
	StockLimit     decimal.Decimal
	PerMemberLimit *decimal.Decimal
}

func (s *FlashDealService) Create(ctx context.Context, actor domain.Actor, in CreateFlashDealInput) (domain.FlashDeal, error) {
	if !actor.IsAdmin() {
		return domain.FlashDeal{}, domain.Forbiddenf("only the market maker may create flash deals")
	}
	switch {
	case in.ProductID == "":
		return domain.FlashDeal{}, domain.Validationf("productId is required")
	case !in.EndsAt.After(in.StartsAt):
		return domain.FlashDeal{}, domain.Validationf("endTime must be after startTime")
	case !in.SpecialPrice.IsPositive():
		return domain.FlashDeal{}, domain.Validationf("specialPrice must be positive")
	case !in.StockLimit.IsPositive():
		return domain.FlashDeal{}, domain.Validationf("stockLimit must be positive")
	case in.PerMemberLimit != nil && (!in.PerMemberLimit.IsPositive() || in.PerMemberLimit.GreaterThan(in.StockLimit)):
		return domain.FlashDeal{}, domain.Validationf("perMemberLimit must be positive and at most stockLimit")
	}

	deal := domain.FlashDeal{
		ID:             newID(),
		ProductID:      in.ProductID,
		StartsAt:       in.StartsAt,
		EndsAt:         in.EndsAt,
		SpecialPrice:   in.SpecialPrice,
		StockLimit:     in.StockLimit,
		PerMemberLimit: in.PerMemberLimit,
		CreatedAt:      s.clock.Now(),
	}
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.GetProduct(ctx, in.ProductID); err != nil {
			return err
		}
		return tx.InsertFlashDeal(ctx, deal)
	})
	if err != nil {
		return domain.FlashDeal{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetStock(ctx, flashStockKeyPrefix+deal.ID, deal.StockLimit); err != nil {
			log.Warnw("seed flash deal stock gate", "deal", deal.ID, "error", err)
		}
	}
	log.Infow("flash deal created", "deal", deal.ID, "product", deal.ProductID, "stock", deal.StockLimit.String())
	return deal, nil
}

type FlashClaimResult struct {
	Claim      domain.FlashClaim
	TotalPrice decimal.Decimal
}

// Claim takes quantity from the deal for memberID. The cache gate rejects
// obvious sell-outs early; the locked deal row decides.
func (s *FlashDealService) Claim(ctx context.Context, memberID, dealID string, quantity decimal.Decimal, delivery domain.DeliveryType) (res FlashClaimResult, err error) {
	defer func() {
		obs.ClaimsTotal.WithLabelValues("flash", obs.Outcome(err)).Inc()
		obs.CountConflict("flash_claim", err)
	}()

	if !quantity.IsPositive() {
		return FlashClaimResult{}, domain.Validationf("quantity must be positive")
	}
	if !delivery.Valid() {
		return FlashClaimResult{}, domain.Validationf("deliveryType must be one of pickup, delivery")
	}

	deal, err := s.repo.GetFlashDeal(ctx, dealID)
	if err != nil {
		return FlashClaimResult{}, err
	}
	now := s.clock.Now()
	if now.Before(deal.StartsAt) {
		return FlashClaimResult{}, domain.ErrNotStarted.With("flash deal %s has not started", dealID)
	}
	if now.After(deal.EndsAt) {
		return FlashClaimResult{}, domain.ErrEnded.With("flash deal %s has ended", dealID)
	}
	if err := s.guard.Check(ctx, memberID, deal.ProductID); err != nil {
		return FlashClaimResult{}, err
	}

	gated := false
	if s.cache != nil {
		switch gate, err := s.cache.DecrementStock(ctx, flashStockKeyPrefix+dealID, quantity); {
		case err != nil:
			log.Warnw("flash stock gate unavailable", "deal", dealID, "error", err)
		case gate == port.GateRejected:
			return FlashClaimResult{}, domain.ErrPoolExhausted.With("flash deal %s does not have %s left", dealID, quantity)
		case gate == port.GateAdmitted:
			gated = true
		}
	}

	claim := domain.FlashClaim{
		ID:           newID(),
		DealID:       dealID,
		MemberID:     memberID,
		Quantity:     quantity,
		DeliveryType: delivery,
		CreatedAt:    now,
	}
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		locked, err := tx.LockFlashDeal(ctx, dealID)
		if err != nil {
			return err
		}
		claimed, err := tx.SumFlashClaims(ctx, dealID, "")
		if err != nil {
			return err
		}
		if remaining := locked.Remaining(claimed); quantity.GreaterThan(remaining) {
			return domain.ErrPoolExhausted.With("flash deal %s has %s left", dealID, remaining)
		}
		if locked.PerMemberLimit != nil {
			mine, err := tx.SumFlashClaims(ctx, dealID, memberID)
			if err != nil {
				return err
			}
			if mine.Add(quantity).GreaterThan(*locked.PerMemberLimit) {
				return domain.ErrMemberLimitExceeded.With("flash deal %s allows %s per member, already claimed %s",
					dealID, locked.PerMemberLimit, mine)
			}
		}
		return tx.InsertFlashClaim(ctx, claim)
	})
	if err != nil {
		if gated {
			if rbErr := s.cache.IncrementStock(ctx, flashStockKeyPrefix+dealID, quantity); rbErr != nil {
				log.Errorw("CRITICAL flash stock gate rollback failed", "deal", dealID, "quantity", quantity.String(), "error", rbErr)
			}
		}
		return FlashClaimResult{}, err
	}

	log.Infow("flash deal claimed", "deal", dealID, "member", memberID, "quantity", quantity.String())
	return FlashClaimResult{Claim: claim, TotalPrice: deal.SpecialPrice.Mul(quantity)}, nil
}

// FlashDealView is a deal annotated with its computed stock state.
type FlashDealView struct {
	domain.FlashDeal
	RemainingStock decimal.Decimal
	IsActive       bool
	ClaimedByMe    decimal.Decimal
	// GateStock is the cached counter, nil when no cache holds one. It drifts
	// from RemainingStock only while claims are in flight or after a lost write.
	GateStock *decimal.Decimal
}

func (s *FlashDealService) view(ctx context.Context, deal domain.FlashDeal, memberID string, now time.Time) (FlashDealView, error) {
	claimed, err := s.repo.SumFlashClaims(ctx, deal.ID, "")
	if err != nil {
		return FlashDealView{}, err
	}
	v := FlashDealView{FlashDeal: deal, RemainingStock: deal.Remaining(claimed)}
	v.IsActive = v.RemainingStock.IsPositive() && deal.Open(now)
	if memberID != "" {
		if v.ClaimedByMe, err = s.repo.SumFlashClaims(ctx, deal.ID, memberID); err != nil {
			return FlashDealView{}, err
		}
	}
	return v, nil
}

// ListActive returns deals with stock left whose window contains now.
func (s *FlashDealService) ListActive(ctx context.Context, memberID string) ([]FlashDealView, error) {
	deals, err := s.repo.ListFlashDeals(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var out []FlashDealView
	for _, d := range deals {
		if !d.Open(now) {
			continue
		}
		v, err := s.view(ctx, d, memberID, now)
		if err != nil {
			return nil, err
		}
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

// ListAll returns every deal regardless of window or stock, annotated with
// the cache gate counter.
func (s *FlashDealService) ListAll(ctx context.Context) ([]FlashDealView, error) {
	deals, err := s.repo.ListFlashDeals(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]FlashDealView, 0, len(deals))
	for _, d := range deals {
		v, err := s.view(ctx, d, "", now)
		if err != nil {
			return nil, err
		}
		v.GateStock = s.gateStock(ctx, d.ID)
		if v.GateStock != nil && !v.GateStock.Equal(v.RemainingStock) {
			log.Warnw("flash deal gate drift", "deal", d.ID, "gate", v.GateStock.String(), "remaining", v.RemainingStock.String())
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *FlashDealService) gateStock(ctx context.Context, dealID string) *decimal.Decimal {
	if s.cache == nil {
		return nil
	}
	stock, ok, err := s.cache.Stock(ctx, flashStockKeyPrefix+dealID)
	if err != nil {
		log.Warnw("read flash gate stock", "deal", dealID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &stock
}
