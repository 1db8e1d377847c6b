package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/obs"
	"github.com/rl1809/coop-exchange/internal/port"
)

const offerSubmitKeyPrefix = "offer-submit:"

// OfferService is the offer and English-auction ledger.
type OfferService struct {
	repo     port.DatabaseRepository
	cache    port.CacheRepository
	guard    *AuthorizationGuard
	clock    clock.Clock
	guardTTL time.Duration
}

func NewOfferService(repo port.DatabaseRepository, cache port.CacheRepository, guard *AuthorizationGuard, clk clock.Clock, guardTTL time.Duration) *OfferService {
	return &OfferService{repo: repo, cache: cache, guard: guard, clock: clk, guardTTL: guardTTL}
}

type AuctionInput struct {
	StartingPrice decimal.Decimal
	EndsAt        time.Time
}

type CreateOfferInput struct {
	Type        domain.OfferType
	SubstanceID string
	Quantity    decimal.Decimal
	Unit        string
	Price       decimal.Decimal
	Terms       string
	Draft       bool
	Auction     *AuctionInput
}

type CreateOfferResult struct {
	Offer      domain.Offer
	Duplicated bool
}

func (s *OfferService) validateCreate(in CreateOfferInput, now time.Time) error {
	if !in.Type.Valid() {
		return domain.Validationf("type must be one of sell, buy")
	}
	if strings.TrimSpace(in.SubstanceID) == "" {
		return domain.Validationf("substanceId is required")
	}
	if !in.Quantity.IsPositive() {
		return domain.Validationf("quantity must be positive")
	}
	if strings.TrimSpace(in.Unit) == "" {
		return domain.Validationf("unit is required")
	}
	if in.Price.IsNegative() {
		return domain.Validationf("price must not be negative")
	}
	if in.Auction != nil {
		if !in.Auction.StartingPrice.IsPositive() {
			return domain.Validationf("startingPrice must be positive")
		}
		if !in.Auction.EndsAt.After(now) {
			return domain.Validationf("auctionEnd must be in the future")
		}
	}
	return nil
}

// submitKey fingerprints a submission so concurrent identical requests collide.
func submitKey(o domain.Offer) string {
	parts := []string{o.UserID, string(o.Type), o.SubstanceID, o.Quantity.String(), o.Unit, o.Price.String(), o.Terms}
	if o.Auction != nil {
		parts = append(parts, o.Auction.StartingPrice.String(), o.Auction.EndsAt.UTC().Format(time.RFC3339Nano))
	}
	return offerSubmitKeyPrefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "|"))).String()
}

func (s *OfferService) findDuplicate(ctx context.Context, r port.Reader, candidate domain.Offer) (domain.Offer, bool, error) {
	pending, err := r.FindPendingOffers(ctx, candidate.UserID, candidate.SubstanceID, candidate.Type)
	if err != nil {
		return domain.Offer{}, false, err
	}
	for _, o := range pending {
		if o.SameTerms(candidate) {
			return o, true, nil
		}
	}
	return domain.Offer{}, false, nil
}

// Create records a new offer, or returns the member's identical pending offer
// with Duplicated set.
func (s *OfferService) Create(ctx context.Context, actor domain.Actor, in CreateOfferInput) (CreateOfferResult, error) {
	now := s.clock.Now()
	if err := s.validateCreate(in, now); err != nil {
		return CreateOfferResult{}, err
	}
	if in.Type == domain.OfferTypeSell {
		if err := s.guard.Check(ctx, actor.ID, in.SubstanceID); err != nil {
			return CreateOfferResult{}, err
		}
	}

	offer := domain.Offer{
		ID:          newID(),
		UserID:      actor.ID,
		Type:        in.Type,
		SubstanceID: in.SubstanceID,
		Quantity:    in.Quantity,
		Filled:      decimal.Zero,
		Unit:        in.Unit,
		Price:       in.Price,
		Terms:       in.Terms,
		Status:      domain.OfferStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Draft {
		offer.Status = domain.OfferStatusDraft
	}
	if in.Auction != nil {
		offer.Auction = &domain.AuctionTerms{StartingPrice: in.Auction.StartingPrice, EndsAt: in.Auction.EndsAt}
	}

	// The submit guard only short-circuits repeats of a pending offer. A held
	// key with nothing pending (the earlier offer was deleted or completed, or
	// is still being written) falls through to the transactional check.
	key := submitKey(offer)
	guarded := false
	if s.cache != nil {
		first, err := s.cache.SetIdempotency(ctx, key, s.guardTTL)
		switch {
		case err != nil:
			log.Warnw("offer submit guard unavailable", "error", err)
		case first:
			guarded = true
		default:
			existing, found, err := s.findDuplicate(ctx, s.repo, offer)
			if err != nil {
				return CreateOfferResult{}, err
			}
			if found {
				return CreateOfferResult{Offer: existing, Duplicated: true}, nil
			}
		}
	}

	var result CreateOfferResult
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		existing, found, err := s.findDuplicate(ctx, tx, offer)
		if err != nil {
			return err
		}
		if found {
			result = CreateOfferResult{Offer: existing, Duplicated: true}
			return nil
		}
		result = CreateOfferResult{Offer: offer}
		return tx.InsertOffer(ctx, offer)
	})
	if err != nil {
		if guarded {
			if relErr := s.cache.ReleaseIdempotency(ctx, key); relErr != nil {
				log.Warnw("release offer submit guard", "key", key, "error", relErr)
			}
		}
		obs.CountConflict("create_offer", err)
		return CreateOfferResult{}, err
	}

	if result.Duplicated {
		log.Infow("duplicate offer submission", "offer", result.Offer.ID, "user", actor.ID)
	} else {
		log.Infow("offer created", "offer", offer.ID, "user", actor.ID, "type", offer.Type, "auction", offer.IsAuction())
	}
	return result, nil
}

func (s *OfferService) Get(ctx context.Context, id string) (domain.Offer, error) {
	return s.repo.GetOffer(ctx, id)
}

func (s *OfferService) List(ctx context.Context, filter port.OfferFilter) ([]domain.Offer, error) {
	return s.repo.ListOffers(ctx, filter)
}

func (s *OfferService) ListBids(ctx context.Context, offerID string) ([]domain.Bid, error) {
	if _, err := s.repo.GetOffer(ctx, offerID); err != nil {
		return nil, err
	}
	return s.repo.ListBids(ctx, offerID)
}

func authorizeOwner(actor domain.Actor, offer domain.Offer) error {
	if actor.ID == offer.UserID || actor.Privileged() {
		return nil
	}
	return domain.Forbiddenf("only the owner or a moderator may modify offer %s", offer.ID)
}

// UpdateOfferInput carries optional changes; nil fields stay untouched.
// Version, when set, must match the stored version.
type UpdateOfferInput struct {
	Version  *int
	Quantity *decimal.Decimal
	Unit     *string
	Price    *decimal.Decimal
	Terms    *string
	Status   *domain.OfferStatus
}

func (s *OfferService) Update(ctx context.Context, actor domain.Actor, offerID string, in UpdateOfferInput) (domain.Offer, error) {
	offer, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}
	if err := authorizeOwner(actor, offer); err != nil {
		return domain.Offer{}, err
	}
	if in.Version != nil && *in.Version != offer.Version {
		return domain.Offer{}, domain.ErrStaleVersion
	}
	if offer.Status.Terminal() {
		return domain.Offer{}, domain.ErrInvalidOperation.With("offer %s is %s and can no longer change", offer.ID, offer.Status)
	}
	hasBids := offer.IsAuction() && offer.Auction.HasBid

	if in.Quantity != nil {
		if !in.Quantity.IsPositive() {
			return domain.Offer{}, domain.Validationf("quantity must be positive")
		}
		if in.Quantity.LessThan(offer.Filled) {
			return domain.Offer{}, domain.Validationf("quantity cannot drop below the filled %s", offer.Filled)
		}
		if hasBids && !in.Quantity.Equal(offer.Quantity) {
			return domain.Offer{}, domain.ErrInvalidOperation.With("quantity of an auction with bids cannot change")
		}
		offer.Quantity = *in.Quantity
	}
	if in.Unit != nil {
		if strings.TrimSpace(*in.Unit) == "" {
			return domain.Offer{}, domain.Validationf("unit is required")
		}
		offer.Unit = *in.Unit
	}
	if in.Price != nil {
		if in.Price.IsNegative() {
			return domain.Offer{}, domain.Validationf("price must not be negative")
		}
		offer.Price = *in.Price
	}
	if in.Terms != nil {
		offer.Terms = *in.Terms
	}
	if in.Status != nil {
		next := *in.Status
		if !offer.Status.CanTransition(next) {
			return domain.Offer{}, domain.ErrInvalidOperation.With("offer cannot move from %s to %s", offer.Status, next)
		}
		if hasBids && next == domain.OfferStatusDraft {
			return domain.Offer{}, domain.ErrInvalidOperation.With("an auction with bids cannot return to draft")
		}
		if next == domain.OfferStatusActive && offer.Type == domain.OfferTypeSell && offer.Status != next {
			if err := s.guard.Check(ctx, offer.UserID, offer.SubstanceID); err != nil {
				return domain.Offer{}, err
			}
		}
		offer.Status = next
	}
	offer.UpdatedAt = s.clock.Now()

	err = s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.UpdateOffer(ctx, offer)
	})
	if err != nil {
		obs.CountConflict("update_offer", err)
		return domain.Offer{}, err
	}
	offer.Version++
	return offer, nil
}

// Delete removes the offer. An offer that already received bids is cancelled
// instead so its bid history keeps a parent; cancelled reports which happened.
func (s *OfferService) Delete(ctx context.Context, actor domain.Actor, offerID string) (cancelled bool, err error) {
	offer, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return false, err
	}
	if err := authorizeOwner(actor, offer); err != nil {
		return false, err
	}

	err = s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		cur, err := tx.LockOffer(ctx, offerID)
		if err != nil {
			return err
		}
		bids, err := tx.CountBids(ctx, offerID)
		if err != nil {
			return err
		}
		if bids == 0 {
			cancelled = false
			return tx.DeleteOffer(ctx, offerID)
		}
		cancelled = true
		if cur.Status == domain.OfferStatusCancelled {
			return nil
		}
		cur.Status = domain.OfferStatusCancelled
		cur.UpdatedAt = s.clock.Now()
		return tx.UpdateOffer(ctx, cur)
	})
	if err != nil {
		obs.CountConflict("delete_offer", err)
		return false, err
	}
	log.Infow("offer removed", "offer", offerID, "actor", actor.ID, "cancelled", cancelled)
	return cancelled, nil
}

// closeAuction marks an expired auction completed. A lost race is ignored:
// whoever won already moved the offer on.
func (s *OfferService) closeAuction(ctx context.Context, offer domain.Offer) {
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		cur, err := tx.LockOffer(ctx, offer.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.OfferStatusActive {
			return nil
		}
		cur.Status = domain.OfferStatusCompleted
		cur.UpdatedAt = s.clock.Now()
		return tx.UpdateOffer(ctx, cur)
	})
	if err != nil {
		log.Warnw("close expired auction", "offer", offer.ID, "error", err)
	}
}

// PlaceBid raises an active auction's current bid. The floor is re-checked
// against the locked row; any concurrent change since the offer was read is a
// conflict.
func (s *OfferService) PlaceBid(ctx context.Context, offerID, bidderID string, amount decimal.Decimal) (offer domain.Offer, err error) {
	defer func() {
		obs.BidsTotal.WithLabelValues(obs.Outcome(err)).Inc()
		obs.CountConflict("bid", err)
	}()

	if !amount.IsPositive() {
		return domain.Offer{}, domain.Validationf("amount must be positive")
	}
	offer, err = s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}
	if !offer.IsAuction() || offer.Status != domain.OfferStatusActive {
		return domain.Offer{}, domain.ErrOfferNotActive.With("offer %s is not an active auction", offerID)
	}
	if bidderID == offer.UserID {
		return domain.Offer{}, domain.Forbiddenf("members cannot bid on their own auction")
	}
	if offer.Auction.EndedAt(s.clock.Now()) {
		s.closeAuction(ctx, offer)
		return domain.Offer{}, domain.ErrAuctionEnded.With("auction %s ended at %s", offerID, offer.Auction.EndsAt.UTC().Format(time.RFC3339))
	}
	if offer.Type == domain.OfferTypeSell {
		if err := s.guard.Check(ctx, bidderID, offer.SubstanceID); err != nil {
			return domain.Offer{}, err
		}
	}
	if floor := offer.Auction.Floor(); amount.LessThan(floor) {
		return domain.Offer{}, bidTooLow(floor)
	}

	seen := offer.Version
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		cur, err := tx.LockOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if cur.Version != seen {
			return domain.ErrStaleVersion.With("offer %s changed while bidding, retry with fresh data", offerID)
		}
		if !cur.IsAuction() || cur.Status != domain.OfferStatusActive {
			return domain.ErrOfferNotActive.With("offer %s is not an active auction", offerID)
		}
		if floor := cur.Auction.Floor(); amount.LessThan(floor) {
			return bidTooLow(floor)
		}

		now := s.clock.Now()
		cur.Auction.HasBid = true
		cur.Auction.CurrentBid = amount
		cur.Auction.HighestBidder = bidderID
		cur.Auction.BidCount++
		cur.UpdatedAt = now
		if err := tx.UpdateOffer(ctx, cur); err != nil {
			return err
		}
		cur.Version++
		offer = cur

		return tx.InsertBid(ctx, domain.Bid{
			ID:        newID(),
			OfferID:   offerID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.Offer{}, err
	}

	log.Infow("bid accepted", "offer", offerID, "bidder", bidderID, "amount", amount.String())
	return offer, nil
}

func bidTooLow(floor decimal.Decimal) error {
	return domain.ErrBidTooLow.With("bid must be at least %s, refresh the offer and bid again", floor.StringFixed(2))
}

type AcceptOfferResult struct {
	Offer domain.Offer
	Trade domain.Trade
}

// Accept fills quantity of an active fixed-price offer for the actor, who buys
// from a sell offer or sells into a buy offer.
func (s *OfferService) Accept(ctx context.Context, actor domain.Actor, offerID string, quantity decimal.Decimal) (AcceptOfferResult, error) {
	if !quantity.IsPositive() {
		return AcceptOfferResult{}, domain.Validationf("quantity must be positive")
	}
	offer, err := s.repo.GetOffer(ctx, offerID)
	if err != nil {
		return AcceptOfferResult{}, err
	}
	if offer.Status != domain.OfferStatusActive {
		return AcceptOfferResult{}, domain.ErrOfferNotActive.With("offer %s is %s", offerID, offer.Status)
	}
	if offer.IsAuction() {
		return AcceptOfferResult{}, domain.ErrInvalidOperation.With("auction offers are settled by bidding")
	}
	if actor.ID == offer.UserID {
		return AcceptOfferResult{}, domain.Forbiddenf("members cannot accept their own offer")
	}
	if err := s.guard.Check(ctx, actor.ID, offer.SubstanceID); err != nil {
		return AcceptOfferResult{}, err
	}

	var result AcceptOfferResult
	seen := offer.Version
	err = s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		cur, err := tx.LockOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if cur.Version != seen {
			return domain.ErrStaleVersion.With("offer %s changed, retry with fresh data", offerID)
		}
		if remaining := cur.Remaining(); quantity.GreaterThan(remaining) {
			return domain.ErrPoolExhausted.With("only %s %s remain on offer %s", remaining, cur.Unit, offerID)
		}

		now := s.clock.Now()
		cur.Filled = cur.Filled.Add(quantity)
		if cur.Filled.Equal(cur.Quantity) {
			cur.Status = domain.OfferStatusCompleted
		}
		cur.UpdatedAt = now
		if err := tx.UpdateOffer(ctx, cur); err != nil {
			return err
		}
		cur.Version++

		seller, buyer := cur.UserID, actor.ID
		if cur.Type == domain.OfferTypeBuy {
			seller, buyer = actor.ID, cur.UserID
		}
		trade := domain.Trade{
			ID:          newID(),
			Type:        domain.TradeTypeMarket,
			SubstanceID: cur.SubstanceID,
			Quantity:    quantity,
			Price:       cur.Price,
			SellerID:    seller,
			BuyerID:     buyer,
			OfferID:     cur.ID,
			CompletedAt: now,
		}
		result = AcceptOfferResult{Offer: cur, Trade: trade}
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		obs.CountConflict("accept_offer", err)
		return AcceptOfferResult{}, err
	}

	obs.TradesTotal.WithLabelValues(string(domain.TradeTypeMarket)).Inc()
	log.Infow("offer accepted", "offer", offerID, "actor", actor.ID, "quantity", quantity.String())
	return result, nil
}
