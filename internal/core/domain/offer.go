package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OfferType string

const (
	OfferTypeSell OfferType = "sell"
	OfferTypeBuy  OfferType = "buy"
)

func (t OfferType) Valid() bool {
	return t == OfferTypeSell || t == OfferTypeBuy
}

type OfferStatus string

const (
	OfferStatusDraft     OfferStatus = "draft"
	OfferStatusActive    OfferStatus = "active"
	OfferStatusCompleted OfferStatus = "completed"
	OfferStatusCancelled OfferStatus = "cancelled"
)

// Pending offers are the ones a duplicate submission can collide with.
func (s OfferStatus) Pending() bool {
	return s == OfferStatusDraft || s == OfferStatusActive
}

func (s OfferStatus) Terminal() bool {
	return s == OfferStatusCompleted || s == OfferStatusCancelled
}

// CanTransition reports whether s may move to next. Status only moves forward,
// except that draft and active may swap.
func (s OfferStatus) CanTransition(next OfferStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case OfferStatusDraft:
		return next == OfferStatusActive || next == OfferStatusCancelled
	case OfferStatusActive:
		return next == OfferStatusDraft || next == OfferStatusCompleted || next == OfferStatusCancelled
	default:
		return false
	}
}

// BidIncrement is the minimum raise over an existing bid, in the single
// currency every offer is quoted in.
var BidIncrement = decimal.New(1, -2)

// AuctionTerms is present only on auction offers.
type AuctionTerms struct {
	StartingPrice decimal.Decimal
	EndsAt        time.Time
	HasBid        bool
	CurrentBid    decimal.Decimal
	HighestBidder string
	BidCount      int
}

// Floor is the lowest amount the next bid may carry.
func (a AuctionTerms) Floor() decimal.Decimal {
	if a.HasBid {
		return a.CurrentBid.Add(BidIncrement)
	}
	return a.StartingPrice
}

func (a AuctionTerms) EndedAt(now time.Time) bool {
	return now.After(a.EndsAt)
}

type Offer struct {
	ID          string
	UserID      string
	Type        OfferType
	SubstanceID string
	Quantity    decimal.Decimal
	Filled      decimal.Decimal
	Unit        string
	Price       decimal.Decimal
	Terms       string
	Status      OfferStatus
	Auction     *AuctionTerms
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (o Offer) IsAuction() bool { return o.Auction != nil }

func (o Offer) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// SameTerms reports whether o and other would be the same submission.
func (o Offer) SameTerms(other Offer) bool {
	if o.UserID != other.UserID || o.Type != other.Type || o.SubstanceID != other.SubstanceID ||
		o.Unit != other.Unit || o.Terms != other.Terms ||
		!o.Quantity.Equal(other.Quantity) || !o.Price.Equal(other.Price) {
		return false
	}
	if o.IsAuction() != other.IsAuction() {
		return false
	}
	if o.IsAuction() {
		return o.Auction.StartingPrice.Equal(other.Auction.StartingPrice) && o.Auction.EndsAt.Equal(other.Auction.EndsAt)
	}
	return true
}

// Bid is an append-only record behind an auction's current bid.
type Bid struct {
	ID        string
	OfferID   string
	BidderID  string
	Amount    decimal.Decimal
	CreatedAt time.Time
}
