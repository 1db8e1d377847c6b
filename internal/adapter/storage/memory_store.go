package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

var _ port.DatabaseRepository = (*MemoryStore)(nil)

// MemoryStore is a single-process DatabaseRepository for tests and local runs.
// Atomic serialises every transaction behind one mutex and rolls the state back
// when fn fails, so it cannot be shared between service instances.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type sequenced[T any] struct {
	seq int64
	v   T
}

type memState struct {
	seq          int64
	lots         map[string]domain.InventoryLot
	products     map[string]domain.Product
	offers       map[string]domain.Offer
	bids         []sequenced[domain.Bid]
	trades       []sequenced[domain.Trade]
	flashDeals   map[string]domain.FlashDeal
	flashClaims  []domain.FlashClaim
	quotas       map[string]domain.StrategicQuota
	reserveClaim []domain.ReserveClaim
}

func newMemState() *memState {
	return &memState{
		lots:       make(map[string]domain.InventoryLot),
		products:   make(map[string]domain.Product),
		offers:     make(map[string]domain.Offer),
		flashDeals: make(map[string]domain.FlashDeal),
		quotas:     make(map[string]domain.StrategicQuota),
	}
}

func (s *memState) clone() *memState {
	cp := &memState{
		seq:          s.seq,
		lots:         make(map[string]domain.InventoryLot, len(s.lots)),
		products:     make(map[string]domain.Product, len(s.products)),
		offers:       make(map[string]domain.Offer, len(s.offers)),
		bids:         append([]sequenced[domain.Bid](nil), s.bids...),
		trades:       append([]sequenced[domain.Trade](nil), s.trades...),
		flashDeals:   make(map[string]domain.FlashDeal, len(s.flashDeals)),
		flashClaims:  append([]domain.FlashClaim(nil), s.flashClaims...),
		quotas:       make(map[string]domain.StrategicQuota, len(s.quotas)),
		reserveClaim: append([]domain.ReserveClaim(nil), s.reserveClaim...),
	}
	for k, v := range s.lots {
		cp.lots[k] = v
	}
	for k, v := range s.products {
		cp.products[k] = v
	}
	for k, v := range s.offers {
		cp.offers[k] = copyOffer(v)
	}
	for k, v := range s.flashDeals {
		cp.flashDeals[k] = v
	}
	for k, v := range s.quotas {
		cp.quotas[k] = v
	}
	return cp
}

func copyOffer(o domain.Offer) domain.Offer {
	if o.Auction != nil {
		a := *o.Auction
		o.Auction = &a
	}
	return o
}

func copyProduct(p domain.Product) domain.Product {
	p.Controls = append([]domain.AuthorizationKind(nil), p.Controls...)
	return p
}

func (s *memState) nextSeq() int64 {
	s.seq++
	return s.seq
}

// Atomic implements port.DatabaseRepository.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := m.state.clone()
	if err := fn(ctx, &memTx{memState: m.state}); err != nil {
		m.state = backup
		return err
	}
	return nil
}

func (m *MemoryStore) view() *memState {
	return m.state
}

func (m *MemoryStore) GetLot(ctx context.Context, id string) (domain.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetLot(ctx, id)
}

func (m *MemoryStore) ListLotsByOwner(ctx context.Context, ownerID string) ([]domain.InventoryLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListLotsByOwner(ctx, ownerID)
}

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetProduct(ctx, id)
}

func (m *MemoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListProducts(ctx)
}

func (m *MemoryStore) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetOffer(ctx, id)
}

func (m *MemoryStore) ListOffers(ctx context.Context, filter port.OfferFilter) ([]domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListOffers(ctx, filter)
}

func (m *MemoryStore) FindPendingOffers(ctx context.Context, userID, substanceID string, typ domain.OfferType) ([]domain.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().FindPendingOffers(ctx, userID, substanceID, typ)
}

func (m *MemoryStore) ListBids(ctx context.Context, offerID string) ([]domain.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListBids(ctx, offerID)
}

func (m *MemoryStore) CountBids(ctx context.Context, offerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().CountBids(ctx, offerID)
}

func (m *MemoryStore) RecentTrades(ctx context.Context, substanceID string, types []domain.TradeType, limit int) ([]domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().RecentTrades(ctx, substanceID, types, limit)
}

func (m *MemoryStore) ListTradesByType(ctx context.Context, typ domain.TradeType) ([]domain.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListTradesByType(ctx, typ)
}

func (m *MemoryStore) GetFlashDeal(ctx context.Context, id string) (domain.FlashDeal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetFlashDeal(ctx, id)
}

func (m *MemoryStore) ListFlashDeals(ctx context.Context) ([]domain.FlashDeal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListFlashDeals(ctx)
}

func (m *MemoryStore) SumFlashClaims(ctx context.Context, dealID, memberID string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().SumFlashClaims(ctx, dealID, memberID)
}

func (m *MemoryStore) GetQuota(ctx context.Context, id string) (domain.StrategicQuota, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetQuota(ctx, id)
}

func (m *MemoryStore) ListQuotas(ctx context.Context) ([]domain.StrategicQuota, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListQuotas(ctx)
}

func (m *MemoryStore) SumReserveClaims(ctx context.Context, quotaID string, window port.ClaimWindow) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().SumReserveClaims(ctx, quotaID, window)
}

func (m *MemoryStore) CountReserveClaimants(ctx context.Context, quotaID string, window port.ClaimWindow) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().CountReserveClaimants(ctx, quotaID, window)
}

// Reads on the raw state. Callers hold MemoryStore.mu.

func (s *memState) GetLot(_ context.Context, id string) (domain.InventoryLot, error) {
	lot, ok := s.lots[id]
	if !ok {
		return domain.InventoryLot{}, domain.NotFoundf("inventory lot %s not found", id)
	}
	return lot, nil
}

func (s *memState) ListLotsByOwner(_ context.Context, ownerID string) ([]domain.InventoryLot, error) {
	lots := lo.Filter(lo.Values(s.lots), func(l domain.InventoryLot, _ int) bool {
		return l.OwnerID == ownerID
	})
	sort.Slice(lots, func(i, j int) bool { return lots[i].CreatedAt.Before(lots[j].CreatedAt) })
	return lots, nil
}

func (s *memState) GetProduct(_ context.Context, id string) (domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.NotFoundf("product %s not found", id)
	}
	return copyProduct(p), nil
}

func (s *memState) ListProducts(_ context.Context) ([]domain.Product, error) {
	products := lo.Map(lo.Values(s.products), func(p domain.Product, _ int) domain.Product { return copyProduct(p) })
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (s *memState) GetOffer(_ context.Context, id string) (domain.Offer, error) {
	o, ok := s.offers[id]
	if !ok {
		return domain.Offer{}, domain.NotFoundf("offer %s not found", id)
	}
	return copyOffer(o), nil
}

func (s *memState) ListOffers(_ context.Context, f port.OfferFilter) ([]domain.Offer, error) {
	var out []domain.Offer
	for _, o := range s.offers {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.SubstanceID != "" && o.SubstanceID != f.SubstanceID {
			continue
		}
		if f.Type != "" && o.Type != f.Type {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, copyOffer(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memState) FindPendingOffers(_ context.Context, userID, substanceID string, typ domain.OfferType) ([]domain.Offer, error) {
	var out []domain.Offer
	for _, o := range s.offers {
		if o.UserID == userID && o.SubstanceID == substanceID && o.Type == typ && o.Status.Pending() {
			out = append(out, copyOffer(o))
		}
	}
	return out, nil
}

func (s *memState) ListBids(_ context.Context, offerID string) ([]domain.Bid, error) {
	var out []domain.Bid
	for _, b := range s.bids {
		if b.v.OfferID == offerID {
			out = append(out, b.v)
		}
	}
	return out, nil
}

func (s *memState) CountBids(ctx context.Context, offerID string) (int, error) {
	bids, err := s.ListBids(ctx, offerID)
	return len(bids), err
}

func (s *memState) RecentTrades(_ context.Context, substanceID string, types []domain.TradeType, limit int) ([]domain.Trade, error) {
	matched := lo.Filter(s.trades, func(t sequenced[domain.Trade], _ int) bool {
		return t.v.SubstanceID == substanceID && lo.Contains(types, t.v.Type)
	})
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.v.CompletedAt.Equal(b.v.CompletedAt) {
			return a.seq > b.seq
		}
		return a.v.CompletedAt.After(b.v.CompletedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return lo.Map(matched, func(t sequenced[domain.Trade], _ int) domain.Trade { return t.v }), nil
}

func (s *memState) ListTradesByType(_ context.Context, typ domain.TradeType) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range s.trades {
		if t.v.Type == typ {
			out = append(out, t.v)
		}
	}
	return out, nil
}

func (s *memState) GetFlashDeal(_ context.Context, id string) (domain.FlashDeal, error) {
	d, ok := s.flashDeals[id]
	if !ok {
		return domain.FlashDeal{}, domain.NotFoundf("flash deal %s not found", id)
	}
	return d, nil
}

func (s *memState) ListFlashDeals(_ context.Context) ([]domain.FlashDeal, error) {
	deals := lo.Values(s.flashDeals)
	sort.Slice(deals, func(i, j int) bool { return deals[i].StartsAt.Before(deals[j].StartsAt) })
	return deals, nil
}

func (s *memState) SumFlashClaims(_ context.Context, dealID, memberID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range s.flashClaims {
		if c.DealID == dealID && (memberID == "" || c.MemberID == memberID) {
			sum = sum.Add(c.Quantity)
		}
	}
	return sum, nil
}

func (s *memState) GetQuota(_ context.Context, id string) (domain.StrategicQuota, error) {
	q, ok := s.quotas[id]
	if !ok {
		return domain.StrategicQuota{}, domain.NotFoundf("strategic quota %s not found", id)
	}
	return q, nil
}

func (s *memState) ListQuotas(_ context.Context) ([]domain.StrategicQuota, error) {
	quotas := lo.Values(s.quotas)
	sort.Slice(quotas, func(i, j int) bool { return quotas[i].CreatedAt.Before(quotas[j].CreatedAt) })
	return quotas, nil
}

func (s *memState) reserveClaimsIn(quotaID string, w port.ClaimWindow) []domain.ReserveClaim {
	return lo.Filter(s.reserveClaim, func(c domain.ReserveClaim, _ int) bool {
		return c.QuotaID == quotaID &&
			(w.MemberID == "" || c.MemberID == w.MemberID) &&
			!c.CreatedAt.Before(w.From) && c.CreatedAt.Before(w.To)
	})
}

func (s *memState) SumReserveClaims(_ context.Context, quotaID string, w port.ClaimWindow) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, c := range s.reserveClaimsIn(quotaID, w) {
		sum = sum.Add(c.Quantity)
	}
	return sum, nil
}

func (s *memState) CountReserveClaimants(_ context.Context, quotaID string, w port.ClaimWindow) (int, error) {
	members := lo.Uniq(lo.Map(s.reserveClaimsIn(quotaID, w), func(c domain.ReserveClaim, _ int) string { return c.MemberID }))
	return len(members), nil
}

// memTx mutates the live state; MemoryStore.Atomic restores a snapshot on error.
type memTx struct {
	*memState
}

var _ port.Tx = (*memTx)(nil)

func (t *memTx) LockLot(ctx context.Context, id string) (domain.InventoryLot, error) {
	return t.GetLot(ctx, id)
}

func (t *memTx) LockProduct(ctx context.Context, id string) (domain.Product, error) {
	return t.GetProduct(ctx, id)
}

func (t *memTx) LockOffer(ctx context.Context, id string) (domain.Offer, error) {
	return t.GetOffer(ctx, id)
}

func (t *memTx) LockFlashDeal(ctx context.Context, id string) (domain.FlashDeal, error) {
	return t.GetFlashDeal(ctx, id)
}

func (t *memTx) LockQuota(ctx context.Context, id string) (domain.StrategicQuota, error) {
	return t.GetQuota(ctx, id)
}

func (t *memTx) InsertLot(_ context.Context, lot domain.InventoryLot) error {
	if _, ok := t.lots[lot.ID]; ok {
		return domain.Conflictf("inventory lot %s already exists", lot.ID)
	}
	t.lots[lot.ID] = lot
	return nil
}

func (t *memTx) UpdateLot(_ context.Context, lot domain.InventoryLot) error {
	if _, ok := t.lots[lot.ID]; !ok {
		return domain.NotFoundf("inventory lot %s not found", lot.ID)
	}
	t.lots[lot.ID] = lot
	return nil
}

func (t *memTx) DeleteLot(_ context.Context, id string) error {
	if _, ok := t.lots[id]; !ok {
		return domain.NotFoundf("inventory lot %s not found", id)
	}
	delete(t.lots, id)
	return nil
}

func (t *memTx) UpsertProduct(_ context.Context, p domain.Product) error {
	t.products[p.ID] = copyProduct(p)
	return nil
}

func (t *memTx) UpdateProductStock(_ context.Context, id string, currentStock decimal.Decimal, at time.Time) error {
	p, ok := t.products[id]
	if !ok {
		return domain.NotFoundf("product %s not found", id)
	}
	p.CurrentStock = currentStock
	p.UpdatedAt = at
	t.products[id] = p
	return nil
}

func (t *memTx) InsertOffer(_ context.Context, o domain.Offer) error {
	if _, ok := t.offers[o.ID]; ok {
		return domain.Conflictf("offer %s already exists", o.ID)
	}
	t.offers[o.ID] = copyOffer(o)
	return nil
}

func (t *memTx) UpdateOffer(_ context.Context, o domain.Offer) error {
	cur, ok := t.offers[o.ID]
	if !ok {
		return domain.NotFoundf("offer %s not found", o.ID)
	}
	if cur.Version != o.Version {
		return domain.ErrStaleVersion
	}
	o = copyOffer(o)
	o.Version++
	t.offers[o.ID] = o
	return nil
}

func (t *memTx) DeleteOffer(_ context.Context, id string) error {
	if _, ok := t.offers[id]; !ok {
		return domain.NotFoundf("offer %s not found", id)
	}
	delete(t.offers, id)
	return nil
}

func (t *memTx) InsertBid(_ context.Context, bid domain.Bid) error {
	t.bids = append(t.bids, sequenced[domain.Bid]{seq: t.nextSeq(), v: bid})
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, trade domain.Trade) error {
	t.trades = append(t.trades, sequenced[domain.Trade]{seq: t.nextSeq(), v: trade})
	return nil
}

func (t *memTx) InsertFlashDeal(_ context.Context, deal domain.FlashDeal) error {
	if _, ok := t.flashDeals[deal.ID]; ok {
		return domain.Conflictf("flash deal %s already exists", deal.ID)
	}
	t.flashDeals[deal.ID] = deal
	return nil
}

func (t *memTx) InsertFlashClaim(_ context.Context, claim domain.FlashClaim) error {
	t.flashClaims = append(t.flashClaims, claim)
	return nil
}

func (t *memTx) InsertQuota(_ context.Context, q domain.StrategicQuota) error {
	if _, ok := t.quotas[q.ID]; ok {
		return domain.Conflictf("strategic quota %s already exists", q.ID)
	}
	t.quotas[q.ID] = q
	return nil
}

func (t *memTx) UpdateQuotaPeriod(_ context.Context, id string, resetDate time.Time, periodDays int) error {
	q, ok := t.quotas[id]
	if !ok {
		return domain.NotFoundf("strategic quota %s not found", id)
	}
	q.ResetDate = resetDate
	q.PeriodDays = periodDays
	t.quotas[id] = q
	return nil
}

func (t *memTx) InsertReserveClaim(_ context.Context, claim domain.ReserveClaim) error {
	t.reserveClaim = append(t.reserveClaim, claim)
	return nil
}
