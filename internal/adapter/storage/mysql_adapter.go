package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

// ErrOptimisticLock is returned when a versioned update loses a race.
var ErrOptimisticLock = domain.ErrStaleVersion

//go:embed schema/*.sql
var schemaFS embed.FS

var _ port.DatabaseRepository = (*SQLStore)(nil)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is the DatabaseRepository over MySQL or Postgres.
type SQLStore struct {
	sqlReader
	db *sql.DB
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{sqlReader: sqlReader{q: db, d: dialect}, db: db}
}

// Migrate applies the embedded DDL for the store's dialect.
func (s *SQLStore) Migrate(ctx context.Context) error {
	ddl, err := schemaFS.ReadFile("schema/" + s.d.String() + ".sql")
	if err != nil {
		return xerrors.Errorf("read schema: %w", err)
	}
	for _, stmt := range strings.Split(string(ddl), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Atomic implements port.DatabaseRepository.
func (s *SQLStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return s.wrap("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{sqlReader: sqlReader{q: tx, d: s.d}}); err != nil {
		return s.classify(err)
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("commit", err)
	}
	return nil
}

type sqlReader struct {
	q queryer
	d Dialect
}

func (r sqlReader) classify(err error) error {
	if r.d.isConflict(err) {
		return domain.ErrConflict.With("concurrent update on a contested resource, retry with fresh data")
	}
	return err
}

func (r sqlReader) wrap(op string, err error) error {
	if r.d.isConflict(err) {
		return r.classify(err)
	}
	if r.d.isDuplicate(err) {
		return domain.Conflictf("%s: duplicate key", op)
	}
	return xerrors.Errorf("%s: %w", op, err)
}

func (r sqlReader) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	res, err := r.q.ExecContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, r.wrap(op, err)
	}
	return res, nil
}

// execOne runs a statement that must touch exactly one row.
func (r sqlReader) execOne(ctx context.Context, op string, notFound error, query string, args ...any) error {
	res, err := r.exec(ctx, op, query, args...)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return notFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Inventory lots

const lotColumns = `id, substance_id, quantity, unit, owner_id, holder_id, excess, expires_at, created_at, updated_at`

func scanLot(s rowScanner) (domain.InventoryLot, error) {
	var (
		lot     domain.InventoryLot
		expires sql.NullTime
	)
	err := s.Scan(&lot.ID, &lot.SubstanceID, &lot.Quantity, &lot.Unit, &lot.OwnerID, &lot.HolderID,
		&lot.Excess, &expires, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return lot, err
	}
	if expires.Valid {
		t := expires.Time
		lot.ExpiresAt = &t
	}
	return lot, nil
}

func (r sqlReader) getLot(ctx context.Context, id, suffix string) (domain.InventoryLot, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT `+lotColumns+` FROM inventory_lots WHERE id = ?`+suffix), id)
	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lot, domain.NotFoundf("inventory lot %s not found", id)
	}
	if err != nil {
		return lot, r.wrap("query inventory lot", err)
	}
	return lot, nil
}

func (r sqlReader) GetLot(ctx context.Context, id string) (domain.InventoryLot, error) {
	return r.getLot(ctx, id, "")
}

func (r sqlReader) ListLotsByOwner(ctx context.Context, ownerID string) ([]domain.InventoryLot, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`SELECT `+lotColumns+` FROM inventory_lots WHERE owner_id = ? ORDER BY created_at`), ownerID)
	if err != nil {
		return nil, r.wrap("query inventory lots", err)
	}
	defer rows.Close()

	var lots []domain.InventoryLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan inventory lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// Products

const productColumns = `id, name, unit, target_stock, current_stock, controls, updated_at`

func encodeControls(kinds []domain.AuthorizationKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ",")
}

func decodeControls(s string) []domain.AuthorizationKind {
	if s == "" {
		return nil
	}
	var kinds []domain.AuthorizationKind
	for _, p := range strings.Split(s, ",") {
		kinds = append(kinds, domain.AuthorizationKind(p))
	}
	return kinds
}

func scanProduct(s rowScanner) (domain.Product, error) {
	var (
		p        domain.Product
		controls string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Unit, &p.TargetStock, &p.CurrentStock, &controls, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.Controls = decodeControls(controls)
	return p, nil
}

func (r sqlReader) getProduct(ctx context.Context, id, suffix string) (domain.Product, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`+suffix), id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, domain.NotFoundf("product %s not found", id)
	}
	if err != nil {
		return p, r.wrap("query product", err)
	}
	return p, nil
}

func (r sqlReader) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return r.getProduct(ctx, id, "")
}

func (r sqlReader) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, r.wrap("query products", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Offers and bids

const offerColumns = `id, user_id, offer_type, substance_id, quantity, filled, unit, price, terms, status,
	is_auction, starting_price, auction_end, current_bid, highest_bidder, bid_count, version, created_at, updated_at`

func scanOffer(s rowScanner) (domain.Offer, error) {
	var (
		o             domain.Offer
		isAuction     bool
		startingPrice decimal.NullDecimal
		auctionEnd    sql.NullTime
		currentBid    decimal.NullDecimal
		highestBidder sql.NullString
		bidCount      int
	)
	err := s.Scan(&o.ID, &o.UserID, &o.Type, &o.SubstanceID, &o.Quantity, &o.Filled, &o.Unit, &o.Price,
		&o.Terms, &o.Status, &isAuction, &startingPrice, &auctionEnd, &currentBid, &highestBidder,
		&bidCount, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	if isAuction {
		o.Auction = &domain.AuctionTerms{
			StartingPrice: startingPrice.Decimal,
			EndsAt:        auctionEnd.Time,
			HasBid:        currentBid.Valid,
			CurrentBid:    currentBid.Decimal,
			HighestBidder: highestBidder.String,
			BidCount:      bidCount,
		}
	}
	return o, nil
}

// auctionArgs flattens the auction variant into its nullable columns.
func auctionArgs(o domain.Offer) (bool, decimal.NullDecimal, sql.NullTime, decimal.NullDecimal, sql.NullString, int) {
	if o.Auction == nil {
		return false, decimal.NullDecimal{}, sql.NullTime{}, decimal.NullDecimal{}, sql.NullString{}, 0
	}
	a := o.Auction
	return true,
		decimal.NullDecimal{Decimal: a.StartingPrice, Valid: true},
		sql.NullTime{Time: a.EndsAt.UTC(), Valid: true},
		decimal.NullDecimal{Decimal: a.CurrentBid, Valid: a.HasBid},
		nullString(a.HighestBidder),
		a.BidCount
}

func (r sqlReader) getOffer(ctx context.Context, id, suffix string) (domain.Offer, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT `+offerColumns+` FROM offers WHERE id = ?`+suffix), id)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return o, domain.NotFoundf("offer %s not found", id)
	}
	if err != nil {
		return o, r.wrap("query offer", err)
	}
	return o, nil
}

func (r sqlReader) GetOffer(ctx context.Context, id string) (domain.Offer, error) {
	return r.getOffer(ctx, id, "")
}

func (r sqlReader) queryOffers(ctx context.Context, query string, args ...any) ([]domain.Offer, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, r.wrap("query offers", err)
	}
	defer rows.Close()

	var offers []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (r sqlReader) ListOffers(ctx context.Context, f port.OfferFilter) ([]domain.Offer, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SubstanceID != "" {
		where = append(where, "substance_id = ?")
		args = append(args, f.SubstanceID)
	}
	if f.Type != "" {
		where = append(where, "offer_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + offerColumns + ` FROM offers`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.queryOffers(ctx, query, args...)
}

func (r sqlReader) FindPendingOffers(ctx context.Context, userID, substanceID string, typ domain.OfferType) ([]domain.Offer, error) {
	return r.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers
		WHERE user_id = ? AND substance_id = ? AND offer_type = ? AND status IN (?, ?)`,
		userID, substanceID, string(typ), string(domain.OfferStatusDraft), string(domain.OfferStatusActive))
}

func (r sqlReader) ListBids(ctx context.Context, offerID string) ([]domain.Bid, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(`
		SELECT id, offer_id, bidder_id, amount, created_at
		FROM bids WHERE offer_id = ? ORDER BY created_at, amount`), offerID)
	if err != nil {
		return nil, r.wrap("query bids", err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.OfferID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, xerrors.Errorf("scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (r sqlReader) CountBids(ctx context.Context, offerID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT COUNT(*) FROM bids WHERE offer_id = ?`), offerID).Scan(&n)
	if err != nil {
		return 0, r.wrap("count bids", err)
	}
	return n, nil
}

// Trades

const tradeColumns = `id, trade_type, substance_id, quantity, price, seller_id, buyer_id, offer_id, completed_at`

func (r sqlReader) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, r.wrap("query trades", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t       domain.Trade
			offerID sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Type, &t.SubstanceID, &t.Quantity, &t.Price, &t.SellerID, &t.BuyerID,
			&offerID, &t.CompletedAt); err != nil {
			return nil, xerrors.Errorf("scan trade: %w", err)
		}
		t.OfferID = offerID.String
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (r sqlReader) RecentTrades(ctx context.Context, substanceID string, types []domain.TradeType, limit int) ([]domain.Trade, error) {
	if len(types) == 0 {
		return nil, nil
	}
	args := []any{substanceID}
	marks := make([]string, 0, len(types))
	for _, t := range types {
		marks = append(marks, "?")
		args = append(args, string(t))
	}
	args = append(args, limit)
	return r.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE substance_id = ? AND trade_type IN (`+strings.Join(marks, ", ")+`)
		ORDER BY completed_at DESC, seq DESC LIMIT ?`, args...)
}

func (r sqlReader) ListTradesByType(ctx context.Context, typ domain.TradeType) ([]domain.Trade, error) {
	return r.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_type = ? ORDER BY seq`, string(typ))
}

// Flash deals

const flashDealColumns = `id, product_id, starts_at, ends_at, special_price, stock_limit, per_member_limit, created_at`

func scanFlashDeal(s rowScanner) (domain.FlashDeal, error) {
	var (
		d     domain.FlashDeal
		limit decimal.NullDecimal
	)
	if err := s.Scan(&d.ID, &d.ProductID, &d.StartsAt, &d.EndsAt, &d.SpecialPrice, &d.StockLimit, &limit, &d.CreatedAt); err != nil {
		return d, err
	}
	if limit.Valid {
		l := limit.Decimal
		d.PerMemberLimit = &l
	}
	return d, nil
}

func (r sqlReader) getFlashDeal(ctx context.Context, id, suffix string) (domain.FlashDeal, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT `+flashDealColumns+` FROM flash_deals WHERE id = ?`+suffix), id)
	d, err := scanFlashDeal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return d, domain.NotFoundf("flash deal %s not found", id)
	}
	if err != nil {
		return d, r.wrap("query flash deal", err)
	}
	return d, nil
}

func (r sqlReader) GetFlashDeal(ctx context.Context, id string) (domain.FlashDeal, error) {
	return r.getFlashDeal(ctx, id, "")
}

func (r sqlReader) ListFlashDeals(ctx context.Context) ([]domain.FlashDeal, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+flashDealColumns+` FROM flash_deals ORDER BY starts_at`)
	if err != nil {
		return nil, r.wrap("query flash deals", err)
	}
	defer rows.Close()

	var deals []domain.FlashDeal
	for rows.Next() {
		d, err := scanFlashDeal(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan flash deal: %w", err)
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

func (r sqlReader) sum(ctx context.Context, op, query string, args ...any) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := r.q.QueryRowContext(ctx, r.d.rebind(query), args...).Scan(&total); err != nil {
		return decimal.Zero, r.wrap(op, err)
	}
	return total.Decimal, nil
}

func (r sqlReader) SumFlashClaims(ctx context.Context, dealID, memberID string) (decimal.Decimal, error) {
	if memberID == "" {
		return r.sum(ctx, "sum flash claims", `SELECT SUM(quantity) FROM flash_claims WHERE deal_id = ?`, dealID)
	}
	return r.sum(ctx, "sum flash claims", `SELECT SUM(quantity) FROM flash_claims WHERE deal_id = ? AND member_id = ?`, dealID, memberID)
}

// Strategic quotas

const quotaColumns = `id, product_id, total_reserved, reset_date, period_days, created_at`

func scanQuota(s rowScanner) (domain.StrategicQuota, error) {
	var q domain.StrategicQuota
	err := s.Scan(&q.ID, &q.ProductID, &q.TotalReserved, &q.ResetDate, &q.PeriodDays, &q.CreatedAt)
	return q, err
}

func (r sqlReader) getQuota(ctx context.Context, id, suffix string) (domain.StrategicQuota, error) {
	row := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT `+quotaColumns+` FROM strategic_quotas WHERE id = ?`+suffix), id)
	q, err := scanQuota(row)
	if errors.Is(err, sql.ErrNoRows) {
		return q, domain.NotFoundf("strategic quota %s not found", id)
	}
	if err != nil {
		return q, r.wrap("query strategic quota", err)
	}
	return q, nil
}

func (r sqlReader) GetQuota(ctx context.Context, id string) (domain.StrategicQuota, error) {
	return r.getQuota(ctx, id, "")
}

func (r sqlReader) ListQuotas(ctx context.Context) ([]domain.StrategicQuota, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+quotaColumns+` FROM strategic_quotas ORDER BY created_at`)
	if err != nil {
		return nil, r.wrap("query strategic quotas", err)
	}
	defer rows.Close()

	var quotas []domain.StrategicQuota
	for rows.Next() {
		q, err := scanQuota(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan strategic quota: %w", err)
		}
		quotas = append(quotas, q)
	}
	return quotas, rows.Err()
}

func reserveWindowClause(quotaID string, w port.ClaimWindow) (string, []any) {
	clause := `quota_id = ? AND created_at >= ? AND created_at < ?`
	args := []any{quotaID, w.From.UTC(), w.To.UTC()}
	if w.MemberID != "" {
		clause += ` AND member_id = ?`
		args = append(args, w.MemberID)
	}
	return clause, args
}

func (r sqlReader) SumReserveClaims(ctx context.Context, quotaID string, w port.ClaimWindow) (decimal.Decimal, error) {
	clause, args := reserveWindowClause(quotaID, w)
	return r.sum(ctx, "sum reserve claims", `SELECT SUM(quantity) FROM reserve_claims WHERE `+clause, args...)
}

func (r sqlReader) CountReserveClaimants(ctx context.Context, quotaID string, w port.ClaimWindow) (int, error) {
	clause, args := reserveWindowClause(quotaID, w)
	var n int
	if err := r.q.QueryRowContext(ctx, r.d.rebind(`SELECT COUNT(DISTINCT member_id) FROM reserve_claims WHERE `+clause), args...).Scan(&n); err != nil {
		return 0, r.wrap("count reserve claimants", err)
	}
	return n, nil
}

// sqlTx adds row locks and writes on top of the transaction-scoped reader.
type sqlTx struct {
	sqlReader
}

var _ port.Tx = (*sqlTx)(nil)

const forUpdate = ` FOR UPDATE`

func (t *sqlTx) LockLot(ctx context.Context, id string) (domain.InventoryLot, error) {
	return t.getLot(ctx, id, forUpdate)
}

func (t *sqlTx) LockProduct(ctx context.Context, id string) (domain.Product, error) {
	return t.getProduct(ctx, id, forUpdate)
}

func (t *sqlTx) LockOffer(ctx context.Context, id string) (domain.Offer, error) {
	return t.getOffer(ctx, id, forUpdate)
}

func (t *sqlTx) LockFlashDeal(ctx context.Context, id string) (domain.FlashDeal, error) {
	return t.getFlashDeal(ctx, id, forUpdate)
}

func (t *sqlTx) LockQuota(ctx context.Context, id string) (domain.StrategicQuota, error) {
	return t.getQuota(ctx, id, forUpdate)
}

func (t *sqlTx) InsertLot(ctx context.Context, lot domain.InventoryLot) error {
	_, err := t.exec(ctx, "insert inventory lot", `
		INSERT INTO inventory_lots (`+lotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.ID, lot.SubstanceID, lot.Quantity, lot.Unit, lot.OwnerID, lot.HolderID, lot.Excess,
		nullTime(lot.ExpiresAt), lot.CreatedAt.UTC(), lot.UpdatedAt.UTC())
	return err
}

func (t *sqlTx) UpdateLot(ctx context.Context, lot domain.InventoryLot) error {
	return t.execOne(ctx, "update inventory lot", domain.NotFoundf("inventory lot %s not found", lot.ID), `
		UPDATE inventory_lots
		SET quantity = ?, owner_id = ?, holder_id = ?, excess = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`,
		lot.Quantity, lot.OwnerID, lot.HolderID, lot.Excess, nullTime(lot.ExpiresAt), lot.UpdatedAt.UTC(), lot.ID)
}

func (t *sqlTx) DeleteLot(ctx context.Context, id string) error {
	return t.execOne(ctx, "delete inventory lot", domain.NotFoundf("inventory lot %s not found", id),
		`DELETE FROM inventory_lots WHERE id = ?`, id)
}

func (t *sqlTx) UpsertProduct(ctx context.Context, p domain.Product) error {
	res, err := t.exec(ctx, "update product", `
		UPDATE products SET name = ?, unit = ?, target_stock = ?, current_stock = ?, controls = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Unit, p.TargetStock, p.CurrentStock, encodeControls(p.Controls), p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return err
	}
	// MySQL reports zero affected rows for a no-op update, so confirm existence before inserting.
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := t.getProduct(ctx, p.ID, ""); err == nil {
		return nil
	}
	_, err = t.exec(ctx, "insert product", `
		INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Unit, p.TargetStock, p.CurrentStock, encodeControls(p.Controls), p.UpdatedAt.UTC())
	return err
}

func (t *sqlTx) UpdateProductStock(ctx context.Context, id string, currentStock decimal.Decimal, at time.Time) error {
	return t.execOne(ctx, "update product stock", domain.NotFoundf("product %s not found", id),
		`UPDATE products SET current_stock = ?, updated_at = ? WHERE id = ?`,
		currentStock, at.UTC(), id)
}

func (t *sqlTx) InsertOffer(ctx context.Context, o domain.Offer) error {
	isAuction, starting, end, bid, bidder, count := auctionArgs(o)
	_, err := t.exec(ctx, "insert offer", `
		INSERT INTO offers (`+offerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, string(o.Type), o.SubstanceID, o.Quantity, o.Filled, o.Unit, o.Price, o.Terms,
		string(o.Status), isAuction, starting, end, bid, bidder, count, o.Version,
		o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	return err
}

func (t *sqlTx) UpdateOffer(ctx context.Context, o domain.Offer) error {
	isAuction, starting, end, bid, bidder, count := auctionArgs(o)
	return t.execOne(ctx, "update offer", ErrOptimisticLock, `
		UPDATE offers
		SET quantity = ?, filled = ?, unit = ?, price = ?, terms = ?, status = ?,
			is_auction = ?, starting_price = ?, auction_end = ?, current_bid = ?, highest_bidder = ?,
			bid_count = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		o.Quantity, o.Filled, o.Unit, o.Price, o.Terms, string(o.Status),
		isAuction, starting, end, bid, bidder, count, o.UpdatedAt.UTC(),
		o.ID, o.Version)
}

func (t *sqlTx) DeleteOffer(ctx context.Context, id string) error {
	return t.execOne(ctx, "delete offer", domain.NotFoundf("offer %s not found", id),
		`DELETE FROM offers WHERE id = ?`, id)
}

func (t *sqlTx) InsertBid(ctx context.Context, b domain.Bid) error {
	_, err := t.exec(ctx, "insert bid", `
		INSERT INTO bids (id, offer_id, bidder_id, amount, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.OfferID, b.BidderID, b.Amount, b.CreatedAt.UTC())
	return err
}

func (t *sqlTx) InsertTrade(ctx context.Context, tr domain.Trade) error {
	_, err := t.exec(ctx, "insert trade", `
		INSERT INTO trades (`+tradeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, string(tr.Type), tr.SubstanceID, tr.Quantity, tr.Price, tr.SellerID, tr.BuyerID,
		nullString(tr.OfferID), tr.CompletedAt.UTC())
	return err
}

func (t *sqlTx) InsertFlashDeal(ctx context.Context, d domain.FlashDeal) error {
	_, err := t.exec(ctx, "insert flash deal", `
		INSERT INTO flash_deals (`+flashDealColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProductID, d.StartsAt.UTC(), d.EndsAt.UTC(), d.SpecialPrice, d.StockLimit,
		nullDecimal(d.PerMemberLimit), d.CreatedAt.UTC())
	return err
}

func (t *sqlTx) InsertFlashClaim(ctx context.Context, c domain.FlashClaim) error {
	_, err := t.exec(ctx, "insert flash claim", `
		INSERT INTO flash_claims (id, deal_id, member_id, quantity, delivery_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.DealID, c.MemberID, c.Quantity, string(c.DeliveryType), c.CreatedAt.UTC())
	return err
}

func (t *sqlTx) InsertQuota(ctx context.Context, q domain.StrategicQuota) error {
	_, err := t.exec(ctx, "insert strategic quota", `
		INSERT INTO strategic_quotas (`+quotaColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, q.ProductID, q.TotalReserved, q.ResetDate.UTC(), q.PeriodDays, q.CreatedAt.UTC())
	return err
}

func (t *sqlTx) UpdateQuotaPeriod(ctx context.Context, id string, resetDate time.Time, periodDays int) error {
	return t.execOne(ctx, "update strategic quota", domain.NotFoundf("strategic quota %s not found", id),
		`UPDATE strategic_quotas SET reset_date = ?, period_days = ? WHERE id = ?`,
		resetDate.UTC(), periodDays, id)
}

func (t *sqlTx) InsertReserveClaim(ctx context.Context, c domain.ReserveClaim) error {
	_, err := t.exec(ctx, "insert reserve claim", `
		INSERT INTO reserve_claims (id, quota_id, member_id, quantity, delivery_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.QuotaID, c.MemberID, c.Quantity, string(c.DeliveryType), c.CreatedAt.UTC())
	return err
}
