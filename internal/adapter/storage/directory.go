package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/port"
)

var (
	_ port.MemberDirectory       = (*SQLDirectory)(nil)
	_ port.AuthorizationRegistry = (*SQLDirectory)(nil)
	_ port.MemberDirectory       = (*MemoryDirectory)(nil)
	_ port.AuthorizationRegistry = (*MemoryDirectory)(nil)
)

const (
	validityIndefinite = "indefinite"
	validityUntil      = "until"
)

// SQLDirectory reads the members and authorizations tables that the profile
// and user services replicate into the exchange database.
type SQLDirectory struct {
	sqlReader
}

func NewSQLDirectory(db *sql.DB, dialect Dialect) *SQLDirectory {
	return &SQLDirectory{sqlReader: sqlReader{q: db, d: dialect}}
}

func (s *SQLDirectory) ActiveMemberCount(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM members
		WHERE active = TRUE AND tax_id IS NOT NULL AND tax_id <> ''`).Scan(&n)
	if err != nil {
		return 0, s.wrap("count members", err)
	}
	return n, nil
}

func (s *SQLDirectory) FindMemberByEmail(ctx context.Context, email string) (domain.Member, error) {
	var (
		m     domain.Member
		taxID sql.NullString
	)
	err := s.q.QueryRowContext(ctx, s.d.rebind(`SELECT id, email, tax_id, active FROM members WHERE email = ?`), email).
		Scan(&m.ID, &m.Email, &taxID, &m.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return m, domain.NotFoundf("member %s not found", email)
	}
	if err != nil {
		return m, s.wrap("query member", err)
	}
	m.TaxID = taxID.String
	return m, nil
}

func (s *SQLDirectory) HasAuthorization(ctx context.Context, memberID string, kind domain.AuthorizationKind, substanceID string, at time.Time) (bool, error) {
	rows, err := s.q.QueryContext(ctx, s.d.rebind(`
		SELECT id, member_id, kind, substance_id, active, validity, valid_until
		FROM authorizations
		WHERE member_id = ? AND kind = ? AND (substance_id = ? OR substance_id = '')`),
		memberID, string(kind), substanceID)
	if err != nil {
		return false, s.wrap("query authorizations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a        domain.Authorization
			validity string
			until    sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.MemberID, &a.Kind, &a.SubstanceID, &a.Active, &validity, &until); err != nil {
			return false, s.wrap("scan authorization", err)
		}
		switch {
		case validity == validityIndefinite:
			a.Validity = domain.Indefinite()
		case validity == validityUntil && until.Valid:
			a.Validity = domain.ValidUntil(until.Time)
		}
		if a.Permits(kind, substanceID, at) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// MemoryDirectory is an in-process directory used by tests and local runs.
type MemoryDirectory struct {
	mu             sync.RWMutex
	members        map[string]domain.Member
	authorizations []domain.Authorization
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{members: make(map[string]domain.Member)}
}

func (d *MemoryDirectory) PutMember(m domain.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
}

func (d *MemoryDirectory) Grant(a domain.Authorization) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authorizations = append(d.authorizations, a)
}

func (d *MemoryDirectory) ActiveMemberCount(context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, m := range d.members {
		if m.Active && m.TaxID != "" {
			n++
		}
	}
	return n, nil
}

func (d *MemoryDirectory) FindMemberByEmail(_ context.Context, email string) (domain.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, m := range d.members {
		if m.Email == email {
			return m, nil
		}
	}
	return domain.Member{}, domain.NotFoundf("member %s not found", email)
}

func (d *MemoryDirectory) HasAuthorization(_ context.Context, memberID string, kind domain.AuthorizationKind, substanceID string, at time.Time) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.authorizations {
		if a.MemberID == memberID && a.Permits(kind, substanceID, at) {
			return true, nil
		}
	}
	return false, nil
}
