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

// ReserveService allocates strategic reserve quotas per period.
type ReserveService struct {
	repo      port.DatabaseRepository
	directory port.MemberDirectory
	guard     *AuthorizationGuard
	clock     clock.Clock
}

func NewReserveService(repo port.DatabaseRepository, directory port.MemberDirectory, guard *AuthorizationGuard, clk clock.Clock) *ReserveService {
	return &ReserveService{repo: repo, directory: directory, guard: guard, clock: clk}
}

type CreateQuotaInput struct {
	ProductID     string
	TotalReserved decimal.Decimal
	ResetDate     time.Time
	PeriodDays    int
}

func (s *ReserveService) Create(ctx context.Context, actor domain.Actor, in CreateQuotaInput) (domain.StrategicQuota, error) {
	if !actor.IsAdmin() {
		return domain.StrategicQuota{}, domain.Forbiddenf("only the market maker may create strategic quotas")
	}
	switch {
	case in.ProductID == "":
		return domain.StrategicQuota{}, domain.Validationf("productId is required")
	case !in.TotalReserved.IsPositive():
		return domain.StrategicQuota{}, domain.Validationf("totalReserved must be positive")
	case in.PeriodDays <= 0:
		return domain.StrategicQuota{}, domain.Validationf("periodDays must be positive")
	case in.ResetDate.IsZero():
		return domain.StrategicQuota{}, domain.Validationf("resetDate is required")
	}

	quota := domain.StrategicQuota{
		ID:            newID(),
		ProductID:     in.ProductID,
		TotalReserved: in.TotalReserved,
		ResetDate:     in.ResetDate,
		PeriodDays:    in.PeriodDays,
		CreatedAt:     s.clock.Now(),
	}
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.GetProduct(ctx, in.ProductID); err != nil {
			return err
		}
		return tx.InsertQuota(ctx, quota)
	})
	if err != nil {
		return domain.StrategicQuota{}, err
	}
	log.Infow("strategic quota created", "quota", quota.ID, "product", quota.ProductID, "total", quota.TotalReserved.String())
	return quota, nil
}

// Reset starts a new period at resetDate. Claims before it stay attributed to
// the period their timestamps fall in.
func (s *ReserveService) Reset(ctx context.Context, actor domain.Actor, quotaID string, resetDate time.Time, periodDays int) (domain.StrategicQuota, error) {
	if !actor.IsAdmin() {
		return domain.StrategicQuota{}, domain.Forbiddenf("only the market maker may reset strategic quotas")
	}
	if resetDate.IsZero() {
		return domain.StrategicQuota{}, domain.Validationf("resetDate is required")
	}
	var quota domain.StrategicQuota
	err := s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		q, err := tx.LockQuota(ctx, quotaID)
		if err != nil {
			return err
		}
		if periodDays <= 0 {
			periodDays = q.PeriodDays
		}
		q.ResetDate = resetDate
		q.PeriodDays = periodDays
		quota = q
		return tx.UpdateQuotaPeriod(ctx, quotaID, resetDate, periodDays)
	})
	if err != nil {
		return domain.StrategicQuota{}, err
	}
	return quota, nil
}

func (s *ReserveService) memberCount(ctx context.Context) (int, error) {
	if s.directory == nil {
		return 1, nil
	}
	n, err := s.directory.ActiveMemberCount(ctx)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

type ReserveClaimResult struct {
	Claim                  domain.ReserveClaim
	RemainingQuotaAfter    decimal.Decimal
	RemainingInPeriodAfter decimal.Decimal
}

// Claim draws quantity from memberID's share of the quota's current period.
// Both the member's share and the shared pool are recomputed from claims inside
// the transaction that appends the new claim.
func (s *ReserveService) Claim(ctx context.Context, memberID, quotaID string, quantity decimal.Decimal, delivery domain.DeliveryType) (res ReserveClaimResult, err error) {
	defer func() {
		obs.ClaimsTotal.WithLabelValues("reserve", obs.Outcome(err)).Inc()
		obs.CountConflict("reserve_claim", err)
	}()

	if !quantity.IsPositive() {
		return ReserveClaimResult{}, domain.Validationf("quantity must be positive")
	}
	if !delivery.Valid() {
		return ReserveClaimResult{}, domain.Validationf("deliveryType must be one of pickup, delivery")
	}

	quota, err := s.repo.GetQuota(ctx, quotaID)
	if err != nil {
		return ReserveClaimResult{}, err
	}
	now := s.clock.Now()
	if now.Before(quota.ResetDate) {
		return ReserveClaimResult{}, domain.ErrNotStarted.With("quota period starts at %s", quota.ResetDate.UTC().Format(time.RFC3339))
	}
	if !now.Before(quota.PeriodEnd()) {
		return ReserveClaimResult{}, domain.ErrEnded.With("quota period ended at %s", quota.PeriodEnd().UTC().Format(time.RFC3339))
	}
	if err := s.guard.Check(ctx, memberID, quota.ProductID); err != nil {
		return ReserveClaimResult{}, err
	}
	members, err := s.memberCount(ctx)
	if err != nil {
		return ReserveClaimResult{}, err
	}

	err = s.repo.Atomic(ctx, func(ctx context.Context, tx port.Tx) error {
		q, err := tx.LockQuota(ctx, quotaID)
		if err != nil {
			return err
		}
		if !q.InPeriod(now) {
			return domain.Conflictf("quota %s was reset, retry with fresh data", quotaID)
		}
		window := port.ClaimWindow{From: q.ResetDate, To: q.PeriodEnd()}
		total, err := tx.SumReserveClaims(ctx, quotaID, window)
		if err != nil {
			return err
		}
		window.MemberID = memberID
		mine, err := tx.SumReserveClaims(ctx, quotaID, window)
		if err != nil {
			return err
		}

		perMember := q.PerMember(members)
		remainingForMember := domain.ClampZero(perMember.Sub(mine))
		remainingInPeriod := domain.ClampZero(q.TotalReserved.Sub(total))
		if quantity.GreaterThan(remainingForMember) {
			return domain.ErrQuotaExceeded.With("quota allows %s more for this member in the current period", remainingForMember.Round(6))
		}
		if quantity.GreaterThan(remainingInPeriod) {
			return domain.ErrPoolExhausted.With("reserve pool has %s left in the current period", remainingInPeriod.Round(6))
		}

		res = ReserveClaimResult{
			Claim: domain.ReserveClaim{
				ID:           newID(),
				QuotaID:      quotaID,
				MemberID:     memberID,
				Quantity:     quantity,
				DeliveryType: delivery,
				CreatedAt:    now,
			},
			RemainingQuotaAfter:    remainingForMember.Sub(quantity),
			RemainingInPeriodAfter: remainingInPeriod.Sub(quantity),
		}
		return tx.InsertReserveClaim(ctx, res.Claim)
	})
	if err != nil {
		return ReserveClaimResult{}, err
	}

	log.Infow("reserve claimed", "quota", quotaID, "member", memberID, "quantity", quantity.String())
	return res, nil
}

// QuotaView decorates a quota with period totals; the member fields are set
// only on member listings.
type QuotaView struct {
	domain.StrategicQuota
	PeriodEnd         time.Time
	QuotaPerMember    decimal.Decimal
	ActiveMembers     int
	TotalConsumed     decimal.Decimal
	RemainingInPeriod decimal.Decimal
	Claimants         int
	ConsumedByMe      *decimal.Decimal
	RemainingForMe    *decimal.Decimal
}

func (s *ReserveService) view(ctx context.Context, q domain.StrategicQuota, members int, memberID string) (QuotaView, error) {
	window := port.ClaimWindow{From: q.ResetDate, To: q.PeriodEnd()}
	total, err := s.repo.SumReserveClaims(ctx, q.ID, window)
	if err != nil {
		return QuotaView{}, err
	}
	v := QuotaView{
		StrategicQuota:    q,
		PeriodEnd:         q.PeriodEnd(),
		QuotaPerMember:    q.PerMember(members),
		ActiveMembers:     members,
		TotalConsumed:     total,
		RemainingInPeriod: domain.ClampZero(q.TotalReserved.Sub(total)),
	}
	if memberID == "" {
		if v.Claimants, err = s.repo.CountReserveClaimants(ctx, q.ID, window); err != nil {
			return QuotaView{}, err
		}
		return v, nil
	}
	window.MemberID = memberID
	mine, err := s.repo.SumReserveClaims(ctx, q.ID, window)
	if err != nil {
		return QuotaView{}, err
	}
	remaining := domain.ClampZero(v.QuotaPerMember.Sub(mine))
	v.ConsumedByMe = &mine
	v.RemainingForMe = &remaining
	return v, nil
}

func (s *ReserveService) list(ctx context.Context, memberID string) ([]QuotaView, error) {
	quotas, err := s.repo.ListQuotas(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.memberCount(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]QuotaView, 0, len(quotas))
	for _, q := range quotas {
		v, err := s.view(ctx, q, members, memberID)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ListForMember decorates each quota with the member's consumption.
func (s *ReserveService) ListForMember(ctx context.Context, memberID string) ([]QuotaView, error) {
	return s.list(ctx, memberID)
}

// ListAll aggregates across members without per-member decoration.
func (s *ReserveService) ListAll(ctx context.Context) ([]QuotaView, error) {
	return s.list(ctx, "")
}
