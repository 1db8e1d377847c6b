package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategicQuota is a reserve pool split evenly across active members for each
// period [ResetDate, ResetDate+PeriodDays).
type StrategicQuota struct {
	ID            string
	ProductID     string
	TotalReserved decimal.Decimal
	ResetDate     time.Time
	PeriodDays    int
	CreatedAt     time.Time
}

func (q StrategicQuota) PeriodEnd() time.Time {
	return q.ResetDate.AddDate(0, 0, q.PeriodDays)
}

// InPeriod reports whether t belongs to the quota's period.
func (q StrategicQuota) InPeriod(t time.Time) bool {
	return !t.Before(q.ResetDate) && t.Before(q.PeriodEnd())
}

// PerMember is the equal share of the pool; memberCount below one counts as one.
func (q StrategicQuota) PerMember(memberCount int) decimal.Decimal {
	if memberCount < 1 {
		memberCount = 1
	}
	return q.TotalReserved.Div(decimal.NewFromInt(int64(memberCount)))
}

type ReserveClaim struct {
	ID           string
	QuotaID      string
	MemberID     string
	Quantity     decimal.Decimal
	DeliveryType DeliveryType
	CreatedAt    time.Time
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
