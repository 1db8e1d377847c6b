package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/coop-exchange/internal/core/domain"
)

const namespace = "coopx"

var (
	BidsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bids_total",
		Help:      "Bid attempts by outcome.",
	}, []string{"outcome"})

	ClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_total",
		Help:      "Flash-deal and reserve claims by pool and outcome.",
	}, []string{"pool", "outcome"})

	LiquidatedQuantity = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "liquidated_quantity_total",
		Help:      "Quantity sold to the market maker through liquidation.",
	}, []string{"substance"})

	TradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_total",
		Help:      "Trade records written by type.",
	}, []string{"type"})

	ConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conflicts_total",
		Help:      "Operations aborted by concurrent writes.",
	}, []string{"operation"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Request latency by transport, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"transport", "route", "status"})
)

// Register adds the collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{BidsTotal, ClaimsTotal, LiquidatedQuantity, TradesTotal, ConflictsTotal, RequestDuration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Outcome labels an operation result by its error kind.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}

// CountConflict records err against operation when it is a conflict.
func CountConflict(operation string, err error) {
	if domain.KindOf(err) == domain.KindConflict {
		ConflictsTotal.WithLabelValues(operation).Inc()
	}
}
