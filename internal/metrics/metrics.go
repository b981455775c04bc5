// Package metrics exposes Prometheus instrumentation for the allocation
// engine:
//
//   - betfleet_bets_total{agent,status}      – bets by terminal outcome
//   - betfleet_skips_total{agent,reason}     – rejected candidates by reason
//   - betfleet_balance_usd{agent}            – free balance per agent (gauge)
//   - betfleet_exposure_usd                  – system-wide open exposure (gauge)
//   - betfleet_daily_loss_usd                – consumed global daily-loss budget
//   - betfleet_cycle_seconds                 – cycle duration histogram
//   - betfleet_review_flags_total            – local/venue divergences needing review
//
// Served at /metrics in Prometheus text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Bets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betfleet_bets_total",
			Help: "Bets by agent and terminal status",
		},
		[]string{"agent", "status"},
	)

	Skips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "betfleet_skips_total",
			Help: "Rejected candidates by agent and reason",
		},
		[]string{"agent", "reason"},
	)

	Balance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "betfleet_balance_usd",
			Help: "Free balance per agent",
		},
		[]string{"agent"},
	)

	Exposure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "betfleet_exposure_usd",
			Help: "System-wide capital locked in open bets",
		},
	)

	DailyLoss = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "betfleet_daily_loss_usd",
			Help: "Consumed global daily-loss budget",
		},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "betfleet_cycle_seconds",
			Help:    "Allocation cycle duration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	ReviewFlags = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "betfleet_review_flags_total",
			Help: "Bets flagged for reconciliation review after a persistence failure",
		},
	)
)

func init() {
	prometheus.MustRegister(Bets, Skips, Balance, Exposure, DailyLoss, CycleDuration, ReviewFlags)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
