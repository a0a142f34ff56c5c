// Package metrics exposes Prometheus counters/gauges for the bot's
// operational state, served over /metrics (ambient observability, SPEC_FULL
// §3). Adapted from the chidi150c-coinbase example's package-level
// CounterVec/GaugeVec registration idiom.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtbot_orders_submitted_total",
			Help: "Orders submitted through the gateway, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	OrdersClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtbot_orders_closed_total",
			Help: "Orders closed, by symbol and close reason.",
		},
		[]string{"symbol", "reason"},
	)

	OpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crtbot_open_positions",
			Help: "Currently open positions, by symbol.",
		},
		[]string{"symbol"},
	)

	PipelineBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtbot_pipeline_blocked_total",
			Help: "Pipeline runs blocked, by symbol and reason (first_tp, news, pattern, fvg).",
		},
		[]string{"symbol", "reason"},
	)

	TrailingStopApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crtbot_trailing_stop_applied_total",
			Help: "Trailing-stop modifications applied, by symbol.",
		},
		[]string{"symbol"},
	)

	AutoCloseFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crtbot_auto_close_total",
			Help: "Number of T_flat auto-close cycles that fired.",
		},
	)

	LoopCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crtbot_loop_cycle_seconds",
			Help:    "Duration of one execution-loop cycle.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CadenceSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crtbot_loop_cadence_seconds",
			Help: "Sleep cadence chosen for the next cycle.",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersClosed, OpenPositions)
	prometheus.MustRegister(PipelineBlocked, TrailingStopApplied, AutoCloseFired)
	prometheus.MustRegister(LoopCycleSeconds, CadenceSeconds)
}
