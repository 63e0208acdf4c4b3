// Package metrics exposes the bot's Prometheus instrumentation.
//
// Counters and gauges are package-level, registered once in init() and
// served by the HTTP handler started in main at /metrics:
//   - fibgrid_cycles_total                 – evaluation cycles completed
//   - fibgrid_orders_placed_total{side}    – resting limit orders placed
//   - fibgrid_orders_canceled_total{side}  – resting limit orders canceled
//   - fibgrid_orders_filled_total{side}    – resting limit order fills
//   - fibgrid_level_crossings_total{direction} – price level crossings between cycles
//   - fibgrid_position_contracts           – open position (gauge)
//   - fibgrid_realized_pnl                 – cumulative realized PnL for the day (gauge)
//   - fibgrid_last_price                   – last polled price (gauge)
//   - fibgrid_cycle_duration_seconds       – cycle wall time (histogram)
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fibgrid_cycles_total",
			Help: "Evaluation cycles completed",
		},
	)

	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fibgrid_orders_placed_total",
			Help: "Resting limit orders placed",
		},
		[]string{"side"}, // BUY|SELL
	)

	ordersCanceled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fibgrid_orders_canceled_total",
			Help: "Resting limit orders canceled",
		},
		[]string{"side"}, // BUY|SELL
	)

	ordersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fibgrid_orders_filled_total",
			Help: "Resting limit order fills",
		},
		[]string{"side"}, // BUY|SELL
	)

	positionContracts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fibgrid_position_contracts",
			Help: "Open position in contracts",
		},
	)

	realizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fibgrid_realized_pnl",
			Help: "Realized PnL for the current day",
		},
	)

	lastPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fibgrid_last_price",
			Help: "Last polled market price",
		},
	)

	levelCrossings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fibgrid_level_crossings_total",
			Help: "Price level crossings observed between cycles",
		},
		[]string{"direction"}, // up|down
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fibgrid_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(cycles, cycleDuration, levelCrossings)
	prometheus.MustRegister(ordersPlaced, ordersCanceled, ordersFilled)
	prometheus.MustRegister(positionContracts, realizedPnL, lastPrice)
}

func IncCycles() { cycles.Inc() }

func IncOrdersPlaced(side string) { ordersPlaced.WithLabelValues(side).Inc() }

func IncOrdersCanceled(side string) { ordersCanceled.WithLabelValues(side).Inc() }

func IncOrdersFilled(side string) { ordersFilled.WithLabelValues(side).Inc() }

func IncLevelCrossings(direction string) { levelCrossings.WithLabelValues(direction).Inc() }

func SetPositionContracts(v float64) { positionContracts.Set(v) }

func SetRealizedPnL(v float64) { realizedPnL.Set(v) }

func SetLastPrice(v float64) { lastPrice.Set(v) }

func ObserveCycleDuration(s float64) { cycleDuration.Observe(s) }

// Handler serves the Prometheus text exposition format.
func Handler() http.Handler { return promhttp.Handler() }
