// Package metrics exposes the engine's Prometheus instruments:
//
//	hedgerisk_scheduler_tick_duration_seconds
//	hedgerisk_positions_processed_total
//	hedgerisk_signals_emitted_total
//	hedgerisk_sink_errors_total
//	hedgerisk_exchange_call_duration_seconds
//	hedgerisk_leg_proximity_ratio
//	hedgerisk_position_net_profit
//
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hedgerisk"

// Metrics holds every instrument the engine records.
type Metrics struct {
	tickDuration       *prometheus.HistogramVec
	positionsProcessed *prometheus.CounterVec
	signalsEmitted     *prometheus.CounterVec
	sinkErrors         *prometheus.CounterVec
	exchangeCalls      *prometheus.HistogramVec
	legProximity       *prometheus.GaugeVec
	netProfit          *prometheus.GaugeVec
}

// New registers the instruments with reg. Pass prometheus.NewRegistry() in
// tests to avoid colliding with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one scheduler tick",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"scheduler"}),

		positionsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_processed_total",
			Help:      "Positions handled per tick by result",
		}, []string{"component", "result"}), // result: ok, skipped, failed

		signalsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_emitted_total",
			Help:      "Risk signals published by kind",
		}, []string{"kind"}),

		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed signal deliveries by sink",
		}, []string{"sink"}),

		exchangeCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "call_duration_seconds",
			Help:      "Latency of exchange connector calls",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		}, []string{"exchange", "op", "result"}),

		legProximity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leg_proximity_ratio",
			Help:      "Last computed liquidation proximity per leg",
		}, []string{"position_id", "leg"}),

		netProfit: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_net_profit",
			Help:      "Last reconciled net profit per position",
		}, []string{"position_id"}),
	}
}

// ObserveTick records the duration of one scheduler tick.
func (m *Metrics) ObserveTick(scheduler string, d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(scheduler).Observe(d.Seconds())
}

// PositionProcessed counts a position outcome for a component.
func (m *Metrics) PositionProcessed(component, result string) {
	if m == nil {
		return
	}
	m.positionsProcessed.WithLabelValues(component, result).Inc()
}

// SignalEmitted counts a published signal.
func (m *Metrics) SignalEmitted(kind string) {
	if m == nil {
		return
	}
	m.signalsEmitted.WithLabelValues(kind).Inc()
}

// SinkError counts a failed delivery to a sink.
func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// ObserveExchangeCall records latency and outcome of one connector call.
func (m *Metrics) ObserveExchangeCall(exchange, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.exchangeCalls.WithLabelValues(exchange, op, result).Observe(d.Seconds())
}

// SetLegProximity records a leg's latest proximity ratio.
func (m *Metrics) SetLegProximity(positionID, leg string, v float64) {
	if m == nil {
		return
	}
	m.legProximity.WithLabelValues(positionID, leg).Set(v)
}

// SetNetProfit records a position's latest net profit.
func (m *Metrics) SetNetProfit(positionID string, v float64) {
	if m == nil {
		return
	}
	m.netProfit.WithLabelValues(positionID).Set(v)
}

// RegisterRuntime adds the Go and process collectors to reg.
func RegisterRuntime(reg prometheus.Registerer) {
	_ = reg.Register(collectors.NewGoCollector())
	_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}
