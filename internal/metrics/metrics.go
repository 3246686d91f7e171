// Package metrics provides Prometheus metrics for the betting service.
// Every recording method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics collects and exposes service metrics on its own registry
type Metrics struct {
	registry *prometheus.Registry

	// Feed metrics
	IngestEvents   *prometheus.CounterVec
	FeedReconnects prometheus.Counter

	// Phase metrics
	PhaseTransitions *prometheus.CounterVec
	CurrentPhase     *prometheus.GaugeVec
	LockWindow       prometheus.Histogram
	LiveVolume       *prometheus.GaugeVec

	// Ledger metrics
	Bets                *prometheus.CounterVec
	Confirmations       *prometheus.CounterVec
	ConfirmationLatency prometheus.Histogram

	// Chain metrics
	GateToggles     *prometheus.CounterVec
	PayoutTransfers *prometheus.CounterVec

	// Fan-out metrics
	ConnectedClients prometheus.Gauge
	DroppedClients   prometheus.Counter
}

// New creates a metrics collector registered on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		IngestEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soltybet_ingest_events_total",
				Help: "Feed lines classified as match signals",
			},
			[]string{"kind"},
		),
		FeedReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "soltybet_feed_reconnects_total",
				Help: "Chat relay reconnection attempts",
			},
		),

		PhaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soltybet_phase_transitions_total",
				Help: "Phase machine transitions",
			},
			[]string{"from", "to"},
		),
		CurrentPhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "soltybet_phase",
				Help: "1 for the phase the machine is in, 0 otherwise",
			},
			[]string{"phase"},
		),
		LockWindow: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "soltybet_lock_window_seconds",
				Help:    "Time spent polling volumes after lock",
				Buckets: []float64{1, 5, 10, 15, 20, 30, 60},
			},
		),
		LiveVolume: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "soltybet_live_volume_sol",
				Help: "Confirmed volume of the current match",
			},
			[]string{"side"},
		),

		Bets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soltybet_bets_total",
				Help: "Bet lifecycle changes",
			},
			[]string{"status"},
		),
		Confirmations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soltybet_confirmations_total",
				Help: "Bet confirmation outcomes",
			},
			[]string{"reason"},
		),
		ConfirmationLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "soltybet_confirmation_seconds",
				Help:    "Time to confirm a bet against the chain",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),

		GateToggles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soltybet_gate_toggles_total",
				Help: "Deposit gate toggle attempts",
			},
			[]string{"action", "result"},
		),
		PayoutTransfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soltybet_payout_transfers_total",
				Help: "Outgoing payout transfers",
			},
			[]string{"kind", "result"},
		),

		ConnectedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "soltybet_ws_clients",
				Help: "Connected notification clients",
			},
		),
		DroppedClients: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "soltybet_ws_dropped_clients_total",
				Help: "Clients disconnected for falling behind",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IngestEvents,
		m.FeedReconnects,
		m.PhaseTransitions,
		m.CurrentPhase,
		m.LockWindow,
		m.LiveVolume,
		m.Bets,
		m.Confirmations,
		m.ConfirmationLatency,
		m.GateToggles,
		m.PayoutTransfers,
		m.ConnectedClients,
		m.DroppedClients,
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IngestEvent(kind string) {
	if m == nil {
		return
	}
	m.IngestEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) FeedReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

// PhaseChange records a transition and flips the current phase gauge
func (m *Metrics) PhaseChange(from, to string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(from, to).Inc()
	m.CurrentPhase.WithLabelValues(from).Set(0)
	m.CurrentPhase.WithLabelValues(to).Set(1)
}

func (m *Metrics) ObserveLockWindow(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWindow.Observe(d.Seconds())
}

func (m *Metrics) SetLiveVolume(red, blue decimal.Decimal) {
	if m == nil {
		return
	}
	m.LiveVolume.WithLabelValues("red").Set(red.InexactFloat64())
	m.LiveVolume.WithLabelValues("blue").Set(blue.InexactFloat64())
}

func (m *Metrics) BetStatus(status string) {
	if m == nil {
		return
	}
	m.Bets.WithLabelValues(status).Inc()
}

// Confirmation records a confirmation outcome; reason is "ok" on success
func (m *Metrics) Confirmation(reason string, took time.Duration) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(reason).Inc()
	m.ConfirmationLatency.Observe(took.Seconds())
}

func (m *Metrics) GateToggle(action, result string) {
	if m == nil {
		return
	}
	m.GateToggles.WithLabelValues(action, result).Inc()
}

func (m *Metrics) PayoutTransfer(kind, result string, n int) {
	if m == nil {
		return
	}
	m.PayoutTransfers.WithLabelValues(kind, result).Add(float64(n))
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.ConnectedClients.Inc()
}

// ClientDisconnected decrements the client gauge; dropped marks a slow-consumer eviction
func (m *Metrics) ClientDisconnected(dropped bool) {
	if m == nil {
		return
	}
	m.ConnectedClients.Dec()
	if dropped {
		m.DroppedClients.Inc()
	}
}
