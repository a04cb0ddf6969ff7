// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solana-trade-ledger/internal/domain"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Ingestion metrics
	NotificationsReceived *prometheus.CounterVec
	TransactionsFetched   prometheus.Counter
	FetchFailures         prometheus.Counter
	TradesDecoded         *prometheus.CounterVec
	DecodeSkipped         *prometheus.CounterVec
	SequencerPending      prometheus.Gauge
	HighestSlotSeen       prometheus.Gauge
	Resubscribes          prometheus.Counter
	ActiveSource          *prometheus.GaugeVec

	// Ledger metrics
	TradesApplied    *prometheus.CounterVec
	TradesRejected   *prometheus.CounterVec
	PositionsRemoved prometheus.Counter
	ActivePositions  prometheus.Gauge
	ClosedPositions  prometheus.Gauge
	TrackedAssets    prometheus.Gauge
	TrackedWallets   prometheus.Gauge

	// Pricing metrics
	PriceCycles       *prometheus.CounterVec
	PriceCycleLatency prometheus.Histogram
	SnapshotsApplied  prometheus.Counter
	SignificantMoves  prometheus.Counter
	MissingPrices     prometheus.Counter

	// Notification metrics
	EventsPublished *prometheus.CounterVec
	PublishErrors   prometheus.Counter
	EventsDropped   prometheus.Counter

	// Metadata metrics
	MetadataResolutions *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Health metrics
	LastTradeApplied    prometheus.Gauge
	LastPriceCycle      prometheus.Gauge
	TradeProcessLatency prometheus.Histogram
}

// NewMetrics creates a Metrics instance registered with reg. A nil reg
// creates unregistered collectors, which is what tests want.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "trade_ledger"
	}
	f := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		NotificationsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "notifications_received_total",
			Help:      "Total number of transaction notifications by source",
		}, []string{"source"}),
		TransactionsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_fetched_total",
			Help:      "Total number of transactions fetched from RPC",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetch_failures_total",
			Help:      "Total number of transactions dropped after fetch retries",
		}),
		TradesDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_decoded_total",
			Help:      "Total number of decoded trades by side",
		}, []string{"side"}),
		DecodeSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "decode_skipped_total",
			Help:      "Total number of skipped instructions by reason",
		}, []string{"reason"}),
		SequencerPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "sequencer_pending",
			Help:      "Decoded transactions waiting on an earlier one",
		}),
		HighestSlotSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),
		Resubscribes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "resubscribes_total",
			Help:      "Total number of subscription restarts",
		}),
		ActiveSource: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "active_source",
			Help:      "1 for the source currently delivering notifications",
		}, []string{"source"}),

		// Ledger metrics
		TradesApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "trades_applied_total",
			Help:      "Total number of trades applied by side",
		}, []string{"side"}),
		TradesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "trades_rejected_total",
			Help:      "Total number of trades rejected by reason",
		}, []string{"reason"}),
		PositionsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "positions_removed_total",
			Help:      "Total number of positions removed by the valuation filter",
		}),
		ActivePositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "active_positions",
			Help:      "Number of active positions",
		}),
		ClosedPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "closed_positions",
			Help:      "Number of inactive positions",
		}),
		TrackedAssets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tracked_assets",
			Help:      "Number of distinct assets with a position",
		}),
		TrackedWallets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tracked_wallets",
			Help:      "Number of distinct wallets with a position",
		}),

		// Pricing metrics
		PriceCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "cycles_total",
			Help:      "Total number of price cycles by status",
		}, []string{"status"}),
		PriceCycleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "cycle_duration_seconds",
			Help:      "Price cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotsApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "snapshots_applied_total",
			Help:      "Total number of asset price snapshots applied",
		}),
		SignificantMoves: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "significant_moves_total",
			Help:      "Total number of position updates caused by price moves",
		}),
		MissingPrices: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "missing_prices_total",
			Help:      "Total number of assets the oracle returned no price for",
		}),

		// Notification metrics
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_published_total",
			Help:      "Total number of events published by type",
		}, []string{"type"}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "publish_errors_total",
			Help:      "Total number of failed sink deliveries",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped on a full publish queue",
		}),

		// Metadata metrics
		MetadataResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "resolutions_total",
			Help:      "Total number of metadata lookups by status",
		}, []string{"status"}),

		// HTTP metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Health metrics
		LastTradeApplied: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_trade_applied_timestamp",
			Help:      "Unix timestamp of the last applied trade",
		}),
		LastPriceCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_price_cycle_timestamp",
			Help:      "Unix timestamp of the last successful price cycle",
		}),
		TradeProcessLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "notification_latency_seconds",
			Help:      "Time from notification to ledger update in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordNotification counts a notification and tracks the slot.
func (m *Metrics) RecordNotification(source string, slot int64) {
	if m == nil {
		return
	}
	m.NotificationsReceived.WithLabelValues(source).Inc()
	if slot > 0 {
		m.HighestSlotSeen.Set(float64(slot))
	}
}

// RecordFetch records one transaction fetch outcome.
func (m *Metrics) RecordFetch(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.FetchFailures.Inc()
		return
	}
	m.TransactionsFetched.Inc()
}

// RecordDecode records decoded trades and skipped instructions.
func (m *Metrics) RecordDecode(trades []domain.DecodedTrade, skipReasons []string) {
	if m == nil {
		return
	}
	for _, t := range trades {
		m.TradesDecoded.WithLabelValues(string(t.Side)).Inc()
	}
	for _, r := range skipReasons {
		m.DecodeSkipped.WithLabelValues(r).Inc()
	}
}

// SetSequencerPending sets the reorder buffer depth.
func (m *Metrics) SetSequencerPending(n int) {
	if m == nil {
		return
	}
	m.SequencerPending.Set(float64(n))
}

// RecordSourceSwitch marks source as the active one.
func (m *Metrics) RecordSourceSwitch(active string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.ActiveSource.WithLabelValues(s).Set(0)
	}
	m.ActiveSource.WithLabelValues(active).Set(1)
}

// RecordResubscribe counts a subscription restart.
func (m *Metrics) RecordResubscribe() {
	if m == nil {
		return
	}
	m.Resubscribes.Inc()
}

// RecordTrade records an applied trade or its rejection reason.
func (m *Metrics) RecordTrade(side domain.Side, rejected string, observed time.Time) {
	if m == nil {
		return
	}
	if rejected != "" {
		m.TradesRejected.WithLabelValues(rejected).Inc()
		return
	}
	m.TradesApplied.WithLabelValues(string(side)).Inc()
	m.LastTradeApplied.SetToCurrentTime()
	if !observed.IsZero() {
		m.TradeProcessLatency.Observe(time.Since(observed).Seconds())
	}
}

// SetStatus updates the ledger rollup gauges.
func (m *Metrics) SetStatus(s domain.Status) {
	if m == nil {
		return
	}
	m.ActivePositions.Set(float64(s.ActivePositions))
	m.ClosedPositions.Set(float64(s.ClosedPositions))
	m.TrackedAssets.Set(float64(s.TrackedAssets))
	m.TrackedWallets.Set(float64(s.TrackedWallets))
}

// RecordRemoved counts positions removed by the valuation filter.
func (m *Metrics) RecordRemoved(n int) {
	if m == nil {
		return
	}
	m.PositionsRemoved.Add(float64(n))
}

// RecordPriceCycle records a price cycle.
func (m *Metrics) RecordPriceCycle(snapshots, moved, missing int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PriceCycleLatency.Observe(d.Seconds())
	if err != nil {
		m.PriceCycles.WithLabelValues("error").Inc()
		return
	}
	m.PriceCycles.WithLabelValues("ok").Inc()
	m.SnapshotsApplied.Add(float64(snapshots))
	m.SignificantMoves.Add(float64(moved))
	m.MissingPrices.Add(float64(missing))
	m.LastPriceCycle.SetToCurrentTime()
}

// RecordPublish records one event delivery.
func (m *Metrics) RecordPublish(t domain.EventType, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(string(t)).Inc()
	if err != nil {
		m.PublishErrors.Inc()
	}
}

// RecordDropped counts an event dropped before delivery.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// RecordMetadata records a metadata lookup by status.
func (m *Metrics) RecordMetadata(status string) {
	if m == nil {
		return
	}
	m.MetadataResolutions.WithLabelValues(status).Inc()
}

// RecordHTTP records one HTTP request.
func (m *Metrics) RecordHTTP(route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
