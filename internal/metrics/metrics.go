package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"signal-engine/internal/model"
)

// Metrics holds all Prometheus metrics for the signal engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	TicksTotal        *prometheus.CounterVec // labels: symbol
	FeedErrors        *prometheus.CounterVec // labels: symbol
	ComputeErrors     *prometheus.CounterVec // labels: symbol
	ComputeDur        prometheus.Histogram
	Transitions       *prometheus.CounterVec // labels: symbol, signal
	CurrentSignal     *prometheus.GaugeVec   // labels: symbol (-2..+2)
	CompositeScore    *prometheus.GaugeVec   // labels: symbol
	DroppedAlerts     prometheus.Counter
	DroppedErrors     prometheus.Counter
	NotificationsSent *prometheus.CounterVec // labels: sink
	NotificationsFail *prometheus.CounterVec // labels: sink
	FeedReconnects    prometheus.Counter
	FanoutDrops       *prometheus.CounterVec // labels: bus
	ChannelSaturation *prometheus.GaugeVec   // labels: channel

	// Store metrics
	RedisWriteDur            prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	JournalWrites            prometheus.Counter
}

// NewMetrics creates all metrics and registers them on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_ticks_total",
			Help: "Ticks processed by the pipeline",
		}, []string{"symbol"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_feed_errors_total",
			Help: "Malformed or rejected ticks",
		}, []string{"symbol"}),
		ComputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_compute_errors_total",
			Help: "Ticks whose indicators could not be computed",
		}, []string{"symbol"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_compute_duration_seconds",
			Help:    "Indicator + aggregation latency per tick",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_signal_transitions_total",
			Help: "Signal transitions by target signal",
		}, []string{"symbol", "signal"}),
		CurrentSignal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_current_signal",
			Help: "Current signal (-2=strong sell .. +2=strong buy)",
		}, []string{"symbol"}),
		CompositeScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_composite_score",
			Help: "Latest composite score",
		}, []string{"symbol"}),
		DroppedAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_dropped_alerts_total",
			Help: "Alerts dropped because the alert channel was full",
		}),
		DroppedErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_dropped_errors_total",
			Help: "Errors dropped because the error channel was full",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_notifications_sent_total",
			Help: "Alerts delivered per sink",
		}, []string{"sink"}),
		NotificationsFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_notifications_failed_total",
			Help: "Alert deliveries that failed per sink",
		}, []string{"sink"}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_feed_reconnects_total",
			Help: "Market data feed reconnection attempts",
		}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_fanout_drops_total",
			Help: "Values dropped because a fan-out subscriber was full",
		}, []string{"bus"}),
		ChannelSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_channel_saturation_pct",
			Help: "Fill level of internal channels in percent",
		}, []string{"channel"}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		JournalWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_journal_writes_total",
			Help: "Rows written to the SQLite journal",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.FeedErrors,
		m.ComputeErrors,
		m.ComputeDur,
		m.Transitions,
		m.CurrentSignal,
		m.CompositeScore,
		m.DroppedAlerts,
		m.DroppedErrors,
		m.NotificationsSent,
		m.NotificationsFail,
		m.FeedReconnects,
		m.FanoutDrops,
		m.ChannelSaturation,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.JournalWrites,
	)

	return m
}

// ObserveTick records one processed tick.
func (m *Metrics) ObserveTick(symbol string, sig model.Signal, score float64, took time.Duration) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(symbol).Inc()
	m.ComputeDur.Observe(took.Seconds())
	m.CurrentSignal.WithLabelValues(symbol).Set(sig.Gauge())
	m.CompositeScore.WithLabelValues(symbol).Set(score)
}

// ObserveTransition records a signal transition.
func (m *Metrics) ObserveTransition(symbol string, sig model.Signal) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(symbol, string(sig)).Inc()
}

// ObserveError classifies and counts a pipeline error.
func (m *Metrics) ObserveError(symbol string, err error) {
	if m == nil {
		return
	}
	switch err.(type) {
	case *model.FeedError:
		m.FeedErrors.WithLabelValues(symbol).Inc()
	case *model.ComputeError:
		m.ComputeErrors.WithLabelValues(symbol).Inc()
	}
}

// ObserveNotification records the outcome of one sink delivery.
func (m *Metrics) ObserveNotification(sink string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.NotificationsFail.WithLabelValues(sink).Inc()
		return
	}
	m.NotificationsSent.WithLabelValues(sink).Inc()
}

// DropAlert counts an alert lost to a full channel.
func (m *Metrics) DropAlert() {
	if m != nil {
		m.DroppedAlerts.Inc()
	}
}

// DropError counts an error lost to a full channel.
func (m *Metrics) DropError() {
	if m != nil {
		m.DroppedErrors.Inc()
	}
}

// Reconnect counts a feed reconnection attempt.
func (m *Metrics) Reconnect() {
	if m != nil {
		m.FeedReconnects.Inc()
	}
}

// FanoutDrop counts a value dropped by the named fan-out.
func (m *Metrics) FanoutDrop(bus string) {
	if m != nil {
		m.FanoutDrops.WithLabelValues(bus).Inc()
	}
}

// Saturation records how full a channel is.
func (m *Metrics) Saturation(channel string, length, capacity int) {
	if m == nil || capacity <= 0 {
		return
	}
	m.ChannelSaturation.WithLabelValues(channel).Set(float64(length) / float64(capacity) * 100)
}
