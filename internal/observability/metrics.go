package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reload outcomes recorded by ThreadReloads.
const (
	ReloadApplied    = "applied"
	ReloadStale      = "stale"
	ReloadFailed     = "failed"
	ReloadUnresolved = "unresolved"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colloquy_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colloquy_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// ThreadReloads counts thread reloads by kind and outcome.
	ThreadReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colloquy_thread_reloads_total",
		Help: "Total number of thread reloads by outcome",
	}, []string{"kind", "outcome"})

	// ThreadLoadLatency records how long assembling a thread takes.
	ThreadLoadLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colloquy_thread_load_latency_seconds",
		Help:    "Thread assembly latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// Mutations counts comment and reaction writes by operation and outcome.
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colloquy_mutations_total",
		Help: "Total number of comment/reaction mutations",
	}, []string{"kind", "operation", "outcome"})

	// ChangeEvents counts change-feed events received by table.
	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colloquy_change_events_total",
		Help: "Total number of change feed events received",
	}, []string{"kind", "table"})

	// ChangeFeedErrors counts change-feed transport failures.
	ChangeFeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "colloquy_change_feed_errors_total",
		Help: "Total number of change feed transport failures",
	}, []string{"feed", "operation"})

	// ActiveSubscriptions is the gauge of live thread subscriptions.
	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "colloquy_active_subscriptions",
		Help: "Number of active thread change subscriptions",
	}, []string{"kind"})

	// WebSocketConnections is the gauge of open thread stream sockets.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "colloquy_websocket_connections",
		Help: "Number of open thread stream websocket connections",
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
