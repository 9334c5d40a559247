// Package metrics provides Prometheus instrumentation for honeyguard.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "honeyguard"

var (
	// EventsProcessed counts command events accepted into a session buffer.
	EventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Command events normalized and buffered.",
	})

	// EventsDropped counts log lines dropped before buffering, by reason.
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Log lines dropped at ingest by reason.",
	}, []string{"reason"})

	// BufferedSessions tracks sessions currently holding unclassified commands.
	BufferedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffered_sessions",
		Help:      "Sessions with buffered, unclassified commands.",
	})

	// ClassificationsTotal counts classifier calls by outcome ("ok" or a failure reason).
	ClassificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classifications_total",
		Help:      "Classifier calls by outcome.",
	}, []string{"outcome"})

	// ClassificationDuration observes classifier round-trip latency.
	ClassificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "classification_duration_seconds",
		Help:      "Classifier round-trip latency in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	})

	// RiskScores observes risk scores returned by the classifier.
	RiskScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Risk scores returned by the classifier.",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	})

	// DecisionsTotal counts enforcement decisions by outcome.
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Enforcement decisions by outcome.",
	}, []string{"outcome"})

	// BlockActionFailures counts block actions that returned an error. The
	// address is still recorded as blocked.
	BlockActionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "block_action_failures_total",
		Help:      "External block actions that failed; the address is still recorded.",
	})

	// PersistenceFailures counts failed durable writes by store.
	PersistenceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_failures_total",
		Help:      "Failed durable writes by store.",
	}, []string{"store"})

	// RegistrySize tracks the number of blocked addresses.
	RegistrySize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_size",
		Help:      "Addresses recorded in the block registry.",
	})

	// PublishDropped counts live publications dropped by publisher.
	PublishDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_dropped_total",
		Help:      "Live publications dropped or failed by publisher.",
	}, []string{"publisher"})

	// WebSocketClients tracks connected live-stream consumers.
	WebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected WebSocket consumers.",
	})

	// ConfigReloads counts successful configuration reloads.
	ConfigReloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "config_reloads_total",
		Help:      "Successful configuration reloads.",
	})
)

func init() {
	prometheus.MustRegister(
		EventsProcessed,
		EventsDropped,
		BufferedSessions,
		ClassificationsTotal,
		ClassificationDuration,
		RiskScores,
		DecisionsTotal,
		BlockActionFailures,
		PersistenceFailures,
		RegistrySize,
		PublishDropped,
		WebSocketClients,
		ConfigReloads,
	)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer builds the metrics HTTP server
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
