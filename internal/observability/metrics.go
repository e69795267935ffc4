// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chain-reactor/internal/transport"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "chain_reactor"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Transport metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Feed metrics
	HeadsSeen    prometheus.Counter
	PendingSeen  prometheus.Counter
	HighestBlock prometheus.Gauge

	// Task metrics
	TasksSpawned   *prometheus.CounterVec
	TasksRejected  *prometheus.CounterVec
	TasksAborted   *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksPanicked  *prometheus.CounterVec
	LiveTasks      prometheus.Gauge
	UnitLatency    *prometheus.HistogramVec

	// Reaction metrics
	MonitorLatency   *prometheus.HistogramVec
	MonitorErrors    *prometheus.CounterVec
	BundlesSimulated prometheus.Counter
	BundlesSubmitted prometheus.Counter
	BundleReverts    prometheus.Counter
	DecodeErrors     prometheus.Counter

	// Storage metrics
	StoreErrors *prometheus.CounterVec
}

// NewMetrics registers all metrics with reg. An empty namespace uses DefaultNamespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Metrics{
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_errors_total",
			Help:      "JSON-RPC call failures by method and kind",
		}, []string{"method", "kind"}),

		HeadsSeen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "heads_total",
			Help:      "Total number of new block headers received",
		}),
		PendingSeen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "pending_total",
			Help:      "Total number of pending transaction hashes received",
		}),
		HighestBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "highest_block",
			Help:      "Highest block number seen",
		}),

		TasksSpawned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "spawned_total",
			Help:      "Units spawned by kind",
		}, []string{"kind"}),
		TasksRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "rejected_total",
			Help:      "Units rejected because the key was already live",
		}, []string{"kind"}),
		TasksAborted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "aborted_total",
			Help:      "Units aborted by reason",
		}, []string{"reason"}),
		TasksCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Units completed by kind and outcome",
		}, []string{"kind", "outcome"}),
		TasksPanicked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "panicked_total",
			Help:      "Units that terminated abnormally",
		}, []string{"kind"}),
		LiveTasks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "live",
			Help:      "Units currently running",
		}),
		UnitLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "unit_latency_seconds",
			Help:      "Wall time of completed units",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		MonitorLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "latency_seconds",
			Help:      "Monitor processing latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"monitor"}),
		MonitorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "errors_total",
			Help:      "Monitor errors",
		}, []string{"monitor"}),
		BundlesSimulated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "simulated_total",
			Help:      "Bundles simulated with eth_call",
		}),
		BundlesSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "submitted_total",
			Help:      "Bundles signed and broadcast",
		}),
		BundleReverts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "reverts_total",
			Help:      "Bundles whose simulation or estimate reverted",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "decode_errors_total",
			Help:      "Bundle results that failed to decode",
		}),

		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Storage write failures by store",
		}, []string{"store"}),
	}
}

// ObserveCall implements transport.Observer.
func (m *Metrics) ObserveCall(method string, elapsed time.Duration, err error) {
	m.RPCCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	kind := "error"
	var rpcErr *transport.RPCError
	switch {
	case errors.Is(err, transport.ErrTimeout):
		kind = "timeout"
	case errors.As(err, &rpcErr):
		kind = "rpc"
	case errors.Is(err, transport.ErrConnectionLost), errors.Is(err, transport.ErrClosed):
		kind = "connection"
	}
	m.RPCCallErrors.WithLabelValues(method, kind).Inc()
}

var _ transport.Observer = (*Metrics)(nil)

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving only g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// DefaultMetrics is registered with the default Prometheus registry.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)
