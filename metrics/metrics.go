// Package metrics exposes engine and RPC metrics through Prometheus.
package metrics

import (
	"net/http"
	"time"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the engine's MetricsCollector on Prometheus
// counters and histograms.
type Collector struct {
	ops      *prometheus.CounterVec
	errs     *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	opBytes  *prometheus.CounterVec
	searchK  prometheus.Histogram
	txAssets prometheus.Histogram
}

// NewCollector builds and registers the engine collector with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifs",
			Name:      "operations_total",
			Help:      "Engine operations by kind.",
		}, []string{"op"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifs",
			Name:      "operation_errors_total",
			Help:      "Failed engine operations by kind.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aifs",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"op"}),
		opBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aifs",
			Name:      "payload_bytes_total",
			Help:      "Plaintext payload bytes moved by put and get.",
		}, []string{"op"}),
		searchK: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aifs",
			Name:      "search_k",
			Help:      "Requested neighbor counts.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		txAssets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aifs",
			Name:      "commit_assets",
			Help:      "Assets per committed transaction.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	reg.MustRegister(c.ops, c.errs, c.latency, c.opBytes, c.searchK, c.txAssets)
	return c
}

func (c *Collector) record(op string, duration time.Duration, err error) {
	c.ops.WithLabelValues(op).Inc()
	c.latency.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		c.errs.WithLabelValues(op).Inc()
	}
}

func (c *Collector) RecordPut(bytes int, duration time.Duration, err error) {
	c.record("put", duration, err)
	if err == nil {
		c.opBytes.WithLabelValues("put").Add(float64(bytes))
	}
}

func (c *Collector) RecordGet(bytes int, duration time.Duration, err error) {
	c.record("get", duration, err)
	if err == nil {
		c.opBytes.WithLabelValues("get").Add(float64(bytes))
	}
}

func (c *Collector) RecordSearch(k int, duration time.Duration, err error) {
	c.record("search", duration, err)
	c.searchK.Observe(float64(k))
}

func (c *Collector) RecordCommit(assets int, duration time.Duration, err error) {
	c.record("commit", duration, err)
	if err == nil {
		c.txAssets.Observe(float64(assets))
	}
}

func (c *Collector) RecordSnapshot(assets int, duration time.Duration, err error) {
	c.record("snapshot", duration, err)
}

// Registry bundles the daemon's metric sources.
type Registry struct {
	reg    *prometheus.Registry
	Engine *Collector
	GRPC   *grpcprometheus.ServerMetrics
}

// NewRegistry creates a registry with process, Go runtime, engine and
// gRPC server collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	grpcMetrics := grpcprometheus.NewServerMetrics()
	grpcMetrics.EnableHandlingTimeHistogram()
	reg.MustRegister(grpcMetrics)
	return &Registry{
		reg:    reg,
		Engine: NewCollector(reg),
		GRPC:   grpcMetrics,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
