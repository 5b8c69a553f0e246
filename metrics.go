package aifs

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordPut is called after each put operation.
	// bytes is the plaintext payload size, err is nil if successful.
	RecordPut(bytes int, duration time.Duration, err error)

	// RecordGet is called after each get operation that fetched data.
	RecordGet(bytes int, duration time.Duration, err error)

	// RecordSearch is called after each vector search.
	// k is the number of neighbors requested.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordCommit is called after each transaction commit attempt.
	// assets is the number of assets the transaction carried.
	RecordCommit(assets int, duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot creation attempt.
	RecordSnapshot(assets int, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics. Used when no collector is
// configured.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPut(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordGet(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordCommit(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordSnapshot(int, time.Duration, error) {}

// SimpleMetricsCollector counts operations and errors with atomics.
// Useful for tests and lightweight embedding without a metrics backend.
type SimpleMetricsCollector struct {
	Puts      atomic.Uint64
	Gets      atomic.Uint64
	Searches  atomic.Uint64
	Commits   atomic.Uint64
	Snapshots atomic.Uint64
	Errors    atomic.Uint64
}

func (c *SimpleMetricsCollector) record(counter *atomic.Uint64, err error) {
	counter.Add(1)
	if err != nil {
		c.Errors.Add(1)
	}
}

func (c *SimpleMetricsCollector) RecordPut(_ int, _ time.Duration, err error) {
	c.record(&c.Puts, err)
}

func (c *SimpleMetricsCollector) RecordGet(_ int, _ time.Duration, err error) {
	c.record(&c.Gets, err)
}

func (c *SimpleMetricsCollector) RecordSearch(_ int, _ time.Duration, err error) {
	c.record(&c.Searches, err)
}

func (c *SimpleMetricsCollector) RecordCommit(_ int, _ time.Duration, err error) {
	c.record(&c.Commits, err)
}

func (c *SimpleMetricsCollector) RecordSnapshot(_ int, _ time.Duration, err error) {
	c.record(&c.Snapshots, err)
}
