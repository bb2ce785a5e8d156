// Package monitoring exposes pipeline metrics over /metrics.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lorebook/lorebook/internal/jobs"
)

// Metrics holds the prometheus collectors shared across the pipeline.
// It implements jobs.Observer so every consumer reports outcomes here.
type Metrics struct {
	jobsProcessed *prometheus.CounterVec
	connections   prometheus.Gauge
	broadcasts    prometheus.Counter
}

var _ jobs.Observer = (*Metrics)(nil)

// NewMetrics registers the pipeline collectors with the default registerer
func NewMetrics() *Metrics {
	return &Metrics{
		jobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lorebook",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Jobs processed, partitioned by queue and result.",
		}, []string{"queue", "result"}),
		connections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "lorebook",
			Subsystem: "fanout",
			Name:      "connections",
			Help:      "Currently open WebSocket connections.",
		}),
		broadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lorebook",
			Subsystem: "fanout",
			Name:      "broadcasts_total",
			Help:      "Messages broadcast to connected clients.",
		}),
	}
}

// JobProcessed implements jobs.Observer
func (m *Metrics) JobProcessed(queue jobs.Queue, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.jobsProcessed.WithLabelValues(string(queue), result).Inc()
}

// ConnectionOpened increments the live connection gauge
func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
}

// ConnectionClosed decrements the live connection gauge
func (m *Metrics) ConnectionClosed() {
	m.connections.Dec()
}

// Broadcast counts one fanout delivery cycle
func (m *Metrics) Broadcast() {
	m.broadcasts.Inc()
}
