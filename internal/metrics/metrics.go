// Package metrics exposes Prometheus collectors for the automation
// pipeline. Collectors are registered on the default registry via
// promauto and served by the ops HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCycles counts completed poll cycles by outcome ("ok" or
	// "error").
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpilot_poll_cycles_total",
			Help: "Total number of inbox poll cycles, by outcome",
		},
		[]string{"status"},
	)

	// MessagesProcessed counts inbound messages by automation outcome
	// ("auto_replied", "escalated", "duplicate", "error").
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpilot_messages_processed_total",
			Help: "Total number of inbound messages processed, by outcome",
		},
		[]string{"outcome"},
	)

	// PollCycleDuration observes the wall time of each poll cycle.
	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailpilot_poll_cycle_duration_seconds",
			Help:    "Duration of inbox poll cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
	)

	// GenerationLatency observes draft generation calls by result
	// ("ok", "escalate", "unavailable").
	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailpilot_generation_latency_seconds",
			Help:    "Latency of draft generation calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
		},
		[]string{"status"},
	)

	// ConsecutivePollFailures tracks the current run of failed cycles;
	// reset to zero on the first success.
	ConsecutivePollFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailpilot_consecutive_poll_failures",
			Help: "Number of consecutive failed poll cycles",
		},
	)
)

// RecordCycle records one completed poll cycle.
func RecordCycle(status string, duration time.Duration) {
	PollCycles.WithLabelValues(status).Inc()
	PollCycleDuration.Observe(duration.Seconds())
}

// RecordMessage records one processed inbound message.
func RecordMessage(outcome string) {
	MessagesProcessed.WithLabelValues(outcome).Inc()
}

// RecordGeneration records one draft generation call.
func RecordGeneration(status string, duration time.Duration) {
	GenerationLatency.WithLabelValues(status).Observe(duration.Seconds())
}

// SetConsecutiveFailures updates the failed-cycle gauge.
func SetConsecutiveFailures(n int) {
	ConsecutivePollFailures.Set(float64(n))
}
