// Package metrics exposes Prometheus instrumentation for the sequencing core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sequencer's Prometheus collectors.
type Metrics struct {
	AdmittedTotal    *prometheus.CounterVec
	RejectedTotal    *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	QueueBytes       prometheus.Gauge
	BlocksTotal      prometheus.Counter
	EntriesTotal     prometheus.Counter
	AppendFailures   prometheus.Counter
	TipHeight        prometheus.Gauge
	AssemblyDuration prometheus.Histogram
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seqd",
			Name:      "admitted_total",
			Help:      "Submissions admitted to the queue, by kind.",
		}, []string{"kind"}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seqd",
			Name:      "rejected_total",
			Help:      "Submissions rejected at admission, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seqd",
			Name:      "queue_depth",
			Help:      "Entries currently staged in the submission queue.",
		}),
		QueueBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seqd",
			Name:      "queue_bytes",
			Help:      "Payload bytes currently staged in the submission queue.",
		}),
		BlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqd",
			Name:      "blocks_total",
			Help:      "Blocks appended to the block log.",
		}),
		EntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqd",
			Name:      "entries_total",
			Help:      "Entries sequenced into blocks.",
		}),
		AppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seqd",
			Name:      "append_failures_total",
			Help:      "Block log append failures.",
		}),
		TipHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seqd",
			Name:      "tip_height",
			Help:      "Height of the newest block in the log.",
		}),
		AssemblyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "seqd",
			Name:      "assembly_duration_seconds",
			Help:      "Time spent draining the queue and appending a block.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.AdmittedTotal,
		m.RejectedTotal,
		m.QueueDepth,
		m.QueueBytes,
		m.BlocksTotal,
		m.EntriesTotal,
		m.AppendFailures,
		m.TipHeight,
		m.AssemblyDuration,
	)
	return m
}

// NewNop creates unregistered collectors, for tests that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
