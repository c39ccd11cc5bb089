package pipeline

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes.
const (
	outcomeConverted = "converted"
	outcomeUnlabeled = "unlabeled"
	outcomeInvalid   = "invalid"
	outcomeDuplicate = "duplicate"
)

// metrics holds the counters of a single run. Each run owns its registry so
// the textfile only ever describes that run.
type metrics struct {
	registry *prometheus.Registry

	requestOps     *prometheus.CounterVec
	examples       *prometheus.GaugeVec
	labels         prometheus.Gauge
	convertSeconds prometheus.Histogram
	lastRun        prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requestOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ocrtrain",
				Subsystem: "pipeline",
				Name:      "request_ops_total",
				Help:      "The total number of bundle requests by outcome.",
			},
			[]string{"outcome"},
		),
		examples: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "ocrtrain",
				Subsystem: "pipeline",
				Name:      "examples",
				Help:      "The number of examples written per split.",
			},
			[]string{"split"},
		),
		labels: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ocrtrain",
				Subsystem: "pipeline",
				Name:      "labels",
				Help:      "The number of distinct labels.",
			},
		),
		convertSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ocrtrain",
				Subsystem: "pipeline",
				Name:      "convert_duration_seconds",
				Help:      "Time spent reconstructing the text of one request.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ocrtrain",
				Subsystem: "pipeline",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed run.",
			},
		),
	}
	m.registry.MustRegister(m.requestOps, m.examples, m.labels, m.convertSeconds, m.lastRun)
	return m
}

func (m *metrics) recordOutcome(outcome string, n int) {
	m.requestOps.WithLabelValues(outcome).Add(float64(n))
}

func (m *metrics) observeConvert(d time.Duration) {
	m.convertSeconds.Observe(d.Seconds())
}

func (m *metrics) recordResult(res *Result, now time.Time) {
	m.recordOutcome(outcomeConverted, res.Requests-res.Unlabeled-res.Invalid)
	m.recordOutcome(outcomeUnlabeled, res.Unlabeled)
	m.recordOutcome(outcomeInvalid, res.Invalid)
	m.recordOutcome(outcomeDuplicate, res.Duplicates)
	m.examples.WithLabelValues("train").Set(float64(res.Train))
	m.examples.WithLabelValues("test").Set(float64(res.Test))
	m.labels.Set(float64(len(res.Vocabulary)))
	m.lastRun.Set(float64(now.Unix()))
}

// writeTextfile writes the registry in the node exporter textfile format.
func (m *metrics) writeTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
