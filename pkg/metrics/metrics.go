package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/yuridevx/proxyhub/domain"
)

type Metrics struct {
	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	importLines   *prometheus.CounterVec
	inflight      prometheus.Gauge
}

// New registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxyhub",
			Name:      "probes_total",
			Help:      "Proxy probes by scheme and outcome.",
		}, []string{"scheme", "status"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proxyhub",
			Name:      "probe_duration_seconds",
			Help:      "Wall time of a single proxy probe.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 30, 45},
		}, []string{"status"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "proxyhub",
			Name:      "test_batches_total",
			Help:      "Batch health checks run.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "proxyhub",
			Name:      "test_batch_duration_seconds",
			Help:      "Wall time of a batch health check.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		importLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxyhub",
			Name:      "import_lines_total",
			Help:      "Imported lines by result.",
		}, []string{"result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "proxyhub",
			Name:      "probes_inflight",
			Help:      "Probes currently holding a concurrency slot.",
		}),
	}
	reg.MustRegister(m.probes, m.probeDuration, m.batches, m.batchDuration, m.importLines, m.inflight)
	return m
}

// All recorders accept a nil *Metrics so tests can run without a registry.

func (m *Metrics) ObserveProbe(scheme domain.Scheme, r domain.ProbeResult, took time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(string(scheme), string(r.Status)).Inc()
	m.probeDuration.WithLabelValues(string(r.Status)).Observe(took.Seconds())
}

func (m *Metrics) ObserveBatch(took time.Duration) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchDuration.Observe(took.Seconds())
}

func (m *Metrics) ImportLine(result string) {
	if m == nil {
		return
	}
	m.importLines.WithLabelValues(result).Inc()
}

func (m *Metrics) ProbeStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) ProbeFinished() {
	if m != nil {
		m.inflight.Dec()
	}
}
