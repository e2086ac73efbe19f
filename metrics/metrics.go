package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tutortoise/yolo-overlay-service/models"
)

const namespace = "overlay"

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	failures       *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	lastDetections prometheus.Gauge
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Pipeline cycles by outcome",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Failed pipeline cycles by error kind",
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of successful pipeline cycles",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
		lastDetections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_detections",
			Help:      "Detections reported by the most recent successful cycle",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.failures,
		m.cycleDuration,
		m.stageDuration,
		m.lastDetections,
	)
	return m
}

// ObserveCycle records a successful cycle.
func (m *Metrics) ObserveCycle(s *models.Snapshot) {
	if m == nil || s == nil {
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
	m.cycleDuration.Observe(s.Timings.Total.Seconds())
	m.lastDetections.Set(float64(len(s.Detections)))

	t := s.Timings
	m.stageDuration.WithLabelValues("capture").Observe(t.Capture.Seconds())
	m.stageDuration.WithLabelValues("resize").Observe(t.Resize.Seconds())
	m.stageDuration.WithLabelValues("inference").Observe(t.Inference.Seconds())
	m.stageDuration.WithLabelValues("decode").Observe(t.Decode.Seconds())
	m.stageDuration.WithLabelValues("suppress").Observe(t.Suppress.Seconds())
	m.stageDuration.WithLabelValues("render").Observe(t.Render.Seconds())
}

// CycleFailed records a failed cycle under kind.
func (m *Metrics) CycleFailed(kind string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("error").Inc()
	m.failures.WithLabelValues(kind).Inc()
}

// RegisterGaugeFunc exposes a value read at scrape time.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
