package refresh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes coordinator activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	scans    *prometheus.CounterVec
	requests *prometheus.CounterVec
	duration prometheus.Histogram
	records  prometheus.Gauge
	failures prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portscope",
			Name:      "scans_total",
			Help:      "Completed port scans by result (ok, error, discarded).",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portscope",
			Name:      "refresh_requests_total",
			Help:      "Refresh requests by outcome (scheduled, coalesced, ignored).",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "portscope",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a full scan including metadata resolution.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portscope",
			Name:      "listening_ports",
			Help:      "Records in the most recent published snapshot.",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portscope",
			Name:      "consecutive_scan_failures",
			Help:      "Scans that failed in a row.",
		}),
	}
	reg.MustRegister(m.scans, m.requests, m.duration, m.records, m.failures)
	return m
}

func (m *Metrics) request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observe(elapsed time.Duration, err error, discarded bool, records, failures int) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	m.failures.Set(float64(failures))
	switch {
	case discarded:
		m.scans.WithLabelValues("discarded").Inc()
	case err != nil:
		m.scans.WithLabelValues("error").Inc()
	default:
		m.scans.WithLabelValues("ok").Inc()
		m.records.Set(float64(records))
	}
}
