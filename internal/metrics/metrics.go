// Package metrics holds the Prometheus instruments of the irrigation service.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "irrigationwx"

// Metrics holds the Prometheus counters, histograms, and gauges of the service.
type Metrics struct {
	JobRuns     *prometheus.CounterVec   // labels: job={weekly_et0,daily_balance,verdict}, outcome={success,error}
	JobDuration *prometheus.HistogramVec // labels: job

	WeeklyEt0MM  prometheus.Gauge
	BucketMM     *prometheus.GaugeVec // labels: zone
	BucketFill   *prometheus.GaugeVec // labels: zone
	Credits      *prometheus.CounterVec // labels: kind={global,zone}, outcome={captured,duplicate,error}
	SwitchEvents *prometheus.CounterVec // labels: state
	Verdicts     *prometheus.CounterVec // labels: judgment, result
}

func newMetrics() *Metrics {
	return &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"job"}),
		WeeklyEt0MM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weekly_et0_mm",
			Help:      "Reference evapotranspiration summed over the last seven days.",
		}),
		BucketMM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "soil_bucket_mm",
			Help:      "Water stored in the root zone of each irrigation zone.",
		}, []string{"zone"}),
		BucketFill: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "soil_bucket_fill_ratio",
			Help:      "Stored water as a fraction of total available water.",
		}, []string{"zone"}),
		Credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "irrigation_credits_total",
			Help:      "Irrigation credits by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SwitchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switch_events_total",
			Help:      "Switch events read from the message bus.",
		}, []string{"state"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Watering verdicts by how they were reached and their result.",
		}, []string{"judgment", "result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.JobRuns, m.JobDuration, m.WeeklyEt0MM, m.BucketMM, m.BucketFill,
		m.Credits, m.SwitchEvents, m.Verdicts,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting registers the metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m, reg
}

// ObserveJob records one run of job
func (m *Metrics) ObserveJob(job string, seconds float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(seconds)
}

// ObserveBucket sets the gauges of one zone
func (m *Metrics) ObserveBucket(zone string, sMM, tawMM float64) {
	m.BucketMM.WithLabelValues(zone).Set(sMM)
	if tawMM > 0 {
		m.BucketFill.WithLabelValues(zone).Set(sMM / tawMM)
	}
}

// ObserveVerdict counts one verdict
func (m *Metrics) ObserveVerdict(judgment string, result bool) {
	m.Verdicts.WithLabelValues(judgment, strconv.FormatBool(result)).Inc()
}
