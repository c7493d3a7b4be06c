package internal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	jobs          *prometheus.CounterVec
	activeJobs    prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	uploadedBytes prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_jobs_total",
			Help: "Finished HLS packaging jobs by outcome",
		}, []string{"outcome"}),
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hls_active_jobs",
			Help: "Number of jobs currently processing on this worker",
		}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hls_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"stage"}),
		uploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "hls_uploaded_bytes_total",
			Help: "Bytes uploaded to the object store",
		}),
	}
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

func (m *Metrics) jobFinished(err error) {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeStage(stage JobState, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addUploadedBytes(n int64) {
	if m == nil {
		return
	}
	m.uploadedBytes.Add(float64(n))
}
