package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures relay worker counters and latencies.
type Metrics interface {
	IncJobsReceived(operation string)
	IncJobsCompleted(operation, status string)
	IncFailures(operation, kind string)
	ObserveUpstreamLatency(operation string, durationSeconds float64)
	ObserveReadinessWait(durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncJobsReceived(string)                 {}
func (Noop) IncJobsCompleted(string, string)        {}
func (Noop) IncFailures(string, string)             {}
func (Noop) ObserveUpstreamLatency(string, float64) {}
func (Noop) ObserveReadinessWait(float64)           {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	jobsReceived    *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	failures        *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	readinessWait   prometheus.Histogram
	once            sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		jobsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_received_total",
			Help:      "Jobs received by operation",
		}, []string{"operation"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs completed by operation and status",
		}, []string{"operation", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Job failures by operation and error kind",
		}, []string{"operation", "kind"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream request latency by operation",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"operation"}),
		readinessWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "readiness_wait_seconds",
			Help:      "Time spent waiting for the upstream service to become ready",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.jobsReceived, p.jobsCompleted, p.failures, p.upstreamLatency, p.readinessWait)
	})
}

func (p *Prom) IncJobsReceived(operation string) {
	p.jobsReceived.WithLabelValues(operation).Inc()
}

func (p *Prom) IncJobsCompleted(operation, status string) {
	p.jobsCompleted.WithLabelValues(operation, status).Inc()
}

func (p *Prom) IncFailures(operation, kind string) {
	p.failures.WithLabelValues(operation, kind).Inc()
}

func (p *Prom) ObserveUpstreamLatency(operation string, durationSeconds float64) {
	p.upstreamLatency.WithLabelValues(operation).Observe(durationSeconds)
}

func (p *Prom) ObserveReadinessWait(durationSeconds float64) {
	p.readinessWait.Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
