package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidems/murmur/internal/jobs"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	WebhookDecisions *prometheus.CounterVec
	WebhookLatency   prometheus.Histogram
	JobsProcessed    *prometheus.CounterVec
	JobDuration      prometheus.Histogram
	PendingJobs      prometheus.Gauge
	RetryJobs        prometheus.Gauge
	TrackedSessions  prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		WebhookDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_decisions_total",
			Help:      "Webhook batches by engagement decision reason.",
		}, []string{"reason"}),
		WebhookLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_latency_ms",
			Help:      "Webhook handling latency in milliseconds.",
			Buckets:   []float64{5, 20, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 12000},
		}),
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Background jobs by type and outcome.",
		}, []string{"type", "outcome"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_ms",
			Help:      "Background job execution time in milliseconds.",
			Buckets:   []float64{1, 5, 20, 50, 100, 250, 500, 1000, 2500},
		}),
		PendingJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_depth",
			Help:      "Jobs waiting in the background queue.",
		}),
		RetryJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_retry_queue_depth",
			Help:      "Jobs waiting on a retry backoff timer.",
		}),
		TrackedSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_sessions",
			Help:      "Sessions with live activation state.",
		}),
	}
}

// JobDone implements the queue's observer.
func (m *Metrics) JobDone(jobType jobs.Type, outcome string, elapsed time.Duration) {
	m.JobsProcessed.WithLabelValues(string(jobType), outcome).Inc()
	m.JobDuration.Observe(float64(elapsed.Milliseconds()))
}

// QueueDepth implements the queue's observer.
func (m *Metrics) QueueDepth(pending, retryScheduled int) {
	m.PendingJobs.Set(float64(pending))
	m.RetryJobs.Set(float64(retryScheduled))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
