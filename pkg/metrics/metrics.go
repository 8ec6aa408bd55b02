package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current number of jobs by queue and state",
		},
		[]string{"queue", "state"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by class and queue",
		},
		[]string{"class", "queue"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_completed_total",
			Help: "Total number of jobs completed by class",
		},
		[]string{"class"},
	)

	JobsDeadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_dead_total",
			Help: "Total number of jobs that exhausted retries by class",
		},
		[]string{"class"},
	)

	JobsStalledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_jobs_stalled_total",
			Help: "Total number of jobs returned to queued after a lapsed reservation",
		},
		[]string{"queue"},
	)

	JobProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_job_processing_duration_seconds",
			Help:    "Time spent processing a job by class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	// Webhook metrics
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_webhooks_received_total",
			Help: "Total number of webhook deliveries received by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	WebhookSignatureFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_webhook_signature_failures_total",
			Help: "Total number of webhook deliveries rejected for a bad signature",
		},
	)

	// Pool / container metrics
	PoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_pool_size",
			Help: "Current number of sandbox containers by label-set key and state",
		},
		[]string{"label_key", "state"},
	)

	PoolUtilization = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_pool_utilization_ratio",
			Help: "Fraction of pool containers currently allocated",
		},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_containers_total",
			Help: "Total number of sandbox containers by state",
		},
		[]string{"state"},
	)

	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_container_create_duration_seconds",
			Help:    "Time taken to create a sandbox container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_container_start_duration_seconds",
			Help:    "Time taken to start a sandbox container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orchestrator_container_stop_duration_seconds",
			Help:    "Time taken to stop a sandbox container",
			Buckets: prometheus.DefBuckets,
		},
	)

	EvictedStaleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_pool_evicted_stale_total",
			Help: "Total number of pool containers evicted for staleness",
		},
	)

	// Security metrics
	SecurityViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_security_violations_total",
			Help: "Total number of new security violations by severity",
		},
		[]string{"severity"},
	)

	SecurityActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_security_actions_total",
			Help: "Total number of security actions enforced by action",
		},
		[]string{"action"},
	)

	// HA metrics
	HALeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_ha_is_leader",
			Help: "Whether this node currently holds the leader lease (1 = leader, 0 = follower)",
		},
	)

	HALeaderGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_ha_leader_generation",
			Help: "Current leader lease generation number",
		},
	)

	HAComponentHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orchestrator_ha_component_health",
			Help: "Health state of a supervised dependency (0=unhealthy,1=degraded,2=healthy)",
		},
		[]string{"component"},
	)

	HAFailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_ha_failovers_total",
			Help: "Total number of failovers performed by component",
		},
		[]string{"component"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	APIRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_api_rate_limited_total",
			Help: "Total number of requests rejected for exceeding the rate limit",
		},
		[]string{"scope"},
	)

	// Event bus metrics
	EventBusDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_eventbus_dropped_total",
			Help: "Total number of events dropped because a subscriber's buffer was full",
		},
		[]string{"event_type"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		JobsEnqueuedTotal,
		JobsCompletedTotal,
		JobsDeadTotal,
		JobsStalledTotal,
		JobProcessingDuration,
		WebhooksReceivedTotal,
		WebhookSignatureFailuresTotal,
		PoolSize,
		PoolUtilization,
		ContainersTotal,
		ContainerCreateDuration,
		ContainerStartDuration,
		ContainerStopDuration,
		EvictedStaleTotal,
		SecurityViolationsTotal,
		SecurityActionsTotal,
		HALeader,
		HALeaderGeneration,
		HAComponentHealth,
		HAFailoversTotal,
		APIRequestsTotal,
		APIRequestDuration,
		APIRateLimitedTotal,
		EventBusDroppedTotal,
	)
}

// Handler returns the Prometheus HTTP handler, mounted at /api/metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
