/*
Package metrics defines and registers every Prometheus metric the orchestrator
exposes, giving operators observability into queue depth, container pool
utilization, webhook ingestion, security enforcement, HA failover state, and
API traffic. Metrics are exposed via HTTP for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Queue: depth, enqueued/completed/dead       │          │
	│  │  Webhook: received, signature failures       │          │
	│  │  Pool: size, utilization, container lifecycle│         │
	│  │  Security: violations, enforced actions      │          │
	│  │  HA: leader state, component health, failovers│         │
	│  │  API: requests, duration, rate limiting      │          │
	│  │  Event bus: dropped events                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Handler: metrics.Handler()                │          │
	│  │  - Format: Prometheus text exposition        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Queue:

orchestrator_queue_depth{queue, state}:
  - Gauge. Current number of jobs by queue and state.

orchestrator_jobs_enqueued_total{class, queue}:
  - Counter. Total jobs enqueued by class and queue.

orchestrator_jobs_completed_total{class}:
  - Counter. Total jobs completed by class.

orchestrator_jobs_dead_total{class}:
  - Counter. Total jobs that exhausted retries by class.

orchestrator_jobs_stalled_total{queue}:
  - Counter. Total jobs returned to queued after a lapsed reservation.

orchestrator_job_processing_duration_seconds{class}:
  - Histogram. Time spent processing a job by class.

Webhook:

orchestrator_webhooks_received_total{event_type, outcome}:
  - Counter. Total webhook deliveries received by event type and outcome.

orchestrator_webhook_signature_failures_total:
  - Counter. Total webhook deliveries rejected for a bad signature.

Pool:

orchestrator_pool_size{label_key, state}:
  - Gauge. Current sandbox containers by label-set key and state.

orchestrator_pool_utilization_ratio:
  - Gauge. Fraction of pool containers currently allocated.

orchestrator_containers_total{state}:
  - Gauge. Total sandbox containers by state.

orchestrator_container_create_duration_seconds:
orchestrator_container_start_duration_seconds:
orchestrator_container_stop_duration_seconds:
  - Histograms. Time taken for each container lifecycle transition.

orchestrator_pool_evicted_stale_total:
  - Counter. Total pool containers evicted for staleness.

Security:

orchestrator_security_violations_total{severity}:
  - Counter. Total new security violations by severity.

orchestrator_security_actions_total{action}:
  - Counter. Total security actions enforced by action.

HA:

orchestrator_ha_is_leader:
  - Gauge. Whether this node currently holds the leader lease.

orchestrator_ha_leader_generation:
  - Gauge. Current leader lease generation number.

orchestrator_ha_component_health{component}:
  - Gauge. Health state of a supervised dependency (0=unhealthy, 1=degraded, 2=healthy).

orchestrator_ha_failovers_total{component}:
  - Counter. Total failovers performed by component.

API:

orchestrator_api_requests_total{method, route, status}:
  - Counter. Total API requests by method, route, and status.

orchestrator_api_request_duration_seconds{route}:
  - Histogram. API request duration in seconds.

orchestrator_api_rate_limited_total{scope}:
  - Counter. Total requests rejected for exceeding the rate limit.

Event bus:

orchestrator_eventbus_dropped_total{event_type}:
  - Counter. Total events dropped because a subscriber's buffer was full.

# Usage

	import "github.com/cuemby/ciorch/pkg/metrics"

	metrics.JobsEnqueuedTotal.WithLabelValues("execute_workflow", "JOB_EXECUTION").Inc()
	metrics.PoolUtilization.Set(0.73)

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ContainerCreateDuration)
	timer.ObserveDurationVec(metrics.APIRequestDuration, "/v1/jobs")

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/queue: queue depth, job lifecycle, and processing-duration metrics
  - pkg/pool: container pool size, utilization, and lifecycle durations
  - pkg/security: violation and enforcement-action counters
  - pkg/ha: leader state, component health, and failover counters
  - pkg/api: request count, duration, and rate-limit rejection counters
  - pkg/events: dropped-event counters
  - Prometheus: scrapes the exposed handler

# Design Patterns

Package Init Registration:
  - All metrics registered in init() via MustRegister.
  - MustRegister panics on duplicate registration, surfacing the mistake at
    process start rather than at scrape time.

Label Discipline:
  - Labels are bounded enums (queue name, job class, severity, component),
    never free-form IDs, to keep cardinality low.

Timer Pattern:
  - NewTimer at operation start, ObserveDuration/ObserveDurationVec at the end.
*/
package metrics
