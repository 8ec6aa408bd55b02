// Package queue implements the Job Queue Engine (C5) and Job Router (C6):
// six named queues with priority ordering, typed retry/backoff, per-queue
// worker pools, stalled-reservation sweeping, startup recovery, and cron
// scheduling.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/ciorch/pkg/types"
)

// Queue names, matching §6 exactly.
const (
	QueueJobExecution         = "JOB_EXECUTION"
	QueueContainerManagement  = "CONTAINER_MANAGEMENT"
	QueueMonitoring           = "MONITORING"
	QueueWebhookProcessing    = "WEBHOOK_PROCESSING"
	QueueCleanup              = "CLEANUP"
	QueueMetricsCollection    = "METRICS_COLLECTION"
)

// AllQueues lists every named queue, in a stable order used for
// recovery and for Prometheus gauge initialization.
var AllQueues = []string{
	QueueJobExecution,
	QueueContainerManagement,
	QueueMonitoring,
	QueueWebhookProcessing,
	QueueCleanup,
	QueueMetricsCollection,
}

// Router is the pure function (jobClass, payload) -> (queue, priority,
// retryPolicy), implemented as the deterministic table from §4.5/§4.6.
type Router struct{}

// NewRouter builds a Router. It is stateless; a single instance may be
// shared across every caller.
func NewRouter() *Router { return &Router{} }

// webhookPayload is the minimal shape the router inspects to decide
// priority for a process_webhook job; the rest of the body is forwarded
// opaquely.
type webhookPayload struct {
	EventType string `json:"event_type"`
	Workflow  string `json:"workflow,omitempty"`
}

// RouteWebhook implements webhook.Router: it wraps the raw delivery body
// into a process_webhook job, with priority derived from the event type.
func (r *Router) RouteWebhook(eventType, repository string, payload []byte) (*types.Job, error) {
	wrapped, err := json.Marshal(struct {
		EventType  string          `json:"event_type"`
		Repository string          `json:"repository"`
		Body       json.RawMessage `json:"body"`
	}{EventType: eventType, Repository: repository, Body: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal process_webhook payload: %w", err)
	}

	job := &types.Job{
		Class:   types.JobProcessWebhook,
		Payload: wrapped,
	}
	r.apply(job, processWebhookPriority(eventType))
	job.RetryPolicy = types.RetryPolicy{
		Strategy:          types.RetryFixed,
		BaseDelay:         1 * time.Second,
		MaxAttempts:       3,
		NonRetryableKinds: []string{"invalid_signature", "malformed_payload"},
	}
	return job, nil
}

func processWebhookPriority(eventType string) types.Priority {
	switch eventType {
	case "workflow_job":
		return types.PriorityCritical
	case "workflow_run", "check_run":
		return types.PriorityHigh
	case "pull_request", "push":
		return types.PriorityNormal
	default:
		return types.PriorityLow
	}
}

// workflowJobPayload is the minimal shape inspected to price an
// execute_workflow job.
type workflowJobPayload struct {
	Workflow string `json:"workflow"`
	Event    string `json:"event"`
}

// alertPayload is the minimal shape inspected to price a send_alert job.
type alertPayload struct {
	Severity string `json:"severity"`
}

// Route assigns queue/priority/retry policy to a non-webhook job class
// given its already-built payload. Callers that construct a Job directly
// (job classes other than process_webhook, which goes through
// RouteWebhook) must call this before enqueuing.
func (r *Router) Route(job *types.Job) error {
	switch job.Class {
	case types.JobExecuteWorkflow:
		var p workflowJobPayload
		_ = json.Unmarshal(job.Payload, &p)
		r.apply(job, executeWorkflowPriority(p))
		job.RetryPolicy = types.RetryPolicy{
			Strategy: types.RetryExponential, BaseDelay: 5 * time.Second, Multiplier: 2, MaxDelay: 60 * time.Second,
			MaxAttempts: 3,
			NonRetryableKinds: []string{
				"invalid_workflow_configuration", "authentication_failed", "repository_not_found",
			},
		}

	case types.JobPrepareRunner:
		r.apply(job, types.PriorityHigh)
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryFixed, BaseDelay: 2 * time.Second, MaxAttempts: 5}

	case types.JobCleanupRunner:
		r.apply(job, types.PriorityLow)
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryFixed, BaseDelay: 5 * time.Second, MaxAttempts: 2, InitialDelay: 30 * time.Second}

	case types.JobCreateContainer:
		urgent := strings.Contains(string(job.Payload), `"urgent":true`)
		if urgent {
			r.apply(job, types.PriorityHigh)
		} else {
			r.apply(job, types.PriorityNormal)
		}
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryExponential, BaseDelay: 3 * time.Second, Multiplier: 1.5, MaxAttempts: 3}

	case types.JobDestroyContainer:
		r.apply(job, types.PriorityNormal)
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryLinear, BaseDelay: 1 * time.Second, Multiplier: 1, MaxAttempts: 5}

	case types.JobHealthCheck:
		r.apply(job, types.PriorityLow)
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryFixed, BaseDelay: 0, MaxAttempts: 1}

	case types.JobCollectMetrics:
		job.Queue = QueueMetricsCollection
		r.setPriority(job, types.PriorityNormal)
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryFixed, BaseDelay: 60 * time.Second, MaxAttempts: 2}

	case types.JobSendAlert:
		var p alertPayload
		_ = json.Unmarshal(job.Payload, &p)
		job.Queue = QueueMonitoring
		r.setPriority(job, alertSeverityPriority(p.Severity))
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryExponential, BaseDelay: 1 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second, MaxAttempts: 5}

	case types.JobUpdateStatus:
		job.Queue = QueueMonitoring
		r.setPriority(job, types.PriorityHigh)
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryFixed, BaseDelay: 1 * time.Second, MaxAttempts: 3}

	case types.JobSyncExternalData:
		job.Queue = QueueWebhookProcessing
		r.setPriority(job, types.PriorityLow)
		job.RetryPolicy = types.RetryPolicy{
			Strategy: types.RetryExponential, BaseDelay: 10 * time.Second, Multiplier: 2, MaxDelay: 5 * time.Minute,
			MaxAttempts:    5,
			RetryableKinds: []string{"rate_limit", "network_error"},
		}

	case types.JobCleanupOldJobs, types.JobCleanupContainers, types.JobCleanupLogs:
		job.Queue = QueueCleanup
		r.setPriority(job, types.PriorityLow)
		job.RetryPolicy = types.RetryPolicy{Strategy: types.RetryFixed, BaseDelay: 30 * time.Second, MaxAttempts: 2}

	default:
		return fmt.Errorf("no route for job class %q", job.Class)
	}

	return nil
}

func executeWorkflowPriority(p workflowJobPayload) types.Priority {
	w := strings.ToLower(p.Workflow)
	switch {
	case strings.Contains(w, "deploy"), strings.Contains(w, "hotfix"):
		return types.PriorityCritical
	case p.Event == "pull_request":
		return types.PriorityHigh
	case p.Event == "push":
		return types.PriorityNormal
	default:
		return types.PriorityLow
	}
}

func alertSeverityPriority(severity string) types.Priority {
	switch types.Severity(severity) {
	case types.SeverityCritical:
		return types.PriorityCritical
	case types.SeverityHigh:
		return types.PriorityHigh
	case types.SeverityMedium:
		return types.PriorityNormal
	default:
		return types.PriorityLow
	}
}

// apply sets the standard execution-class queue (JOB_EXECUTION,
// CONTAINER_MANAGEMENT, or WEBHOOK_PROCESSING based on job.Class) plus
// priority.
func (r *Router) apply(job *types.Job, priority types.Priority) {
	switch job.Class {
	case types.JobExecuteWorkflow, types.JobPrepareRunner, types.JobCleanupRunner:
		job.Queue = QueueJobExecution
	case types.JobCreateContainer, types.JobDestroyContainer, types.JobHealthCheck:
		job.Queue = QueueContainerManagement
	case types.JobProcessWebhook:
		job.Queue = QueueWebhookProcessing
	}
	r.setPriority(job, priority)
}

func (r *Router) setPriority(job *types.Job, priority types.Priority) {
	job.Priority = priority
}
