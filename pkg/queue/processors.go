package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/runtime"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// Allocator is the Container Pool (C7) surface the CONTAINER_MANAGEMENT
// processors need: requesting a fresh sandbox for a label profile and
// quarantining one that fails health checks.
type Allocator interface {
	Request(ctx context.Context, labels map[string]string, repo string, priority types.Priority) (*types.Container, error)
	Release(ctx context.Context, containerID string) error
	Quarantine(ctx context.Context, containerID string) error
}

type createContainerPayload struct {
	Labels map[string]string `json:"labels"`
	Repo   string            `json:"repo"`
}

// NewContainerManagementProcessor dispatches create_container,
// destroy_container, and health_check jobs onto the Container Pool and
// runtime engine.
func NewContainerManagementProcessor(pool Allocator, eng runtime.Engine, st store.Store) Processor {
	logger := log.WithComponent("queue.container_management")
	tracker := newHealthTracker()
	return ProcessorFunc(func(ctx context.Context, job *types.Job) error {
		switch job.Class {
		case types.JobCreateContainer:
			var p createContainerPayload
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return orcherr.Validation("malformed create_container payload: %v", err)
			}
			c, err := pool.Request(ctx, p.Labels, p.Repo, job.Priority)
			if err != nil {
				return err
			}
			// Pre-warming, not a hand-off to a waiting job: return the
			// fresh sandbox to the idle pool immediately.
			return pool.Release(ctx, c.ID)

		case types.JobDestroyContainer:
			return destroyContainer(ctx, job, eng, st, logger)

		case types.JobHealthCheck:
			return runHealthCheck(ctx, job, eng, pool, st, tracker, logger)

		default:
			return orcherr.Internal(nil, "container management processor cannot handle class %s", job.Class)
		}
	})
}

type containerIDPayload struct {
	ContainerID string `json:"container_id"`
}

func destroyContainer(ctx context.Context, job *types.Job, eng runtime.Engine, st store.Store, logger zerolog.Logger) error {
	var p containerIDPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return orcherr.Validation("malformed destroy_container payload: %v", err)
	}
	if err := eng.StopContainer(ctx, p.ContainerID, 10*time.Second); err != nil {
		logger.Warn().Err(err).Str("container_id", p.ContainerID).Msg("stop before destroy failed, continuing to delete")
	}
	if err := eng.DeleteContainer(ctx, p.ContainerID); err != nil {
		return orcherr.DependencyUnavailable(err, "delete container %s", p.ContainerID)
	}
	return st.DeleteContainer(ctx, p.ContainerID)
}

// NewMonitoringProcessor dispatches collect_metrics, send_alert, and
// update_status jobs.
func NewMonitoringProcessor(st store.Store, queueDepths func(ctx context.Context) (map[string]int, error), poolUtilization func(ctx context.Context) (float64, error)) Processor {
	logger := log.WithComponent("queue.monitoring")
	return ProcessorFunc(func(ctx context.Context, job *types.Job) error {
		switch job.Class {
		case types.JobCollectMetrics:
			return collectMetrics(ctx, st, queueDepths, poolUtilization)

		case types.JobSendAlert:
			return sendAlert(ctx, job, st)

		case types.JobUpdateStatus:
			// Mirrors job/runner status back to the hosting service.
			// No external client is wired in this module (see DESIGN.md);
			// the local side of the transition is already durable by the
			// time this job runs, so this is a deliberate no-op.
			logger.Debug().Str("job_id", job.SourceEventID).Msg("update_status has no external client wired, skipping")
			return nil

		default:
			return orcherr.Internal(nil, "monitoring processor cannot handle class %s", job.Class)
		}
	})
}

func collectMetrics(ctx context.Context, st store.Store, queueDepths func(ctx context.Context) (map[string]int, error), poolUtilization func(ctx context.Context) (float64, error)) error {
	depths, err := queueDepths(ctx)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "collect queue depths")
	}
	util, err := poolUtilization(ctx)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "collect pool utilization")
	}

	byState := make(map[types.ContainerState]int)
	for _, state := range []types.ContainerState{
		types.ContainerCreating, types.ContainerRunning, types.ContainerStopped,
		types.ContainerRemoved, types.ContainerQuarantined,
	} {
		list, err := st.ListContainersByState(ctx, state)
		if err != nil {
			return orcherr.DependencyUnavailable(err, "list containers in state %s", state)
		}
		byState[state] = len(list)
	}

	snap := &types.MetricsSnapshot{
		QueueDepths:       depths,
		PoolUtilization:   util,
		ContainersByState: byState,
		CapturedAt:        time.Now(),
	}
	return st.InsertMetricsSnapshot(ctx, snap)
}

type sendAlertPayload struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func sendAlert(ctx context.Context, job *types.Job, st store.Store) error {
	var p sendAlertPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return orcherr.Validation("malformed send_alert payload: %v", err)
	}
	alert := &types.Alert{
		Severity:    types.Severity(p.Severity),
		SourceJobID: job.SourceEventID,
		Message:     p.Message,
		CreatedAt:   time.Now(),
	}
	return st.CreateAlert(ctx, alert)
}

// NewWebhookProcessingProcessor consumes process_webhook jobs and
// translates recognized hosting-service events into follow-on jobs
// (execute_workflow, prepare_runner, cleanup_runner), completing the Job
// Router's webhook-to-execution path. enq routes each follow-on job
// itself (Engine.Enqueue routes any job whose Queue is unset).
func NewWebhookProcessingProcessor(enq Enqueuer) Processor {
	logger := log.WithComponent("queue.webhook_processing")
	return ProcessorFunc(func(ctx context.Context, job *types.Job) error {
		if job.Class != types.JobProcessWebhook {
			return orcherr.Internal(nil, "webhook processing processor cannot handle class %s", job.Class)
		}

		var envelope struct {
			EventType  string          `json:"event_type"`
			Repository string          `json:"repository"`
			Body       json.RawMessage `json:"body"`
		}
		if err := json.Unmarshal(job.Payload, &envelope); err != nil {
			return orcherr.Validation("malformed process_webhook payload: %v", err)
		}

		followOn, err := followOnJobs(envelope.EventType, envelope.Repository, envelope.Body)
		if err != nil {
			logger.Warn().Err(err).Str("event_type", envelope.EventType).Msg("could not derive follow-on job, ignoring event")
			return nil
		}

		for _, j := range followOn {
			j.SourceEventID = job.ID
			if err := enq.Enqueue(ctx, j); err != nil {
				return orcherr.DependencyUnavailable(err, "enqueue follow-on job for class %s", j.Class)
			}
		}
		return nil
	})
}

// Enqueuer is the Job Queue Engine capability needed to chain follow-on
// jobs out of a processor; satisfied by *Engine itself.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *types.Job) error
}

type workflowJobEventBody struct {
	Action     string `json:"action"`
	Workflow   string `json:"workflow"`
}

// followOnJobs decides which jobs a recognized webhook event should
// produce. Only workflow_job is translated today; every other whitelisted
// event type is accepted and recorded by the ingress but drives no job of
// its own yet.
func followOnJobs(eventType, repository string, body json.RawMessage) ([]*types.Job, error) {
	if eventType != "workflow_job" {
		return nil, nil
	}
	var b workflowJobEventBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, orcherr.Validation("malformed workflow_job body: %v", err)
	}

	switch b.Action {
	case "queued":
		execPayload, _ := json.Marshal(map[string]string{"workflow": b.Workflow, "event": "workflow_job", "repository": repository})
		prepPayload, _ := json.Marshal(map[string]string{"repository": repository})
		return []*types.Job{
			{Class: types.JobExecuteWorkflow, Payload: execPayload},
			{Class: types.JobPrepareRunner, Payload: prepPayload},
		}, nil
	case "completed":
		cleanupPayload, _ := json.Marshal(map[string]string{"repository": repository})
		return []*types.Job{{Class: types.JobCleanupRunner, Payload: cleanupPayload}}, nil
	default:
		return nil, nil
	}
}

// NewCleanupProcessor dispatches the three scheduled cleanup_* classes.
// All three are routed onto the CLEANUP queue at LOW priority per the Job
// Router's table and are expected to run on a cron schedule.
func NewCleanupProcessor(st store.Store, retention time.Duration) Processor {
	logger := log.WithComponent("queue.cleanup")
	return ProcessorFunc(func(ctx context.Context, job *types.Job) error {
		switch job.Class {
		case types.JobCleanupOldJobs:
			n, err := st.DeleteJobsOlderThan(ctx, types.JobStateCompleted, retention)
			if err != nil {
				return orcherr.DependencyUnavailable(err, "delete completed jobs older than %s", retention)
			}
			dead, err := st.DeleteJobsOlderThan(ctx, types.JobStateDead, retention)
			if err != nil {
				return orcherr.DependencyUnavailable(err, "delete dead jobs older than %s", retention)
			}
			logger.Info().Int64("completed_removed", n).Int64("dead_removed", dead).Msg("cleanup_old_jobs complete")
			return nil

		case types.JobCleanupContainers:
			return cleanupRemovedContainers(ctx, st)

		case types.JobCleanupLogs:
			// No dedicated log store exists in this module: container
			// logs are read live from the runtime engine (§4.7), not
			// persisted, so there is nothing here to age out yet.
			logger.Debug().Msg("cleanup_logs has no persisted log store to prune, skipping")
			return nil

		default:
			return orcherr.Internal(nil, "cleanup processor cannot handle class %s", job.Class)
		}
	})
}

func cleanupRemovedContainers(ctx context.Context, st store.Store) error {
	removed, err := st.ListContainersByState(ctx, types.ContainerRemoved)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "list removed containers")
	}
	for _, c := range removed {
		if err := st.DeleteContainer(ctx, c.ID); err != nil {
			return orcherr.DependencyUnavailable(err, "delete container row %s", c.ID)
		}
	}
	return nil
}
