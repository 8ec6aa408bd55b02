package queue

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/runtime"
	"github.com/cuemby/ciorch/pkg/security"
	"github.com/cuemby/ciorch/pkg/types"
)

// SecurityEvaluator is the C9 surface the JOB_EXECUTION processor consults
// immediately before driving a sandbox, independent of whatever admission
// check the Container Pool already ran when the sandbox was created.
// Satisfied by *security.Evaluator.
type SecurityEvaluator interface {
	Evaluate(ctx context.Context, c *types.Container, attrs security.Attrs, policyIDs []string) (*security.Verdict, error)
}

type executeWorkflowPayload struct {
	Workflow   string `json:"workflow"`
	Event      string `json:"event"`
	Repository string `json:"repository"`
}

// NewJobExecutionProcessor dispatches execute_workflow, prepare_runner, and
// cleanup_runner jobs straight out of this engine's own JOB_EXECUTION
// worker pool: request a sandbox from the Container Pool (C7), evaluate it
// against the security policy set (C9), then drive it through the runtime
// engine (C8). The Delegation Protocol is reserved for mirroring a job's
// status to an externally managed proxy, not for executing it.
func NewJobExecutionProcessor(pool Allocator, evaluator SecurityEvaluator, eng runtime.Engine, policyIDs []string) Processor {
	logger := log.WithComponent("queue.job_execution")
	return ProcessorFunc(func(ctx context.Context, job *types.Job) error {
		switch job.Class {
		case types.JobExecuteWorkflow:
			return executeWorkflow(ctx, job, pool, evaluator, eng, policyIDs, logger)
		case types.JobPrepareRunner:
			return prepareRunner(ctx, job, pool)
		case types.JobCleanupRunner:
			return cleanupRunner(job, logger)
		default:
			return orcherr.Internal(nil, "job execution processor cannot handle class %s", job.Class)
		}
	})
}

func executeWorkflow(ctx context.Context, job *types.Job, pool Allocator, evaluator SecurityEvaluator, eng runtime.Engine, policyIDs []string, logger zerolog.Logger) error {
	var p executeWorkflowPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return orcherr.Validation("malformed execute_workflow payload: %v", err)
	}

	c, err := pool.Request(ctx, map[string]string{"repository": p.Repository}, p.Repository, job.Priority)
	if err != nil {
		return err
	}

	held := true
	release := func() {
		if !held {
			return
		}
		held = false
		if err := pool.Release(ctx, c.ID); err != nil {
			logger.Warn().Err(err).Str("container_id", c.ID).Msg("release sandbox after execute_workflow failed")
		}
	}
	defer release()

	if evaluator != nil {
		attrs := security.NewAttrs(c, false /* runAsRoot */, true /* readOnlyRootfs */, false /* privileged */, nil)
		verdict, err := evaluator.Evaluate(ctx, c, attrs, policyIDs)
		if err != nil {
			return orcherr.DependencyUnavailable(err, "evaluate security policy for sandbox %s", c.ID)
		}
		if verdict.Blocked() {
			held = false
			if qerr := pool.Quarantine(ctx, c.ID); qerr != nil {
				logger.Warn().Err(qerr).Str("container_id", c.ID).Msg("quarantine blocked sandbox failed")
			}
			return orcherr.Validation("sandbox %s blocked by security policy, refusing to run workflow %s", c.ID, p.Workflow)
		}
	}

	res, err := eng.Exec(ctx, c.ID, runtime.ExecSpec{Cmd: []string{"/opt/runner/run.sh", p.Workflow}})
	if err != nil {
		return orcherr.DependencyUnavailable(err, "exec workflow %s in sandbox %s", p.Workflow, c.ID)
	}
	if res.ExitCode != 0 {
		return orcherr.Validation("workflow %s exited %d in sandbox %s: %s", p.Workflow, res.ExitCode, c.ID, res.Stderr)
	}
	return nil
}

type prepareRunnerPayload struct {
	Repository string `json:"repository"`
}

// prepareRunner pre-warms a sandbox for the repository an execute_workflow
// job is about to target, then releases it back to the idle pool rather
// than holding it for this job's own lifetime.
func prepareRunner(ctx context.Context, job *types.Job, pool Allocator) error {
	var p prepareRunnerPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return orcherr.Validation("malformed prepare_runner payload: %v", err)
	}
	c, err := pool.Request(ctx, map[string]string{"repository": p.Repository}, p.Repository, job.Priority)
	if err != nil {
		return err
	}
	return pool.Release(ctx, c.ID)
}

// cleanupRunner has no sandbox operation of its own: executeWorkflow
// already released its sandbox back to the pool on every exit path, and
// this class exists for the hosting-service-facing bookkeeping described
// in §4.5, which this module has no external client wired for.
func cleanupRunner(job *types.Job, logger zerolog.Logger) error {
	logger.Debug().Str("source_job_id", job.SourceEventID).Msg("cleanup_runner has no additional sandbox operation, skipping")
	return nil
}
