// Package delegate implements the Delegation Protocol (C12): proxy-runner
// registration, status-mirroring assignment polling, and lifecycle status
// reporting over REST. The heartbeat/poll-loop pair is re-pointed from a
// gRPC client connection to a server-side handler for an HTTP-polling
// external proxy, since the proxy is an independently deployed process
// reached over REST rather than a co-deployed gRPC peer.
//
// This package never executes a job itself — that is the Job Queue
// Engine's own JOB_EXECUTION worker pool (pkg/queue). A proxy bound to a
// job via BindForReporting polls Assignment to learn which job it should
// mirror status for and reports lifecycle transitions back through
// ReportStatus, reconciling the hosting service's external view of that
// job with the orchestrator's own state.
package delegate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// Server implements the runner registry and status-mirroring surface the
// API layer's runners.go and jobs.go delegate to.
type Server struct {
	store  store.Store
	bus    *events.Broker
	logger zerolog.Logger
}

// NewServer builds a delegation server over the Durable Store.
func NewServer(st store.Store, bus *events.Broker) *Server {
	return &Server{store: st, bus: bus, logger: log.WithComponent("delegate")}
}

// RegisterRunner records a new or re-registering proxy runner.
func (s *Server) RegisterRunner(ctx context.Context, r *types.Runner) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.State == "" {
		r.State = types.RunnerIdle
	}
	r.LastHeartbeatAt = time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.LastHeartbeatAt
	}
	if err := s.store.UpsertRunner(ctx, r); err != nil {
		return orcherr.DependencyUnavailable(err, "register runner %s", r.ID)
	}
	s.bus.Publish(&events.Event{
		Type:     events.EventRunnerRegistered,
		Message:  "runner registered: " + r.ID,
		Metadata: map[string]string{"runner_id": r.ID},
	})
	return nil
}

// Assignment returns whichever job runnerID is currently bound to for
// status mirroring, or a nil job with a nil error if nothing is bound yet.
// It never reserves fresh work from a queue: the Job Queue Engine's own
// JOB_EXECUTION worker pool does that and executes the job itself, so the
// only way a runner acquires an assignment here is a prior BindForReporting
// call.
func (s *Server) Assignment(ctx context.Context, runnerID string) (*types.Job, error) {
	r, err := s.store.GetRunner(ctx, runnerID)
	if err != nil {
		return nil, err
	}
	r.LastHeartbeatAt = time.Now()
	if err := s.store.UpsertRunner(ctx, r); err != nil {
		return nil, orcherr.DependencyUnavailable(err, "heartbeat runner %s", r.ID)
	}

	if r.AssignedJobID == "" {
		return nil, nil
	}
	return s.store.GetJob(ctx, r.AssignedJobID)
}

// BindForReporting associates jobID with runnerID so the runner's next
// Assignment poll returns it and its subsequent ReportStatus calls mirror
// onto it. Called once the hosting service has placed a job with a
// specific external runner, independent of which sandbox actually executes
// it internally.
func (s *Server) BindForReporting(ctx context.Context, runnerID, jobID string) error {
	r, err := s.store.GetRunner(ctx, runnerID)
	if err != nil {
		return err
	}
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return err
	}
	r.AssignedJobID = jobID
	r.State = types.RunnerBusy
	if err := s.store.UpsertRunner(ctx, r); err != nil {
		return orcherr.DependencyUnavailable(err, "bind job %s to runner %s for reporting", jobID, r.ID)
	}
	return nil
}

// StatusReport is one proxy-reported lifecycle transition for a delegated
// job (§4.11), mirrored onto the job's own state machine.
type StatusReport struct {
	JobID    string
	Status   types.JobState
	Result   []byte
	ExitCode int
	Error    string
}

// ReportStatus applies a proxy's status report to the job record and, on
// a terminal transition, frees any runner still holding the assignment.
func (s *Server) ReportStatus(ctx context.Context, rep StatusReport) error {
	job, err := s.store.GetJob(ctx, rep.JobID)
	if err != nil {
		return err
	}
	if job.State == types.JobStateCompleted || job.State == types.JobStateDead {
		return orcherr.Conflict("job %s already in terminal state %s", job.ID, job.State)
	}

	job.State = rep.Status
	job.LastError = rep.Error
	if rep.Status == types.JobStateCompleted || rep.Status == types.JobStateFailed || rep.Status == types.JobStateDead {
		job.FinishedAt = time.Now()
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return orcherr.DependencyUnavailable(err, "update job %s status", job.ID)
	}

	if job.State == types.JobStateCompleted || job.State == types.JobStateFailed || job.State == types.JobStateDead {
		if err := s.freeAssignment(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to free runner assignment")
		}
	}
	return nil
}

// freeAssignment clears AssignedJobID on whichever runner currently holds
// jobID. The registry is small enough (proxy fleet, not job volume) that a
// linear scan is acceptable; it runs only on terminal transitions.
func (s *Server) freeAssignment(ctx context.Context, jobID string) error {
	runners, err := s.store.ListRunners(ctx)
	if err != nil {
		return err
	}
	for _, r := range runners {
		if r.AssignedJobID == jobID {
			r.AssignedJobID = ""
			r.State = types.RunnerIdle
			return s.store.UpsertRunner(ctx, r)
		}
	}
	return nil
}
