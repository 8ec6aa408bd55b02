package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/metrics"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// Processor executes one job's side effect. A returned error not wrapped
// with Classify is judged against orcherr.KindOf's retryability default.
type Processor interface {
	Process(ctx context.Context, job *types.Job) error
}

// ProcessorFunc adapts a plain function to a Processor.
type ProcessorFunc func(ctx context.Context, job *types.Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *types.Job) error { return f(ctx, job) }

// Engine is the Job Queue Engine: per-queue worker pools pulling
// reservations from the Durable Store, dispatching to class-registered
// processors, and driving the retry/dead-letter state machine.
type Engine struct {
	store  store.Store
	router *Router
	cfg    config.QueueConfig
	bus    *events.Broker
	logger zerolog.Logger

	mu         sync.RWMutex
	processors map[types.JobClass]Processor

	paused atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine builds an Engine. Processors are registered afterward via
// Register, before Start is called.
func NewEngine(st store.Store, cfg config.QueueConfig, bus *events.Broker) *Engine {
	return &Engine{
		store:      st,
		router:     NewRouter(),
		cfg:        cfg,
		bus:        bus,
		logger:     log.WithComponent("queue"),
		processors: make(map[types.JobClass]Processor),
		stopCh:     make(chan struct{}),
	}
}

// Register attaches the processor invoked for every job of class.
func (e *Engine) Register(class types.JobClass, p Processor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processors[class] = p
}

// Enqueue implements webhook.Enqueuer and is the general entry point for
// every other component that submits work (pool, security, HA, delegate).
// Jobs of class process_webhook arrive already routed by Router.RouteWebhook;
// every other class is routed here if not already (Queue == "").
func (e *Engine) Enqueue(ctx context.Context, job *types.Job) error {
	if job.Queue == "" {
		if err := e.router.Route(job); err != nil {
			return err
		}
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.EnqueuedAt = time.Now()
	if job.DueAt.IsZero() && job.RetryPolicy.InitialDelay > 0 {
		job.DueAt = job.EnqueuedAt.Add(job.RetryPolicy.InitialDelay)
	}
	if job.DueAt.After(job.EnqueuedAt) {
		job.State = types.JobStateDelayed
	} else {
		job.State = types.JobStateQueued
		job.DueAt = job.EnqueuedAt
	}

	if err := validateJob(job); err != nil {
		return err
	}

	if err := e.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(string(job.Class), job.Queue).Inc()
	e.bus.Publish(&events.Event{
		Type:     events.EventJobEnqueued,
		Message:  fmt.Sprintf("enqueued %s job %s on %s", job.Class, job.ID, job.Queue),
		Metadata: map[string]string{"job_id": job.ID, "queue": job.Queue, "class": string(job.Class)},
	})

	return nil
}

// Start launches a worker pool per queue plus the stalled-reservation
// sweeper. Recovery runs synchronously before any pool starts pulling.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.recover(ctx); err != nil {
		e.logger.Error().Err(err).Msg("startup recovery encountered an error, continuing")
	}

	for _, queue := range AllQueues {
		concurrency := e.cfg.Concurrency[queue]
		if concurrency <= 0 {
			concurrency = 1
		}
		for i := 0; i < concurrency; i++ {
			e.wg.Add(1)
			go e.workerLoop(ctx, queue)
		}
	}

	e.wg.Add(1)
	go e.sweepLoop(ctx)

	return nil
}

// Stop signals every worker and sweeper goroutine to exit and waits for
// them to drain.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Engine) workerLoop(ctx context.Context, queue string) {
	defer e.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx, queue)
		}
	}
}

func (e *Engine) visibilityTimeout() time.Duration {
	if e.cfg.VisibilityTimeout > 0 {
		return e.cfg.VisibilityTimeout
	}
	return 60 * time.Second
}

// Pause stops every worker from reserving new jobs, without stopping their
// goroutines; already-reserved jobs still run to completion. Used by the HA
// Controller during a Durable Store primary failover so in-flight
// reconciliation doesn't race new reservations against the promoted
// replica. Enqueue is unaffected: jobs still land in the store.
func (e *Engine) Pause() { e.paused.Store(true) }

// Resume re-enables reservation after a paused Durable Store failover
// completes reconciliation.
func (e *Engine) Resume() { e.paused.Store(false) }

func (e *Engine) pollOnce(ctx context.Context, queue string) {
	if e.paused.Load() {
		return
	}
	token := uuid.NewString()
	jobs, err := e.store.ReserveDueJobs(ctx, queue, 1, token, e.visibilityTimeout())
	if err != nil {
		e.logger.Error().Err(err).Str("queue", queue).Msg("reserve due jobs failed")
		return
	}

	for _, job := range jobs {
		e.process(ctx, job)
	}
}

func (e *Engine) process(ctx context.Context, job *types.Job) {
	e.mu.RLock()
	proc, ok := e.processors[job.Class]
	e.mu.RUnlock()

	logger := e.logger.With().Str("job_id", job.ID).Str("class", string(job.Class)).Str("queue", job.Queue).Logger()

	if !ok {
		logger.Error().Msg("no processor registered for job class")
		e.fail(ctx, job, orcherr.Internal(nil, "no processor registered for class %s", job.Class))
		return
	}

	job.StartedAt = time.Now()
	job.Attempts++

	timer := metrics.NewTimer()
	e.bus.Publish(&events.Event{Type: events.EventJobStarted, Metadata: map[string]string{"job_id": job.ID}})

	err := proc.Process(ctx, job)

	timer.ObserveDurationVec(metrics.JobProcessingDuration, string(job.Class))

	if err != nil {
		logger.Warn().Err(err).Int("attempt", job.Attempts).Msg("job processing failed")
		e.fail(ctx, job, err)
		return
	}

	job.FinishedAt = time.Now()
	job.State = types.JobStateCompleted
	if uerr := e.store.UpdateJob(ctx, job); uerr != nil {
		logger.Error().Err(uerr).Msg("persist completed job failed")
	}
	metrics.JobsCompletedTotal.WithLabelValues(string(job.Class)).Inc()
	e.bus.Publish(&events.Event{Type: events.EventJobCompleted, Metadata: map[string]string{"job_id": job.ID}})
}

func (e *Engine) fail(ctx context.Context, job *types.Job, procErr error) {
	job.LastError = procErr.Error()
	job.LastErrorKind = errorCode(procErr)

	if shouldRetry(job.RetryPolicy, job.Attempts, procErr) {
		delay := backoff(job.RetryPolicy, job.Attempts)
		job.State = types.JobStateDelayed
		job.DueAt = time.Now().Add(delay)
		if err := e.store.UpdateJob(ctx, job); err != nil {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist retry state failed")
		}
		return
	}

	job.FinishedAt = time.Now()
	job.State = types.JobStateDead
	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist dead state failed")
	}
	metrics.JobsDeadTotal.WithLabelValues(string(job.Class)).Inc()
	e.bus.Publish(&events.Event{Type: events.EventJobDead, Metadata: map[string]string{"job_id": job.ID, "error": job.LastError}})

	e.onMaxAttemptsReached(ctx, job)
}

// onMaxAttemptsReached enqueues a send_alert job for every dead job and,
// for execute_workflow specifically, a chained cleanup_runner job, per
// §4.6 step 4.
func (e *Engine) onMaxAttemptsReached(ctx context.Context, job *types.Job) {
	alertPayload, _ := json.Marshal(map[string]string{
		"severity": "high",
		"message":  fmt.Sprintf("job %s (%s) exhausted retries: %s", job.ID, job.Class, job.LastError),
	})
	alertJob := &types.Job{Class: types.JobSendAlert, Payload: alertPayload, SourceEventID: job.ID}
	if err := e.Enqueue(ctx, alertJob); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue send_alert for dead job failed")
	}

	if job.Class == types.JobExecuteWorkflow {
		cleanupPayload, _ := json.Marshal(map[string]string{"reason": "execute_workflow_dead", "source_job_id": job.ID})
		cleanupJob := &types.Job{Class: types.JobCleanupRunner, Payload: cleanupPayload, SourceEventID: job.ID}
		if err := e.Enqueue(ctx, cleanupJob); err != nil {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue chained cleanup_runner failed")
		}
	}
}
