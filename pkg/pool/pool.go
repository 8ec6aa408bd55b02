// Package pool implements the Container Pool (C7): a set of pre-warmed
// sandbox containers kept ready per label-set demand profile, allocated
// exclusively to jobs for their lifetime and released back when done.
//
// The reconciliation loop is a ticker-driven cycle generalized from "place a
// service replica" to "keep a warm sandbox pool per label-set".
package pool

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/metrics"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/runtime"
	"github.com/cuemby/ciorch/pkg/security"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// SecurityEvaluator is the C9 surface create() consults before handing a
// freshly started sandbox to a job. It is satisfied by *security.Evaluator;
// the interface keeps this package's dependency on it to the one call it
// actually makes.
type SecurityEvaluator interface {
	Evaluate(ctx context.Context, c *types.Container, attrs security.Attrs, policyIDs []string) (*security.Verdict, error)
}

const (
	statusLabel = "pool.status"
	statusIdle  = "idle"
	statusBusy  = "busy"
	managedKey  = "orchestrator.managed"

	defaultMin            = 2
	defaultMax            = 20
	defaultScaleUpUtil    = 0.8
	defaultScaleDownUtil  = 0.2
	defaultScaleDownIdle  = 5 * time.Minute
	defaultStartupTimeout = 2 * time.Minute
)

// Pool maintains ready sandbox containers matching label-set demand
// profiles and hands them out exclusively for the lifetime of a job.
type Pool struct {
	store   store.Store
	engine  runtime.Engine
	bus     *events.Broker
	cfg     config.Pool
	logger  zerolog.Logger
	imageFn func(labels map[string]string) string

	evaluator SecurityEvaluator
	policyIDs []string

	mu         sync.Mutex
	waiters    map[string]*waiterQueue // keyed by sorted label-set signature
	idleSince  map[string]time.Time    // containerID -> when it went idle
	overUtilAt time.Time
	underUtilAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ImageResolver maps a requested label-set to the image reference a new
// sandbox for that profile should run.
type ImageResolver func(labels map[string]string) string

// New builds a Pool. imageFn resolves the image a fresh sandbox for a given
// label profile should run; callers typically close over a fixed runner
// image or a per-repository image map.
func New(st store.Store, engine runtime.Engine, bus *events.Broker, cfg config.Pool, imageFn ImageResolver) *Pool {
	if cfg.Min <= 0 {
		cfg.Min = defaultMin
	}
	if cfg.Max <= 0 {
		cfg.Max = defaultMax
	}
	if cfg.ScaleUpUtil <= 0 {
		cfg.ScaleUpUtil = defaultScaleUpUtil
	}
	if cfg.ScaleDownUtil <= 0 {
		cfg.ScaleDownUtil = defaultScaleDownUtil
	}
	if cfg.ScaleDownIdle <= 0 {
		cfg.ScaleDownIdle = defaultScaleDownIdle
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if imageFn == nil {
		imageFn = func(map[string]string) string { return "" }
	}

	return &Pool{
		store:     st,
		engine:    engine,
		bus:       bus,
		cfg:       cfg,
		logger:    log.WithComponent("pool"),
		imageFn:   imageFn,
		waiters:   make(map[string]*waiterQueue),
		idleSince: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
}

// SetEvaluator wires the Security Evaluator create() consults on admission,
// and the policy set each evaluation runs against. Constructed after New
// since the evaluator's own Quarantiner dependency is this Pool; a nil
// evaluator (the zero value before this is called) leaves admission
// permissive, matching *security.Evaluator's own nil-sandbox fallback.
func (p *Pool) SetEvaluator(e SecurityEvaluator, policyIDs []string) {
	p.evaluator = e
	p.policyIDs = policyIDs
}

// Start launches the reconciliation loop (scale up/down, stale eviction).
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.reconcileLoop(ctx)
}

// Stop signals the reconciliation loop to exit and waits for it to drain.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// waitRequest is one queued allocation request, ordered by priority then
// arrival order.
type waitRequest struct {
	labels   map[string]string
	priority types.Priority
	seq      int64
	result   chan requestResult
}

type requestResult struct {
	container *types.Container
	err       error
}

// Request returns a running container whose label-set is a superset of
// labels, creating one if the pool has room, or queuing the caller behind
// higher-priority requests until one frees up or ctx is done. Allocation is
// exclusive for the lifetime of the owning job; callers must call Release
// when finished.
func (p *Pool) Request(ctx context.Context, labels map[string]string, repo string, priority types.Priority) (*types.Container, error) {
	if c, err := p.tryAllocate(ctx, labels); err != nil {
		return nil, err
	} else if c != nil {
		return c, nil
	}

	running, err := p.store.ListContainersByState(ctx, types.ContainerRunning)
	if err != nil {
		return nil, fmt.Errorf("list running containers: %w", err)
	}
	if len(running) < p.cfg.Max {
		c, err := p.create(ctx, labels, repo)
		if err != nil {
			return nil, err
		}
		return p.markBusy(ctx, c)
	}

	return p.enqueueWaiter(ctx, labels, priority)
}

// tryAllocate looks for an idle running container whose labels are a
// superset of the request, without creating or queuing.
func (p *Pool) tryAllocate(ctx context.Context, labels map[string]string) (*types.Container, error) {
	running, err := p.store.ListContainersByState(ctx, types.ContainerRunning)
	if err != nil {
		return nil, fmt.Errorf("list running containers: %w", err)
	}

	for _, c := range running {
		if c.Labels[statusLabel] != statusIdle {
			continue
		}
		if labelSuperset(c.Labels, labels) {
			return p.markBusy(ctx, c)
		}
	}
	return nil, nil
}

func (p *Pool) markBusy(ctx context.Context, c *types.Container) (*types.Container, error) {
	c.Labels[statusLabel] = statusBusy
	if err := p.store.UpdateContainer(ctx, c); err != nil {
		return nil, fmt.Errorf("mark container %s busy: %w", c.ID, err)
	}
	p.mu.Lock()
	delete(p.idleSince, c.ID)
	p.mu.Unlock()
	return c, nil
}

// Release returns a container to the idle pool, satisfying the
// highest-priority queued waiter whose labels it matches, if any.
func (p *Pool) Release(ctx context.Context, containerID string) error {
	c, err := p.store.GetContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("get container %s: %w", containerID, err)
	}

	if w := p.popMatchingWaiter(c.Labels); w != nil {
		w.result <- requestResult{container: c}
		c.Labels[statusLabel] = statusBusy
		return p.store.UpdateContainer(ctx, c)
	}

	c.Labels[statusLabel] = statusIdle
	p.mu.Lock()
	p.idleSince[c.ID] = time.Now()
	p.mu.Unlock()
	return p.store.UpdateContainer(ctx, c)
}

// Utilization reports the fraction of running containers currently busy,
// the same figure the reconcile loop uses for its scale-up/down decisions,
// exposed for the monitoring dashboard and collect_metrics snapshots.
func (p *Pool) Utilization(ctx context.Context) (float64, error) {
	running, err := p.store.ListContainersByState(ctx, types.ContainerRunning)
	if err != nil {
		return 0, fmt.Errorf("list running containers: %w", err)
	}
	if len(running) == 0 {
		return 0, nil
	}
	busy := 0
	for _, c := range running {
		if c.Labels[statusLabel] == statusBusy {
			busy++
		}
	}
	return float64(busy) / float64(len(running)), nil
}

// Quarantine removes a container from service after repeated health-check
// failures: it is marked quarantined and torn down rather than returned to
// the idle pool, per the lifecycle state machine's health-fail transition.
func (p *Pool) Quarantine(ctx context.Context, containerID string) error {
	c, err := p.store.GetContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("get container %s: %w", containerID, err)
	}

	c.State = types.ContainerQuarantined
	if err := p.store.UpdateContainer(ctx, c); err != nil {
		return fmt.Errorf("persist quarantined state for %s: %w", c.ID, err)
	}
	p.bus.Publish(&events.Event{Type: events.EventContainerQuaran, Metadata: map[string]string{"container_id": c.ID}})

	p.remove(ctx, c, "health_fail")
	return nil
}

func labelSuperset(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func (p *Pool) create(ctx context.Context, labels map[string]string, repo string) (*types.Container, error) {
	timer := metrics.NewTimer()

	merged := make(map[string]string, len(labels)+2)
	for k, v := range labels {
		merged[k] = v
	}
	merged[managedKey] = "true"
	merged[statusLabel] = statusIdle

	c := &types.Container{
		ID:     uuid.NewString(),
		State:  types.ContainerCreating,
		Labels: merged,
		Limits: types.ResourceLimits{
			CPUCores:    2,
			MemoryBytes: 2 << 30,
			PidsLimit:   512,
		},
		NetworkNamespace: repo,
		CreatedAt:        time.Now(),
	}

	image := p.imageFn(labels)
	id, err := p.engine.CreateContainer(ctx, image, c)
	if err != nil {
		return nil, orcherr.DependencyUnavailable(err, "create sandbox")
	}
	c.ID = id

	if err := p.store.CreateContainer(ctx, c); err != nil {
		return nil, fmt.Errorf("persist container %s: %w", c.ID, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeout)
	defer cancel()
	if err := p.engine.StartContainer(startCtx, c.ID); err != nil {
		c.State = types.ContainerStopped
		_ = p.store.UpdateContainer(ctx, c)
		return nil, orcherr.DependencyUnavailable(err, "start sandbox %s", c.ID)
	}

	c.State = types.ContainerRunning
	if err := p.store.UpdateContainer(ctx, c); err != nil {
		return nil, fmt.Errorf("persist started container %s: %w", c.ID, err)
	}

	if err := p.evaluateAdmission(ctx, c); err != nil {
		return nil, err
	}

	timer.ObserveDuration(metrics.ContainerCreateDuration)
	metrics.ContainersTotal.WithLabelValues(string(types.ContainerRunning)).Inc()
	p.bus.Publish(&events.Event{Type: events.EventContainerCreated, Metadata: map[string]string{"container_id": c.ID}})

	p.mu.Lock()
	p.idleSince[c.ID] = time.Now()
	p.mu.Unlock()

	return c, nil
}

// evaluateAdmission runs a freshly started sandbox through the Security
// Evaluator (C9) before it ever reaches the idle pool. A block verdict
// tears the sandbox down instead of handing it to a job; every other
// verdict (including one that quarantines or alerts) lets the sandbox
// through, since those actions already ran as part of Evaluate itself.
func (p *Pool) evaluateAdmission(ctx context.Context, c *types.Container) error {
	if p.evaluator == nil {
		return nil
	}
	attrs := security.NewAttrs(c, false /* runAsRoot */, true /* readOnlyRootfs */, false /* privileged */, nil)
	verdict, err := p.evaluator.Evaluate(ctx, c, attrs, p.policyIDs)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "evaluate security policy for sandbox %s", c.ID)
	}
	if !verdict.Blocked() {
		return nil
	}

	if err := p.engine.StopContainer(ctx, c.ID, 10*time.Second); err != nil {
		p.logger.Warn().Err(err).Str("container_id", c.ID).Msg("stop blocked sandbox failed")
	}
	if err := p.engine.DeleteContainer(ctx, c.ID); err != nil {
		p.logger.Warn().Err(err).Str("container_id", c.ID).Msg("delete blocked sandbox failed")
	}
	c.State = types.ContainerStopped
	_ = p.store.UpdateContainer(ctx, c)
	return orcherr.Validation("sandbox %s blocked by security policy on admission", c.ID)
}

func (p *Pool) enqueueWaiter(ctx context.Context, labels map[string]string, priority types.Priority) (*types.Container, error) {
	sig := labelSignature(labels)

	p.mu.Lock()
	q, ok := p.waiters[sig]
	if !ok {
		q = &waiterQueue{}
		p.waiters[sig] = q
	}
	req := &waitRequest{labels: labels, priority: priority, seq: q.nextSeq(), result: make(chan requestResult, 1)}
	heap.Push(q, req)
	p.mu.Unlock()

	select {
	case res := <-req.result:
		return res.container, res.err
	case <-ctx.Done():
		p.mu.Lock()
		q.remove(req)
		p.mu.Unlock()
		return nil, orcherr.DependencyTimeout(ctx.Err(), "pool allocation wait")
	}
}

// popMatchingWaiter removes and returns the highest-priority queued request
// a newly-freed container's labels can satisfy, across every label
// signature bucket.
func (p *Pool) popMatchingWaiter(haveLabels map[string]string) *waitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *waitRequest
	var bestQ *waiterQueue
	bestIdx := -1
	for _, q := range p.waiters {
		for i, req := range q.items {
			if !labelSuperset(haveLabels, req.labels) {
				continue
			}
			if best == nil || req.priority < best.priority ||
				(req.priority == best.priority && q == bestQ && req.seq < best.seq) {
				best, bestQ, bestIdx = req, q, i
			}
		}
	}
	if best == nil {
		return nil
	}
	heap.Remove(bestQ, bestIdx)
	return best
}

func labelSignature(labels map[string]string) string {
	// Deliberately simple: requests with the same keys/values map to the
	// same waiter bucket; superset matching still happens at pop time
	// against every bucket, so this only needs to group, not classify.
	return fmt.Sprintf("%v", labels)
}
