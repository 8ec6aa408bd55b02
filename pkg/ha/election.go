package ha

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/coord"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/metrics"
)

const leaseKey = "orchestrator:leader"

// Elector holds (or contends for) the single orchestrator:leader lease and
// exposes the current leadership state to every leader-gated subsystem
// (scheduled job enqueuing, pool scaling, cleanup sweeps, failover
// orchestration).
type Elector struct {
	coord    coord.Store
	holderID string
	ttl      time.Duration
	renew    time.Duration
	logger   zerolog.Logger

	mu         sync.RWMutex
	isLeader   bool
	generation int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewElector builds an Elector contending for the leader lease under
// holderID (typically this replica's instance id).
func NewElector(store coord.Store, holderID string, ttl, renewInterval time.Duration) *Elector {
	return &Elector{
		coord:    store,
		holderID: holderID,
		ttl:      ttl,
		renew:    renewInterval,
		logger:   log.WithComponent("ha-election"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the acquire/renew loop. It blocks until the first attempt
// completes so callers can observe initial leadership state immediately.
func (e *Elector) Start(ctx context.Context) {
	e.tick(ctx)
	e.wg.Add(1)
	go e.loop(ctx)
}

// Stop releases the lease, if held, and ends the renewal loop.
func (e *Elector) Stop() {
	close(e.stopCh)
	e.wg.Wait()

	if e.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.coord.ReleaseLease(ctx, leaseKey, e.holderID); err != nil {
			e.logger.Warn().Err(err).Msg("failed to release leader lease on shutdown")
		}
	}
}

// IsLeader reports whether this replica currently holds the lease. Passed
// (via Controller.IsLeader) as the leader-gate callback to the cron
// scheduler; the pool reconcile loop is not gated on it.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

// Generation returns the current lease generation, monotonically
// increasing on each fresh acquisition (not on renewal).
func (e *Elector) Generation() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

func (e *Elector) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.renew)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Elector) tick(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, e.ttl/2)
	defer cancel()

	lease, granted, err := e.coord.AcquireLease(reqCtx, leaseKey, e.holderID, e.ttl)
	wasLeader := e.IsLeader()

	if err != nil {
		e.logger.Warn().Err(err).Msg("leader lease acquire/renew failed")
		e.setLeader(false, 0)
		if wasLeader {
			e.logger.Warn().Msg("lost leadership: coordination store unreachable")
		}
		return
	}

	e.setLeader(granted, lease.Generation)
	if granted && !wasLeader {
		e.logger.Info().Int64("generation", lease.Generation).Msg("acquired leadership")
	} else if !granted && wasLeader {
		e.logger.Warn().Msg("lost leadership: lease held by another replica")
	}
}

func (e *Elector) setLeader(leader bool, generation int64) {
	e.mu.Lock()
	e.isLeader = leader
	if generation > 0 {
		e.generation = generation
	}
	e.mu.Unlock()

	if leader {
		metrics.HALeader.Set(1)
	} else {
		metrics.HALeader.Set(0)
	}
	metrics.HALeaderGeneration.Set(float64(e.generation))
}
