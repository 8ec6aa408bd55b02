package pool

import (
	"context"
	"time"

	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/metrics"
	"github.com/cuemby/ciorch/pkg/types"
)

const reconcileInterval = 5 * time.Second

// reconcileLoop is the ticker-driven scale-up/scale-down/eviction cycle.
func (p *Pool) reconcileLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reconcile(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) reconcile(ctx context.Context) {
	running, err := p.store.ListContainersByState(ctx, types.ContainerRunning)
	if err != nil {
		p.logger.Error().Err(err).Msg("reconcile: list running containers failed")
		return
	}

	busy := 0
	for _, c := range running {
		if c.Labels[statusLabel] == statusBusy {
			busy++
		}
	}
	total := len(running)

	metrics.PoolSize.WithLabelValues("all", "running").Set(float64(total))
	metrics.PoolSize.WithLabelValues("all", "busy").Set(float64(busy))

	utilization := 0.0
	if total > 0 {
		utilization = float64(busy) / float64(total)
	}
	metrics.PoolUtilization.Set(utilization)

	now := time.Now()
	p.mu.Lock()
	if utilization > p.cfg.ScaleUpUtil {
		if p.overUtilAt.IsZero() {
			p.overUtilAt = now
		}
	} else {
		p.overUtilAt = time.Time{}
	}
	if utilization < p.cfg.ScaleDownUtil {
		if p.underUtilAt.IsZero() {
			p.underUtilAt = now
		}
	} else {
		p.underUtilAt = time.Time{}
	}
	sustainedOver := !p.overUtilAt.IsZero() && now.Sub(p.overUtilAt) >= p.cfg.ScaleUpSeconds
	sustainedUnder := !p.underUtilAt.IsZero()
	p.mu.Unlock()

	if (total < p.cfg.Min) || (sustainedOver && total < p.cfg.Max) {
		if _, err := p.create(ctx, nil, ""); err != nil {
			p.logger.Error().Err(err).Msg("reconcile: scale-up create failed")
		} else {
			p.logger.Info().Int("pool_size", total+1).Msg("pool scaled up")
		}
		return
	}

	if sustainedUnder && total > p.cfg.Min {
		p.evictIdle(ctx, running, false)
	}

	p.evictStale(ctx, running)
}

// evictIdle stops the longest-idle container when the pool is over-
// provisioned relative to demand. force bypasses the idle-time threshold;
// reconcile passes false, and evictStale removes stale containers itself
// without calling evictIdle.
func (p *Pool) evictIdle(ctx context.Context, running []*types.Container, force bool) {
	var oldest *types.Container
	var oldestSince time.Time

	p.mu.Lock()
	for _, c := range running {
		if c.Labels[statusLabel] != statusIdle {
			continue
		}
		since, ok := p.idleSince[c.ID]
		if !ok {
			continue
		}
		if !force && time.Since(since) < p.cfg.ScaleDownIdle {
			continue
		}
		if oldest == nil || since.Before(oldestSince) {
			oldest = c
			oldestSince = since
		}
	}
	p.mu.Unlock()

	if oldest == nil {
		return
	}
	p.remove(ctx, oldest, "scale_down")
}

// evictStale removes containers idle well past the scale-down window
// regardless of current utilization, bounding pool churn from demand
// spikes that never fully subside.
func (p *Pool) evictStale(ctx context.Context, running []*types.Container) {
	staleThreshold := p.cfg.ScaleDownIdle * 3

	p.mu.Lock()
	var stale []*types.Container
	for _, c := range running {
		if c.Labels[statusLabel] != statusIdle {
			continue
		}
		since, ok := p.idleSince[c.ID]
		if ok && time.Since(since) >= staleThreshold {
			stale = append(stale, c)
		}
	}
	p.mu.Unlock()

	for _, c := range stale {
		p.remove(ctx, c, "stale")
		metrics.EvictedStaleTotal.Inc()
	}
}

func (p *Pool) remove(ctx context.Context, c *types.Container, reason string) {
	if err := p.engine.StopContainer(ctx, c.ID, 10*time.Second); err != nil {
		p.logger.Error().Err(err).Str("container_id", c.ID).Msg("evict: stop failed")
	}
	if err := p.engine.DeleteContainer(ctx, c.ID); err != nil {
		p.logger.Error().Err(err).Str("container_id", c.ID).Msg("evict: delete failed")
	}

	c.State = types.ContainerRemoved
	if err := p.store.UpdateContainer(ctx, c); err != nil {
		p.logger.Error().Err(err).Str("container_id", c.ID).Msg("evict: persist removed state failed")
	}

	p.mu.Lock()
	delete(p.idleSince, c.ID)
	p.mu.Unlock()

	metrics.ContainersTotal.WithLabelValues(string(types.ContainerRemoved)).Inc()
	p.bus.Publish(&events.Event{
		Type:     events.EventContainerStopped,
		Metadata: map[string]string{"container_id": c.ID, "reason": reason},
	})
	p.logger.Info().Str("container_id", c.ID).Str("reason", reason).Msg("container evicted")
}
