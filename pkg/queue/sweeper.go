package queue

import (
	"context"
	"time"

	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/metrics"
	"github.com/cuemby/ciorch/pkg/types"
)

// sweepInterval is how often stalled reservations are reclaimed and
// due-delayed jobs are checked.
const sweepInterval = 5 * time.Second

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepStalled(ctx)
			e.promoteDelayed(ctx)
		}
	}
}

// promoteDelayed moves delayed jobs whose due-at has arrived back to
// queued so the next reservation poll picks them up.
func (e *Engine) promoteDelayed(ctx context.Context) {
	const batchSize = 100

	due, err := e.store.ListDelayedDue(ctx, batchSize)
	if err != nil {
		e.logger.Error().Err(err).Msg("list delayed-due jobs failed")
		return
	}

	for _, job := range due {
		job.State = types.JobStateQueued
		if err := e.store.UpdateJob(ctx, job); err != nil {
			e.logger.Error().Err(err).Str("job_id", job.ID).Msg("promote delayed job failed")
		}
	}
}

// sweepStalled returns jobs whose reservation TTL lapsed back to queued,
// per §4.6's stalled-detection algorithm.
func (e *Engine) sweepStalled(ctx context.Context) {
	reclaimed, err := e.store.ReleaseStaleReservations(ctx, time.Now())
	if err != nil {
		e.logger.Error().Err(err).Msg("sweep stalled reservations failed")
		return
	}

	for _, job := range reclaimed {
		metrics.JobsStalledTotal.WithLabelValues(job.Queue).Inc()
		e.bus.Publish(&events.Event{
			Type:     "job.stalled",
			Message:  "reservation lapsed, returned to queued",
			Metadata: map[string]string{"job_id": job.ID, "queue": job.Queue},
		})
		e.logger.Warn().Str("job_id", job.ID).Str("queue", job.Queue).Msg("stalled job returned to queued")
	}
}
