package queue

import (
	"context"

	"github.com/cuemby/ciorch/pkg/types"
)

// recover runs once at startup. Because the Durable Store (not an
// in-memory structure) is the queue's system of record, "rehydrating" a
// queue is implicit in every worker's next reservation poll; recovery's
// job is narrower: reclaim reservations abandoned by a process that died
// before its visibility timeout lapsed would naturally, and surface a
// one-time count per state so operators can see what a restart inherited.
func (e *Engine) recover(ctx context.Context) error {
	e.sweepStalled(ctx)

	for _, queue := range AllQueues {
		counts, err := e.store.CountJobsByState(ctx, queue)
		if err != nil {
			e.logger.Error().Err(err).Str("queue", queue).Msg("recovery: count jobs by state failed")
			continue
		}
		e.logger.Info().
			Str("queue", queue).
			Int("queued", counts[types.JobStateQueued]).
			Int("active", counts[types.JobStateActive]).
			Int("delayed", counts[types.JobStateDelayed]).
			Int("failed", counts[types.JobStateFailed]).
			Msg("recovery: inherited queue state")
	}

	return nil
}
