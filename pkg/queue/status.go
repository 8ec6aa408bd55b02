package queue

import (
	"context"

	"github.com/cuemby/ciorch/pkg/types"
)

// QueueStatus is one named queue's per-state job counts, for the
// GET /api/queues/status endpoint.
type QueueStatus struct {
	Queue  string
	Counts map[types.JobState]int
}

// Status reports per-state job counts for every named queue.
func (e *Engine) Status(ctx context.Context) ([]QueueStatus, error) {
	out := make([]QueueStatus, 0, len(AllQueues))
	for _, q := range AllQueues {
		counts, err := e.store.CountJobsByState(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, QueueStatus{Queue: q, Counts: counts})
	}
	return out, nil
}

// PurgeFailed deletes every job currently in the failed state, across all
// queues, and reports how many rows were removed. Dead jobs (retries
// exhausted) are untouched — they remain queryable for their retention
// window per §7.
func (e *Engine) PurgeFailed(ctx context.Context) (int64, error) {
	return e.store.DeleteJobsOlderThan(ctx, types.JobStateFailed, 0)
}
