package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// memStore is a minimal in-memory store.Store good enough to exercise the
// engine's enqueue/reserve/complete/retry/dead paths without Postgres.
type memStore struct {
	store.Store
	mu   sync.Mutex
	jobs map[string]*types.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*types.Job)}
}

func (m *memStore) CreateJob(ctx context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) UpdateJob(ctx context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) ReserveDueJobs(ctx context.Context, queue string, limit int, token string, visibility time.Duration) ([]*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Job
	for _, j := range m.jobs {
		if len(out) >= limit {
			break
		}
		if j.Queue == queue && j.State == types.JobStateQueued && !j.DueAt.After(time.Now()) {
			j.State = types.JobStateActive
			j.ReservationToken = token
			j.ReservedUntil = time.Now().Add(visibility)
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ReleaseStaleReservations(ctx context.Context, olderThan time.Time) ([]*types.Job, error) {
	return nil, nil
}

func (m *memStore) ListDelayedDue(ctx context.Context, limit int) ([]*types.Job, error) {
	return nil, nil
}

func (m *memStore) CountJobsByState(ctx context.Context, queue string) (map[types.JobState]int, error) {
	return map[types.JobState]int{}, nil
}

func newTestEngine(t *testing.T) (*Engine, *memStore) {
	t.Helper()
	st := newMemStore()
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)
	cfg := config.QueueConfig{Concurrency: map[string]int{QueueJobExecution: 1}, VisibilityTimeout: time.Minute}
	return NewEngine(st, cfg, bus), st
}

func TestEnqueueAssignsQueueAndPriority(t *testing.T) {
	e, st := newTestEngine(t)
	job := &types.Job{Class: types.JobPrepareRunner, Payload: []byte(`{}`)}

	if err := e.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Queue != QueueJobExecution {
		t.Errorf("queue = %v, want %v", job.Queue, QueueJobExecution)
	}
	if job.Priority != types.PriorityHigh {
		t.Errorf("priority = %v, want %v", job.Priority, types.PriorityHigh)
	}
	if job.ID == "" {
		t.Error("expected a generated job ID")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.jobs[job.ID]; !ok {
		t.Error("expected job to be persisted")
	}
}

func TestProcessDelaysJobForRetryOnFailure(t *testing.T) {
	e, _ := newTestEngine(t)

	var calls int
	e.Register(types.JobPrepareRunner, ProcessorFunc(func(ctx context.Context, job *types.Job) error {
		calls++
		if calls < 2 {
			return Classify("transient", context.DeadlineExceeded)
		}
		return nil
	}))

	job := &types.Job{Class: types.JobPrepareRunner, Payload: []byte(`{}`)}
	if err := e.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reserved, err := e.store.ReserveDueJobs(context.Background(), QueueJobExecution, 1, "tok-1", time.Minute)
	if err != nil || len(reserved) != 1 {
		t.Fatalf("ReserveDueJobs: %v, %d reserved", err, len(reserved))
	}
	e.process(context.Background(), reserved[0])

	if reserved[0].State != types.JobStateDelayed {
		t.Fatalf("expected job delayed for retry, got %v", reserved[0].State)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call so far, got %d", calls)
	}
}

func TestProcessMarksDeadAfterMaxAttempts(t *testing.T) {
	e, st := newTestEngine(t)
	e.Register(types.JobHealthCheck, ProcessorFunc(func(ctx context.Context, job *types.Job) error {
		return Classify("always_fails", context.DeadlineExceeded)
	}))

	job := &types.Job{Class: types.JobHealthCheck, Payload: []byte(`{}`)}
	if err := e.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reserved, _ := e.store.ReserveDueJobs(context.Background(), QueueContainerManagement, 1, "tok-1", time.Minute)
	if len(reserved) != 1 {
		t.Fatalf("expected 1 reserved job, got %d", len(reserved))
	}
	e.process(context.Background(), reserved[0])

	if reserved[0].State != types.JobStateDead {
		t.Fatalf("expected job_health_check (1 attempt) to go straight to dead, got %v", reserved[0].State)
	}

	// A send_alert job should have been chained on max-attempts.
	st.mu.Lock()
	defer st.mu.Unlock()
	var foundAlert bool
	for _, j := range st.jobs {
		if j.Class == types.JobSendAlert {
			foundAlert = true
		}
	}
	if !foundAlert {
		t.Error("expected a chained send_alert job on dead-letter")
	}
}
