package delegate

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

type memStore struct {
	store.Store
	mu      sync.Mutex
	jobs    map[string]*types.Job
	runners map[string]*types.Runner
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*types.Job), runners: make(map[string]*types.Runner)}
}

func (m *memStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, orcherr.NotFound("job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) UpdateJob(ctx context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) UpsertRunner(ctx context.Context, r *types.Runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runners[r.ID] = &cp
	return nil
}

func (m *memStore) GetRunner(ctx context.Context, id string) (*types.Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[id]
	if !ok {
		return nil, orcherr.NotFound("runner %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRunners(ctx context.Context) ([]*types.Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Runner
	for _, r := range m.runners {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	st := newMemStore()
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)
	return NewServer(st, bus), st
}

func TestBindForReportingMakesJobVisibleToAssignment(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	if err := s.RegisterRunner(ctx, &types.Runner{ID: "r1"}); err != nil {
		t.Fatalf("RegisterRunner: %v", err)
	}
	st.jobs["j1"] = &types.Job{ID: "j1", Queue: "JOB_EXECUTION", State: types.JobStateActive}

	if err := s.BindForReporting(ctx, "r1", "j1"); err != nil {
		t.Fatalf("BindForReporting: %v", err)
	}

	job, err := s.Assignment(ctx, "r1")
	if err != nil {
		t.Fatalf("Assignment: %v", err)
	}
	if job == nil || job.ID != "j1" {
		t.Fatalf("expected job j1 bound, got %+v", job)
	}

	r, _ := st.GetRunner(ctx, "r1")
	if r.AssignedJobID != "j1" || r.State != types.RunnerBusy {
		t.Errorf("expected runner bound and busy, got %+v", r)
	}
}

func TestAssignmentReturnsNilWhenNothingBound(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	_ = s.RegisterRunner(ctx, &types.Runner{ID: "r1"})

	job, err := s.Assignment(ctx, "r1")
	if err != nil {
		t.Fatalf("Assignment: %v", err)
	}
	if job != nil {
		t.Errorf("expected no assignment, got %+v", job)
	}
}

func TestAssignmentDoesNotReserveQueuedWork(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	_ = s.RegisterRunner(ctx, &types.Runner{ID: "r1"})
	st.jobs["j1"] = &types.Job{ID: "j1", Queue: "JOB_EXECUTION", State: types.JobStateQueued}

	job, err := s.Assignment(ctx, "r1")
	if err != nil {
		t.Fatalf("Assignment: %v", err)
	}
	if job != nil {
		t.Fatalf("expected queued work to stay unclaimed absent a bind, got %+v", job)
	}
	if st.jobs["j1"].State != types.JobStateQueued {
		t.Errorf("expected job to remain queued, got %s", st.jobs["j1"].State)
	}
}

func TestBindForReportingRejectsUnknownJob(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	_ = s.RegisterRunner(ctx, &types.Runner{ID: "r1"})

	if err := s.BindForReporting(ctx, "r1", "missing"); err == nil {
		t.Fatal("expected error binding to a nonexistent job")
	}
}

func TestReportStatusFreesRunnerOnTerminalTransition(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	st.jobs["j1"] = &types.Job{ID: "j1", Queue: "JOB_EXECUTION", State: types.JobStateActive}
	st.runners["r1"] = &types.Runner{ID: "r1", AssignedJobID: "j1", State: types.RunnerBusy}

	if err := s.ReportStatus(ctx, StatusReport{JobID: "j1", Status: types.JobStateCompleted}); err != nil {
		t.Fatalf("ReportStatus: %v", err)
	}

	job, _ := st.GetJob(ctx, "j1")
	if job.State != types.JobStateCompleted {
		t.Errorf("expected job completed, got %v", job.State)
	}
	r, _ := st.GetRunner(ctx, "r1")
	if r.AssignedJobID != "" || r.State != types.RunnerIdle {
		t.Errorf("expected runner freed, got %+v", r)
	}
}

func TestReportStatusRejectsAlreadyTerminalJob(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	st.jobs["j1"] = &types.Job{ID: "j1", State: types.JobStateCompleted}

	err := s.ReportStatus(ctx, StatusReport{JobID: "j1", Status: types.JobStateFailed})
	if err == nil {
		t.Fatal("expected conflict error for already-terminal job")
	}
}
