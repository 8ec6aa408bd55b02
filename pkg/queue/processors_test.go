package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// processorStore is a minimal store.Store fake for exercising the
// processors in isolation, independent of engine_test.go's memStore.
type processorStore struct {
	store.Store
	mu          sync.Mutex
	containers  map[types.ContainerState][]*types.Container
	byID        map[string]*types.Container
	alerts      []*types.Alert
	snapshots   []*types.MetricsSnapshot
	deleted     map[types.JobState]int64
}

func newProcessorStore() *processorStore {
	return &processorStore{
		containers: make(map[types.ContainerState][]*types.Container),
		byID:       make(map[string]*types.Container),
		deleted:    make(map[types.JobState]int64),
	}
}

func (s *processorStore) GetContainer(ctx context.Context, id string) (*types.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id], nil
}

func (s *processorStore) ListContainersByState(ctx context.Context, state types.ContainerState) ([]*types.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containers[state], nil
}

func (s *processorStore) DeleteContainer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, list := range s.containers {
		for i, c := range list {
			if c.ID == id {
				s.containers[state] = append(list[:i], list[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (s *processorStore) InsertMetricsSnapshot(ctx context.Context, snap *types.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *processorStore) CreateAlert(ctx context.Context, a *types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *processorStore) DeleteJobsOlderThan(ctx context.Context, state types.JobState, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[state]++
	return s.deleted[state], nil
}

// enqueueRecorder is a minimal Enqueuer fake recording every job handed to it.
type enqueueRecorder struct {
	mu   sync.Mutex
	jobs []*types.Job
}

func (e *enqueueRecorder) Enqueue(ctx context.Context, job *types.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, job)
	return nil
}

func TestWebhookProcessorTranslatesQueuedWorkflowJob(t *testing.T) {
	enq := &enqueueRecorder{}
	proc := NewWebhookProcessingProcessor(enq)

	body, _ := json.Marshal(map[string]string{"action": "queued", "workflow": "ci.yml"})
	payload, _ := json.Marshal(map[string]interface{}{
		"event_type": "workflow_job",
		"repository": "acme/widgets",
		"body":       json.RawMessage(body),
	})

	job := &types.Job{ID: "job-1", Class: types.JobProcessWebhook, Payload: payload}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(enq.jobs) != 2 {
		t.Fatalf("expected 2 follow-on jobs, got %d", len(enq.jobs))
	}
	classes := map[types.JobClass]bool{}
	for _, j := range enq.jobs {
		classes[j.Class] = true
		if j.Queue != "" {
			t.Errorf("follow-on job %s should be unrouted until Enqueue runs, got queue %q", j.Class, j.Queue)
		}
		if j.SourceEventID != "job-1" {
			t.Errorf("follow-on job missing source event id")
		}
	}
	if !classes[types.JobExecuteWorkflow] || !classes[types.JobPrepareRunner] {
		t.Fatalf("expected execute_workflow and prepare_runner, got %v", classes)
	}
}

func TestWebhookProcessorIgnoresUnrecognizedAction(t *testing.T) {
	enq := &enqueueRecorder{}
	proc := NewWebhookProcessingProcessor(enq)

	body, _ := json.Marshal(map[string]string{"action": "requested"})
	payload, _ := json.Marshal(map[string]interface{}{
		"event_type": "workflow_job",
		"repository": "acme/widgets",
		"body":       json.RawMessage(body),
	})

	job := &types.Job{ID: "job-2", Class: types.JobProcessWebhook, Payload: payload}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(enq.jobs) != 0 {
		t.Fatalf("expected no follow-on jobs, got %d", len(enq.jobs))
	}
}

func TestMonitoringProcessorCollectsMetrics(t *testing.T) {
	st := newProcessorStore()
	st.containers[types.ContainerRunning] = []*types.Container{{ID: "c1"}}

	depths := func(ctx context.Context) (map[string]int, error) {
		return map[string]int{QueueJobExecution: 3}, nil
	}
	util := func(ctx context.Context) (float64, error) { return 0.42, nil }

	proc := NewMonitoringProcessor(st, depths, util)
	job := &types.Job{Class: types.JobCollectMetrics}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(st.snapshots) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(st.snapshots))
	}
	snap := st.snapshots[0]
	if snap.ContainersByState[types.ContainerRunning] != 1 {
		t.Errorf("expected 1 running container in snapshot, got %d", snap.ContainersByState[types.ContainerRunning])
	}
	if snap.PoolUtilization != 0.42 {
		t.Errorf("expected pool utilization 0.42, got %f", snap.PoolUtilization)
	}
}

func TestMonitoringProcessorSendsAlert(t *testing.T) {
	st := newProcessorStore()
	proc := NewMonitoringProcessor(st, nil, nil)

	payload, _ := json.Marshal(map[string]string{"severity": "critical", "message": "queue backed up"})
	job := &types.Job{Class: types.JobSendAlert, SourceEventID: "job-3", Payload: payload}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(st.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(st.alerts))
	}
	if st.alerts[0].Severity != types.SeverityCritical {
		t.Errorf("expected critical severity, got %s", st.alerts[0].Severity)
	}
}

func TestCleanupProcessorPrunesRemovedContainers(t *testing.T) {
	st := newProcessorStore()
	st.containers[types.ContainerRemoved] = []*types.Container{{ID: "c1"}, {ID: "c2"}}

	proc := NewCleanupProcessor(st, 24*time.Hour)
	job := &types.Job{Class: types.JobCleanupContainers}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(st.containers[types.ContainerRemoved]) != 0 {
		t.Fatalf("expected removed containers to be pruned, got %d remaining", len(st.containers[types.ContainerRemoved]))
	}
}

func TestCleanupProcessorRejectsUnknownClass(t *testing.T) {
	st := newProcessorStore()
	proc := NewCleanupProcessor(st, time.Hour)
	job := &types.Job{Class: types.JobExecuteWorkflow}
	if err := proc.Process(context.Background(), job); err == nil {
		t.Fatal("expected error for unhandled class")
	}
}
