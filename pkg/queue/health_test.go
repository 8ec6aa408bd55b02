package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/types"
)

func TestRunHealthCheckQuarantinesNonRunningContainer(t *testing.T) {
	st := newProcessorStore()
	st.byID["c1"] = &types.Container{ID: "c1"}
	eng := &fakeExecEngine{statusState: types.ContainerStopped}
	pool := newFakeAllocator()
	tracker := newHealthTracker()

	payload, _ := json.Marshal(map[string]string{"container_id": "c1"})
	job := &types.Job{Class: types.JobHealthCheck, Payload: payload}
	if err := runHealthCheck(context.Background(), job, eng, pool, st, tracker, zerolog.Nop()); err != nil {
		t.Fatalf("runHealthCheck: %v", err)
	}
	if len(pool.quarantined) != 1 || pool.quarantined[0] != "c1" {
		t.Errorf("expected non-running container quarantined, got %v", pool.quarantined)
	}
}

func TestRunHealthCheckPassesWithinResourceBudget(t *testing.T) {
	st := newProcessorStore()
	st.byID["c1"] = &types.Container{ID: "c1"}
	eng := &fakeExecEngine{
		statsResult: types.ContainerStats{CPUPercent: 10, MemUsage: 100, MemLimit: 1000},
		execResult:  types.ExecResult{ExitCode: 0, Stdout: []byte("Filesystem 1024-blocks Used Available Capacity Mounted on\n/dev/root 100 10 90 10% /\n")},
	}
	pool := newFakeAllocator()
	tracker := newHealthTracker()

	payload, _ := json.Marshal(map[string]string{"container_id": "c1"})
	job := &types.Job{Class: types.JobHealthCheck, Payload: payload}
	if err := runHealthCheck(context.Background(), job, eng, pool, st, tracker, zerolog.Nop()); err != nil {
		t.Fatalf("runHealthCheck: %v", err)
	}
	if len(pool.quarantined) != 0 {
		t.Errorf("expected a healthy sandbox to stay out of quarantine, got %v", pool.quarantined)
	}
}

func TestRunHealthCheckQuarantinesAfterConsecutiveFailures(t *testing.T) {
	st := newProcessorStore()
	st.byID["c1"] = &types.Container{ID: "c1"}
	eng := &fakeExecEngine{
		statsResult: types.ContainerStats{CPUPercent: 99, MemUsage: 950, MemLimit: 1000},
		execResult:  types.ExecResult{ExitCode: 0, Stdout: []byte("Filesystem 1024-blocks Used Available Capacity Mounted on\n/dev/root 100 95 5 95% /\n")},
	}
	pool := newFakeAllocator()
	tracker := newHealthTracker()

	payload, _ := json.Marshal(map[string]string{"container_id": "c1"})
	job := &types.Job{Class: types.JobHealthCheck, Payload: payload}

	for i := 0; i < 2; i++ {
		if err := runHealthCheck(context.Background(), job, eng, pool, st, tracker, zerolog.Nop()); err != nil {
			t.Fatalf("runHealthCheck pass %d: %v", i, err)
		}
		if len(pool.quarantined) != 0 {
			t.Fatalf("expected no quarantine before the retry threshold, got %v after pass %d", pool.quarantined, i)
		}
	}

	if err := runHealthCheck(context.Background(), job, eng, pool, st, tracker, zerolog.Nop()); err != nil {
		t.Fatalf("runHealthCheck final pass: %v", err)
	}
	if len(pool.quarantined) != 1 || pool.quarantined[0] != "c1" {
		t.Errorf("expected sandbox quarantined after 3 consecutive failures, got %v", pool.quarantined)
	}
}
