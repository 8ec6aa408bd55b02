package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ciorch/pkg/runtime"
	"github.com/cuemby/ciorch/pkg/security"
	"github.com/cuemby/ciorch/pkg/types"
)

// fakeAllocator is a minimal Allocator fake recording Request/Release/
// Quarantine calls without needing a real Container Pool.
type fakeAllocator struct {
	mu          sync.Mutex
	released    []string
	quarantined []string
	container   *types.Container
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{container: &types.Container{ID: "c1", ImageDigest: "docker.io/acme/runner:latest"}}
}

func (f *fakeAllocator) Request(ctx context.Context, labels map[string]string, repo string, priority types.Priority) (*types.Container, error) {
	return f.container, nil
}

func (f *fakeAllocator) Release(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, containerID)
	return nil
}

func (f *fakeAllocator) Quarantine(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quarantined = append(f.quarantined, containerID)
	return nil
}

// fakeExecEngine is a minimal runtime.Engine fake exercising only Exec.
type fakeExecEngine struct {
	execResult  types.ExecResult
	execErr     error
	execCmd     []string
	statusState types.ContainerState
	statsResult types.ContainerStats
	statsErr    error
}

func (f *fakeExecEngine) CreateContainer(ctx context.Context, imageRef string, c *types.Container) (string, error) {
	return c.ID, nil
}
func (f *fakeExecEngine) StartContainer(ctx context.Context, id string) error { return nil }
func (f *fakeExecEngine) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	return nil
}
func (f *fakeExecEngine) DeleteContainer(ctx context.Context, id string) error { return nil }
func (f *fakeExecEngine) GetContainerStatus(ctx context.Context, id string) (types.ContainerState, error) {
	if f.statusState == "" {
		return types.ContainerRunning, nil
	}
	return f.statusState, nil
}
func (f *fakeExecEngine) GetContainerLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (f *fakeExecEngine) Exec(ctx context.Context, id string, spec runtime.ExecSpec) (types.ExecResult, error) {
	f.execCmd = spec.Cmd
	return f.execResult, f.execErr
}
func (f *fakeExecEngine) Stats(ctx context.Context, id string) (types.ContainerStats, error) {
	return f.statsResult, f.statsErr
}
func (f *fakeExecEngine) ListContainers(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeExecEngine) Close() error                                        { return nil }

// fakeEvaluator is a minimal SecurityEvaluator fake returning a fixed
// verdict or error.
type fakeEvaluator struct {
	verdict *security.Verdict
	err     error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, c *types.Container, attrs security.Attrs, policyIDs []string) (*security.Verdict, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

func blockVerdict() *security.Verdict {
	return &security.Verdict{Fired: []security.Rule{{ID: "no-root", Actions: []security.Action{security.ActionBlock}}}}
}

func passVerdict() *security.Verdict {
	return &security.Verdict{}
}

func execWorkflowPayload(t *testing.T, workflow, repo string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]string{"workflow": workflow, "event": "push", "repository": repo})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestExecuteWorkflowRunsAndReleasesSandbox(t *testing.T) {
	pool := newFakeAllocator()
	eng := &fakeExecEngine{execResult: types.ExecResult{ExitCode: 0}}
	proc := NewJobExecutionProcessor(pool, &fakeEvaluator{verdict: passVerdict()}, eng, []string{"default"})

	job := &types.Job{Class: types.JobExecuteWorkflow, Payload: execWorkflowPayload(t, "ci.yml", "acme/widgets")}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(pool.released) != 1 || pool.released[0] != "c1" {
		t.Errorf("expected sandbox c1 released, got %v", pool.released)
	}
	if len(pool.quarantined) != 0 {
		t.Errorf("expected no quarantine on a clean run, got %v", pool.quarantined)
	}
	if len(eng.execCmd) == 0 || eng.execCmd[len(eng.execCmd)-1] != "ci.yml" {
		t.Errorf("expected workflow name forwarded to exec, got %v", eng.execCmd)
	}
}

func TestExecuteWorkflowBlockedBySecurityQuarantinesAndSkipsExec(t *testing.T) {
	pool := newFakeAllocator()
	eng := &fakeExecEngine{execResult: types.ExecResult{ExitCode: 0}}
	proc := NewJobExecutionProcessor(pool, &fakeEvaluator{verdict: blockVerdict()}, eng, []string{"default"})

	job := &types.Job{Class: types.JobExecuteWorkflow, Payload: execWorkflowPayload(t, "ci.yml", "acme/widgets")}
	if err := proc.Process(context.Background(), job); err == nil {
		t.Fatal("expected error for a blocked sandbox")
	}

	if len(pool.quarantined) != 1 || pool.quarantined[0] != "c1" {
		t.Errorf("expected sandbox c1 quarantined, got %v", pool.quarantined)
	}
	if len(pool.released) != 0 {
		t.Errorf("expected no release for a quarantined sandbox, got %v", pool.released)
	}
	if eng.execCmd != nil {
		t.Errorf("expected exec never to run against a blocked sandbox, got %v", eng.execCmd)
	}
}

func TestExecuteWorkflowNonZeroExitReturnsErrorAndReleases(t *testing.T) {
	pool := newFakeAllocator()
	eng := &fakeExecEngine{execResult: types.ExecResult{ExitCode: 1, Stderr: []byte("boom")}}
	proc := NewJobExecutionProcessor(pool, &fakeEvaluator{verdict: passVerdict()}, eng, []string{"default"})

	job := &types.Job{Class: types.JobExecuteWorkflow, Payload: execWorkflowPayload(t, "ci.yml", "acme/widgets")}
	if err := proc.Process(context.Background(), job); err == nil {
		t.Fatal("expected error for a nonzero workflow exit code")
	}
	if len(pool.released) != 1 {
		t.Errorf("expected sandbox released even on workflow failure, got %v", pool.released)
	}
}

func TestPrepareRunnerReleasesSandbox(t *testing.T) {
	pool := newFakeAllocator()
	proc := NewJobExecutionProcessor(pool, nil, &fakeExecEngine{}, nil)

	payload, _ := json.Marshal(map[string]string{"repository": "acme/widgets"})
	job := &types.Job{Class: types.JobPrepareRunner, Payload: payload}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pool.released) != 1 {
		t.Errorf("expected prewarmed sandbox released, got %v", pool.released)
	}
}

func TestCleanupRunnerIsNoOp(t *testing.T) {
	pool := newFakeAllocator()
	proc := NewJobExecutionProcessor(pool, nil, &fakeExecEngine{}, nil)

	job := &types.Job{Class: types.JobCleanupRunner, SourceEventID: "job-1"}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pool.released) != 0 || len(pool.quarantined) != 0 {
		t.Errorf("expected cleanup_runner to touch no sandbox, got released=%v quarantined=%v", pool.released, pool.quarantined)
	}
}

func TestJobExecutionProcessorRejectsUnknownClass(t *testing.T) {
	proc := NewJobExecutionProcessor(newFakeAllocator(), nil, &fakeExecEngine{}, nil)
	job := &types.Job{Class: types.JobCollectMetrics}
	if err := proc.Process(context.Background(), job); err == nil {
		t.Fatal("expected error for an unhandled class")
	}
}
