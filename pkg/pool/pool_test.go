package pool

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/runtime"
	"github.com/cuemby/ciorch/pkg/security"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// fakeEngine is a minimal runtime.Engine good enough to exercise the pool's
// create/start/stop/delete calls without containerd.
type fakeEngine struct {
	mu       sync.Mutex
	created  int
	statuses map[string]types.ContainerState
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{statuses: make(map[string]types.ContainerState)}
}

func (f *fakeEngine) CreateContainer(ctx context.Context, imageRef string, c *types.Container) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.statuses[c.ID] = types.ContainerCreating
	return c.ID, nil
}
func (f *fakeEngine) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = types.ContainerRunning
	return nil
}
func (f *fakeEngine) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	return nil
}
func (f *fakeEngine) DeleteContainer(ctx context.Context, id string) error { return nil }
func (f *fakeEngine) GetContainerStatus(ctx context.Context, id string) (types.ContainerState, error) {
	return f.statuses[id], nil
}
func (f *fakeEngine) GetContainerLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (f *fakeEngine) Exec(ctx context.Context, id string, spec runtime.ExecSpec) (types.ExecResult, error) {
	return types.ExecResult{}, nil
}
func (f *fakeEngine) Stats(ctx context.Context, id string) (types.ContainerStats, error) {
	return types.ContainerStats{}, nil
}
func (f *fakeEngine) ListContainers(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) Close() error                                        { return nil }

// memStore is a minimal in-memory store.Store exercising only the
// container methods the pool uses.
type memStore struct {
	store.Store
	mu         sync.Mutex
	containers map[string]*types.Container
}

func newMemStore() *memStore {
	return &memStore{containers: make(map[string]*types.Container)}
}

func (m *memStore) CreateContainer(ctx context.Context, c *types.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.containers[c.ID] = &cp
	return nil
}
func (m *memStore) UpdateContainer(ctx context.Context, c *types.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.containers[c.ID] = &cp
	return nil
}
func (m *memStore) GetContainer(ctx context.Context, id string) (*types.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containers[id], nil
}
func (m *memStore) ListContainersByState(ctx context.Context, state types.ContainerState) ([]*types.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Container
	for _, c := range m.containers {
		if c.State == state {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestPool(t *testing.T) (*Pool, *memStore, *fakeEngine) {
	t.Helper()
	st := newMemStore()
	eng := newFakeEngine()
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)
	cfg := config.Pool{Min: 1, Max: 3, ScaleDownIdle: time.Minute}
	p := New(st, eng, bus, cfg, func(map[string]string) string { return "runner:latest" })
	return p, st, eng
}

// fakeEvaluator is a minimal SecurityEvaluator returning a fixed verdict.
type fakeEvaluator struct {
	verdict *security.Verdict
	calls   int
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, c *types.Container, attrs security.Attrs, policyIDs []string) (*security.Verdict, error) {
	f.calls++
	return f.verdict, nil
}

func TestRequestBlockedBySecurityEvaluatorTearsDownSandbox(t *testing.T) {
	p, _, eng := newTestPool(t)
	ev := &fakeEvaluator{verdict: &security.Verdict{Fired: []security.Rule{{ID: "no-root", Actions: []security.Action{security.ActionBlock}}}}}
	p.SetEvaluator(ev, []string{"default"})

	c, err := p.Request(context.Background(), map[string]string{"os": "linux"}, "acme/widgets", types.PriorityNormal)
	if err == nil {
		t.Fatal("expected a blocked admission to fail the request")
	}
	if c != nil {
		t.Errorf("expected no container returned on blocked admission, got %+v", c)
	}
	if ev.calls != 1 {
		t.Errorf("expected evaluator consulted once, got %d", ev.calls)
	}
	if eng.created != 1 {
		t.Errorf("expected the blocked sandbox to still have been created before teardown, got %d", eng.created)
	}
}

func TestRequestPermittedBySecurityEvaluatorSucceeds(t *testing.T) {
	p, _, _ := newTestPool(t)
	ev := &fakeEvaluator{verdict: &security.Verdict{}}
	p.SetEvaluator(ev, []string{"default"})

	c, err := p.Request(context.Background(), map[string]string{"os": "linux"}, "acme/widgets", types.PriorityNormal)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if c == nil {
		t.Fatal("expected a container on a permissive verdict")
	}
	if ev.calls != 1 {
		t.Errorf("expected evaluator consulted once, got %d", ev.calls)
	}
}

func TestRequestCreatesWhenPoolEmpty(t *testing.T) {
	p, _, eng := newTestPool(t)

	c, err := p.Request(context.Background(), map[string]string{"os": "linux"}, "acme/widgets", types.PriorityNormal)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if c.Labels["pool.status"] != "busy" {
		t.Errorf("expected freshly allocated container to be busy, got %q", c.Labels["pool.status"])
	}
	if eng.created != 1 {
		t.Errorf("expected 1 container created, got %d", eng.created)
	}
}

func TestReleaseThenRequestReusesIdleContainer(t *testing.T) {
	p, _, eng := newTestPool(t)

	c, err := p.Request(context.Background(), map[string]string{"os": "linux"}, "acme/widgets", types.PriorityNormal)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := p.Release(context.Background(), c.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	c2, err := p.Request(context.Background(), map[string]string{"os": "linux"}, "acme/widgets", types.PriorityNormal)
	if err != nil {
		t.Fatalf("Request #2: %v", err)
	}
	if c2.ID != c.ID {
		t.Errorf("expected reuse of released container %s, got %s", c.ID, c2.ID)
	}
	if eng.created != 1 {
		t.Errorf("expected no new container on reuse, got %d created", eng.created)
	}
}

func TestRequestQueuesWhenPoolExhausted(t *testing.T) {
	p, _, _ := newTestPool(t)

	var held []*types.Container
	for i := 0; i < 3; i++ {
		c, err := p.Request(context.Background(), nil, "acme/widgets", types.PriorityNormal)
		if err != nil {
			t.Fatalf("Request #%d: %v", i, err)
		}
		held = append(held, c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Request(ctx, nil, "acme/widgets", types.PriorityNormal); err == nil {
		t.Fatal("expected pool-exhausted request to time out, got nil error")
	}

	done := make(chan *types.Container, 1)
	go func() {
		c, err := p.Request(context.Background(), nil, "acme/widgets", types.PriorityCritical)
		if err != nil {
			t.Errorf("queued Request: %v", err)
			return
		}
		done <- c
	}()

	time.Sleep(10 * time.Millisecond)
	if err := p.Release(context.Background(), held[0].ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case c := <-done:
		if c.ID != held[0].ID {
			t.Errorf("queued request got container %s, want %s", c.ID, held[0].ID)
		}
	case <-time.After(time.Second):
		t.Fatal("queued request never resolved after release")
	}
}
