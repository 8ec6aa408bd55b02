package security

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// memStore is a minimal in-memory store.Store exercising only the security
// methods the evaluator uses.
type memStore struct {
	store.Store
	mu         sync.Mutex
	profiles   map[string]*types.SecurityProfile
	violations map[string]bool // key: ruleID + "|" + containerID, open only
}

func newMemStore() *memStore {
	return &memStore{
		profiles:   make(map[string]*types.SecurityProfile),
		violations: make(map[string]bool),
	}
}

func (m *memStore) UpsertSecurityProfile(ctx context.Context, p *types.SecurityProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.ContainerID] = &cp
	return nil
}

func (m *memStore) GetSecurityProfile(ctx context.Context, containerID string) (*types.SecurityProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[containerID], nil
}

func (m *memStore) InsertSecurityViolation(ctx context.Context, v *types.SecurityViolation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := v.RuleID + "|" + v.ContainerID
	if m.violations[key] {
		return false, nil
	}
	m.violations[key] = true
	p := m.profiles[v.ContainerID]
	if p == nil {
		p = &types.SecurityProfile{ContainerID: v.ContainerID}
	}
	p.Violations = append(p.Violations, *v)
	m.profiles[v.ContainerID] = p
	return true, nil
}

func (m *memStore) InsertSecurityScan(ctx context.Context, s *types.SecurityScan) error {
	return nil
}

// fakeQuarantiner tracks Quarantine calls without needing a real pool.
type fakeQuarantiner struct {
	mu          sync.Mutex
	quarantined []string
}

func (f *fakeQuarantiner) Quarantine(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quarantined = append(f.quarantined, containerID)
	return nil
}

func rootUserPolicy() *Policy {
	return &Policy{
		ID:   "test",
		Name: "test policy",
		Rules: []Rule{
			{
				ID:       "no-root",
				Severity: "critical",
				Conditions: []Condition{
					{Attribute: "user", Operator: OpEquals, Value: "root"},
				},
				Actions:  []Action{ActionAlert, ActionQuarantine},
				Enabled:  true,
				Priority: 1,
			},
		},
	}
}

func newTestEvaluator(t *testing.T, q Quarantiner) (*Evaluator, *memStore, *events.Broker) {
	t.Helper()
	st := newMemStore()
	bus := events.NewBroker()
	bus.Start()
	t.Cleanup(bus.Stop)
	e := NewEvaluator(st, bus, q, []*Policy{rootUserPolicy()})
	return e, st, bus
}

func TestEvaluateFiresMatchingRuleAndQuarantines(t *testing.T) {
	q := &fakeQuarantiner{}
	e, st, _ := newTestEvaluator(t, q)

	c := &types.Container{ID: "c1", ImageDigest: "docker.io/acme/widgets:1.0"}
	attrs := NewAttrs(c, true /* runAsRoot */, true /* readOnly */, false, nil)

	verdict, err := e.Evaluate(context.Background(), c, attrs, []string{"test"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(verdict.Fired) != 1 || verdict.Fired[0].ID != "no-root" {
		t.Fatalf("expected no-root rule to fire, got %+v", verdict.Fired)
	}
	if len(q.quarantined) != 1 || q.quarantined[0] != "c1" {
		t.Fatalf("expected container c1 to be quarantined, got %v", q.quarantined)
	}
	if verdict.Profile.Status != types.SecurityStatusCritical {
		t.Errorf("expected critical status from an unresolved critical violation, got %s", verdict.Profile.Status)
	}

	profile, _ := st.GetSecurityProfile(context.Background(), "c1")
	if len(profile.Violations) != 1 {
		t.Fatalf("expected 1 persisted violation, got %d", len(profile.Violations))
	}
}

func TestEvaluateIsIdempotentAcrossReruns(t *testing.T) {
	q := &fakeQuarantiner{}
	e, st, _ := newTestEvaluator(t, q)

	c := &types.Container{ID: "c1", ImageDigest: "docker.io/acme/widgets:1.0"}
	attrs := NewAttrs(c, true, true, false, nil)

	if _, err := e.Evaluate(context.Background(), c, attrs, []string{"test"}); err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	if _, err := e.Evaluate(context.Background(), c, attrs, []string{"test"}); err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}

	if len(q.quarantined) != 1 {
		t.Errorf("expected quarantine side effect to fire once, got %d calls", len(q.quarantined))
	}
	profile, _ := st.GetSecurityProfile(context.Background(), "c1")
	if len(profile.Violations) != 1 {
		t.Errorf("expected violation not to be duplicated across re-evaluation, got %d", len(profile.Violations))
	}
}

func TestEvaluateNonMatchingContainerStaysSecure(t *testing.T) {
	q := &fakeQuarantiner{}
	e, _, _ := newTestEvaluator(t, q)

	c := &types.Container{ID: "c2", ImageDigest: "docker.io/acme/widgets:1.0"}
	attrs := NewAttrs(c, false /* runAsRoot */, true, false, nil)

	verdict, err := e.Evaluate(context.Background(), c, attrs, []string{"test"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(verdict.Fired) != 0 {
		t.Fatalf("expected no rules to fire for a non-root container, got %+v", verdict.Fired)
	}
	if verdict.Profile.Status != types.SecurityStatusSecure {
		t.Errorf("expected secure status, got %s", verdict.Profile.Status)
	}
	if len(q.quarantined) != 0 {
		t.Errorf("expected no quarantine calls, got %v", q.quarantined)
	}
}
