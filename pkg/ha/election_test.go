package ha

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ciorch/pkg/types"
)

// fakeCoord is a minimal in-memory coord.Store exercising only the lease
// operations Elector uses.
type fakeCoord struct {
	mu          sync.Mutex
	holder      string
	generation  int64
	expiresAt   time.Time
	failAcquire bool
}

func (f *fakeCoord) AcquireLease(ctx context.Context, key, holderID string, ttl time.Duration) (*types.Lease, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAcquire {
		return nil, false, fmt.Errorf("coordination store unreachable")
	}

	now := time.Now()
	if f.holder == "" || now.After(f.expiresAt) || f.holder == holderID {
		if f.holder != holderID {
			f.generation++
		}
		f.holder = holderID
		f.expiresAt = now.Add(ttl)
		return &types.Lease{Key: key, HolderID: holderID, ExpiresAt: f.expiresAt, Generation: f.generation}, true, nil
	}
	return &types.Lease{Key: key, HolderID: f.holder, ExpiresAt: f.expiresAt, Generation: f.generation}, false, nil
}

func (f *fakeCoord) RenewLease(ctx context.Context, key, holderID string, ttl time.Duration) (*types.Lease, error) {
	lease, granted, err := f.AcquireLease(ctx, key, holderID, ttl)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, fmt.Errorf("lease no longer held")
	}
	return lease, nil
}

func (f *fakeCoord) ReleaseLease(ctx context.Context, key, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder == holderID {
		f.holder = ""
	}
	return nil
}

func (f *fakeCoord) GetLease(ctx context.Context, key string) (*types.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Lease{Key: key, HolderID: f.holder, ExpiresAt: f.expiresAt, Generation: f.generation}, nil
}

func (f *fakeCoord) Publish(ctx context.Context, channel string, payload []byte) error { return nil }
func (f *fakeCoord) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (f *fakeCoord) Ping(ctx context.Context) error { return nil }
func (f *fakeCoord) Close() error                   { return nil }

func TestElectorAcquiresLeadershipWhenUncontested(t *testing.T) {
	fc := &fakeCoord{}
	e := NewElector(fc, "replica-a", time.Second, 200*time.Millisecond)
	e.Start(context.Background())
	defer e.Stop()

	if !e.IsLeader() {
		t.Fatal("expected sole contender to acquire leadership immediately")
	}
	if e.Generation() != 1 {
		t.Errorf("expected generation 1 on first acquisition, got %d", e.Generation())
	}
}

func TestElectorLosesLeadershipOnAcquireFailure(t *testing.T) {
	fc := &fakeCoord{}
	e := NewElector(fc, "replica-a", time.Second, 200*time.Millisecond)
	e.Start(context.Background())
	defer e.Stop()

	if !e.IsLeader() {
		t.Fatal("expected initial acquisition to succeed")
	}

	fc.mu.Lock()
	fc.failAcquire = true
	fc.mu.Unlock()

	e.tick(context.Background())
	if e.IsLeader() {
		t.Fatal("expected leadership to be lost after a failed renewal")
	}
}

func TestElectorSecondContenderDoesNotAcquireWhileHeld(t *testing.T) {
	fc := &fakeCoord{}
	a := NewElector(fc, "replica-a", time.Minute, 10*time.Second)
	a.Start(context.Background())
	defer a.Stop()

	b := NewElector(fc, "replica-b", time.Minute, 10*time.Second)
	b.Start(context.Background())
	defer b.Stop()

	if !a.IsLeader() {
		t.Fatal("expected replica-a to hold the lease")
	}
	if b.IsLeader() {
		t.Fatal("expected replica-b to be a standby while replica-a holds the lease")
	}
}
