package ha

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/ciorch/pkg/events"
)

func TestMonitorReportsHealthyWhenProbeSucceeds(t *testing.T) {
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	m := NewMonitor(20*time.Millisecond, bus)
	m.Register("dep", func(ctx context.Context) error { return nil }, time.Second, nil)
	m.Start(context.Background())
	defer m.Stop()

	time.Sleep(30 * time.Millisecond)
	state, ok := m.State("dep")
	if !ok {
		t.Fatal("expected dep to be registered")
	}
	if state != HealthHealthy {
		t.Errorf("expected HealthHealthy, got %v", state)
	}
}

func TestMonitorTriggersFailoverAfterSustainedOutage(t *testing.T) {
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	var failovers int32
	m := NewMonitor(10*time.Millisecond, bus)
	m.Register("dep", func(ctx context.Context) error {
		return fmt.Errorf("dependency down")
	}, 30*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&failovers, 1)
		return nil
	})
	m.Start(context.Background())
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&failovers) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt32(&failovers) == 0 {
		t.Fatal("expected failover to run after sustained outage")
	}
}
