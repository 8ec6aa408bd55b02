package ha

import (
	"context"
	"time"

	"github.com/cuemby/ciorch/pkg/coord"
	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/store"
)

// Deps are the dependencies the Controller supervises and the storage
// failover is performed against.
type Deps struct {
	Store store.Store
	Coord coord.Store

	// ContainerEnginePing probes the container engine socket.
	ContainerEnginePing func(ctx context.Context) error

	// LocalAPIPing probes this replica's own HTTP listener (a loopback
	// health check, catching a wedged server that still holds its socket
	// open but no longer serves requests).
	LocalAPIPing func(ctx context.Context) error

	// OnStorePrimaryFailover runs when the Durable Store is judged
	// unhealthy past its threshold: typically promotes a standby,
	// re-points the connection pool, and signals queue drain pause.
	OnStorePrimaryFailover func(ctx context.Context) error

	// OnCoordMasterFailover runs when the Coordination Store master is
	// judged unhealthy past its threshold: waits for sentinel/replica
	// promotion and re-points the coordination client.
	OnCoordMasterFailover func(ctx context.Context) error
}

// Controller assembles leader election and the dependency health monitor
// into the HA Controller (C10).
type Controller struct {
	Elector *Elector
	Monitor *Monitor
}

// NewController wires an Elector and a Monitor with the standard four
// supervised dependencies (Durable Store, Coordination Store, container
// engine, local API), each probe wrapped in its own circuit breaker.
func NewController(holderID string, leaseTTL, renewInterval, healthInterval, failoverThreshold time.Duration, bus *events.Broker, deps Deps) *Controller {
	elector := NewElector(deps.Coord, holderID, leaseTTL, renewInterval)
	monitor := NewMonitor(healthInterval, bus)

	monitor.Register("durable_store", func(ctx context.Context) error {
		return deps.Store.Ping(ctx)
	}, failoverThreshold, deps.OnStorePrimaryFailover)

	monitor.Register("coordination_store", func(ctx context.Context) error {
		return deps.Coord.Ping(ctx)
	}, failoverThreshold, deps.OnCoordMasterFailover)

	if deps.ContainerEnginePing != nil {
		monitor.Register("container_engine", deps.ContainerEnginePing, failoverThreshold, nil)
	}
	if deps.LocalAPIPing != nil {
		monitor.Register("local_api", deps.LocalAPIPing, failoverThreshold, nil)
	}

	return &Controller{Elector: elector, Monitor: monitor}
}

// Start begins leader election and dependency health monitoring.
func (c *Controller) Start(ctx context.Context) {
	c.Elector.Start(ctx)
	c.Monitor.Start(ctx)
}

// Stop ends both loops, releasing the leader lease if held.
func (c *Controller) Stop() {
	c.Monitor.Stop()
	c.Elector.Stop()
}

// IsLeader is the leader-gate callback handed to the cron scheduler, which
// enqueues scheduled jobs (including the cleanup_* classes) only while it
// returns true. The pool reconcile loop does not take it and runs on every
// replica.
func (c *Controller) IsLeader() bool {
	return c.Elector.IsLeader()
}
