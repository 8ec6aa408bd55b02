package ha

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/metrics"
)

// Health is a supervised dependency's coarse state, reported by its probe.
type Health int

const (
	HealthUnhealthy Health = iota
	HealthDegraded
	HealthHealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Prober checks one dependency's reachability. A nil error means healthy;
// a non-nil error marks the component degraded until enough consecutive
// failures open its circuit breaker, after which it is unhealthy.
type Prober func(ctx context.Context) error

// component tracks one supervised dependency: its probe, circuit breaker,
// current state, and how long it has been continuously unhealthy.
type component struct {
	name          string
	probe         Prober
	breaker       *gobreaker.CircuitBreaker
	onFailover    func(ctx context.Context) error
	failoverAfter time.Duration

	mu             sync.Mutex
	state          Health
	unhealthySince time.Time
	failedOver     bool
}

// Monitor periodically probes every registered dependency, each wrapped in
// its own circuit breaker so a sustained-down dependency stops being
// hammered and instead short-circuits straight to unhealthy. A dependency
// unhealthy for longer than its configured threshold triggers its
// component-specific failover callback exactly once per outage.
type Monitor struct {
	interval   time.Duration
	components []*component
	bus        *events.Broker
	logger     zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor builds a health Monitor that probes every registered
// dependency every interval.
func NewMonitor(interval time.Duration, bus *events.Broker) *Monitor {
	return &Monitor{
		interval: interval,
		bus:      bus,
		logger:   log.WithComponent("ha-health"),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a supervised dependency. failoverAfter is how long the
// dependency must be continuously unhealthy before onFailover runs;
// onFailover may be nil for dependencies with no automated remediation
// (observation only).
func (m *Monitor) Register(name string, probe Prober, failoverAfter time.Duration, onFailover func(ctx context.Context) error) {
	m.components = append(m.components, &component{
		name:  name,
		probe: probe,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     failoverAfter,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		onFailover:    onFailover,
		failoverAfter: failoverAfter,
		state:         HealthHealthy,
	})
}

// Start begins the probe loop.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop ends the probe loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, c := range m.components {
		m.probeOne(ctx, c)
	}
}

func (m *Monitor) probeOne(ctx context.Context, c *component) {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.probe(ctx)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	prevState := c.state
	switch {
	case err == nil:
		c.state = HealthHealthy
		c.failedOver = false
	case c.breaker.State() == gobreaker.StateOpen:
		c.state = HealthUnhealthy
	default:
		c.state = HealthDegraded
	}

	if c.state != HealthHealthy {
		if prevState == HealthHealthy {
			c.unhealthySince = time.Now()
		}
	} else {
		c.unhealthySince = time.Time{}
	}

	metrics.HAComponentHealth.WithLabelValues(c.name).Set(float64(c.state))

	if prevState != c.state {
		m.logger.Warn().Str("component", c.name).Int("state", int(c.state)).Msg("dependency health state changed")
	}

	if c.state == HealthUnhealthy && !c.failedOver && !c.unhealthySince.IsZero() &&
		time.Since(c.unhealthySince) > c.failoverAfter && c.onFailover != nil {
		c.failedOver = true
		go m.runFailover(ctx, c)
	}
}

func (m *Monitor) runFailover(ctx context.Context, c *component) {
	m.logger.Error().Str("component", c.name).Msg("dependency unhealthy past threshold, running failover")
	metrics.HAFailoversTotal.WithLabelValues(c.name).Inc()

	foCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := c.onFailover(foCtx); err != nil {
		m.logger.Error().Err(err).Str("component", c.name).Msg("failover failed")
		return
	}

	m.bus.Publish(&events.Event{
		Type:     events.EventHAFailover,
		Metadata: map[string]string{"component": c.name},
	})
}

// State returns the current reported health of a named component, for
// diagnostics endpoints.
func (m *Monitor) State(name string) (Health, bool) {
	for _, c := range m.components {
		if c.name == name {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.state, true
		}
	}
	return HealthUnhealthy, false
}

// Snapshot returns every registered component's current health, keyed by
// name, for the monitoring dashboard endpoint.
func (m *Monitor) Snapshot() map[string]Health {
	out := make(map[string]Health, len(m.components))
	for _, c := range m.components {
		c.mu.Lock()
		out[c.name] = c.state
		c.mu.Unlock()
	}
	return out
}
