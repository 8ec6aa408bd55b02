package queue

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/health"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/runtime"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// healthTracker holds one health.Status per sandbox across repeated
// health_check jobs, so consecutive-failure hysteresis spans job runs
// rather than resetting every tick.
type healthTracker struct {
	mu   sync.Mutex
	byID map[string]*health.Status
}

func newHealthTracker() *healthTracker {
	return &healthTracker{byID: make(map[string]*health.Status)}
}

func (t *healthTracker) get(containerID string) *health.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[containerID]
	if !ok {
		s = health.NewStatus()
		t.byID[containerID] = s
	}
	return s
}

func (t *healthTracker) forget(containerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, containerID)
}

// engineExecer adapts runtime.Engine's ExecSpec-based Exec to the plain
// []string command health.Execer expects, so pkg/health never needs to
// import pkg/runtime.
type engineExecer struct {
	eng runtime.Engine
}

func (e engineExecer) Exec(ctx context.Context, containerID string, cmd []string) (types.ExecResult, error) {
	return e.eng.Exec(ctx, containerID, runtime.ExecSpec{Cmd: cmd})
}

const (
	// healthLabelTCPAddr names the optional container label carrying a
	// host:port a network health check should dial.
	healthLabelTCPAddr = "health.tcp_addr"
	// healthLabelURL names the optional container label carrying an HTTP
	// URL a liveness health check should poll.
	healthLabelURL = "health.url"
)

// runHealthCheck drives the four health probe classes named in §4.5 against
// a sandbox: the container engine's own state (basic liveness), an optional
// labeled TCP/HTTP endpoint (network), filesystem usage inside the
// container, and resource usage reported by the runtime. A sandbox is
// healthy only while every enabled check passes; three consecutive failed
// passes quarantines it instead of returning it to the idle pool.
func runHealthCheck(ctx context.Context, job *types.Job, eng runtime.Engine, pool Allocator, st store.Store, tracker *healthTracker, logger zerolog.Logger) error {
	var p containerIDPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return orcherr.Validation("malformed health_check payload: %v", err)
	}

	state, err := eng.GetContainerStatus(ctx, p.ContainerID)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "inspect container %s", p.ContainerID)
	}
	if state != types.ContainerRunning {
		logger.Warn().Str("container_id", p.ContainerID).Str("state", string(state)).Msg("health check found non-running container, quarantining")
		tracker.forget(p.ContainerID)
		return pool.Quarantine(ctx, p.ContainerID)
	}

	c, err := st.GetContainer(ctx, p.ContainerID)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "load container %s", p.ContainerID)
	}

	execer := engineExecer{eng: eng}
	checkers := []health.Checker{
		health.NewResourcesChecker(p.ContainerID).WithStatsProvider(eng),
		health.NewFilesystemChecker(p.ContainerID).WithEngine(execer),
	}
	if addr := c.Labels[healthLabelTCPAddr]; addr != "" {
		checkers = append(checkers, health.NewTCPChecker(addr))
	}
	if url := c.Labels[healthLabelURL]; url != "" {
		checkers = append(checkers, health.NewHTTPChecker(url))
	}

	cfg := health.DefaultConfig()
	status := tracker.get(p.ContainerID)
	if status.InStartPeriod(cfg) {
		return nil
	}

	healthy := true
	var reasons []string
	for _, chk := range checkers {
		res := chk.Check(ctx)
		if !res.Healthy {
			healthy = false
			reasons = append(reasons, string(chk.Type())+": "+res.Message)
		}
	}

	status.Update(health.Result{Healthy: healthy, Message: strings.Join(reasons, "; "), CheckedAt: time.Now()}, cfg)
	if !status.Healthy {
		logger.Warn().Str("container_id", p.ContainerID).Int("consecutive_failures", status.ConsecutiveFailures).Str("reason", status.LastResult.Message).Msg("sandbox failed health checks, quarantining")
		tracker.forget(p.ContainerID)
		return pool.Quarantine(ctx, p.ContainerID)
	}
	return nil
}
