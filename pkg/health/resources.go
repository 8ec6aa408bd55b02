package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/ciorch/pkg/types"
)

// StatsProvider reports a point-in-time resource usage snapshot for a
// sandbox. Satisfied directly by pkg/runtime.Engine.
type StatsProvider interface {
	Stats(ctx context.Context, containerID string) (types.ContainerStats, error)
}

// ResourcesChecker fails once a sandbox's CPU or memory usage crosses its
// configured ceiling, catching a runaway workflow before the scheduler
// notices the node is starved.
type ResourcesChecker struct {
	ContainerID   string
	MaxCPUPercent float64
	MaxMemPercent float64

	stats StatsProvider
}

// NewResourcesChecker creates a resources health checker for containerID.
func NewResourcesChecker(containerID string) *ResourcesChecker {
	return &ResourcesChecker{
		ContainerID:   containerID,
		MaxCPUPercent: 90,
		MaxMemPercent: 90,
	}
}

// WithStatsProvider wires the source of CPU/memory samples.
func (r *ResourcesChecker) WithStatsProvider(stats StatsProvider) *ResourcesChecker {
	r.stats = stats
	return r
}

// WithMaxCPUPercent overrides the CPU ceiling (default 90).
func (r *ResourcesChecker) WithMaxCPUPercent(pct float64) *ResourcesChecker {
	r.MaxCPUPercent = pct
	return r
}

// WithMaxMemPercent overrides the memory ceiling (default 90).
func (r *ResourcesChecker) WithMaxMemPercent(pct float64) *ResourcesChecker {
	r.MaxMemPercent = pct
	return r
}

// Check performs the resources health check
func (r *ResourcesChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if r.stats == nil {
		return Result{Healthy: false, Message: "no stats provider wired for resources check", CheckedAt: start, Duration: time.Since(start)}
	}

	stats, err := r.stats.Stats(ctx, r.ContainerID)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("stats unavailable: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	memPercent := 0.0
	if stats.MemLimit > 0 {
		memPercent = float64(stats.MemUsage) / float64(stats.MemLimit) * 100
	}

	healthy := stats.CPUPercent < r.MaxCPUPercent && memPercent < r.MaxMemPercent
	message := fmt.Sprintf("cpu=%.1f%% mem=%.1f%% (max cpu=%.0f%% mem=%.0f%%)", stats.CPUPercent, memPercent, r.MaxCPUPercent, r.MaxMemPercent)
	return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type
func (r *ResourcesChecker) Type() CheckType {
	return CheckTypeResources
}
