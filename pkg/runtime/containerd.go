package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cgroupstats "github.com/containerd/cgroups/stats/v1"
	"github.com/containerd/containerd"
	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/containerd/typeurl/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/ciorch/pkg/types"
)

// ctrdTypesMetric is the containerd task metrics envelope.
type ctrdTypesMetric = apitypes.Metric

const (
	// DefaultNamespace is the containerd namespace the orchestrator creates
	// sandbox containers in.
	DefaultNamespace = "orchestrator"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Engine is the subset of container lifecycle operations the Container
// Pool (C7) and Container Lifecycle (C8) components depend on. Defined here
// so callers can substitute a fake in tests without touching containerd.
type Engine interface {
	CreateContainer(ctx context.Context, imageRef string, c *types.Container) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	DeleteContainer(ctx context.Context, containerID string) error
	GetContainerStatus(ctx context.Context, containerID string) (types.ContainerState, error)
	GetContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error)
	Exec(ctx context.Context, containerID string, spec ExecSpec) (types.ExecResult, error)
	Stats(ctx context.Context, containerID string) (types.ContainerStats, error)
	ListContainers(ctx context.Context) ([]string, error)
	Close() error
}

// ExecSpec describes a one-shot command run inside a running container.
type ExecSpec struct {
	Cmd []string
	Env []string
	User string
	Cwd  string
}

// ContainerdRuntime implements Engine using containerd.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	logDir    string

	mu      sync.Mutex
	prevCPU map[string]cpuSample
}

type cpuSample struct {
	containerNano uint64
	systemNano    uint64
	at            time.Time
}

// NewContainerdRuntime creates a new containerd runtime client.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	logDir := filepath.Join(os.TempDir(), "orchestrator-container-logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create container log directory: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
		logDir:    logDir,
		prevCPU:   make(map[string]cpuSample),
	}, nil
}

func (r *ContainerdRuntime) logPath(containerID string) string {
	return filepath.Join(r.logDir, containerID+".log")
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// PullImage pulls a container image from a registry.
func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// defaultSandboxUID is the non-root UID sandbox containers run as unless a
// job's labels explicitly ask to run as root (e.g. a workflow step that
// itself builds container images).
const defaultSandboxUID = 65534

// specOpts builds the OCI spec options for a sandbox container. containerd's
// generated default spec already carries its compiled-in default seccomp
// profile; this only adds what that default doesn't: non-root UID, an
// optional read-only rootfs, dropped capabilities, and the resource caps
// from c.Limits.
func specOpts(c *types.Container, image containerd.Image) []oci.SpecOpts {
	opts := []oci.SpecOpts{oci.WithImageConfig(image)}

	if c.Limits.CPUCores > 0 {
		shares := uint64(c.Limits.CPUCores * 1024)
		quota := int64(c.Limits.CPUCores * 100000)
		period := uint64(100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if c.Limits.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(c.Limits.MemoryBytes)))
	}
	if c.Limits.PidsLimit > 0 {
		opts = append(opts, oci.WithPidsLimit(c.Limits.PidsLimit))
	}

	if c.Labels["run_as_root"] != "true" {
		opts = append(opts, oci.WithUIDGID(defaultSandboxUID, defaultSandboxUID))
	}
	if c.Labels["readonly_rootfs"] == "true" {
		opts = append(opts, oci.WithRootFSReadonly())
	}
	opts = append(opts, oci.WithCapabilities(nil))

	return opts
}

// CreateContainer creates a container from an image reference and a
// sandbox descriptor.
func (r *ContainerdRuntime) CreateContainer(ctx context.Context, imageRef string, c *types.Container) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, imageRef)
	if err != nil {
		return "", fmt.Errorf("failed to get image %s: %w", imageRef, err)
	}

	opts := specOpts(c, image)

	ctrdContainer, err := r.client.NewContainer(
		ctx,
		c.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(c.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return ctrdContainer.ID(), nil
}

// StartContainer starts a container and its backing task.
func (r *ContainerdRuntime) StartContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.NewTask(ctx, cio.LogFile(r.logPath(containerID)))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	return nil
}

// StopContainer stops a running container, escalating from SIGTERM to
// SIGKILL if it has not exited within timeout.
func (r *ContainerdRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	return nil
}

// DeleteContainer stops (if running) and removes a container and its
// snapshot.
func (r *ContainerdRuntime) DeleteContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}

	if err := r.StopContainer(ctx, containerID, 10*time.Second); err != nil {
		// continue with deletion regardless
		_ = err
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}

	r.mu.Lock()
	delete(r.prevCPU, containerID)
	r.mu.Unlock()
	_ = os.Remove(r.logPath(containerID))

	return nil
}

// GetContainerStatus returns the lifecycle state of a container.
func (r *ContainerdRuntime) GetContainerStatus(ctx context.Context, containerID string) (types.ContainerState, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return types.ContainerRemoved, fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.ContainerStopped, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return types.ContainerStopped, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return types.ContainerRunning, nil
	case containerd.Stopped:
		return types.ContainerStopped, nil
	default:
		return types.ContainerCreating, nil
	}
}

// GetContainerLogs returns a container's combined stdout/stderr as captured
// in its cio.LogFile sink since task start, tailing the most recent tail
// lines if tail > 0.
func (r *ContainerdRuntime) GetContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error) {
	f, err := os.Open(r.logPath(containerID))
	if err != nil {
		if os.IsNotExist(err) {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, fmt.Errorf("failed to open log file for %s: %w", containerID, err)
	}
	defer f.Close()

	if tail <= 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read log file for %s: %w", containerID, err)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	lines := make([]string, 0, tail)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > tail {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file for %s: %w", containerID, err)
	}

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return io.NopCloser(&buf), nil
}

// Exec runs a one-shot command inside a running container and collects its
// output and exit code.
func (r *ContainerdRuntime) Exec(ctx context.Context, containerID string, spec ExecSpec) (types.ExecResult, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("failed to get task: %w", err)
	}

	processSpec := &specs.Process{
		Args: spec.Cmd,
		Env:  spec.Env,
		Cwd:  spec.Cwd,
	}
	if processSpec.Cwd == "" {
		processSpec.Cwd = "/"
	}

	var stdout, stderr bytes.Buffer
	execID := fmt.Sprintf("exec-%d", time.Now().UnixNano())

	process, err := task.Exec(ctx, execID, processSpec, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("failed to exec in container: %w", err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("failed to wait for exec: %w", err)
	}

	if err := process.Start(ctx); err != nil {
		return types.ExecResult{}, fmt.Errorf("failed to start exec process: %w", err)
	}

	status := <-statusC

	return types.ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: int(status.ExitCode()),
	}, nil
}

// Stats reads a point-in-time resource usage snapshot for a container,
// computing CPU percentage from two successive cgroup samples.
func (r *ContainerdRuntime) Stats(ctx context.Context, containerID string) (types.ContainerStats, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return types.ContainerStats{}, fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.ContainerStats{}, fmt.Errorf("failed to get task: %w", err)
	}

	metric, err := task.Metrics(ctx)
	if err != nil {
		return types.ContainerStats{}, fmt.Errorf("failed to read task metrics: %w", err)
	}

	cpuPercent, memUsage, memLimit := r.computeStats(containerID, metric)

	return types.ContainerStats{
		CPUPercent: cpuPercent,
		MemUsage:   memUsage,
		MemLimit:   memLimit,
		SampledAt:  time.Now(),
	}, nil
}

// computeStats decodes a containerd task metrics envelope into a CPU
// percentage and memory figures. CPU percentage is derived from the delta
// between two successive samples against wall-clock time, matching the
// classic (Δcontainer_cpu / Δwall_time) * 100 formula; the first sample for
// a container always reads 0% since there is no prior delta to compare.
func (r *ContainerdRuntime) computeStats(containerID string, metric *ctrdTypesMetric) (cpuPercent float64, memUsage int64, memLimit int64) {
	v, err := typeurl.UnmarshalAny(metric.Data)
	if err != nil {
		return 0, 0, 0
	}

	m, ok := v.(*cgroupstats.Metrics)
	if !ok || m.CPU == nil || m.Memory == nil {
		return 0, 0, 0
	}

	now := time.Now()
	cur := cpuSample{containerNano: m.CPU.Usage.Total, systemNano: uint64(now.UnixNano()), at: now}

	r.mu.Lock()
	prev, hasPrev := r.prevCPU[containerID]
	r.prevCPU[containerID] = cur
	r.mu.Unlock()

	if hasPrev {
		elapsed := cur.at.Sub(prev.at).Nanoseconds()
		if elapsed > 0 && cur.containerNano >= prev.containerNano {
			cpuDelta := float64(cur.containerNano - prev.containerNano)
			cpuPercent = (cpuDelta / float64(elapsed)) * 100
		}
	}

	if m.Memory.Usage != nil {
		memUsage = int64(m.Memory.Usage.Usage)
		memLimit = int64(m.Memory.Usage.Limit)
	}

	return cpuPercent, memUsage, memLimit
}

// IsRunning reports whether a container is currently running.
func (r *ContainerdRuntime) IsRunning(ctx context.Context, containerID string) bool {
	status, err := r.GetContainerStatus(ctx, containerID)
	if err != nil {
		return false
	}
	return status == types.ContainerRunning
}

// ListContainers returns all containers in the orchestrator namespace.
func (r *ContainerdRuntime) ListContainers(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
