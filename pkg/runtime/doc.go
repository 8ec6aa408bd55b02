/*
Package runtime provides containerd integration for the orchestrator's
sandbox container lifecycle (C8).

The runtime package wraps containerd's client API to create, start, stop,
and delete sandbox containers, inspect their status and resource usage, read
their logs, and exec commands inside them. It handles OCI spec generation
from a types.Container's resource limits and containerd namespace isolation.

# Architecture

	┌─────────────────── CONTAINERD RUNTIME ────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐         │
	│  │        ContainerdRuntime Client               │         │
	│  │  - Socket: /run/containerd/containerd.sock    │         │
	│  │  - Namespace: orchestrator                    │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │           Image Operations                    │         │
	│  │  - PullImage: fetch and unpack for snapshot   │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │        Container Lifecycle                    │         │
	│  │  - CreateContainer: generate OCI spec from    │         │
	│  │    types.Container.Limits                     │         │
	│  │  - StartContainer / StopContainer (SIGTERM    │         │
	│  │    then SIGKILL after timeout) / DeleteContainer│        │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │         Inspection                             │         │
	│  │  - GetContainerStatus, GetContainerLogs       │         │
	│  │  - Stats (CPU/memory from the cgroup metric)  │         │
	│  │  - Exec (run a command inside a running task) │         │
	│  └────────────────────────────────────────────────┘        │
	│                                                             │
	│  ┌──────────────────────────────────────────────┐         │
	│  │             Containerd Daemon                 │         │
	│  │  - Namespace: isolates orchestrator sandboxes │         │
	│  │  - Snapshotter: overlayfs for layers          │         │
	│  │  - Runtime: runc (io.containerd.runc.v2)      │         │
	│  └────────────────────────────────────────────────┘        │
	└─────────────────────────────────────────────────────────┘

# Core Components

ContainerdRuntime:
  - Implements the Engine interface (CreateContainer/StartContainer/
    StopContainer/DeleteContainer/GetContainerStatus/GetContainerLogs/Exec/
    Stats/ListContainers/Close).
  - Holds a single long-lived containerd client connection over the socket.

ExecSpec:
  - Command, args, and environment for Exec.

Resource Limits:
  - types.Container.Limits.CPUCores → CPU shares (1024 per core) and a CFS
    quota over a 100ms period.
  - types.Container.Limits.MemoryBytes → the cgroup memory limit.
  - Applied via OCI spec options at CreateContainer time.

# Container Lifecycle

CreateContainer:
 1. Look up the sandbox image in containerd's image store; it is not
    pulled here, so it must already be present (see PullImage).
 2. Build OCI spec options from the container's resource limits.
 3. Create the containerd container and its snapshot.

StartContainer / StopContainer / DeleteContainer:
  - StartContainer creates and starts the containerd task.
  - StopContainer sends SIGTERM, waits up to the given timeout, then SIGKILL.
  - DeleteContainer removes the task and container; idempotent if already
    gone.

# Usage

	eng, err := runtime.NewContainerdRuntime(runtime.DefaultSocketPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	id, err := eng.CreateContainer(ctx, "docker.io/library/alpine:latest", container)
	if err != nil {
		return err
	}
	if err := eng.StartContainer(ctx, id); err != nil {
		return err
	}

	status, err := eng.GetContainerStatus(ctx, id)

	logs, err := eng.GetContainerLogs(ctx, id, 1000)
	defer logs.Close()

	result, err := eng.Exec(ctx, id, runtime.ExecSpec{Cmd: []string{"sh", "-c", "echo hi"}})

	if err := eng.StopContainer(ctx, id, 10*time.Second); err != nil {
		return err
	}
	return eng.DeleteContainer(ctx, id)

# Integration Points

This package integrates with:

  - pkg/types: Container and ResourceLimits definitions
  - pkg/pool: requests sandbox creation/start/stop through this Engine
  - pkg/queue: CONTAINER_MANAGEMENT processors call Stop/Delete/GetContainerStatus
  - containerd: the underlying container runtime

# Design Patterns

Namespace Isolation:
  - All orchestrator containers run in a dedicated containerd namespace,
    separate from other containerd users on the host.

Error Handling:
  - DeleteContainer returns nil when the container is already gone.
    StopContainer returns nil when the container has no task, but returns
    an error when the container itself cannot be loaded.

# See Also

  - pkg/pool for sandbox allocation built on this engine
  - pkg/types for Container and ResourceLimits definitions
  - containerd documentation: https://containerd.io/
  - OCI runtime spec: https://github.com/opencontainers/runtime-spec
*/
package runtime
