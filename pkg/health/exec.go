package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/cuemby/ciorch/pkg/types"
)

// Execer runs a command inside a running sandbox. Satisfied by
// pkg/runtime.Engine through a thin adapter in pkg/queue, since Engine.Exec
// takes an ExecSpec this package has no reason to depend on.
type Execer interface {
	Exec(ctx context.Context, containerID string, cmd []string) (types.ExecResult, error)
}

// ExecChecker performs exec-based health checks by running a command
type ExecChecker struct {
	// Command is the command to execute (e.g., ["pg_isready", "-U", "postgres"])
	Command []string

	// Timeout is the command execution timeout (default: 10 seconds)
	Timeout time.Duration

	// ContainerID is the ID of the container to exec into
	// If empty, runs on host (useful for testing)
	ContainerID string

	engine Execer
}

// NewExecChecker creates a new exec health checker
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
	}
}

// WithEngine wires the sandbox runtime an exec check with a non-empty
// ContainerID runs against. Without one, a container-targeted check fails
// closed rather than silently running on the host.
func (e *ExecChecker) WithEngine(engine Execer) *ExecChecker {
	e.engine = engine
	return e
}

// Check performs the exec health check
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{
			Healthy:   false,
			Message:   "no command specified",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	if e.ContainerID != "" {
		return e.checkInContainer(execCtx, start)
	}
	return e.checkOnHost(execCtx, start)
}

func (e *ExecChecker) checkInContainer(ctx context.Context, start time.Time) Result {
	if e.engine == nil {
		return Result{
			Healthy:   false,
			Message:   "no container engine wired for exec health check",
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	res, err := e.engine.Exec(ctx, e.ContainerID, e.Command)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("exec in container %s failed: %v", e.ContainerID, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	message := fmt.Sprintf("Command: %v, ExitCode: %d", e.Command, res.ExitCode)
	if len(res.Stderr) > 0 {
		message = fmt.Sprintf("%s, Stderr: %s", message, truncate(string(res.Stderr), 100))
	}
	if res.ExitCode != 0 {
		return Result{Healthy: false, Message: message, CheckedAt: start, Duration: time.Since(start)}
	}
	if len(res.Stdout) > 0 {
		message = fmt.Sprintf("%s, Output: %s", message, truncate(string(res.Stdout), 100))
	}
	return Result{Healthy: true, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

func (e *ExecChecker) checkOnHost(ctx context.Context, start time.Time) Result {
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	message := fmt.Sprintf("Command: %v", e.Command)
	if err != nil {
		message = fmt.Sprintf("%s, Error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, Stderr: %s", message, stderr.String())
		}
		return Result{
			Healthy:   false,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	if stdout.Len() > 0 {
		message = fmt.Sprintf("%s, Output: %s", message, truncate(stdout.String(), 100))
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

// WithContainer sets the container ID for exec
func (e *ExecChecker) WithContainer(containerID string) *ExecChecker {
	e.ContainerID = containerID
	return e
}
