package health

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FilesystemChecker runs df inside a sandbox and fails once usage on Path
// crosses MaxUsedPercent, catching a runner that has filled its rootfs
// mid-job rather than letting it fail the job itself.
type FilesystemChecker struct {
	ContainerID    string
	Path           string
	MaxUsedPercent int
	Timeout        time.Duration

	engine Execer
}

// NewFilesystemChecker creates a filesystem health checker for the root
// filesystem of containerID.
func NewFilesystemChecker(containerID string) *FilesystemChecker {
	return &FilesystemChecker{
		ContainerID:    containerID,
		Path:           "/",
		MaxUsedPercent: 90,
		Timeout:        10 * time.Second,
	}
}

// WithEngine wires the sandbox runtime the df command runs against.
func (f *FilesystemChecker) WithEngine(engine Execer) *FilesystemChecker {
	f.engine = engine
	return f
}

// WithPath overrides the mount point checked (default "/").
func (f *FilesystemChecker) WithPath(path string) *FilesystemChecker {
	f.Path = path
	return f
}

// WithMaxUsedPercent overrides the unhealthy threshold (default 90).
func (f *FilesystemChecker) WithMaxUsedPercent(pct int) *FilesystemChecker {
	f.MaxUsedPercent = pct
	return f
}

// Check performs the filesystem health check
func (f *FilesystemChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if f.engine == nil {
		return Result{Healthy: false, Message: "no container engine wired for filesystem check", CheckedAt: start, Duration: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	res, err := f.engine.Exec(execCtx, f.ContainerID, []string{"df", "-P", f.Path})
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("df %s failed: %v", f.Path, err), CheckedAt: start, Duration: time.Since(start)}
	}
	if res.ExitCode != 0 {
		return Result{Healthy: false, Message: fmt.Sprintf("df %s exited %d: %s", f.Path, res.ExitCode, res.Stderr), CheckedAt: start, Duration: time.Since(start)}
	}

	pct, err := parseDfUsedPercent(string(res.Stdout))
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("parse df output: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	healthy := pct < f.MaxUsedPercent
	message := fmt.Sprintf("%s at %d%% used (max %d%%)", f.Path, pct, f.MaxUsedPercent)
	return Result{Healthy: healthy, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

// Type returns the health check type
func (f *FilesystemChecker) Type() CheckType {
	return CheckTypeFilesystem
}

// parseDfUsedPercent reads the "Use%" column from the last line of a
// `df -P` report.
func parseDfUsedPercent(out string) (int, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("unexpected df output: %q", out)
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return 0, fmt.Errorf("unexpected df fields: %q", lines[len(lines)-1])
	}
	pct, err := strconv.Atoi(strings.TrimSuffix(fields[4], "%"))
	if err != nil {
		return 0, fmt.Errorf("parse use%%: %w", err)
	}
	return pct, nil
}
