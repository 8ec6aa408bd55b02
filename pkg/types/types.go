package types

import (
	"time"
)

// JobClass is the discriminator tag determining a job's routing, retry
// policy, and processor.
type JobClass string

const (
	JobExecuteWorkflow   JobClass = "execute_workflow"
	JobPrepareRunner     JobClass = "prepare_runner"
	JobCleanupRunner     JobClass = "cleanup_runner"
	JobCreateContainer   JobClass = "create_container"
	JobDestroyContainer  JobClass = "destroy_container"
	JobHealthCheck       JobClass = "health_check"
	JobProcessWebhook    JobClass = "process_webhook"
	JobSyncExternalData  JobClass = "sync_external_data"
	JobCollectMetrics    JobClass = "collect_metrics"
	JobSendAlert         JobClass = "send_alert"
	JobUpdateStatus      JobClass = "update_status"
	JobCleanupOldJobs    JobClass = "cleanup_old_jobs"
	JobCleanupContainers JobClass = "cleanup_containers"
	JobCleanupLogs       JobClass = "cleanup_logs"
)

// Priority orders jobs within a queue; lower values run first.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

// JobState is a node in the job lifecycle state machine. Transitions are
// monotonic except delayed->queued.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateDelayed   JobState = "delayed"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateDead      JobState = "dead"
)

// RetryStrategy is the typed backoff shape attached to a RetryPolicy.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "fixed"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
	RetryCustom      RetryStrategy = "custom"
)

// RetryPolicy is snapshotted onto a Job at enqueue time so later router or
// config changes never alter a job already in flight.
type RetryPolicy struct {
	Strategy          RetryStrategy
	BaseDelay         time.Duration
	Multiplier        float64 // linear: additive seconds/attempt; exponential: factor
	MaxDelay          time.Duration
	MaxAttempts       int
	InitialDelay      time.Duration // delay before first attempt, e.g. cleanup_runner's 30s
	NonRetryableKinds []string
	RetryableKinds    []string // if non-empty, acts as an allowlist
	Custom            func(attempt int) time.Duration `json:"-"`
}

// Job is a unit of work routed into a named queue.
type Job struct {
	ID               string
	SourceEventID    string
	Class            JobClass
	Priority         Priority
	Payload          []byte // opaque, bounded, JSON-encoded
	State            JobState
	Queue            string
	Attempts         int
	RetryPolicy      RetryPolicy
	ReservationToken string
	ReservedUntil    time.Time
	EnqueuedAt       time.Time
	StartedAt        time.Time
	FinishedAt       time.Time
	DueAt            time.Time // for delayed jobs
	LastError        string
	LastErrorKind    string
}

// WebhookEvent is the idempotent receipt record for one inbound delivery.
type WebhookEvent struct {
	DeliveryID     string
	EventType      string
	Repository     string
	RawPayload     []byte
	SignatureValid bool
	Processed      bool
	ReceivedAt     time.Time
}

// RunnerState is the lifecycle state of a registered proxy runner.
type RunnerState string

const (
	RunnerIdle        RunnerState = "idle"
	RunnerStarting    RunnerState = "starting"
	RunnerBusy        RunnerState = "busy"
	RunnerOffline     RunnerState = "offline"
	RunnerQuarantined RunnerState = "quarantined"
)

// Runner is a lightweight proxy agent registered with the hosting service
// that delegates actual job execution to this orchestrator.
type Runner struct {
	ID              string
	Name            string
	Labels          []string
	State           RunnerState
	Capabilities    []string
	LastHeartbeatAt time.Time
	AssignedJobID   string
	CreatedAt       time.Time
}

// ContainerState is a node in the sandbox container lifecycle state machine.
type ContainerState string

const (
	ContainerCreating    ContainerState = "creating"
	ContainerRunning     ContainerState = "running"
	ContainerStopped     ContainerState = "stopped"
	ContainerRemoved     ContainerState = "removed"
	ContainerQuarantined ContainerState = "quarantined"
)

// ResourceLimits bounds a sandbox's consumption of host resources.
type ResourceLimits struct {
	CPUCores    float64
	MemoryBytes int64
	PidsLimit   int64
	FdsLimit    int64
}

// Container is a sandbox execution environment, one-to-one with an active
// job while busy.
type Container struct {
	ID               string
	RunnerID         string
	ImageDigest      string
	State            ContainerState
	Labels           map[string]string
	Limits           ResourceLimits
	NetworkNamespace string
	SecurityScore    int
	CreatedAt        time.Time
	LastAssessmentAt time.Time
}

// ContainerStats is a point-in-time resource usage snapshot.
type ContainerStats struct {
	CPUPercent float64
	MemUsage   int64
	MemLimit   int64
	NetRxBytes int64
	NetTxBytes int64
	BlockRead  int64
	BlockWrite int64
	SampledAt  time.Time
}

// ExecResult is the outcome of a one-shot exec(cmd) inside a container.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Severity classifies a security violation or alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// SecurityStatus is the coarse risk classification derived from RiskScore.
type SecurityStatus string

const (
	SecurityStatusSecure   SecurityStatus = "secure"
	SecurityStatusWarning  SecurityStatus = "warning"
	SecurityStatusCritical SecurityStatus = "critical"
)

// SecurityViolation records a single rule match against a container.
type SecurityViolation struct {
	RuleID      string
	ContainerID string
	Severity    Severity
	DetectedAt  time.Time
	Resolved    bool
}

// SecurityScan records the outcome of one scan invocation.
type SecurityScan struct {
	ContainerID string
	Type        string // vulnerability|secrets|compliance|malware|license
	Findings    []byte // JSON summary, bounded
	Grade       string
	RanAt       time.Time
}

// SecurityProfile is the recomputed-on-every-evaluation risk state for a
// container.
type SecurityProfile struct {
	ContainerID string
	PolicyIDs   []string
	Violations  []SecurityViolation
	Scans       []SecurityScan
	RiskScore   int
	Status      SecurityStatus
	UpdatedAt   time.Time
}

// Lease is a TTL-bounded exclusive hold on a named key in the coordination
// store, used for leader election and per-resource exclusive access.
type Lease struct {
	Key        string
	HolderID   string
	ExpiresAt  time.Time
	Generation int64
}

// AuditEntry is one row of the append-only, hash-chained audit log.
type AuditEntry struct {
	Sequence    int64
	Actor       string
	Action      string
	ResourceRef string
	Outcome     string
	Timestamp   time.Time
	PrevHash    string
	Hash        string
}

// Alert is the durable record behind a send_alert job.
type Alert struct {
	ID             string
	Severity       Severity
	SourceJobID    string
	SourceClass    JobClass
	Message        string
	CreatedAt      time.Time
	AcknowledgedAt time.Time
}

// MetricsSnapshot is a periodic point-in-time rollup written by the
// collect_metrics job class and read back by the monitoring dashboard.
type MetricsSnapshot struct {
	ID                string
	QueueDepths       map[string]int
	PoolUtilization   float64
	ContainersByState map[ContainerState]int
	CapturedAt        time.Time
}

// Event is a typed message published on the internal event bus and mirrored
// to websocket subscribers.
type Event struct {
	Type        string
	Timestamp   time.Time
	JobID       string
	RunnerID    string
	ContainerID string
	Message     string
	Data        map[string]string
}
