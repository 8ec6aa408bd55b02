package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/types"
)

// jobRow mirrors the jobs table for sqlx struct scanning; the typed
// types.Job carries json/time fields that need decoding, so every row type
// in this file is a flat scan target with a toX() conversion method.
type jobRow struct {
	ID               string          `db:"id"`
	SourceEventID    string          `db:"source_event_id"`
	Class            string          `db:"class"`
	Priority         int             `db:"priority"`
	Payload          []byte          `db:"payload"`
	State            string          `db:"state"`
	Queue            string          `db:"queue"`
	Attempts         int             `db:"attempts"`
	RetryPolicy      json.RawMessage `db:"retry_policy"`
	ReservationToken sql.NullString  `db:"reservation_token"`
	ReservedUntil    sql.NullTime    `db:"reserved_until"`
	EnqueuedAt       time.Time       `db:"enqueued_at"`
	StartedAt        sql.NullTime    `db:"started_at"`
	FinishedAt       sql.NullTime    `db:"finished_at"`
	DueAt            sql.NullTime    `db:"due_at"`
	LastError        string          `db:"last_error"`
	LastErrorKind    string          `db:"last_error_kind"`
}

type jobRows []jobRow

func (r jobRow) toJob() (*types.Job, error) {
	var policy types.RetryPolicy
	if len(r.RetryPolicy) > 0 {
		if err := json.Unmarshal(r.RetryPolicy, &policy); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "unmarshal retry policy", err)
		}
	}
	return &types.Job{
		ID:               r.ID,
		SourceEventID:    r.SourceEventID,
		Class:            types.JobClass(r.Class),
		Priority:         types.Priority(r.Priority),
		Payload:          r.Payload,
		State:            types.JobState(r.State),
		Queue:            r.Queue,
		Attempts:         r.Attempts,
		RetryPolicy:      policy,
		ReservationToken: r.ReservationToken.String,
		ReservedUntil:    r.ReservedUntil.Time,
		EnqueuedAt:       r.EnqueuedAt,
		StartedAt:        r.StartedAt.Time,
		FinishedAt:       r.FinishedAt.Time,
		DueAt:            r.DueAt.Time,
		LastError:        r.LastError,
		LastErrorKind:    r.LastErrorKind,
	}, nil
}

type runnerRow struct {
	ID              string          `db:"id"`
	Name            string          `db:"name"`
	Labels          json.RawMessage `db:"labels"`
	State           string          `db:"state"`
	Capabilities    json.RawMessage `db:"capabilities"`
	LastHeartbeatAt time.Time       `db:"last_heartbeat_at"`
	AssignedJobID   sql.NullString  `db:"assigned_job_id"`
	CreatedAt       time.Time       `db:"created_at"`
}

type runnerRows []runnerRow

func (r runnerRow) toRunner() (*types.Runner, error) {
	var labels []string
	if len(r.Labels) > 0 {
		if err := json.Unmarshal(r.Labels, &labels); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "unmarshal runner labels", err)
		}
	}
	var caps []string
	if len(r.Capabilities) > 0 {
		if err := json.Unmarshal(r.Capabilities, &caps); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "unmarshal runner capabilities", err)
		}
	}
	return &types.Runner{
		ID:              r.ID,
		Name:            r.Name,
		Labels:          labels,
		State:           types.RunnerState(r.State),
		Capabilities:    caps,
		LastHeartbeatAt: r.LastHeartbeatAt,
		AssignedJobID:   r.AssignedJobID.String,
		CreatedAt:       r.CreatedAt,
	}, nil
}

type containerRow struct {
	ID               string          `db:"id"`
	RunnerID         sql.NullString  `db:"runner_id"`
	ImageDigest      string          `db:"image_digest"`
	State            string          `db:"state"`
	Labels           json.RawMessage `db:"labels"`
	CPUCores         float64         `db:"cpu_cores"`
	MemoryBytes      int64           `db:"memory_bytes"`
	PidsLimit        int64           `db:"pids_limit"`
	FdsLimit         int64           `db:"fds_limit"`
	NetworkNamespace string          `db:"network_namespace"`
	SecurityScore    int             `db:"security_score"`
	CreatedAt        time.Time       `db:"created_at"`
	LastAssessmentAt sql.NullTime    `db:"last_assessment_at"`
}

type containerRows []containerRow

func (r containerRow) toContainer() (*types.Container, error) {
	var labels map[string]string
	if len(r.Labels) > 0 {
		if err := json.Unmarshal(r.Labels, &labels); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "unmarshal container labels", err)
		}
	}
	return &types.Container{
		ID:          r.ID,
		RunnerID:    r.RunnerID.String,
		ImageDigest: r.ImageDigest,
		State:       types.ContainerState(r.State),
		Labels:      labels,
		Limits: types.ResourceLimits{
			CPUCores:    r.CPUCores,
			MemoryBytes: r.MemoryBytes,
			PidsLimit:   r.PidsLimit,
			FdsLimit:    r.FdsLimit,
		},
		NetworkNamespace: r.NetworkNamespace,
		SecurityScore:    r.SecurityScore,
		CreatedAt:        r.CreatedAt,
		LastAssessmentAt: r.LastAssessmentAt.Time,
	}, nil
}

type securityProfileRow struct {
	ContainerID string          `db:"container_id"`
	PolicyIDs   json.RawMessage `db:"policy_ids"`
	RiskScore   int             `db:"risk_score"`
	Status      string          `db:"status"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (r securityProfileRow) toProfile() (*types.SecurityProfile, error) {
	var ids []string
	if len(r.PolicyIDs) > 0 {
		if err := json.Unmarshal(r.PolicyIDs, &ids); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "unmarshal policy ids", err)
		}
	}
	return &types.SecurityProfile{
		ContainerID: r.ContainerID,
		PolicyIDs:   ids,
		RiskScore:   r.RiskScore,
		Status:      types.SecurityStatus(r.Status),
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

type securityViolationRow struct {
	RuleID      string    `db:"rule_id"`
	ContainerID string    `db:"container_id"`
	Severity    string    `db:"severity"`
	DetectedAt  time.Time `db:"detected_at"`
	Resolved    bool      `db:"resolved"`
}

type securityViolationRows []securityViolationRow

func (r securityViolationRow) toViolation() types.SecurityViolation {
	return types.SecurityViolation{
		RuleID:      r.RuleID,
		ContainerID: r.ContainerID,
		Severity:    types.Severity(r.Severity),
		DetectedAt:  r.DetectedAt,
		Resolved:    r.Resolved,
	}
}

type securityScanRow struct {
	ContainerID string    `db:"container_id"`
	Type        string    `db:"type"`
	Findings    []byte    `db:"findings"`
	Grade       string    `db:"grade"`
	RanAt       time.Time `db:"ran_at"`
}

type securityScanRows []securityScanRow

func (r securityScanRow) toScan() types.SecurityScan {
	return types.SecurityScan{
		ContainerID: r.ContainerID,
		Type:        r.Type,
		Findings:    r.Findings,
		Grade:       r.Grade,
		RanAt:       r.RanAt,
	}
}

type auditEntryRow struct {
	Sequence    int64     `db:"sequence"`
	Actor       string    `db:"actor"`
	Action      string    `db:"action"`
	ResourceRef string    `db:"resource_ref"`
	Outcome     string    `db:"outcome"`
	Timestamp   time.Time `db:"timestamp"`
	PrevHash    string    `db:"prev_hash"`
	Hash        string    `db:"hash"`
}

type auditEntryRows []auditEntryRow

func (r auditEntryRow) toEntry() *types.AuditEntry {
	return &types.AuditEntry{
		Sequence:    r.Sequence,
		Actor:       r.Actor,
		Action:      r.Action,
		ResourceRef: r.ResourceRef,
		Outcome:     r.Outcome,
		Timestamp:   r.Timestamp,
		PrevHash:    r.PrevHash,
		Hash:        r.Hash,
	}
}

type alertRow struct {
	ID             string         `db:"id"`
	Severity       string         `db:"severity"`
	SourceJobID    string         `db:"source_job_id"`
	SourceClass    string         `db:"source_class"`
	Message        string         `db:"message"`
	CreatedAt      time.Time      `db:"created_at"`
	AcknowledgedAt sql.NullTime   `db:"acknowledged_at"`
}

type alertRows []alertRow

func (r alertRow) toAlert() *types.Alert {
	return &types.Alert{
		ID:             r.ID,
		Severity:       types.Severity(r.Severity),
		SourceJobID:    r.SourceJobID,
		SourceClass:    types.JobClass(r.SourceClass),
		Message:        r.Message,
		CreatedAt:      r.CreatedAt,
		AcknowledgedAt: r.AcknowledgedAt.Time,
	}
}

type metricsSnapshotRow struct {
	ID                string          `db:"id"`
	QueueDepths       json.RawMessage `db:"queue_depths"`
	PoolUtilization   float64         `db:"pool_utilization"`
	ContainersByState json.RawMessage `db:"containers_by_state"`
	CapturedAt        time.Time       `db:"captured_at"`
}

func (r metricsSnapshotRow) toSnapshot() (*types.MetricsSnapshot, error) {
	var depths map[string]int
	if len(r.QueueDepths) > 0 {
		if err := json.Unmarshal(r.QueueDepths, &depths); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "unmarshal queue depths", err)
		}
	}
	var byState map[types.ContainerState]int
	if len(r.ContainersByState) > 0 {
		if err := json.Unmarshal(r.ContainersByState, &byState); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "unmarshal containers by state", err)
		}
	}
	return &types.MetricsSnapshot{
		ID:                r.ID,
		QueueDepths:       depths,
		PoolUtilization:   r.PoolUtilization,
		ContainersByState: byState,
		CapturedAt:        r.CapturedAt,
	}, nil
}
