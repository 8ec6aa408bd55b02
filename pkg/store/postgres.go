package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration for sqlx

	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/types"
)

// PostgresStore is the PostgreSQL-backed Durable Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
}

// NewPostgresStore opens a pgx pool for query execution and a parallel
// sqlx handle for struct-scanning reads, both against the same DSN.
func NewPostgresStore(ctx context.Context, dsn string, poolMin, poolMax int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store dsn: %w", err)
	}
	cfg.MinConns = int32(poolMin)
	cfg.MaxConns = int32(poolMax)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store pool: %w", err)
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open sqlx handle: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "pgx")

	return &PostgresStore{pool: pool, db: db}, nil
}

// Ping verifies connectivity, used by the HA health monitor's store probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return orcherr.DependencyUnavailable(err, "store ping failed")
	}
	return nil
}

// Close releases the pool and sqlx handle.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return s.db.Close()
}

// CreateJob inserts a new job row.
func (s *PostgresStore) CreateJob(ctx context.Context, job *types.Job) error {
	policy, err := json.Marshal(job.RetryPolicy)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal retry policy", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, source_event_id, class, priority, payload, state, queue,
			attempts, retry_policy, reservation_token, reserved_until, enqueued_at,
			started_at, finished_at, due_at, last_error, last_error_kind)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		job.ID, job.SourceEventID, job.Class, job.Priority, job.Payload, job.State, job.Queue,
		job.Attempts, policy, nullString(job.ReservationToken), nullTime(job.ReservedUntil),
		job.EnqueuedAt, nullTime(job.StartedAt), nullTime(job.FinishedAt), nullTime(job.DueAt),
		job.LastError, job.LastErrorKind)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "insert job", err)
	}
	return nil
}

// GetJob reads a single job by id.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherr.NotFound("job %s not found", id)
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "get job", err)
	}
	return row.toJob()
}

// UpdateJob writes back a job's mutable fields (state, attempts, error,
// reservation).
func (s *PostgresStore) UpdateJob(ctx context.Context, job *types.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state=$2, attempts=$3, reservation_token=$4, reserved_until=$5,
			started_at=$6, finished_at=$7, due_at=$8, last_error=$9, last_error_kind=$10
		WHERE id=$1`,
		job.ID, job.State, job.Attempts, nullString(job.ReservationToken), nullTime(job.ReservedUntil),
		nullTime(job.StartedAt), nullTime(job.FinishedAt), nullTime(job.DueAt), job.LastError, job.LastErrorKind)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "update job", err)
	}
	if tag.RowsAffected() == 0 {
		return orcherr.NotFound("job %s not found", job.ID)
	}
	return nil
}

// ReserveDueJobs atomically claims up to limit queued jobs for a queue,
// setting a reservation token and visibility deadline so no other worker
// claims the same row (SELECT ... FOR UPDATE SKIP LOCKED).
func (s *PostgresStore) ReserveDueJobs(ctx context.Context, queue string, limit int, reservationToken string, visibilityTimeout time.Duration) ([]*types.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "begin reserve tx", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM jobs
		WHERE queue=$1 AND state='queued' AND (due_at IS NULL OR due_at <= now())
		ORDER BY priority ASC, enqueued_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, queue, limit)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "select due jobs", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, orcherr.Wrap(orcherr.KindInternal, "scan due job id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	reservedUntil := time.Now().Add(visibilityTimeout)
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET state='active', reservation_token=$1, reserved_until=$2, started_at=coalesce(started_at, now())
		WHERE id = ANY($3)`, reservationToken, reservedUntil, ids)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "reserve due jobs", err)
	}
	_ = tag

	var result []*types.Job
	var fetchRows jobRows
	if err := s.db.SelectContext(ctx, &fetchRows, `SELECT * FROM jobs WHERE id = ANY($1)`, ids); err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "fetch reserved jobs", err)
	}
	for _, r := range fetchRows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "commit reserve tx", err)
	}
	return result, nil
}

// ReleaseStaleReservations returns jobs whose reservation lapsed (the
// worker died mid-processing) back to queued, incrementing nothing — the
// caller's retry/backoff logic decides the next attempt count.
func (s *PostgresStore) ReleaseStaleReservations(ctx context.Context, olderThan time.Time) ([]*types.Job, error) {
	var rows jobRows
	err := s.db.SelectContext(ctx, &rows, `
		UPDATE jobs SET state='queued', reservation_token=NULL, reserved_until=NULL
		WHERE state='active' AND reserved_until < $1
		RETURNING *`, olderThan)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "release stale reservations", err)
	}

	var out []*types.Job
	for _, r := range rows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// CountJobsByState returns queue depth broken down by state, for the
// metrics collector and the /api/queues endpoint.
func (s *PostgresStore) CountJobsByState(ctx context.Context, queue string) (map[types.JobState]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, count(*) FROM jobs WHERE queue=$1 GROUP BY state`, queue)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "count jobs by state", err)
	}
	defer rows.Close()

	out := make(map[types.JobState]int)
	for rows.Next() {
		var state types.JobState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, orcherr.Wrap(orcherr.KindInternal, "scan job state count", err)
		}
		out[state] = count
	}
	return out, nil
}

// DeleteJobsOlderThan purges terminal jobs past the retention window
// (cleanup_old_jobs).
func (s *PostgresStore) DeleteJobsOlderThan(ctx context.Context, state types.JobState, age time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs WHERE state=$1 AND finished_at < $2`, state, time.Now().Add(-age))
	if err != nil {
		return 0, orcherr.Wrap(orcherr.KindDependencyUnavailable, "delete old jobs", err)
	}
	return tag.RowsAffected(), nil
}

// ListDelayedDue returns delayed jobs whose due_at has arrived, to be
// transitioned back to queued by the scheduler tick.
func (s *PostgresStore) ListDelayedDue(ctx context.Context, limit int) ([]*types.Job, error) {
	var rows jobRows
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM jobs WHERE state='delayed' AND due_at <= now() ORDER BY due_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "list delayed due jobs", err)
	}
	var out []*types.Job
	for _, r := range rows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// ListJobs is a paginated, optionally queue/state-filtered job query
// backing GET /api/jobs. An empty queue or state matches any value.
func (s *PostgresStore) ListJobs(ctx context.Context, queue string, state types.JobState, limit, offset int) ([]*types.Job, error) {
	var rows jobRows
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM jobs
		WHERE ($1 = '' OR queue = $1) AND ($2 = '' OR state = $2)
		ORDER BY enqueued_at DESC
		LIMIT $3 OFFSET $4`, queue, state, limit, offset)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "list jobs", err)
	}
	var out []*types.Job
	for _, r := range rows {
		j, err := r.toJob()
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// InsertWebhookEvent records a delivery idempotently; inserted is false
// when the delivery_id primary key already existed.
func (s *PostgresStore) InsertWebhookEvent(ctx context.Context, ev *types.WebhookEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (delivery_id, event_type, repository, raw_payload, signature_valid, processed, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (delivery_id) DO NOTHING`,
		ev.DeliveryID, ev.EventType, ev.Repository, ev.RawPayload, ev.SignatureValid, ev.Processed, ev.ReceivedAt)
	if err != nil {
		return false, orcherr.Wrap(orcherr.KindDependencyUnavailable, "insert webhook event", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkWebhookProcessed flags a delivery as having produced its job.
func (s *PostgresStore) MarkWebhookProcessed(ctx context.Context, deliveryID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE webhook_events SET processed=true WHERE delivery_id=$1`, deliveryID)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "mark webhook processed", err)
	}
	return nil
}

// UpsertRunner inserts or replaces a runner's registration row.
func (s *PostgresStore) UpsertRunner(ctx context.Context, r *types.Runner) error {
	labels, err := json.Marshal(r.Labels)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal runner labels", err)
	}
	caps, err := json.Marshal(r.Capabilities)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal runner capabilities", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runners (id, name, labels, state, capabilities, last_heartbeat_at, assigned_job_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, labels=EXCLUDED.labels, state=EXCLUDED.state,
			capabilities=EXCLUDED.capabilities, last_heartbeat_at=EXCLUDED.last_heartbeat_at,
			assigned_job_id=EXCLUDED.assigned_job_id`,
		r.ID, r.Name, labels, r.State, caps, r.LastHeartbeatAt, nullString(r.AssignedJobID), r.CreatedAt)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "upsert runner", err)
	}
	return nil
}

// GetRunner reads a single runner by id.
func (s *PostgresStore) GetRunner(ctx context.Context, id string) (*types.Runner, error) {
	var row runnerRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runners WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherr.NotFound("runner %s not found", id)
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "get runner", err)
	}
	return row.toRunner()
}

// ListRunners returns every registered runner.
func (s *PostgresStore) ListRunners(ctx context.Context) ([]*types.Runner, error) {
	var rows runnerRows
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM runners`); err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "list runners", err)
	}
	var out []*types.Runner
	for _, r := range rows {
		runner, err := r.toRunner()
		if err != nil {
			return nil, err
		}
		out = append(out, runner)
	}
	return out, nil
}

// DeleteRunner removes a runner's registration row.
func (s *PostgresStore) DeleteRunner(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM runners WHERE id=$1`, id)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "delete runner", err)
	}
	return nil
}

// CreateContainer inserts a new sandbox container row.
func (s *PostgresStore) CreateContainer(ctx context.Context, c *types.Container) error {
	labels, err := json.Marshal(c.Labels)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal container labels", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO containers (id, runner_id, image_digest, state, labels, cpu_cores, memory_bytes,
			pids_limit, fds_limit, network_namespace, security_score, created_at, last_assessment_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, nullString(c.RunnerID), c.ImageDigest, c.State, labels,
		c.Limits.CPUCores, c.Limits.MemoryBytes, c.Limits.PidsLimit, c.Limits.FdsLimit,
		c.NetworkNamespace, c.SecurityScore, c.CreatedAt, nullTime(c.LastAssessmentAt))
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "insert container", err)
	}
	return nil
}

// GetContainer reads a single container by id.
func (s *PostgresStore) GetContainer(ctx context.Context, id string) (*types.Container, error) {
	var row containerRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM containers WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherr.NotFound("container %s not found", id)
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "get container", err)
	}
	return row.toContainer()
}

// UpdateContainer writes back a container's mutable fields.
func (s *PostgresStore) UpdateContainer(ctx context.Context, c *types.Container) error {
	labels, err := json.Marshal(c.Labels)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal container labels", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE containers SET runner_id=$2, state=$3, labels=$4, security_score=$5, last_assessment_at=$6
		WHERE id=$1`, c.ID, nullString(c.RunnerID), c.State, labels, c.SecurityScore, nullTime(c.LastAssessmentAt))
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "update container", err)
	}
	if tag.RowsAffected() == 0 {
		return orcherr.NotFound("container %s not found", c.ID)
	}
	return nil
}

// ListContainersByState returns every container currently in a given
// lifecycle state, used by the pool manager's inventory scan.
func (s *PostgresStore) ListContainersByState(ctx context.Context, state types.ContainerState) ([]*types.Container, error) {
	var rows containerRows
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM containers WHERE state=$1`, state); err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "list containers by state", err)
	}
	var out []*types.Container
	for _, r := range rows {
		c, err := r.toContainer()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteContainer removes a container's row.
func (s *PostgresStore) DeleteContainer(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM containers WHERE id=$1`, id)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "delete container", err)
	}
	return nil
}

// UpsertSecurityProfile replaces a container's recomputed security state.
func (s *PostgresStore) UpsertSecurityProfile(ctx context.Context, p *types.SecurityProfile) error {
	policyIDs, err := json.Marshal(p.PolicyIDs)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal policy ids", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO security_profiles (container_id, policy_ids, risk_score, status, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (container_id) DO UPDATE SET
			policy_ids=EXCLUDED.policy_ids, risk_score=EXCLUDED.risk_score,
			status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
		p.ContainerID, policyIDs, p.RiskScore, p.Status, p.UpdatedAt)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "upsert security profile", err)
	}
	return nil
}

// GetSecurityProfile reads a container's security profile along with its
// open violations and recent scans.
func (s *PostgresStore) GetSecurityProfile(ctx context.Context, containerID string) (*types.SecurityProfile, error) {
	var row securityProfileRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM security_profiles WHERE container_id=$1`, containerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherr.NotFound("security profile for container %s not found", containerID)
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "get security profile", err)
	}
	profile, err := row.toProfile()
	if err != nil {
		return nil, err
	}

	var violations securityViolationRows
	if err := s.db.SelectContext(ctx, &violations, `SELECT * FROM security_violations WHERE container_id=$1 AND resolved=false`, containerID); err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "list violations", err)
	}
	for _, v := range violations {
		profile.Violations = append(profile.Violations, v.toViolation())
	}

	var scans securityScanRows
	if err := s.db.SelectContext(ctx, &scans, `SELECT * FROM security_scans WHERE container_id=$1 ORDER BY ran_at DESC LIMIT 10`, containerID); err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "list scans", err)
	}
	for _, sc := range scans {
		profile.Scans = append(profile.Scans, sc.toScan())
	}

	return profile, nil
}

// InsertSecurityViolation records a new rule match, deduplicated by
// (rule_id, container_id, open) via a partial unique index — inserted is
// false when an open violation for the same rule and container already
// exists.
func (s *PostgresStore) InsertSecurityViolation(ctx context.Context, v *types.SecurityViolation) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO security_violations (rule_id, container_id, severity, detected_at, resolved)
		VALUES ($1,$2,$3,$4,false)
		ON CONFLICT (rule_id, container_id) WHERE resolved=false DO NOTHING`,
		v.RuleID, v.ContainerID, v.Severity, v.DetectedAt)
	if err != nil {
		return false, orcherr.Wrap(orcherr.KindDependencyUnavailable, "insert security violation", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertSecurityScan records the outcome of one scan invocation.
func (s *PostgresStore) InsertSecurityScan(ctx context.Context, sc *types.SecurityScan) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO security_scans (container_id, type, findings, grade, ran_at)
		VALUES ($1,$2,$3,$4,$5)`, sc.ContainerID, sc.Type, sc.Findings, sc.Grade, sc.RanAt)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "insert security scan", err)
	}
	return nil
}

// AppendAuditEntry appends one row to the hash-chained audit log; the
// caller (pkg/audit) computes Hash from PrevHash before calling this.
func (s *PostgresStore) AppendAuditEntry(ctx context.Context, e *types.AuditEntry) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO audit_entries (actor, action, resource_ref, outcome, timestamp, prev_hash, hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING sequence`,
		e.Actor, e.Action, e.ResourceRef, e.Outcome, e.Timestamp, e.PrevHash, e.Hash).Scan(&e.Sequence)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "append audit entry", err)
	}
	return nil
}

// LastAuditEntry returns the most recently appended entry, or nil if the
// log is empty (the chain's genesis case).
func (s *PostgresStore) LastAuditEntry(ctx context.Context) (*types.AuditEntry, error) {
	var row auditEntryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "get last audit entry", err)
	}
	return row.toEntry(), nil
}

// ListAuditEntries returns entries since a timestamp, newest last (chain
// order), for audit export/verification.
func (s *PostgresStore) ListAuditEntries(ctx context.Context, since time.Time, limit int) ([]*types.AuditEntry, error) {
	var rows auditEntryRows
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM audit_entries WHERE timestamp >= $1 ORDER BY sequence ASC LIMIT $2`, since, limit)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "list audit entries", err)
	}
	var out []*types.AuditEntry
	for _, r := range rows {
		out = append(out, r.toEntry())
	}
	return out, nil
}

// CreateAlert inserts a new alert row (send_alert job outcome).
func (s *PostgresStore) CreateAlert(ctx context.Context, a *types.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, severity, source_job_id, source_class, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, a.ID, a.Severity, a.SourceJobID, a.SourceClass, a.Message, a.CreatedAt)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "create alert", err)
	}
	return nil
}

// AcknowledgeAlert stamps an alert as acknowledged.
func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET acknowledged_at=now() WHERE id=$1 AND acknowledged_at IS NULL`, id)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "acknowledge alert", err)
	}
	if tag.RowsAffected() == 0 {
		return orcherr.NotFound("open alert %s not found", id)
	}
	return nil
}

// ListOpenAlerts returns every unacknowledged alert.
func (s *PostgresStore) ListOpenAlerts(ctx context.Context) ([]*types.Alert, error) {
	var rows alertRows
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM alerts WHERE acknowledged_at IS NULL ORDER BY created_at DESC`); err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "list open alerts", err)
	}
	var out []*types.Alert
	for _, r := range rows {
		out = append(out, r.toAlert())
	}
	return out, nil
}

// InsertMetricsSnapshot records a periodic rollup (collect_metrics job).
func (s *PostgresStore) InsertMetricsSnapshot(ctx context.Context, snap *types.MetricsSnapshot) error {
	depths, err := json.Marshal(snap.QueueDepths)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal queue depths", err)
	}
	byState, err := json.Marshal(snap.ContainersByState)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "marshal containers by state", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO metrics_snapshots (id, queue_depths, pool_utilization, containers_by_state, captured_at)
		VALUES ($1,$2,$3,$4,$5)`, snap.ID, depths, snap.PoolUtilization, byState, snap.CapturedAt)
	if err != nil {
		return orcherr.Wrap(orcherr.KindDependencyUnavailable, "insert metrics snapshot", err)
	}
	return nil
}

// LatestMetricsSnapshot returns the most recent rollup, for the dashboard
// endpoint's cheap read path.
func (s *PostgresStore) LatestMetricsSnapshot(ctx context.Context) (*types.MetricsSnapshot, error) {
	var row metricsSnapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM metrics_snapshots ORDER BY captured_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orcherr.NotFound("no metrics snapshot recorded yet")
	}
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindDependencyUnavailable, "get latest metrics snapshot", err)
	}
	return row.toSnapshot()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v time.Time) sql.NullTime {
	return sql.NullTime{Time: v, Valid: !v.IsZero()}
}
