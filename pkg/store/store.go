// Package store implements the Durable Store (C2): the system of record
// for jobs, webhook receipts, runners, containers, security state, audit
// entries, alerts, and metrics snapshots, backed by PostgreSQL via pgx and
// sqlx.
package store

import (
	"context"
	"time"

	"github.com/cuemby/ciorch/pkg/types"
)

// Store is the full Durable Store interface. One Postgres-backed
// implementation satisfies it; tests substitute in-memory fakes.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	UpdateJob(ctx context.Context, job *types.Job) error
	ReserveDueJobs(ctx context.Context, queue string, limit int, reservationToken string, visibilityTimeout time.Duration) ([]*types.Job, error)
	ReleaseStaleReservations(ctx context.Context, olderThan time.Time) ([]*types.Job, error)
	CountJobsByState(ctx context.Context, queue string) (map[types.JobState]int, error)
	DeleteJobsOlderThan(ctx context.Context, state types.JobState, age time.Duration) (int64, error)
	ListDelayedDue(ctx context.Context, limit int) ([]*types.Job, error)
	ListJobs(ctx context.Context, queue string, state types.JobState, limit, offset int) ([]*types.Job, error)

	// Webhook events (idempotency ledger)
	InsertWebhookEvent(ctx context.Context, ev *types.WebhookEvent) (inserted bool, err error)
	MarkWebhookProcessed(ctx context.Context, deliveryID string) error

	// Runners
	UpsertRunner(ctx context.Context, r *types.Runner) error
	GetRunner(ctx context.Context, id string) (*types.Runner, error)
	ListRunners(ctx context.Context) ([]*types.Runner, error)
	DeleteRunner(ctx context.Context, id string) error

	// Containers
	CreateContainer(ctx context.Context, c *types.Container) error
	GetContainer(ctx context.Context, id string) (*types.Container, error)
	UpdateContainer(ctx context.Context, c *types.Container) error
	ListContainersByState(ctx context.Context, state types.ContainerState) ([]*types.Container, error)
	DeleteContainer(ctx context.Context, id string) error

	// Security
	UpsertSecurityProfile(ctx context.Context, p *types.SecurityProfile) error
	GetSecurityProfile(ctx context.Context, containerID string) (*types.SecurityProfile, error)
	InsertSecurityViolation(ctx context.Context, v *types.SecurityViolation) (inserted bool, err error)
	InsertSecurityScan(ctx context.Context, s *types.SecurityScan) error

	// Audit (append-only, hash-chained)
	AppendAuditEntry(ctx context.Context, e *types.AuditEntry) error
	LastAuditEntry(ctx context.Context) (*types.AuditEntry, error)
	ListAuditEntries(ctx context.Context, since time.Time, limit int) ([]*types.AuditEntry, error)

	// Alerts
	CreateAlert(ctx context.Context, a *types.Alert) error
	AcknowledgeAlert(ctx context.Context, id string) error
	ListOpenAlerts(ctx context.Context) ([]*types.Alert, error)

	// Metrics snapshots
	InsertMetricsSnapshot(ctx context.Context, s *types.MetricsSnapshot) error
	LatestMetricsSnapshot(ctx context.Context) (*types.MetricsSnapshot, error)

	Ping(ctx context.Context) error
	Close() error
}
