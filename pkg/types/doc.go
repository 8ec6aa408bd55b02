/*
Package types defines the core data structures shared across the
orchestrator.

This package contains the domain model used by every other package for
state management, API serialization, and queue/scheduling logic: jobs,
webhook events, runners, sandbox containers, security profiles, leases, and
the append-only audit log.

# Architecture

The types package is the foundation of the orchestrator's data model. It
defines:

  - Job lifecycle (class, priority, state, retry policy)
  - Webhook ingestion records (delivery id, whitelist, idempotency)
  - Proxy runner registry entries
  - Sandbox container lifecycle and resource limits
  - Security evaluation output (profiles, violations, scans, risk score)
  - Coordination primitives (leases) and the audit trail

All types are designed to be:
  - Serializable (JSON)
  - Validated at the boundary (job payloads are validated at enqueue time,
    not at dequeue time)
  - Free of embedded references: relationships between entities (container
    <-> runner <-> job) are expressed as ids, resolved through the store

# Core Types

Job Lifecycle:
  - Job: a unit of work routed into a named queue
  - JobClass: the routing/retry/processor discriminator
  - JobState: queued, active, delayed, completed, failed, dead
  - RetryPolicy: the typed backoff snapshot attached at enqueue time

Webhook Ingestion:
  - WebhookEvent: the idempotent receipt record, keyed by delivery id

Runners and Containers:
  - Runner: a registered proxy runner
  - Container: a sandbox execution environment
  - ContainerStats, ExecResult: C8 operation results

Security:
  - SecurityProfile, SecurityViolation, SecurityScan: C9 evaluation output

Coordination and Audit:
  - Lease: a TTL-bounded exclusive hold on a coordination-store key
  - AuditEntry: one row of the hash-chained audit log
  - Alert, MetricsSnapshot: durable records behind send_alert/collect_metrics
*/
package types
