/*
Package events provides an in-memory event broker for the orchestrator's
pub/sub messaging.

The events package implements a lightweight event bus for broadcasting job,
webhook, runner, container, security, and HA state changes to interested
subscribers. It supports asynchronous event delivery, enabling loose coupling
between components without requiring a direct call into each other.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Job: enqueued, started, completed, failed, │          │
	│  │       dead                                  │          │
	│  │  Webhook: received                          │          │
	│  │  Runner: registered, lost                   │          │
	│  │  Container: created, stopped, quarantined   │          │
	│  │  Security: violation                        │          │
	│  │  HA: failover                               │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  API: stream events to dashboard clients    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel
  - Tracks dropped-event counts per event type (orchestrator_eventbus_dropped_total)

Event:
  - Type: event type (job.enqueued, container.quarantined, etc.)
  - Timestamp: when the event occurred
  - Message: human-readable description
  - Metadata: key-value pairs for additional context (job_id, container_id, ...)

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to the main event channel (non-blocking)
 3. Broadcast loop receives the event
 4. Event sent to every subscriber channel
 5. Full subscriber buffers are skipped and counted, never blocked on

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. A new buffered channel is created and registered
 3. Subscriber receives events via that channel in its own goroutine

# Usage

	import "github.com/cuemby/ciorch/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventJobDead:
				handleDeadJob(event)
			case events.EventContainerQuaran:
				handleQuarantine(event)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:     events.EventJobEnqueued,
		Message:  "enqueued execute_workflow job",
		Metadata: map[string]string{"job_id": "job-123", "queue": "JOB_EXECUTION"},
	})

# Event Types Catalog

Job Events:

EventJobEnqueued, EventJobStarted, EventJobCompleted, EventJobDead:
  - Published by pkg/queue when a job is enqueued, starts, completes, or
    goes dead.
  - Metadata: job_id; EventJobEnqueued also carries queue and class,
    EventJobDead also carries error.

EventJobFailed:
  - Declared but not published; a failed attempt that is retried emits no
    event.

Webhook Events:

EventWebhookReceived:
  - Declared but not published; pkg/webhook holds no broker.

Runner Events:

EventRunnerRegistered:
  - Published by pkg/delegate on runner registration.
  - Metadata: runner_id.

EventRunnerLost:
  - Declared but not published by any package.

Container Events:

EventContainerCreated, EventContainerStopped, EventContainerQuaran:
  - Published by pkg/pool across the sandbox lifecycle.
  - Metadata: container_id.

Security Events:

EventSecurityViolation:
  - Published by pkg/security when a policy evaluation records a new
    violation.
  - Metadata: container_id, rule_id, severity.

HA Events:

EventHAFailover:
  - Published by pkg/ha when a supervised dependency's sustained-outage timer
    fires a failover.
  - Metadata: component.

# Design Patterns

Non-Blocking Publish:
  - Publish sends to a buffered channel and returns immediately; a full
    buffer drops the event and increments EventBusDroppedTotal rather than
    blocking the publisher.

Fan-Out Pattern:
  - A single event is broadcast to every subscriber's own channel; slow
    subscribers' full buffers are skipped independently of fast ones.

Fire-and-Forget:
  - No acknowledgment from subscribers and no redelivery; suitable for
    monitoring and reactive triggers, not for anything requiring guaranteed
    delivery (durable job state lives in pkg/store, not on this bus).

# Limitations

  - In-memory only: no persistence, replay, or cross-process delivery.
  - Best-effort: a full subscriber buffer silently drops the event (counted,
    not queued).
  - No topic filtering: every subscriber receives every event type and
    filters client-side.

# See Also

  - pkg/queue, pkg/delegate, pkg/pool, pkg/security, pkg/ha for publishers
  - pkg/api for a dashboard-facing event stream subscriber
*/
package events
