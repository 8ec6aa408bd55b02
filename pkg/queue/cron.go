package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuemby/ciorch/pkg/types"
)

// ScheduledJob is one cron-driven entry: a job class, its cron expression,
// and the payload template enqueued on each fire.
type ScheduledJob struct {
	Class   types.JobClass
	Cron    string
	Payload []byte
}

// Scheduler evaluates cron expressions once per minute and enqueues
// idempotency-keyed jobs, gated on holding the HA leader lease — only the
// leader replica runs singleton scheduled work (§4.6, §4.9).
type Scheduler struct {
	engine   *Engine
	cron     *cron.Cron
	isLeader func() bool
}

// NewScheduler builds a cron-driven scheduler. isLeader is consulted on
// every fire; when it returns false the tick is skipped entirely (not
// just the enqueue), so non-leaders never even construct the idempotency
// key.
func NewScheduler(engine *Engine, isLeader func() bool) *Scheduler {
	return &Scheduler{engine: engine, cron: cron.New(), isLeader: isLeader}
}

// Add registers one scheduled job definition. Call before Start.
func (s *Scheduler) Add(job ScheduledJob) error {
	_, err := s.cron.AddFunc(job.Cron, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", job.Class, job.Cron, err)
	}
	return nil
}

// Start begins evaluating cron schedules.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts evaluation and waits for any in-flight fire to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

func (s *Scheduler) fire(sj ScheduledJob) {
	if s.isLeader != nil && !s.isLeader() {
		return
	}

	ctx := context.Background()

	// Idempotency key = (class, slotStart), truncated to the minute so
	// every replica's cron tick for the same slot resolves to one job.
	slotStart := time.Now().Truncate(time.Minute).Unix()
	idempotencyKey := fmt.Sprintf("%s:%d", sj.Class, slotStart)

	payload := sj.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	wrapped, err := withIdempotencyKey(payload, idempotencyKey)
	if err != nil {
		s.engine.logger.Error().Err(err).Str("class", string(sj.Class)).Msg("marshal scheduled job payload failed")
		return
	}

	job := &types.Job{Class: sj.Class, Payload: wrapped}
	if err := s.engine.Enqueue(ctx, job); err != nil {
		s.engine.logger.Error().Err(err).Str("class", string(sj.Class)).Msg("enqueue scheduled job failed")
	}
}

func withIdempotencyKey(payload []byte, key string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		m = map[string]json.RawMessage{}
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	m["idempotency_key"] = raw
	return json.Marshal(m)
}
