package queue

import (
	"testing"
	"time"

	"github.com/cuemby/ciorch/pkg/types"
)

func TestRouteWebhookPriorityByEventType(t *testing.T) {
	r := NewRouter()

	cases := []struct {
		eventType string
		want      types.Priority
	}{
		{"workflow_job", types.PriorityCritical},
		{"workflow_run", types.PriorityHigh},
		{"check_run", types.PriorityHigh},
		{"pull_request", types.PriorityNormal},
		{"push", types.PriorityNormal},
		{"release", types.PriorityLow},
	}

	for _, tc := range cases {
		job, err := r.RouteWebhook(tc.eventType, "acme/widgets", []byte(`{}`))
		if err != nil {
			t.Fatalf("RouteWebhook(%s): %v", tc.eventType, err)
		}
		if job.Priority != tc.want {
			t.Errorf("RouteWebhook(%s) priority = %v, want %v", tc.eventType, job.Priority, tc.want)
		}
		if job.Queue != QueueWebhookProcessing {
			t.Errorf("RouteWebhook(%s) queue = %v, want %v", tc.eventType, job.Queue, QueueWebhookProcessing)
		}
		if job.RetryPolicy.MaxAttempts != 3 {
			t.Errorf("RouteWebhook(%s) max attempts = %d, want 3", tc.eventType, job.RetryPolicy.MaxAttempts)
		}
	}
}

func TestRouteExecuteWorkflowPriority(t *testing.T) {
	r := NewRouter()

	cases := []struct {
		payload string
		want    types.Priority
	}{
		{`{"workflow":"deploy-prod","event":"push"}`, types.PriorityCritical},
		{`{"workflow":"hotfix-patch","event":"push"}`, types.PriorityCritical},
		{`{"workflow":"ci","event":"pull_request"}`, types.PriorityHigh},
		{`{"workflow":"ci","event":"push"}`, types.PriorityNormal},
		{`{"workflow":"ci","event":"schedule"}`, types.PriorityLow},
	}

	for _, tc := range cases {
		job := &types.Job{Class: types.JobExecuteWorkflow, Payload: []byte(tc.payload)}
		if err := r.Route(job); err != nil {
			t.Fatalf("Route: %v", err)
		}
		if job.Priority != tc.want {
			t.Errorf("Route(%s) priority = %v, want %v", tc.payload, job.Priority, tc.want)
		}
		if job.Queue != QueueJobExecution {
			t.Errorf("Route(%s) queue = %v, want %v", tc.payload, job.Queue, QueueJobExecution)
		}
	}
}

func TestRouteSendAlertMirrorsSeverity(t *testing.T) {
	r := NewRouter()
	job := &types.Job{Class: types.JobSendAlert, Payload: []byte(`{"severity":"critical"}`)}
	if err := r.Route(job); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if job.Priority != types.PriorityCritical {
		t.Errorf("priority = %v, want critical", job.Priority)
	}
}

func TestRouteUnknownClassErrors(t *testing.T) {
	r := NewRouter()
	job := &types.Job{Class: "not_a_real_class"}
	if err := r.Route(job); err == nil {
		t.Fatal("expected an error for an unrouteable job class")
	}
}

func TestBackoffStrategies(t *testing.T) {
	fixed := types.RetryPolicy{Strategy: types.RetryFixed, BaseDelay: 5 * time.Second}
	if got := backoff(fixed, 3); got != 5*time.Second {
		t.Errorf("fixed backoff = %v, want 5s", got)
	}

	linear := types.RetryPolicy{Strategy: types.RetryLinear, BaseDelay: time.Second, Multiplier: 1}
	if got := backoff(linear, 3); got != 4*time.Second {
		t.Errorf("linear backoff(3) = %v, want 4s", got)
	}

	exp := types.RetryPolicy{Strategy: types.RetryExponential, BaseDelay: 3 * time.Second, Multiplier: 1.5, MaxDelay: 10 * time.Second}
	if got := backoff(exp, 1); got != 3*time.Second {
		t.Errorf("exponential backoff(1) = %v, want 3s", got)
	}
	if got := backoff(exp, 5); got != 10*time.Second {
		t.Errorf("exponential backoff(5) = %v, want capped at 10s, got %v", got, got)
	}
}

func TestShouldRetryNonRetryableKindDenies(t *testing.T) {
	policy := types.RetryPolicy{MaxAttempts: 5, NonRetryableKinds: []string{"invalid_signature"}}
	err := Classify("invalid_signature", stubError{})
	if shouldRetry(policy, 1, err) {
		t.Error("expected non-retryable kind to deny retry")
	}
}

func TestShouldRetryAllowlistOnlyRetriesListed(t *testing.T) {
	policy := types.RetryPolicy{MaxAttempts: 5, RetryableKinds: []string{"rate_limit"}}
	allowed := Classify("rate_limit", stubError{})
	denied := Classify("some_other_code", stubError{})

	if !shouldRetry(policy, 1, allowed) {
		t.Error("expected allowlisted kind to retry")
	}
	if shouldRetry(policy, 1, denied) {
		t.Error("expected non-allowlisted kind to deny retry")
	}
}

// stubError is a trivial error value for tests that
// only need to exercise error-kind classification logic, not a real cause.
type stubError struct{}

func (stubError) Error() string { return "standin error" }
