package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// fakeStore embeds store.Store so only the methods this test exercises
// need implementations; anything else panics if accidentally called.
type fakeStore struct {
	store.Store
	events    map[string]*types.WebhookEvent
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string]*types.WebhookEvent)}
}

func (f *fakeStore) InsertWebhookEvent(ctx context.Context, ev *types.WebhookEvent) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, exists := f.events[ev.DeliveryID]; exists {
		return false, nil
	}
	f.events[ev.DeliveryID] = ev
	return true, nil
}

func (f *fakeStore) MarkWebhookProcessed(ctx context.Context, deliveryID string) error {
	if ev, ok := f.events[deliveryID]; ok {
		ev.Processed = true
	}
	return nil
}

type fakeRouter struct {
	job *types.Job
	err error
}

func (r *fakeRouter) RouteWebhook(eventType, repository string, payload []byte) (*types.Job, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.job != nil {
		return r.job, nil
	}
	return &types.Job{Class: types.JobProcessWebhook, Queue: "WEBHOOK_PROCESSING"}, nil
}

type fakeQueue struct {
	enqueued []*types.Job
	err      error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job *types.Job) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func post(h *Handler, body []byte, deliveryID, eventType, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(headerDeliveryID, deliveryID)
	req.Header.Set(headerEventType, eventType)
	if signature != "" {
		req.Header.Set(headerSignature, signature)
	}
	rec := httptest.NewRecorder()
	h.handle(rec, req)
	return rec
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	const secret = "s3cr3t"
	st := newFakeStore()
	q := &fakeQueue{}
	h := NewHandler(st, &fakeRouter{}, q, secret)

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	sig := sign(secret, body)

	rec1 := post(h, body, "d-1", "workflow_job", sig)
	rec2 := post(h, body, "d-1", "workflow_job", sig)

	if rec1.Code != http.StatusOK || rec2.Code != http.StatusOK {
		t.Fatalf("expected two 200s, got %d and %d", rec1.Code, rec2.Code)
	}
	if len(st.events) != 1 {
		t.Fatalf("expected one persisted webhook_events row, got %d", len(st.events))
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(q.enqueued))
	}
}

func TestBadSignatureRejected(t *testing.T) {
	const secret = "s3cr3t"
	st := newFakeStore()
	q := &fakeQueue{}
	h := NewHandler(st, &fakeRouter{}, q, secret)

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	rec := post(h, body, "d-2", "workflow_job", "sha256=deadbeef")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(st.events) != 0 {
		t.Fatalf("expected no persisted row, got %d", len(st.events))
	}
	if len(q.enqueued) != 0 {
		t.Fatalf("expected no enqueued job, got %d", len(q.enqueued))
	}
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	h := NewHandler(st, &fakeRouter{}, q, "")

	body := []byte(`{}`)
	rec := post(h, body, "d-3", "star", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(st.events) != 0 {
		t.Fatalf("expected no row persisted for an ignored event, got %d", len(st.events))
	}
}

func TestInvalidRepositoryRejected(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	h := NewHandler(st, &fakeRouter{}, q, "")

	body := []byte(`{"repository":{"full_name":"../../etc/passwd"}}`)
	rec := post(h, body, "d-4", "push", "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEnqueueFailureDoesNotMarkProcessed(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{err: context.DeadlineExceeded}
	h := NewHandler(st, &fakeRouter{}, q, "")

	body := []byte(`{"repository":{"full_name":"acme/widgets"}}`)
	rec := post(h, body, "d-5", "push", "")

	if rec.Code != http.StatusServiceUnavailable && rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected a failure status, got %d", rec.Code)
	}
	ev := st.events["d-5"]
	if ev == nil {
		t.Fatalf("expected webhook row to exist")
	}
	if ev.Processed {
		t.Fatalf("expected webhook row to remain unprocessed after enqueue failure")
	}
}
