// Package webhook implements the Webhook Ingress (C4): signature
// verification, event-type whitelisting, repository validation, and
// idempotent persistence-then-enqueue of inbound hosting-service events.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
)

// maxBodySize bounds an inbound delivery before any parsing is attempted.
const maxBodySize = 25 * 1024 * 1024

const (
	headerSignature = "X-Hub-Signature-256"
	headerEventType = "X-GitHub-Event"
	headerDeliveryID = "X-GitHub-Delivery"
)

// eventWhitelist is the set of event types this ingress recognizes and
// routes. Anything outside it is accepted and ignored (200), never
// rejected.
var eventWhitelist = map[string]bool{
	"workflow_job": true,
	"workflow_run": true,
	"push":         true,
	"pull_request": true,
	"check_run":    true,
	"check_suite":  true,
	"deployment":   true,
	"release":      true,
	"repository":   true,
	"ping":         true,
}

var repoPartPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Enqueuer is the Job Queue Engine capability the ingress needs: durable
// handoff of a routed job.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *types.Job) error
}

// Router translates a recognized webhook event into a routed Job, per the
// Job Router's process_webhook entry. It never sees whitelist-rejected or
// signature-rejected events.
type Router interface {
	RouteWebhook(eventType, repository string, payload []byte) (*types.Job, error)
}

// Handler serves POST /webhook.
type Handler struct {
	store  store.Store
	router Router
	queue  Enqueuer
	secret string
}

// NewHandler builds a webhook ingress handler. secret may be empty, in
// which case signature verification is skipped (development-only; the
// operator is responsible for not exposing an unsecured endpoint).
func NewHandler(st store.Store, router Router, queue Enqueuer, secret string) *Handler {
	return &Handler{store: st, router: router, queue: queue, secret: secret}
}

// Routes mounts the ingress at /webhook on r, ahead of any bearer-auth
// middleware chain — HMAC replaces bearer auth for this one route.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhook", h.handle)
}

type responseBody struct {
	Status string `json:"status"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.Header.Get(headerDeliveryID)
	eventType := r.Header.Get(headerEventType)
	entry := log.Logger.With().Str("delivery_id", deliveryID).Str("event_type", eventType).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		entry.Warn().Err(err).Msg("webhook body exceeds size limit or failed to read")
		writeError(w, http.StatusRequestEntityTooLarge, orcherr.Validation("body too large or unreadable"))
		return
	}

	if h.secret != "" {
		if !validSignature(body, h.secret, r.Header.Get(headerSignature)) {
			entry.Warn().Msg("webhook signature mismatch")
			writeError(w, http.StatusUnauthorized, orcherr.New(orcherr.KindAuthentication, "invalid signature"))
			return
		}
	}

	if deliveryID == "" {
		writeError(w, http.StatusBadRequest, orcherr.Validation("missing %s header", headerDeliveryID))
		return
	}

	if !eventWhitelist[eventType] {
		entry.Debug().Msg("webhook event type not whitelisted, ignoring")
		writeJSON(w, http.StatusOK, responseBody{Status: "ignored"})
		return
	}

	repository, err := extractRepository(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, orcherr.Validation("invalid repository field: %v", err))
		return
	}

	ev := &types.WebhookEvent{
		DeliveryID:     deliveryID,
		EventType:      eventType,
		Repository:     repository,
		RawPayload:     body,
		SignatureValid: h.secret != "",
		Processed:      false,
		ReceivedAt:     time.Now(),
	}

	ctx := r.Context()
	inserted, err := h.store.InsertWebhookEvent(ctx, ev)
	if err != nil {
		entry.Error().Err(err).Msg("persist webhook event failed")
		writeRetryable(w, err)
		return
	}
	if !inserted {
		entry.Debug().Msg("duplicate delivery, already persisted")
		writeJSON(w, http.StatusOK, responseBody{Status: "duplicate"})
		return
	}

	job, err := h.router.RouteWebhook(eventType, repository, body)
	if err != nil {
		entry.Error().Err(err).Msg("route webhook to job failed, rolling webhook row back to unprocessed")
		writeError(w, http.StatusInternalServerError, orcherr.Internal(err, "route webhook event"))
		return
	}

	if err := h.queue.Enqueue(ctx, job); err != nil {
		entry.Error().Err(err).Msg("enqueue routed job failed, rolling webhook row back to unprocessed")
		writeRetryable(w, err)
		return
	}

	if err := h.store.MarkWebhookProcessed(ctx, deliveryID); err != nil {
		entry.Error().Err(err).Msg("mark webhook processed failed")
	}

	writeJSON(w, http.StatusOK, responseBody{Status: "processed"})
}

// validSignature computes HMAC-SHA256 over body with secret and compares
// it, in constant time, against a "sha256=<hex>" header value.
func validSignature(body []byte, secret, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := mac.Sum(nil)

	return subtle.ConstantTimeCompare(want, got) == 1
}

// extractRepository pulls the "owner/name" repository field out of the raw
// payload and validates it: non-empty parts, bounded length, alphanumeric
// plus hyphen only — which by construction excludes path traversal, URL
// schemes, and colons.
func extractRepository(payload []byte) (string, error) {
	full, err := repositoryFullName(payload)
	if err != nil {
		return "", err
	}
	if full == "" {
		return "", nil
	}

	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("expected owner/name, got %q", full)
	}
	owner, name := parts[0], parts[1]
	if err := validateRepoPart(owner); err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	if err := validateRepoPart(name); err != nil {
		return "", fmt.Errorf("name: %w", err)
	}

	return full, nil
}

func validateRepoPart(part string) error {
	if part == "" {
		return errors.New("empty")
	}
	if len(part) > 39 {
		return errors.New("exceeds 39 characters")
	}
	if !repoPartPattern.MatchString(part) {
		return fmt.Errorf("%q contains disallowed characters", part)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body responseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonEncode(w, body)
}

func writeError(w http.ResponseWriter, status int, err *orcherr.Error) {
	writeJSON(w, status, responseBody{Error: &errorBody{Kind: string(err.Kind), Message: err.Message}})
}

// writeRetryable maps a transient store/queue failure to 503 with
// Retry-After, per the ingress's failure model.
func writeRetryable(w http.ResponseWriter, err error) {
	kind := orcherr.KindOf(err)
	if !kind.Retryable() {
		writeError(w, http.StatusInternalServerError, orcherr.Internal(err, "webhook processing failed"))
		return
	}
	w.Header().Set("Retry-After", "5")
	writeError(w, http.StatusServiceUnavailable, orcherr.Wrap(kind, "webhook processing temporarily unavailable", err))
}
