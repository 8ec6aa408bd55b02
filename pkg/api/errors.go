package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/ciorch/pkg/orcherr"
)

// envelope is the canonical success/error response body (§7): every
// handler writes one of these, never a bare struct.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id"`
}

// statusFor maps an orcherr.Kind to the HTTP status the API surface
// returns for it.
func statusFor(k orcherr.Kind) int {
	switch k {
	case orcherr.KindValidation:
		return http.StatusBadRequest
	case orcherr.KindAuthentication:
		return http.StatusUnauthorized
	case orcherr.KindAuthorization:
		return http.StatusForbidden
	case orcherr.KindNotFound:
		return http.StatusNotFound
	case orcherr.KindConflict:
		return http.StatusConflict
	case orcherr.KindRateLimited:
		return http.StatusTooManyRequests
	case orcherr.KindDependencyUnavailable, orcherr.KindDependencyTimeout:
		return http.StatusServiceUnavailable
	case orcherr.KindResourceExhausted:
		return http.StatusServiceUnavailable
	case orcherr.KindIntegrityViolation, orcherr.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case orcherr.KindShutdown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes data as a successful envelope.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeError maps err to a status code and the canonical error envelope.
// A bare error (not *orcherr.Error) is treated as internal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := orcherr.KindOf(err)
	status := statusFor(kind)
	if kind.Retryable() {
		w.Header().Set("Retry-After", "5")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: &errorBody{
			Code:      string(kind),
			Message:   err.Error(),
			Timestamp: time.Now(),
			RequestID: requestID(r),
		},
	})
}

// requestID returns the inbound X-Request-ID if present, else mints one.
// Handlers never block on the absence of a caller-supplied id.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
