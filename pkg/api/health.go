package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/ciorch/pkg/ha"
	"github.com/cuemby/ciorch/pkg/store"
)

// HealthServer serves the unauthenticated GET /health liveness endpoint
// and GET /ready readiness endpoint, kept outside the bearer-auth router
// so an external load balancer can probe them without a token.
type HealthServer struct {
	store store.Store
	ha    *ha.Controller // nil is valid: readiness then reports the store check only
}

// NewHealthServer builds the liveness/readiness surface.
func NewHealthServer(st store.Store, haController *ha.Controller) *HealthServer {
	return &HealthServer{store: st, ha: haController}
}

// Routes mounts /health and /ready on r; neither route requires a bearer
// token, so the caller must mount this on its own chi.Mux rather than
// nesting it under (*Server).Routes's bearer-auth group.
func (hs *HealthServer) Routes(r chi.Router) {
	r.Get("/health", hs.healthHandler)
	r.Get("/ready", hs.readyHandler)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// healthHandler is a pure liveness check: 200 iff the process is alive,
// independent of dependency state.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "healthy", Timestamp: time.Now()})
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// readyHandler reports whether the replica is fit to accept traffic: the
// Durable Store must answer a ping, and every HA-supervised dependency
// must be at least degraded (not unhealthy).
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if err := hs.store.Ping(r.Context()); err != nil {
		checks["durable_store"] = "error: " + err.Error()
		ready = false
		message = "durable store not reachable"
	} else {
		checks["durable_store"] = "ok"
	}

	if hs.ha != nil {
		for name, health := range hs.ha.Monitor.Snapshot() {
			checks[name] = health.String()
			if health.String() == "unhealthy" {
				ready = false
				if message == "" {
					message = name + " is unhealthy"
				}
			}
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(readyResponse{Status: status, Timestamp: time.Now(), Checks: checks, Message: message})
}
