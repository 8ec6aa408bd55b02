package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/types"
)

// handleRegisterRunner implements POST /api/runners (§4.11): a proxy
// registers itself with an id, name, label set, and capabilities.
func (s *Server) handleRegisterRunner(w http.ResponseWriter, r *http.Request) {
	var runner types.Runner
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&runner); err != nil {
		writeError(w, r, orcherr.Validation("malformed runner body: %v", err))
		return
	}
	if err := s.delegate.RegisterRunner(r.Context(), &runner); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, runner)
}

// handleListRunners implements GET /api/runners.
func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	runners, err := s.store.ListRunners(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runners)
}

// handleRunnerAssignment implements GET /api/runners/{id}/assignment: a
// proxy's poll for whichever job it is currently bound to report status
// for. No content (204) means nothing is bound yet; the proxy is expected
// to poll again.
func (s *Server) handleRunnerAssignment(w http.ResponseWriter, r *http.Request) {
	job, err := s.delegate.Assignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type bindAssignmentRequest struct {
	JobID string `json:"job_id"`
}

// handleBindRunnerAssignment implements PUT /api/runners/{id}/assignment:
// binds a job to a runner for status mirroring once the hosting service has
// placed it there, independent of whichever sandbox actually executes the
// job internally.
func (s *Server) handleBindRunnerAssignment(w http.ResponseWriter, r *http.Request) {
	var req bindAssignmentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, r, orcherr.Validation("malformed assignment body: %v", err))
		return
	}
	if req.JobID == "" {
		writeError(w, r, orcherr.Validation("job_id is required"))
		return
	}
	if err := s.delegate.BindForReporting(r.Context(), chi.URLParam(r, "id"), req.JobID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
