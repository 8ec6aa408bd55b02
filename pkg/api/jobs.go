package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/ciorch/pkg/delegate"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/types"
)

type delegateJobRequest struct {
	Class    types.JobClass  `json:"class"`
	Priority types.Priority  `json:"priority"`
	Payload  json.RawMessage `json:"payload"`
}

// handleDelegateJob implements POST /api/jobs/delegate: submits a new job
// for the orchestrator to route and execute.
func (s *Server) handleDelegateJob(w http.ResponseWriter, r *http.Request) {
	var req delegateJobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, orcherr.Validation("malformed job body: %v", err))
		return
	}
	if req.Class == "" {
		writeError(w, r, orcherr.Validation("class is required"))
		return
	}

	job := &types.Job{
		Class:    req.Class,
		Priority: req.Priority,
		Payload:  req.Payload,
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleListJobs implements GET /api/jobs with optional queue/state filters
// and limit/offset pagination.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	queueName := q.Get("queue")
	state := types.JobState(q.Get("state"))
	limit := queryInt(q, "limit", 50)
	offset := queryInt(q, "offset", 0)

	jobs, err := s.store.ListJobs(r.Context(), queueName, state, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleGetJob implements GET /api/jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// jobLogsPayload is the subset of a job's opaque payload the logs
// endpoint understands: which container to stream output from.
type jobLogsPayload struct {
	ContainerID string `json:"container_id"`
}

// handleJobLogs implements GET /api/jobs/{id}/logs. A job carries no logs
// of its own; this resolves the container it ran in (from its payload)
// and proxies to the container engine's log stream. Jobs with no
// associated container (most non-execution classes) return not_found.
func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var p jobLogsPayload
	_ = json.Unmarshal(job.Payload, &p)
	if p.ContainerID == "" {
		writeError(w, r, orcherr.NotFound("job %s has no associated container logs", job.ID))
		return
	}

	if s.containerLogs == nil {
		writeError(w, r, orcherr.NotFound("log streaming is not configured"))
		return
	}
	logs, err := s.containerLogs(r.Context(), p.ContainerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(logs)
}

// handleJobStatus implements PUT /api/jobs/{id}/status: a proxy runner's
// lifecycle report for a delegated job (§4.11).
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status    types.JobState  `json:"status"`
		Result    json.RawMessage `json:"result,omitempty"`
		ExitCode  int             `json:"exit_code,omitempty"`
		Artifacts json.RawMessage `json:"artifacts,omitempty"`
		Error     string          `json:"error,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, r, orcherr.Validation("malformed status body: %v", err))
		return
	}

	err := s.delegate.ReportStatus(r.Context(), delegate.StatusReport{
		JobID:    chi.URLParam(r, "id"),
		Status:   body.Status,
		Result:   body.Result,
		ExitCode: body.ExitCode,
		Error:    body.Error,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func queryInt(q map[string][]string, key string, def int) int {
	v := q[key]
	if len(v) == 0 || v[0] == "" {
		return def
	}
	n, err := strconv.Atoi(v[0])
	if err != nil || n < 0 {
		return def
	}
	return n
}
