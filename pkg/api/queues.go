package api

import "net/http"

// handleQueueStatus implements GET /api/queues/status: per-state job
// counts for every named queue.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.queue.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleQueuePause implements POST /api/queues/pause: stops job
// reservation without affecting enqueue, used ahead of a planned Durable
// Store maintenance window as well as by the HA Controller's own failover.
func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	s.queue.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// handleQueueResume implements POST /api/queues/resume.
func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	s.queue.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleQueuePurgeFailed implements DELETE /api/queues/failed: removes
// every job currently in the failed state (dead jobs are untouched).
func (s *Server) handleQueuePurgeFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.PurgeFailed(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}
