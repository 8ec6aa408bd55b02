package api

import "net/http"

type githubStatusResponse struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// handleGitHubStatus implements GET /api/github/status: a shallow
// connectivity probe to the hosting service, so operators can tell a
// webhook outage from a down orchestrator.
func (s *Server) handleGitHubStatus(w http.ResponseWriter, r *http.Request) {
	if s.githubStatus == nil {
		writeJSON(w, http.StatusOK, githubStatusResponse{Connected: false, Error: "probe not configured"})
		return
	}
	if err := s.githubStatus(); err != nil {
		writeJSON(w, http.StatusOK, githubStatusResponse{Connected: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, githubStatusResponse{Connected: true})
}
