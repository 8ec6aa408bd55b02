package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/types"
)

type scanRequest struct {
	ContainerID string          `json:"container_id"`
	Type        string          `json:"type"`
	Findings    json.RawMessage `json:"findings,omitempty"`
	Grade       string          `json:"grade,omitempty"`
}

// handleSecurityScan implements POST /api/security/scan: ingests a scan
// result (vulnerability|secrets|compliance|malware|license, per §4.8) from
// an external scanning integration and folds it into the container's risk
// score.
func (s *Server) handleSecurityScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, r, orcherr.Validation("malformed scan body: %v", err))
		return
	}
	if req.ContainerID == "" || req.Type == "" {
		writeError(w, r, orcherr.Validation("container_id and type are required"))
		return
	}

	profile, err := s.evaluator.RecordScan(r.Context(), &types.SecurityScan{
		ContainerID: req.ContainerID,
		Type:        req.Type,
		Findings:    req.Findings,
		Grade:       req.Grade,
		RanAt:       time.Now(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, profile)
}
