package api

import (
	"net/http"
	"time"

	"github.com/cuemby/ciorch/pkg/metrics"
)

// handleMetrics implements GET /api/metrics by delegating straight to the
// Prometheus registry, bypassing the envelope — scrapers expect the raw
// exposition format, not JSON.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

type dashboard struct {
	NodeID      string                  `json:"node_id"`
	Uptime      time.Duration           `json:"uptime"`
	IsLeader    bool                    `json:"is_leader"`
	Components  map[string]string       `json:"components,omitempty"`
	QueueStatus interface{}             `json:"queue_status,omitempty"`
	OpenAlerts  int                     `json:"open_alerts"`
}

// handleDashboard implements GET /api/monitoring/dashboard: a single
// aggregated snapshot of process identity, leadership, dependency health,
// queue depth, and open alerts — the overview an operator loads first.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d := dashboard{
		NodeID: s.cfg.Core.NodeID,
		Uptime: time.Since(s.startedAt),
	}

	if s.ha != nil {
		d.IsLeader = s.ha.IsLeader()
		d.Components = make(map[string]string)
		for name, health := range s.ha.Monitor.Snapshot() {
			d.Components[name] = health.String()
		}
	}

	if status, err := s.queue.Status(r.Context()); err == nil {
		d.QueueStatus = status
	}

	if alerts, err := s.store.ListOpenAlerts(r.Context()); err == nil {
		d.OpenAlerts = len(alerts)
	}

	writeJSON(w, http.StatusOK, d)
}
