package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/delegate"
	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/ha"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/queue"
	"github.com/cuemby/ciorch/pkg/security"
	"github.com/cuemby/ciorch/pkg/store"
)

// GitHubProber checks hosting-service connectivity for GET /api/github/status.
type GitHubProber func(ctx http.RoundTripper) error

// Server holds every dependency the REST surface dispatches into. It is
// deliberately a thin façade: all real logic lives in the owning packages
// (queue.Engine, delegate.Server, security.Evaluator, ha.Controller).
type Server struct {
	cfg       *config.Config
	store     store.Store
	queue     *queue.Engine
	delegate  *delegate.Server
	evaluator *security.Evaluator
	ha        *ha.Controller
	bus       *events.Broker
	logger    zerolog.Logger

	dataLimiter *limiterSet
	authLimiter *limiterSet

	githubStatus  func() error
	containerLogs func(ctx context.Context, containerID string) ([]byte, error)
	startedAt     time.Time
}

// Deps bundles the components NewServer wires into handlers.
type Deps struct {
	Config       *config.Config
	Store        store.Store
	Queue         *queue.Engine
	Delegate      *delegate.Server
	Evaluator     *security.Evaluator
	HA            *ha.Controller
	Bus           *events.Broker
	GitHubStatus  func() error                                                  // nil disables the probe; handler reports connected=false
	ContainerLogs func(ctx context.Context, containerID string) ([]byte, error) // nil disables GET /api/jobs/{id}/logs
}

// NewServer builds the API surface over d.
func NewServer(d Deps) *Server {
	return &Server{
		cfg:           d.Config,
		store:         d.Store,
		queue:         d.Queue,
		delegate:      d.Delegate,
		evaluator:     d.Evaluator,
		ha:            d.HA,
		bus:           d.Bus,
		logger:        log.WithComponent("api"),
		dataLimiter:   newDataLimiter(d.Config.RateLimit),
		authLimiter:   newAuthLimiter(d.Config.RateLimit),
		githubStatus:  d.GitHubStatus,
		containerLogs: d.ContainerLogs,
		startedAt:     time.Now(),
	}
}

// Routes mounts the full API surface on r. The caller is responsible for
// mounting /health and /webhook separately — both of those bypass bearer
// auth entirely and live outside this router's concern.
func (s *Server) Routes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimit(s.authLimiter, byIP))
			r.Post("/auth/login", s.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(s.cfg))
			r.Use(rateLimit(s.dataLimiter, byToken))

			r.Post("/jobs/delegate", s.handleDelegateJob)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{id}", s.handleGetJob)
			r.Get("/jobs/{id}/logs", s.handleJobLogs)
			r.Put("/jobs/{id}/status", s.handleJobStatus)

			r.Post("/runners", s.handleRegisterRunner)
			r.Get("/runners", s.handleListRunners)
			r.Get("/runners/{id}/assignment", s.handleRunnerAssignment)
			r.Put("/runners/{id}/assignment", s.handleBindRunnerAssignment)

			r.Get("/github/status", s.handleGitHubStatus)

			r.Post("/security/scan", s.handleSecurityScan)

			r.Get("/queues/status", s.handleQueueStatus)
			r.Post("/queues/pause", s.handleQueuePause)
			r.Post("/queues/resume", s.handleQueueResume)
			r.Delete("/queues/failed", s.handleQueuePurgeFailed)

			r.Get("/metrics", s.handleMetrics)
			r.Get("/monitoring/dashboard", s.handleDashboard)

			r.Get("/ws", s.handleWebsocket)
		})
	})
}
