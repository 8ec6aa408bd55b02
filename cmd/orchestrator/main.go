// Command orchestrator is the process entrypoint: it assembles every
// capability (Durable Store, Coordination Store, container runtime,
// secrets), wires the Job Queue Engine, Container Pool, Security Evaluator,
// HA Controller, Delegation Protocol, webhook ingress, and REST API surface
// on top of it, then serves until signaled to shut down.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/cuemby/ciorch/pkg/api"
	"github.com/cuemby/ciorch/pkg/capability"
	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/coord"
	"github.com/cuemby/ciorch/pkg/delegate"
	"github.com/cuemby/ciorch/pkg/events"
	"github.com/cuemby/ciorch/pkg/ha"
	"github.com/cuemby/ciorch/pkg/log"
	"github.com/cuemby/ciorch/pkg/orcherr"
	"github.com/cuemby/ciorch/pkg/pool"
	"github.com/cuemby/ciorch/pkg/queue"
	"github.com/cuemby/ciorch/pkg/runtime"
	"github.com/cuemby/ciorch/pkg/secrets"
	"github.com/cuemby/ciorch/pkg/security"
	"github.com/cuemby/ciorch/pkg/store"
	"github.com/cuemby/ciorch/pkg/types"
	"github.com/cuemby/ciorch/pkg/webhook"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "orchestrator",
	Short:   "Self-hosted CI job orchestrator",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"orchestrator version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("http-addr", env("HTTP_ADDR", ":8080"), "address the API surface listens on")
	rootCmd.PersistentFlags().String("containerd-socket", env("CONTAINERD_SOCKET", runtime.DefaultSocketPath), "containerd socket path")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// exitCodeFor maps a startup/shutdown error to the process exit codes
// named in the configuration surface.
func exitCodeFor(err error) int {
	switch orcherr.KindOf(err) {
	case orcherr.KindValidation:
		return 64
	case orcherr.KindDependencyUnavailable, orcherr.KindDependencyTimeout:
		return 69
	case orcherr.KindShutdown:
		return 75
	default:
		return 70
	}
}

func serve() error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithNodeID(cfg.Core.NodeID)
	logger.Info().Str("role", cfg.Core.NodeRole).Msg("starting orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgresStore(ctx, cfg.Store.URL, cfg.Store.PoolMin, cfg.Store.PoolMax)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "connect to durable store")
	}
	defer st.Close()

	cd, err := coord.NewRedisStore(cfg.Coord.Addresses, cfg.Coord.SentinelNames, cfg.Coord.Password, cfg.Coord.KeyPrefix, cfg.Coord.ConnectTimeout, cfg.Coord.CommandTimeout)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "connect to coordination store")
	}
	defer cd.Close()

	socketPath, _ := rootCmd.PersistentFlags().GetString("containerd-socket")
	eng, err := runtime.NewContainerdRuntime(socketPath)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "connect to containerd")
	}
	defer eng.Close()

	sec := secrets.NewEnvStore()
	caps := capability.New(cfg, st, cd, eng, sec)

	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	queueEngine := queue.NewEngine(caps.Store, cfg.Queues, bus)

	imageFn := func(labels map[string]string) string {
		if img, ok := caps.Secrets.Get("runner-image"); ok {
			return img
		}
		return "docker.io/library/alpine:latest"
	}
	containerPool := pool.New(caps.Store, caps.Engine, bus, cfg.Pool, imageFn)

	policies, err := security.LoadPolicies("configs/policies", cfg.Security.PolicyIDs)
	if err != nil {
		return orcherr.DependencyUnavailable(err, "load security policies")
	}
	evaluator := security.NewEvaluator(caps.Store, bus, containerPool, policies)
	containerPool.SetEvaluator(evaluator, cfg.Security.PolicyIDs)

	containerProcessor := queue.NewContainerManagementProcessor(containerPool, caps.Engine, caps.Store)
	queueEngine.Register(types.JobCreateContainer, containerProcessor)
	queueEngine.Register(types.JobDestroyContainer, containerProcessor)
	queueEngine.Register(types.JobHealthCheck, containerProcessor)

	executionProcessor := queue.NewJobExecutionProcessor(containerPool, evaluator, caps.Engine, cfg.Security.PolicyIDs)
	queueEngine.Register(types.JobExecuteWorkflow, executionProcessor)
	queueEngine.Register(types.JobPrepareRunner, executionProcessor)
	queueEngine.Register(types.JobCleanupRunner, executionProcessor)

	queueDepths := func(ctx context.Context) (map[string]int, error) {
		statuses, err := queueEngine.Status(ctx)
		if err != nil {
			return nil, err
		}
		depths := make(map[string]int, len(statuses))
		for _, s := range statuses {
			total := 0
			for _, n := range s.Counts {
				total += n
			}
			depths[s.Queue] = total
		}
		return depths, nil
	}
	monitoringProcessor := queue.NewMonitoringProcessor(st, queueDepths, containerPool.Utilization)
	queueEngine.Register(types.JobCollectMetrics, monitoringProcessor)
	queueEngine.Register(types.JobSendAlert, monitoringProcessor)
	queueEngine.Register(types.JobUpdateStatus, monitoringProcessor)

	queueEngine.Register(types.JobProcessWebhook, queue.NewWebhookProcessingProcessor(queueEngine))

	cleanupProcessor := queue.NewCleanupProcessor(st, cfg.Queues.RetentionAge)
	queueEngine.Register(types.JobCleanupOldJobs, cleanupProcessor)
	queueEngine.Register(types.JobCleanupContainers, cleanupProcessor)
	queueEngine.Register(types.JobCleanupLogs, cleanupProcessor)

	delegateServer := delegate.NewServer(st, bus)

	var haController *ha.Controller
	if cfg.HA.Enabled {
		failoverThreshold := 3 * cfg.HA.HealthCheckInterval
		haController = ha.NewController(cfg.Core.NodeID, cfg.HA.LeaseTTL, cfg.HA.RenewInterval, cfg.HA.HealthCheckInterval, failoverThreshold, bus, ha.Deps{
			Store: st,
			Coord: cd,
			ContainerEnginePing: func(ctx context.Context) error {
				_, err := eng.ListContainers(ctx)
				return err
			},
			OnStorePrimaryFailover: func(ctx context.Context) error {
				logger.Warn().Msg("durable store judged unhealthy, pausing queue reservation during failover")
				queueEngine.Pause()
				defer queueEngine.Resume()
				return st.Ping(ctx)
			},
			OnCoordMasterFailover: func(ctx context.Context) error {
				logger.Warn().Msg("coordination store judged unhealthy, waiting for sentinel promotion")
				return cd.Ping(ctx)
			},
		})
		haController.Start(ctx)
		defer haController.Stop()
	}

	isLeader := func() bool { return haController == nil || haController.IsLeader() }

	containerPool.Start(ctx)
	defer containerPool.Stop()

	if err := queueEngine.Start(ctx); err != nil {
		return orcherr.Internal(err, "start queue engine")
	}
	defer queueEngine.Stop()

	scheduler := queue.NewScheduler(queueEngine, isLeader)
	if err := registerScheduledJobs(scheduler); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := queue.NewRouter()
	webhookHandler := webhook.NewHandler(st, router, queueEngine, cfg.WebhookSecret)

	apiServer := api.NewServer(api.Deps{
		Config:    cfg,
		Store:     st,
		Queue:     queueEngine,
		Delegate:  delegateServer,
		Evaluator: evaluator,
		HA:        haController,
		Bus:       bus,
		GitHubStatus: func() error {
			return nil
		},
		ContainerLogs: func(ctx context.Context, containerID string) ([]byte, error) {
			rc, err := eng.GetContainerLogs(ctx, containerID, 1000)
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		},
	})
	healthServer := api.NewHealthServer(st, haController)

	mux := chi.NewRouter()
	healthServer.Routes(mux)
	webhookHandler.Routes(mux)
	apiServer.Routes(mux)

	httpAddr, _ := rootCmd.PersistentFlags().GetString("http-addr")
	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: mux,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpAddr).Msg("api surface listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErrCh:
		return orcherr.Internal(err, "api surface failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Core.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return orcherr.Wrap(orcherr.KindShutdown, "graceful shutdown timed out", err)
	}
	return nil
}

// registerScheduledJobs wires the cron-driven MONITORING and CLEANUP jobs
// named in §4.6: metrics collection every minute, job/container cleanup
// daily.
func registerScheduledJobs(s *queue.Scheduler) error {
	jobs := []queue.ScheduledJob{
		{Class: types.JobCollectMetrics, Cron: "* * * * *", Payload: []byte(`{}`)},
		{Class: types.JobCleanupOldJobs, Cron: "0 3 * * *", Payload: []byte(`{}`)},
		{Class: types.JobCleanupContainers, Cron: "15 3 * * *", Payload: []byte(`{}`)},
		{Class: types.JobCleanupLogs, Cron: "30 3 * * *", Payload: []byte(`{}`)},
	}
	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			return orcherr.Internal(err, "register scheduled job %s", j.Class)
		}
	}
	return nil
}
