// Package config assembles the orchestrator's environment-driven
// configuration into one typed, validated struct at process start. No
// component reads os.Getenv directly; every constructor takes the slice of
// Config it needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/ciorch/pkg/orcherr"
)

// Core holds process identity and shutdown behavior.
type Core struct {
	NodeID          string
	NodeRole        string // "primary" or "replica"
	ShutdownTimeout time.Duration
}

// Store holds Durable Store (C2, Postgres) connection settings.
type Store struct {
	URL        string
	ReplicaURL string
	PoolMin    int
	PoolMax    int
	SSLMode    string
}

// Coord holds Coordination Store (C3, Redis) connection settings.
type Coord struct {
	Addresses         []string
	SentinelNames     []string
	Password          string
	KeyPrefix         string
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
}

// QueueConfig holds per-queue concurrency and retention settings.
type QueueConfig struct {
	Concurrency       map[string]int
	VisibilityTimeout time.Duration
	RetentionAge      time.Duration
}

// Pool holds Container Pool (C7) sizing and scaling thresholds.
type Pool struct {
	Min             int
	Max             int
	ScaleUpUtil     float64
	ScaleUpSeconds  time.Duration
	ScaleDownUtil   float64
	ScaleDownIdle   time.Duration
	StartupTimeout  time.Duration
}

// Security holds Security Evaluator (C9) enforcement settings.
type Security struct {
	Level              string
	ScanEnabled        bool
	CriticalBlockCount int
	HighBlockCount     int
	PolicyIDs          []string
}

// HA holds HA Controller (C10) lease and health-check tuning.
type HA struct {
	Enabled              bool
	LeaseTTL             time.Duration
	RenewInterval        time.Duration
	HealthCheckInterval  time.Duration
	ComponentsEnabled    map[string]bool
}

// RateLimit holds API Surface (C11) throttling settings.
type RateLimit struct {
	Window          time.Duration
	Limit           int
	AuthWindow      time.Duration
	AuthLimit       int
}

// Auth holds the single operator credential the API surface issues
// bearer tokens for (§6 POST /api/auth/login).
type Auth struct {
	AdminUsername     string
	AdminPasswordHash string // bcrypt
	TokenTTL          time.Duration
}

// Limits holds per-sandbox resource caps (§6 LIMITS).
type Limits struct {
	CPUCores    float64
	MemoryMB    int64
	SwapMB      int64
	PidsLimit   int64
	FdsLimit    int64
	DiskGB      int64
}

// Config is the fully assembled, validated configuration surface.
type Config struct {
	Core      Core
	Store     Store
	Coord     Coord
	Queues    QueueConfig
	Pool      Pool
	Security  Security
	HA        HA
	RateLimit RateLimit
	Limits    Limits
	Auth      Auth

	WebhookSecret string
	JWTSigningKey string
	LogLevel      string
	LogJSON       bool
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return def
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// FromEnv assembles a Config from the process environment, applying the
// defaults named throughout SPEC_FULL.md §4/§6.
func FromEnv() *Config {
	cfg := &Config{
		Core: Core{
			NodeID:          env("CORE_NODE_ID", defaultNodeID()),
			NodeRole:        env("CORE_NODE_ROLE", "primary"),
			ShutdownTimeout: envDuration("CORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Store: Store{
			URL:        env("STORE_URL", "postgres://localhost:5432/orchestrator?sslmode=disable"),
			ReplicaURL: env("STORE_REPLICA_URL", ""),
			PoolMin:    envInt("STORE_POOL_MIN", 2),
			PoolMax:    envInt("STORE_POOL_MAX", 20),
			SSLMode:    env("STORE_SSL_MODE", "disable"),
		},
		Coord: Coord{
			Addresses:      envList("COORD_ADDRESSES", []string{"localhost:6379"}),
			SentinelNames:  envList("COORD_SENTINEL_NAMES", nil),
			Password:       env("COORD_PASSWORD", ""),
			KeyPrefix:      env("COORD_KEY_PREFIX", "orchestrator"),
			ConnectTimeout: envDuration("COORD_CONNECT_TIMEOUT", 5*time.Second),
			CommandTimeout: envDuration("COORD_COMMAND_TIMEOUT", 2*time.Second),
		},
		Queues: QueueConfig{
			Concurrency: map[string]int{
				"JOB_EXECUTION":        envInt("QUEUES_JOB_EXECUTION_CONCURRENCY", 5),
				"CONTAINER_MANAGEMENT": envInt("QUEUES_CONTAINER_MANAGEMENT_CONCURRENCY", 10),
				"MONITORING":           envInt("QUEUES_MONITORING_CONCURRENCY", 3),
				"WEBHOOK_PROCESSING":   envInt("QUEUES_WEBHOOK_PROCESSING_CONCURRENCY", 20),
				"CLEANUP":              envInt("QUEUES_CLEANUP_CONCURRENCY", 1),
				"METRICS_COLLECTION":   envInt("QUEUES_METRICS_COLLECTION_CONCURRENCY", 2),
			},
			VisibilityTimeout: envDuration("QUEUES_VISIBILITY_TIMEOUT", 60*time.Second),
			RetentionAge:      envDuration("QUEUES_RETENTION_AGE", 7*24*time.Hour),
		},
		Pool: Pool{
			Min:            envInt("POOL_MIN", 2),
			Max:            envInt("POOL_MAX", 20),
			ScaleUpUtil:    envFloat("POOL_SCALE_UP_UTIL", 0.8),
			ScaleUpSeconds: envDuration("POOL_SCALE_UP_SECONDS", 30*time.Second),
			ScaleDownUtil:  envFloat("POOL_SCALE_DOWN_UTIL", 0.2),
			ScaleDownIdle:  envDuration("POOL_SCALE_DOWN_IDLE", 5*time.Minute),
			StartupTimeout: envDuration("POOL_STARTUP_TIMEOUT", 30*time.Second),
		},
		Security: Security{
			Level:              env("SECURITY_LEVEL", "enforcement"),
			ScanEnabled:        envBool("SECURITY_SCAN_ENABLED", true),
			CriticalBlockCount: envInt("SECURITY_CRITICAL_BLOCK_COUNT", 1),
			HighBlockCount:     envInt("SECURITY_HIGH_BLOCK_COUNT", 3),
			PolicyIDs:          envList("SECURITY_POLICY_IDS", []string{"default"}),
		},
		HA: HA{
			Enabled:             envBool("HA_ENABLED", true),
			LeaseTTL:            envDuration("HA_LEASE_TTL", 30*time.Second),
			RenewInterval:       envDuration("HA_RENEW_INTERVAL", 10*time.Second),
			HealthCheckInterval: envDuration("HA_HEALTH_CHECK_INTERVAL", 5*time.Second),
			ComponentsEnabled: map[string]bool{
				"store":     envBool("HA_COMPONENT_STORE_ENABLED", true),
				"coord":     envBool("HA_COMPONENT_COORD_ENABLED", true),
				"engine":    envBool("HA_COMPONENT_ENGINE_ENABLED", true),
				"local_api": envBool("HA_COMPONENT_LOCAL_API_ENABLED", true),
			},
		},
		RateLimit: RateLimit{
			Window:     envDuration("RATE_LIMIT_WINDOW", time.Hour),
			Limit:      envInt("RATE_LIMIT_LIMIT", 1000),
			AuthWindow: envDuration("RATE_LIMIT_AUTH_WINDOW", time.Hour),
			AuthLimit:  envInt("RATE_LIMIT_AUTH_LIMIT", 100),
		},
		Limits: Limits{
			CPUCores:  envFloat("LIMITS_CPU_CORES", 2.0),
			MemoryMB:  envInt64("LIMITS_MEMORY_MB", 2048),
			SwapMB:    envInt64("LIMITS_SWAP_MB", 0),
			PidsLimit: envInt64("LIMITS_PIDS", 512),
			FdsLimit:  envInt64("LIMITS_FDS", 4096),
			DiskGB:    envInt64("LIMITS_DISK_GB", 10),
		},
		Auth: Auth{
			AdminUsername:     env("AUTH_ADMIN_USERNAME", "admin"),
			AdminPasswordHash: env("AUTH_ADMIN_PASSWORD_HASH", ""),
			TokenTTL:          envDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		},
		WebhookSecret: env("WEBHOOK_SECRET", ""),
		JWTSigningKey: env("JWT_SIGNING_KEY", ""),
		LogLevel:      env("LOG_LEVEL", "info"),
		LogJSON:       envBool("LOG_JSON", true),
	}
	return cfg
}

// Validate rejects configuration combinations that can never produce a
// working process; the caller exits 64 (EX_CONFIG) on a non-nil return.
func (c *Config) Validate() error {
	if c.Pool.Min < 0 || c.Pool.Max < c.Pool.Min {
		return orcherr.Validation("pool min/max invalid: min=%d max=%d", c.Pool.Min, c.Pool.Max)
	}
	if c.Store.PoolMax < c.Store.PoolMin {
		return orcherr.Validation("store pool min/max invalid: min=%d max=%d", c.Store.PoolMin, c.Store.PoolMax)
	}
	if c.HA.Enabled && c.HA.RenewInterval >= c.HA.LeaseTTL {
		return orcherr.Validation("ha renew interval must be less than lease ttl: renew=%s ttl=%s", c.HA.RenewInterval, c.HA.LeaseTTL)
	}
	if len(c.Coord.Addresses) == 0 {
		return orcherr.Validation("at least one coordination store address is required")
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.AuthLimit <= 0 {
		return orcherr.Validation("rate limit values must be positive")
	}
	if c.JWTSigningKey == "" {
		return orcherr.Validation("JWT_SIGNING_KEY is required")
	}
	return nil
}
