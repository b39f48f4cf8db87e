package portal

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process configuration for the portal engine. Infra values
// come from the environment via LoadConfig; tuning knobs default from
// DefaultConfig and may be overridden before building the engine.
type Config struct {
	// ServiceName identifies this process in logs.
	ServiceName string

	// HTTPAddr is the listen address for the API server.
	HTTPAddr string

	// PostgresDSN selects the Postgres store when non-empty; otherwise the
	// in-memory store is used (single-process development and tests).
	PostgresDSN string

	// RedisAddr selects the Redis cache backend when non-empty; otherwise
	// an in-process TTL cache is used.
	RedisAddr string

	// EmbedWorker runs the background engine (relay, worker pool, janitor)
	// inside the API process. Required for the memory store, optional when
	// a dedicated worker process runs against Postgres.
	EmbedWorker bool

	// Concurrency is the number of worker goroutines in the pool.
	Concurrency int

	// Queues is the set of queues the pool polls.
	Queues []string

	// PollInterval is how often an idle worker polls for jobs.
	PollInterval time.Duration

	// RelayInterval is how often the outbox relay polls for pending
	// messages. Must be positive; the relay never busy-loops.
	RelayInterval time.Duration

	// RelayBatchSize caps how many pending messages one relay pass handles.
	RelayBatchSize int

	// ShutdownTimeout bounds graceful shutdown of background loops.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often active jobs heartbeat; zero disables.
	HeartbeatInterval time.Duration

	// StaleJobThreshold reaps active jobs without a heartbeat for this
	// long; zero disables reaping.
	StaleJobThreshold time.Duration

	// MaxAttempts is the default retry budget per job.
	MaxAttempts int

	// BackoffInitial and BackoffMax bound the jittered exponential retry
	// delay: delay(n) ∈ [0, min(BackoffInitial*2^(n-1), BackoffMax)].
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// JobTimeout is the default per-attempt deadline.
	JobTimeout time.Duration

	// BulkheadMaxActive caps concurrently active jobs per queue.
	BulkheadMaxActive int

	// BreakerThreshold is the consecutive-failure count that trips a
	// circuit; BreakerCooldown is how long it stays open before probing.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// CacheTTL is the safety-net expiry for cache entries. Consistency
	// comes from explicit invalidation, not from this TTL.
	CacheTTL time.Duration

	// IdempotencyTTL is the validity window of an idempotency record.
	IdempotencyTTL time.Duration

	// ApplicationFeeCents is the admission fee charged per application.
	ApplicationFeeCents int64
}

// DefaultConfig returns a Config with sensible defaults for a
// single-process deployment.
func DefaultConfig() Config {
	return Config{
		ServiceName:         "admission-portal",
		HTTPAddr:            ":8080",
		EmbedWorker:         true,
		Concurrency:         10,
		Queues:              []string{"document-verification", "payment-creation", "email"},
		PollInterval:        250 * time.Millisecond,
		RelayInterval:       500 * time.Millisecond,
		RelayBatchSize:      50,
		ShutdownTimeout:     30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		StaleJobThreshold:   30 * time.Second,
		MaxAttempts:         5,
		BackoffInitial:      500 * time.Millisecond,
		BackoffMax:          30 * time.Second,
		JobTimeout:          time.Minute,
		BulkheadMaxActive:   4,
		BreakerThreshold:    5,
		BreakerCooldown:     15 * time.Second,
		CacheTTL:            5 * time.Minute,
		IdempotencyTTL:      24 * time.Hour,
		ApplicationFeeCents: 7500,
	}
}

// LoadConfig builds a Config from the environment on top of DefaultConfig.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.EmbedWorker = envBool("EMBED_WORKER", cfg.EmbedWorker)

	if n := envInt("WORKER_CONCURRENCY", cfg.Concurrency); n > 0 {
		cfg.Concurrency = n
	}
	if v := os.Getenv("WORKER_QUEUES"); v != "" {
		var queues []string
		for _, q := range strings.Split(v, ",") {
			if q = strings.TrimSpace(q); q != "" {
				queues = append(queues, q)
			}
		}
		if len(queues) > 0 {
			cfg.Queues = queues
		}
	}
	cfg.PollInterval = envDuration("WORKER_POLL_INTERVAL", cfg.PollInterval)
	cfg.RelayInterval = envDuration("RELAY_INTERVAL", cfg.RelayInterval)
	if n := envInt("RELAY_BATCH_SIZE", cfg.RelayBatchSize); n > 0 {
		cfg.RelayBatchSize = n
	}
	if n := envInt("JOB_MAX_ATTEMPTS", cfg.MaxAttempts); n > 0 {
		cfg.MaxAttempts = n
	}
	cfg.BackoffInitial = envDuration("BACKOFF_INITIAL", cfg.BackoffInitial)
	cfg.BackoffMax = envDuration("BACKOFF_MAX", cfg.BackoffMax)
	cfg.JobTimeout = envDuration("JOB_TIMEOUT", cfg.JobTimeout)
	if n := envInt("BULKHEAD_MAX_ACTIVE", cfg.BulkheadMaxActive); n > 0 {
		cfg.BulkheadMaxActive = n
	}
	if n := envInt("BREAKER_THRESHOLD", cfg.BreakerThreshold); n > 0 {
		cfg.BreakerThreshold = n
	}
	cfg.BreakerCooldown = envDuration("BREAKER_COOLDOWN", cfg.BreakerCooldown)
	cfg.CacheTTL = envDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.IdempotencyTTL = envDuration("IDEMPOTENCY_TTL", cfg.IdempotencyTTL)

	return cfg
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
