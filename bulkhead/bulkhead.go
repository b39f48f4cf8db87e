// Package bulkhead caps concurrent work per named partition so one slow
// dependency cannot starve the rest of the worker pool.
package bulkhead

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-partition behaviour such as rate limiting and
// concurrency caps.
type Config struct {
	// Name is the partition identifier (matches the job.Queue field).
	Name string

	// MaxActive limits how many jobs from this partition may run
	// simultaneously across the local worker pool. Zero means no
	// partition-specific limit (pool-wide concurrency still applies).
	MaxActive int

	// RateLimit is the maximum sustained jobs per second that may be
	// admitted from this partition. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

type partitionState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-partition rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	partitions map[string]*partitionState
}

// NewManager creates a Manager with the given partition configurations.
// Partitions not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		partitions: make(map[string]*partitionState, len(configs)),
	}
	for _, cfg := range configs {
		m.partitions[cfg.Name] = newPartitionState(cfg)
	}
	return m
}

func newPartitionState(cfg Config) *partitionState {
	ps := &partitionState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ps.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ps
}

// Acquire checks rate limits and the concurrency cap for the given
// partition. If the job is allowed to proceed it increments the active
// counter and returns true. The caller MUST call Release when the job
// completes. Acquire never blocks: a full partition is a rejection, and
// the caller decides whether to requeue or shed.
func (m *Manager) Acquire(partition string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.partitions[partition]
	if ps == nil {
		return true
	}
	if ps.limiter != nil && !ps.limiter.Allow() {
		return false
	}
	if ps.config.MaxActive > 0 && ps.active >= ps.config.MaxActive {
		return false
	}
	ps.active++
	return true
}

// Release decrements the active job count for the partition.
func (m *Manager) Release(partition string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ps := m.partitions[partition]; ps != nil && ps.active > 0 {
		ps.active--
	}
}

// SetConfig dynamically updates (or creates) a partition configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.partitions[cfg.Name]
	ps := newPartitionState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ps.active = existing.active
	}
	m.partitions[cfg.Name] = ps
}

// Active returns the current number of active jobs for a partition.
func (m *Manager) Active(partition string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.partitions[partition]; ps != nil {
		return ps.active
	}
	return 0
}

// Cap returns the configured MaxActive for a partition (zero if the
// partition is unknown or uncapped).
func (m *Manager) Cap(partition string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.partitions[partition]; ps != nil {
		return ps.config.MaxActive
	}
	return 0
}
