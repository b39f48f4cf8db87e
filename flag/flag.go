// Package flag provides the runtime-toggleable feature flags that gate
// every resilience pattern in the portal.
//
// Readers never consult mutable registry state directly. They take a
// [Snapshot] once at the start of a request or job execution and read
// only from it, so a mid-flight admin toggle cannot change behavior
// half-way through a request.
package flag

import "time"

// Canonical flag names, one per resilience pattern.
const (
	IdempotencyKey      = "idempotency-key"
	TransactionalOutbox = "transactional-outbox"
	RetryBackoff        = "retry-backoff"
	DeadLetterQueue     = "dead-letter-queue"
	CompetingConsumers  = "competing-consumers"
	Bulkhead            = "bulkhead"
	CircuitBreaker      = "circuit-breaker"
	CacheAside          = "cache-aside"
)

// Flag is a named boolean switch. Mutated only via the admin API.
type Flag struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Defaults returns the seed state for a fresh deployment: every pattern
// enabled.
func Defaults() map[string]bool {
	return map[string]bool{
		IdempotencyKey:      true,
		TransactionalOutbox: true,
		RetryBackoff:        true,
		DeadLetterQueue:     true,
		CompetingConsumers:  true,
		Bulkhead:            true,
		CircuitBreaker:      true,
		CacheAside:          true,
	}
}
