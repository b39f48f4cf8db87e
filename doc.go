// Package portal is the resilience pattern engine behind the university
// admission portal. It turns a synchronous "create application" request
// into an asynchronously processed, retried, isolated, and cached
// pipeline — all behind runtime-toggleable feature flags.
//
// The engine is built from small composable subsystems, each with its own
// package and store interface:
//
//   - flag: versioned registry of pattern toggles, snapshot per request
//   - idempotency: exactly-once-effect guard keyed by Idempotency-Key
//   - outbox: transactional outbox rows plus a polling relay
//   - job: durable queue model with a typed handler registry
//   - worker: competing-consumer pool and retry/DLQ executor
//   - backoff: pluggable retry delay strategies
//   - bulkhead: per-queue concurrency ceilings
//   - breaker: circuit breaker decorator for downstream calls
//   - cache: cache-aside read path (memory or Redis)
//
// A single backend (store/memory for tests and development, store/postgres
// for production) implements every subsystem store. The engine package
// wires everything together; the api package exposes the HTTP surface.
//
// Entity IDs use TypeID — prefix-qualified, K-sortable, UUIDv7-based
// identifiers.
package portal
