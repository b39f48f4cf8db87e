// Package idempotency deduplicates logically identical write requests.
//
// The guard runs an operation at most once per caller-supplied key:
// the first caller executes, later callers with the same key replay the
// stored result. Concurrent callers racing the first execution fail fast
// with portal.ErrRequestInFlight — the documented alternative to
// unbounded blocking behind the in-flight request.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Status is the lifecycle state of an idempotency record.
type Status string

const (
	// StatusStarted means the first request holding this key is still
	// executing.
	StatusStarted Status = "started"
	// StatusCompleted means the operation finished and Result holds the
	// response to replay.
	StatusCompleted Status = "completed"
)

// Record pins an idempotency key to one operation execution.
type Record struct {
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"`
	Status      Status    `json:"status"`
	Result      []byte    `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the record's validity window has passed.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Fingerprint hashes a request body so key reuse with a different
// payload can be rejected instead of silently replaying the wrong
// response.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
