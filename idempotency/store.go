package idempotency

import (
	"context"
	"time"
)

// Store defines the persistence contract for idempotency records.
type Store interface {
	// BeginIdempotent atomically creates rec if no record exists for its
	// key, or returns the existing record. Exactly one concurrent caller
	// observes created == true; all others see the record that caller
	// inserted.
	BeginIdempotent(ctx context.Context, rec *Record) (existing *Record, created bool, err error)

	// CompleteIdempotent transitions the record for key to completed and
	// stores the result to replay.
	CompleteIdempotent(ctx context.Context, key string, result []byte) error

	// DeleteIdempotent removes the record for key, freeing it for retry.
	DeleteIdempotent(ctx context.Context, key string) error

	// PurgeIdempotent removes records that expired before the given time
	// and returns how many were removed.
	PurgeIdempotent(ctx context.Context, before time.Time) (int64, error)
}
