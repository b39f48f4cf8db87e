package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
)

// Operation produces the serialized result stored against the key and
// replayed to later callers.
type Operation func(ctx context.Context) ([]byte, error)

// Guard executes operations at most once per idempotency key.
type Guard struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock overrides the guard's time source. For tests.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a Guard. ttl bounds the validity window of each key;
// expired records are treated as absent and reclaimed in place.
func NewGuard(store Store, ttl time.Duration, logger *slog.Logger, opts ...GuardOption) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs op under the idempotency contract for key:
//
//   - empty key: run op directly, no deduplication (pattern disabled or
//     caller opted out);
//   - first sight of key: insert a started record, run op, store its
//     result, return it;
//   - completed record: return the stored result without running op
//     (replayed == true);
//   - started record held by a concurrent caller: portal.ErrRequestInFlight;
//   - same key, different fingerprint: portal.ErrKeyReused.
//
// If op fails, the record is deleted so a retry with the same key can
// proceed — the documented resolution of the "stuck started record"
// question (delete-and-allow-retry, not mark-failed).
func (g *Guard) Execute(ctx context.Context, key, fingerprint string, op Operation) (result []byte, replayed bool, err error) {
	if key == "" {
		result, err = op(ctx)
		return result, false, err
	}

	rec := &Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusStarted,
		CreatedAt:   g.now(),
		ExpiresAt:   g.now().Add(g.ttl),
	}

	existing, created, err := g.store.BeginIdempotent(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: begin %q: %w", key, err)
	}

	if !created {
		// A stale record from an expired window is reclaimed: drop it and
		// take the key over with one more begin attempt.
		if existing.Expired(g.now()) {
			if err := g.store.DeleteIdempotent(ctx, key); err != nil {
				return nil, false, fmt.Errorf("idempotency: reclaim %q: %w", key, err)
			}
			existing, created, err = g.store.BeginIdempotent(ctx, rec)
			if err != nil {
				return nil, false, fmt.Errorf("idempotency: begin %q: %w", key, err)
			}
		}
	}

	if !created {
		if existing.Fingerprint != fingerprint {
			return nil, false, portal.ErrKeyReused
		}
		switch existing.Status {
		case StatusCompleted:
			g.logger.Debug("idempotent replay",
				slog.String("key", key),
			)
			return existing.Result, true, nil
		default:
			return nil, false, portal.ErrRequestInFlight
		}
	}

	result, opErr := op(ctx)
	if opErr != nil {
		if delErr := g.store.DeleteIdempotent(ctx, key); delErr != nil {
			g.logger.Error("failed to release idempotency key after operation error",
				slog.String("key", key),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, false, opErr
	}

	if err := g.store.CompleteIdempotent(ctx, key, result); err != nil {
		return nil, false, fmt.Errorf("idempotency: complete %q: %w", key, err)
	}
	return result, false, nil
}
