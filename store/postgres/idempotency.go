package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/huytu0702/university-admission-portal-sub001/idempotency"
)

// BeginIdempotent atomically creates rec if no record exists for its
// key, or returns the existing record. The INSERT ... ON CONFLICT DO
// NOTHING guarantees exactly one concurrent caller wins the claim.
func (s *Store) BeginIdempotent(ctx context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	for {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO portal_idempotency (key, fingerprint, status, result, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO NOTHING`,
			rec.Key, rec.Fingerprint, string(rec.Status), rec.Result, rec.CreatedAt, rec.ExpiresAt,
		)
		if err != nil {
			return nil, false, fmt.Errorf("portal/postgres: begin idempotent: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil, true, nil
		}

		existing, err := s.getIdempotency(ctx, rec.Key)
		if err == nil {
			return existing, false, nil
		}
		if !isNoRows(err) {
			return nil, false, fmt.Errorf("portal/postgres: begin idempotent: %w", err)
		}
		// The conflicting record was deleted between the insert and the
		// select. Try the claim again.
	}
}

// CompleteIdempotent transitions the record for key to completed and
// stores the result to replay.
func (s *Store) CompleteIdempotent(ctx context.Context, key string, result []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE portal_idempotency
		SET status = $2, result = $3
		WHERE key = $1`,
		key, string(idempotency.StatusCompleted), result,
	)
	if err != nil {
		return fmt.Errorf("portal/postgres: complete idempotent: %w", err)
	}
	return nil
}

// DeleteIdempotent removes the record for key, freeing it for retry.
func (s *Store) DeleteIdempotent(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM portal_idempotency WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("portal/postgres: delete idempotent: %w", err)
	}
	return nil
}

// PurgeIdempotent removes records that expired before the given time and
// returns how many were removed.
func (s *Store) PurgeIdempotent(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM portal_idempotency WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("portal/postgres: purge idempotent: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) getIdempotency(ctx context.Context, key string) (*idempotency.Record, error) {
	var (
		rec       idempotency.Record
		statusStr string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT key, fingerprint, status, result, created_at, expires_at
		FROM portal_idempotency
		WHERE key = $1`,
		key,
	).Scan(&rec.Key, &rec.Fingerprint, &statusStr, &rec.Result, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	rec.Status = idempotency.Status(statusStr)
	return &rec, nil
}
