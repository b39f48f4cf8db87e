package postgres

import (
	"context"
	"fmt"

	"github.com/huytu0702/university-admission-portal-sub001/flag"
)

// ListFlags returns all persisted flags ordered by name.
func (s *Store) ListFlags(ctx context.Context) ([]*flag.Flag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, enabled, updated_at
		FROM portal_flags
		ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("portal/postgres: list flags: %w", err)
	}
	defer rows.Close()

	var flags []*flag.Flag
	for rows.Next() {
		var f flag.Flag
		if scanErr := rows.Scan(&f.Name, &f.Enabled, &f.UpdatedAt); scanErr != nil {
			return nil, fmt.Errorf("portal/postgres: scan flag row: %w", scanErr)
		}
		flags = append(flags, &f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("portal/postgres: iterate flag rows: %w", err)
	}
	return flags, nil
}

// SaveFlag inserts or updates a flag by name.
func (s *Store) SaveFlag(ctx context.Context, f *flag.Flag) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO portal_flags (name, enabled, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET enabled = EXCLUDED.enabled, updated_at = NOW()`,
		f.Name, f.Enabled,
	)
	if err != nil {
		return fmt.Errorf("portal/postgres: save flag: %w", err)
	}
	return nil
}
