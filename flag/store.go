package flag

import "context"

// Store defines the persistence contract for feature flags.
type Store interface {
	// ListFlags returns all persisted flags.
	ListFlags(ctx context.Context) ([]*Flag, error)

	// SaveFlag inserts or updates a flag by name.
	SaveFlag(ctx context.Context, f *Flag) error
}
