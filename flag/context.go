package flag

import "context"

type ctxKey struct{}

// NewContext returns a context carrying the snapshot. The API layer and
// the worker pool attach one snapshot per request/job so downstream code
// sees consistent flag state for the whole execution.
func NewContext(ctx context.Context, snap Snapshot) context.Context {
	return context.WithValue(ctx, ctxKey{}, snap)
}

// FromContext extracts the snapshot attached by NewContext.
func FromContext(ctx context.Context) (Snapshot, bool) {
	snap, ok := ctx.Value(ctxKey{}).(Snapshot)
	return snap, ok
}
