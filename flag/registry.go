package flag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
)

// Snapshot is an immutable view of flag state at one point in time.
// The zero value reports every flag disabled.
type Snapshot struct {
	version uint64
	enabled map[string]bool
}

// NewSnapshot builds a standalone snapshot from a fixed table. Useful
// where no registry exists, such as tests and one-shot tools.
func NewSnapshot(enabled map[string]bool) Snapshot {
	cp := make(map[string]bool, len(enabled))
	for name, on := range enabled {
		cp[name] = on
	}
	return Snapshot{version: 1, enabled: cp}
}

// Enabled reports whether the named flag was on when the snapshot was
// taken. Unknown names are off.
func (s Snapshot) Enabled(name string) bool { return s.enabled[name] }

// Version is a monotonically increasing counter bumped on every toggle.
func (s Snapshot) Version() uint64 { return s.version }

// Source yields flag snapshots. Implemented by *Registry; consumers
// depend on this narrow interface.
type Source interface {
	Snapshot() Snapshot
}

// Registry is the process-wide flag table. Toggles write through to the
// store and atomically publish a fresh Snapshot.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	flags map[string]*Flag
	snap  atomic.Pointer[Snapshot]
}

// NewRegistry creates a Registry over the given store, seeded with
// defaults. Call Load before serving traffic.
func NewRegistry(store Store, defaults map[string]bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:  store,
		logger: logger,
		flags:  make(map[string]*Flag, len(defaults)),
	}
	now := time.Now().UTC()
	for name, enabled := range defaults {
		r.flags[name] = &Flag{Name: name, Enabled: enabled, UpdatedAt: now}
	}
	r.publishLocked(1)
	return r
}

// Load merges persisted flag state over the defaults and persists any
// flag the store has not seen yet, so a fresh database converges to the
// default table.
func (r *Registry) Load(ctx context.Context) error {
	persisted, err := r.store.ListFlags(ctx)
	if err != nil {
		return fmt.Errorf("flag: load: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(persisted))
	for _, f := range persisted {
		cp := *f
		r.flags[f.Name] = &cp
		seen[f.Name] = true
	}
	for name, f := range r.flags {
		if seen[name] {
			continue
		}
		if err := r.store.SaveFlag(ctx, f); err != nil {
			return fmt.Errorf("flag: seed %q: %w", name, err)
		}
	}
	r.publishLocked(r.snap.Load().version + 1)
	return nil
}

// Snapshot returns the current immutable flag view. Take exactly one per
// request or job execution.
func (r *Registry) Snapshot() Snapshot { return *r.snap.Load() }

// List returns all flags sorted by name.
func (r *Registry) List() []*Flag {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Flag, 0, len(r.flags))
	for _, f := range r.flags {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a copy of the named flag.
func (r *Registry) Get(name string) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flags[name]
	if !ok {
		return nil, portal.ErrFlagNotFound
	}
	cp := *f
	return &cp, nil
}

// Toggle sets the named flag, writes it through to the store, and
// publishes a new snapshot. Unknown names fail with ErrFlagNotFound:
// the flag table is fixed at build time, only values change at runtime.
func (r *Registry) Toggle(ctx context.Context, name string, enabled bool) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flags[name]
	if !ok {
		return nil, portal.ErrFlagNotFound
	}

	f.Enabled = enabled
	f.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveFlag(ctx, f); err != nil {
		return nil, fmt.Errorf("flag: toggle %q: %w", name, err)
	}
	r.publishLocked(r.snap.Load().version + 1)

	r.logger.Info("feature flag toggled",
		slog.String("flag", name),
		slog.Bool("enabled", enabled),
	)

	cp := *f
	return &cp, nil
}

// publishLocked swaps in a fresh snapshot. Caller holds r.mu (or is the
// constructor, before the registry escapes).
func (r *Registry) publishLocked(version uint64) {
	enabled := make(map[string]bool, len(r.flags))
	for name, f := range r.flags {
		enabled[name] = f.Enabled
	}
	r.snap.Store(&Snapshot{version: version, enabled: enabled})
}
