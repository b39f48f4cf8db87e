package flag

import (
	"context"
	"errors"
	"sync"
	"testing"

	portal "github.com/huytu0702/university-admission-portal-sub001"
)

// fakeStore is an in-memory flag.Store for registry tests.
type fakeStore struct {
	mu    sync.Mutex
	flags map[string]*Flag
	fail  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{flags: make(map[string]*Flag)}
}

func (s *fakeStore) ListFlags(_ context.Context) ([]*Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]*Flag, 0, len(s.flags))
	for _, f := range s.flags {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) SaveFlag(_ context.Context, f *Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	cp := *f
	s.flags[f.Name] = &cp
	return nil
}

func TestRegistry_DefaultsEnabled(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newFakeStore(), Defaults(), nil)
	snap := r.Snapshot()

	for _, name := range []string{
		IdempotencyKey, TransactionalOutbox, RetryBackoff, DeadLetterQueue,
		CompetingConsumers, Bulkhead, CircuitBreaker, CacheAside,
	} {
		if !snap.Enabled(name) {
			t.Errorf("default snapshot: %q disabled, want enabled", name)
		}
	}
	if snap.Enabled("no-such-flag") {
		t.Error("unknown flag reported enabled")
	}
}

func TestRegistry_ToggleUnknownFlag(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newFakeStore(), Defaults(), nil)
	_, err := r.Toggle(context.Background(), "no-such-flag", true)
	if !errors.Is(err, portal.ErrFlagNotFound) {
		t.Errorf("Toggle(unknown) = %v, want ErrFlagNotFound", err)
	}
}

func TestRegistry_SnapshotImmutableAcrossToggle(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newFakeStore(), Defaults(), nil)
	before := r.Snapshot()

	if _, err := r.Toggle(context.Background(), CircuitBreaker, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	after := r.Snapshot()

	// The snapshot taken before the toggle keeps its view.
	if !before.Enabled(CircuitBreaker) {
		t.Error("pre-toggle snapshot changed after toggle")
	}
	if after.Enabled(CircuitBreaker) {
		t.Error("post-toggle snapshot did not observe toggle")
	}
	if after.Version() <= before.Version() {
		t.Errorf("version did not advance: before=%d after=%d", before.Version(), after.Version())
	}
}

func TestRegistry_LoadMergesPersistedState(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.flags[CacheAside] = &Flag{Name: CacheAside, Enabled: false}

	r := NewRegistry(store, Defaults(), nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	snap := r.Snapshot()
	if snap.Enabled(CacheAside) {
		t.Error("persisted disabled flag overridden by default")
	}
	if !snap.Enabled(Bulkhead) {
		t.Error("default flag lost during load")
	}

	// Flags missing from the store are seeded.
	if _, ok := store.flags[Bulkhead]; !ok {
		t.Error("default flag not written through on load")
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newFakeStore(), Defaults(), nil)
	flags := r.List()
	if len(flags) != len(Defaults()) {
		t.Fatalf("List() returned %d flags, want %d", len(flags), len(Defaults()))
	}
	for i := 1; i < len(flags); i++ {
		if flags[i-1].Name >= flags[i].Name {
			t.Fatalf("List() not sorted: %q before %q", flags[i-1].Name, flags[i].Name)
		}
	}
}

func TestSnapshot_ContextRoundTrip(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newFakeStore(), Defaults(), nil)
	ctx := NewContext(context.Background(), r.Snapshot())

	snap, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext: snapshot missing")
	}
	if !snap.Enabled(RetryBackoff) {
		t.Error("snapshot from context lost flag state")
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext reported a snapshot on a bare context")
	}
}
