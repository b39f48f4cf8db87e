// Package memory provides a fully in-memory aggregate store. Safe for
// concurrent access. Intended for unit testing and single-process
// development deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/admission"
	"github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/flag"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/idempotency"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/outbox"
)

// Ensure Store implements every subsystem contract at compile time.
// We can't import store here (import cycle), so we verify each one.
var (
	_ flag.Store        = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
	_ outbox.Store      = (*Store)(nil)
	_ job.Store         = (*Store)(nil)
	_ dlq.Store         = (*Store)(nil)
	_ admission.Store   = (*Store)(nil)
)

// Store is the in-memory implementation of the aggregate store. A
// single mutex covers all tables, which is what makes the
// application-write + outbox-append transaction trivial here.
type Store struct {
	mu sync.RWMutex

	flags        map[string]*flag.Flag
	idempotency  map[string]*idempotency.Record
	messages     map[string]*outbox.Message
	jobs         map[string]*job.Job
	dlqs         map[string]*dlq.Entry
	applications map[string]*admission.Application
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		flags:        make(map[string]*flag.Flag),
		idempotency:  make(map[string]*idempotency.Record),
		messages:     make(map[string]*outbox.Message),
		jobs:         make(map[string]*job.Job),
		dlqs:         make(map[string]*dlq.Entry),
		applications: make(map[string]*admission.Application),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Flag Store
// ──────────────────────────────────────────────────

// ListFlags returns all persisted flags.
func (m *Store) ListFlags(_ context.Context) ([]*flag.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*flag.Flag, 0, len(m.flags))
	for _, f := range m.flags {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

// SaveFlag upserts one flag.
func (m *Store) SaveFlag(_ context.Context, f *flag.Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *f
	m.flags[f.Name] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

// BeginIdempotent atomically claims the key. If a record already exists
// it is returned with created=false; otherwise rec is inserted and
// created=true.
func (m *Store) BeginIdempotent(_ context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.idempotency[rec.Key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *rec
	m.idempotency[rec.Key] = &cp
	return nil, true, nil
}

// CompleteIdempotent stores the operation result against the key.
func (m *Store) CompleteIdempotent(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.idempotency[key]
	if !ok {
		return portal.ErrRequestInFlight
	}
	rec.Status = idempotency.StatusCompleted
	rec.Result = append([]byte(nil), result...)
	return nil
}

// DeleteIdempotent releases the key.
func (m *Store) DeleteIdempotent(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotency, key)
	return nil
}

// PurgeIdempotent removes records that expired before the cutoff.
func (m *Store) PurgeIdempotent(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, rec := range m.idempotency {
		if rec.ExpiresAt.Before(before) {
			delete(m.idempotency, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Outbox Store
// ──────────────────────────────────────────────────

// PendingMessages returns up to limit unpublished messages in creation
// order.
func (m *Store) PendingMessages(_ context.Context, limit int) ([]*outbox.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*outbox.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if msg.Published() {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkPublished stamps the message as handed to the queue. Idempotent.
func (m *Store) MarkPublished(_ context.Context, msgID id.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[msgID.String()]
	if !ok {
		return portal.ErrMessageNotFound
	}
	if msg.PublishedAt == nil {
		now := time.Now().UTC()
		msg.PublishedAt = &now
	}
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in waiting state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enqueueJobLocked(j)
}

func (m *Store) enqueueJobLocked(j *job.Job) error {
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return portal.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// DequeueJobs atomically claims up to limit waiting jobs from the given
// queues, sets them to active, and returns them.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	// Collect candidates.
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != job.StateWaiting {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateActive
		n := now
		j.StartedAt = &n
		j.HeartbeatAt = &n
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, portal.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return portal.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return portal.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// PruneJobs deletes terminal jobs whose CompletedAt (or UpdatedAt for
// failed states) is before the cutoff.
func (m *Store) PruneJobs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, j := range m.jobs {
		if !j.State.Terminal() {
			continue
		}
		finished := j.UpdatedAt
		if j.CompletedAt != nil {
			finished = *j.CompletedAt
		}
		if finished.Before(before) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, portal.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return portal.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the total number of DLQ entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// CountDLQByQueue returns entry counts keyed by queue name.
func (m *Store) CountDLQByQueue(_ context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, e := range m.dlqs {
		counts[e.Queue]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Application Store
// ──────────────────────────────────────────────────

// SubmitApplication writes the application and its outbox messages in
// one critical section, so no observer ever sees one without the other.
func (m *Store) SubmitApplication(_ context.Context, app *admission.Application, msgs []*outbox.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := app.ID.String()
	if _, exists := m.applications[key]; exists {
		return portal.ErrApplicationAlreadyExists
	}

	cp := *app
	m.applications[key] = &cp
	for _, msg := range msgs {
		mc := *msg
		m.messages[msg.ID.String()] = &mc
	}
	return nil
}

// GetApplication retrieves an application by ID.
func (m *Store) GetApplication(_ context.Context, appID id.ApplicationID) (*admission.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.applications[appID.String()]
	if !ok {
		return nil, portal.ErrApplicationNotFound
	}
	cp := *app
	return &cp, nil
}

// UpdateApplication persists changes to an existing application.
func (m *Store) UpdateApplication(_ context.Context, app *admission.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := app.ID.String()
	if _, ok := m.applications[key]; !ok {
		return portal.ErrApplicationNotFound
	}
	cp := *app
	cp.UpdatedAt = time.Now().UTC()
	m.applications[key] = &cp
	return nil
}

// CountApplications returns the total number of stored applications.
func (m *Store) CountApplications(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.applications)), nil
}
