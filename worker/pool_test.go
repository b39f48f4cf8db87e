package worker_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/backoff"
	"github.com/huytu0702/university-admission-portal-sub001/bulkhead"
	"github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/flag"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/middleware"
	"github.com/huytu0702/university-admission-portal-sub001/store/memory"
	"github.com/huytu0702/university-admission-portal-sub001/worker"
)

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()

	dlqSvc := dlq.NewService(s, s)
	bo := backoff.NewConstant(10 * time.Millisecond)

	executor := worker.NewExecutor(
		reg, s, dlqSvc, bo, logger,
		middleware.Recover(logger),
	)

	base := []worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
		worker.WithPoolQueues([]string{"default"}),
	}
	pool := worker.NewPool(s, executor, logger, append(base, opts...)...)

	return pool, s, reg
}

func enqueueWaiting(t *testing.T, s *memory.Store, name, queue string, payload []byte) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      portal.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       queue,
		Payload:     payload,
		State:       job.StateWaiting,
		MaxAttempts: 3,
		RunAt:       time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	err := pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	err = pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, p struct{ Name string }) error {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return nil
	}))

	payload, _ := json.Marshal(struct{ Name string }{Name: "Alice"})
	j := enqueueWaiting(t, s, "greet", "default", payload)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for !processed.Load() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for job to be processed")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("job state = %q, want %q", got.State, job.StateCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestPool_CompetingConsumersDrainFaster(t *testing.T) {
	pool, s, reg := setupTestPool(t, 4, 5*time.Millisecond)

	var processed atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("work", func(_ context.Context, _ struct{}) error {
		time.Sleep(20 * time.Millisecond)
		processed.Add(1)
		return nil
	}))

	const jobs = 8
	for range jobs {
		enqueueWaiting(t, s, "work", "default", nil)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for processed.Load() < jobs {
		select {
		case <-deadline:
			t.Fatalf("timed out: processed %d of %d", processed.Load(), jobs)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	// Every job claimed exactly once.
	count, err := s.CountJobs(context.Background(), job.CountOpts{State: job.StateCompleted})
	if err != nil {
		t.Fatalf("count error: %v", err)
	}
	if count != jobs {
		t.Errorf("completed = %d, want %d", count, jobs)
	}
}

func TestPool_SerialWhenCompetingConsumersOff(t *testing.T) {
	flags := flag.Defaults()
	flags[flag.CompetingConsumers] = false
	src := staticFlags{snap: flag.NewSnapshot(flags)}

	pool, s, reg := setupTestPool(t, 4, 5*time.Millisecond, worker.WithFlagSource(src))

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		done     atomic.Int32
	)
	job.RegisterDefinition(reg, job.NewDefinition("serial", func(_ context.Context, _ struct{}) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil
	}))

	const jobs = 6
	for range jobs {
		enqueueWaiting(t, s, "serial", "default", nil)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for done.Load() < jobs {
		select {
		case <-deadline:
			t.Fatalf("timed out: done %d of %d", done.Load(), jobs)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrent executions = %d, want 1 with competing consumers off", p)
	}
}

func TestPool_BulkheadCapsQueueConcurrency(t *testing.T) {
	limiter := bulkhead.NewManager(bulkhead.Config{Name: "payment-creation", MaxActive: 2})
	pool, s, reg := setupTestPool(t, 6, 5*time.Millisecond,
		worker.WithPoolQueues([]string{"payment-creation"}),
		worker.WithLimiter(limiter),
	)

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		done     atomic.Int32
	)
	job.RegisterDefinition(reg, job.NewDefinition("charge", func(_ context.Context, _ struct{}) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil
	}))

	const jobs = 8
	for range jobs {
		enqueueWaiting(t, s, "charge", "payment-creation", nil)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for done.Load() < jobs {
		select {
		case <-deadline:
			t.Fatalf("timed out: done %d of %d", done.Load(), jobs)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrent executions = %d, want at most 2", p)
	}
}

func TestPool_GracefulShutdown(t *testing.T) {
	pool, _, _ := setupTestPool(t, 4, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	// Allow workers to start polling.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := pool.Stop(ctx)
	if err != nil {
		t.Fatalf("graceful shutdown failed: %v", err)
	}
}

// staticFlags is a flag.Source with a fixed snapshot.
type staticFlags struct {
	snap flag.Snapshot
}

func (s staticFlags) Snapshot() flag.Snapshot { return s.snap }
