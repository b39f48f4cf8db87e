package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/backoff"
	"github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/flag"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/middleware"
	"github.com/huytu0702/university-admission-portal-sub001/store/memory"
	"github.com/huytu0702/university-admission-portal-sub001/worker"
)

func setupExecutor(t *testing.T, reg *job.Registry) (*worker.Executor, *memory.Store) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	dlqSvc := dlq.NewService(s, s)
	bo := backoff.NewConstant(10 * time.Millisecond)
	exec := worker.NewExecutor(reg, s, dlqSvc, bo, logger, middleware.Recover(logger))
	return exec, s
}

func enqueueTestJob(t *testing.T, s *memory.Store, name string, maxAttempts int) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      portal.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       "default",
		State:       job.StateWaiting,
		MaxAttempts: maxAttempts,
		RunAt:       time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

func TestExecutor_Success(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("ok", func(_ context.Context, _ struct{}) error {
		return nil
	}))
	exec, s := setupExecutor(t, reg)
	j := enqueueTestJob(t, s, "ok", 3)

	if err := exec.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("State = %q, want completed", got.State)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestExecutor_RetryableFailureReWaits(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		return errors.New("transient")
	}))
	exec, s := setupExecutor(t, reg)
	j := enqueueTestJob(t, s, "flaky", 3)

	if err := exec.Execute(context.Background(), j); err == nil {
		t.Fatal("expected error from failing job")
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("State = %q, want waiting", got.State)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}
	if !got.RunAt.After(time.Now().UTC().Add(-time.Second)) {
		t.Errorf("RunAt = %v, want pushed into the future", got.RunAt)
	}
	if got.LastError != "transient" {
		t.Errorf("LastError = %q", got.LastError)
	}
}

func TestExecutor_ExhaustedBudgetDeadLetters(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("doomed", func(_ context.Context, _ struct{}) error {
		return errors.New("still broken")
	}))
	exec, s := setupExecutor(t, reg)
	j := enqueueTestJob(t, s, "doomed", 2)

	// Two attempts exhaust a budget of two.
	_ = exec.Execute(context.Background(), j)
	j.State = job.StateActive
	_ = exec.Execute(context.Background(), j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateDeadLettered {
		t.Errorf("State = %q, want dead_lettered", got.State)
	}

	entries, err := s.ListDLQ(context.Background(), dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("DLQ entries = %d, want 1", len(entries))
	}
	if entries[0].JobID != j.ID {
		t.Errorf("DLQ JobID = %v, want %v", entries[0].JobID, j.ID)
	}
	if entries[0].Attempt != 2 {
		t.Errorf("DLQ Attempt = %d, want 2", entries[0].Attempt)
	}
}

func TestExecutor_PermanentErrorSkipsRetries(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("rejected", func(_ context.Context, _ struct{}) error {
		return portal.Permanent(errors.New("card declined"))
	}))
	exec, s := setupExecutor(t, reg)
	j := enqueueTestJob(t, s, "rejected", 5)

	_ = exec.Execute(context.Background(), j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateDeadLettered {
		t.Errorf("State = %q, want dead_lettered on first attempt", got.State)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}

	count, err := s.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 1 {
		t.Errorf("CountDLQ = %d, want 1", count)
	}
}

func TestExecutor_RetryFlagOffIsTerminal(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("no-retry", func(_ context.Context, _ struct{}) error {
		return errors.New("transient")
	}))
	exec, s := setupExecutor(t, reg)
	j := enqueueTestJob(t, s, "no-retry", 5)

	flags := flag.Defaults()
	flags[flag.RetryBackoff] = false
	ctx := flag.NewContext(context.Background(), flag.NewSnapshot(flags))

	_ = exec.Execute(ctx, j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateDeadLettered {
		t.Errorf("State = %q, want dead_lettered with retries disabled", got.State)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}
}

func TestExecutor_DLQFlagOffMarksFailed(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("no-dlq", func(_ context.Context, _ struct{}) error {
		return errors.New("broken")
	}))
	exec, s := setupExecutor(t, reg)
	j := enqueueTestJob(t, s, "no-dlq", 1)

	flags := flag.Defaults()
	flags[flag.DeadLetterQueue] = false
	ctx := flag.NewContext(context.Background(), flag.NewSnapshot(flags))

	_ = exec.Execute(ctx, j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateFailed {
		t.Errorf("State = %q, want failed with DLQ disabled", got.State)
	}

	count, err := s.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 0 {
		t.Errorf("CountDLQ = %d, want 0", count)
	}
}

func TestExecutor_UnknownJobName(t *testing.T) {
	exec, s := setupExecutor(t, job.NewRegistry())
	j := enqueueTestJob(t, s, "never-registered", 1)

	err := exec.Execute(context.Background(), j)
	if err == nil {
		t.Fatal("expected error for unregistered handler")
	}
}

func TestExecutor_PanicIsCaughtAndCounted(t *testing.T) {
	reg := job.NewRegistry()
	job.RegisterDefinition(reg, job.NewDefinition("panicky", func(_ context.Context, _ struct{}) error {
		panic("boom")
	}))
	exec, s := setupExecutor(t, reg)
	j := enqueueTestJob(t, s, "panicky", 3)

	_ = exec.Execute(context.Background(), j)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("State = %q, want waiting (panic converted to retryable error)", got.State)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}
}
