package janitor_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/idempotency"
	"github.com/huytu0702/university-admission-portal-sub001/janitor"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/store/memory"
)

func TestJanitor_RunOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	// One expired and one live idempotency record.
	for key, expires := range map[string]time.Time{
		"expired": now.Add(-time.Minute),
		"live":    now.Add(time.Hour),
	} {
		_, created, err := s.BeginIdempotent(ctx, &idempotency.Record{
			Key:         key,
			Fingerprint: "fp",
			Status:      idempotency.StatusCompleted,
			CreatedAt:   now.Add(-2 * time.Hour),
			ExpiresAt:   expires,
		})
		if err != nil || !created {
			t.Fatalf("BeginIdempotent %s: created=%v err=%v", key, created, err)
		}
	}

	// One old completed job and one still waiting.
	oldDone := now.Add(-2 * time.Hour)
	finished := &job.Job{
		Entity: portal.NewEntity(), ID: id.NewJobID(), Name: "old", Queue: "default",
		State: job.StateWaiting, MaxAttempts: 3, RunAt: now,
	}
	waiting := &job.Job{
		Entity: portal.NewEntity(), ID: id.NewJobID(), Name: "young", Queue: "default",
		State: job.StateWaiting, MaxAttempts: 3, RunAt: now,
	}
	for _, j := range []*job.Job{finished, waiting} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}
	finished.State = job.StateCompleted
	finished.CompletedAt = &oldDone
	if err := s.UpdateJob(ctx, finished); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	// One stale DLQ entry.
	if err := s.PushDLQ(ctx, &dlq.Entry{
		ID: id.NewDLQID(), JobID: id.NewJobID(), JobName: "dead", Queue: "default",
		Error: "boom", Attempt: 3, MaxAttempts: 3,
		FailedAt: now.Add(-3 * time.Hour), CreatedAt: now.Add(-3 * time.Hour),
	}); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	jan := janitor.New(s, slog.Default(),
		janitor.WithJobRetention(time.Hour),
		janitor.WithDLQRetention(time.Hour),
	)
	if err := jan.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// Expired idempotency record gone, live one kept: re-claiming the
	// expired key succeeds, the live key returns the existing record.
	_, created, err := s.BeginIdempotent(ctx, &idempotency.Record{Key: "expired", Fingerprint: "fp", Status: idempotency.StatusStarted, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("BeginIdempotent after purge: %v", err)
	}
	if !created {
		t.Error("expired record survived the purge")
	}
	_, created, err = s.BeginIdempotent(ctx, &idempotency.Record{Key: "live", Fingerprint: "fp", Status: idempotency.StatusStarted, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("BeginIdempotent live: %v", err)
	}
	if created {
		t.Error("live record was purged")
	}

	// Old finished job pruned, waiting job kept.
	if _, err := s.GetJob(ctx, finished.ID); err == nil {
		t.Error("old completed job survived the prune")
	}
	if _, err := s.GetJob(ctx, waiting.ID); err != nil {
		t.Errorf("waiting job was pruned: %v", err)
	}

	// Stale DLQ entry purged.
	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 0 {
		t.Errorf("dlq entries = %d, want 0", count)
	}
}

func TestJanitor_StartStop(t *testing.T) {
	s := memory.New()
	jan := janitor.New(s, slog.Default(), janitor.WithSchedule("@every 1h"))

	if err := jan.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := jan.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestJanitor_BadScheduleRejected(t *testing.T) {
	jan := janitor.New(memory.New(), slog.Default(), janitor.WithSchedule("not a schedule"))
	if err := jan.Start(); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}
