package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/admission"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/idempotency"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/outbox"
	"github.com/huytu0702/university-admission-portal-sub001/store/memory"
)

func newWaitingJob(queue string) *job.Job {
	return &job.Job{
		Entity:      portal.NewEntity(),
		ID:          id.NewJobID(),
		Name:        "test-job",
		Queue:       queue,
		State:       job.StateWaiting,
		MaxAttempts: 3,
		RunAt:       time.Now().UTC(),
	}
}

func TestStore_EnqueueDuplicateJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newWaitingJob("default")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, portal.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue: err = %v, want ErrJobAlreadyExists", err)
	}
}

func TestStore_DequeueClaimsExclusively(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const jobs = 20
	for range jobs {
		if err := s.EnqueueJob(ctx, newWaitingJob("default")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// Many concurrent consumers; every job must be claimed exactly once.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]int)
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := s.DequeueJobs(ctx, []string{"default"}, 2)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, j := range got {
					claimed[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), jobs)
	}
	for jobID, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jobID, n)
		}
	}
}

func TestStore_DequeueHonorsRunAt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newWaitingJob("default")
	j.RunAt = time.Now().UTC().Add(time.Hour)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.DequeueJobs(ctx, []string{"default"}, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("dequeued %d jobs before RunAt, want 0", len(got))
	}
}

func TestStore_DequeueFiltersQueues(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, newWaitingJob("email")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, newWaitingJob("payment-creation")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.DequeueJobs(ctx, []string{"email"}, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("dequeued %d jobs, want 1", len(got))
	}
	if got[0].Queue != "email" {
		t.Errorf("Queue = %q, want email", got[0].Queue)
	}
	if got[0].State != job.StateActive {
		t.Errorf("State = %q, want active", got[0].State)
	}
	if got[0].StartedAt == nil {
		t.Error("StartedAt not set on claim")
	}
}

func TestStore_ReapStaleJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := newWaitingJob("default")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := s.DequeueJobs(ctx, []string{"default"}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("dequeue: %v (%d jobs)", err, len(claimed))
	}

	// Age the heartbeat past the threshold.
	old := time.Now().UTC().Add(-time.Hour)
	stale := claimed[0]
	stale.HeartbeatAt = &old
	if err := s.UpdateJob(ctx, stale); err != nil {
		t.Fatalf("update: %v", err)
	}

	reaped, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(reaped) != 1 {
		t.Fatalf("reaped %d jobs, want 1", len(reaped))
	}
	if reaped[0].ID != j.ID {
		t.Errorf("reaped job %v, want %v", reaped[0].ID, j.ID)
	}
}

func TestStore_PruneJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	done := newWaitingJob("default")
	if err := s.EnqueueJob(ctx, done); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	old := time.Now().UTC().Add(-48 * time.Hour)
	done.State = job.StateCompleted
	done.CompletedAt = &old
	if err := s.UpdateJob(ctx, done); err != nil {
		t.Fatalf("update: %v", err)
	}

	live := newWaitingJob("default")
	if err := s.EnqueueJob(ctx, live); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := s.PruneJobs(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d jobs, want 1", n)
	}
	if _, err := s.GetJob(ctx, live.ID); err != nil {
		t.Errorf("waiting job pruned: %v", err)
	}
	if _, err := s.GetJob(ctx, done.ID); !errors.Is(err, portal.ErrJobNotFound) {
		t.Errorf("old completed job survived prune: %v", err)
	}
}

func TestStore_BeginIdempotentClaimsOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	rec := &idempotency.Record{
		Key:         "key-1",
		Fingerprint: "fp",
		Status:      idempotency.StatusStarted,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	existing, created, err := s.BeginIdempotent(ctx, rec)
	if err != nil || !created || existing != nil {
		t.Fatalf("first begin: existing=%v created=%v err=%v", existing, created, err)
	}

	existing, created, err = s.BeginIdempotent(ctx, rec)
	if err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if created {
		t.Error("second begin created a new record")
	}
	if existing == nil || existing.Key != "key-1" {
		t.Fatalf("second begin existing = %+v", existing)
	}

	if err := s.CompleteIdempotent(ctx, "key-1", []byte("result")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	existing, _, err = s.BeginIdempotent(ctx, rec)
	if err != nil {
		t.Fatalf("third begin: %v", err)
	}
	if existing.Status != idempotency.StatusCompleted || string(existing.Result) != "result" {
		t.Errorf("existing = %+v, want completed with result", existing)
	}
}

func TestStore_PurgeIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &idempotency.Record{Key: "old", ExpiresAt: now.Add(-time.Hour)}
	fresh := &idempotency.Record{Key: "new", ExpiresAt: now.Add(time.Hour)}
	if _, _, err := s.BeginIdempotent(ctx, expired); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, _, err := s.BeginIdempotent(ctx, fresh); err != nil {
		t.Fatalf("begin: %v", err)
	}

	n, err := s.PurgeIdempotent(ctx, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}

func TestStore_SubmitApplicationAtomic(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	app := admission.NewApplication(admission.SubmitInput{
		ApplicantEmail: "a@example.com",
		Program:        "cs",
	})
	msgs := []*outbox.Message{
		outbox.NewMessage("application.received", []byte(`{"id":"1"}`)),
	}

	if err := s.SubmitApplication(ctx, app, msgs); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := s.GetApplication(ctx, app.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != admission.StatusReceived {
		t.Errorf("Status = %q, want received", got.Status)
	}

	pending, err := s.PendingMessages(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	// A duplicate submit must write nothing, including messages.
	dup := []*outbox.Message{outbox.NewMessage("application.received", nil)}
	if err := s.SubmitApplication(ctx, app, dup); !errors.Is(err, portal.ErrApplicationAlreadyExists) {
		t.Fatalf("duplicate submit: err = %v", err)
	}
	pending, _ = s.PendingMessages(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("pending after failed submit = %d, want 1", len(pending))
	}
}

func TestStore_MarkPublishedIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	app := admission.NewApplication(admission.SubmitInput{ApplicantEmail: "a@b.c", Program: "cs"})
	msg := outbox.NewMessage("application.received", nil)
	if err := s.SubmitApplication(ctx, app, []*outbox.Message{msg}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := s.MarkPublished(ctx, msg.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, _ := s.PendingMessages(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("pending after publish = %d, want 0", len(pending))
	}

	// Marking again is a no-op, not an error.
	if err := s.MarkPublished(ctx, msg.ID); err != nil {
		t.Errorf("second mark: %v", err)
	}
	if err := s.MarkPublished(ctx, id.NewMessageID()); !errors.Is(err, portal.ErrMessageNotFound) {
		t.Errorf("unknown message: err = %v", err)
	}
}

func TestStore_PendingMessagesCreationOrder(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	app := admission.NewApplication(admission.SubmitInput{ApplicantEmail: "a@b.c", Program: "cs"})
	var msgs []*outbox.Message
	base := time.Now().UTC()
	for i := range 5 {
		msg := outbox.NewMessage("application.received", nil)
		msg.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		msgs = append(msgs, msg)
	}
	if err := s.SubmitApplication(ctx, app, msgs); err != nil {
		t.Fatalf("submit: %v", err)
	}

	pending, err := s.PendingMessages(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("pending = %d, want 5", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].CreatedAt.Before(pending[i-1].CreatedAt) {
			t.Fatalf("pending out of creation order at %d", i)
		}
	}
}
