package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	portalDLQ "github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/store/memory"
)

func newTestJob(name, queue string, payload []byte) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:      portal.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       queue,
		Payload:     payload,
		State:       job.StateFailed,
		MaxAttempts: 3,
		Attempt:     3,
		LastError:   "test error",
		RunAt:       now,
	}
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := portalDLQ.NewService(s, s)
	ctx := context.Background()

	j := newTestJob("verify-documents", "document-verification", []byte(`{"application_id":"app_1"}`))
	jobErr := errors.New("registry timeout")

	if err := svc.Push(ctx, j, jobErr); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, portalDLQ.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.JobName != "verify-documents" {
		t.Errorf("JobName = %q, want %q", entry.JobName, "verify-documents")
	}
	if entry.Queue != "document-verification" {
		t.Errorf("Queue = %q, want %q", entry.Queue, "document-verification")
	}
	if string(entry.Payload) != `{"application_id":"app_1"}` {
		t.Errorf("Payload = %q", entry.Payload)
	}
	if entry.Error != "registry timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "registry timeout")
	}
	if entry.Attempt != 3 {
		t.Errorf("Attempt = %d, want 3", entry.Attempt)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestService_Counts(t *testing.T) {
	s := memory.New()
	svc := portalDLQ.NewService(s, s)
	ctx := context.Background()

	for range 2 {
		j := newTestJob("verify-documents", "document-verification", nil)
		if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	j := newTestJob("create-payment", "payment-creation", nil)
	if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	perQueue, total, err := svc.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if perQueue["document-verification"] != 2 {
		t.Errorf("document-verification = %d, want 2", perQueue["document-verification"])
	}
	if perQueue["payment-creation"] != 1 {
		t.Errorf("payment-creation = %d, want 1", perQueue["payment-creation"])
	}
}

func TestService_Replay_CreatesNewWaitingJob(t *testing.T) {
	s := memory.New()
	svc := portalDLQ.NewService(s, s)
	ctx := context.Background()

	original := newTestJob("replay-me", "default", []byte(`{"key":"value"}`))
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, portalDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.State != job.StateWaiting {
		t.Errorf("State = %q, want %q", replayed.State, job.StateWaiting)
	}
	if replayed.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", replayed.Attempt)
	}
	if replayed.Name != "replay-me" {
		t.Errorf("Name = %q, want %q", replayed.Name, "replay-me")
	}
	if string(replayed.Payload) != `{"key":"value"}` {
		t.Errorf("Payload = %q", replayed.Payload)
	}

	got, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("stored job State = %q, want %q", got.State, job.StateWaiting)
	}
}

func TestService_Replay_MarksDLQEntryAsReplayed(t *testing.T) {
	s := memory.New()
	svc := portalDLQ.NewService(s, s)
	ctx := context.Background()

	j := newTestJob("replay-mark", "default", nil)
	if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, portalDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	entryID := entries[0].ID

	if _, replayErr := svc.Replay(ctx, entryID); replayErr != nil {
		t.Fatalf("Replay: %v", replayErr)
	}

	entry, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

// stampFailStore fails the replayed-at stamp while every other store
// operation works normally.
type stampFailStore struct {
	*memory.Store
}

func (s *stampFailStore) ReplayDLQ(context.Context, id.DLQID) error {
	return errors.New("stamp write refused")
}

func TestService_Replay_StampFailureStillReturnsJob(t *testing.T) {
	s := memory.New()
	svc := portalDLQ.NewService(&stampFailStore{s}, s)
	ctx := context.Background()

	if err := svc.Push(ctx, newTestJob("replay-stamp", "default", nil), errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, err := s.ListDLQ(ctx, portalDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	entryID := entries[0].ID

	// The job is enqueued before the stamp; a failed stamp must not
	// surface as a replay failure, or callers retry and enqueue twice.
	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay with failing stamp: %v", err)
	}
	if replayed == nil {
		t.Fatal("Replay returned no job")
	}

	got, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("enqueued job State = %q, want %q", got.State, job.StateWaiting)
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := portalDLQ.NewService(s, s)
	ctx := context.Background()

	_, err := svc.Replay(ctx, id.NewDLQID())
	if !errors.Is(err, portal.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
}
