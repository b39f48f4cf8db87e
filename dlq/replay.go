package dlq

import (
	"context"
	"log/slog"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/job"
)

// Replay re-enqueues a DLQ entry as a new waiting job and marks the
// entry as replayed. The new job gets a fresh ID, a zero attempt count,
// and runs immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      portal.NewEntity(),
		ID:          id.NewJobID(),
		Name:        entry.JobName,
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		State:       job.StateWaiting,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued; failing here would invite the
		// caller to retry and enqueue it twice. A missing stamp only
		// risks a second manual replay, so log and report success.
		s.logger.Warn("failed to mark DLQ entry as replayed",
			slog.String("entry_id", entryID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	return j, nil
}
