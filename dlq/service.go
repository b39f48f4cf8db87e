package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store, opts ...Option) *Service {
	s := &Service{store: store, jobStore: jobStore, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push builds a DLQ Entry from a failed job and persists it.
// The error string is captured from the original handler error.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		JobName:     j.Name,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Error:       jobErr.Error(),
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Counts returns DLQ entry counts per queue plus the total.
func (s *Service) Counts(ctx context.Context) (map[string]int64, int64, error) {
	perQueue, err := s.store.CountDLQByQueue(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	for _, n := range perQueue {
		total += n
	}
	return perQueue, total, nil
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
