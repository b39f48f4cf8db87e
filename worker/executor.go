// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/backoff"
	"github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/flag"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/middleware"
)

// Executor runs a single job through middleware and the registered handler,
// then handles retry scheduling, DLQ push, and state updates. Retry and
// dead-lettering behavior is gated by the flag snapshot carried in the
// execution context; an absent snapshot behaves as all patterns enabled.
type Executor struct {
	registry   *job.Registry
	store      job.Store
	dlqService *dlq.Service
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// flagEnabled reads one flag from the snapshot in ctx. Without a
// snapshot every pattern is on, matching the seed defaults.
func flagEnabled(ctx context.Context, name string) bool {
	if snap, ok := flag.FromContext(ctx); ok {
		return snap.Enabled(name)
	}
	return true
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed.
// On retryable failure with budget remaining: re-waits with backoff.
// On terminal failure: dead-letters (or just marks failed when the
// dead-letter-queue flag is off).
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		return fmt.Errorf("no handler registered for job %q", j.Name)
	}

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(ctx, j, terminal)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, now)
}

// handleSuccess marks the job as completed.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}
	return nil
}

// handleFailure counts the attempt and decides between retry and
// terminal failure. Permanent errors skip the remaining retry budget.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.Attempt++
	j.LastError = handlerErr.Error()

	retryable := flagEnabled(ctx, flag.RetryBackoff) && !portal.IsPermanent(handlerErr)
	if retryable && j.Attempt < j.MaxAttempts {
		return e.scheduleRetry(ctx, j, now)
	}

	if flagEnabled(ctx, flag.DeadLetterQueue) {
		return e.sendToDLQ(ctx, j, handlerErr)
	}
	return e.markFailed(ctx, j, handlerErr)
}

// scheduleRetry puts the job back to waiting with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	delay := e.backoff.Delay(j.Attempt)
	j.RunAt = now.Add(delay)
	j.State = job.StateWaiting
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %s", j.Name, j.Attempt, j.MaxAttempts, j.LastError)
}

// sendToDLQ marks the job as dead-lettered and pushes it to the DLQ.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateDeadLettered

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as dead-lettered",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.logger.Warn("job moved to DLQ",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempt),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// markFailed records a terminal failure without dead-lettering. Used
// when the dead-letter-queue flag is off.
func (e *Executor) markFailed(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempt),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
