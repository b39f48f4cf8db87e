package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/huytu0702/university-admission-portal-sub001/job"
)

// Logging returns middleware that logs the life of each job attempt.
// Every record carries the job name, ID, and queue so one grep follows
// a job across retries and across queues.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		l := logger.With(
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
		)
		l.Info("job started",
			slog.Int("attempt", j.Attempt),
			slog.Int("max_attempts", j.MaxAttempts),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			l.Error("job failed",
				slog.Int("attempt", j.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}

		l.Info("job completed", slog.Duration("elapsed", elapsed))
		return nil
	}
}
