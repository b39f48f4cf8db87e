package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/huytu0702/university-admission-portal-sub001/job"
)

// Timeout returns middleware that bounds each attempt by the job's
// Timeout. The deadline cancels the context the handler runs under; the
// downstream call is abandoned rather than terminated, and the expired
// attempt follows the normal retry path.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		err := next(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("job attempt exceeded its deadline",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.String("queue", j.Queue),
				slog.Duration("timeout", j.Timeout),
			)
		}
		return err
	}
}
