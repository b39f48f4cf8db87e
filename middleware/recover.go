package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/huytu0702/university-admission-portal-sub001/job"
)

// Recover returns middleware that converts a handler panic into an
// ordinary job error, so the attempt follows the normal retry and
// dead-letter path instead of killing the worker goroutine.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("job handler panicked",
				slog.String("job_name", j.Name),
				slog.String("job_id", j.ID.String()),
				slog.String("queue", j.Queue),
				slog.Int("attempt", j.Attempt),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			retErr = fmt.Errorf("panic in job %s: %v", j.Name, r)
		}()
		return next(ctx)
	}
}
