// Package janitor runs the scheduled housekeeping sweeps: expired
// idempotency records, finished jobs past their retention, and stale
// dead letter entries.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Store is the slice of the aggregate store the janitor sweeps.
type Store interface {
	PurgeIdempotent(ctx context.Context, before time.Time) (int64, error)
	PruneJobs(ctx context.Context, before time.Time) (int64, error)
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)
}

// Janitor periodically reclaims storage. All sweeps are safe to run
// concurrently with normal traffic; they only touch rows nothing reads
// anymore.
type Janitor struct {
	store  Store
	logger *slog.Logger
	cron   *cron.Cron

	schedule     string
	jobRetention time.Duration
	dlqRetention time.Duration
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithSchedule sets the cron spec for the sweep, e.g. "@every 5m".
func WithSchedule(spec string) Option {
	return func(j *Janitor) {
		if spec != "" {
			j.schedule = spec
		}
	}
}

// WithJobRetention sets how long finished jobs are kept.
func WithJobRetention(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.jobRetention = d
		}
	}
}

// WithDLQRetention sets how long dead letter entries are kept. Zero
// disables the DLQ sweep.
func WithDLQRetention(d time.Duration) Option {
	return func(j *Janitor) { j.dlqRetention = d }
}

// New creates a Janitor. Call Start to begin sweeping.
func New(store Store, logger *slog.Logger, opts ...Option) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		store:        store,
		logger:       logger,
		schedule:     "@every 5m",
		jobRetention: 24 * time.Hour,
		dlqRetention: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start registers the sweep on the cron schedule and starts the runner.
func (j *Janitor) Start() error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.schedule, func() {
		if err := j.RunOnce(context.Background()); err != nil {
			j.logger.Error("janitor sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}

	j.logger.Info("janitor starting", slog.String("schedule", j.schedule))
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}
	stopCtx := j.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one sweep. Each sub-sweep failure is returned but
// does not stop the others.
func (j *Janitor) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	var firstErr error

	purged, err := j.store.PurgeIdempotent(ctx, now)
	if err != nil {
		firstErr = err
		j.logger.Error("idempotency purge failed", slog.String("error", err.Error()))
	} else if purged > 0 {
		j.logger.Info("purged expired idempotency records", slog.Int64("count", purged))
	}

	pruned, err := j.store.PruneJobs(ctx, now.Add(-j.jobRetention))
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		j.logger.Error("job prune failed", slog.String("error", err.Error()))
	} else if pruned > 0 {
		j.logger.Info("pruned finished jobs", slog.Int64("count", pruned))
	}

	if j.dlqRetention > 0 {
		removed, err := j.store.PurgeDLQ(ctx, now.Add(-j.dlqRetention))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			j.logger.Error("dlq purge failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			j.logger.Info("purged old dlq entries", slog.Int64("count", removed))
		}
	}

	return firstErr
}
