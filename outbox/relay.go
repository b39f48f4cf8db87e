package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/job"
)

// Route tells the relay how to turn an event type into a job.
type Route struct {
	JobName     string
	Queue       string
	MaxAttempts int
	Timeout     time.Duration
}

// Enqueuer is the slice of job.Store the relay needs.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, j *job.Job) error
}

// Relay is the single background loop that drains the outbox into the
// job queue. It never busy-loops: every pass is separated by the poll
// interval regardless of outcome.
type Relay struct {
	store    Store
	queue    Enqueuer
	routes   map[string]Route
	interval time.Duration
	batch    int
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithInterval sets the poll interval between relay passes.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps how many pending messages one pass handles.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// NewRelay creates a Relay publishing through queue using the given
// event-type routes. Events without a route are left pending and logged;
// they become publishable once a route is registered in a later deploy.
func NewRelay(store Store, queue Enqueuer, routes map[string]Route, logger *slog.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		store:    store,
		queue:    queue,
		routes:   routes,
		interval: 500 * time.Millisecond,
		batch:    50,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the polling loop. It returns immediately.
func (r *Relay) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true

	r.logger.Info("outbox relay starting",
		slog.Duration("interval", r.interval),
		slog.Int("batch", r.batch),
	)

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Stop signals the loop to exit and waits for it, bounded by ctx.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) loop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case <-time.After(r.interval):
		}

		if _, err := r.RelayOnce(context.Background()); err != nil {
			r.logger.Error("relay pass failed", slog.String("error", err.Error()))
		}
	}
}

// RelayOnce performs one relay pass and returns how many messages it
// published. Within one event type, messages are handed off strictly in
// creation order: an enqueue failure parks the rest of that type until
// the next pass. Other event types are unaffected — no cross-type
// head-of-line blocking.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	pending, err := r.store.PendingMessages(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := 0
	blocked := make(map[string]bool)

	for _, msg := range pending {
		if blocked[msg.EventType] {
			continue
		}

		route, ok := r.routes[msg.EventType]
		if !ok {
			blocked[msg.EventType] = true
			r.logger.Warn("no route for outbox event type",
				slog.String("event_type", msg.EventType),
				slog.String("message_id", msg.ID.String()),
			)
			continue
		}

		if err := r.publish(ctx, msg, route); err != nil {
			blocked[msg.EventType] = true
			r.logger.Error("outbox publish failed, will retry",
				slog.String("event_type", msg.EventType),
				slog.String("message_id", msg.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		published++
	}

	if published > 0 {
		r.logger.Debug("relay pass complete", slog.Int("published", published))
	}
	return published, nil
}

// publish enqueues the job for msg and marks the message published.
// A duplicate job means a previous pass crashed after the enqueue; the
// enqueue already took effect, so only the stamp is missing.
func (r *Relay) publish(ctx context.Context, msg *Message, route Route) error {
	now := time.Now().UTC()
	j := &job.Job{
		Entity:      portal.NewEntity(),
		ID:          msg.JobID,
		Name:        route.JobName,
		Queue:       route.Queue,
		Payload:     msg.Payload,
		State:       job.StateWaiting,
		MaxAttempts: route.MaxAttempts,
		Timeout:     route.Timeout,
		RunAt:       now,
	}

	if err := r.queue.EnqueueJob(ctx, j); err != nil && !errors.Is(err, portal.ErrJobAlreadyExists) {
		return err
	}
	return r.store.MarkPublished(ctx, msg.ID)
}
