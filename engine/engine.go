// Package engine wires all portal subsystems together: store, flag
// registry, job registry, middleware chain, worker pool, outbox relay,
// bulkhead, circuit breakers, cache, and the janitor.
//
// This package exists to break the import cycle: the root portal
// package defines Entity and Config (imported by job, admission, etc.)
// and so cannot import those packages back. The engine sits above all
// subsystem packages and below the binaries.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/admission"
	"github.com/huytu0702/university-admission-portal-sub001/backoff"
	"github.com/huytu0702/university-admission-portal-sub001/breaker"
	"github.com/huytu0702/university-admission-portal-sub001/bulkhead"
	"github.com/huytu0702/university-admission-portal-sub001/cache"
	"github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/flag"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/idempotency"
	"github.com/huytu0702/university-admission-portal-sub001/janitor"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	mw "github.com/huytu0702/university-admission-portal-sub001/middleware"
	"github.com/huytu0702/university-admission-portal-sub001/outbox"
	"github.com/huytu0702/university-admission-portal-sub001/payment"
	"github.com/huytu0702/university-admission-portal-sub001/store"
	"github.com/huytu0702/university-admission-portal-sub001/worker"
)

// BreakerPaymentProvider is the circuit name guarding the payment
// provider. Exposed so the admin API can look it up.
const BreakerPaymentProvider = "payment-provider"

// Engine is the assembled portal runtime.
type Engine struct {
	cfg    portal.Config
	store  store.Store
	logger *slog.Logger

	flags    *flag.Registry
	registry *job.Registry
	breakers *breaker.Registry
	bulkhead *bulkhead.Manager
	guard    *idempotency.Guard
	cache    cache.Cache
	charger  payment.Charger
	emailer  admission.EmailSender
	service  *admission.Service
	dlqSvc   *dlq.Service
	executor *worker.Executor
	pool     *worker.Pool
	relay    *outbox.Relay
	janitor  *janitor.Janitor

	mws []mw.Middleware
	bo  backoff.Strategy

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// background controls whether Start launches the relay, pool, and
	// janitor loops. The API process disables it when a dedicated worker
	// process owns them.
	background bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCache sets the cache backend. Defaults to an in-process TTL map.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithCharger sets the payment provider client. The engine decorates it
// with the payment-provider circuit breaker. Defaults to the simulated
// provider.
func WithCharger(c payment.Charger) Option {
	return func(e *Engine) { e.charger = c }
}

// WithEmailSender sets the outbound email collaborator.
func WithEmailSender(sender admission.EmailSender) Option {
	return func(e *Engine) { e.emailer = sender }
}

// WithMiddleware appends middleware to the job execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithBackoff sets the retry backoff strategy. Defaults to exponential
// with full jitter bounded by the config.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithBackground controls whether Start launches the background loops
// (relay, worker pool, janitor).
func WithBackground(enabled bool) Option {
	return func(e *Engine) { e.background = enabled }
}

// WithTracerProvider sets a custom OTel TracerProvider. Without one the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. Without one the
// global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// New assembles an Engine over the given store.
func New(cfg portal.Config, st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, portal.ErrNoStore
	}

	e := &Engine{
		cfg:        cfg,
		store:      st,
		logger:     slog.Default(),
		registry:   job.NewRegistry(),
		background: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.flags = flag.NewRegistry(st, flag.Defaults(), e.logger)
	e.breakers = breaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerCooldown)
	e.guard = idempotency.NewGuard(st, cfg.IdempotencyTTL, e.logger)
	e.dlqSvc = dlq.NewService(st, st, dlq.WithLogger(e.logger))

	if e.cache == nil {
		e.cache = cache.NewMemory()
	}
	if e.charger == nil {
		e.charger = payment.NewSimulated(e.logger)
	}
	if e.bo == nil {
		e.bo = backoff.NewExponentialWithJitter(cfg.BackoffInitial, cfg.BackoffMax)
	}

	// One bulkhead partition per queue, same ceiling for all.
	partitions := make([]bulkhead.Config, 0, len(cfg.Queues))
	for _, q := range cfg.Queues {
		partitions = append(partitions, bulkhead.Config{Name: q, MaxActive: cfg.BulkheadMaxActive})
	}
	e.bulkhead = bulkhead.NewManager(partitions...)

	// Materialize the breaker now so the admin surface sees it before
	// the first charge.
	e.breakers.Get(BreakerPaymentProvider)
	guarded := &breakerCharger{
		name: BreakerPaymentProvider,
		reg:  e.breakers,
		next: e.charger,
	}

	svcOpts := []admission.ServiceOption{
		admission.WithCacheTTL(cfg.CacheTTL),
		admission.WithApplicationFee(cfg.ApplicationFeeCents, "USD"),
		admission.WithJobMaxAttempts(cfg.MaxAttempts),
		admission.WithJobTimeout(cfg.JobTimeout),
	}
	if e.emailer != nil {
		svcOpts = append(svcOpts, admission.WithEmailSender(e.emailer))
	}
	e.service = admission.NewService(st, st, e.guard, e.cache, guarded, e.logger, svcOpts...)
	e.service.RegisterJobs(e.registry)

	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/huytu0702/university-admission-portal-sub001"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/huytu0702/university-admission-portal-sub001"))
	} else {
		metricsMw = mw.Metrics()
	}

	allMws := append([]mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
		mw.Timeout(e.logger),
	}, e.mws...)

	e.executor = worker.NewExecutor(e.registry, st, e.dlqSvc, e.bo, e.logger, allMws...)
	e.pool = worker.NewPool(st, e.executor, e.logger,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolQueues(cfg.Queues),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
		worker.WithLimiter(e.bulkhead),
		worker.WithFlagSource(e.flags),
	)

	e.relay = outbox.NewRelay(st, st, e.service.Routes(), e.logger,
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithBatchSize(cfg.RelayBatchSize),
	)

	e.janitor = janitor.New(st, e.logger)

	return e, nil
}

// Start migrates the store, loads persisted flag state, and launches
// the background loops (unless disabled).
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("engine: migrate: %w", err)
	}
	if err := e.flags.Load(ctx); err != nil {
		return fmt.Errorf("engine: load flags: %w", err)
	}

	if !e.background {
		e.logger.Info("engine started without background loops")
		return nil
	}

	if err := e.relay.Start(ctx); err != nil {
		return fmt.Errorf("engine: start relay: %w", err)
	}
	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("engine: start pool: %w", err)
	}
	if err := e.janitor.Start(); err != nil {
		return fmt.Errorf("engine: start janitor: %w", err)
	}

	e.logger.Info("engine started",
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Any("queues", e.cfg.Queues),
	)
	return nil
}

// Stop shuts the background loops down concurrently, bounded by the
// configured shutdown timeout, then closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	var g errgroup.Group
	if e.background {
		g.Go(func() error { return e.relay.Stop(ctx) })
		g.Go(func() error { return e.pool.Stop(ctx) })
		g.Go(func() error { return e.janitor.Stop(ctx) })
	}
	stopErr := g.Wait()

	if err := e.store.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

// Register registers a typed job definition with the engine.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
}

// Enqueue creates and enqueues a job.
func Enqueue[T any](ctx context.Context, e *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return e.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (e *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts := job.DefaultOptions()
	if registered, ok := e.registry.Opts(name); ok {
		jobOpts = registered
	}
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      portal.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       jobOpts.Queue,
		Payload:     payload,
		State:       job.StateWaiting,
		MaxAttempts: jobOpts.MaxAttempts,
		Timeout:     jobOpts.Timeout,
		RunAt:       now,
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}

	if err := e.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// QueueMetrics is the per-queue job census for the scaling endpoint.
type QueueMetrics struct {
	QueueName        string `json:"queueName"`
	WaitingJobs      int64  `json:"waitingJobs"`
	ActiveJobs       int64  `json:"activeJobs"`
	CompletedJobs    int64  `json:"completedJobs"`
	FailedJobs       int64  `json:"failedJobs"`
	DeadLetteredJobs int64  `json:"deadLetteredJobs"`
}

// QueueMetrics reports job counts per configured queue.
func (e *Engine) QueueMetrics(ctx context.Context) ([]QueueMetrics, error) {
	states := []struct {
		state job.State
		dst   func(*QueueMetrics) *int64
	}{
		{job.StateWaiting, func(m *QueueMetrics) *int64 { return &m.WaitingJobs }},
		{job.StateActive, func(m *QueueMetrics) *int64 { return &m.ActiveJobs }},
		{job.StateCompleted, func(m *QueueMetrics) *int64 { return &m.CompletedJobs }},
		{job.StateFailed, func(m *QueueMetrics) *int64 { return &m.FailedJobs }},
		{job.StateDeadLettered, func(m *QueueMetrics) *int64 { return &m.DeadLetteredJobs }},
	}

	out := make([]QueueMetrics, 0, len(e.cfg.Queues))
	for _, q := range e.cfg.Queues {
		m := QueueMetrics{QueueName: q}
		for _, s := range states {
			count, err := e.store.CountJobs(ctx, job.CountOpts{Queue: q, State: s.state})
			if err != nil {
				return nil, fmt.Errorf("engine: count jobs for %s: %w", q, err)
			}
			*s.dst(&m) = count
		}
		out = append(out, m)
	}
	return out, nil
}

// Flags returns the feature flag registry.
func (e *Engine) Flags() *flag.Registry { return e.flags }

// Service returns the admission service.
func (e *Engine) Service() *admission.Service { return e.service }

// DLQService returns the dead letter queue service.
func (e *Engine) DLQService() *dlq.Service { return e.dlqSvc }

// Breakers returns the circuit breaker registry.
func (e *Engine) Breakers() *breaker.Registry { return e.breakers }

// Bulkhead returns the per-queue bulkhead manager.
func (e *Engine) Bulkhead() *bulkhead.Manager { return e.bulkhead }

// Registry returns the job registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Pool returns the worker pool.
func (e *Engine) Pool() *worker.Pool { return e.pool }

// Store returns the aggregate store.
func (e *Engine) Store() store.Store { return e.store }

// breakerCharger decorates a Charger with the payment-provider circuit
// breaker. With the circuit-breaker flag off, calls pass straight
// through and do not count against the breaker.
type breakerCharger struct {
	name string
	reg  *breaker.Registry
	next payment.Charger
}

func (c *breakerCharger) Charge(ctx context.Context, req payment.Request) (*payment.Receipt, error) {
	if snap, ok := flag.FromContext(ctx); ok && !snap.Enabled(flag.CircuitBreaker) {
		return c.next.Charge(ctx, req)
	}

	var receipt *payment.Receipt
	err := c.reg.Get(c.name).Do(ctx, func(ctx context.Context) error {
		var chargeErr error
		receipt, chargeErr = c.next.Charge(ctx, req)
		return chargeErr
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
