package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/cache"
	"github.com/huytu0702/university-admission-portal-sub001/flag"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/idempotency"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/outbox"
	"github.com/huytu0702/university-admission-portal-sub001/payment"
)

// Job names and queues of the admission pipeline.
const (
	JobVerifyDocuments = "verify-documents"
	JobCreatePayment   = "create-payment"
	JobSendEmail       = "send-email"

	QueueDocumentVerification = "document-verification"
	QueuePaymentCreation      = "payment-creation"
	QueueEmail                = "email"
)

// EventApplicationReceived is the outbox event type written with every
// asynchronous submission.
const EventApplicationReceived = "application.received"

// Email templates used by the send-email job.
const (
	EmailPaymentLink = "payment-link"
	EmailReceipt     = "receipt"
)

// TaskPayload is the payload of the pipeline jobs: everything they need
// is reloaded from the store by application ID.
type TaskPayload struct {
	ApplicationID id.ApplicationID `json:"applicationId"`
}

// EmailPayload is the payload of the send-email job.
type EmailPayload struct {
	ApplicationID id.ApplicationID `json:"applicationId"`
	Template      string           `json:"template"`
}

// SubmitResult is the outcome of a submission, also the serialized form
// replayed for duplicate idempotency keys.
type SubmitResult struct {
	ApplicationID id.ApplicationID `json:"applicationId"`
	Status        Status           `json:"status"`
	StatusURL     string           `json:"statusUrl"`
	PayURL        string           `json:"payUrl"`
	Async         bool             `json:"async"`
}

// Service is the application-facing admission workflow: submission,
// status reads, payment checkout, and the job handlers that move an
// application through its pipeline.
type Service struct {
	store   Store
	queue   outbox.Enqueuer
	guard   *idempotency.Guard
	cache   cache.Cache
	charger payment.Charger
	emailer EmailSender
	jobs    *job.Registry
	logger  *slog.Logger

	cacheTTL    time.Duration
	maxAttempts int
	jobTimeout  time.Duration
	feeCents    int64
	currency    string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEmailSender replaces the default log-only email sender.
func WithEmailSender(sender EmailSender) ServiceOption {
	return func(s *Service) { s.emailer = sender }
}

// WithCacheTTL sets the safety-net expiry for cached applications.
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithApplicationFee sets the admission fee charged per application.
func WithApplicationFee(cents int64, currency string) ServiceOption {
	return func(s *Service) {
		s.feeCents = cents
		s.currency = currency
	}
}

// WithJobMaxAttempts sets the execution budget for pipeline jobs.
func WithJobMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithJobTimeout sets the per-attempt deadline for pipeline jobs.
func WithJobTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// NewService creates the admission service. The charger should already
// be decorated with a circuit breaker by the caller; the service treats
// portal.ErrCircuitOpen like any other transient charge failure.
func NewService(store Store, queue outbox.Enqueuer, guard *idempotency.Guard, c cache.Cache, charger payment.Charger, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       store,
		queue:       queue,
		guard:       guard,
		cache:       c,
		charger:     charger,
		emailer:     NewLogSender(logger),
		logger:      logger,
		cacheTTL:    5 * time.Minute,
		maxAttempts: 5,
		jobTimeout:  time.Minute,
		feeCents:    7500,
		currency:    "USD",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterJobs registers the pipeline job definitions on reg. The
// service keeps reg so chained enqueues reuse the registered options.
func (s *Service) RegisterJobs(reg *job.Registry) {
	s.jobs = reg

	job.RegisterDefinition(reg, job.NewDefinition(JobVerifyDocuments, s.handleVerifyDocuments,
		job.WithQueue(QueueDocumentVerification),
		job.WithMaxAttempts(s.maxAttempts),
		job.WithTimeout(s.jobTimeout),
	))
	job.RegisterDefinition(reg, job.NewDefinition(JobCreatePayment, s.handleCreatePayment,
		job.WithQueue(QueuePaymentCreation),
		job.WithMaxAttempts(s.maxAttempts),
		job.WithTimeout(s.jobTimeout),
	))
	job.RegisterDefinition(reg, job.NewDefinition(JobSendEmail, s.handleSendEmail,
		job.WithQueue(QueueEmail),
		job.WithMaxAttempts(s.maxAttempts),
		job.WithTimeout(s.jobTimeout),
	))
}

// Routes returns the outbox relay routing table for admission events.
func (s *Service) Routes() map[string]outbox.Route {
	return map[string]outbox.Route{
		EventApplicationReceived: {
			JobName:     JobVerifyDocuments,
			Queue:       QueueDocumentVerification,
			MaxAttempts: s.maxAttempts,
			Timeout:     s.jobTimeout,
		},
	}
}

// ──────────────────────────────────────────────────────────────────────
// Submission
// ──────────────────────────────────────────────────────────────────────

// Submit accepts a new application. With the idempotency-key pattern on
// and a non-empty key, the whole submission runs under the guard: a
// duplicate key replays the first result (replayed == true). With the
// transactional-outbox pattern on, the write and the pipeline kickoff
// event commit atomically and processing happens in the background;
// otherwise the pipeline runs inline before Submit returns.
func (s *Service) Submit(ctx context.Context, key string, in SubmitInput) (*SubmitResult, bool, error) {
	if err := in.Validate(); err != nil {
		return nil, false, err
	}

	if s.guard == nil || !flagOn(ctx, flag.IdempotencyKey) {
		key = ""
	}
	fingerprint := ""
	if key != "" {
		body, err := json.Marshal(in)
		if err != nil {
			return nil, false, fmt.Errorf("admission: fingerprint input: %w", err)
		}
		fingerprint = idempotency.Fingerprint(body)
	}

	run := func(ctx context.Context) ([]byte, error) {
		res, err := s.submit(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}

	var (
		data     []byte
		replayed bool
		err      error
	)
	if key == "" {
		data, err = run(ctx)
	} else {
		data, replayed, err = s.guard.Execute(ctx, key, fingerprint, run)
	}
	if err != nil {
		return nil, false, err
	}

	var res SubmitResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("admission: decode submit result: %w", err)
	}
	return &res, replayed, nil
}

func (s *Service) submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	app := NewApplication(in)
	async := flagOn(ctx, flag.TransactionalOutbox)

	var msgs []*outbox.Message
	if async {
		payload, err := json.Marshal(TaskPayload{ApplicationID: app.ID})
		if err != nil {
			return nil, fmt.Errorf("admission: encode event payload: %w", err)
		}
		msgs = append(msgs, outbox.NewMessage(EventApplicationReceived, payload))
	}

	if err := s.store.SubmitApplication(ctx, app, msgs); err != nil {
		return nil, err
	}

	s.logger.Info("application submitted",
		slog.String("application_id", app.ID.String()),
		slog.String("program", app.Program),
		slog.Bool("async", async),
	)

	if !async {
		if err := s.processInline(ctx, app); err != nil {
			return nil, err
		}
	}

	return &SubmitResult{
		ApplicationID: app.ID,
		Status:        app.Status,
		StatusURL:     "/applications/" + app.ID.String(),
		PayURL:        "/payments/checkout?applicationId=" + app.ID.String(),
		Async:         async,
	}, nil
}

// processInline runs the pipeline synchronously: verification, then
// payment creation and the notification email if verification passed.
func (s *Service) processInline(ctx context.Context, app *Application) error {
	verified, err := s.verifyApplication(ctx, app)
	if err != nil {
		return err
	}
	if !verified {
		return nil
	}
	if err := s.createPayment(ctx, app); err != nil {
		return err
	}
	return s.sendEmail(ctx, app, EmailPaymentLink)
}

// ──────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────

// Get returns the application. With the cache-aside pattern on, a cache
// hit skips the store and a miss populates the cache; any cache failure
// falls back to the store, which stays the source of truth.
func (s *Service) Get(ctx context.Context, appID id.ApplicationID) (*Application, error) {
	if s.cache == nil || !flagOn(ctx, flag.CacheAside) {
		return s.store.GetApplication(ctx, appID)
	}

	key := cacheKey(appID)
	if data, err := s.cache.Get(ctx, key); err == nil {
		var app Application
		if err := json.Unmarshal(data, &app); err == nil {
			return &app, nil
		}
		// Undecodable entry: drop it and fall through to the store.
		s.invalidate(ctx, appID)
	} else if !errors.Is(err, portal.ErrCacheMiss) {
		s.logger.Warn("cache read failed, falling back to store",
			slog.String("application_id", appID.String()),
			slog.String("error", err.Error()),
		)
	}

	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(app); err == nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			s.logger.Warn("cache write failed",
				slog.String("application_id", appID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return app, nil
}

// ──────────────────────────────────────────────────────────────────────
// Checkout
// ──────────────────────────────────────────────────────────────────────

// Checkout settles the application fee through the payment provider and
// moves the application to paid, then under review. The charger call
// goes through the circuit breaker; portal.ErrCircuitOpen surfaces to
// the caller unchanged.
func (s *Service) Checkout(ctx context.Context, appID id.ApplicationID) (*payment.Receipt, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}

	switch app.Status {
	case StatusVerified, StatusPaymentPending:
	case StatusPaid, StatusUnderReview:
		return nil, portal.Validationf("status", "application %s already paid", app.ID)
	default:
		return nil, portal.Validationf("status", "application %s is %s, not ready for payment", app.ID, app.Status)
	}

	receipt, err := s.charger.Charge(ctx, payment.Request{
		ApplicationID: app.ID,
		AmountCents:   s.feeCents,
		Currency:      s.currency,
		Email:         app.ApplicantEmail,
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, app.ID)
	app.PaymentID = receipt.PaymentID
	app.Status = StatusPaid
	app.Touch()
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, app, StatusUnderReview); err != nil {
		return nil, err
	}

	if err := s.enqueueEmail(ctx, app.ID, EmailReceipt); err != nil {
		s.logger.Error("failed to enqueue receipt email",
			slog.String("application_id", app.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("application fee settled",
		slog.String("application_id", app.ID.String()),
		slog.String("payment_id", receipt.PaymentID.String()),
	)
	return receipt, nil
}

// ──────────────────────────────────────────────────────────────────────
// Job handlers
// ──────────────────────────────────────────────────────────────────────

func (s *Service) handleVerifyDocuments(ctx context.Context, p TaskPayload) error {
	app, err := s.loadForJob(ctx, p.ApplicationID)
	if err != nil {
		return err
	}
	verified, err := s.verifyApplication(ctx, app)
	if err != nil || !verified {
		return err
	}
	return s.enqueueTask(ctx, JobCreatePayment, TaskPayload{ApplicationID: app.ID})
}

func (s *Service) handleCreatePayment(ctx context.Context, p TaskPayload) error {
	app, err := s.loadForJob(ctx, p.ApplicationID)
	if err != nil {
		return err
	}
	if err := s.createPayment(ctx, app); err != nil {
		return err
	}
	return s.enqueueEmail(ctx, app.ID, EmailPaymentLink)
}

func (s *Service) handleSendEmail(ctx context.Context, p EmailPayload) error {
	app, err := s.loadForJob(ctx, p.ApplicationID)
	if err != nil {
		return err
	}
	return s.sendEmail(ctx, app, p.Template)
}

// verifyApplication runs document verification: verifying, then either
// verified or rejected. An application without a personal statement is
// rejected.
func (s *Service) verifyApplication(ctx context.Context, app *Application) (bool, error) {
	if err := s.setStatus(ctx, app, StatusVerifying); err != nil {
		return false, err
	}

	if strings.TrimSpace(app.PersonalStatement) == "" {
		s.logger.Info("application rejected at verification",
			slog.String("application_id", app.ID.String()),
		)
		return false, s.setStatus(ctx, app, StatusRejected)
	}

	return true, s.setStatus(ctx, app, StatusVerified)
}

// createPayment charges the application fee and records the payment.
func (s *Service) createPayment(ctx context.Context, app *Application) error {
	receipt, err := s.charger.Charge(ctx, payment.Request{
		ApplicationID: app.ID,
		AmountCents:   s.feeCents,
		Currency:      s.currency,
		Email:         app.ApplicantEmail,
	})
	if err != nil {
		return fmt.Errorf("create payment for %s: %w", app.ID, err)
	}

	s.invalidate(ctx, app.ID)
	app.PaymentID = receipt.PaymentID
	app.Status = StatusPaymentPending
	app.Touch()
	return s.store.UpdateApplication(ctx, app)
}

func (s *Service) sendEmail(ctx context.Context, app *Application, template string) error {
	msg := Email{To: app.ApplicantEmail}
	switch template {
	case EmailReceipt:
		msg.Subject = "Application fee received"
		msg.Body = fmt.Sprintf("Your payment for application %s has been received. Your application is now under review.", app.ID)
	default:
		msg.Subject = "Complete your application fee payment"
		msg.Body = fmt.Sprintf("Your application %s passed document verification. Pay the application fee to continue.", app.ID)
	}
	return s.emailer.Send(ctx, msg)
}

// ──────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────

// loadForJob reloads the application for a pipeline job. A missing
// application is permanent: retrying cannot bring the row back.
func (s *Service) loadForJob(ctx context.Context, appID id.ApplicationID) (*Application, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if errors.Is(err, portal.ErrApplicationNotFound) {
		return nil, portal.Permanent(err)
	}
	return app, err
}

// setStatus invalidates the cache entry, then writes the transition.
func (s *Service) setStatus(ctx context.Context, app *Application, status Status) error {
	s.invalidate(ctx, app.ID)
	app.Status = status
	app.Touch()
	return s.store.UpdateApplication(ctx, app)
}

func (s *Service) invalidate(ctx context.Context, appID id.ApplicationID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(appID)); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.String("application_id", appID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) enqueueTask(ctx context.Context, name string, p TaskPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("admission: encode %s payload: %w", name, err)
	}
	return s.enqueue(ctx, name, payload)
}

func (s *Service) enqueueEmail(ctx context.Context, appID id.ApplicationID, template string) error {
	payload, err := json.Marshal(EmailPayload{ApplicationID: appID, Template: template})
	if err != nil {
		return fmt.Errorf("admission: encode %s payload: %w", JobSendEmail, err)
	}
	return s.enqueue(ctx, JobSendEmail, payload)
}

func (s *Service) enqueue(ctx context.Context, name string, payload []byte) error {
	opts := job.DefaultOptions()
	if s.jobs != nil {
		if registered, ok := s.jobs.Opts(name); ok {
			opts = registered
		}
	}
	j := &job.Job{
		Entity:      portal.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       opts.Queue,
		Payload:     payload,
		State:       job.StateWaiting,
		MaxAttempts: opts.MaxAttempts,
		Timeout:     opts.Timeout,
		RunAt:       time.Now().UTC(),
	}
	return s.queue.EnqueueJob(ctx, j)
}

func cacheKey(appID id.ApplicationID) string {
	return "application:" + appID.String()
}

// flagOn reads the pattern flag from the snapshot on ctx. Without a
// snapshot every pattern is on.
func flagOn(ctx context.Context, name string) bool {
	snap, ok := flag.FromContext(ctx)
	if !ok {
		return true
	}
	return snap.Enabled(name)
}
