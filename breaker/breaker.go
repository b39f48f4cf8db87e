// Package breaker implements a per-downstream circuit breaker.
//
// A breaker is closed while calls succeed. Once it observes a threshold
// of consecutive failures it opens: every call fails fast with
// portal.ErrCircuitOpen until a cooldown elapses. The first call after
// the cooldown is admitted as a single probe (half-open); its success
// closes the breaker, its failure re-opens it with a fresh cooldown.
package breaker

import (
	"context"
	"sync"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
)

// State is the breaker state reported by Stats.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Stats is a point-in-time snapshot of a breaker, suitable for the admin
// surface.
type Stats struct {
	Name         string     `json:"name"`
	State        State      `json:"state"`
	FailureCount int        `json:"failureCount"`
	Threshold    int        `json:"threshold"`
	OpenedAt     *time.Time `json:"openedAt,omitempty"`
	RetryAt      *time.Time `json:"retryAt,omitempty"`
}

// Breaker guards calls to one downstream. It is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a closed breaker for the named downstream.
func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       func() time.Time { return time.Now().UTC() },
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn under the breaker. When the breaker is open it returns
// portal.ErrCircuitOpen without invoking fn; that rejection is never
// counted as a downstream failure. A context error from fn counts as a
// failure like any other error.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	b.record(probe, callErr)
	return callErr
}

// admit decides whether a call may proceed. It returns probe=true when
// the call is the single half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, portal.ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		return true, nil
	case StateHalfOpen:
		// Exactly one probe at a time.
		if b.probing {
			return false, portal.ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if callErr != nil {
			b.trip()
			return
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	if callErr != nil {
		b.failures++
		if b.state == StateClosed && b.failures >= b.threshold {
			b.trip()
		}
		return
	}
	b.failures = 0
}

// trip moves the breaker to open and restarts the cooldown.
// Caller holds b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.failures = b.threshold
	b.openedAt = b.now()
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failures,
		Threshold:    b.threshold,
	}
	if b.state == StateOpen {
		opened := b.openedAt
		retry := b.openedAt.Add(b.cooldown)
		s.OpenedAt = &opened
		s.RetryAt = &retry
	}
	return s
}
