package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/id"
)

// ErrProviderUnavailable is the transient failure a Simulated charger
// returns while failing. Retryable.
var ErrProviderUnavailable = errors.New("payment: provider unavailable")

// Simulated is a Charger for development and tests. It succeeds by
// default; SetFailing scripts transient outages, and any request with a
// negative amount is rejected permanently.
type Simulated struct {
	logger *slog.Logger

	mu      sync.Mutex
	failing bool
	charges int
}

// NewSimulated creates a simulated charger.
func NewSimulated(logger *slog.Logger) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulated{logger: logger}
}

// SetFailing toggles the simulated outage.
func (s *Simulated) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// Charges returns how many charges succeeded.
func (s *Simulated) Charges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.charges
}

func (s *Simulated) Charge(ctx context.Context, req Request) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.AmountCents < 0 {
		return nil, portal.Permanent(fmt.Errorf("payment: invalid amount %d", req.AmountCents))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, ErrProviderUnavailable
	}
	s.charges++

	pid := id.NewPaymentID()
	s.logger.Info("simulated charge created",
		slog.String("payment_id", pid.String()),
		slog.String("application_id", req.ApplicationID.String()),
		slog.Int64("amount_cents", req.AmountCents),
	)

	return &Receipt{
		PaymentID:   pid,
		Provider:    "simulated",
		CheckoutURL: fmt.Sprintf("https://pay.example.com/checkout/%s", pid),
		CreatedAt:   time.Now().UTC(),
	}, nil
}
