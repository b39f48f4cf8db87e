// Package payment defines the narrow interface to the external payment
// provider. The portal never talks to a real provider directly; the
// circuit breaker decorates a Charger at wiring time.
package payment

import (
	"context"
	"time"

	"github.com/huytu0702/university-admission-portal-sub001/id"
)

// Request asks the provider to create a charge for one application fee.
type Request struct {
	ApplicationID id.ApplicationID `json:"application_id"`
	AmountCents   int64            `json:"amount_cents"`
	Currency      string           `json:"currency"`
	Email         string           `json:"email"`
}

// Receipt is the provider's answer to a successful charge creation.
type Receipt struct {
	PaymentID   id.PaymentID `json:"payment_id"`
	Provider    string       `json:"provider"`
	CheckoutURL string       `json:"checkout_url"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Charger creates charges against the payment provider.
type Charger interface {
	Charge(ctx context.Context, req Request) (*Receipt, error)
}

// ChargerFunc adapts a function to the Charger interface.
type ChargerFunc func(ctx context.Context, req Request) (*Receipt, error)

func (f ChargerFunc) Charge(ctx context.Context, req Request) (*Receipt, error) {
	return f(ctx, req)
}
