package payment_test

import (
	"context"
	"errors"
	"testing"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/payment"
)

func TestSimulated_Charge(t *testing.T) {
	c := payment.NewSimulated(nil)

	receipt, err := c.Charge(context.Background(), payment.Request{
		ApplicationID: id.NewApplicationID(),
		AmountCents:   5000,
		Currency:      "USD",
		Email:         "applicant@example.com",
	})
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if receipt.PaymentID.IsNil() {
		t.Error("PaymentID not assigned")
	}
	if receipt.Provider != "simulated" {
		t.Errorf("Provider = %q", receipt.Provider)
	}
	if receipt.CheckoutURL == "" {
		t.Error("CheckoutURL empty")
	}
	if c.Charges() != 1 {
		t.Errorf("Charges = %d, want 1", c.Charges())
	}
}

func TestSimulated_FailingIsTransient(t *testing.T) {
	c := payment.NewSimulated(nil)
	c.SetFailing(true)

	_, err := c.Charge(context.Background(), payment.Request{AmountCents: 100})
	if !errors.Is(err, payment.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if portal.IsPermanent(err) {
		t.Error("transient outage classified as permanent")
	}

	c.SetFailing(false)
	if _, err := c.Charge(context.Background(), payment.Request{AmountCents: 100}); err != nil {
		t.Fatalf("Charge after recovery: %v", err)
	}
}

func TestSimulated_NegativeAmountIsPermanent(t *testing.T) {
	c := payment.NewSimulated(nil)

	_, err := c.Charge(context.Background(), payment.Request{AmountCents: -1})
	if err == nil {
		t.Fatal("expected error for negative amount")
	}
	if !portal.IsPermanent(err) {
		t.Errorf("err = %v, want permanent classification", err)
	}
	if c.Charges() != 0 {
		t.Errorf("Charges = %d, want 0", c.Charges())
	}
}
