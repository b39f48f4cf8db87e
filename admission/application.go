// Package admission is the business domain of the portal: university
// applications moving from submission through document verification and
// payment to review.
package admission

import (
	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/id"
)

// Status is the lifecycle state of an application.
type Status string

const (
	// StatusReceived means the application has been accepted for
	// processing but nothing has run yet.
	StatusReceived Status = "received"
	// StatusVerifying means document verification is in progress.
	StatusVerifying Status = "verifying"
	// StatusVerified means documents passed verification.
	StatusVerified Status = "verified"
	// StatusPaymentPending means a payment has been created and awaits
	// the applicant.
	StatusPaymentPending Status = "payment_pending"
	// StatusPaid means the application fee has been settled.
	StatusPaid Status = "paid"
	// StatusUnderReview means the application reached the admissions
	// committee.
	StatusUnderReview Status = "under_review"
	// StatusRejected means the application failed verification.
	StatusRejected Status = "rejected"
)

// Application is one admission application.
type Application struct {
	portal.Entity

	ID                id.ApplicationID `json:"id"`
	ApplicantEmail    string           `json:"applicant_email"`
	Program           string           `json:"program"`
	PersonalStatement string           `json:"personal_statement"`
	Status            Status           `json:"status"`
	PaymentID         id.PaymentID     `json:"payment_id,omitempty"`
}

// SubmitInput is the caller-provided part of an application.
type SubmitInput struct {
	ApplicantEmail    string `json:"applicantEmail"`
	Program           string `json:"program"`
	PersonalStatement string `json:"personalStatement"`
}

// Validate checks the input before any state is written.
func (in SubmitInput) Validate() error {
	if in.ApplicantEmail == "" {
		return portal.Validationf("applicantEmail", "must not be empty")
	}
	if in.Program == "" {
		return portal.Validationf("program", "must not be empty")
	}
	return nil
}

// NewApplication builds a fresh application in the received state.
func NewApplication(in SubmitInput) *Application {
	return &Application{
		Entity:            portal.NewEntity(),
		ID:                id.NewApplicationID(),
		ApplicantEmail:    in.ApplicantEmail,
		Program:           in.Program,
		PersonalStatement: in.PersonalStatement,
		Status:            StatusReceived,
	}
}
