package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/admission"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/outbox"
)

// SubmitApplication writes the application and appends the given outbox
// messages in one transaction. Either everything is visible afterwards
// or nothing is.
func (s *Store) SubmitApplication(ctx context.Context, app *admission.Application, msgs []*outbox.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("portal/postgres: submit application: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO portal_applications (
			id, applicant_email, program, personal_statement, status, payment_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		app.ID.String(), app.ApplicantEmail, app.Program, app.PersonalStatement,
		string(app.Status), app.PaymentID.String(),
		app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return portal.ErrApplicationAlreadyExists
		}
		return fmt.Errorf("portal/postgres: submit application: insert: %w", err)
	}

	for _, m := range msgs {
		if err = insertMessage(ctx, tx, m); err != nil {
			if isDuplicateKey(err) {
				return portal.ErrJobAlreadyExists
			}
			return fmt.Errorf("portal/postgres: submit application: insert outbox message: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("portal/postgres: submit application: commit: %w", err)
	}
	return nil
}

// GetApplication retrieves an application by ID.
func (s *Store) GetApplication(ctx context.Context, appID id.ApplicationID) (*admission.Application, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, applicant_email, program, personal_statement, status, payment_id,
			created_at, updated_at
		FROM portal_applications
		WHERE id = $1`,
		appID.String(),
	)

	app, err := scanApplication(row)
	if err != nil {
		if isNoRows(err) {
			return nil, portal.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("portal/postgres: get application: %w", err)
	}
	return app, nil
}

// UpdateApplication persists changes to an existing application.
func (s *Store) UpdateApplication(ctx context.Context, app *admission.Application) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE portal_applications SET
			applicant_email = $2, program = $3, personal_statement = $4,
			status = $5, payment_id = $6,
			updated_at = NOW()
		WHERE id = $1`,
		app.ID.String(), app.ApplicantEmail, app.Program, app.PersonalStatement,
		string(app.Status), app.PaymentID.String(),
	)
	if err != nil {
		return fmt.Errorf("portal/postgres: update application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return portal.ErrApplicationNotFound
	}
	return nil
}

// CountApplications returns the total number of stored applications.
func (s *Store) CountApplications(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM portal_applications`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("portal/postgres: count applications: %w", err)
	}
	return count, nil
}

// scanApplication scans a single application row.
func scanApplication(row pgx.Row) (*admission.Application, error) {
	var (
		app          admission.Application
		idStr        string
		statusStr    string
		paymentIDStr string
	)
	err := row.Scan(
		&idStr, &app.ApplicantEmail, &app.Program, &app.PersonalStatement,
		&statusStr, &paymentIDStr,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.Status = admission.Status(statusStr)

	parsedID, parseErr := id.ParseApplicationID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("portal/postgres: parse application id %q: %w", idStr, parseErr)
	}
	app.ID = parsedID

	if paymentIDStr != "" {
		parsedPayment, paymentErr := id.ParsePaymentID(paymentIDStr)
		if paymentErr == nil {
			app.PaymentID = parsedPayment
		}
	}

	return &app, nil
}
