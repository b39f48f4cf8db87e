package portal

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("portal: no store configured")
	ErrStoreClosed = errors.New("portal: store closed")

	// Not found errors.
	ErrApplicationNotFound = errors.New("portal: application not found")
	ErrJobNotFound         = errors.New("portal: job not found")
	ErrDLQNotFound         = errors.New("portal: dlq entry not found")
	ErrFlagNotFound        = errors.New("portal: feature flag not found")
	ErrMessageNotFound     = errors.New("portal: outbox message not found")

	// Conflict errors.
	ErrJobAlreadyExists         = errors.New("portal: job already exists")
	ErrApplicationAlreadyExists = errors.New("portal: application already exists")

	// Idempotency errors. ErrRequestInFlight is the documented policy for
	// concurrent callers sharing a key: fail fast with a conflict rather
	// than block behind the first caller.
	ErrRequestInFlight = errors.New("portal: request with this idempotency key is in flight")
	ErrKeyReused       = errors.New("portal: idempotency key reused with a different request")

	// ErrCircuitOpen is raised when a circuit breaker fails fast without
	// invoking the downstream. Surfaced to HTTP as 503 and never counted
	// as a downstream failure.
	ErrCircuitOpen = errors.New("portal: circuit open")

	// ErrCacheMiss is returned by cache backends for an absent key.
	ErrCacheMiss = errors.New("portal: cache miss")
)

// ValidationError marks caller input as invalid. It is surfaced
// immediately and never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Msg)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Validationf builds a *ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PermanentError marks a job failure that must not be retried: the job
// goes straight to the DLQ without exhausting its retry budget
// (e.g. a malformed payload).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the executor dead-letters it immediately.
// Wrapping nil returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is (or wraps) a *PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
