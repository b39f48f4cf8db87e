// Package store defines the aggregate persistence interface. Each
// subsystem (flag, idempotency, outbox, job, dlq, admission) defines its
// own store interface; the composite Store composes them all. Backends:
// Postgres and Memory.
package store

import (
	"context"

	"github.com/huytu0702/university-admission-portal-sub001/admission"
	"github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/flag"
	"github.com/huytu0702/university-admission-portal-sub001/idempotency"
	"github.com/huytu0702/university-admission-portal-sub001/job"
	"github.com/huytu0702/university-admission-portal-sub001/outbox"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem stores, so the application-plus-outbox write
// can be one transaction inside the backend.
type Store interface {
	flag.Store
	idempotency.Store
	outbox.Store
	job.Store
	dlq.Store
	admission.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
