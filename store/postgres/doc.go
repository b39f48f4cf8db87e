// Package postgres provides a PostgreSQL implementation of the portal
// store backed by pgx/v5.
//
// It uses pgxpool for connection pooling, SELECT FOR UPDATE SKIP LOCKED
// for concurrent-safe job dequeue, and a real transaction for the
// application-plus-outbox write so the two are atomic.
package postgres
