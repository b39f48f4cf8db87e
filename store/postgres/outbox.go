package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/outbox"
)

// PendingMessages returns up to limit unpublished messages in creation
// order.
func (s *Store) PendingMessages(ctx context.Context, limit int) ([]*outbox.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, payload, correlation_id, job_id, created_at, published_at
		FROM portal_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("portal/postgres: pending messages: %w", err)
	}
	defer rows.Close()

	var msgs []*outbox.Message
	for rows.Next() {
		m, scanErr := scanMessage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("portal/postgres: scan outbox row: %w", scanErr)
		}
		msgs = append(msgs, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("portal/postgres: iterate outbox rows: %w", err)
	}
	return msgs, nil
}

// MarkPublished stamps the message as handed to the queue. COALESCE
// keeps the first stamp, so marking an already-published message is a
// no-op and the timestamp is never rewritten.
func (s *Store) MarkPublished(ctx context.Context, msgID id.MessageID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE portal_outbox
		SET published_at = COALESCE(published_at, NOW())
		WHERE id = $1`,
		msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("portal/postgres: mark published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return portal.ErrMessageNotFound
	}
	return nil
}

// insertMessage appends one outbox row inside the given transaction. The
// only caller is SubmitApplication; outbox writes never happen outside
// the business transaction.
func insertMessage(ctx context.Context, tx pgx.Tx, m *outbox.Message) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO portal_outbox (id, event_type, payload, correlation_id, job_id, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID.String(), m.EventType, m.Payload, m.CorrelationID, m.JobID.String(),
		m.CreatedAt, m.PublishedAt,
	)
	return err
}

// scanMessage scans a single outbox message row.
func scanMessage(row pgx.Row) (*outbox.Message, error) {
	var (
		m        outbox.Message
		idStr    string
		jobIDStr string
	)
	err := row.Scan(&idStr, &m.EventType, &m.Payload, &m.CorrelationID, &jobIDStr, &m.CreatedAt, &m.PublishedAt)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseMessageID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("portal/postgres: parse message id %q: %w", idStr, parseErr)
	}
	m.ID = parsedID

	parsedJobID, jobParseErr := id.ParseJobID(jobIDStr)
	if jobParseErr != nil {
		return nil, fmt.Errorf("portal/postgres: parse job id %q: %w", jobIDStr, jobParseErr)
	}
	m.JobID = parsedJobID

	return &m, nil
}
