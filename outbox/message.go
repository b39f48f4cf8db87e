// Package outbox implements the transactional outbox pattern: domain
// events are persisted in the same atomic transaction as the business
// write, then relayed to the job queue by a background polling loop.
//
// A message with PublishedAt == nil has never been durably handed to the
// queue. Once the relay confirms the enqueue it marks the message
// published — an idempotent transition that is never reverted. Delivery
// is at-least-once; consumers tolerate duplicates (the relay pre-assigns
// each message its job ID, so a crash between enqueue and mark-published
// resolves as a duplicate-job no-op on the next pass).
package outbox

import (
	"time"

	"github.com/google/uuid"

	"github.com/huytu0702/university-admission-portal-sub001/id"
)

// Message is one outbox row.
type Message struct {
	ID            id.MessageID `json:"id"`
	EventType     string       `json:"event_type"`
	Payload       []byte       `json:"payload"`
	CorrelationID string       `json:"correlation_id"`
	JobID         id.JobID     `json:"job_id"`
	CreatedAt     time.Time    `json:"created_at"`
	PublishedAt   *time.Time   `json:"published_at,omitempty"`
}

// NewMessage builds an unpublished message for the given event. The job
// ID the relay will enqueue under is assigned here, once, so every relay
// attempt for this message targets the same job.
func NewMessage(eventType string, payload []byte) *Message {
	return &Message{
		ID:            id.NewMessageID(),
		EventType:     eventType,
		Payload:       payload,
		CorrelationID: uuid.NewString(),
		JobID:         id.NewJobID(),
		CreatedAt:     time.Now().UTC(),
	}
}

// Published reports whether the message has been handed to the queue.
func (m *Message) Published() bool { return m.PublishedAt != nil }
